package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /projects/{id}/files", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := Middleware(mux)

	c := gatewayRequests.WithLabelValues("GET", "GET /projects/{id}/files", "404")
	before := testutil.ToFloat64(c)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/projects/7/files", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/projects/8/files", nil))

	if got := testutil.ToFloat64(c) - before; got != 2 {
		t.Errorf("expected both project ids under one route, got delta %v", got)
	}
}

func TestMiddlewareUnmatchedRoute(t *testing.T) {
	h := Middleware(http.NewServeMux())

	c := gatewayRequests.WithLabelValues("GET", "unmatched", "404")
	before := testutil.ToFloat64(c)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nope", nil))

	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestRecordRetrieval(t *testing.T) {
	c := retrievals.WithLabelValues("render", "filesize_too_large")
	before := testutil.ToFloat64(c)
	RecordRetrieval("render", "filesize_too_large")
	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestAddBytesDownloadedIgnoresEmpty(t *testing.T) {
	before := testutil.ToFloat64(downloadedBytes)
	AddBytesDownloaded(0)
	AddBytesDownloaded(-3)
	AddBytesDownloaded(512)
	if got := testutil.ToFloat64(downloadedBytes) - before; got != 512 {
		t.Errorf("expected 512, got %v", got)
	}
}

func TestSocketGauge(t *testing.T) {
	before := testutil.ToFloat64(openSockets)
	SocketOpened()
	SocketOpened()
	SocketClosed()
	if got := testutil.ToFloat64(openSockets) - before; got != 1 {
		t.Errorf("expected gauge delta 1, got %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordSurfacedError()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "macworp_surfaced_errors_total") {
		t.Error("expected surfaced errors counter in exposition")
	}
}
