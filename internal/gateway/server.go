// Package gateway serves the client operations to a local browser.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"

	"go.uber.org/zap"

	"github.com/macworp/macworp-client/internal/guard"
	"github.com/macworp/macworp-client/internal/logging"
	"github.com/macworp/macworp-client/internal/metrics"
	"github.com/macworp/macworp-client/pkg/browser"
	"github.com/macworp/macworp-client/pkg/client"
	"github.com/macworp/macworp-client/pkg/errlog"
	"github.com/macworp/macworp-client/pkg/protocol"
	"github.com/macworp/macworp-client/pkg/retrieval"
)

// Server is the browser-facing HTTP gateway.
type Server struct {
	client    *client.Client
	retriever *retrieval.Retriever
	errs      *errlog.Log
	guard     *guard.Guard
}

// NewServer creates a new gateway.
func NewServer(c *client.Client, r *retrieval.Retriever, errs *errlog.Log, g *guard.Guard) *Server {
	return &Server{
		client:    c,
		retriever: r,
		errs:      errs,
		guard:     g,
	}
}

// errorResponse is the body of every gateway error.
type errorResponse struct {
	Error  string `json:"error"`
	Code   int    `json:"code"`
	Status string `json:"status,omitempty"`
}

// loginRequest is the body of POST /login.
type loginRequest struct {
	ProviderType string `json:"provider_type"`
	Provider     string `json:"provider"`
	LoginID      string `json:"login_id"`
	Password     string `json:"password"`
}

// urlResponse is the body of GET /projects/{id}/url.
type urlResponse struct {
	URL         string `json:"url"`
	Header      string `json:"header"`
	Description string `json:"description"`
	Size        int64  `json:"size"`
	Status      string `json:"status"`
}

// Handler returns the gateway handler with logging, metrics and the route
// guard applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /login", s.handleLoginProviders)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.HandleFunc("GET /projects/{id}/files", s.handleFiles)
	mux.HandleFunc("GET /projects/{id}/render", s.handleRender)
	mux.HandleFunc("GET /projects/{id}/url", s.handleURL)
	mux.HandleFunc("GET /projects/{id}/download", s.handleDownload)

	mux.HandleFunc("GET /errors", s.handleListErrors)
	mux.HandleFunc("DELETE /errors/{idx}", s.handleRemoveError)

	// metrics reads the route pattern the mux sets on the same request,
	// so nothing between it and the mux may replace the request.
	return logging.Middleware(metrics.Middleware(s.guard.Middleware(mux)))
}

// Run serves the gateway on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		logging.Info("shutting down gateway...")
		httpServer.Close()
	}()

	logging.Info("gateway listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ─── Session ────────────────────────────────────────────────────────────────

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLoginProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.client.LoginProviders(r.Context())
	if err != nil {
		s.sendBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid login request")
		return
	}
	if req.ProviderType == "" || req.Provider == "" {
		sendError(w, http.StatusBadRequest, "provider_type and provider required")
		return
	}

	if err := s.client.Login(r.Context(), req.ProviderType, req.Provider, req.LoginID, req.Password); err != nil {
		s.sendBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_in"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Logout(); err != nil {
		logging.WithContext(r.Context()).Error("logout failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Project files ──────────────────────────────────────────────────────────

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	nav := browser.NewNavigator(s.client, projectID, s.errs)
	nav.MoveTo(r.URL.Query().Get("dir"))
	if err := nav.Refresh(r.Context()); err != nil {
		s.sendBackendError(w, r, err)
		return
	}

	folders, files := nav.Listing()
	writeJSON(w, http.StatusOK, protocol.DirectoryListing{
		Path:    nav.Dir(),
		Folders: nonNil(folders),
		Files:   nonNil(files),
	})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	projectID, filePath, ok := fileParams(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	opts := retrieval.Options{
		WithMetadata: q.Get("metadata") == "1",
		Table:        q.Get("table") == "1",
	}

	tr := retrieval.NewTracker()
	res, err := s.retriever.RetrieveForRender(r.Context(), tr, projectID, filePath, opts)
	if err != nil {
		s.sendRetrievalError(w, r, tr.Status(), err)
		return
	}
	defer res.Body.Close()

	if opts.WithMetadata {
		w.Header().Set(protocol.MetadataHeaderHeader, res.Header)
		w.Header().Set(protocol.MetadataDescriptionHeader, res.Description)
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("X-Retrieval-Status", string(tr.Status()))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, res.Body); err != nil {
		logging.WithContext(r.Context()).Warn("render stream interrupted", zap.Error(err))
	}
}

func (s *Server) handleURL(w http.ResponseWriter, r *http.Request) {
	projectID, filePath, ok := fileParams(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	opts := retrieval.Options{
		WithMetadata: q.Get("metadata") == "1",
		Table:        q.Get("table") == "1",
	}

	tr := retrieval.NewTracker()
	res, err := s.retriever.ResolveURLForRender(r.Context(), tr, projectID, filePath, opts)
	if err != nil {
		s.sendRetrievalError(w, r, tr.Status(), err)
		return
	}
	writeJSON(w, http.StatusOK, urlResponse{
		URL:         res.URL,
		Header:      res.Header,
		Description: res.Description,
		Size:        res.Size,
		Status:      string(res.Status),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	projectID, filePath, ok := fileParams(w, r)
	if !ok {
		return
	}

	tr := retrieval.NewTracker()
	res, err := s.retriever.Download(r.Context(), tr, projectID, filePath)
	if err != nil {
		s.sendRetrievalError(w, r, tr.Status(), err)
		return
	}
	defer res.Body.Close()

	contentType := res.DeclaredType
	if contentType == "" {
		contentType = res.ContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(path.Base(filePath)))
	if res.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, res.Body); err != nil {
		logging.WithContext(r.Context()).Warn("download stream interrupted", zap.Error(err))
	}
}

// ─── Errors ─────────────────────────────────────────────────────────────────

func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.errs.List())
}

func (s *Server) handleRemoveError(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("idx"))
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid error index")
		return
	}
	if err := s.errs.Remove(idx); err != nil {
		sendError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func projectIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		sendError(w, http.StatusBadRequest, "invalid project id")
		return 0, false
	}
	return id, true
}

func fileParams(w http.ResponseWriter, r *http.Request) (int, string, bool) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return 0, "", false
	}
	p := r.URL.Query().Get("path")
	if p == "" {
		sendError(w, http.StatusBadRequest, "file path required")
		return 0, "", false
	}
	return id, p, true
}

// sendRetrievalError maps the terminal status of a failed retrieval to an
// HTTP answer. The status message is what the browser shows.
func (s *Server) sendRetrievalError(w http.ResponseWriter, r *http.Request, status retrieval.Status, err error) {
	switch {
	case errors.Is(err, retrieval.ErrFileTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
			Error:  status.Message(),
			Code:   http.StatusRequestEntityTooLarge,
			Status: string(status),
		})
	case status == retrieval.StatusNotFound:
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error:  status.Message(),
			Code:   http.StatusNotFound,
			Status: string(status),
		})
	default:
		s.sendBackendError(w, r, err)
	}
}

// sendBackendError answers a failed backend call. Auth failures become 401
// so the browser returns to the login; the rest is a bad gateway.
func (s *Server) sendBackendError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, client.ErrNotLoggedIn), errors.Is(err, client.ErrAuthExpired):
		sendError(w, http.StatusUnauthorized, err.Error())
	case client.IsNotFound(err):
		sendError(w, http.StatusNotFound, err.Error())
	default:
		logging.WithContext(r.Context()).Warn("backend call failed", zap.Error(err))
		if ae, ok := client.AsAPIError(err); ok && ae.StatusCode < 500 {
			sendError(w, ae.StatusCode, ae.Description)
			return
		}
		sendError(w, http.StatusBadGateway, err.Error())
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message, Code: code})
}
