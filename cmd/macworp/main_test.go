package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/macworp/macworp-client/pkg/protocol"
)

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/login-providers", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"database":{"default":"Local account"},"openid":{"dev":"OpenID"}}`)
	})
	mux.HandleFunc("POST /api/users/login/database/default", func(w http.ResponseWriter, r *http.Request) {
		var req protocol.LoginRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.LoginID != "alice" || req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"jwt":"jwt-alice"}`)
	})
	mux.HandleFunc("GET /api/users/logged-in", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(protocol.AccessTokenHeader) == "" {
			w.WriteHeader(http.StatusUnauthorized)
		}
	})
	mux.HandleFunc("GET /api/users/one-time-use-token", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"token":"ott"}`)
	})
	mux.HandleFunc("GET /api/projects/4/files", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"folders":["logs"],"files":["report.html"]}`)
	})
	mux.HandleFunc("GET /api/projects/4/file-size", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"size":2000000}`)
	})
	mux.HandleFunc("GET /api/projects/4/download", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>report</html>")
	})
	mux.HandleFunc("GET /api/projects/5/download", func(w http.ResponseWriter, r *http.Request) {
		// Declares more than it sends, the connection ends early.
		w.Header().Set("Content-Length", "4096")
		io.WriteString(w, "partial")
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func run(t *testing.T, fs afero.Fs, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := &app{
		in:     strings.NewReader(stdin),
		out:    &out,
		errOut: &errOut,
		fs:     fs,
	}
	cmd := newRootCmd(a)
	cmd.SetArgs(append(args, "--env-file", "/nonexistent/.env", "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func setEnv(t *testing.T, backend string) {
	t.Setenv("MACWORP_BACKEND_BASE_URL", backend)
	t.Setenv("MACWORP_BACKEND_WS_URL", backend)
	t.Setenv("MACWORP_SESSION_FILE", "/home/alice/.config/macworp/session.json")
	t.Setenv("MACWORP_RENDER_MAX_FILE_SIZE", "1048576")
}

func TestLoginLsDownloadLogout(t *testing.T) {
	ts := fakeBackend(t)
	setEnv(t, ts.URL)
	fs := afero.NewMemMapFs()

	out, err := run(t, fs, "secret\n", "login", "--login-id", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as alice")

	data, err := afero.ReadFile(fs, "/home/alice/.config/macworp/session.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), "jwt-alice")

	out, err = run(t, fs, "", "ls", "4", "/", "--output", "yaml")
	require.NoError(t, err)
	var listing protocol.DirectoryListing
	require.NoError(t, yaml.Unmarshal([]byte(out), &listing))
	assert.Equal(t, "/", listing.Path)
	assert.Equal(t, []string{"report.html"}, listing.Files)

	out, err = run(t, fs, "", "download", "4", "/results/report.html", "-f", "/tmp/r.html", "--progress=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved /tmp/r.html")
	saved, err := afero.ReadFile(fs, "/tmp/r.html")
	require.NoError(t, err)
	assert.Equal(t, "<html>report</html>", string(saved))

	_, err = run(t, fs, "", "logout")
	require.NoError(t, err)
	exists, _ := afero.Exists(fs, "/home/alice/.config/macworp/session.json")
	assert.False(t, exists)

	_, err = run(t, fs, "", "ls", "4")
	assert.ErrorIs(t, err, errLoginRequired)
}

func TestDownloadRemovesPartialFile(t *testing.T) {
	ts := fakeBackend(t)
	setEnv(t, ts.URL)
	fs := afero.NewMemMapFs()

	_, err := run(t, fs, "secret\n", "login", "--login-id", "alice")
	require.NoError(t, err)

	_, err = run(t, fs, "", "download", "5", "/results/aligned.bam", "-f", "/tmp/aligned.bam", "--progress=false")
	require.Error(t, err)
	exists, _ := afero.Exists(fs, "/tmp/aligned.bam")
	assert.False(t, exists, "truncated download must not be left behind")
}

func TestCatTooLarge(t *testing.T) {
	ts := fakeBackend(t)
	setEnv(t, ts.URL)
	fs := afero.NewMemMapFs()

	_, err := run(t, fs, "secret\n", "login", "--login-id", "alice")
	require.NoError(t, err)

	_, err = run(t, fs, "", "cat", "4", "/results/report.html")
	require.Error(t, err)
	assert.Equal(t, "Filesize too large to display. Please download the file instead.", err.Error())
}

func TestLoginFailure(t *testing.T) {
	ts := fakeBackend(t)
	setEnv(t, ts.URL)

	_, err := run(t, afero.NewMemMapFs(), "wrong\n", "login", "--login-id", "alice")
	assert.Error(t, err)
}

func TestProviders(t *testing.T) {
	ts := fakeBackend(t)
	setEnv(t, ts.URL)

	out, err := run(t, afero.NewMemMapFs(), "", "providers")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "database"))
	assert.True(t, strings.HasPrefix(lines[1], "openid"))
}

func TestPing(t *testing.T) {
	ts := fakeBackend(t)
	setEnv(t, ts.URL)

	out, err := run(t, afero.NewMemMapFs(), "", "ping")
	require.NoError(t, err)
	assert.Contains(t, out, "reachable")
}

func TestInvalidConfig(t *testing.T) {
	setEnv(t, "ftp://nowhere")

	_, err := run(t, afero.NewMemMapFs(), "", "ping")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MACWORP_BACKEND_BASE_URL")
}

func TestInvalidProject(t *testing.T) {
	ts := fakeBackend(t)
	setEnv(t, ts.URL)

	_, err := run(t, afero.NewMemMapFs(), "", "ls", "abc")
	assert.Error(t, err)
}

func TestWhoamiReportsExpiredToken(t *testing.T) {
	ts := fakeBackend(t)
	setEnv(t, ts.URL)
	fs := afero.NewMemMapFs()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("test"))
	require.NoError(t, err)
	data, err := json.Marshal(map[string]string{"token": token})
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/home/alice/.config/macworp/session.json", data, 0600))

	out, err := run(t, fs, "", "whoami", "--output", "yaml")
	require.NoError(t, err)

	var info whoamiInfo
	require.NoError(t, yaml.Unmarshal([]byte(out), &info))
	assert.Equal(t, "alice", info.Subject)
	assert.Equal(t, "valid", info.Session)
	assert.True(t, info.Expired)
}
