// Package protocol defines the backend API request/response types.
package protocol

import (
	"encoding/json"
	"fmt"
)

// AccessTokenHeader carries the session token on authenticated requests.
const AccessTokenHeader = "x-access-token"

// Response headers set by the download endpoint when with-metadata is requested.
const (
	MetadataHeaderHeader      = "MMD-Header"
	MetadataDescriptionHeader = "MMD-Description"
)

// OneTimeTokenResponse is returned by GET /api/users/one-time-use-token.
type OneTimeTokenResponse struct {
	Token string `json:"token"`
}

// FileSizeResponse is returned by GET /api/projects/{id}/file-size.
// Some backend versions answer with a bare integer; both are accepted.
type FileSizeResponse struct {
	Size int64 `json:"size"`
}

// UnmarshalJSON accepts `{"size": n}` as well as `n`.
func (r *FileSizeResponse) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		r.Size = n
		return nil
	}
	var obj struct {
		Size *int64 `json:"size"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Size == nil {
		return fmt.Errorf("file size response without size")
	}
	r.Size = *obj.Size
	return nil
}

// MetadataResponse is returned by GET /api/projects/{id}/metadata.
type MetadataResponse struct {
	Header      string `json:"header"`
	Description string `json:"description"`
}

// DirectoryListing is returned by GET /api/projects/{id}/files.
type DirectoryListing struct {
	Path    string   `json:"path,omitempty"`
	Folders []string `json:"folders"`
	Files   []string `json:"files"`
}

// LoginRequest is the body for POST /api/users/login/{provider_type}/{provider}.
type LoginRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful credentials login.
type LoginResponse struct {
	JWT string `json:"jwt"`
}

// LoginProviders maps provider type to provider name to description,
// as returned by GET /api/users/login-providers.
type LoginProviders map[string]map[string]string

// ErrorBody is the structured error body used by the backend:
// {"errors": {"general": "..."}}.
type ErrorBody struct {
	Errors map[string]json.RawMessage `json:"errors"`
}

// General returns errors.general as text, if present.
func (b ErrorBody) General() (string, bool) {
	raw, ok := b.Errors["general"]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}
