package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/macworp/macworp-client/pkg/protocol"
)

var (
	// ErrNotLoggedIn is returned before any network call when no session token is present.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrAuthExpired matches any 401 answer; the session has been cleared.
	ErrAuthExpired = errors.New("session expired")
	// ErrNotFound matches any 404 answer.
	ErrNotFound = errors.New("not found")
	// ErrUnexpectedStatus marks an answer the protocol has no rule for.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// unparseableDescription is used when the error body cannot be read at all.
const unparseableDescription = "Can not parse response."

// maxErrorBody bounds how much of an error body is kept.
const maxErrorBody = 64 << 10

// APIError is a non-successful backend answer.
type APIError struct {
	StatusCode  int
	Status      string // reason phrase, e.g. "Not Found"
	Date        time.Time
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" || e.Description == e.Status {
		return e.Title()
	}
	return e.Title() + ": " + e.Description
}

// Title is the one-line summary shown to users.
func (e *APIError) Title() string {
	return fmt.Sprintf("API responded with %d - %s", e.StatusCode, e.Status)
}

// Is lets errors.Is match the status sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthExpired:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// AsAPIError checks if an error is an APIError and returns it.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// newAPIError captures status, date and a readable description of resp.
// The description is errors.general of a structured JSON body, else the
// JSON body itself, else the raw text.
func newAPIError(resp *http.Response) *APIError {
	e := &APIError{
		StatusCode: resp.StatusCode,
		Status:     statusText(resp),
		Date:       responseDate(resp),
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		e.Description = unparseableDescription
		return e
	}
	e.Description = describeBody(data, e.Status)
	return e
}

func describeBody(data []byte, fallback string) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fallback
	}

	if json.Valid(trimmed) {
		var eb protocol.ErrorBody
		if json.Unmarshal(trimmed, &eb) == nil {
			if general, ok := eb.General(); ok {
				return general
			}
		}
		var compact bytes.Buffer
		if json.Compact(&compact, trimmed) == nil {
			return compact.String()
		}
		return string(trimmed)
	}
	return string(trimmed)
}

func statusText(resp *http.Response) string {
	if text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); text != "" && text != resp.Status {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// responseDate returns the Date header of resp, or now.
func responseDate(resp *http.Response) time.Time {
	if d := resp.Header.Get("Date"); d != "" {
		if t, err := http.ParseTime(d); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
