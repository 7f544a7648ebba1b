// Package session holds the current bearer token and persists it across restarts.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"
)

// StorageKey is the JSON key under which the token is persisted.
const StorageKey = "token"

// sessionFile is the persisted form of the session.
type sessionFile struct {
	Token   string    `json:"token"`
	Server  string    `json:"server,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// Store holds the session token in memory and mirrors every change to a
// file, so a restarted process observes the same session.
//
// Store is safe for concurrent use. Readers get the token as of the call;
// a later Set or Clear does not affect requests already built.
type Store struct {
	fs     afero.Fs
	path   string
	server string

	mu     sync.RWMutex
	token  string
	loaded bool
}

// DefaultPath returns $XDG_CONFIG_HOME/macworp/session.json.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "macworp", "session.json")
}

// NewStore creates a store persisting to path on fs. server is recorded
// alongside the token for display only.
func NewStore(fs afero.Fs, path, server string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{fs: fs, path: path, server: server}
}

// Path returns the location of the persisted session.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted session into memory. A missing file means an
// anonymous session. Load is idempotent; only the first call reads the file.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}

	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parse session %s: %w", s.path, err)
	}
	s.token = sf.Token
	s.loaded = true
	return nil
}

// Get returns the current token and whether one is present.
func (s *Store) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Set replaces the token in memory and on disk before returning.
func (s *Store) Set(token string) error {
	if token == "" {
		return s.Clear()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(sessionFile{
		Token:   token,
		Server:  s.server,
		SavedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	s.token = token
	s.loaded = true
	return nil
}

// Clear removes the persisted copy and then drops the token in memory. If
// the file cannot be removed the session stays as it was.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked()
}

// ClearIf clears the session only while it still holds token. A request
// answered with 401 clears the token it was sent with, never a newer one.
func (s *Store) ClearIf(token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" || s.token != token {
		return false, nil
	}
	if err := s.clearLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) clearLocked() error {
	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	s.token = ""
	s.loaded = true
	return nil
}
