package retrieval

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the observable state of a tracker.
type Snapshot struct {
	AttemptID   string    `json:"attempt_id,omitempty" yaml:"attempt_id,omitempty"`
	Generation  uint64    `json:"generation" yaml:"generation"`
	Path        string    `json:"path" yaml:"path"`
	Status      Status    `json:"status" yaml:"status"`
	Header      string    `json:"header" yaml:"header"`
	Description string    `json:"description" yaml:"description"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
}

// Tracker holds the retrieval status of one UI element.
type Tracker struct {
	mu    sync.Mutex
	gen   uint64
	state Snapshot
}

// NewTracker creates a tracker with no attempt.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin starts a new attempt for path. Earlier attempts become stale and
// can no longer write. The status is fetching and the header defaults to
// the path.
func (t *Tracker) Begin(path string) *Attempt {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	a := &Attempt{
		ID:         uuid.NewString(),
		Generation: t.gen,
		Path:       path,
		tracker:    t,
	}
	t.state = Snapshot{
		AttemptID:  a.ID,
		Generation: a.Generation,
		Path:       path,
		Status:     StatusFetching,
		Header:     path,
		StartedAt:  time.Now(),
	}
	return a
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Status returns the current status, empty before the first attempt.
func (t *Tracker) Status() Status {
	return t.Snapshot().Status
}

// Attempt is one execution of a retrieval for a path.
type Attempt struct {
	ID         string
	Generation uint64
	Path       string

	tracker *Tracker
}

// Current reports whether a is still the tracker's latest attempt.
func (a *Attempt) Current() bool {
	a.tracker.mu.Lock()
	defer a.tracker.mu.Unlock()
	return a.tracker.gen == a.Generation
}

// SetMetadata records header and description while a is current and
// fetching.
func (a *Attempt) SetMetadata(header, description string) bool {
	t := a.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != a.Generation || t.state.Status != StatusFetching {
		return false
	}
	t.state.Header = header
	t.state.Description = description
	return true
}

// Finish moves a from fetching to the terminal status s. It returns false
// and changes nothing if a is stale or already finished.
func (a *Attempt) Finish(s Status) bool {
	if !s.Terminal() {
		return false
	}
	t := a.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != a.Generation || t.state.Status != StatusFetching {
		return false
	}
	t.state.Status = s
	return true
}
