// Package errlog keeps the list of errors surfaced to the user.
package errlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/macworp/macworp-client/internal/logging"
	"github.com/macworp/macworp-client/internal/metrics"
	"github.com/macworp/macworp-client/pkg/client"
	"github.com/macworp/macworp-client/pkg/events"
	"go.uber.org/zap"
)

// Entry is one surfaced error.
type Entry struct {
	Title       string    `json:"title" yaml:"title"`
	Date        time.Time `json:"date" yaml:"date"`
	Description string    `json:"description" yaml:"description"`
}

// Log is an ordered list of surfaced errors. Entries stay until removed.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	bus     *events.Broadcaster[Entry]
}

// New creates an empty error list.
func New() *Log {
	return &Log{bus: events.NewBroadcaster[Entry]()}
}

// Add appends e and routes it to subscribers.
func (l *Log) Add(e Entry) {
	if e.Date.IsZero() {
		e.Date = time.Now().UTC()
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	metrics.RecordSurfacedError()
	logging.Warn("error surfaced",
		zap.String("title", e.Title),
		zap.String("description", e.Description))
	l.bus.Publish(e)
}

// Surface converts err into an entry and adds it. Backend answers keep
// their status line, date and parsed body; other errors become a generic
// entry. A nil err is ignored.
func (l *Log) Surface(err error) {
	if err == nil {
		return
	}
	l.Add(EntryFor(err))
}

// EntryFor builds the entry that Surface would add for err.
func EntryFor(err error) Entry {
	if ae, ok := client.AsAPIError(err); ok {
		return Entry{
			Title:       ae.Title(),
			Date:        ae.Date,
			Description: ae.Description,
		}
	}
	return Entry{
		Title:       "Request failed",
		Date:        time.Now().UTC(),
		Description: err.Error(),
	}
}

// Remove deletes the entry at idx.
func (l *Log) Remove(idx int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx < 0 || idx >= len(l.entries) {
		return fmt.Errorf("no error at index %d", idx)
	}
	l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
	return nil
}

// List returns a copy of the current entries, oldest first.
func (l *Log) List() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe returns a channel receiving every entry added from now on.
func (l *Log) Subscribe() chan Entry {
	return l.bus.Subscribe()
}

// Unsubscribe stops delivery to ch and closes it.
func (l *Log) Unsubscribe(ch chan Entry) {
	l.bus.Unsubscribe(ch)
}
