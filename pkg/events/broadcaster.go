// Package events fans typed events out to subscribers.
package events

import (
	"sync"
	"time"
)

// DefaultBuffer is the channel capacity of each subscriber.
const DefaultBuffer = 64

// DirectoryChange is published after a project directory has been listed.
type DirectoryChange struct {
	ProjectID int      `json:"project_id"`
	Path      string   `json:"path"`
	Folders   []string `json:"folders"`
	Files     []string `json:"files"`
	Timestamp int64    `json:"timestamp"`
}

// Stamp returns d with Timestamp set to now unless it is already set.
func (d DirectoryChange) Stamp() DirectoryChange {
	if d.Timestamp == 0 {
		d.Timestamp = time.Now().Unix()
	}
	return d
}

// Broadcaster delivers every published T to all current subscribers.
// Subscribers that fall DefaultBuffer events behind miss events; Publish
// never waits for them.
type Broadcaster[T any] struct {
	mu   sync.RWMutex
	subs map[chan T]struct{}
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: map[chan T]struct{}{}}
}

// Subscribe registers a new subscriber. Pair it with Unsubscribe.
func (b *Broadcaster[T]) Subscribe() chan T {
	ch := make(chan T, DefaultBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe drops ch and closes it. Channels that are not subscribed are
// left alone.
func (b *Broadcaster[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Publish hands ev to every subscriber with room in its buffer and returns
// how many received it.
func (b *Broadcaster[T]) Publish(ev T) (n int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
			n++
		default:
		}
	}
	return n
}

func (b *Broadcaster[T]) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
