package session

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrDuplicateConnection = errors.New("connection already registered")

// Entry is one live connection and the session it owns.
type Entry struct {
	ConnID      string
	Session     *Session
	ConnectedAt time.Time
	// Close tears down the transport. It must be safe to call more than once.
	Close func()
}

// Registry tracks active sessions by connection id.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds entry. Earlier connections of the same subject are removed
// and returned so the caller can close them outside the lock.
func (r *Registry) Register(entry Entry) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[entry.ConnID]; ok {
		return nil, ErrDuplicateConnection
	}

	var displaced []Entry
	subject := entry.Session.Identity().Subject
	for id, existing := range r.entries {
		if subject != "" && existing.Session.Identity().Subject == subject {
			displaced = append(displaced, existing)
			delete(r.entries, id)
		}
	}
	r.entries[entry.ConnID] = entry
	return displaced, nil
}

// Unregister removes connID and reports whether it was present.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[connID]; !ok {
		return false
	}
	delete(r.entries, connID)
	return true
}

func (r *Registry) Get(connID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connID]
	return e, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot copies the live entries, oldest connection first.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnID < out[j].ConnID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// CloseAll closes every registered connection. Closing happens over a
// snapshot so close callbacks may unregister themselves.
func (r *Registry) CloseAll() int {
	entries := r.Snapshot()
	for _, e := range entries {
		if e.Close != nil {
			e.Close()
		}
	}
	return len(entries)
}
