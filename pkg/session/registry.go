// Package session holds the table of live PTY sessions. It is the only
// process-wide mutable state in the server.
package session

import (
	"sync"
	"time"

	"github.com/jaewoo-rain/webide/pkg/runtime"
)

// Key identifies a session: the full instance id plus the session id the
// client was told.
type Key struct {
	InstanceID string
	SessionID  string
}

// Session is one live attachment of a client to a shell inside an instance.
type Session struct {
	Key        Key
	PTY        runtime.PTY
	AttachedAt time.Time
}

// Registry is a lock-protected table keyed by (instance id, session id).
// Insert is atomic: the table never holds two entries for the same key.
type Registry struct {
	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[Key]*Session)}
}

// Insert claims key. It returns false without touching the incumbent when
// the key is already present.
func (r *Registry) Insert(key Key, pty runtime.PTY) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[key]; exists {
		return false
	}
	r.sessions[key] = &Session{
		Key:        key,
		PTY:        pty,
		AttachedAt: time.Now(),
	}
	return true
}

// SetPTY installs the PTY handle into an already-claimed slot. Claiming with
// a nil placeholder first and filling the handle after the attach succeeds
// keeps the duplicate-sid window closed during the attach round-trip.
func (r *Registry) SetPTY(key Key, pty runtime.PTY) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		s.PTY = pty
	}
}

// Get returns the session under key, or nil. Callers must not read the PTY
// field off the returned struct; SetPTY writes it under the registry lock, so
// the handle is only safe to read through PTY.
func (r *Registry) Get(key Key) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key]
}

// PTY returns the PTY handle under key, read under the registry lock. ok is
// false when no session is claimed under key; a claimed slot whose attach has
// not completed yet returns (nil, true).
func (r *Registry) PTY(key Key) (runtime.PTY, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	return s.PTY, true
}

// Remove drops key from the table. Removing an absent key is a no-op.
func (r *Registry) Remove(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Each calls fn for every live session; used for diagnostics. fn must not
// call back into the registry.
func (r *Registry) Each(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		fn(s)
	}
}
