package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gethome/companion/backend/internal/auth"
	"github.com/gethome/companion/backend/internal/service/ai"
)

// ErrSessionNotFound covers both unknown ids and sessions owned by someone else.
var ErrSessionNotFound = errors.New("session not found")

// Session binds one conversation to the identity that opened it.
type Session struct {
	ID        string
	Owner     auth.Identity
	CreatedAt time.Time

	variant    ai.Variant
	now        func() time.Time
	lastActive atomic.Int64

	// mu serialises turns and guards conv and closed.
	mu     sync.Mutex
	conv   ai.Conversation
	closed bool
}

// Variant reports which backend the session was opened with.
func (s *Session) Variant() ai.Variant {
	return s.variant
}

// Send runs one turn. Turns on the same session never overlap; a session closed
// while a turn was queued reports ErrSessionNotFound.
func (s *Session) Send(ctx context.Context, turn string) (ai.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ai.Reply{}, ErrSessionNotFound
	}

	s.touch()
	reply := s.conv.Send(ctx, turn)
	s.touch()
	return reply, nil
}

// LastActive returns the time of the most recent turn, or the creation time.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load()).UTC()
}

func (s *Session) touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// close waits for any in-flight turn, then releases the conversation.
func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.conv = nil
	s.mu.Unlock()
}

// Registry keeps sessions in memory. Nothing survives a restart.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry bootstraps an empty in-memory registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores conv under a fresh random id owned by owner.
func (r *Registry) Create(owner auth.Identity, conv ai.Conversation) *Session {
	session := &Session{
		ID:        uuid.NewString(),
		Owner:     owner,
		CreatedAt: r.now(),
		variant:   conv.Variant(),
		now:       r.now,
		conv:      conv,
	}
	session.touch()

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	return session
}

// Get returns the session if it exists and belongs to requester.
func (r *Registry) Get(id string, requester auth.Identity) (*Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok || requester == "" || session.Owner != requester {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Destroy removes the session owned by requester. Later lookups fail even when a
// turn on it is still running.
func (r *Registry) Destroy(id string, requester auth.Identity) error {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if !ok || requester == "" || session.Owner != requester {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	session.close()
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions idle since before cutoff and returns how many it removed.
func (r *Registry) Sweep(cutoff time.Time) int {
	var expired []*Session

	r.mu.Lock()
	for id, session := range r.sessions {
		if session.LastActive().Before(cutoff) {
			expired = append(expired, session)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, session := range expired {
		session.close()
	}
	return len(expired)
}
