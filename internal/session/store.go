// Package session maps external session ids (one per browser tab or API
// client) to orchestrator sessions, with TTL eviction of idle ones.
package session

import (
	"sync"
	"time"

	"github.com/forgecore/agentcore/internal/orchestrator"
)

// minCleanupInterval is the smallest allowed TTL to prevent degenerate
// ticker intervals.
const minCleanupInterval = time.Millisecond

// entry pairs an orchestrator session with its last-used timestamp.
type entry struct {
	sess     *orchestrator.Session
	lastUsed time.Time
}

// Factory builds a fresh orchestrator session for an id.
type Factory func(id string) *orchestrator.Session

// Store is a thread-safe in-memory session registry with TTL eviction.
// NOT designed for multi-replica deployments; one process owns its sessions.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	factory Factory
	ttl     time.Duration
	done    chan struct{} // closed by Close() to stop the cleanup goroutine
}

// NewStore creates a Store with the given TTL. A background goroutine
// periodically evicts expired sessions; call Close when done.
func NewStore(ttl time.Duration, factory Factory) *Store {
	if ttl < minCleanupInterval {
		ttl = minCleanupInterval
	}
	s := &Store{
		entries: make(map[string]*entry),
		factory: factory,
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// GetOrCreate returns the session for id, creating it on first use, and
// refreshes its TTL.
func (s *Store) GetOrCreate(id string) *orchestrator.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{sess: s.factory(id)}
		s.entries[id] = e
	}
	e.lastUsed = time.Now()
	return e.sess
}

// Get returns the session for id without creating one.
func (s *Store) Get(id string) (*orchestrator.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = time.Now()
	return e.sess, true
}

// Delete removes a session (e.g. the user cleared the conversation).
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Count returns the number of active sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (s *Store) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// cleanupLoop periodically removes sessions that exceeded the TTL.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			cutoff := time.Now().Add(-s.ttl)
			for id, e := range s.entries {
				if e.lastUsed.Before(cutoff) {
					delete(s.entries, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
