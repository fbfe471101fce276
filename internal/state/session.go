package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/mcpgate/mcpgate/internal/provider"
)

// Mode is the conversation mode a session last resolved to.
type Mode string

const (
	ModeChat Mode = "chat"
	ModeTask Mode = "task"
)

// Session is one conversation's durable state. All transports sharing a
// session id observe the same instance.
type Session struct {
	ID             string             `json:"id" yaml:"id"`
	Messages       []provider.Message `json:"messages" yaml:"messages"`
	Mode           Mode               `json:"mode,omitempty" yaml:"mode,omitempty"`
	IterationCount int                `json:"iteration_count" yaml:"iteration_count"`
	Metadata       map[string]string  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt      time.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" yaml:"updated_at"`
}

// Store is the persistence boundary for sessions. Implementations exist
// for in-memory, SQLite, Postgres, and Redis backends.
type Store interface {
	// Create inserts a new session. If the id already exists the existing
	// session is returned.
	Create(id string) (*Session, error)
	Get(id string) (*Session, error)
	// Put persists the session's current state and bumps UpdatedAt.
	Put(sess *Session) error
	// Touch bumps UpdatedAt without other changes, deferring expiry.
	Touch(id string) error
	Delete(id string) error
	List() ([]string, error)
	// PruneIdle removes sessions idle longer than idleFor and reports how
	// many were removed.
	PruneIdle(idleFor time.Duration) (int, error)
	Close() error
}

// MemoryStore keeps sessions in process memory. The default backend; also
// the reference semantics the persistent backends mirror.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (s *MemoryStore) Create(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	now := time.Now()
	sess := &Session{
		ID:        id,
		Messages:  make([]provider.Message, 0),
		Metadata:  make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[id] = sess
	return sess, nil
}

func (s *MemoryStore) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}
	return sess, nil
}

func (s *MemoryStore) Put(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.UpdatedAt = time.Now()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemoryStore) Touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %q not found", id)
	}
	sess.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) PruneIdle(idleFor time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-idleFor)
	pruned := 0
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			pruned++
		}
	}
	return pruned, nil
}

func (s *MemoryStore) Close() error { return nil }
