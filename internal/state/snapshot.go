package state

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// snapshot is the on-disk form of a memory store: one YAML document
// holding every session.
type snapshot struct {
	Sessions []*Session `yaml:"sessions"`
}

// SaveSnapshot writes every session to path as YAML. Used by the memory
// backend so short-lived deployments still survive a restart without a
// database.
func (s *MemoryStore) SaveSnapshot(path string) error {
	s.mu.RLock()
	snap := snapshot{Sessions: make([]*Session, 0, len(s.sessions))}
	for _, sess := range s.sessions {
		snap.Sessions = append(snap.Sessions, sess)
	}
	s.mu.RUnlock()

	data, err := yaml.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("session snapshot: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("session snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("session snapshot: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("session snapshot: rename: %w", err)
	}
	return nil
}

// LoadSnapshot restores sessions from a YAML snapshot. A missing file is
// not an error; sessions already in the store keep precedence.
func (s *MemoryStore) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("session snapshot: read: %w", err)
	}
	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("session snapshot: parse: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range snap.Sessions {
		if sess == nil || sess.ID == "" {
			continue
		}
		if _, exists := s.sessions[sess.ID]; !exists {
			s.sessions[sess.ID] = sess
		}
	}
	return nil
}
