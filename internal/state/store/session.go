package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpgate/mcpgate/internal/provider"
	"github.com/mcpgate/mcpgate/internal/state"
)

// SessionStore is the SQLite-backed session store.
type SessionStore struct {
	db          *DB
	maxMessages int // 0 = no cap
}

// NewSessionStore returns a session store persisting to the given DB.
// maxMessages caps messages per session (0 = no cap).
func NewSessionStore(db *DB, maxMessages int) *SessionStore {
	return &SessionStore{db: db, maxMessages: maxMessages}
}

func (s *SessionStore) Create(id string) (*state.Session, error) {
	now := time.Now()
	ts := now.UTC().Format(time.RFC3339)
	_, err := s.db.SQLDB().Exec(
		`INSERT INTO sessions (id, messages, mode, iteration_count, metadata, created_at, updated_at) VALUES (?, '[]', '', 0, '{}', ?, ?)`,
		id, ts, ts)
	if err != nil {
		// Likely a duplicate id; return what is there.
		if existing, e := s.Get(id); e == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("session create: %w", err)
	}
	return &state.Session{
		ID:        id,
		Messages:  []provider.Message{},
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SessionStore) Get(id string) (*state.Session, error) {
	var messagesJSON, mode, metadataJSON, createdAt, updatedAt string
	var iterations int
	err := s.db.SQLDB().QueryRow(
		`SELECT messages, mode, iteration_count, metadata, created_at, updated_at FROM sessions WHERE id = ?`,
		id,
	).Scan(&messagesJSON, &mode, &iterations, &metadataJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("session %q not found", id)
	}
	var messages []provider.Message
	if messagesJSON != "" {
		_ = json.Unmarshal([]byte(messagesJSON), &messages)
	}
	var metadata map[string]string
	if metadataJSON != "" {
		_ = json.Unmarshal([]byte(metadataJSON), &metadata)
	}
	ca, _ := time.Parse(time.RFC3339, createdAt)
	ua, _ := time.Parse(time.RFC3339, updatedAt)
	return &state.Session{
		ID:             id,
		Messages:       messages,
		Mode:           state.Mode(mode),
		IterationCount: iterations,
		Metadata:       metadata,
		CreatedAt:      ca,
		UpdatedAt:      ua,
	}, nil
}

func (s *SessionStore) Put(sess *state.Session) error {
	if s.maxMessages > 0 && len(sess.Messages) > s.maxMessages {
		keep := len(sess.Messages) - s.maxMessages
		sess.Messages = sess.Messages[keep:]
	}
	messagesJSON, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("session persist: marshal messages: %w", err)
	}
	metadataJSON, _ := json.Marshal(sess.Metadata)
	if metadataJSON == nil {
		metadataJSON = []byte("{}")
	}
	sess.UpdatedAt = time.Now()
	_, err = s.db.SQLDB().Exec(
		`UPDATE sessions SET messages = ?, mode = ?, iteration_count = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		string(messagesJSON), string(sess.Mode), sess.IterationCount,
		string(metadataJSON), sess.UpdatedAt.UTC().Format(time.RFC3339), sess.ID)
	if err != nil {
		return fmt.Errorf("session persist: %w", err)
	}
	return nil
}

func (s *SessionStore) Touch(id string) error {
	_, err := s.db.SQLDB().Exec(
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (s *SessionStore) Delete(id string) error {
	_, err := s.db.SQLDB().Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *SessionStore) List() ([]string, error) {
	rows, err := s.db.SQLDB().Query(`SELECT id FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SessionStore) PruneIdle(idleFor time.Duration) (int, error) {
	cutoff := time.Now().Add(-idleFor).UTC().Format(time.RFC3339)
	res, err := s.db.SQLDB().Exec(`DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SessionStore) Close() error {
	return s.db.Close()
}
