package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mcpgate/mcpgate/internal/provider"
	"github.com/mcpgate/mcpgate/internal/state"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT NOT NULL PRIMARY KEY,
    messages JSONB NOT NULL DEFAULT '[]',
    mode TEXT NOT NULL DEFAULT '',
    iteration_count INTEGER NOT NULL DEFAULT 0,
    metadata JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions (updated_at);
`

// PostgresStore is the Postgres-backed session store, for deployments
// where multiple gateway processes share session state.
type PostgresStore struct {
	db          *sql.DB
	maxMessages int
}

// OpenPostgres connects with a lib/pq DSN and ensures the schema exists.
func OpenPostgres(dsn string, maxMessages int) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("session store: postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("session store: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session store: postgres unreachable: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session store: postgres schema: %w", err)
	}
	return &PostgresStore{db: db, maxMessages: maxMessages}, nil
}

func (s *PostgresStore) Create(id string) (*state.Session, error) {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, messages, mode, iteration_count, metadata, created_at, updated_at)
		 VALUES ($1, '[]', '', 0, '{}', $2, $2) ON CONFLICT (id) DO NOTHING`,
		id, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("session create: %w", err)
	}
	return s.Get(id)
}

func (s *PostgresStore) Get(id string) (*state.Session, error) {
	var messagesJSON, mode, metadataJSON []byte
	var iterations int
	var createdAt, updatedAt time.Time
	err := s.db.QueryRow(
		`SELECT messages, mode, iteration_count, metadata, created_at, updated_at FROM sessions WHERE id = $1`,
		id,
	).Scan(&messagesJSON, &mode, &iterations, &metadataJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("session %q not found", id)
	}
	var messages []provider.Message
	_ = json.Unmarshal(messagesJSON, &messages)
	var metadata map[string]string
	_ = json.Unmarshal(metadataJSON, &metadata)
	return &state.Session{
		ID:             id,
		Messages:       messages,
		Mode:           state.Mode(mode),
		IterationCount: iterations,
		Metadata:       metadata,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

func (s *PostgresStore) Put(sess *state.Session) error {
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
	_, err = s.db.Exec(
		`UPDATE sessions SET messages = $1, mode = $2, iteration_count = $3, metadata = $4, updated_at = $5 WHERE id = $6`,
		messagesJSON, string(sess.Mode), sess.IterationCount, metadataJSON, sess.UpdatedAt.UTC(), sess.ID)
	if err != nil {
		return fmt.Errorf("session persist: %w", err)
	}
	return nil
}

func (s *PostgresStore) Touch(id string) error {
	_, err := s.db.Exec(`UPDATE sessions SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	return err
}

func (s *PostgresStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM sessions`)
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

func (s *PostgresStore) PruneIdle(idleFor time.Duration) (int, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE updated_at < $1`, time.Now().Add(-idleFor).UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
