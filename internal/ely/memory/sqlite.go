package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SQLiteStore keeps each record as a JSON-encoded row of the memories
// table, keyed by (scope, identity). Every Save is a single upsert, so a
// reader sees either the previous or the new history, never a mix.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a SQLiteStore on db. The memories table must
// already exist (migration 0001_memories.sql). If logger is nil, the
// default slog logger is used.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, logger: logger}
}

func sqliteSource(key Key) string {
	return "sqlite:memories/" + key.String()
}

// Load returns the stored record for key.
func (s *SQLiteStore) Load(ctx context.Context, key Key) (Record, error) {
	var messagesJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM memories WHERE scope = ? AND identity = ?`,
		string(key.Scope), key.ID,
	).Scan(&messagesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Info("memory sqlite: no stored history, starting fresh", "key", key.String())
		return Record{Messages: []Message{}}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("memory sqlite: load %s: %w", key, err)
	}

	var msgs []Message
	if err := json.Unmarshal([]byte(messagesJSON), &msgs); err != nil {
		return Record{}, &CorruptError{Key: key, Source: sqliteSource(key), Err: err}
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return Record{Messages: msgs}, nil
}

// Save upserts the record for key.
func (s *SQLiteStore) Save(ctx context.Context, key Key, rec Record) error {
	msgs := rec.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	if err := checkUTF8(rec); err != nil {
		return &SaveError{Kind: SaveErrorSerialize, Key: key, Source: sqliteSource(key), Err: err}
	}
	messagesJSON, err := json.Marshal(msgs)
	if err != nil {
		return &SaveError{Kind: SaveErrorSerialize, Key: key, Source: sqliteSource(key), Err: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (scope, identity, messages, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, identity) DO UPDATE SET
			messages   = excluded.messages,
			updated_at = excluded.updated_at`,
		string(key.Scope), key.ID, string(messagesJSON), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return &SaveError{Kind: SaveErrorIO, Key: key, Source: sqliteSource(key), Err: err}
	}
	s.logger.Debug("memory sqlite: saved history", "key", key.String(), "messages", len(msgs))
	return nil
}

// List returns the identities stored for scope, sorted.
func (s *SQLiteStore) List(ctx context.Context, scope Scope) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity FROM memories WHERE scope = ? ORDER BY identity`, string(scope))
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: list %s: %w", scope, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("memory sqlite: list scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory sqlite: list rows: %w", err)
	}
	return ids, nil
}

var (
	_ Store  = (*SQLiteStore)(nil)
	_ Lister = (*SQLiteStore)(nil)
)
