package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var _ mautrix.SyncStore = (*SyncStore)(nil)

// SyncStore keeps the /sync position and filter ID in the matrix_sync_state
// table, so a restarted bot resumes where it stopped instead of answering
// old commands again.
type SyncStore struct {
	db *sql.DB
}

// NewSyncStore returns a SyncStore on db. Migration
// 0002_matrix_sync_state.sql must have been applied.
func NewSyncStore(db *sql.DB) *SyncStore {
	return &SyncStore{db: db}
}

const (
	keyFilterID  = "filter_id"
	keyNextBatch = "next_batch"
)

func (s *SyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.put(ctx, userID, keyFilterID, filterID)
}

func (s *SyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.get(ctx, userID, keyFilterID)
}

func (s *SyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.put(ctx, userID, keyNextBatch, nextBatchToken)
}

// LoadNextBatch returns "" before the first completed sync.
func (s *SyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.get(ctx, userID, keyNextBatch)
}

func (s *SyncStore) put(ctx context.Context, userID id.UserID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value`,
		userID.String(), key, value)
	if err != nil {
		return fmt.Errorf("matrix sync store: save %s: %w", key, err)
	}
	return nil
}

func (s *SyncStore) get(ctx context.Context, userID id.UserID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM matrix_sync_state WHERE user_id = ? AND key = ?`,
		userID.String(), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("matrix sync store: load %s: %w", key, err)
	}
	return value, nil
}
