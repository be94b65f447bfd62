package storage

import (
	"context"
	"time"

	"github.com/personachat/personachat/internal/core"
)

// SessionStore keeps the persisted session keys of each participant.
// It satisfies session.KeyValueStore.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a new session key store
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// LoadKeys returns every stored key for a participant
func (s *SessionStore) LoadKeys(ctx context.Context, participant core.ParticipantID) (map[string]string, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		"SELECT key, value FROM session_keys WHERE participant_id = ?", participant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		keys[k] = v
	}
	return keys, rows.Err()
}

// SaveKey writes one key, replacing any previous value
func (s *SessionStore) SaveKey(ctx context.Context, participant core.ParticipantID, key, value string) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO session_keys (participant_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(participant_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, participant, key, value, time.Now().UTC())
	return err
}

// ClearKeys removes every key for a participant
func (s *SessionStore) ClearKeys(ctx context.Context, participant core.ParticipantID) error {
	_, err := s.db.conn.ExecContext(ctx, "DELETE FROM session_keys WHERE participant_id = ?", participant)
	return err
}
