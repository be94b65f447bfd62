package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/personachat/personachat/internal/core"
)

// SnapshotStore handles persona snapshot persistence
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore creates a new snapshot store
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save stores a snapshot, assigning an ID and timestamp when missing
func (s *SnapshotStore) Save(ctx context.Context, snap *core.PersonaSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	ratings, err := json.Marshal(snap.Ratings)
	if err != nil {
		return fmt.Errorf("marshal ratings: %w", err)
	}

	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO persona_snapshots (id, participant_id, study_id, system_prompt, ratings, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.ID, snap.ParticipantID, snap.StudyID, snap.SystemPrompt, string(ratings), snap.CreatedAt)
	return err
}

// ListByParticipant returns a participant's snapshots, oldest first
func (s *SnapshotStore) ListByParticipant(ctx context.Context, id core.ParticipantID) ([]*core.PersonaSnapshot, error) {
	return s.query(ctx, "WHERE participant_id = ?", id)
}

// List returns every snapshot of a study, oldest first
func (s *SnapshotStore) List(ctx context.Context, studyID string) ([]*core.PersonaSnapshot, error) {
	return s.query(ctx, "WHERE study_id = ?", studyID)
}

// Get returns one snapshot
func (s *SnapshotStore) Get(ctx context.Context, id string) (*core.PersonaSnapshot, error) {
	snaps, err := s.query(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, core.E(core.KindNotFound, "storage.GetSnapshot", core.ErrRecordNotFound)
	}
	return snaps[0], nil
}

func (s *SnapshotStore) query(ctx context.Context, where string, arg interface{}) ([]*core.PersonaSnapshot, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, participant_id, study_id, system_prompt, ratings, created_at
		FROM persona_snapshots `+where+`
		ORDER BY created_at ASC, id ASC
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.PersonaSnapshot
	for rows.Next() {
		snap := &core.PersonaSnapshot{}
		var ratings string
		if err := rows.Scan(&snap.ID, &snap.ParticipantID, &snap.StudyID,
			&snap.SystemPrompt, &ratings, &snap.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ratings), &snap.Ratings); err != nil {
			return nil, fmt.Errorf("snapshot %s: decode ratings: %w", snap.ID, err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
