package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/personachat/personachat/internal/core"
)

// ParticipantStore handles participant persistence
type ParticipantStore struct {
	db *DB
}

// NewParticipantStore creates a new participant store
func NewParticipantStore(db *DB) *ParticipantStore {
	return &ParticipantStore{db: db}
}

// Upsert creates the participant or refreshes its last-seen time. The
// returned record carries the stored creation time.
func (s *ParticipantStore) Upsert(ctx context.Context, p *core.Participant) (*core.Participant, error) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastSeenAt.IsZero() {
		p.LastSeenAt = now
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO participants (id, study_id, external_id, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_seen_at = excluded.last_seen_at
	`, p.ID, p.StudyID, p.ExternalID, p.CreatedAt, p.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, p.ID)
}

// Get returns a participant by ID
func (s *ParticipantStore) Get(ctx context.Context, id core.ParticipantID) (*core.Participant, error) {
	p := &core.Participant{}
	var externalID sql.NullString

	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, study_id, external_id, created_at, last_seen_at
		FROM participants WHERE id = ?
	`, id).Scan(&p.ID, &p.StudyID, &externalID, &p.CreatedAt, &p.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, core.E(core.KindNotFound, "storage.GetParticipant", core.ErrRecordNotFound)
	}
	if err != nil {
		return nil, err
	}
	p.ExternalID = externalID.String
	return p, nil
}

// List returns a study's participants, oldest first
func (s *ParticipantStore) List(ctx context.Context, studyID string) ([]*core.Participant, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, study_id, external_id, created_at, last_seen_at
		FROM participants WHERE study_id = ?
		ORDER BY created_at ASC, id ASC
	`, studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Participant
	for rows.Next() {
		p := &core.Participant{}
		var externalID sql.NullString
		if err := rows.Scan(&p.ID, &p.StudyID, &externalID, &p.CreatedAt, &p.LastSeenAt); err != nil {
			return nil, err
		}
		p.ExternalID = externalID.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// Count returns the number of participants in a study
func (s *ParticipantStore) Count(ctx context.Context, studyID string) (int, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM participants WHERE study_id = ?", studyID).Scan(&n)
	return n, err
}
