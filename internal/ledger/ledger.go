// Package ledger is the append-only participant event log. Every entry is
// hash-chained to the previous entry of the same study, so tampering with any
// stored event is detectable.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/personachat/personachat/internal/core"
)

// Genesis is the prev_hash of the first entry of every study chain.
const Genesis = "GENESIS:0000000000000000000000000000000000000000000000000000000000000000"

// timestamps are stored as fixed-width UTC text so they sort and hash the
// same under every SQLite driver.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Schema creates the ledger table.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    study_id TEXT NOT NULL,
    participant_id TEXT NOT NULL,
    path TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    action TEXT NOT NULL,
    actor TEXT NOT NULL,
    details TEXT,
    prev_hash TEXT NOT NULL,
    hash TEXT NOT NULL
)`

// Store manages the append-only ledger
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time

	subMu       sync.RWMutex
	subscribers []func(*Entry)
}

// NewStore creates a new ledger store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Entry represents an immutable ledger entry
type Entry struct {
	Seq           int64              `json:"seq"`
	ID            string             `json:"id"`
	StudyID       string             `json:"study_id"`
	ParticipantID core.ParticipantID `json:"participant_id"`
	Path          string             `json:"path"` // {study}/participantData/{participant}/{kind}/{unix ms}
	Timestamp     time.Time          `json:"timestamp"`
	Action        string             `json:"action"`
	Actor         string             `json:"actor"`
	Details       string             `json:"details"`   // JSON blob
	PrevHash      string             `json:"prev_hash"` // Hash of previous entry in the study chain
	Hash          string             `json:"hash"`
}

// Action constants
const (
	ActionSessionOpened    = "session.opened"
	ActionAvatarSelected   = "avatar.selected"
	ActionPromptSubmitted  = "prompt.submitted"
	ActionPhaseAdvanced    = "phase.advanced"
	ActionBackToConfig     = "phase.back"
	ActionSurveyCompleted  = "survey.completed"
	ActionMessageUser      = "message.user"
	ActionMessageAssistant = "message.assistant"
	ActionPersonaChecked   = "persona.checked"
	ActionResponseStale    = "response.stale"
	ActionRequestFailed    = "request.failed"
	ActionClientEvent      = "client.event"
)

// Actor constants
const (
	ActorParticipant = "participant"
	ActorAssistant   = "assistant"
	ActorSystem      = "system"
)

// Path segments separating chat turns from other events.
const (
	KindMessages = "messages"
	KindEvents   = "events"
)

// Kind returns the path segment an action is filed under.
func Kind(action string) string {
	if strings.HasPrefix(action, "message.") {
		return KindMessages
	}
	return KindEvents
}

// BuildPath returns the storage path of an event.
func BuildPath(studyID string, participant core.ParticipantID, action string, at time.Time) string {
	return fmt.Sprintf("%s/participantData/%s/%s/%d", studyID, participant, Kind(action), at.UnixMilli())
}

// Record is what callers append.
type Record struct {
	StudyID       string
	ParticipantID core.ParticipantID
	Action        string
	Actor         string
	Details       interface{}
}

// Subscribe registers fn to receive every appended entry. fn runs on the
// appending goroutine and must not block.
func (s *Store) Subscribe(fn func(*Entry)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Store) publish(e *Entry) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subscribers {
		fn(e)
	}
}

// Append adds a new entry to its study chain.
// This is the ONLY way to add entries - ensuring append-only behavior.
func (s *Store) Append(ctx context.Context, rec Record) (*Entry, error) {
	if rec.StudyID == "" || rec.ParticipantID == "" || rec.Action == "" {
		return nil, core.Ef(core.KindValidation, "ledger.Append", "%w: study, participant and action", core.ErrMissingRequired)
	}

	var detailsJSON string
	if rec.Details != nil {
		data, err := json.Marshal(rec.Details)
		if err != nil {
			return nil, fmt.Errorf("marshal details: %w", err)
		}
		detailsJSON = string(data)
	}

	s.mu.Lock()
	prevHash, err := s.lastHash(ctx, rec.StudyID)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("get last hash: %w", err)
	}

	at := s.now().UTC()
	entry := &Entry{
		ID:            uuid.New().String(),
		StudyID:       rec.StudyID,
		ParticipantID: rec.ParticipantID,
		Path:          BuildPath(rec.StudyID, rec.ParticipantID, rec.Action, at),
		Timestamp:     at,
		Action:        rec.Action,
		Actor:         rec.Actor,
		Details:       detailsJSON,
		PrevHash:      prevHash,
	}
	entry.Hash = computeHash(entry)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger (id, study_id, participant_id, path, timestamp, action, actor, details, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.StudyID, entry.ParticipantID, entry.Path, at.Format(tsLayout),
		entry.Action, entry.Actor, entry.Details, entry.PrevHash, entry.Hash)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	entry.Seq, _ = res.LastInsertId()
	s.mu.Unlock()

	s.publish(entry)
	return entry, nil
}

// lastHash returns the hash of the study's most recent entry
func (s *Store) lastHash(ctx context.Context, studyID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT hash FROM ledger WHERE study_id = ? ORDER BY seq DESC LIMIT 1", studyID).Scan(&hash)
	if err == sql.ErrNoRows {
		return Genesis, nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// computeHash creates the SHA-256 hash of an entry's canonical representation
func computeHash(entry *Entry) string {
	canonical := struct {
		ID            string `json:"id"`
		StudyID       string `json:"study_id"`
		ParticipantID string `json:"participant_id"`
		Path          string `json:"path"`
		Timestamp     string `json:"timestamp"`
		Action        string `json:"action"`
		Actor         string `json:"actor"`
		Details       string `json:"details"`
		PrevHash      string `json:"prev_hash"`
	}{
		ID:            entry.ID,
		StudyID:       entry.StudyID,
		ParticipantID: string(entry.ParticipantID),
		Path:          entry.Path,
		Timestamp:     entry.Timestamp.UTC().Format(tsLayout),
		Action:        entry.Action,
		Actor:         entry.Actor,
		Details:       entry.Details,
		PrevHash:      entry.PrevHash,
	}

	data, _ := json.Marshal(canonical)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

const selectColumns = `SELECT seq, id, study_id, participant_id, path, timestamp, action, actor, details, prev_hash, hash FROM ledger`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var ts string
	var details sql.NullString
	if err := row.Scan(&e.Seq, &e.ID, &e.StudyID, &e.ParticipantID, &e.Path, &ts,
		&e.Action, &e.Actor, &details, &e.PrevHash, &e.Hash); err != nil {
		return nil, err
	}
	t, err := time.Parse(tsLayout, ts)
	if err != nil {
		return nil, fmt.Errorf("entry %s: bad timestamp %q: %w", e.ID, ts, err)
	}
	e.Timestamp = t
	e.Details = details.String
	return &e, nil
}

// VerifyChain verifies one study chain. Returns nil if valid, or a
// *ChainError describing the first broken link.
func (s *Store) VerifyChain(ctx context.Context, studyID string) error {
	rows, err := s.db.QueryContext(ctx, selectColumns+" WHERE study_id = ? ORDER BY seq ASC", studyID)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	expectedPrevHash := Genesis
	entryNum := 0

	for rows.Next() {
		entryNum++
		entry, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan entry %d: %w", entryNum, err)
		}

		if entry.PrevHash != expectedPrevHash {
			return &ChainError{
				EntryNum:     entryNum,
				EntryID:      entry.ID,
				ExpectedHash: expectedPrevHash,
				ActualHash:   entry.PrevHash,
				Type:         "chain_broken",
			}
		}

		expectedHash := computeHash(entry)
		if entry.Hash != expectedHash {
			return &ChainError{
				EntryNum:     entryNum,
				EntryID:      entry.ID,
				ExpectedHash: expectedHash,
				ActualHash:   entry.Hash,
				Type:         "hash_mismatch",
			}
		}

		expectedPrevHash = entry.Hash
	}

	return rows.Err()
}

// ChainError represents a broken chain error
type ChainError struct {
	EntryNum     int
	EntryID      string
	ExpectedHash string
	ActualHash   string
	Type         string // "chain_broken" or "hash_mismatch"
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

func (e *ChainError) Error() string {
	if e.Type == "chain_broken" {
		return fmt.Sprintf("chain broken at entry %d (ID: %s): expected prev_hash %s, got %s",
			e.EntryNum, e.EntryID, short(e.ExpectedHash), short(e.ActualHash))
	}
	return fmt.Sprintf("hash mismatch at entry %d (ID: %s): expected %s, got %s",
		e.EntryNum, e.EntryID, short(e.ExpectedHash), short(e.ActualHash))
}

// QueryOptions filter a listing
type QueryOptions struct {
	StudyID       string
	ParticipantID core.ParticipantID
	Action        string
	Actor         string
	Since         time.Time // Entries at or after this time
	Until         time.Time // Entries at or before this time
	Ascending     bool      // Oldest first; default newest first
	Limit         int
	Offset        int
}

// Query returns entries matching the given criteria (read-only)
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]*Entry, error) {
	query := selectColumns + " WHERE 1=1"
	var args []interface{}

	if opts.StudyID != "" {
		query += " AND study_id = ?"
		args = append(args, opts.StudyID)
	}
	if opts.ParticipantID != "" {
		query += " AND participant_id = ?"
		args = append(args, opts.ParticipantID)
	}
	if opts.Action != "" {
		query += " AND action = ?"
		args = append(args, opts.Action)
	}
	if opts.Actor != "" {
		query += " AND actor = ?"
		args = append(args, opts.Actor)
	}
	if !opts.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since.UTC().Format(tsLayout))
	}
	if !opts.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, opts.Until.UTC().Format(tsLayout))
	}

	if opts.Ascending {
		query += " ORDER BY seq ASC"
	} else {
		query += " ORDER BY seq DESC"
	}

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetByID returns a single entry by ID, or nil when absent
func (s *Store) GetByID(ctx context.Context, id string) (*Entry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return entry, nil
}

// Count returns the number of entries in a study
func (s *Store) Count(ctx context.Context, studyID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger WHERE study_id = ?", studyID).Scan(&count)
	return count, err
}

// Summary statistics
type Summary struct {
	StudyID      string         `json:"study_id"`
	TotalEntries int            `json:"total_entries"`
	Participants int            `json:"participants"`
	FirstEntry   *time.Time     `json:"first_entry,omitempty"`
	LastEntry    *time.Time     `json:"last_entry,omitempty"`
	ByAction     map[string]int `json:"by_action"`
	ByActor      map[string]int `json:"by_actor"`
	ChainValid   bool           `json:"chain_valid"`
	ChainError   string         `json:"chain_error,omitempty"`
}

// GetSummary returns statistics about a study chain
func (s *Store) GetSummary(ctx context.Context, studyID string) (*Summary, error) {
	summary := &Summary{
		StudyID:  studyID,
		ByAction: make(map[string]int),
		ByActor:  make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT participant_id) FROM ledger WHERE study_id = ?", studyID,
	).Scan(&summary.TotalEntries, &summary.Participants); err != nil {
		return nil, err
	}

	var first, last sql.NullString
	s.db.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM ledger WHERE study_id = ?", studyID).Scan(&first, &last)
	if t, err := time.Parse(tsLayout, first.String); first.Valid && err == nil {
		summary.FirstEntry = &t
	}
	if t, err := time.Parse(tsLayout, last.String); last.Valid && err == nil {
		summary.LastEntry = &t
	}

	if err := s.countBy(ctx, "action", studyID, summary.ByAction); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "actor", studyID, summary.ByActor); err != nil {
		return nil, err
	}

	if err := s.VerifyChain(ctx, studyID); err != nil {
		summary.ChainError = err.Error()
	} else {
		summary.ChainValid = true
	}
	return summary, nil
}

// countBy groups on a fixed column name.
func (s *Store) countBy(ctx context.Context, column, studyID string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM ledger WHERE study_id = ? GROUP BY "+column, studyID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}
