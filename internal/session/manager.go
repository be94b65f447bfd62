package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/logging"
)

// KeyValueStore persists the per-participant session keys.
type KeyValueStore interface {
	LoadKeys(ctx context.Context, participant core.ParticipantID) (map[string]string, error)
	SaveKey(ctx context.Context, participant core.ParticipantID, key, value string) error
	ClearKeys(ctx context.Context, participant core.ParticipantID) error
}

// Manager owns the live sessions of one study.
type Manager struct {
	mu       sync.RWMutex
	sessions map[core.ParticipantID]*Session
	seen     map[core.ParticipantID]time.Time

	store    KeyValueStore
	settings Settings
	now      func() time.Time
}

// NewManager creates a manager. store may be nil, in which case nothing is
// persisted.
func NewManager(settings Settings, store KeyValueStore) *Manager {
	return &Manager{
		sessions: make(map[core.ParticipantID]*Session),
		seen:     make(map[core.ParticipantID]time.Time),
		store:    store,
		settings: settings,
		now:      time.Now,
	}
}

// Settings returns the study settings.
func (m *Manager) Settings() Settings { return m.settings }

// Open returns the live session for id, creating it if needed. A new session
// restores persisted keys unless flags.Fresh is set, which discards them.
// The boolean reports whether the session was created.
func (m *Manager) Open(ctx context.Context, id core.ParticipantID, flags Flags) (*Session, bool, error) {
	const op = "session.Open"

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok && !flags.Fresh {
		m.seen[id] = m.now()
		return s, false, nil
	}

	kv := map[string]string{}
	if m.store != nil {
		if flags.Fresh {
			if err := m.store.ClearKeys(ctx, id); err != nil {
				return nil, false, core.E(core.KindInternal, op, err)
			}
		} else {
			loaded, err := m.store.LoadKeys(ctx, id)
			if err != nil {
				return nil, false, core.E(core.KindInternal, op, err)
			}
			kv = loaded
		}
	}

	var persisted *int
	if raw, ok := kv[KeyVisualizationCondition]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			persisted = &n
		}
	}
	condition := flags.Condition(persisted)

	s := New(id, flags, m.settings, condition, m.now)
	s.restore(kv)
	s.persist = m.persister(id)
	s.persist(KeyVisualizationCondition, strconv.Itoa(condition))

	m.sessions[id] = s
	m.seen[id] = m.now()
	logging.WithFields(map[string]interface{}{
		"participant": string(id),
		"condition":   condition,
		"restored":    len(kv),
	}).Info("session opened")
	return s, true, nil
}

func (m *Manager) persister(id core.ParticipantID) persistFunc {
	return func(key, value string) {
		if m.store == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.SaveKey(ctx, id, key, value); err != nil {
			logging.WithField("participant", string(id)).Warn("persist %s: %v", key, err)
		}
	}
}

// Get returns a live session.
func (m *Manager) Get(id core.ParticipantID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, core.E(core.KindNotFound, "session.Get", core.ErrSessionNotFound)
	}
	m.seen[id] = m.now()
	return s, nil
}

// Close drops a live session. Persisted keys are kept.
func (m *Manager) Close(id core.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.seen, id)
}

// EvictIdle drops sessions untouched for longer than maxIdle and returns how
// many went. Sessions waiting on an upstream call stay.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxIdle)
	evicted := 0
	for id, s := range m.sessions {
		if !m.seen[id].Before(cutoff) || s.Busy() {
			continue
		}
		delete(m.sessions, id)
		delete(m.seen, id)
		evicted++
	}
	return evicted
}

// Len counts live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
