// Package sessionmgr owns the admitted Session table and the admission
// decision for new sessions. Shaped after internal/store/store.go's
// (in-memory map + sync.RWMutex shape) and internal/sessions/store.go,
// merged into one manager since both guarded the same concept under two
// names; internal/events/store.go's append-only event log is folded in here
// too rather than kept as a third store.
package sessionmgr

import (
	"context"
	"errors"
	"sync"
	"time"

	"turnmesh/internal/backpressure"
	"turnmesh/internal/logging"
	"turnmesh/internal/types"
)

var (
	ErrSessionExists   = errors.New("sessionmgr: session already exists")
	ErrSessionNotFound = errors.New("sessionmgr: session not found")
	ErrAtCapacity      = errors.New("sessionmgr: at capacity, admission rejected")
)

const maxEventsPerSession = 200

// Manager owns the admitted Session table. It is process-local; Redis
// backing (AttachRedis) keeps a cross-process session *count* that Admit and
// Release update and log, without centralizing per-session state there.
// Admission is gated on this process's own count; the shared count is not
// consulted.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	events   map[string][]types.EventRecord

	maxConcurrent int
	bp            *backpressure.Controller

	redis redisCounter
}

// redisCounter is the minimal surface sessionmgr needs from a shared
// cross-process session counter; satisfied by *RedisBackend.
type redisCounter interface {
	Incr(ctx context.Context) (int64, error)
	Decr(ctx context.Context) (int64, error)
}

// New builds a Manager admitting at most maxConcurrent sessions, consulting
// bp's current ladder state (ShouldAllowNewSession, false at SESSION_REJECT)
// as a secondary gate.
func New(maxConcurrent int, bp *backpressure.Controller) *Manager {
	return &Manager{
		sessions:      make(map[string]*types.Session),
		events:        make(map[string][]types.EventRecord),
		maxConcurrent: maxConcurrent,
		bp:            bp,
	}
}

// AttachRedis wires a cross-process session counter, incremented on Admit
// and decremented on Release. Admission is gated only by this process's own
// in-memory count whether or not a counter is attached.
func (m *Manager) AttachRedis(r redisCounter) {
	m.redis = r
}

// Admit creates a new Session if capacity and backpressure both allow it.
func (m *Manager) Admit(ctx context.Context, id string, cfg types.SessionConfig) (*types.Session, error) {
	log := logging.For("sessionmgr")

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, ErrSessionExists
	}
	if len(m.sessions) >= m.maxConcurrent {
		m.mu.Unlock()
		return nil, ErrAtCapacity
	}
	if m.bp != nil && !m.bp.ShouldAllowNewSession() {
		m.mu.Unlock()
		return nil, ErrAtCapacity
	}

	sess := &types.Session{
		ID:        id,
		Config:    cfg,
		State:     types.StateIdle,
		CreatedAt: time.Now(),
		Context:   &types.ContextBuffer{},
	}
	m.sessions[id] = sess
	m.events[id] = make([]types.EventRecord, 0, 8)
	m.mu.Unlock()

	if m.redis != nil {
		if n, err := m.redis.Incr(ctx); err != nil {
			log.Warn().Err(err).Msg("redis session counter incr failed, continuing with local count only")
		} else {
			log.Debug().Int64("cluster_sessions", n).Msg("session admitted")
		}
	}
	log.Info().Str("session_id", id).Msg("session admitted")
	return sess, nil
}

// Get returns the session, or nil if it doesn't exist.
func (m *Manager) Get(id string) *types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Release removes a session from the table, decrementing the shared counter
// if Redis is attached. Idempotent: releasing an unknown id is a no-op.
func (m *Manager) Release(ctx context.Context, id string) {
	m.mu.Lock()
	_, existed := m.sessions[id]
	delete(m.sessions, id)
	delete(m.events, id)
	m.mu.Unlock()

	if !existed {
		return
	}
	if m.redis != nil {
		if _, err := m.redis.Decr(ctx); err != nil {
			sm := logging.For("sessionmgr")
			sm.Warn().Err(err).Msg("redis session counter decr failed")
		}
	}
}

// Count returns the number of sessions admitted on this process.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ListIDs returns all admitted session ids.
func (m *Manager) ListIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// AppendEvent records one analytics event for a session, trimming the log
// to maxEventsPerSession by dropping the oldest entries and appending a
// truncation marker, same bookkeeping shape as the old AppendEvent.
func (m *Manager) AppendEvent(sessionID, eventType string, data map[string]any, tAudioMs uint32) (types.EventRecord, error) {
	evt := types.EventRecord{
		SessionID: sessionID,
		EventType: eventType,
		EventData: data,
		TAudioMs:  tAudioMs,
		At:        time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return types.EventRecord{}, ErrSessionNotFound
	}
	log := append(m.events[sessionID], evt)
	if len(log) > maxEventsPerSession {
		keep := maxEventsPerSession - 1
		dropped := len(log) - keep
		log = append([]types.EventRecord(nil), log[len(log)-keep:]...)
		log = append(log, types.EventRecord{
			SessionID: sessionID,
			EventType: "events_truncated",
			EventData: map[string]any{"dropped": dropped, "kept": keep},
			At:        time.Now().UTC(),
		})
	}
	m.events[sessionID] = log
	return evt, nil
}

// ListEvents returns a copy of a session's event log.
func (m *Manager) ListEvents(sessionID string) []types.EventRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.events[sessionID]
	out := make([]types.EventRecord, len(src))
	copy(out, src)
	return out
}

// Snapshot produces the SessionRecord analytics row for a session.
func (m *Manager) Snapshot(sessionID string) (types.SessionRecord, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return types.SessionRecord{}, false
	}

	var rec types.SessionRecord
	sess.WithLock(func() {
		rec = types.SessionRecord{
			ID:                   sess.ID,
			CreatedAt:            sess.CreatedAt,
			State:                sess.State,
			TurnsCompleted:       sess.TurnsDone,
			TotalAudioMs:         sess.TotalAudioMs,
			BargeInCount:         sess.BargeInCount,
			ContextRolloverCount: sess.RolloverCount,
		}
	})
	return rec, true
}
