package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/agentcore/taskgraph/session"
	"github.com/google/uuid"
)

// MemStore is a thread-safe in-memory Store implementation, grounded on
// the teacher's graph/store/memory.go MemStore: a mutex-guarded struct of
// maps, no disk I/O, used here for unit tests and short-lived embeddings
// that do not need durability.
type MemStore struct {
	mu             sync.Mutex
	maxCheckpoints int
	timelineCap    int
	clock          Clock
	emitter        EventEmitter

	current     *session.State
	evidence    session.Evidence
	tokenUsage  session.TokenUsage
	checkpoints map[string]session.Checkpoint
	cpOrder     []string // insertion order; FIFO eviction follows it
}

// NewMemStore creates an empty MemStore.
func NewMemStore(opts ...FileStoreOption) *MemStore {
	// Reuse FileStoreOption's shape by applying to a throwaway FileStore
	// and copying the relevant fields, so both backends share one set of
	// functional options rather than inventing a parallel option type.
	tmp := &FileStore{maxCheckpoints: DefaultMaxCheckpoints, timelineCap: DefaultTimelineCap, clock: time.Now}
	for _, o := range opts {
		o(tmp)
	}
	return &MemStore{
		maxCheckpoints: tmp.maxCheckpoints,
		timelineCap:    tmp.timelineCap,
		clock:          tmp.clock,
		emitter:        tmp.emitter,
		checkpoints:    map[string]session.Checkpoint{},
	}
}

func (m *MemStore) now() time.Time { return m.clock() }

func (m *MemStore) GetSession(ctx context.Context) (*session.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoActiveSession
	}
	cp := *m.current
	return &cp, nil
}

func (m *MemStore) CreateSession(ctx context.Context, projectRoot string) (*session.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.current = &session.State{
		Version:      session.Version,
		SessionID:    uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
		ModuleStates: map[string]json.RawMessage{},
		Metadata:     session.Metadata{ProjectRoot: projectRoot},
	}
	cp := *m.current
	return &cp, nil
}

func (m *MemStore) EndSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoActiveSession
	}
	return nil
}

func (m *MemStore) PauseSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoActiveSession
	}
	m.current.Paused = true
	return nil
}

func (m *MemStore) ResumeSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoActiveSession
	}
	m.current.Paused = false
	m.current.Metadata.ResumeCount++
	return nil
}

func (m *MemStore) RecordEvent(ctx context.Context, ev session.TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoActiveSession
	}
	m.current.AppendEvent(ev, m.timelineCap)
	m.current.UpdatedAt = m.now()
	return nil
}

func (m *MemStore) GetEvidence(ctx context.Context) (session.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evidence, nil
}

func (m *MemStore) SetGuardEvidence(ctx context.Context, ev session.GuardEvidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ev.FailingRules) > session.MaxDetailItems {
		ev.FailingRules = ev.FailingRules[:session.MaxDetailItems]
	}
	m.evidence.LastGuardRun = &ev
	return nil
}

func (m *MemStore) SetTestEvidence(ctx context.Context, ev session.TestEvidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ev.FailingTests) > session.MaxDetailItems {
		ev.FailingTests = ev.FailingTests[:session.MaxDetailItems]
	}
	m.evidence.LastTestRun = &ev
	return nil
}

func (m *MemStore) CreateCheckpoint(ctx context.Context, params CheckpointParams) (*session.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoActiveSession
	}
	cp := session.Checkpoint{
		ID:                   uuid.NewString(),
		Name:                 params.Name,
		CreatedAt:            m.now(),
		Reason:               params.Reason,
		TokenUsage:           m.tokenUsage,
		Session:              session.SessionRef{ID: m.current.SessionID, StartedAt: m.current.CreatedAt},
		ModuleStatesSnapshot: cloneModuleStates(m.current.ModuleStates),
		FilesChanged:         params.FilesChanged,
		Metadata:             params.Metadata,
		ResumeState:          params.ResumeState,
	}
	m.checkpoints[cp.ID] = cp
	m.cpOrder = append(m.cpOrder, cp.ID)
	id := cp.ID
	m.current.LatestCheckpointID = &id

	m.evictLocked()
	out := cp
	return &out, nil
}

func (m *MemStore) evictLocked() {
	if len(m.cpOrder) <= m.maxCheckpoints {
		return
	}
	toRemove := m.cpOrder[:len(m.cpOrder)-m.maxCheckpoints]
	for _, id := range toRemove {
		delete(m.checkpoints, id)
	}
	m.cpOrder = m.cpOrder[len(m.cpOrder)-m.maxCheckpoints:]
}

func (m *MemStore) ListCheckpoints(ctx context.Context) ([]session.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]session.Checkpoint, 0, len(m.checkpoints))
	for _, cp := range m.checkpoints {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) RestoreCheckpoint(ctx context.Context, id string) (*session.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.current != nil {
		cpID := cp.ID
		m.current.LatestCheckpointID = &cpID
		m.current.ModuleStates = cloneModuleStates(cp.ModuleStatesSnapshot)
	}
	out := cp
	return &out, nil
}

func (m *MemStore) DeleteCheckpoint(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checkpoints[id]; !ok {
		return ErrNotFound
	}
	delete(m.checkpoints, id)
	for i, cid := range m.cpOrder {
		if cid == id {
			m.cpOrder = append(m.cpOrder[:i], m.cpOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemStore) UpdateTokenUsage(ctx context.Context, used int64, estimatedTotal int64) (session.TokenUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenUsage.Used = used
	if estimatedTotal > 0 {
		m.tokenUsage.EstimatedTotal = estimatedTotal
	}
	if m.tokenUsage.EstimatedTotal > 0 {
		m.tokenUsage.Percentage = float64(m.tokenUsage.Used) / float64(m.tokenUsage.EstimatedTotal) * 100
	}
	m.tokenUsage.LastUpdated = m.now()
	return m.tokenUsage, nil
}

func (m *MemStore) Close() error { return nil }
