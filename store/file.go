package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentcore/taskgraph/eventbus"
	"github.com/agentcore/taskgraph/session"
	"github.com/google/uuid"
)

// FileStore persists session, evidence, and checkpoint state as JSON
// files under a per-project .state/ directory, matching the bit-exact
// layout of SPEC_FULL.md §6.3. Grounded on
// _examples/2389-research-mammoth/attractor/runstate_fs.go's
// FSRunStateStore: same atomic write-to-temp+rename primitive (extended
// here with an explicit fsync before rename, since SPEC_FULL.md requires
// it and the teacher source did not call Sync()), same "missing file is
// empty state, not an error" read semantics.
type FileStore struct {
	mu             sync.Mutex
	baseDir        string
	maxCheckpoints int
	timelineCap    int
	debounce       time.Duration
	clock          Clock
	emitter        EventEmitter

	current           *session.State
	saveTimer         *time.Timer
	consecutiveFailed int
}

// FileStoreOption configures a FileStore at construction time.
type FileStoreOption func(*FileStore)

// WithMaxCheckpoints overrides DefaultMaxCheckpoints.
func WithMaxCheckpoints(n int) FileStoreOption {
	return func(f *FileStore) { f.maxCheckpoints = n }
}

// WithTimelineCap overrides DefaultTimelineCap.
func WithTimelineCap(n int) FileStoreOption {
	return func(f *FileStore) { f.timelineCap = n }
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) FileStoreOption {
	return func(f *FileStore) { f.debounce = d }
}

// WithClock injects a deterministic clock (tests only; production omits
// this and gets time.Now).
func WithClock(c Clock) FileStoreOption {
	return func(f *FileStore) { f.clock = c }
}

// WithEmitter wires an event sink for evidence:updated,
// state:persistence:degraded, and resource:checkpoint notifications.
func WithEmitter(e EventEmitter) FileStoreOption {
	return func(f *FileStore) { f.emitter = e }
}

// NewFileStore opens (creating if necessary) a .state/ directory under
// baseDir.
func NewFileStore(baseDir string, opts ...FileStoreOption) (*FileStore, error) {
	stateDir := filepath.Join(baseDir, ".state")
	if err := os.MkdirAll(filepath.Join(stateDir, "checkpoints"), 0o755); err != nil {
		return nil, fmt.Errorf("store: create state dir: %w", err)
	}
	f := &FileStore{
		baseDir:        stateDir,
		maxCheckpoints: DefaultMaxCheckpoints,
		timelineCap:    DefaultTimelineCap,
		debounce:       DefaultDebounce,
		clock:          time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

func (f *FileStore) now() time.Time { return f.clock() }

func (f *FileStore) checkpointDir() string { return filepath.Join(f.baseDir, "checkpoints") }

func (f *FileStore) sessionPath(id string) string {
	return filepath.Join(f.baseDir, "session-"+id+".json")
}

func (f *FileStore) checkpointPath(id string) string {
	return filepath.Join(f.checkpointDir(), id+".json")
}

// writeJSONAtomic writes v to path via write-to-temp, fsync, rename.
// Extends the teacher's runstate_fs.go helper with an explicit Sync()
// call to satisfy SPEC_FULL.md §4.1's durability requirement.
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	tmpPath = "" // committed; do not clean up
	return nil
}

// readJSON reads and unmarshals path into v. A missing file is reported
// via (false, nil) rather than an error, matching §4.1's "return empty
// state on missing file" rule. A malformed file is logged (via the
// emitter, if any) and also treated as missing — it must never crash the
// caller.
func (f *FileStore) readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		if f.emitter != nil {
			f.emitter.Emit(eventbus.Event{
				Type: eventbus.TypeStatePersistenceDegraded,
				Ts:   f.now(),
				Data: map[string]any{"path": path, "error": err.Error(), "kind": "malformed"},
			})
		}
		return false, nil
	}
	return true, nil
}

func (f *FileStore) emit(evType, nodeID string, data map[string]any) {
	if f.emitter == nil {
		return
	}
	f.emitter.Emit(eventbus.Event{Type: evType, NodeID: nodeID, Ts: f.now(), Data: data})
}

// loadCurrentLocked loads the active session from disk if not already
// cached in memory. Caller must hold f.mu. Since the file layout names
// sessions by id and there is exactly one "active" session per project
// directory, the store tracks a pointer file implicitly via f.current
// once a session has been created or loaded in this process; a cold
// store with no in-memory session and an ambiguous set of session-*.json
// files on disk has no session to resume until CreateSession or an
// explicit load-by-id is performed by the host.
func (f *FileStore) loadCurrentLocked() *session.State {
	return f.current
}

// GetSession returns the active in-memory session (ErrNoActiveSession if
// none has been created or loaded yet).
func (f *FileStore) GetSession(ctx context.Context) (*session.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil, ErrNoActiveSession
	}
	cp := *f.current
	return &cp, nil
}

// CreateSession creates a brand-new session and writes it synchronously
// (a session creation is not debounced; it establishes durable state the
// rest of the process depends on).
func (f *FileStore) CreateSession(ctx context.Context, projectRoot string) (*session.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	s := &session.State{
		Version:      session.Version,
		SessionID:    uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
		ModuleStates: map[string]json.RawMessage{},
		Timeline:     nil,
		Metadata:     session.Metadata{ProjectRoot: projectRoot, ResumeCount: 0},
	}
	if err := writeJSONAtomic(f.sessionPath(s.SessionID), s); err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	f.current = s
	cp := *s
	return &cp, nil
}

// EndSession flushes any pending debounced save and emits session:end.
func (f *FileStore) EndSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return ErrNoActiveSession
	}
	if err := f.saveLocked(); err != nil {
		return err
	}
	f.emit(eventbus.TypeSessionEnd, "", map[string]any{"sessionId": f.current.SessionID})
	return nil
}

func (f *FileStore) PauseSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return ErrNoActiveSession
	}
	f.current.Paused = true
	f.current.UpdatedAt = f.now()
	f.scheduleDebouncedSaveLocked()
	return nil
}

func (f *FileStore) ResumeSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return ErrNoActiveSession
	}
	f.current.Paused = false
	f.current.Metadata.ResumeCount++
	f.current.UpdatedAt = f.now()
	f.scheduleDebouncedSaveLocked()
	return nil
}

// RecordEvent appends a timeline event, trims to the configured cap, and
// schedules a debounced save (SPEC_FULL.md §4.1).
func (f *FileStore) RecordEvent(ctx context.Context, ev session.TimelineEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return ErrNoActiveSession
	}
	f.current.AppendEvent(ev, f.timelineCap)
	f.current.UpdatedAt = f.now()
	f.scheduleDebouncedSaveLocked()
	return nil
}

// scheduleDebouncedSaveLocked arms (or re-arms) a timer that performs a
// synchronous save after f.debounce elapses. Caller must hold f.mu.
func (f *FileStore) scheduleDebouncedSaveLocked() {
	if f.debounce <= 0 {
		_ = f.saveLocked()
		return
	}
	if f.saveTimer != nil {
		f.saveTimer.Stop()
	}
	f.saveTimer = time.AfterFunc(f.debounce, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = f.saveLocked()
	})
}

// saveLocked performs the synchronous write; caller must hold f.mu. On
// failure it increments the consecutive-failure counter and, past
// DegradedThreshold, emits state:persistence:degraded; it never corrupts
// the in-memory session (SPEC_FULL.md §4.1 failure semantics).
func (f *FileStore) saveLocked() error {
	if f.current == nil {
		return ErrNoActiveSession
	}
	if err := writeJSONAtomic(f.sessionPath(f.current.SessionID), f.current); err != nil {
		f.consecutiveFailed++
		if f.consecutiveFailed >= DegradedThreshold {
			f.emit(eventbus.TypeStatePersistenceDegraded, "", map[string]any{
				"sessionId":         f.current.SessionID,
				"consecutiveFailed": f.consecutiveFailed,
				"error":             err.Error(),
			})
		}
		return err
	}
	f.consecutiveFailed = 0
	return nil
}

// Flush forces any pending debounced save to complete synchronously.
func (f *FileStore) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveTimer != nil {
		f.saveTimer.Stop()
		f.saveTimer = nil
	}
	if f.current == nil {
		return nil
	}
	return f.saveLocked()
}

// GetEvidence reads evidence out of the module state map under a
// well-known key, since evidence is conceptually a narrow slice of
// module state owned by the guard/test collaborator adapters
// (SPEC_FULL.md §3 "owned by the State Store").
const evidenceModuleKey = "__evidence__"

func (f *FileStore) GetEvidence(ctx context.Context) (session.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getEvidenceLocked()
}

func (f *FileStore) getEvidenceLocked() (session.Evidence, error) {
	if f.current == nil {
		return session.Evidence{}, nil
	}
	raw, ok := f.current.ModuleStates[evidenceModuleKey]
	if !ok {
		return session.Evidence{}, nil
	}
	var ev session.Evidence
	if err := json.Unmarshal(raw, &ev); err != nil {
		return session.Evidence{}, nil
	}
	return ev, nil
}

func (f *FileStore) setEvidenceLocked(ev session.Evidence) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if f.current.ModuleStates == nil {
		f.current.ModuleStates = map[string]json.RawMessage{}
	}
	f.current.ModuleStates[evidenceModuleKey] = raw
	f.current.UpdatedAt = f.now()
	return nil
}

func (f *FileStore) SetGuardEvidence(ctx context.Context, ev session.GuardEvidence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return ErrNoActiveSession
	}
	evidence, err := f.getEvidenceLocked()
	if err != nil {
		return err
	}
	capped := ev
	if len(capped.FailingRules) > session.MaxDetailItems {
		capped.FailingRules = capped.FailingRules[:session.MaxDetailItems]
	}
	evidence.LastGuardRun = &capped
	if err := f.setEvidenceLocked(evidence); err != nil {
		return err
	}
	f.scheduleDebouncedSaveLocked()
	f.emit(eventbus.TypeEvidenceUpdated, "", map[string]any{"stream": "guard", "status": string(capped.Status)})
	return nil
}

func (f *FileStore) SetTestEvidence(ctx context.Context, ev session.TestEvidence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return ErrNoActiveSession
	}
	evidence, err := f.getEvidenceLocked()
	if err != nil {
		return err
	}
	capped := ev
	if len(capped.FailingTests) > session.MaxDetailItems {
		capped.FailingTests = capped.FailingTests[:session.MaxDetailItems]
	}
	evidence.LastTestRun = &capped
	if err := f.setEvidenceLocked(evidence); err != nil {
		return err
	}
	f.scheduleDebouncedSaveLocked()
	f.emit(eventbus.TypeEvidenceUpdated, "", map[string]any{"stream": "test", "status": string(capped.Status)})
	return nil
}

// CreateCheckpoint writes a checkpoint file synchronously (checkpoints
// are never debounced, SPEC_FULL.md §4.1) and enforces FIFO eviction
// beyond maxCheckpoints.
func (f *FileStore) CreateCheckpoint(ctx context.Context, params CheckpointParams) (*session.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil, ErrNoActiveSession
	}

	now := f.now()
	cp := &session.Checkpoint{
		ID:                   uuid.NewString(),
		Name:                 params.Name,
		CreatedAt:            now,
		Reason:               params.Reason,
		Session:              session.SessionRef{ID: f.current.SessionID, StartedAt: f.current.CreatedAt},
		ModuleStatesSnapshot: cloneModuleStates(f.current.ModuleStates),
		FilesChanged:         params.FilesChanged,
		Metadata:             params.Metadata,
		ResumeState:          params.ResumeState,
	}
	if err := writeJSONAtomic(f.checkpointPath(cp.ID), cp); err != nil {
		return nil, fmt.Errorf("store: create checkpoint: %w", err)
	}

	id := cp.ID
	f.current.LatestCheckpointID = &id
	f.scheduleDebouncedSaveLocked()

	if err := f.evictCheckpointsLocked(); err != nil {
		return nil, err
	}

	f.emit(eventbus.TypeResourceCheckpoint, "", map[string]any{"checkpointId": cp.ID, "reason": string(cp.Reason)})

	out := *cp
	return &out, nil
}

func cloneModuleStates(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// evictCheckpointsLocked deletes the oldest checkpoints beyond
// maxCheckpoints, keeping the maxCheckpoints most recently created
// (invariant 7, SPEC_FULL.md §8).
func (f *FileStore) evictCheckpointsLocked() error {
	entries, err := f.listCheckpointFilesLocked()
	if err != nil {
		return err
	}
	if len(entries) <= f.maxCheckpoints {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].createdAt.Before(entries[j].createdAt) })
	toRemove := entries[:len(entries)-f.maxCheckpoints]
	for _, e := range toRemove {
		os.Remove(e.path)
	}
	return nil
}

type checkpointFileInfo struct {
	id        string
	path      string
	createdAt time.Time
}

func (f *FileStore) listCheckpointFilesLocked() ([]checkpointFileInfo, error) {
	entries, err := os.ReadDir(f.checkpointDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]checkpointFileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(f.checkpointDir(), e.Name())
		var cp session.Checkpoint
		ok, err := f.readJSON(path, &cp)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, checkpointFileInfo{id: cp.ID, path: path, createdAt: cp.CreatedAt})
	}
	return out, nil
}

func (f *FileStore) ListCheckpoints(ctx context.Context) ([]session.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	infos, err := f.listCheckpointFilesLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].createdAt.Before(infos[j].createdAt) })
	out := make([]session.Checkpoint, 0, len(infos))
	for _, info := range infos {
		var cp session.Checkpoint
		ok, err := f.readJSON(info.path, &cp)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (f *FileStore) RestoreCheckpoint(ctx context.Context, id string) (*session.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cp session.Checkpoint
	ok, err := f.readJSON(f.checkpointPath(id), &cp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if f.current != nil {
		id := cp.ID
		f.current.LatestCheckpointID = &id
		f.current.ModuleStates = cloneModuleStates(cp.ModuleStatesSnapshot)
		f.current.UpdatedAt = f.now()
		f.scheduleDebouncedSaveLocked()
	}
	return &cp, nil
}

func (f *FileStore) DeleteCheckpoint(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.checkpointPath(id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return os.Remove(path)
}

// UpdateTokenUsage recomputes Percentage from used/estimatedTotal and
// stores the result in module state under a well-known key (mirroring
// evidence's storage convention); estimatedTotal of 0 means "keep the
// previously recorded estimate".
const tokenUsageModuleKey = "__token_usage__"

func (f *FileStore) UpdateTokenUsage(ctx context.Context, used int64, estimatedTotal int64) (session.TokenUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return session.TokenUsage{}, ErrNoActiveSession
	}

	var tu session.TokenUsage
	if raw, ok := f.current.ModuleStates[tokenUsageModuleKey]; ok {
		_ = json.Unmarshal(raw, &tu)
	}
	tu.Used = used
	if estimatedTotal > 0 {
		tu.EstimatedTotal = estimatedTotal
	}
	if tu.EstimatedTotal > 0 {
		tu.Percentage = float64(tu.Used) / float64(tu.EstimatedTotal) * 100
	}
	tu.LastUpdated = f.now()

	raw, err := json.Marshal(tu)
	if err != nil {
		return session.TokenUsage{}, err
	}
	if f.current.ModuleStates == nil {
		f.current.ModuleStates = map[string]json.RawMessage{}
	}
	f.current.ModuleStates[tokenUsageModuleKey] = raw
	f.current.UpdatedAt = f.now()
	f.scheduleDebouncedSaveLocked()
	return tu, nil
}

func (f *FileStore) Close() error {
	return f.Flush(context.Background())
}
