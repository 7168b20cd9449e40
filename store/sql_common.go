package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentcore/taskgraph/session"
	"github.com/google/uuid"
)

// sqlStore is a Store implementation backed by database/sql, shared by
// the SQLite and MySQL backends below since both drivers accept "?"
// placeholders and the schema is dialect-neutral. Grounded on the
// teacher's graph/store/sqlite.go and graph/store/mysql.go table-per-
// concern layout, adapted from workflow-step rows to
// session/evidence/checkpoint/timeline rows.
//
// mu serializes all mutations against a single logical lock
// (SPEC_FULL.md §5); upserts are implemented as delete-then-insert
// within that lock rather than dialect-specific "ON CONFLICT"/"ON
// DUPLICATE KEY" syntax, so the same code path runs unmodified against
// both SQLite and MySQL.
type sqlStore struct {
	mu             sync.Mutex
	db             *sql.DB
	maxCheckpoints int
	clock          Clock
	sessionID      string // the one active session this process created/loaded
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	project_root TEXT NOT NULL,
	resume_count INTEGER NOT NULL DEFAULT 0,
	paused INTEGER NOT NULL DEFAULT 0,
	module_states TEXT NOT NULL,
	latest_checkpoint_id TEXT
);
CREATE TABLE IF NOT EXISTS timeline_events (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	ts TEXT NOT NULL,
	type TEXT NOT NULL,
	summary TEXT NOT NULL,
	data TEXT
);
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at TEXT NOT NULL,
	reason TEXT NOT NULL,
	token_usage TEXT NOT NULL,
	module_states_snapshot TEXT NOT NULL,
	files_changed TEXT NOT NULL,
	metadata TEXT,
	resume_state TEXT
);
CREATE TABLE IF NOT EXISTS evidence (
	session_id TEXT PRIMARY KEY,
	last_guard_run TEXT,
	last_test_run TEXT
);
CREATE TABLE IF NOT EXISTS token_usage (
	session_id TEXT PRIMARY KEY,
	used INTEGER NOT NULL,
	estimated_total INTEGER NOT NULL,
	percentage REAL NOT NULL,
	last_updated TEXT NOT NULL
);
`

func newSQLStore(db *sql.DB, maxCheckpoints int, clock Clock) (*sqlStore, error) {
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if maxCheckpoints <= 0 {
		maxCheckpoints = DefaultMaxCheckpoints
	}
	if clock == nil {
		clock = time.Now
	}
	return &sqlStore{db: db, maxCheckpoints: maxCheckpoints, clock: clock}, nil
}

func (s *sqlStore) now() time.Time { return s.clock() }

func (s *sqlStore) CreateSession(ctx context.Context, projectRoot string) (*session.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at, project_root, resume_count, paused, module_states) VALUES (?, ?, ?, ?, 0, 0, ?)`,
		id, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), projectRoot, "{}")
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	s.sessionID = id
	return &session.State{
		Version:      session.Version,
		SessionID:    id,
		CreatedAt:    now,
		UpdatedAt:    now,
		ModuleStates: map[string]json.RawMessage{},
		Metadata:     session.Metadata{ProjectRoot: projectRoot},
	}, nil
}

func (s *sqlStore) GetSession(ctx context.Context) (*session.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSessionUnlocked(ctx)
}

func (s *sqlStore) getSessionUnlocked(ctx context.Context) (*session.State, error) {
	if s.sessionID == "" {
		return nil, ErrNoActiveSession
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, project_root, resume_count, paused, module_states, latest_checkpoint_id FROM sessions WHERE id = ?`,
		s.sessionID)

	var (
		id, createdAt, updatedAt, projectRoot, moduleStatesRaw string
		resumeCount                                            int
		paused                                                 int
		latestCheckpointID                                     sql.NullString
	)
	if err := row.Scan(&id, &createdAt, &updatedAt, &projectRoot, &resumeCount, &paused, &moduleStatesRaw, &latestCheckpointID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var moduleStates map[string]json.RawMessage
	_ = json.Unmarshal([]byte(moduleStatesRaw), &moduleStates)

	st := &session.State{
		Version:      session.Version,
		SessionID:    id,
		CreatedAt:    parseTime(createdAt),
		UpdatedAt:    parseTime(updatedAt),
		ModuleStates: moduleStates,
		Metadata:     session.Metadata{ProjectRoot: projectRoot, ResumeCount: resumeCount},
		Paused:       paused != 0,
	}
	if latestCheckpointID.Valid {
		v := latestCheckpointID.String
		st.LatestCheckpointID = &v
	}

	events, err := s.loadTimeline(ctx, id)
	if err != nil {
		return nil, err
	}
	st.Timeline = events
	return st, nil
}

func (s *sqlStore) loadTimeline(ctx context.Context, sessionID string) ([]session.TimelineEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, type, summary, data FROM timeline_events WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.TimelineEvent
	for rows.Next() {
		var ts, typ, summary string
		var data sql.NullString
		if err := rows.Scan(&ts, &typ, &summary, &data); err != nil {
			return nil, err
		}
		ev := session.TimelineEvent{Ts: parseTime(ts), Type: typ, Summary: summary}
		if data.Valid {
			ev.Data = json.RawMessage(data.String)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *sqlStore) EndSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" {
		return ErrNoActiveSession
	}
	return nil
}

func (s *sqlStore) setPaused(ctx context.Context, paused bool, bumpResume bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" {
		return ErrNoActiveSession
	}
	now := s.now().Format(time.RFC3339Nano)
	if bumpResume {
		_, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET paused = ?, updated_at = ?, resume_count = resume_count + 1 WHERE id = ?`,
			boolToInt(paused), now, s.sessionID)
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET paused = ?, updated_at = ? WHERE id = ?`,
		boolToInt(paused), now, s.sessionID)
	return err
}

func (s *sqlStore) PauseSession(ctx context.Context) error  { return s.setPaused(ctx, true, false) }
func (s *sqlStore) ResumeSession(ctx context.Context) error { return s.setPaused(ctx, false, true) }

func (s *sqlStore) RecordEvent(ctx context.Context, ev session.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" {
		return ErrNoActiveSession
	}
	var seq int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM timeline_events WHERE session_id = ?`, s.sessionID)
	if err := row.Scan(&seq); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timeline_events (session_id, seq, ts, type, summary, data) VALUES (?, ?, ?, ?, ?, ?)`,
		s.sessionID, seq, ev.Ts.Format(time.RFC3339Nano), ev.Type, ev.Summary, string(ev.Data))
	if err != nil {
		return err
	}
	// Trim beyond the cap, keeping the most recent DefaultTimelineCap rows.
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM timeline_events WHERE session_id = ? AND seq <= (SELECT MAX(seq) FROM timeline_events WHERE session_id = ?) - ?`,
		s.sessionID, s.sessionID, DefaultTimelineCap)
	return err
}

func (s *sqlStore) GetEvidence(ctx context.Context) (session.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getEvidenceUnlocked(ctx)
}

func (s *sqlStore) getEvidenceUnlocked(ctx context.Context) (session.Evidence, error) {
	if s.sessionID == "" {
		return session.Evidence{}, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT last_guard_run, last_test_run FROM evidence WHERE session_id = ?`, s.sessionID)
	var guard, test sql.NullString
	if err := row.Scan(&guard, &test); err != nil {
		if err == sql.ErrNoRows {
			return session.Evidence{}, nil
		}
		return session.Evidence{}, err
	}
	var ev session.Evidence
	if guard.Valid {
		var g session.GuardEvidence
		if err := json.Unmarshal([]byte(guard.String), &g); err == nil {
			ev.LastGuardRun = &g
		}
	}
	if test.Valid {
		var t session.TestEvidence
		if err := json.Unmarshal([]byte(test.String), &t); err == nil {
			ev.LastTestRun = &t
		}
	}
	return ev, nil
}

func (s *sqlStore) upsertEvidence(ctx context.Context, guardJSON, testJSON *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" {
		return ErrNoActiveSession
	}
	existing, err := s.getEvidenceUnlocked(ctx)
	if err != nil {
		return err
	}
	g := marshalOrNil(existing.LastGuardRun)
	t := marshalOrNil(existing.LastTestRun)
	if guardJSON != nil {
		g = guardJSON
	}
	if testJSON != nil {
		t = testJSON
	}
	// Delete-then-insert rather than "ON CONFLICT" so the statement runs
	// unmodified against both SQLite and MySQL.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM evidence WHERE session_id = ?`, s.sessionID); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evidence (session_id, last_guard_run, last_test_run) VALUES (?, ?, ?)`,
		s.sessionID, nullableString(g), nullableString(t))
	return err
}

func (s *sqlStore) SetGuardEvidence(ctx context.Context, ev session.GuardEvidence) error {
	if len(ev.FailingRules) > session.MaxDetailItems {
		ev.FailingRules = ev.FailingRules[:session.MaxDetailItems]
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	str := string(b)
	return s.upsertEvidence(ctx, &str, nil)
}

func (s *sqlStore) SetTestEvidence(ctx context.Context, ev session.TestEvidence) error {
	if len(ev.FailingTests) > session.MaxDetailItems {
		ev.FailingTests = ev.FailingTests[:session.MaxDetailItems]
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	str := string(b)
	return s.upsertEvidence(ctx, nil, &str)
}

func (s *sqlStore) CreateCheckpoint(ctx context.Context, params CheckpointParams) (*session.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" {
		return nil, ErrNoActiveSession
	}
	sess, err := s.getSessionUnlocked(ctx)
	if err != nil {
		return nil, err
	}
	tu, err := s.currentTokenUsageUnlocked(ctx)
	if err != nil {
		return nil, err
	}

	cp := session.Checkpoint{
		ID:                   uuid.NewString(),
		Name:                 params.Name,
		CreatedAt:            s.now(),
		Reason:               params.Reason,
		TokenUsage:           tu,
		Session:              session.SessionRef{ID: sess.SessionID, StartedAt: sess.CreatedAt},
		ModuleStatesSnapshot: cloneModuleStates(sess.ModuleStates),
		FilesChanged:         params.FilesChanged,
		Metadata:             params.Metadata,
		ResumeState:          params.ResumeState,
	}

	moduleStatesJSON, _ := json.Marshal(cp.ModuleStatesSnapshot)
	filesChangedJSON, _ := json.Marshal(cp.FilesChanged)
	metadataJSON, _ := json.Marshal(cp.Metadata)
	tokenUsageJSON, _ := json.Marshal(cp.TokenUsage)
	var resumeStateJSON []byte
	if cp.ResumeState != nil {
		resumeStateJSON, _ = json.Marshal(cp.ResumeState)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, session_id, name, created_at, reason, token_usage, module_states_snapshot, files_changed, metadata, resume_state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, s.sessionID, cp.Name, cp.CreatedAt.Format(time.RFC3339Nano), string(cp.Reason),
		string(tokenUsageJSON), string(moduleStatesJSON), string(filesChangedJSON),
		nullableString(stringPtrOrNil(metadataJSON)), nullableString(stringPtrOrNil(resumeStateJSON)))
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `UPDATE sessions SET latest_checkpoint_id = ? WHERE id = ?`, cp.ID, s.sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.evictCheckpoints(ctx); err != nil {
		return nil, err
	}

	return &cp, nil
}

func (s *sqlStore) evictCheckpoints(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM checkpoints WHERE session_id = ? ORDER BY created_at DESC`, s.sessionID)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) <= s.maxCheckpoints {
		return nil
	}
	for _, id := range ids[s.maxCheckpoints:] {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) ListCheckpoints(ctx context.Context) ([]session.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, reason, token_usage, module_states_snapshot, files_changed, metadata, resume_state
		 FROM checkpoints WHERE session_id = ? ORDER BY created_at ASC`, s.sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows, s.sessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner, sessionID string) (session.Checkpoint, error) {
	var (
		id, name, createdAt, reason, tokenUsageJSON, moduleStatesJSON, filesChangedJSON string
		metadata, resumeState                                                           sql.NullString
	)
	if err := row.Scan(&id, &name, &createdAt, &reason, &tokenUsageJSON, &moduleStatesJSON, &filesChangedJSON, &metadata, &resumeState); err != nil {
		return session.Checkpoint{}, err
	}
	cp := session.Checkpoint{
		ID:        id,
		Name:      name,
		CreatedAt: parseTime(createdAt),
		Reason:    session.CheckpointReason(reason),
	}
	_ = json.Unmarshal([]byte(tokenUsageJSON), &cp.TokenUsage)
	_ = json.Unmarshal([]byte(moduleStatesJSON), &cp.ModuleStatesSnapshot)
	_ = json.Unmarshal([]byte(filesChangedJSON), &cp.FilesChanged)
	if metadata.Valid {
		_ = json.Unmarshal([]byte(metadata.String), &cp.Metadata)
	}
	if resumeState.Valid {
		var rs session.ResumeState
		if err := json.Unmarshal([]byte(resumeState.String), &rs); err == nil {
			cp.ResumeState = &rs
		}
	}
	return cp, nil
}

func (s *sqlStore) RestoreCheckpoint(ctx context.Context, id string) (*session.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, reason, token_usage, module_states_snapshot, files_changed, metadata, resume_state
		 FROM checkpoints WHERE id = ?`, id)
	cp, err := scanCheckpoint(row, s.sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if s.sessionID != "" {
		moduleStatesJSON, _ := json.Marshal(cp.ModuleStatesSnapshot)
		_, err = s.db.ExecContext(ctx, `UPDATE sessions SET latest_checkpoint_id = ?, module_states = ?, updated_at = ? WHERE id = ?`,
			cp.ID, string(moduleStatesJSON), s.now().Format(time.RFC3339Nano), s.sessionID)
		if err != nil {
			return nil, err
		}
	}
	return &cp, nil
}

func (s *sqlStore) DeleteCheckpoint(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) currentTokenUsageUnlocked(ctx context.Context) (session.TokenUsage, error) {
	if s.sessionID == "" {
		return session.TokenUsage{}, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT used, estimated_total, percentage, last_updated FROM token_usage WHERE session_id = ?`, s.sessionID)
	var used, estimated int64
	var pct float64
	var lastUpdated string
	if err := row.Scan(&used, &estimated, &pct, &lastUpdated); err != nil {
		if err == sql.ErrNoRows {
			return session.TokenUsage{}, nil
		}
		return session.TokenUsage{}, err
	}
	return session.TokenUsage{Used: used, EstimatedTotal: estimated, Percentage: pct, LastUpdated: parseTime(lastUpdated)}, nil
}

func (s *sqlStore) UpdateTokenUsage(ctx context.Context, used int64, estimatedTotal int64) (session.TokenUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" {
		return session.TokenUsage{}, ErrNoActiveSession
	}
	cur, err := s.currentTokenUsageUnlocked(ctx)
	if err != nil {
		return session.TokenUsage{}, err
	}
	cur.Used = used
	if estimatedTotal > 0 {
		cur.EstimatedTotal = estimatedTotal
	}
	if cur.EstimatedTotal > 0 {
		cur.Percentage = float64(cur.Used) / float64(cur.EstimatedTotal) * 100
	}
	cur.LastUpdated = s.now()

	// Delete-then-insert rather than "ON CONFLICT" so the statement runs
	// unmodified against both SQLite and MySQL.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM token_usage WHERE session_id = ?`, s.sessionID); err != nil {
		return session.TokenUsage{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO token_usage (session_id, used, estimated_total, percentage, last_updated) VALUES (?, ?, ?, ?, ?)`,
		s.sessionID, cur.Used, cur.EstimatedTotal, cur.Percentage, cur.LastUpdated.Format(time.RFC3339Nano))
	if err != nil {
		return session.TokenUsage{}, err
	}
	return cur, nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalOrNil(v any) *string {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	str := string(b)
	return &str
}

func stringPtrOrNil(b []byte) *string {
	if b == nil {
		return nil
	}
	str := string(b)
	return &str
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
