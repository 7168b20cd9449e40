package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentcore/taskgraph/eventbus"
	"github.com/agentcore/taskgraph/session"
)

func newTestFileStore(t *testing.T, opts ...FileStoreOption) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), append([]FileStoreOption{WithDebounce(0)}, opts...)...)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return fs
}

func TestFileStoreCreateSessionPersistsImmediately(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	s, err := fs.CreateSession(ctx, "/proj")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	reopened, err := NewFileStore(filepath.Dir(fs.baseDir), WithDebounce(0))
	if err != nil {
		t.Fatalf("reopen NewFileStore failed: %v", err)
	}
	var onDisk session.State
	ok, err := reopened.readJSON(reopened.sessionPath(s.SessionID), &onDisk)
	if err != nil {
		t.Fatalf("readJSON failed: %v", err)
	}
	if !ok {
		t.Fatal("expected session file to exist on disk immediately after CreateSession")
	}
	if onDisk.SessionID != s.SessionID {
		t.Errorf("expected on-disk SessionID %q, got %q", s.SessionID, onDisk.SessionID)
	}
}

func TestFileStoreGetSessionNoActiveSession(t *testing.T) {
	fs := newTestFileStore(t)
	if _, err := fs.GetSession(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestFileStoreRecordEventDebouncedSave(t *testing.T) {
	fs := newTestFileStore(t, WithDebounce(20*time.Millisecond))
	ctx := context.Background()
	s, _ := fs.CreateSession(ctx, "/proj")

	if err := fs.RecordEvent(ctx, session.TimelineEvent{Type: "step"}); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	// Immediately after RecordEvent, the debounced save has not yet fired;
	// the on-disk copy still reflects the state as of CreateSession.
	var onDisk session.State
	fs.readJSON(fs.sessionPath(s.SessionID), &onDisk)
	if len(onDisk.Timeline) != 0 {
		t.Fatal("expected debounced save not to have fired yet")
	}

	time.Sleep(60 * time.Millisecond)
	onDisk = session.State{}
	ok, err := fs.readJSON(fs.sessionPath(s.SessionID), &onDisk)
	if err != nil || !ok {
		t.Fatalf("expected session file readable after debounce window, ok=%v err=%v", ok, err)
	}
	if len(onDisk.Timeline) != 1 {
		t.Fatalf("expected debounced save to have flushed the new event, got timeline %+v", onDisk.Timeline)
	}
}

func TestFileStoreFlushForcesSynchronousSave(t *testing.T) {
	fs := newTestFileStore(t, WithDebounce(time.Hour))
	ctx := context.Background()
	s, _ := fs.CreateSession(ctx, "/proj")
	fs.RecordEvent(ctx, session.TimelineEvent{Type: "step"})

	if err := fs.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	var onDisk session.State
	ok, _ := fs.readJSON(fs.sessionPath(s.SessionID), &onDisk)
	if !ok || len(onDisk.Timeline) != 1 {
		t.Fatalf("expected Flush to persist the pending event synchronously, ok=%v timeline=%+v", ok, onDisk.Timeline)
	}
}

func TestFileStoreEvidenceRoundTrip(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()
	fs.CreateSession(ctx, "/proj")

	guard := session.NewGuardEvidence(time.Now(), session.StatusFailed, "report-1", []string{"rule-x"}, "task-1")
	if err := fs.SetGuardEvidence(ctx, guard); err != nil {
		t.Fatalf("SetGuardEvidence failed: %v", err)
	}

	ev, err := fs.GetEvidence(ctx)
	if err != nil {
		t.Fatalf("GetEvidence failed: %v", err)
	}
	if ev.LastGuardRun == nil || ev.LastGuardRun.ReportID != "report-1" {
		t.Fatalf("expected guard evidence round-tripped through module state, got %+v", ev.LastGuardRun)
	}
}

func TestFileStoreEvidenceBeforeSessionErrors(t *testing.T) {
	fs := newTestFileStore(t)
	if err := fs.SetGuardEvidence(context.Background(), session.GuardEvidence{}); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestFileStoreCheckpointLifecycle(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()
	fs.CreateSession(ctx, "/proj")

	cp, err := fs.CreateCheckpoint(ctx, CheckpointParams{Name: "cp-1", Reason: session.ReasonManual})
	if err != nil {
		t.Fatalf("CreateCheckpoint failed: %v", err)
	}

	list, err := fs.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != cp.ID {
		t.Fatalf("expected one listed checkpoint %q, got %+v", cp.ID, list)
	}

	restored, err := fs.RestoreCheckpoint(ctx, cp.ID)
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}
	if restored.ID != cp.ID {
		t.Errorf("expected restored checkpoint %q, got %q", cp.ID, restored.ID)
	}

	if err := fs.DeleteCheckpoint(ctx, cp.ID); err != nil {
		t.Fatalf("DeleteCheckpoint failed: %v", err)
	}
	if _, err := fs.RestoreCheckpoint(ctx, cp.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileStoreCheckpointFIFOEviction(t *testing.T) {
	fs := newTestFileStore(t, WithMaxCheckpoints(2))
	ctx := context.Background()
	fs.CreateSession(ctx, "/proj")

	base := time.Unix(1000, 0)
	tick := 0
	fs.clock = func() time.Time {
		defer func() { tick++ }()
		return base.Add(time.Duration(tick) * time.Second)
	}

	var ids []string
	for i := 0; i < 4; i++ {
		cp, err := fs.CreateCheckpoint(ctx, CheckpointParams{Name: "cp"})
		if err != nil {
			t.Fatalf("CreateCheckpoint %d failed: %v", i, err)
		}
		ids = append(ids, cp.ID)
	}

	list, err := fs.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 checkpoints retained after FIFO eviction, got %d", len(list))
	}
	kept := map[string]bool{list[0].ID: true, list[1].ID: true}
	if !kept[ids[2]] || !kept[ids[3]] {
		t.Fatalf("expected the two most recent checkpoints retained, got %+v vs ids %v", list, ids)
	}
}

func TestFileStoreReadJSONMissingFileIsNotAnError(t *testing.T) {
	fs := newTestFileStore(t)
	var out session.Checkpoint
	ok, err := fs.readJSON(fs.checkpointPath("does-not-exist"), &out)
	if err != nil {
		t.Fatalf("expected no error for a missing file, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing file")
	}
}

func TestFileStoreReadJSONMalformedFileEmitsDegradedEvent(t *testing.T) {
	bus := eventbus.New(nil)
	var types []string
	bus.On(eventbus.TypeStatePersistenceDegraded, func(ev eventbus.Event) { types = append(types, ev.Type) })

	fs := newTestFileStore(t, WithEmitter(bus))
	path := fs.checkpointPath("corrupt")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("os.WriteFile failed: %v", err)
	}

	var out session.Checkpoint
	ok, err := fs.readJSON(path, &out)
	if err != nil {
		t.Fatalf("expected malformed JSON to be treated as missing, not an error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a malformed file")
	}
	if len(types) != 1 {
		t.Fatalf("expected one state:persistence:degraded event, got %v", types)
	}
}

func TestFileStoreUpdateTokenUsagePersistsEstimate(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()
	fs.CreateSession(ctx, "/proj")

	usage, err := fs.UpdateTokenUsage(ctx, 30, 100)
	if err != nil {
		t.Fatalf("UpdateTokenUsage failed: %v", err)
	}
	if usage.Percentage != 30 {
		t.Fatalf("expected 30%%, got %v", usage.Percentage)
	}

	usage, err = fs.UpdateTokenUsage(ctx, 60, 0)
	if err != nil {
		t.Fatalf("UpdateTokenUsage failed: %v", err)
	}
	if usage.EstimatedTotal != 100 || usage.Percentage != 60 {
		t.Fatalf("expected estimate to persist and percentage to recompute, got %+v", usage)
	}
}

func TestFileStoreCloseFlushesPendingSave(t *testing.T) {
	fs := newTestFileStore(t, WithDebounce(time.Hour))
	ctx := context.Background()
	s, _ := fs.CreateSession(ctx, "/proj")
	fs.RecordEvent(ctx, session.TimelineEvent{Type: "step"})

	if err := fs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var onDisk session.State
	ok, _ := fs.readJSON(fs.sessionPath(s.SessionID), &onDisk)
	if !ok || len(onDisk.Timeline) != 1 {
		t.Fatalf("expected Close to flush the pending debounced save, ok=%v timeline=%+v", ok, onDisk.Timeline)
	}
}

func TestFileStoreImplementsStore(t *testing.T) {
	fs := newTestFileStore(t)
	var _ Store = fs
}
