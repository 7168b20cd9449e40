package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentcore/taskgraph/session"
)

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

func TestMemStoreNoActiveSessionErrors(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	if _, err := m.GetSession(ctx); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("GetSession: expected ErrNoActiveSession, got %v", err)
	}
	if err := m.EndSession(ctx); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("EndSession: expected ErrNoActiveSession, got %v", err)
	}
	if err := m.RecordEvent(ctx, session.TimelineEvent{Type: "x"}); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("RecordEvent: expected ErrNoActiveSession, got %v", err)
	}
	if _, err := m.CreateCheckpoint(ctx, CheckpointParams{Name: "cp"}); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("CreateCheckpoint: expected ErrNoActiveSession, got %v", err)
	}
}

func TestMemStoreCreateAndGetSession(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	s, err := m.CreateSession(ctx, "/proj")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if s.SessionID == "" {
		t.Fatal("expected a generated SessionID")
	}
	if s.Metadata.ProjectRoot != "/proj" {
		t.Errorf("expected ProjectRoot '/proj', got %q", s.Metadata.ProjectRoot)
	}

	got, err := m.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.SessionID != s.SessionID {
		t.Errorf("expected session %q, got %q", s.SessionID, got.SessionID)
	}

	// Returned state must be a copy: mutating it must not affect the store.
	got.Metadata.ProjectRoot = "/tampered"
	again, _ := m.GetSession(ctx)
	if again.Metadata.ProjectRoot != "/proj" {
		t.Error("GetSession leaked a mutable reference to internal state")
	}
}

func TestMemStorePauseResumeSession(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	m.CreateSession(ctx, "/proj")

	if err := m.PauseSession(ctx); err != nil {
		t.Fatalf("PauseSession failed: %v", err)
	}
	s, _ := m.GetSession(ctx)
	if !s.Paused {
		t.Error("expected session to be paused")
	}

	if err := m.ResumeSession(ctx); err != nil {
		t.Fatalf("ResumeSession failed: %v", err)
	}
	s, _ = m.GetSession(ctx)
	if s.Paused {
		t.Error("expected session to be resumed")
	}
	if s.Metadata.ResumeCount != 1 {
		t.Errorf("expected ResumeCount 1, got %d", s.Metadata.ResumeCount)
	}
}

func TestMemStoreRecordEventTrimsToTimelineCap(t *testing.T) {
	m := NewMemStore(WithTimelineCap(3))
	ctx := context.Background()
	m.CreateSession(ctx, "/proj")

	for i := 0; i < 5; i++ {
		if err := m.RecordEvent(ctx, session.TimelineEvent{Type: fmt.Sprintf("ev-%d", i)}); err != nil {
			t.Fatalf("RecordEvent failed: %v", err)
		}
	}

	s, _ := m.GetSession(ctx)
	if len(s.Timeline) != 3 {
		t.Fatalf("expected timeline trimmed to 3, got %d", len(s.Timeline))
	}
	// Oldest two (ev-0, ev-1) must have been dropped, newest three retained.
	if s.Timeline[0].Type != "ev-2" || s.Timeline[2].Type != "ev-4" {
		t.Errorf("unexpected timeline contents after trim: %+v", s.Timeline)
	}
}

func TestMemStoreEvidenceRoundTrip(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	ev, _ := m.GetEvidence(ctx)
	if ev.LastGuardRun != nil || ev.LastTestRun != nil {
		t.Fatal("expected zero-value evidence before any writes")
	}

	guard := session.NewGuardEvidence(time.Now(), session.StatusFailed, "report-1", []string{"no-any"}, "task-1")
	if err := m.SetGuardEvidence(ctx, guard); err != nil {
		t.Fatalf("SetGuardEvidence failed: %v", err)
	}
	test := session.NewTestEvidence(time.Now(), session.StatusPassed, "run-1", nil, 0, 0, "task-1")
	if err := m.SetTestEvidence(ctx, test); err != nil {
		t.Fatalf("SetTestEvidence failed: %v", err)
	}

	ev, _ = m.GetEvidence(ctx)
	if ev.LastGuardRun == nil || ev.LastGuardRun.Status != session.StatusFailed {
		t.Fatal("expected guard evidence to be stored as failed")
	}
	if ev.LastTestRun == nil || ev.LastTestRun.Status != session.StatusPassed {
		t.Fatal("expected test evidence to be stored as passed")
	}
}

func TestMemStoreEvidenceCapsDetailItems(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	rules := make([]string, 0, session.MaxDetailItems+5)
	for i := 0; i < session.MaxDetailItems+5; i++ {
		rules = append(rules, fmt.Sprintf("rule-%d", i))
	}
	m.SetGuardEvidence(ctx, session.GuardEvidence{Status: session.StatusFailed, FailingRules: rules})

	ev, _ := m.GetEvidence(ctx)
	if len(ev.LastGuardRun.FailingRules) != session.MaxDetailItems {
		t.Fatalf("expected FailingRules capped at %d, got %d", session.MaxDetailItems, len(ev.LastGuardRun.FailingRules))
	}
}

func TestMemStoreCheckpointLifecycle(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	m.CreateSession(ctx, "/proj")

	cp, err := m.CreateCheckpoint(ctx, CheckpointParams{Name: "before-deploy", Reason: session.ReasonManual})
	if err != nil {
		t.Fatalf("CreateCheckpoint failed: %v", err)
	}
	if cp.ID == "" {
		t.Fatal("expected a generated checkpoint ID")
	}

	s, _ := m.GetSession(ctx)
	if s.LatestCheckpointID == nil || *s.LatestCheckpointID != cp.ID {
		t.Fatal("expected session.LatestCheckpointID to reference the new checkpoint")
	}

	list, err := m.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != cp.ID {
		t.Fatalf("expected one listed checkpoint matching %q, got %+v", cp.ID, list)
	}

	restored, err := m.RestoreCheckpoint(ctx, cp.ID)
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}
	if restored.ID != cp.ID {
		t.Errorf("expected restored checkpoint %q, got %q", cp.ID, restored.ID)
	}

	if err := m.DeleteCheckpoint(ctx, cp.ID); err != nil {
		t.Fatalf("DeleteCheckpoint failed: %v", err)
	}
	if _, err := m.RestoreCheckpoint(ctx, cp.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := m.DeleteCheckpoint(ctx, cp.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting an already-deleted checkpoint, got %v", err)
	}
}

func TestMemStoreCheckpointFIFOEviction(t *testing.T) {
	m := NewMemStore(WithMaxCheckpoints(2), WithClock(fixedClock(time.Unix(0, 0))))
	ctx := context.Background()
	m.CreateSession(ctx, "/proj")

	var ids []string
	for i := 0; i < 4; i++ {
		cp, err := m.CreateCheckpoint(ctx, CheckpointParams{Name: fmt.Sprintf("cp-%d", i)})
		if err != nil {
			t.Fatalf("CreateCheckpoint %d failed: %v", i, err)
		}
		ids = append(ids, cp.ID)
	}

	list, _ := m.ListCheckpoints(ctx)
	if len(list) != 2 {
		t.Fatalf("expected 2 checkpoints retained after eviction, got %d", len(list))
	}
	kept := map[string]bool{list[0].ID: true, list[1].ID: true}
	if !kept[ids[2]] || !kept[ids[3]] {
		t.Fatalf("expected the two most recent checkpoints retained, got %+v", list)
	}
	if kept[ids[0]] || kept[ids[1]] {
		t.Fatal("expected the two oldest checkpoints evicted")
	}
}

func TestMemStoreListCheckpointsSortedByCreatedAt(t *testing.T) {
	m := NewMemStore(WithMaxCheckpoints(10))
	ctx := context.Background()
	m.CreateSession(ctx, "/proj")

	base := time.Unix(1000, 0)
	clockCalls := 0
	times := []time.Time{base.Add(2 * time.Second), base, base.Add(time.Second)}
	m.clock = func() time.Time {
		defer func() { clockCalls++ }()
		return times[clockCalls]
	}

	var names []string
	for i := 0; i < 3; i++ {
		cp, err := m.CreateCheckpoint(ctx, CheckpointParams{Name: fmt.Sprintf("cp-%d", i)})
		if err != nil {
			t.Fatalf("CreateCheckpoint failed: %v", err)
		}
		names = append(names, cp.Name)
	}

	list, err := m.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(list))
	}
	if list[0].Name != "cp-1" || list[1].Name != "cp-2" || list[2].Name != "cp-0" {
		t.Fatalf("expected checkpoints sorted by CreatedAt ascending, got %v", []string{list[0].Name, list[1].Name, list[2].Name})
	}
}

func TestMemStoreUpdateTokenUsage(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	usage, err := m.UpdateTokenUsage(ctx, 50, 200)
	if err != nil {
		t.Fatalf("UpdateTokenUsage failed: %v", err)
	}
	if usage.Percentage != 25 {
		t.Fatalf("expected 25%% (50/200), got %v", usage.Percentage)
	}

	// estimatedTotal of 0 keeps the previous estimate.
	usage, err = m.UpdateTokenUsage(ctx, 100, 0)
	if err != nil {
		t.Fatalf("UpdateTokenUsage failed: %v", err)
	}
	if usage.EstimatedTotal != 200 {
		t.Fatalf("expected EstimatedTotal to persist at 200, got %d", usage.EstimatedTotal)
	}
	if usage.Percentage != 50 {
		t.Fatalf("expected 50%% (100/200), got %v", usage.Percentage)
	}
}

func TestMemStoreConcurrentCheckpointCreation(t *testing.T) {
	m := NewMemStore(WithMaxCheckpoints(100))
	ctx := context.Background()
	m.CreateSession(ctx, "/proj")

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := m.CreateCheckpoint(ctx, CheckpointParams{Name: fmt.Sprintf("cp-%d", n)}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent CreateCheckpoint failed: %v", err)
	}

	list, err := m.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(list) != 20 {
		t.Fatalf("expected 20 checkpoints, got %d", len(list))
	}
}

func TestMemStoreImplementsStore(t *testing.T) {
	var _ Store = NewMemStore()
}
