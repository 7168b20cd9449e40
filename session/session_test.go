package session

import (
	"fmt"
	"testing"
	"time"
)

func TestAppendEventTrimsToCap(t *testing.T) {
	s := &State{}
	for i := 0; i < 5; i++ {
		s.AppendEvent(TimelineEvent{Type: fmt.Sprintf("ev-%d", i)}, 3)
	}
	if len(s.Timeline) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(s.Timeline))
	}
	if s.Timeline[0].Type != "ev-2" || s.Timeline[2].Type != "ev-4" {
		t.Fatalf("expected oldest events dropped, got %+v", s.Timeline)
	}
}

func TestAppendEventDefaultsCapWhenNonPositive(t *testing.T) {
	s := &State{}
	s.AppendEvent(TimelineEvent{Type: "only"}, 0)
	if len(s.Timeline) != 1 {
		t.Fatalf("expected the event retained under the default cap, got %d", len(s.Timeline))
	}
}

func TestNewGuardEvidenceCapsFailingRules(t *testing.T) {
	rules := make([]string, MaxDetailItems+5)
	for i := range rules {
		rules[i] = fmt.Sprintf("rule-%d", i)
	}
	ev := NewGuardEvidence(time.Now(), StatusFailed, "report-1", rules, "task-1")
	if len(ev.FailingRules) != MaxDetailItems {
		t.Fatalf("expected FailingRules capped at %d, got %d", MaxDetailItems, len(ev.FailingRules))
	}
	if ev.FailingRules[0] != "rule-0" {
		t.Fatalf("expected the first %d rules kept, got %+v", MaxDetailItems, ev.FailingRules)
	}
}

func TestNewGuardEvidenceUnderCapIsUnchanged(t *testing.T) {
	ev := NewGuardEvidence(time.Now(), StatusPassed, "report-2", []string{"a", "b"}, "")
	if len(ev.FailingRules) != 2 {
		t.Fatalf("expected 2 rules preserved, got %d", len(ev.FailingRules))
	}
}

func TestNewTestEvidenceCapsFailingTests(t *testing.T) {
	tests := make([]string, MaxDetailItems+3)
	for i := range tests {
		tests[i] = fmt.Sprintf("test-%d", i)
	}
	ev := NewTestEvidence(time.Now(), StatusFailed, "run-1", tests, 2, 1, "task-2")
	if len(ev.FailingTests) != MaxDetailItems {
		t.Fatalf("expected FailingTests capped at %d, got %d", MaxDetailItems, len(ev.FailingTests))
	}
	if ev.ConsoleErrorCount != 2 || ev.NetworkFailureCount != 1 {
		t.Fatalf("expected console/network counts preserved, got %+v", ev)
	}
}
