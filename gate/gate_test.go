package gate

import (
	"testing"
	"time"

	"github.com/agentcore/taskgraph/session"
)

var fixedNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestEvaluatePassesWhenNoPolicyRequired(t *testing.T) {
	result := Evaluate(session.Evidence{}, Policy{}, Context{TaskID: "t1"}, fixedNow)
	if result.Status != StatusPassed {
		t.Fatalf("expected passed with no requirements, got %s: %s", result.Status, result.Reason)
	}
}

func TestEvaluatePendingWhenGuardMissing(t *testing.T) {
	result := Evaluate(session.Evidence{}, Policy{RequireGuard: true}, Context{TaskID: "t1"}, fixedNow)
	if result.Status != StatusPending {
		t.Fatalf("expected pending, got %s", result.Status)
	}
	if len(result.MissingEvidence) != 1 || result.MissingEvidence[0] != "guard" {
		t.Errorf("expected missing=[guard], got %v", result.MissingEvidence)
	}
	if len(result.NextToolCalls) != 1 || result.NextToolCalls[0].Tool != "guard_validate" {
		t.Errorf("expected a guard_validate remediation call, got %v", result.NextToolCalls)
	}
}

func TestEvaluateBlockedWhenGuardFailing(t *testing.T) {
	guard := session.NewGuardEvidence(fixedNow, session.StatusFailed, "r1", []string{"no-console-log"}, "t1")
	ev := session.Evidence{LastGuardRun: &guard}
	result := Evaluate(ev, Policy{RequireGuard: true}, Context{TaskID: "t1"}, fixedNow)
	if result.Status != StatusBlocked {
		t.Fatalf("expected blocked, got %s", result.Status)
	}
	if len(result.FailingEvidence) != 1 {
		t.Errorf("expected one failing-evidence entry, got %v", result.FailingEvidence)
	}
}

func TestEvaluatePassesWhenGuardPassing(t *testing.T) {
	guard := session.NewGuardEvidence(fixedNow, session.StatusPassed, "r1", nil, "t1")
	ev := session.Evidence{LastGuardRun: &guard}
	result := Evaluate(ev, Policy{RequireGuard: true}, Context{TaskID: "t1"}, fixedNow)
	if result.Status != StatusPassed {
		t.Fatalf("expected passed, got %s: %s", result.Status, result.Reason)
	}
}

func TestEvaluateTreatsStaleEvidenceAsMissing(t *testing.T) {
	guard := session.NewGuardEvidence(fixedNow.Add(-1*time.Hour), session.StatusPassed, "r1", nil, "t1")
	ev := session.Evidence{LastGuardRun: &guard}
	result := Evaluate(ev, Policy{RequireGuard: true, MaxAgeMs: int64(5 * time.Minute / time.Millisecond)}, Context{TaskID: "t1"}, fixedNow)
	if result.Status != StatusPending {
		t.Fatalf("expected stale evidence to read as pending/missing, got %s", result.Status)
	}
}

func TestEvaluateTreatsSkippedAsMissing(t *testing.T) {
	guard := session.NewGuardEvidence(fixedNow, session.StatusSkipped, "r1", nil, "t1")
	ev := session.Evidence{LastGuardRun: &guard}
	result := Evaluate(ev, Policy{RequireGuard: true}, Context{TaskID: "t1"}, fixedNow)
	if result.Status != StatusPending {
		t.Fatalf("expected skipped evidence to read as pending, got %s", result.Status)
	}
}

func TestEvaluateStrictTaskScopeRejectsForeignEvidence(t *testing.T) {
	guard := session.NewGuardEvidence(fixedNow, session.StatusPassed, "r1", nil, "other-task")
	ev := session.Evidence{LastGuardRun: &guard}
	result := Evaluate(ev, Policy{RequireGuard: true, StrictTaskScope: true}, Context{TaskID: "t1"}, fixedNow)
	if result.Status != StatusPending {
		t.Fatalf("expected out-of-scope evidence to read as missing, got %s", result.Status)
	}
}

func TestEvaluateBothStreamsRequired(t *testing.T) {
	guard := session.NewGuardEvidence(fixedNow, session.StatusPassed, "r1", nil, "t1")
	ev := session.Evidence{LastGuardRun: &guard} // test evidence absent
	result := Evaluate(ev, Policy{RequireGuard: true, RequireTest: true}, Context{TaskID: "t1"}, fixedNow)
	if result.Status != StatusPending {
		t.Fatalf("expected pending due to missing test evidence, got %s", result.Status)
	}
	if len(result.MissingEvidence) != 1 || result.MissingEvidence[0] != "test" {
		t.Errorf("expected missing=[test], got %v", result.MissingEvidence)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	guard := session.NewGuardEvidence(fixedNow, session.StatusPassed, "r1", nil, "t1")
	test := session.NewTestEvidence(fixedNow, session.StatusFailed, "run1", []string{"a_test", "b_test"}, 2, 1, "t1")
	ev := session.Evidence{LastGuardRun: &guard, LastTestRun: &test}
	policy := Policy{RequireGuard: true, RequireTest: true}
	ctx := Context{TaskID: "t1", TaskType: "backend"}

	first := Evaluate(ev, policy, ctx, fixedNow)
	second := Evaluate(ev, policy, ctx, fixedNow)
	if first.Status != second.Status || first.Reason != second.Reason {
		t.Fatalf("expected byte-identical results for identical inputs, got %+v vs %+v", first, second)
	}
}

func TestMergePolicyBooleanOrSemantics(t *testing.T) {
	base := Policy{RequireGuard: true, MaxDetailItems: 5}
	override := Policy{RequireTest: true, MaxDetailItems: 20}
	merged := Merge(base, override)
	if !merged.RequireGuard || !merged.RequireTest {
		t.Errorf("expected both flags set after merge, got %+v", merged)
	}
	if merged.MaxDetailItems != 20 {
		t.Errorf("expected override's non-zero MaxDetailItems to win, got %d", merged.MaxDetailItems)
	}
}
