// Package gate implements the completion-gate engine: a pure function
// that decides whether a node's evidence satisfies its policy. Grounded
// on the teacher's graph/policy.go shallow-merge composition idiom and
// graph/checkpoint.go's structured-result style, generalized from retry
// policy into evidence policy.
package gate

import (
	"fmt"
	"time"

	"github.com/agentcore/taskgraph/session"
)

// Status is the aggregate result of a gate evaluation.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusPending Status = "pending"
	StatusBlocked Status = "blocked"
)

// DefaultMaxAge is the default evidence freshness window.
const DefaultMaxAge = 5 * time.Minute

// DefaultMaxDetailItems caps the failing-rule/failing-test count reported
// in a Result's FailingEvidence entries (distinct from
// session.MaxDetailItems, which caps storage). A Result carries only that
// count; the failing rule and test names are not included.
const DefaultMaxDetailItems = 10

// Policy configures one gate evaluation. Node-level, graph-level, and
// engine-level policies compose by shallow merge (SPEC_FULL.md §4.3):
// a node override beats a graph default, which beats the engine default.
type Policy struct {
	RequireGuard    bool
	RequireTest     bool
	StrictTaskScope bool
	MaxDetailItems  int
	MaxAgeMs        int64
	GuardArgs       map[string]any
	TestArgs        map[string]any
}

// Merge returns a new Policy with fields from override taking precedence
// over fields from base wherever override specifies a non-zero value.
// Because Policy uses value (not pointer) fields for the boolean flags,
// Merge can only turn a flag on, never off. The executor's node ⊕ graph ⊕
// engine chain is therefore composed at the workflow.GatePolicy
// (pointer-field) layer by resolveGatePolicy (executor/gate_resolve.go),
// which does not call Merge.
func Merge(base, override Policy) Policy {
	out := base
	if override.RequireGuard {
		out.RequireGuard = true
	}
	if override.RequireTest {
		out.RequireTest = true
	}
	if override.StrictTaskScope {
		out.StrictTaskScope = true
	}
	if override.MaxDetailItems > 0 {
		out.MaxDetailItems = override.MaxDetailItems
	}
	if override.MaxAgeMs > 0 {
		out.MaxAgeMs = override.MaxAgeMs
	}
	if override.GuardArgs != nil {
		out.GuardArgs = override.GuardArgs
	}
	if override.TestArgs != nil {
		out.TestArgs = override.TestArgs
	}
	return out
}

func (p Policy) maxAge() time.Duration {
	if p.MaxAgeMs > 0 {
		return time.Duration(p.MaxAgeMs) * time.Millisecond
	}
	return DefaultMaxAge
}

func (p Policy) maxDetailItems() int {
	if p.MaxDetailItems > 0 {
		return p.MaxDetailItems
	}
	return DefaultMaxDetailItems
}

// Context is the per-node context a gate evaluation is performed under.
type Context struct {
	TaskID   string
	TaskType string // inferred heuristically from graph name and node id/label/payload: "frontend", "backend" or ""
	TaskName string
}

// NextToolCall is a suggested remediation action.
type NextToolCall struct {
	Tool     string
	Args     map[string]any
	Reason   string
	Priority int
}

// Result is the outcome of one gate evaluation (SPEC_FULL.md §4.3).
type Result struct {
	Status           Status
	MissingEvidence  []string
	FailingEvidence  []string
	NextToolCalls    []NextToolCall
	Reason           string
}

// Evaluate is the Gate Engine's pure decision function. Given fixed
// (evidence, policy, context, now) it produces a byte-identical result
// (invariant 4, SPEC_FULL.md §8); now must be supplied by the caller so
// tests can control freshness deterministically (it defaults to
// time.Now() only at the call site, never inside this function).
func Evaluate(evidence session.Evidence, policy Policy, ctx Context, now time.Time) Result {
	var missing, failing []string
	var calls []NextToolCall

	if policy.RequireGuard {
		status, reason := evaluateStream(evidenceTimestampStatus{
			exists: evidence.LastGuardRun != nil,
			ts: func() time.Time {
				if evidence.LastGuardRun != nil {
					return evidence.LastGuardRun.Timestamp
				}
				return time.Time{}
			}(),
			status: func() session.Status {
				if evidence.LastGuardRun != nil {
					return evidence.LastGuardRun.Status
				}
				return ""
			}(),
			taskID: func() string {
				if evidence.LastGuardRun != nil {
					return evidence.LastGuardRun.TaskID
				}
				return ""
			}(),
		}, policy, ctx, now)

		switch status {
		case evidenceMissing:
			missing = append(missing, "guard")
			calls = append(calls, NextToolCall{
				Tool:     "guard_validate",
				Args:     buildArgs(policy.GuardArgs, ctx),
				Reason:   "guard evidence missing or stale",
				Priority: 0,
			})
		case evidenceFailing:
			n := 0
			if evidence.LastGuardRun != nil {
				n = len(capDetail(evidence.LastGuardRun.FailingRules, policy.maxDetailItems()))
			}
			failing = append(failing, fmt.Sprintf("guard: %d failing rules", n))
			calls = append(calls, NextToolCall{
				Tool:     "guard_validate",
				Args:     buildArgs(policy.GuardArgs, ctx),
				Reason:   reason,
				Priority: 0,
			})
		}
	}

	if policy.RequireTest {
		var lt *session.TestEvidence = evidence.LastTestRun
		status, reason := evaluateStream(evidenceTimestampStatus{
			exists: lt != nil,
			ts: func() time.Time {
				if lt != nil {
					return lt.Timestamp
				}
				return time.Time{}
			}(),
			status: func() session.Status {
				if lt != nil {
					return lt.Status
				}
				return ""
			}(),
			taskID: func() string {
				if lt != nil {
					return lt.TaskID
				}
				return ""
			}(),
		}, policy, ctx, now)

		switch status {
		case evidenceMissing:
			missing = append(missing, "test")
			calls = append(calls, NextToolCall{
				Tool:     "testing_run",
				Args:     buildArgs(policy.TestArgs, ctx),
				Reason:   "test evidence missing or stale",
				Priority: 1,
			})
		case evidenceFailing:
			failing = append(failing, fmt.Sprintf(
				"test: %d failing tests, %d console errors, %d network failures",
				len(capDetail(lt.FailingTests, policy.maxDetailItems())),
				lt.ConsoleErrorCount, lt.NetworkFailureCount,
			))
			calls = append(calls, NextToolCall{
				Tool:     "testing_run",
				Args:     buildArgs(policy.TestArgs, ctx),
				Reason:   reason,
				Priority: 1,
			})
		}
	}

	result := Result{NextToolCalls: calls}
	switch {
	case len(failing) > 0:
		result.Status = StatusBlocked
		result.FailingEvidence = failing
		result.MissingEvidence = missing
		result.Reason = "evidence failing: " + joinReasons(failing)
	case len(missing) > 0:
		result.Status = StatusPending
		result.MissingEvidence = missing
		result.Reason = "evidence missing: " + joinReasons(missing)
	default:
		result.Status = StatusPassed
		result.Reason = "all required evidence passed"
	}
	return result
}

type streamOutcome int

const (
	evidencePassed streamOutcome = iota
	evidenceMissing
	evidenceFailing
)

type evidenceTimestampStatus struct {
	exists bool
	ts     time.Time
	status session.Status
	taskID string
}

// evaluateStream implements the five-step per-stream algorithm of
// SPEC_FULL.md §4.3.
func evaluateStream(e evidenceTimestampStatus, policy Policy, ctx Context, now time.Time) (streamOutcome, string) {
	if !e.exists || e.status == session.StatusSkipped {
		return evidenceMissing, "no evidence recorded"
	}
	if now.Sub(e.ts) > policy.maxAge() {
		return evidenceMissing, "evidence stale"
	}
	if policy.StrictTaskScope && ctx.TaskID != "" && e.taskID != ctx.TaskID {
		return evidenceMissing, "evidence scoped to a different task"
	}
	if e.status == session.StatusFailed {
		return evidenceFailing, "evidence reports failure"
	}
	return evidencePassed, ""
}

func capDetail(items []string, max int) []string {
	if len(items) <= max {
		return items
	}
	return items[:max]
}

func buildArgs(base map[string]any, ctx Context) map[string]any {
	args := make(map[string]any, len(base)+2)
	for k, v := range base {
		args[k] = v
	}
	if ctx.TaskID != "" {
		args["taskId"] = ctx.TaskID
	}
	if _, ok := args["ruleset"]; !ok && ctx.TaskType != "" {
		args["ruleset"] = ctx.TaskType
	}
	if _, ok := args["scope"]; !ok {
		args["scope"] = "affected"
	}
	return args
}

func joinReasons(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += "; "
		}
		out += it
	}
	return out
}
