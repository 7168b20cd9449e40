package executor

import "github.com/agentcore/taskgraph/gate"

// Status is the terminal status of an entire run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusBlocked   Status = "blocked"
	StatusFailed    Status = "failed"
)

// NodeOutcome is one node's final record in a run's result (SPEC_FULL.md §7).
type NodeOutcome struct {
	Status        string
	Output        any
	Reason        string
	GateResult    *gate.Result
	NextToolCalls []NextToolCall
}

// Result is the user-visible failure/success summary the executor returns
// after a run (SPEC_FULL.md §7: "{status, completedNodes[], blockedNodes[],
// failedNodes[], skippedNodes[], nodeResults: map<id, {...}>}").
type Result struct {
	Status         Status
	CompletedNodes []string
	BlockedNodes   []string
	FailedNodes    []string
	SkippedNodes   []string
	NodeResults    map[string]NodeOutcome
}
