package executor

import (
	"errors"
	"fmt"

	"github.com/agentcore/taskgraph/gate"
)

// Sentinel errors for conditions that need no payload, matching the
// teacher's style of pairing structured error types with plain
// errors.New values for the simple cases (graph/errors.go).
var (
	ErrSessionNotFound    = errors.New("executor: session not found")
	ErrCheckpointNotFound = errors.New("executor: checkpoint not found")
	ErrMaxRetriesExceeded = errors.New("executor: retry budget exhausted")
)

// GateBlockedError reports that a node's gate evaluation returned
// blocked/pending. It is not a fatal execution error — the node
// transitions to the blocked NodeState and the workflow may still reach a
// terminal status (SPEC_FULL.md §4.4.1, §7).
type GateBlockedError struct {
	NodeID string
	Result gate.Result
}

func (e *GateBlockedError) Error() string {
	return fmt.Sprintf("executor: node %s gated: %s", e.NodeID, e.Result.Reason)
}

// RunnerError wraps a failure returned by the host-supplied TaskRunner.
type RunnerError struct {
	NodeID string
	Cause  error
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("executor: node %s runner error: %v", e.NodeID, e.Cause)
}

func (e *RunnerError) Unwrap() error { return e.Cause }

// PersistenceError wraps a State Store failure encountered mid-run
// (checkpoint write, evidence read, session update).
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("executor: persistence error during %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// GovernorDeniedError reports that the Token-Budget Governor refused an
// action the executor attempted (e.g. an auto-checkpoint vetoed by a custom
// Governor; governor.Governor always allows checkpoint_create).
type GovernorDeniedError struct {
	Action string
	Reason string
}

func (e *GovernorDeniedError) Error() string {
	return fmt.Sprintf("executor: governor denied action %q: %s", e.Action, e.Reason)
}

// CancelledError reports that a node or the whole run was aborted by
// context cancellation (SPEC_FULL.md §4.4.4).
type CancelledError struct {
	NodeID string
}

func (e *CancelledError) Error() string {
	if e.NodeID == "" {
		return "executor: run cancelled"
	}
	return fmt.Sprintf("executor: node %s cancelled", e.NodeID)
}

// NoMatchingEdgeError reports that a decision node's outgoing conditional
// edges all evaluated false (SPEC_FULL.md §4.4.3).
type NoMatchingEdgeError struct {
	NodeID string
}

func (e *NoMatchingEdgeError) Error() string {
	return fmt.Sprintf("executor: decision node %s: no-matching-edge", e.NodeID)
}
