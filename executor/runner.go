package executor

import (
	"context"

	"github.com/agentcore/taskgraph/workflow"
)

// NextToolCall is a tool invocation the host may want to make next,
// surfaced either by the runner itself or copied through from a gate
// evaluation's remediation suggestions (SPEC_FULL.md §6.1).
type NextToolCall struct {
	Tool     string
	Args     map[string]any
	Reason   string
	Priority int
}

// RunnerResult is what a TaskRunner hands back for one node invocation.
type RunnerResult struct {
	Output        any
	Reason        string
	NextToolCalls []NextToolCall
}

// TaskRunner is the host → core contract (SPEC_FULL.md §6.1): the
// executor never knows what a node "does"; it only knows how to ask the
// host to run one, passing a read-only context view of accumulated
// results and the node's payload.
type TaskRunner interface {
	Run(ctx context.Context, node workflow.Node, view workflow.ContextView) (RunnerResult, error)
}

// TaskRunnerFunc adapts a plain function to the TaskRunner interface,
// mirroring the teacher's NodeFunc adapter (graph/node.go).
type TaskRunnerFunc func(ctx context.Context, node workflow.Node, view workflow.ContextView) (RunnerResult, error)

// Run implements TaskRunner.
func (f TaskRunnerFunc) Run(ctx context.Context, node workflow.Node, view workflow.ContextView) (RunnerResult, error) {
	return f(ctx, node, view)
}
