// Package eventbus implements the in-process, synchronous-dispatch
// pub/sub bus that drives timeline recording and observability fan-out.
// It is grounded on the teacher's graph/emit package (the Event struct
// shape and the Emitter sink interface are kept), restructured around
// typed subscriptions with unsubscribe handles, which the teacher's
// fire-and-forget Emitter does not provide.
package eventbus

import "time"

// Event is one occurrence on the bus (SPEC_FULL.md §4.2).
type Event struct {
	Type   string
	RunID  string
	NodeID string
	Ts     time.Time
	Data   map[string]any
}

// Minimum required event types (SPEC_FULL.md §4.2).
const (
	TypeTaskgraphCreated           = "taskgraph:created"
	TypeNodeStarted                = "taskgraph:node:started"
	TypeNodeCompleted              = "taskgraph:node:completed"
	TypeNodeFailed                 = "taskgraph:node:failed"
	TypeNodeSkipped                = "taskgraph:node:skipped"
	TypeNodeGated                  = "taskgraph:node:gated"
	TypeNodeBypassGates            = "taskgraph:node:bypass_gates"
	TypeWorkflowCompleted          = "taskgraph:workflow:completed"
	TypeGuardValidated             = "guard:validated"
	TypeGuardBlock                 = "guard:block"
	TypeTestingFailure             = "testing:failure"
	TypeResourceWarning            = "resource:warning"
	TypeResourceCritical           = "resource:critical"
	TypeResourceGovernorCritical   = "resource:governor:critical"
	TypeResourceCheckpoint         = "resource:checkpoint"
	TypeSessionEnd                 = "session:end"
	TypeEvidenceUpdated            = "evidence:updated"
	TypeStatePersistenceDegraded   = "state:persistence:degraded"
)
