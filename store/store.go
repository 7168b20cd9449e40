// Package store implements the State Store: the single source of truth
// for session, evidence, checkpoint, and governor-counter persistence
// (SPEC_FULL.md §4.1). The primary backend is an atomic-JSON-file store
// rooted at a per-project .state/ directory, grounded on
// _examples/2389-research-mammoth/attractor/runstate_fs.go's
// writeJSONAtomic idiom. Two secondary backends (SQLite, MySQL) are
// adapted from the teacher's graph/store package for deployments that
// want a queryable store instead of flat files.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/agentcore/taskgraph/eventbus"
	"github.com/agentcore/taskgraph/session"
)

// ErrNotFound is returned when a session or checkpoint lookup finds
// nothing (grounded on the teacher's graph/store.ErrNotFound).
var ErrNotFound = errors.New("store: not found")

// ErrNoActiveSession is returned by operations that require a session to
// already exist.
var ErrNoActiveSession = errors.New("store: no active session")

// CheckpointParams are the caller-supplied fields for CreateCheckpoint;
// ID and CreatedAt are assigned by the store.
type CheckpointParams struct {
	Name         string
	Reason       session.CheckpointReason
	FilesChanged []string
	Metadata     map[string]string
	ResumeState  *session.ResumeState
}

// Store is the State Store's public contract (SPEC_FULL.md §4.1).
// Implementations must serialize mutations against a single logical lock
// (SPEC_FULL.md §5) and must never corrupt in-memory state on a failed
// write.
type Store interface {
	// GetEvidence is a cheap read guaranteed to reflect the latest
	// committed write.
	GetEvidence(ctx context.Context) (session.Evidence, error)
	SetGuardEvidence(ctx context.Context, ev session.GuardEvidence) error
	SetTestEvidence(ctx context.Context, ev session.TestEvidence) error

	GetSession(ctx context.Context) (*session.State, error)
	CreateSession(ctx context.Context, projectRoot string) (*session.State, error)
	EndSession(ctx context.Context) error
	PauseSession(ctx context.Context) error
	ResumeSession(ctx context.Context) error

	RecordEvent(ctx context.Context, ev session.TimelineEvent) error

	CreateCheckpoint(ctx context.Context, params CheckpointParams) (*session.Checkpoint, error)
	ListCheckpoints(ctx context.Context) ([]session.Checkpoint, error)
	RestoreCheckpoint(ctx context.Context, id string) (*session.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, id string) error

	UpdateTokenUsage(ctx context.Context, used int64, estimatedTotal int64) (session.TokenUsage, error)

	Close() error
}

// EventEmitter is the narrow interface the store uses to announce
// mutations (evidence:updated, state:persistence:degraded, etc). It is
// satisfied directly by *eventbus.Bus.
type EventEmitter interface {
	Emit(ev eventbus.Event)
}

// Clock abstracts wall-clock time so tests can control timestamps
// (mirrors the Gate Engine's injectable now parameter).
type Clock func() time.Time

// DefaultMaxCheckpoints is used when WithMaxCheckpoints is not given.
const DefaultMaxCheckpoints = 20

// DefaultDebounce is the default debounced-save window for session,
// timeline, and token-counter writes (SPEC_FULL.md §4.1).
const DefaultDebounce = 500 * time.Millisecond

// DefaultTimelineCap mirrors session.TimelineCap for store-level trimming.
const DefaultTimelineCap = session.TimelineCap

// DegradedThreshold is the number of consecutive failed debounced saves
// after which a state:persistence:degraded event is emitted
// (SPEC_FULL.md §4.1).
const DegradedThreshold = 3
