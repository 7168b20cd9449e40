// Package session defines the persisted data model shared by the state
// store, the budget governor, and the graph executor: session snapshots,
// checkpoints, token usage, and the bounded timeline.
package session

import (
	"encoding/json"
	"time"
)

// Version is the current session file schema version (SPEC_FULL.md §6.3).
const Version = "1"

// CheckpointReason identifies why a checkpoint was created.
type CheckpointReason string

const (
	ReasonAutoThreshold      CheckpointReason = "auto_threshold"
	ReasonManual             CheckpointReason = "manual"
	ReasonTaskComplete       CheckpointReason = "task_complete"
	ReasonSessionEnd         CheckpointReason = "session_end"
	ReasonErrorRecovery      CheckpointReason = "error_recovery"
	ReasonBeforeRiskyOp      CheckpointReason = "before_risky_operation"
)

// TimelineEvent is a single entry in a session's bounded timeline.
type TimelineEvent struct {
	Ts      time.Time       `json:"ts"`
	Type    string          `json:"type"`
	Summary string          `json:"summary"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Metadata carries session metadata. Only projectRoot and resumeCount are
// encoded and decoded; Extra is excluded from JSON (tag "-"), so any other
// metadata keys in a session file are dropped on load.
type Metadata struct {
	ProjectRoot string          `json:"projectRoot"`
	ResumeCount int             `json:"resumeCount"`
	Extra       json.RawMessage `json:"-"`
}

// State is the full persisted session record (SPEC_FULL.md §3, §6.3).
type State struct {
	Version            string                     `json:"version"`
	SessionID          string                     `json:"sessionId"`
	CreatedAt          time.Time                  `json:"createdAt"`
	UpdatedAt          time.Time                  `json:"updatedAt"`
	ModuleStates       map[string]json.RawMessage `json:"moduleStates"`
	LatestCheckpointID *string                    `json:"latestCheckpointId"`
	Timeline           []TimelineEvent            `json:"timeline"`
	Metadata           Metadata                   `json:"metadata"`

	// Paused records whether the session is currently paused; not part of
	// the distilled spec's explicit key list but required to implement
	// PauseSession/ResumeSession (§4.1) without inventing a second file.
	Paused bool `json:"paused,omitempty"`
}

// TimelineCap is the default maximum number of retained timeline events.
const TimelineCap = 10000

// AppendEvent appends ev to the timeline, trimming the oldest entries when
// the configured cap is exceeded (ring-buffer semantics, SPEC_FULL.md §3).
func (s *State) AppendEvent(ev TimelineEvent, cap int) {
	if cap <= 0 {
		cap = TimelineCap
	}
	s.Timeline = append(s.Timeline, ev)
	if len(s.Timeline) > cap {
		s.Timeline = s.Timeline[len(s.Timeline)-cap:]
	}
}

// TokenUsage tracks cumulative token consumption for the governor.
type TokenUsage struct {
	Used          int64     `json:"used"`
	EstimatedTotal int64    `json:"estimatedTotal"`
	Percentage    float64   `json:"percentage"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// GovernorMode is the coarse admission-control bucket derived from
// TokenUsage.Percentage.
type GovernorMode string

const (
	ModeNormal       GovernorMode = "normal"
	ModeConservative GovernorMode = "conservative"
	ModeCritical     GovernorMode = "critical"
)

// ResumeState captures enough context for a host to pick up a workflow
// where it left off after a checkpoint restore.
type ResumeState struct {
	CurrentTaskID       string   `json:"currentTaskId"`
	CurrentTaskName     string   `json:"currentTaskName"`
	LastCompletedStep   string   `json:"lastCompletedStep"`
	NextActions         []string `json:"nextActions"`
	RequiredTools       []string `json:"requiredTools"`
	RecentFailures      []string `json:"recentFailures"`
	ActiveLatentTaskID  string   `json:"activeLatentTaskId,omitempty"`
	ActiveLatentPhase   string   `json:"activeLatentPhase,omitempty"`
	Summary             string   `json:"summary"`
}

// SessionRef is the minimal session pointer embedded in a checkpoint file.
type SessionRef struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
}

// Checkpoint is a durable named snapshot of session and module state
// (SPEC_FULL.md §3, §6.3).
type Checkpoint struct {
	ID                   string                     `json:"id"`
	Name                 string                     `json:"name"`
	CreatedAt            time.Time                  `json:"createdAt"`
	Reason               CheckpointReason           `json:"reason"`
	TokenUsage           TokenUsage                 `json:"tokenUsage"`
	Session              SessionRef                 `json:"session"`
	ModuleStatesSnapshot map[string]json.RawMessage `json:"moduleStatesSnapshot"`
	FilesChanged         []string                   `json:"filesChanged"`
	Metadata             map[string]string          `json:"metadata,omitempty"`
	ResumeState          *ResumeState               `json:"resumeState,omitempty"`
}

// Status is the outcome of a guard or test run, used by both evidence streams.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// GuardEvidence is the result of the most recent guard/lint run.
type GuardEvidence struct {
	Timestamp    time.Time `json:"timestamp"`
	Status       Status    `json:"status"`
	ReportID     string    `json:"reportId"`
	FailingRules []string  `json:"failingRules"`
	TaskID       string    `json:"taskId,omitempty"`
}

// TestEvidence is the result of the most recent test run.
type TestEvidence struct {
	Timestamp           time.Time `json:"timestamp"`
	Status              Status    `json:"status"`
	RunID               string    `json:"runId"`
	FailingTests        []string  `json:"failingTests"`
	ConsoleErrorCount   int       `json:"consoleErrorCount"`
	NetworkFailureCount int       `json:"networkFailureCount"`
	TaskID              string    `json:"taskId,omitempty"`
}

// MaxDetailItems is the cap enforced on FailingRules/FailingTests at write
// time (invariant 6, SPEC_FULL.md §8).
const MaxDetailItems = 10

func capStrings(items []string, max int) []string {
	if max <= 0 {
		max = MaxDetailItems
	}
	if len(items) <= max {
		return items
	}
	out := make([]string, max)
	copy(out, items[:max])
	return out
}

// NewGuardEvidence builds a GuardEvidence record, capping FailingRules and
// stamping Timestamp.
func NewGuardEvidence(now time.Time, status Status, reportID string, failingRules []string, taskID string) GuardEvidence {
	return GuardEvidence{
		Timestamp:    now,
		Status:       status,
		ReportID:     reportID,
		FailingRules: capStrings(failingRules, MaxDetailItems),
		TaskID:       taskID,
	}
}

// NewTestEvidence builds a TestEvidence record, capping FailingTests and
// stamping Timestamp.
func NewTestEvidence(now time.Time, status Status, runID string, failingTests []string, consoleErrors, networkFailures int, taskID string) TestEvidence {
	return TestEvidence{
		Timestamp:           now,
		Status:              status,
		RunID:                runID,
		FailingTests:        capStrings(failingTests, MaxDetailItems),
		ConsoleErrorCount:   consoleErrors,
		NetworkFailureCount: networkFailures,
		TaskID:              taskID,
	}
}

// Evidence is the pair of nullable evidence streams the Gate Engine reads.
type Evidence struct {
	LastGuardRun *GuardEvidence `json:"lastGuardRun"`
	LastTestRun  *TestEvidence  `json:"lastTestRun"`
}
