// Package governor implements the Token-Budget Governor: it tracks
// cumulative token consumption for a session, derives a coarse
// admission-control mode from the consumed percentage, and answers
// `IsActionAllowed` for the executor and any host-side tool dispatcher.
// Grounded on the teacher's graph/cost.go CostTracker (mutex-guarded
// cumulative counters, enable/disable, snapshot-returns-copy), pivoted
// from a pure cost ledger into a mode-bearing governor.
package governor

import (
	"context"
	"sync"
	"time"

	"github.com/agentcore/taskgraph/eventbus"
	"github.com/agentcore/taskgraph/session"
	"github.com/agentcore/taskgraph/store"
)

// Default mode thresholds (SPEC_FULL.md §4.5): conservative at 70%,
// critical at 85%. Expressed on the same 0-100 scale as
// session.TokenUsage.Percentage (store/memory.go, store/file.go,
// store/sql_common.go all compute Percentage as used/estimatedTotal*100).
const (
	DefaultConservativeThreshold = 70.0
	DefaultCriticalThreshold     = 85.0
)

// Clock abstracts wall-clock time, mirroring the Gate Engine and Store's
// injectable now parameter.
type Clock func() time.Time

// defaultHeavyActions is the default set of actions conservative mode disallows.
// Hosts may override it via WithHeavyActions.
var defaultHeavyActions = map[string]bool{
	"spawn_subagent":   true,
	"external_tool":    true,
	"large_model_call": true,
}

// alwaysAllowed actions survive even critical mode (SPEC_FULL.md §4.5).
var alwaysAllowed = map[string]bool{
	"checkpoint_create": true,
	"finish_task":       true,
}

// Governor tracks one session's token usage and derives its admission
// mode. A zero-valued Governor is not usable; construct with New.
type Governor struct {
	mu sync.RWMutex

	conservativeThreshold float64
	criticalThreshold     float64
	heavyActions          map[string]bool

	store   store.Store
	emitter *eventbus.Bus
	clock   Clock

	usage    session.TokenUsage
	mode     session.GovernorMode
	lastCost float64
}

// Option configures a Governor, matching the functional-options idiom
// used throughout this module (SPEC_FULL.md §4.6).
type Option func(*Governor)

func WithThresholds(conservative, critical float64) Option {
	return func(g *Governor) {
		if conservative > 0 {
			g.conservativeThreshold = conservative
		}
		if critical > 0 {
			g.criticalThreshold = critical
		}
	}
}

func WithHeavyActions(actions []string) Option {
	return func(g *Governor) {
		m := make(map[string]bool, len(actions))
		for _, a := range actions {
			m[a] = true
		}
		g.heavyActions = m
	}
}

func WithStore(s store.Store) Option {
	return func(g *Governor) { g.store = s }
}

func WithEmitter(b *eventbus.Bus) Option {
	return func(g *Governor) { g.emitter = b }
}

func WithClock(c Clock) Option {
	return func(g *Governor) {
		if c != nil {
			g.clock = c
		}
	}
}

// New builds a Governor starting in normal mode.
func New(opts ...Option) *Governor {
	g := &Governor{
		conservativeThreshold: DefaultConservativeThreshold,
		criticalThreshold:     DefaultCriticalThreshold,
		heavyActions:          defaultHeavyActions,
		clock:                 time.Now,
		mode:                  session.ModeNormal,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Mode returns the governor's current admission-control bucket.
func (g *Governor) Mode() session.GovernorMode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// Usage returns a copy of the last-recorded TokenUsage snapshot.
func (g *Governor) Usage() session.TokenUsage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.usage
}

// EstimatedCost returns the USD cost estimate computed by the last
// RecordModelUsage call, or zero if RecordModelUsage has never been
// called (plain RecordUsage callers, which don't know the model, leave
// this unchanged).
func (g *Governor) EstimatedCost() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastCost
}

// RecordModelUsage is RecordUsage plus a pricing lookup (SPEC_FULL.md
// §4.7): it estimates the USD cost of this call via
// EstimateCost, stashes it for EstimatedCost, attaches it to the
// threshold-crossing event Data, and otherwise behaves exactly like
// RecordUsage(ctx, inputTokens+outputTokens, estimatedTotal).
func (g *Governor) RecordModelUsage(ctx context.Context, model string, inputTokens, outputTokens, estimatedTotal int64) (session.TokenUsage, error) {
	cost := EstimateCost(model, inputTokens, outputTokens)
	g.mu.Lock()
	g.lastCost = cost
	g.mu.Unlock()
	return g.recordUsage(ctx, inputTokens+outputTokens, estimatedTotal, map[string]any{"model": model, "estimatedCostUsd": cost})
}

// RecordUsage updates cumulative usage, persists it through the Store
// (if configured), recomputes the mode, and emits threshold-crossing
// events on entering conservative or critical (SPEC_FULL.md §4.5).
func (g *Governor) RecordUsage(ctx context.Context, used, estimatedTotal int64) (session.TokenUsage, error) {
	return g.recordUsage(ctx, used, estimatedTotal, nil)
}

func (g *Governor) recordUsage(ctx context.Context, used, estimatedTotal int64, extra map[string]any) (session.TokenUsage, error) {
	var usage session.TokenUsage
	if g.store != nil {
		u, err := g.store.UpdateTokenUsage(ctx, used, estimatedTotal)
		if err != nil {
			return session.TokenUsage{}, err
		}
		usage = u
	} else {
		pct := 0.0
		if estimatedTotal > 0 {
			pct = float64(used) / float64(estimatedTotal) * 100
		}
		usage = session.TokenUsage{Used: used, EstimatedTotal: estimatedTotal, Percentage: pct, LastUpdated: g.clock()}
	}

	g.mu.Lock()
	prev := g.mode
	g.usage = usage
	g.mode = modeFor(usage.Percentage, g.conservativeThreshold, g.criticalThreshold)
	next := g.mode
	g.mu.Unlock()

	g.emitTransition(prev, next, extra)
	return usage, nil
}

func modeFor(pct, conservative, critical float64) session.GovernorMode {
	switch {
	case pct >= critical:
		return session.ModeCritical
	case pct >= conservative:
		return session.ModeConservative
	default:
		return session.ModeNormal
	}
}

func (g *Governor) emitTransition(prev, next session.GovernorMode, extra map[string]any) {
	if g.emitter == nil || prev == next {
		return
	}
	data := map[string]any{"mode": string(next)}
	for k, v := range extra {
		data[k] = v
	}
	if next == session.ModeConservative && prev == session.ModeNormal {
		g.emitter.Emit(eventbus.Event{Type: eventbus.TypeResourceWarning, Ts: g.clock(), Data: data})
	}
	if next == session.ModeCritical {
		g.emitter.Emit(eventbus.Event{Type: eventbus.TypeResourceCritical, Ts: g.clock(), Data: data})
		g.emitter.Emit(eventbus.Event{Type: eventbus.TypeResourceGovernorCritical, Ts: g.clock(), Data: data})
	}
}

// IsActionAllowed implements the executor.Governor interface
// (SPEC_FULL.md §4.5): normal allows everything; conservative disallows
// the configured heavy-action set; critical denies everything except the
// always-allowed allow-list.
func (g *Governor) IsActionAllowed(action string) (bool, string) {
	g.mu.RLock()
	mode := g.mode
	heavy := g.heavyActions[action]
	g.mu.RUnlock()

	if alwaysAllowed[action] {
		return true, ""
	}
	switch mode {
	case session.ModeCritical:
		return false, "governor in critical mode: only checkpoint_create and finish_task are allowed"
	case session.ModeConservative:
		if heavy {
			return false, "governor in conservative mode: heavy action " + action + " is disallowed"
		}
		return true, ""
	default:
		return true, ""
	}
}
