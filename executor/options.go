package executor

import (
	"context"
	"log"
	"time"

	"github.com/agentcore/taskgraph/eventbus"
	"github.com/agentcore/taskgraph/gate"
	"github.com/agentcore/taskgraph/store"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the narrow span-creation interface the executor consults to
// bracket each node execution (SPEC_FULL.md §4.7: "one span per node
// execution, gate results attached as span attributes"). *eventbus.OTelSink
// implements it.
type Tracer interface {
	StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span)
}

// Governor is the narrow interface the executor consults before
// auto-checkpointing or other heavy internal actions (SPEC_FULL.md §4.5).
// A nil Governor means "always allow" (no budget tracking configured).
type Governor interface {
	IsActionAllowed(action string) (allowed bool, reason string)
}

// ActionCheckpointCreate is the action name the executor passes to
// Governor.IsActionAllowed before an auto-threshold checkpoint, matching
// the governor's own always-allowed action set (SPEC_FULL.md §4.5).
const ActionCheckpointCreate = "checkpoint_create"

// Clock abstracts wall-clock time, mirroring the Gate Engine's injectable
// now parameter and the Store's Clock type.
type Clock func() time.Time

// Default tunables (SPEC_FULL.md §4.4).
const (
	DefaultConcurrencyLimit = 4
	DefaultRetryBudget      = 3
)

type config struct {
	concurrencyLimit        int
	defaultNodeTimeout      time.Duration
	retryBudget             int
	gatePolicy              gate.Policy
	store                   store.Store
	emitter                 *eventbus.Bus
	governor                Governor
	autoCheckpointThreshold int
	tracer                  Tracer
	clock                   Clock
	metrics                 *Metrics
	logger                  *log.Logger
}

func defaultConfig() *config {
	return &config{
		concurrencyLimit: DefaultConcurrencyLimit,
		retryBudget:      DefaultRetryBudget,
		clock:            time.Now,
	}
}

// Option configures an Executor (SPEC_FULL.md §4.6 functional-options
// idiom, grounded on graph/options.go).
type Option func(*config) error

func WithConcurrencyLimit(n int) Option {
	return func(c *config) error {
		if n > 0 {
			c.concurrencyLimit = n
		}
		return nil
	}
}

func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(c *config) error {
		c.defaultNodeTimeout = d
		return nil
	}
}

func WithRetryBudget(n int) Option {
	return func(c *config) error {
		if n > 0 {
			c.retryBudget = n
		}
		return nil
	}
}

func WithGatePolicy(p gate.Policy) Option {
	return func(c *config) error {
		c.gatePolicy = p
		return nil
	}
}

func WithStore(s store.Store) Option {
	return func(c *config) error {
		c.store = s
		return nil
	}
}

func WithEmitter(b *eventbus.Bus) Option {
	return func(c *config) error {
		c.emitter = b
		return nil
	}
}

func WithGovernor(g Governor) Option {
	return func(c *config) error {
		c.governor = g
		return nil
	}
}

// WithAutoCheckpointThreshold enables the large-edit auto-checkpoint
// trigger (SPEC_FULL.md §9 open question): a node whose output reports
// `filesChanged` at or beyond n files causes the executor to request a
// checkpoint immediately, bypassing the normal checkpoint-reason
// trigger-level gate. Still routed through Governor.IsActionAllowed
// first — in practice never denied, since checkpoint_create is always
// in the governor's allow-list, but the call site exists so a custom
// Governor can override that if it chooses to. n <= 0 disables the
// trigger (the default).
func WithAutoCheckpointThreshold(n int) Option {
	return func(c *config) error {
		c.autoCheckpointThreshold = n
		return nil
	}
}

// WithTracer enables per-node tracing spans (SPEC_FULL.md §4.7). Pass an
// *eventbus.OTelSink built from a real tracer; a nil Tracer (the default)
// disables span creation entirely.
func WithTracer(t Tracer) Option {
	return func(c *config) error {
		c.tracer = t
		return nil
	}
}

func WithClock(clock Clock) Option {
	return func(c *config) error {
		if clock != nil {
			c.clock = clock
		}
		return nil
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *config) error {
		c.metrics = m
		return nil
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *config) error {
		c.logger = l
		return nil
	}
}

// Options is a legacy-compatible dual-configuration struct accepted
// alongside functional Options by New, matching the teacher's pattern of
// supporting both a struct-literal config and the options idiom
// (graph/options.go).
type Options struct {
	ConcurrencyLimit        int
	DefaultNodeTimeout      time.Duration
	RetryBudget             int
	GatePolicy              gate.Policy
	Store                   store.Store
	Emitter                 *eventbus.Bus
	Governor                Governor
	AutoCheckpointThreshold int
	Tracer                  Tracer
	Clock                   Clock
	Metrics                 *Metrics
	Logger                  *log.Logger
}

// FromOptions adapts a legacy Options struct into a single Option, so
// New accepts either idiom through the same variadic parameter list
// (SPEC_FULL.md §4.6).
func FromOptions(o Options) Option {
	return func(c *config) error {
		o.apply(c)
		return nil
	}
}

func (o Options) apply(c *config) {
	if o.ConcurrencyLimit > 0 {
		c.concurrencyLimit = o.ConcurrencyLimit
	}
	if o.DefaultNodeTimeout > 0 {
		c.defaultNodeTimeout = o.DefaultNodeTimeout
	}
	if o.RetryBudget > 0 {
		c.retryBudget = o.RetryBudget
	}
	c.gatePolicy = o.GatePolicy
	if o.Store != nil {
		c.store = o.Store
	}
	if o.Emitter != nil {
		c.emitter = o.Emitter
	}
	if o.Governor != nil {
		c.governor = o.Governor
	}
	if o.AutoCheckpointThreshold > 0 {
		c.autoCheckpointThreshold = o.AutoCheckpointThreshold
	}
	if o.Tracer != nil {
		c.tracer = o.Tracer
	}
	if o.Clock != nil {
		c.clock = o.Clock
	}
	if o.Metrics != nil {
		c.metrics = o.Metrics
	}
	if o.Logger != nil {
		c.logger = o.Logger
	}
}
