// Package workflow defines the workflow graph model: nodes, edges, and
// the validation pass that must succeed before the executor can run a
// graph. It is grounded on the teacher's graph/node.go and graph/edge.go
// shapes, generalized from a hand-wired Add/Connect API into a
// validated, versioned graph document.
package workflow

import (
	"errors"
	"fmt"
)

// Kind is one of the three node kinds the executor recognizes.
type Kind string

const (
	KindTask     Kind = "task"
	KindDecision Kind = "decision"
	KindJoin     Kind = "join"
)

// Phase is an optional lifecycle phase used to derive the effective
// gateRequired default (impl/test/review → true).
type Phase string

const (
	PhaseAnalysis Phase = "analysis"
	PhasePlan     Phase = "plan"
	PhaseImpl     Phase = "impl"
	PhaseReview   Phase = "review"
	PhaseTest     Phase = "test"
)

// OnError selects terminal behavior when a node's runner fails after
// retries are exhausted.
type OnError string

const (
	OnErrorFail     OnError = "fail"
	OnErrorSkip     OnError = "skip"
	OnErrorContinue OnError = "continue"
)

// GatePolicy is a partial override of the Gate Engine's default policy.
// Fields are pointers so that "unset" (inherit) is distinguishable from
// "explicitly false/zero" (SPEC_FULL.md §4.3 policy composition).
type GatePolicy struct {
	RequireGuard    *bool  `json:"requireGuard,omitempty"`
	RequireTest     *bool  `json:"requireTest,omitempty"`
	StrictTaskScope *bool  `json:"strictTaskScope,omitempty"`
	MaxDetailItems  *int   `json:"maxDetailItems,omitempty"`
	MaxAgeMs        *int64 `json:"maxAgeMs,omitempty"`
	GuardArgs       map[string]any `json:"guardArgs,omitempty"`
	TestArgs        map[string]any `json:"testArgs,omitempty"`
}

// Node is one vertex in a WorkflowGraph. Nodes are referenced by ID
// everywhere else in the module (arena-by-id, never an ownership
// pointer, per SPEC_FULL.md §9) so that a cyclic adjacency never becomes
// a cyclic Go value graph.
type Node struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	Label        string         `json:"label,omitempty"`
	Phase        Phase          `json:"phase,omitempty"`
	GateRequired *bool          `json:"gateRequired,omitempty"`
	GatePolicy   *GatePolicy    `json:"gatePolicy,omitempty"`
	TimeoutMs    int64          `json:"timeoutMs,omitempty"`
	Retries      int            `json:"retries,omitempty"`
	OnError      OnError        `json:"onError,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// ConditionKind selects an Edge's predicate form.
type ConditionKind string

const (
	ConditionEquals ConditionKind = "equals"
	ConditionExists ConditionKind = "exists"
	ConditionTruthy ConditionKind = "truthy"
)

// Condition is an edge predicate evaluated against a dotted path into the
// execution context view.
type Condition struct {
	Kind  ConditionKind `json:"kind"`
	Path  string        `json:"path"`
	Value any           `json:"value,omitempty"` // only used by ConditionEquals
}

// Edge connects two nodes, optionally guarded by a Condition. An Edge
// with a nil Condition is unconditional and always activates.
type Edge struct {
	From      string     `json:"from"`
	To        string     `json:"to"`
	Condition *Condition `json:"condition,omitempty"`
}

// Defaults holds graph-level fallbacks applied when a node does not
// specify its own values.
type Defaults struct {
	GateRequired     *bool       `json:"gateRequired,omitempty"`
	GatePolicy       *GatePolicy `json:"gatePolicy,omitempty"`
	TimeoutMs        int64       `json:"timeoutMs,omitempty"`
	Retries          int         `json:"retries,omitempty"`
	ConcurrencyLimit int         `json:"concurrencyLimit,omitempty"`
}

// Graph is a versioned, immutable-after-Validate workflow document.
type Graph struct {
	SchemaVersion string   `json:"schemaVersion"`
	Name          string   `json:"name,omitempty"`
	Entry         string   `json:"entry"`
	Nodes         []Node   `json:"nodes"`
	Edges         []Edge   `json:"edges"`
	Defaults      Defaults `json:"defaults,omitempty"`

	// populated by Validate; unexported so callers cannot bypass validation.
	nodeIndex map[string]*Node
	outEdges  map[string][]Edge
	inEdges   map[string][]Edge
	topoOrder map[string]int
	validated bool
}

var (
	ErrNoEntry        = errors.New("workflow: entry node not set")
	ErrDuplicateNode  = errors.New("workflow: duplicate node id")
	ErrNotValidated   = errors.New("workflow: graph has not been validated")
)

// ValidationError reports a malformed graph: missing entry, a dangling
// edge endpoint, or a directed cycle.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "workflow: validation failed: " + e.Reason
	}
	return fmt.Sprintf("workflow: validation failed: %s: %s", e.Reason, e.Detail)
}

// Node looks up a node by id. Validate must have succeeded first.
func (g *Graph) Node(id string) (*Node, bool) {
	if !g.validated {
		return nil, false
	}
	n, ok := g.nodeIndex[id]
	return n, ok
}

// OutEdges returns the outgoing edges from a node id, in declaration
// order.
func (g *Graph) OutEdges(id string) []Edge {
	return g.outEdges[id]
}

// InEdges returns the incoming edges to a node id, in declaration order.
func (g *Graph) InEdges(id string) []Edge {
	return g.inEdges[id]
}

// TopoRank returns a node's position in a fixed topological order,
// computed once during Validate and used purely as a scheduler
// tie-breaker (SPEC_FULL.md §4.4).
func (g *Graph) TopoRank(id string) int {
	return g.topoOrder[id]
}

// Validated reports whether Validate has succeeded on this graph.
func (g *Graph) Validated() bool { return g.validated }

// Validate checks: (i) entry resolves to a node; (ii) every edge endpoint
// resolves to a node; (iii) no directed cycles; (iv) node ids unique.
// On success it also computes a topological order. The graph must not be
// mutated after a successful Validate (SPEC_FULL.md §3).
func (g *Graph) Validate() error {
	g.nodeIndex = make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if _, dup := g.nodeIndex[n.ID]; dup {
			return &ValidationError{Reason: "duplicate node id", Detail: n.ID}
		}
		g.nodeIndex[n.ID] = n
	}

	if g.Entry == "" {
		return &ValidationError{Reason: "entry not set"}
	}
	if _, ok := g.nodeIndex[g.Entry]; !ok {
		return &ValidationError{Reason: "entry resolves to no node", Detail: g.Entry}
	}

	g.outEdges = make(map[string][]Edge, len(g.Nodes))
	g.inEdges = make(map[string][]Edge, len(g.Nodes))
	for _, e := range g.Edges {
		if _, ok := g.nodeIndex[e.From]; !ok {
			return &ValidationError{Reason: "dangling edge endpoint", Detail: "from=" + e.From}
		}
		if _, ok := g.nodeIndex[e.To]; !ok {
			return &ValidationError{Reason: "dangling edge endpoint", Detail: "to=" + e.To}
		}
		g.outEdges[e.From] = append(g.outEdges[e.From], e)
		g.inEdges[e.To] = append(g.inEdges[e.To], e)
	}

	order, err := topoSort(g)
	if err != nil {
		return err
	}
	g.topoOrder = make(map[string]int, len(order))
	for i, id := range order {
		g.topoOrder[id] = i
	}

	g.validated = true
	return nil
}

// color marks DFS visitation state for cycle detection.
type color int

const (
	white color = iota
	gray
	black
)

// topoSort performs a three-colored DFS, returning a valid topological
// order or a ValidationError naming the cycle (SPEC_FULL.md §4.4,
// invariant 3 in §8).
func topoSort(g *Graph) ([]string, error) {
	colors := make(map[string]color, len(g.Nodes))
	order := make([]string, 0, len(g.Nodes))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch colors[id] {
		case black:
			return nil
		case gray:
			return &ValidationError{
				Reason: "cycle detected",
				Detail: fmt.Sprintf("%v -> %s", append(path, id), id),
			}
		}
		colors[id] = gray
		path = append(path, id)
		for _, e := range g.outEdges[id] {
			if err := visit(e.To, path); err != nil {
				return err
			}
		}
		colors[id] = black
		order = append(order, id)
		return nil
	}

	// Deterministic iteration order: declaration order of g.Nodes.
	for _, n := range g.Nodes {
		if colors[n.ID] == white {
			if err := visit(n.ID, nil); err != nil {
				return nil, err
			}
		}
	}

	// order is currently in post-order (reverse topological); reverse it.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// EffectiveGateRequired resolves precedence: explicit node value > phase
// default (impl/test/review → true) > graph default > false
// (SPEC_FULL.md §4.4.1).
func (g *Graph) EffectiveGateRequired(n *Node) bool {
	if n.GateRequired != nil {
		return *n.GateRequired
	}
	switch n.Phase {
	case PhaseImpl, PhaseTest, PhaseReview:
		return true
	}
	if g.Defaults.GateRequired != nil {
		return *g.Defaults.GateRequired
	}
	return false
}
