package workflow

import "testing"

func linearGraph() *Graph {
	return &Graph{
		SchemaVersion: "1",
		Entry:         "a",
		Nodes: []Node{
			{ID: "a", Kind: KindTask},
			{ID: "b", Kind: KindTask},
			{ID: "c", Kind: KindTask},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "b", To: "c"},
		},
	}
}

func TestValidateAcceptsAcyclicGraph(t *testing.T) {
	g := linearGraph()
	if err := g.Validate(); err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}
	if !g.Validated() {
		t.Fatal("expected Validated() true after Validate")
	}
	if g.TopoRank("a") >= g.TopoRank("b") || g.TopoRank("b") >= g.TopoRank("c") {
		t.Errorf("expected topo ranks a < b < c, got a=%d b=%d c=%d", g.TopoRank("a"), g.TopoRank("b"), g.TopoRank("c"))
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	g := linearGraph()
	g.Edges = append(g.Edges, Edge{From: "c", To: "a"})

	err := g.Validate()
	if err == nil {
		t.Fatal("expected cycle to be rejected")
	}
	var verr *ValidationError
	if !asValidationError(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if verr.Reason != "cycle detected" {
		t.Errorf("expected reason %q, got %q", "cycle detected", verr.Reason)
	}
}

func TestValidateRejectsDanglingEdge(t *testing.T) {
	g := linearGraph()
	g.Edges = append(g.Edges, Edge{From: "b", To: "ghost"})

	if err := g.Validate(); err == nil {
		t.Fatal("expected dangling edge endpoint to be rejected")
	}
}

func TestValidateRejectsDuplicateNode(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes, Node{ID: "a", Kind: KindTask})

	if err := g.Validate(); err == nil {
		t.Fatal("expected duplicate node id to be rejected")
	}
}

func TestValidateRejectsMissingEntry(t *testing.T) {
	g := linearGraph()
	g.Entry = "nonexistent"

	if err := g.Validate(); err == nil {
		t.Fatal("expected unresolved entry to be rejected")
	}
}

func TestNodeLookupRequiresValidation(t *testing.T) {
	g := linearGraph()
	if _, ok := g.Node("a"); ok {
		t.Fatal("expected Node lookup to fail before Validate")
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if _, ok := g.Node("a"); !ok {
		t.Fatal("expected Node lookup to succeed after Validate")
	}
}

func TestEffectiveGateRequiredPrecedence(t *testing.T) {
	g := linearGraph()
	implPhase := PhaseImpl
	g.Nodes[1].Phase = implPhase // "b"
	trueVal := true
	falseVal := false
	g.Defaults.GateRequired = &trueVal

	if err := g.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	// "a" has no explicit value, no phase default -> falls back to graph default (true).
	nodeA, _ := g.Node("a")
	if !g.EffectiveGateRequired(nodeA) {
		t.Error("expected node a to inherit graph default true")
	}

	// "b" is phase impl -> true regardless of graph default.
	nodeB, _ := g.Node("b")
	if !g.EffectiveGateRequired(nodeB) {
		t.Error("expected impl-phase node b to default to gate required")
	}

	// "c" explicitly overrides to false, beating graph default true.
	nodeC, _ := g.Node("c")
	nodeC.GateRequired = &falseVal
	if g.EffectiveGateRequired(nodeC) {
		t.Error("expected explicit false override to win over graph default true")
	}
}

func asValidationError(err error, out **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if ok {
		*out = ve
	}
	return ok
}
