package executor

import (
	"github.com/agentcore/taskgraph/gate"
	"github.com/agentcore/taskgraph/workflow"
)

// resolveGatePolicy converts the pointer-field workflow.GatePolicy chain
// (node override ⊕ graph default ⊕ engine default) into a concrete
// gate.Policy (SPEC_FULL.md §4.3, §4.4.1). It applies precedence directly
// field-by-field rather than through gate.Merge: gate.Merge's value-typed
// Policy cannot distinguish "explicitly false" from "unset", but the
// pointer fields here can, so an explicit `requireGuard: false` override
// must be honored even against a true engine default.
func resolveGatePolicy(engineDefault gate.Policy, graphDefault, nodeOverride *workflow.GatePolicy) gate.Policy {
	out := engineDefault
	applyOverride(&out, graphDefault)
	applyOverride(&out, nodeOverride)
	return out
}

func applyOverride(out *gate.Policy, p *workflow.GatePolicy) {
	if p == nil {
		return
	}
	if p.RequireGuard != nil {
		out.RequireGuard = *p.RequireGuard
	}
	if p.RequireTest != nil {
		out.RequireTest = *p.RequireTest
	}
	if p.StrictTaskScope != nil {
		out.StrictTaskScope = *p.StrictTaskScope
	}
	if p.MaxDetailItems != nil {
		out.MaxDetailItems = *p.MaxDetailItems
	}
	if p.MaxAgeMs != nil {
		out.MaxAgeMs = *p.MaxAgeMs
	}
	if p.GuardArgs != nil {
		out.GuardArgs = p.GuardArgs
	}
	if p.TestArgs != nil {
		out.TestArgs = p.TestArgs
	}
}
