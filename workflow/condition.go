package workflow

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// ContextView is the read-only snapshot a decision node's conditions (and
// a TaskRunner) evaluate against (SPEC_FULL.md §4.4.3, §6.1).
type ContextView struct {
	Results   map[string]any `json:"results"`
	Payload   map[string]any `json:"payload"`
	GraphMeta GraphMeta      `json:"graphMeta"`
}

// GraphMeta is the subset of graph metadata exposed to runners and
// conditions.
type GraphMeta struct {
	Name string `json:"name"`
}

// Evaluate applies a Condition to a ContextView using dotted-path lookups
// over the JSON projection of the view (SPEC_FULL.md §3, §4.7). A nil
// Condition always evaluates true (unconditional edge).
func (c *Condition) Evaluate(view ContextView) (bool, error) {
	if c == nil {
		return true, nil
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return false, err
	}
	result := gjson.GetBytes(raw, c.Path)

	switch c.Kind {
	case ConditionExists:
		return result.Exists() && result.Type != gjson.Null, nil
	case ConditionTruthy:
		return isTruthy(result), nil
	case ConditionEquals:
		if !result.Exists() {
			return false, nil
		}
		return equalsValue(result, c.Value), nil
	default:
		return false, &ValidationError{Reason: "unknown condition kind", Detail: string(c.Kind)}
	}
}

// isTruthy mirrors JS-like truthiness: false for "", "0", 0, false, null,
// missing; true otherwise.
func isTruthy(r gjson.Result) bool {
	if !r.Exists() {
		return false
	}
	switch r.Type {
	case gjson.Null:
		return false
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != "" && r.Str != "0"
	default:
		// arrays/objects: truthy unless empty
		return len(r.Raw) > 0 && r.Raw != "{}" && r.Raw != "[]"
	}
}

// equalsValue compares a gjson.Result against an arbitrary Go value
// coming from a parsed condition literal (string, float64, bool, or nil
// after json.Unmarshal).
func equalsValue(r gjson.Result, want any) bool {
	switch w := want.(type) {
	case nil:
		return r.Type == gjson.Null
	case bool:
		return (r.Type == gjson.True && w) || (r.Type == gjson.False && !w)
	case string:
		return r.Type == gjson.String && r.Str == w
	case float64:
		return r.Type == gjson.Number && r.Num == w
	case int:
		return r.Type == gjson.Number && r.Num == float64(w)
	default:
		// fall back to string comparison of the raw literal
		return r.Raw == toJSONLiteral(w)
	}
}

func toJSONLiteral(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Lookup resolves a dotted path directly against the view without
// requiring a Condition wrapper. String values are returned unquoted;
// other values are returned as raw JSON.
func (v ContextView) Lookup(path string) (string, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return "", false
	}
	if res.Type == gjson.String {
		return res.Str, true
	}
	return res.Raw, true
}
