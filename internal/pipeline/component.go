// Package pipeline turns an LLM-proposed list of tool-call components into
// a total execution order and runs it. The proposer cannot be trusted to
// emit a consistent graph, so every stage here degrades instead of failing:
// unresolved references become warnings, cycles fall back to a heuristic
// ranking, and the final order always covers every component exactly once.
package pipeline

import (
	"regexp"
	"strings"
)

// Component is one proposed tool invocation within a plan. Params may
// contain placeholder strings referencing other components' outputs.
type Component struct {
	ID       string         `json:"id"`
	ToolName string         `json:"tool_name"`
	Params   map[string]any `json:"params,omitempty"`
}

// Reference is one placeholder occurrence found in a component's params:
// $<producer>.output[.<path>].
type Reference struct {
	Consumer string // id of the component whose params hold the placeholder
	Producer string // id as written (may be misspelled)
	Path     string // dotted path after ".output.", empty for whole output
	Param    string // top-level param key the placeholder appeared under
}

// placeholderPattern matches $nodeId.output and $nodeId.output.path.to.field.
// Path segments are matched one at a time so a trailing sentence period is
// not swallowed into the path.
var placeholderPattern = regexp.MustCompile(`\$([A-Za-z0-9_\-]+)\.output((?:\.[A-Za-z0-9_\[\]]+)*)`)

// extractReferences walks a component's param tree and collects every
// placeholder occurrence, depth-first.
func extractReferences(c Component) []Reference {
	var refs []Reference
	for key, val := range c.Params {
		walkValue(val, func(s string) {
			for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
				refs = append(refs, Reference{
					Consumer: c.ID,
					Producer: m[1],
					Path:     strings.TrimPrefix(m[2], "."),
					Param:    key,
				})
			}
		})
	}
	return refs
}

func walkValue(v any, fn func(string)) {
	switch val := v.(type) {
	case string:
		fn(val)
	case map[string]any:
		for _, item := range val {
			walkValue(item, fn)
		}
	case []any:
		for _, item := range val {
			walkValue(item, fn)
		}
	}
}

// rewriteProducer replaces every placeholder referencing oldID with newID
// throughout a component's params. Used by the resolver's repair step once
// a misspelled reference has been matched to a real component.
func rewriteProducer(params map[string]any, oldID, newID string) {
	for key, val := range params {
		params[key] = rewriteValue(val, oldID, newID)
	}
}

func rewriteValue(v any, oldID, newID string) any {
	switch val := v.(type) {
	case string:
		return placeholderPattern.ReplaceAllStringFunc(val, func(match string) string {
			m := placeholderPattern.FindStringSubmatch(match)
			if m[1] != oldID {
				return match
			}
			return "$" + newID + ".output" + m[2]
		})
	case map[string]any:
		for k, item := range val {
			val[k] = rewriteValue(item, oldID, newID)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = rewriteValue(item, oldID, newID)
		}
		return val
	default:
		return v
	}
}
