package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mcpgate/mcpgate/internal/tool"
)

// globalAliases groups parameter names that denote the same concept across
// tools. Any member of a group satisfies a declared parameter named after
// another member. Tool-declared aliases are checked before this table.
var globalAliases = [][]string{
	{"file", "file_path", "filepath", "path", "filename", "file_name", "input_file", "output_file", "image_path"},
	{"content", "text", "file_content", "body", "input", "data"},
	{"url", "link", "uri", "address"},
	{"query", "q", "search_query", "keyword", "keywords"},
	{"dir", "directory", "folder", "dir_path"},
}

// semanticDefaults synthesizes a value for a still-unset parameter whose
// name matches a well-known pattern. Last resort before reporting the
// parameter missing.
var semanticDefaults = map[string]any{
	"angle":       90.0,
	"scale":       1.0,
	"timeout":     30,
	"format":      "json",
	"encoding":    "utf-8",
	"source_lang": "auto",
	"target_lang": "en",
	"limit":       10,
	"count":       10,
}

// Bridge adapts supplied parameters to a target tool's declared schema.
// Resolution order per declared parameter: direct name, declared aliases,
// global alias table, similarity against upstream output keys, declared
// default, semantic default. Adopted values pass through type coercion;
// incompatible values are kept raw with a warning so the tool itself
// reports the precise failure.
func Bridge(schema *tool.Schema, supplied map[string]any, upstream map[string]*tool.NodeOutput) (map[string]any, []string) {
	adapted := make(map[string]any, len(schema.Params))
	var warnings []string
	used := make(map[string]bool, len(supplied))

	for _, p := range schema.Params {
		val, ok, how := lookupParam(p, supplied, used)
		if !ok {
			val, ok, how = fromUpstream(p.Name, upstream)
		}
		if !ok && p.Default != nil {
			val, ok, how = p.Default, true, "declared default"
		}
		if !ok {
			if dv, found := semanticDefault(p.Name); found {
				val, ok, how = dv, true, "semantic default"
			}
		}
		if !ok {
			if p.Required {
				warnings = append(warnings, fmt.Sprintf("required parameter %q has no resolvable value", p.Name))
			}
			continue
		}

		coerced, err := coerce(val, p.Type)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("parameter %q: %v, keeping raw value", p.Name, err))
			coerced = val
		}
		adapted[p.Name] = coerced
		if how != "direct" {
			warnings = append(warnings, fmt.Sprintf("parameter %q resolved by %s", p.Name, how))
		}
	}

	// Pass through extras the schema does not declare. The tool may accept
	// them; dropping caller intent silently is worse than forwarding it.
	for name, val := range supplied {
		if _, declared := adapted[name]; !declared && !used[name] {
			adapted[name] = val
		}
	}
	return adapted, warnings
}

func lookupParam(p tool.Param, supplied map[string]any, used map[string]bool) (any, bool, string) {
	if v, ok := supplied[p.Name]; ok {
		used[p.Name] = true
		return v, true, "direct"
	}
	for _, alias := range p.Aliases {
		if v, ok := supplied[alias]; ok {
			used[alias] = true
			return v, true, fmt.Sprintf("declared alias %q", alias)
		}
	}
	for _, group := range globalAliases {
		if !contains(group, strings.ToLower(p.Name)) {
			continue
		}
		for _, alias := range group {
			if v, ok := supplied[alias]; ok {
				used[alias] = true
				return v, true, fmt.Sprintf("global alias %q", alias)
			}
		}
	}
	return nil, false, ""
}

// fromUpstream adopts a value from a prior node's output when the output
// tree holds a key highly similar to the wanted parameter name. Producers
// are scanned in id order so repeated runs resolve identically.
func fromUpstream(name string, upstream map[string]*tool.NodeOutput) (any, bool, string) {
	producers := make([]string, 0, len(upstream))
	for id := range upstream {
		producers = append(producers, id)
	}
	sort.Strings(producers)

	lowered := strings.ToLower(name)
	for _, id := range producers {
		out := upstream[id]
		if out == nil || !out.OK() {
			continue
		}
		var bestKey string
		var bestVal any
		bestScore := 0.0
		walkKeyed(out.Data, func(key string, val any) {
			score := keySimilarity(lowered, strings.ToLower(key))
			if score > bestScore {
				bestScore, bestKey, bestVal = score, key, val
			}
		})
		if bestScore >= 0.7 {
			return bestVal, true, fmt.Sprintf("upstream %s.%s", id, bestKey)
		}
	}
	return nil, false, ""
}

func keySimilarity(want, have string) float64 {
	if want == have {
		return 1
	}
	if sameAliasGroup(want, have) {
		return 0.9
	}
	return overlapSimilarity(want, have)
}

func sameAliasGroup(a, b string) bool {
	for _, group := range globalAliases {
		if contains(group, a) && contains(group, b) {
			return true
		}
	}
	return false
}

// walkKeyed visits every leaf of a nested output tree with its final key
// segment, so "metadata.file_path" competes under the name "file_path".
func walkKeyed(data map[string]any, fn func(key string, val any)) {
	for key, val := range data {
		if nested, ok := val.(map[string]any); ok {
			walkKeyed(nested, fn)
			continue
		}
		fn(key, val)
	}
}

func semanticDefault(name string) (any, bool) {
	lowered := strings.ToLower(name)
	if v, ok := semanticDefaults[lowered]; ok {
		return v, true
	}
	for pattern, v := range semanticDefaults {
		if strings.HasSuffix(lowered, "_"+pattern) {
			return v, true
		}
	}
	return nil, false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// coerce converts a value to the declared type where the pair is
// compatible. Unknown or empty types are treated as "any".
func coerce(val any, declaredType string) (any, error) {
	switch strings.ToLower(declaredType) {
	case "", "any", "object", "array":
		return val, nil
	case "string", "path":
		switch v := val.(type) {
		case string:
			return v, nil
		case float64, int, int64, bool:
			return fmt.Sprintf("%v", v), nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to string", val)
		}
	case "int", "integer":
		switch v := val.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to int", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to int", val)
		}
	case "float", "number", "double":
		switch v := val.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to float", v)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to float", val)
		}
	case "bool", "boolean":
		switch v := val.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to bool", v)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to bool", val)
		}
	default:
		return val, nil
	}
}

// ResolvePlaceholders substitutes $node.output.path references in a param
// map using completed upstream outputs. A param whose entire value is one
// placeholder keeps the resolved value's native type; placeholders embedded
// in larger strings are stringified in place. Missing producers or paths
// resolve to nil/empty with a warning.
func ResolvePlaceholders(params map[string]any, outputs map[string]*tool.NodeOutput) (map[string]any, []string) {
	var warnings []string
	resolved := make(map[string]any, len(params))
	for key, val := range params {
		resolved[key] = resolveValue(val, outputs, &warnings)
	}
	return resolved, warnings
}

func resolveValue(v any, outputs map[string]*tool.NodeOutput, warnings *[]string) any {
	switch val := v.(type) {
	case string:
		if m := placeholderPattern.FindStringSubmatch(val); m != nil && m[0] == val {
			resolved, ok := lookupOutput(m[1], strings.TrimPrefix(m[2], "."), outputs)
			if !ok {
				*warnings = append(*warnings, fmt.Sprintf("placeholder %s did not resolve", val))
				return nil
			}
			return resolved
		}
		return placeholderPattern.ReplaceAllStringFunc(val, func(match string) string {
			m := placeholderPattern.FindStringSubmatch(match)
			resolved, ok := lookupOutput(m[1], strings.TrimPrefix(m[2], "."), outputs)
			if !ok {
				*warnings = append(*warnings, fmt.Sprintf("placeholder %s did not resolve", match))
				return ""
			}
			return fmt.Sprintf("%v", resolved)
		})
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = resolveValue(item, outputs, warnings)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, outputs, warnings)
		}
		return out
	default:
		return v
	}
}

// lookupOutput walks a producer's output data by dotted path, with [n]
// index segments for arrays. An empty path yields the primary value. A
// failed producer resolves nothing: its consumer must see the input as
// missing, not adopt the error envelope as data.
func lookupOutput(producer, path string, outputs map[string]*tool.NodeOutput) (any, bool) {
	out, ok := outputs[producer]
	if !ok || out == nil || !out.OK() {
		return nil, false
	}
	if path == "" || path == "data" {
		return out.Primary(), true
	}
	path = strings.TrimPrefix(path, "data.")
	var current any = out.Data
	for _, segment := range strings.Split(path, ".") {
		name, indexes := splitIndexes(segment)
		if name != "" {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = m[name]
			if !ok {
				return nil, false
			}
		}
		for _, idx := range indexes {
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
		}
	}
	return current, true
}

// splitIndexes parses "items[0][1]" into ("items", [0, 1]).
func splitIndexes(segment string) (string, []int) {
	open := strings.IndexByte(segment, '[')
	if open < 0 {
		return segment, nil
	}
	name := segment[:open]
	var indexes []int
	rest := segment[open:]
	for strings.HasPrefix(rest, "[") {
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			break
		}
		n, err := strconv.Atoi(rest[1:close])
		if err != nil {
			break
		}
		indexes = append(indexes, n)
		rest = rest[close+1:]
	}
	return name, indexes
}
