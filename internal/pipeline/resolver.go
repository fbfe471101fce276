package pipeline

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/mcpgate/mcpgate/internal/tool"
)

// Edge is a resolved producer→consumer dependency.
type Edge struct {
	Producer string
	Consumer string
}

// Plan is a total execution order over a component set plus any anomalies
// found while deriving it. Order always contains every component id exactly
// once, even for cyclic or otherwise malformed input.
type Plan struct {
	Order    []string
	Edges    []Edge
	Warnings []string
}

// Resolver derives execution plans from proposed components. The registry
// is consulted for output-shape keywords during semantic matching; a nil
// registry disables only that last-resort tier.
type Resolver struct {
	registry *tool.Registry
	logger   *log.Logger
}

func NewResolver(registry *tool.Registry, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{registry: registry, logger: logger}
}

// Resolve produces a total order over components. Malformed graphs never
// abort the run: unresolved references are dropped with a warning, cycles
// demote the sort to a heuristic ranking, and when the graph was ambiguous
// the candidate ordering with the higher dependency coverage wins.
func (r *Resolver) Resolve(components []Component) *Plan {
	plan := &Plan{}
	if len(components) == 0 {
		return plan
	}

	ids := make(map[string]bool, len(components))
	byID := make(map[string]*Component, len(components))
	for i := range components {
		ids[components[i].ID] = true
		byID[components[i].ID] = &components[i]
	}

	// Reference extraction with producer repair.
	var edges []Edge
	ambiguous := false
	seen := make(map[Edge]bool)
	for i := range components {
		for _, ref := range extractReferences(components[i]) {
			producer, how := r.matchProducer(ref.Producer, components)
			if producer == "" {
				plan.Warnings = append(plan.Warnings,
					fmt.Sprintf("unresolved reference $%s.output in component %q param %q", ref.Producer, ref.Consumer, ref.Param))
				ambiguous = true
				continue
			}
			if producer != ref.Producer {
				rewriteProducer(components[i].Params, ref.Producer, producer)
				plan.Warnings = append(plan.Warnings,
					fmt.Sprintf("reference $%s matched component %q by %s in component %q", ref.Producer, producer, how, ref.Consumer))
				ambiguous = true
			}
			if producer == ref.Consumer {
				plan.Warnings = append(plan.Warnings,
					fmt.Sprintf("component %q references its own output", ref.Consumer))
				continue
			}
			e := Edge{Producer: producer, Consumer: ref.Consumer}
			if !seen[e] {
				seen[e] = true
				edges = append(edges, e)
			}
		}
	}
	plan.Edges = edges

	topoOrder, cyclic := topoSort(ids, edges)
	if cyclic {
		plan.Warnings = append(plan.Warnings, "dependency cycle detected, falling back to heuristic ordering")
		ambiguous = true
	}

	order := topoOrder
	if cyclic || len(topoOrder) != len(components) {
		order = heuristicOrder(components, edges)
	} else if ambiguous {
		// Graph was repaired or lossy: score both candidates and keep
		// whichever satisfies more of the extracted edges.
		heuristic := heuristicOrder(components, edges)
		if coverage(heuristic, edges) > coverage(topoOrder, edges) {
			order = heuristic
		}
	}
	plan.Order = order

	// Validation pass. Heuristic orderings of cyclic graphs cannot satisfy
	// every edge, so violations are warnings only.
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, e := range edges {
		if pos[e.Producer] >= pos[e.Consumer] {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("ordering does not satisfy dependency %s -> %s", e.Producer, e.Consumer))
		}
	}

	for _, w := range plan.Warnings {
		r.logger.Printf("resolver: %s", w)
	}
	return plan
}

// matchProducer maps a referenced id onto a real component id. Tiers:
// exact match, then id similarity (suffix stripping, containment, bigram
// overlap), then keyword overlap against the component's tool name and
// declared output keys. Returns the matched id and which tier matched.
func (r *Resolver) matchProducer(referenced string, components []Component) (string, string) {
	for _, c := range components {
		if c.ID == referenced {
			return c.ID, "exact match"
		}
	}
	for _, c := range components {
		if similarID(referenced, c.ID) {
			return c.ID, "fuzzy match"
		}
	}
	for _, c := range components {
		if r.semanticallyRelated(referenced, c) {
			return c.ID, "semantic match"
		}
	}
	return "", ""
}

var idSuffixes = []string{"_node", "_tool", "_step", "_task", "_processor", "_handler", "_generator"}

func similarID(a, b string) bool {
	a, b = stripSuffixes(a), stripSuffixes(b)
	if a == b {
		return true
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	return overlapSimilarity(a, b) > 0.7
}

func stripSuffixes(id string) string {
	for _, suffix := range idSuffixes {
		id = strings.TrimSuffix(id, suffix)
	}
	return strings.ToLower(id)
}

// overlapSimilarity is a character-overlap Dice coefficient. Deliberately
// permissive: it tolerates the transpositions LLMs produce ("serach" /
// "search") at the cost of precision, which the confidence floor absorbs.
func overlapSimilarity(a, b string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inB := make(map[rune]bool)
	for _, r := range b {
		inB[r] = true
	}
	common := 0
	for _, r := range a {
		if inB[r] {
			common++
		}
	}
	return 2 * float64(common) / float64(len(a)+len(b))
}

func (r *Resolver) semanticallyRelated(referenced string, c Component) bool {
	refWords := keywords(referenced)
	if len(refWords) == 0 {
		return false
	}
	candWords := keywords(c.ToolName)
	if r.registry != nil {
		if schema, ok := r.registry.Schema(c.ToolName); ok {
			for _, key := range schema.OutputKeys() {
				for w := range keywords(key) {
					candWords[w] = true
				}
			}
		}
	}
	return jaccard(refWords, candWords) > 0.5
}

var keywordStopWords = map[string]bool{
	"node": true, "tool": true, "step": true, "task": true,
	"processor": true, "handler": true, "generator": true,
}

func keywords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	}) {
		if w != "" && !keywordStopWords[w] {
			words[w] = true
		}
	}
	return words
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// topoSort is a DFS topological sort over ids. A back-edge marks the sort
// cyclic; the offending branch is skipped and sorting continues, so the
// caller decides whether the partial result is usable.
func topoSort(ids map[string]bool, edges []Edge) (order []string, cyclic bool) {
	deps := make(map[string][]string) // consumer -> producers
	for _, e := range edges {
		deps[e.Consumer] = append(deps[e.Consumer], e.Producer)
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(ids))

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return false // back-edge
		case done:
			return true
		}
		state[id] = visiting
		for _, dep := range deps[id] {
			if !ids[dep] {
				continue
			}
			if !visit(dep) {
				state[id] = unvisited
				return false
			}
		}
		state[id] = done
		order = append(order, id)
		return true
	}

	for _, id := range sorted {
		if state[id] != done && !visit(id) {
			cyclic = true
		}
	}
	return order, cyclic
}

// Tool-name keyword buckets for the heuristic ranking: sources first,
// then processors, then file operators, then storage sinks.
var categoryKeywords = []struct {
	priority int
	words    []string
}{
	{1, []string{"search", "fetch", "crawl", "query", "read", "download", "scrape"}},
	{2, []string{"process", "transform", "generate", "report", "summar", "convert", "translate", "analy", "rotate", "resize"}},
	{3, []string{"write", "save", "export", "render"}},
	{4, []string{"upload", "store", "publish", "send", "deploy"}},
}

func categoryPriority(toolName string) int {
	name := strings.ToLower(toolName)
	for _, bucket := range categoryKeywords {
		for _, w := range bucket.words {
			if strings.Contains(name, w) {
				return bucket.priority
			}
		}
	}
	return 5
}

// heuristicOrder is the always-total fallback: rank by tool category, then
// ascending in-degree, then descending out-degree, then id.
func heuristicOrder(components []Component, edges []Edge) []string {
	inDegree := make(map[string]int)
	outDegree := make(map[string]int)
	for _, e := range edges {
		inDegree[e.Consumer]++
		outDegree[e.Producer]++
	}

	order := make([]string, len(components))
	prio := make(map[string]int, len(components))
	for i, c := range components {
		order[i] = c.ID
		prio[c.ID] = categoryPriority(c.ToolName)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if prio[a] != prio[b] {
			return prio[a] < prio[b]
		}
		if inDegree[a] != inDegree[b] {
			return inDegree[a] < inDegree[b]
		}
		if outDegree[a] != outDegree[b] {
			return outDegree[a] > outDegree[b]
		}
		return a < b
	})
	return order
}

// coverage is the fraction of edges whose producer precedes its consumer.
func coverage(order []string, edges []Edge) float64 {
	if len(edges) == 0 {
		return 1
	}
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	satisfied := 0
	for _, e := range edges {
		if pos[e.Producer] < pos[e.Consumer] {
			satisfied++
		}
	}
	return float64(satisfied) / float64(len(edges))
}
