package pipeline

import (
	"strings"
	"testing"
)

func orderIndex(t *testing.T, order []string, id string) int {
	t.Helper()
	for i, got := range order {
		if got == id {
			return i
		}
	}
	t.Fatalf("id %q not in order %v", id, order)
	return -1
}

func assertTotal(t *testing.T, plan *Plan, components []Component) {
	t.Helper()
	if len(plan.Order) != len(components) {
		t.Fatalf("order covers %d ids, want %d: %v", len(plan.Order), len(components), plan.Order)
	}
	seen := make(map[string]bool)
	for _, id := range plan.Order {
		if seen[id] {
			t.Fatalf("duplicate id %q in order %v", id, plan.Order)
		}
		seen[id] = true
	}
	for _, c := range components {
		if !seen[c.ID] {
			t.Fatalf("component %q missing from order %v", c.ID, plan.Order)
		}
	}
}

func TestResolveAcyclicChain(t *testing.T) {
	components := []Component{
		{ID: "report", ToolName: "report_generator", Params: map[string]any{
			"text": "$search.output.data",
		}},
		{ID: "upload", ToolName: "file_uploader", Params: map[string]any{
			"file_path": "$writer.output.file_path",
		}},
		{ID: "search", ToolName: "web_search", Params: map[string]any{"query": "go"}},
		{ID: "writer", ToolName: "file_writer", Params: map[string]any{
			"content": "$report.output.data",
		}},
	}

	plan := NewResolver(nil, nil).Resolve(components)
	assertTotal(t, plan, components)

	if orderIndex(t, plan.Order, "search") > orderIndex(t, plan.Order, "report") {
		t.Errorf("search must precede report: %v", plan.Order)
	}
	if orderIndex(t, plan.Order, "report") > orderIndex(t, plan.Order, "writer") {
		t.Errorf("report must precede writer: %v", plan.Order)
	}
	if orderIndex(t, plan.Order, "writer") > orderIndex(t, plan.Order, "upload") {
		t.Errorf("writer must precede upload: %v", plan.Order)
	}
	for _, w := range plan.Warnings {
		if strings.Contains(w, "does not satisfy") {
			t.Errorf("unexpected ordering warning: %s", w)
		}
	}
}

func TestResolveCycleStaysTotal(t *testing.T) {
	components := []Component{
		{ID: "a", ToolName: "alpha", Params: map[string]any{"in": "$b.output.data"}},
		{ID: "b", ToolName: "beta", Params: map[string]any{"in": "$a.output.data"}},
	}

	plan := NewResolver(nil, nil).Resolve(components)
	assertTotal(t, plan, components)

	found := false
	for _, w := range plan.Warnings {
		if strings.Contains(w, "cycle") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected cycle warning, got %v", plan.Warnings)
	}
}

func TestResolveFuzzyReferenceTypo(t *testing.T) {
	components := []Component{
		{ID: "search", ToolName: "web_search", Params: map[string]any{"query": "quarterly numbers"}},
		{ID: "report", ToolName: "summarize", Params: map[string]any{
			"text": "$serach.output.data",
		}},
	}

	plan := NewResolver(nil, nil).Resolve(components)
	assertTotal(t, plan, components)

	if orderIndex(t, plan.Order, "search") > orderIndex(t, plan.Order, "report") {
		t.Errorf("fuzzy match should still order search before report: %v", plan.Order)
	}
	if len(plan.Warnings) == 0 {
		t.Error("misspelled reference should record a warning")
	}
	// The repair step rewrites the placeholder to the real producer id.
	if got := components[1].Params["text"]; got != "$search.output.data" {
		t.Errorf("placeholder not repaired, got %v", got)
	}
}

func TestResolveIndependentComponents(t *testing.T) {
	components := []Component{
		{ID: "alpha", ToolName: "web_search", Params: map[string]any{"query": "a"}},
		{ID: "beta", ToolName: "web_search", Params: map[string]any{"query": "b"}},
	}

	plan := NewResolver(nil, nil).Resolve(components)
	assertTotal(t, plan, components)
	if len(plan.Edges) != 0 {
		t.Errorf("no edges expected, got %v", plan.Edges)
	}
}

func TestResolveUnresolvedReferenceDropped(t *testing.T) {
	components := []Component{
		{ID: "only", ToolName: "summarize", Params: map[string]any{
			"text": "$nonexistent_zzz.output.data",
		}},
	}

	plan := NewResolver(nil, nil).Resolve(components)
	assertTotal(t, plan, components)
	if len(plan.Warnings) == 0 {
		t.Error("unresolved reference should record a warning")
	}
	if len(plan.Edges) != 0 {
		t.Errorf("unresolved reference must not create edges: %v", plan.Edges)
	}
}

func TestHeuristicOrderCategoryRanking(t *testing.T) {
	components := []Component{
		{ID: "up", ToolName: "minio_uploader"},
		{ID: "gen", ToolName: "report_generator"},
		{ID: "src", ToolName: "smart_search"},
	}

	order := heuristicOrder(components, nil)
	if orderIndex(t, order, "src") > orderIndex(t, order, "gen") {
		t.Errorf("source before processor: %v", order)
	}
	if orderIndex(t, order, "gen") > orderIndex(t, order, "up") {
		t.Errorf("processor before uploader: %v", order)
	}
}

func TestCoverage(t *testing.T) {
	edges := []Edge{{Producer: "a", Consumer: "b"}, {Producer: "b", Consumer: "c"}}
	if got := coverage([]string{"a", "b", "c"}, edges); got != 1 {
		t.Errorf("coverage = %v, want 1", got)
	}
	if got := coverage([]string{"c", "b", "a"}, edges); got != 0 {
		t.Errorf("coverage = %v, want 0", got)
	}
	if got := coverage([]string{"a", "c", "b"}, edges); got != 0.5 {
		t.Errorf("coverage = %v, want 0.5", got)
	}
}

func TestExtractReferences(t *testing.T) {
	c := Component{
		ID:       "sink",
		ToolName: "file_writer",
		Params: map[string]any{
			"content": "$gen.output.data.primary",
			"nested": map[string]any{
				"url": "$up.output",
			},
			"list":    []any{"$gen.output.items[0]"},
			"literal": 42,
		},
	}

	refs := extractReferences(c)
	if len(refs) != 3 {
		t.Fatalf("got %d refs, want 3: %+v", len(refs), refs)
	}
	producers := make(map[string]bool)
	for _, r := range refs {
		producers[r.Producer] = true
		if r.Consumer != "sink" {
			t.Errorf("consumer = %q, want sink", r.Consumer)
		}
	}
	if !producers["gen"] || !producers["up"] {
		t.Errorf("producers = %v", producers)
	}
}

func TestOverlapSimilarityTransposition(t *testing.T) {
	if sim := overlapSimilarity("serach", "search"); sim <= 0.7 {
		t.Errorf("serach/search similarity = %v, want > 0.7", sim)
	}
	if sim := overlapSimilarity("upload", "search"); sim > 0.4 {
		t.Errorf("upload/search similarity = %v, want low", sim)
	}
}
