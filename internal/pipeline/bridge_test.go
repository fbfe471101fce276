package pipeline

import (
	"reflect"
	"testing"

	"github.com/mcpgate/mcpgate/internal/tool"
)

func TestBridgeIdempotence(t *testing.T) {
	schema := &tool.Schema{
		Name: "summarize",
		Params: []tool.Param{
			{Name: "text", Type: "string", Required: true},
			{Name: "limit", Type: "int"},
		},
	}
	supplied := map[string]any{"text": "hello", "limit": 3}

	adapted, warnings := Bridge(schema, supplied, nil)
	if !reflect.DeepEqual(adapted, supplied) {
		t.Errorf("adapted = %v, want unchanged %v", adapted, supplied)
	}
	if len(warnings) != 0 {
		t.Errorf("no warnings expected, got %v", warnings)
	}
}

func TestBridgeDeclaredAlias(t *testing.T) {
	schema := &tool.Schema{
		Name: "file_reader",
		Params: []tool.Param{
			{Name: "file_path", Type: "string", Required: true, Aliases: []string{"file"}},
		},
	}

	direct, _ := Bridge(schema, map[string]any{"file_path": "/tmp/a.txt"}, nil)
	aliased, _ := Bridge(schema, map[string]any{"file": "/tmp/a.txt"}, nil)

	if direct["file_path"] != "/tmp/a.txt" || aliased["file_path"] != "/tmp/a.txt" {
		t.Errorf("direct = %v, aliased = %v; both should resolve file_path", direct, aliased)
	}
}

func TestBridgeGlobalAlias(t *testing.T) {
	schema := &tool.Schema{
		Name: "uploader",
		Params: []tool.Param{
			{Name: "path", Type: "string", Required: true},
		},
	}

	adapted, warnings := Bridge(schema, map[string]any{"filename": "report.pdf"}, nil)
	if adapted["path"] != "report.pdf" {
		t.Errorf("path = %v, want report.pdf", adapted["path"])
	}
	if len(warnings) == 0 {
		t.Error("alias resolution should record a warning")
	}
}

func TestBridgeRotateImageScenario(t *testing.T) {
	schema := &tool.Schema{
		Name: "rotate_image",
		Params: []tool.Param{
			{Name: "image_path", Type: "string", Required: true},
			{Name: "angle", Type: "float", Default: 90.0},
		},
	}

	adapted, warnings := Bridge(schema, map[string]any{"angle": 45}, nil)
	if got := adapted["angle"]; got != 45.0 {
		t.Errorf("angle = %v, want explicit 45 over default 90", got)
	}
	if _, set := adapted["image_path"]; set {
		t.Errorf("image_path should stay unresolved, got %v", adapted["image_path"])
	}
	found := false
	for _, w := range warnings {
		if w == `required parameter "image_path" has no resolvable value` {
			found = true
		}
	}
	if !found {
		t.Errorf("missing required-parameter warning, got %v", warnings)
	}
}

func TestBridgeUpstreamSimilarity(t *testing.T) {
	schema := &tool.Schema{
		Name: "minio_uploader",
		Params: []tool.Param{
			{Name: "file_path", Type: "string", Required: true},
		},
	}
	upstream := map[string]*tool.NodeOutput{
		"writer": {
			Status: tool.StatusSuccess,
			Data:   map[string]any{"path": "/out/report.md", "bytes": 1024},
		},
	}

	adapted, _ := Bridge(schema, map[string]any{}, upstream)
	if adapted["file_path"] != "/out/report.md" {
		t.Errorf("file_path = %v, want /out/report.md from upstream", adapted["file_path"])
	}
}

func TestBridgeSemanticDefault(t *testing.T) {
	schema := &tool.Schema{
		Name: "translator",
		Params: []tool.Param{
			{Name: "text", Type: "string", Required: true},
			{Name: "source_lang", Type: "string"},
			{Name: "target_lang", Type: "string"},
		},
	}

	adapted, _ := Bridge(schema, map[string]any{"text": "hola"}, nil)
	if adapted["source_lang"] != "auto" {
		t.Errorf("source_lang = %v, want auto", adapted["source_lang"])
	}
	if adapted["target_lang"] != "en" {
		t.Errorf("target_lang = %v, want en", adapted["target_lang"])
	}
}

func TestBridgeKeepsRawOnBadCoercion(t *testing.T) {
	schema := &tool.Schema{
		Name: "counter",
		Params: []tool.Param{
			{Name: "limit", Type: "int", Required: true},
		},
	}

	adapted, warnings := Bridge(schema, map[string]any{"limit": "abc"}, nil)
	if adapted["limit"] != "abc" {
		t.Errorf("limit = %v, want raw value kept", adapted["limit"])
	}
	if len(warnings) == 0 {
		t.Error("bad coercion should warn")
	}
}

func TestCoerce(t *testing.T) {
	if v, err := coerce("42", "int"); err != nil || v != 42 {
		t.Errorf("coerce(\"42\", int) = %v, %v", v, err)
	}
	if v, err := coerce(7, "float"); err != nil || v != 7.0 {
		t.Errorf("coerce(7, float) = %v, %v", v, err)
	}
	if v, err := coerce(3.5, "string"); err != nil || v != "3.5" {
		t.Errorf("coerce(3.5, string) = %v, %v", v, err)
	}
	if v, err := coerce("true", "bool"); err != nil || v != true {
		t.Errorf("coerce(true, bool) = %v, %v", v, err)
	}
	if _, err := coerce([]any{1}, "int"); err == nil {
		t.Error("coercing slice to int should fail")
	}
}

func TestResolvePlaceholdersFullValue(t *testing.T) {
	outputs := map[string]*tool.NodeOutput{
		"search": {
			Status: tool.StatusSuccess,
			Data: map[string]any{
				"primary": "top result",
				"results": []any{
					map[string]any{"title": "first", "score": 0.9},
				},
			},
		},
	}
	params := map[string]any{
		"text":  "$search.output.data",
		"title": "$search.output.results[0].title",
		"note":  "found: $search.output.results[0].title.",
	}

	resolved, warnings := ResolvePlaceholders(params, outputs)
	if resolved["text"] != "top result" {
		t.Errorf("text = %v, want primary value", resolved["text"])
	}
	if resolved["title"] != "first" {
		t.Errorf("title = %v, want first", resolved["title"])
	}
	if resolved["note"] != "found: first." {
		t.Errorf("note = %v, want embedded substitution", resolved["note"])
	}
	if len(warnings) != 0 {
		t.Errorf("no warnings expected, got %v", warnings)
	}
}

func TestResolvePlaceholdersMissingPath(t *testing.T) {
	outputs := map[string]*tool.NodeOutput{
		"gen": {Status: tool.StatusSuccess, Data: map[string]any{"primary": "x"}},
	}
	params := map[string]any{"v": "$gen.output.nope.deep"}

	resolved, warnings := ResolvePlaceholders(params, outputs)
	if resolved["v"] != nil {
		t.Errorf("missing path should resolve to nil, got %v", resolved["v"])
	}
	if len(warnings) == 0 {
		t.Error("missing path should warn")
	}
}
