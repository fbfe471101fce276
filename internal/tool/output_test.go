package tool

import (
	"errors"
	"testing"
)

func TestNormalizeScalar(t *testing.T) {
	out := Normalize("web_search", map[string]any{"query": "go"}, "three results")
	if !out.OK() {
		t.Fatalf("status = %s", out.Status)
	}
	if out.Data["primary"] != "three results" {
		t.Errorf("primary = %v", out.Data["primary"])
	}
	if out.Message == "" {
		t.Error("scalar result should get a synthesized message")
	}
	if out.Metadata["tool_name"] != "web_search" {
		t.Errorf("metadata = %v", out.Metadata)
	}
}

func TestNormalizeResultKey(t *testing.T) {
	out := Normalize("t", nil, map[string]any{"result": 42})
	if out.Data["primary"] != 42 {
		t.Errorf("primary = %v", out.Data["primary"])
	}
}

func TestNormalizeEnvelope(t *testing.T) {
	out := Normalize("t", nil, map[string]any{
		"status":  "success",
		"message": "wrote 3 rows",
		"data":    map[string]any{"primary": "/tmp/out.csv", "rows": 3},
	})
	if out.Status != StatusSuccess || out.Message != "wrote 3 rows" {
		t.Errorf("out = %+v", out)
	}
	if out.Data["rows"] != 3 {
		t.Errorf("data = %v", out.Data)
	}
	if out.Primary() != "/tmp/out.csv" {
		t.Errorf("primary = %v", out.Primary())
	}
}

func TestNormalizeErrorField(t *testing.T) {
	out := Normalize("t", nil, map[string]any{"error": "disk full"})
	if out.OK() {
		t.Error("presence of error field implies error status")
	}
	if out.Error != "disk full" {
		t.Errorf("error = %q", out.Error)
	}
}

func TestNormalizeLooseKeys(t *testing.T) {
	out := Normalize("t", nil, map[string]any{
		"title": "Go 1.25 released",
		"url":   "https://go.dev/blog",
	})
	if out.Data["title"] != "Go 1.25 released" || out.Data["url"] != "https://go.dev/blog" {
		t.Errorf("data = %v", out.Data)
	}
	// No primary slot: Primary falls back to the whole tree.
	if m, ok := out.Primary().(map[string]any); !ok || m["title"] != "Go 1.25 released" {
		t.Errorf("primary = %v", out.Primary())
	}
}

func TestNormalizeMetadataMerge(t *testing.T) {
	out := Normalize("t", nil, map[string]any{
		"result":   "x",
		"metadata": map[string]any{"elapsed_ms": 12},
	})
	if out.Metadata["elapsed_ms"] != 12 || out.Metadata["tool_name"] != "t" {
		t.Errorf("metadata = %v", out.Metadata)
	}
}

func TestErrorOutput(t *testing.T) {
	out := ErrorOutput("broken_tool", errors.New("boom"))
	if out.OK() {
		t.Error("error output must not be OK")
	}
	if out.Error != "boom" || out.Metadata["tool_name"] != "broken_tool" {
		t.Errorf("out = %+v", out)
	}
}

func TestOKOnNil(t *testing.T) {
	var out *NodeOutput
	if out.OK() {
		t.Error("nil output must not be OK")
	}
	if out.Primary() != nil {
		t.Error("nil output has no primary")
	}
}
