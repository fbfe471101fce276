package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const echoScript = `
schema = {
    name = "string_echo",
    description = "Echoes text back with a prefix.",
    category = "processor",
    params = {
        { name = "text", type = "string", required = true },
        { name = "prefix", type = "string", default = "> " },
    },
}

function invoke(params)
    local prefix = params.prefix or "> "
    return { result = prefix .. params.text }
end
`

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadLuaToolSchema(t *testing.T) {
	lt, err := LoadLuaTool(writeScript(t, "echo.lua", echoScript))
	if err != nil {
		t.Fatalf("LoadLuaTool: %v", err)
	}
	s := lt.Schema()
	if s.Name != "string_echo" || s.Category != "processor" {
		t.Errorf("schema = %+v", s)
	}
	if len(s.Params) != 2 {
		t.Fatalf("params = %+v", s.Params)
	}
	text, ok := s.Param("text")
	if !ok || !text.Required {
		t.Errorf("text param = %+v", text)
	}
	prefix, _ := s.Param("prefix")
	if prefix.Default != "> " {
		t.Errorf("prefix default = %v", prefix.Default)
	}
}

func TestLuaToolInvoke(t *testing.T) {
	lt, err := LoadLuaTool(writeScript(t, "echo.lua", echoScript))
	if err != nil {
		t.Fatalf("LoadLuaTool: %v", err)
	}
	out, err := lt.Invoke(context.Background(), map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !out.OK() {
		t.Fatalf("status = %s", out.Status)
	}
	if out.Primary() != "> hello" {
		t.Errorf("primary = %v", out.Primary())
	}
}

func TestLuaToolTableResult(t *testing.T) {
	script := `
schema = { name = "pair" }
function invoke(params)
    return { status = "success", data = { primary = "x", count = 2 } }
end
`
	lt, err := LoadLuaTool(writeScript(t, "pair.lua", script))
	if err != nil {
		t.Fatalf("LoadLuaTool: %v", err)
	}
	out, err := lt.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Data["count"] != int64(2) {
		t.Errorf("count = %v (%T)", out.Data["count"], out.Data["count"])
	}
}

func TestLoadLuaToolMissingSchema(t *testing.T) {
	if _, err := LoadLuaTool(writeScript(t, "bad.lua", `function invoke(p) return "x" end`)); err == nil {
		t.Error("missing schema table must error")
	}
}

func TestLoadLuaToolMissingInvoke(t *testing.T) {
	if _, err := LoadLuaTool(writeScript(t, "bad.lua", `schema = { name = "x" }`)); err == nil {
		t.Error("missing invoke function must error")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "echo.lua"), []byte(echoScript), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry()
	n, err := LoadDir(reg, dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 1 || reg.Len() != 1 {
		t.Errorf("loaded = %d, registry = %d", n, reg.Len())
	}
	if _, ok := reg.Get("string_echo"); !ok {
		t.Error("script tool not registered")
	}
}
