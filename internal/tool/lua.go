package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// LuaTool wraps a Lua script as a Tool. The script must set a global
// `schema` table describing the tool and define a global invoke(params)
// function returning a table (the tool result) or a string.
//
// A fresh lua.State is created per invocation, so scripts cannot leak
// state between calls and concurrent invocations stay isolated.
type LuaTool struct {
	path   string
	schema *Schema
}

// LoadLuaTool parses the script once to extract its schema table.
func LoadLuaTool(path string) (*LuaTool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("script path: %w", err)
	}

	lState := lua.NewState()
	defer lState.Close()
	lState.PreloadModule("os", osModuleLoader)

	if err := lState.DoFile(absPath); err != nil {
		return nil, fmt.Errorf("load script %s: %w", filepath.Base(path), err)
	}

	schemaVal := lState.GetGlobal("schema")
	if schemaVal.Type() != lua.LTTable {
		return nil, fmt.Errorf("script %s must define a global schema table", filepath.Base(path))
	}
	schema, err := schemaFromTable(schemaVal.(*lua.LTable))
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", filepath.Base(path), err)
	}

	fn := lState.GetGlobal("invoke")
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("script %s must define a global function invoke(params)", filepath.Base(path))
	}

	return &LuaTool{path: absPath, schema: schema}, nil
}

func (t *LuaTool) Schema() *Schema { return t.schema }

func (t *LuaTool) Invoke(ctx context.Context, params map[string]any) (*NodeOutput, error) {
	lState := lua.NewState()
	defer lState.Close()
	lState.PreloadModule("os", osModuleLoader)
	lState.SetContext(ctx)

	if err := lState.DoFile(t.path); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}

	fn := lState.GetGlobal("invoke")
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("invoke must be a function, got %s", fn.Type().String())
	}

	lState.Push(fn)
	lState.Push(goToLua(lState, params))
	if err := lState.PCall(1, 1, nil); err != nil {
		return nil, fmt.Errorf("invoke(): %w", err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)

	var raw any
	switch ret.Type() {
	case lua.LTNil:
		raw = map[string]any{}
	default:
		raw = luaToGo(ret)
	}
	return Normalize(t.schema.Name, params, raw), nil
}

// LoadDir registers every *.lua script under dir. Scripts are loaded in
// name order so duplicate-name errors are deterministic.
func LoadDir(reg *Registry, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read tool dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		t, err := LoadLuaTool(filepath.Join(dir, name))
		if err != nil {
			return loaded, err
		}
		if err := reg.Register(t.Schema(), t); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

func schemaFromTable(tbl *lua.LTable) (*Schema, error) {
	s := &Schema{}
	tbl.ForEach(func(k, v lua.LValue) {
		switch k.String() {
		case "name":
			s.Name = v.String()
		case "description":
			s.Description = v.String()
		case "category":
			s.Category = v.String()
		case "params":
			if pt, ok := v.(*lua.LTable); ok {
				pt.ForEach(func(_, pv lua.LValue) {
					if entry, ok := pv.(*lua.LTable); ok {
						s.Params = append(s.Params, paramFromTable(entry))
					}
				})
			}
		case "output_shape":
			if ot, ok := v.(*lua.LTable); ok {
				if m, ok := luaToGo(ot).(map[string]any); ok {
					s.OutputShape = m
				}
			}
		}
	})
	if s.Name == "" {
		return nil, fmt.Errorf("schema table must set name")
	}
	return s, nil
}

func paramFromTable(tbl *lua.LTable) Param {
	p := Param{}
	tbl.ForEach(func(k, v lua.LValue) {
		switch k.String() {
		case "name":
			p.Name = v.String()
		case "type":
			p.Type = v.String()
		case "description":
			p.Description = v.String()
		case "required":
			p.Required = v == lua.LTrue
		case "default":
			p.Default = luaToGo(v)
		case "aliases":
			if at, ok := v.(*lua.LTable); ok {
				at.ForEach(func(_, av lua.LValue) {
					p.Aliases = append(p.Aliases, av.String())
				})
			}
		}
	})
	return p
}

func goToLua(lState *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := lState.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(lState, item))
		}
		return tbl
	case map[string]any:
		tbl := lState.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, goToLua(lState, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return val == lua.LTrue
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(val)
	case *lua.LTable:
		// A table with only consecutive integer keys becomes a slice,
		// anything else a map.
		maxN := val.MaxN()
		if maxN > 0 && val.Len() == maxN {
			arr := make([]any, 0, maxN)
			for i := 1; i <= maxN; i++ {
				arr = append(arr, luaToGo(val.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			m[k.String()] = luaToGo(item)
		})
		return m
	default:
		return v.String()
	}
}

// osModuleLoader provides a minimal os module for tool scripts:
// getenv and time only.
func osModuleLoader(lState *lua.LState) int {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		key := ls.CheckString(1)
		ls.Push(lua.LString(os.Getenv(key)))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	lState.Push(mod)
	return 1
}
