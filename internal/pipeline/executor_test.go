package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcpgate/mcpgate/internal/tool"
)

func registerFunc(t *testing.T, reg *tool.Registry, schema *tool.Schema, fn tool.Func) {
	t.Helper()
	if err := reg.Register(schema, fn); err != nil {
		t.Fatalf("Register(%s): %v", schema.Name, err)
	}
}

func echoTool(t *testing.T, reg *tool.Registry, name string) {
	registerFunc(t, reg, &tool.Schema{
		Name:   name,
		Params: []tool.Param{{Name: "value", Type: "any"}},
	}, func(_ context.Context, params map[string]any) (*tool.NodeOutput, error) {
		return tool.Normalize(name, params, map[string]any{"result": params["value"]}), nil
	})
}

func TestExecutorRunsChainInOrder(t *testing.T) {
	reg := tool.NewRegistry()

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	registerFunc(t, reg, &tool.Schema{Name: "producer"}, func(context.Context, map[string]any) (*tool.NodeOutput, error) {
		record("producer")
		return tool.Normalize("producer", nil, map[string]any{"result": "payload"}), nil
	})
	registerFunc(t, reg, &tool.Schema{
		Name:   "consumer",
		Params: []tool.Param{{Name: "text", Type: "string", Required: true}},
	}, func(_ context.Context, params map[string]any) (*tool.NodeOutput, error) {
		record("consumer")
		if params["text"] != "payload" {
			return nil, fmt.Errorf("text = %v, want payload", params["text"])
		}
		return tool.Normalize("consumer", params, "done"), nil
	})

	components := []Component{
		{ID: "first", ToolName: "producer", Params: map[string]any{}},
		{ID: "second", ToolName: "consumer", Params: map[string]any{
			"text": "$first.output.data",
		}},
	}
	plan := NewResolver(reg, nil).Resolve(components)
	exec := NewExecutor(reg, 4, time.Second, nil)

	outputs := exec.Run(context.Background(), plan, components, Hooks{})
	if len(outputs) != 2 {
		t.Fatalf("got %d outputs, want 2", len(outputs))
	}
	if !outputs["second"].OK() {
		t.Fatalf("consumer failed: %+v", outputs["second"])
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "producer" || order[1] != "consumer" {
		t.Errorf("execution order = %v", order)
	}
}

func TestExecutorIndependentNodesAllComplete(t *testing.T) {
	reg := tool.NewRegistry()
	echoTool(t, reg, "web_search")

	components := []Component{
		{ID: "alpha", ToolName: "web_search", Params: map[string]any{"value": "a"}},
		{ID: "beta", ToolName: "web_search", Params: map[string]any{"value": "b"}},
	}
	plan := NewResolver(reg, nil).Resolve(components)
	exec := NewExecutor(reg, 2, time.Second, nil)

	outputs := exec.Run(context.Background(), plan, components, Hooks{})
	if outputs["alpha"] == nil || outputs["beta"] == nil {
		t.Fatalf("both outputs expected regardless of order, got %v", outputs)
	}
	if !outputs["alpha"].OK() || !outputs["beta"].OK() {
		t.Errorf("both nodes should succeed: %+v %+v", outputs["alpha"], outputs["beta"])
	}
}

func TestExecutorFailurePropagatesToRequiredConsumer(t *testing.T) {
	reg := tool.NewRegistry()

	registerFunc(t, reg, &tool.Schema{Name: "broken"}, func(context.Context, map[string]any) (*tool.NodeOutput, error) {
		return nil, errors.New("boom")
	})
	invoked := int32(0)
	registerFunc(t, reg, &tool.Schema{
		Name:   "dependent",
		Params: []tool.Param{{Name: "input", Type: "string", Required: true}},
	}, func(context.Context, map[string]any) (*tool.NodeOutput, error) {
		atomic.AddInt32(&invoked, 1)
		return tool.Normalize("dependent", nil, "never"), nil
	})

	components := []Component{
		{ID: "src", ToolName: "broken", Params: map[string]any{}},
		{ID: "sink", ToolName: "dependent", Params: map[string]any{
			"input": "$src.output.data",
		}},
	}
	plan := NewResolver(reg, nil).Resolve(components)
	exec := NewExecutor(reg, 2, time.Second, nil)

	outputs := exec.Run(context.Background(), plan, components, Hooks{})
	if outputs["src"].OK() {
		t.Fatal("src should have failed")
	}
	if outputs["sink"].OK() {
		t.Fatal("sink should fail when its required input came from a failed node")
	}
	if outputs["sink"].Error == "" || outputs["sink"].Metadata == nil {
		t.Errorf("sink error should name the failure: %+v", outputs["sink"])
	}
	if atomic.LoadInt32(&invoked) != 0 {
		t.Error("dependent tool must not be invoked when its input is unresolvable")
	}
}

func TestExecutorContinuesPastUnrelatedFailure(t *testing.T) {
	reg := tool.NewRegistry()
	registerFunc(t, reg, &tool.Schema{Name: "broken"}, func(context.Context, map[string]any) (*tool.NodeOutput, error) {
		return nil, errors.New("boom")
	})
	echoTool(t, reg, "web_search")

	components := []Component{
		{ID: "bad", ToolName: "broken", Params: map[string]any{}},
		{ID: "good", ToolName: "web_search", Params: map[string]any{"value": "x"}},
	}
	plan := NewResolver(reg, nil).Resolve(components)
	exec := NewExecutor(reg, 2, time.Second, nil)

	outputs := exec.Run(context.Background(), plan, components, Hooks{})
	if !outputs["good"].OK() {
		t.Errorf("unrelated node should still run: %+v", outputs["good"])
	}
}

func TestExecutorHooksReportEveryNode(t *testing.T) {
	reg := tool.NewRegistry()
	echoTool(t, reg, "web_search")

	components := []Component{
		{ID: "alpha", ToolName: "web_search", Params: map[string]any{"value": 1}},
		{ID: "beta", ToolName: "web_search", Params: map[string]any{"value": 2}},
	}
	plan := NewResolver(reg, nil).Resolve(components)
	exec := NewExecutor(reg, 1, time.Second, nil)

	var starts, results int32
	outputs := exec.Run(context.Background(), plan, components, Hooks{
		OnStart: func(_, total int, _ Component) {
			if total != 2 {
				t.Errorf("total = %d, want 2", total)
			}
			atomic.AddInt32(&starts, 1)
		},
		OnResult: func(_, _ int, _ Component, res NodeResult) {
			if res.Duration < 0 {
				t.Errorf("negative duration for %s", res.ID)
			}
			atomic.AddInt32(&results, 1)
		},
	})
	if len(outputs) != 2 {
		t.Fatalf("got %d outputs, want 2", len(outputs))
	}
	if starts != 2 || results != 2 {
		t.Errorf("starts = %d, results = %d, want 2 each", starts, results)
	}
}

func TestExecutorUnknownTool(t *testing.T) {
	reg := tool.NewRegistry()
	components := []Component{
		{ID: "ghost", ToolName: "missing_tool", Params: map[string]any{}},
	}
	plan := NewResolver(reg, nil).Resolve(components)
	exec := NewExecutor(reg, 1, time.Second, nil)

	outputs := exec.Run(context.Background(), plan, components, Hooks{})
	if outputs["ghost"].OK() {
		t.Fatal("unregistered tool should produce an error output")
	}
}
