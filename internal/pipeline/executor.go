package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mcpgate/mcpgate/internal/tool"
)

// NodeResult is one executed node's outcome.
type NodeResult struct {
	ID       string
	ToolName string
	Output   *tool.NodeOutput
	Duration time.Duration
	Warnings []string
}

// Hooks receive per-node lifecycle notifications as the executor walks a
// plan. Concurrent nodes may interleave their notifications; the step
// index identifies a node's position in the plan regardless.
type Hooks struct {
	OnStart  func(stepIndex, totalSteps int, c Component)
	OnResult func(stepIndex, totalSteps int, c Component, res NodeResult)
}

// Executor runs a resolved plan against the tool registry. Nodes with no
// ordering constraint between them run concurrently, bounded by a worker
// pool; each node blocks until every producer it depends on has written
// its output.
type Executor struct {
	registry    *tool.Registry
	workers     int
	toolTimeout time.Duration
	logger      *log.Logger
}

func NewExecutor(registry *tool.Registry, workers int, toolTimeout time.Duration, logger *log.Logger) *Executor {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{registry: registry, workers: workers, toolTimeout: toolTimeout, logger: logger}
}

// Run executes every node in the plan and returns the output map keyed by
// component id. Node failures do not abort the plan: a failed node's
// output carries its error, and downstream nodes whose required inputs
// depended on it fail with their own error naming the root cause. Entries
// in the output map are written exactly once.
func (e *Executor) Run(ctx context.Context, plan *Plan, components []Component, hooks Hooks) map[string]*tool.NodeOutput {
	byID := make(map[string]*Component, len(components))
	for i := range components {
		byID[components[i].ID] = &components[i]
	}

	pos := make(map[string]int, len(plan.Order))
	for i, id := range plan.Order {
		pos[id] = i
	}

	// Only waits that go backwards in the plan are honored; an edge the
	// ordering could not satisfy (cyclic input) was already warned about
	// and must not introduce a deadlock here.
	producers := make(map[string][]string)
	for _, edge := range plan.Edges {
		if pos[edge.Producer] < pos[edge.Consumer] {
			producers[edge.Consumer] = append(producers[edge.Consumer], edge.Producer)
		}
	}

	done := make(map[string]chan struct{}, len(plan.Order))
	for _, id := range plan.Order {
		done[id] = make(chan struct{})
	}

	var mu sync.Mutex
	outputs := make(map[string]*tool.NodeOutput, len(plan.Order))
	writeOutput := func(id string, out *tool.NodeOutput) {
		mu.Lock()
		defer mu.Unlock()
		if _, exists := outputs[id]; exists {
			panic(fmt.Sprintf("pipeline: output for %q written twice", id))
		}
		outputs[id] = out
	}
	readOutput := func(id string) *tool.NodeOutput {
		mu.Lock()
		defer mu.Unlock()
		return outputs[id]
	}

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

	for i, id := range plan.Order {
		comp := byID[id]
		if comp == nil {
			close(done[id])
			continue
		}
		wg.Add(1)
		go func(stepIndex int, c *Component) {
			defer wg.Done()
			defer close(done[c.ID])

			for _, producer := range producers[c.ID] {
				select {
				case <-done[producer]:
				case <-ctx.Done():
					writeOutput(c.ID, tool.ErrorOutput(c.ToolName, ctx.Err()))
					return
				}
			}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				writeOutput(c.ID, tool.ErrorOutput(c.ToolName, ctx.Err()))
				return
			}

			if hooks.OnStart != nil {
				hooks.OnStart(stepIndex, len(plan.Order), *c)
			}
			start := time.Now()
			out, warnings := e.runNode(ctx, c, producers[c.ID], readOutput)
			res := NodeResult{
				ID:       c.ID,
				ToolName: c.ToolName,
				Output:   out,
				Duration: time.Since(start),
				Warnings: warnings,
			}
			writeOutput(c.ID, out)
			if hooks.OnResult != nil {
				hooks.OnResult(stepIndex, len(plan.Order), *c, res)
			}
		}(i, comp)
	}

	wg.Wait()
	return outputs
}

func (e *Executor) runNode(ctx context.Context, c *Component, producerIDs []string, readOutput func(string) *tool.NodeOutput) (*tool.NodeOutput, []string) {
	var warnings []string

	upstream := make(map[string]*tool.NodeOutput, len(producerIDs))
	var failedProducer string
	for _, id := range producerIDs {
		out := readOutput(id)
		upstream[id] = out
		if out != nil && !out.OK() && failedProducer == "" {
			failedProducer = id
		}
	}

	resolved, phWarnings := ResolvePlaceholders(c.Params, upstream)
	warnings = append(warnings, phWarnings...)

	impl, ok := e.registry.Get(c.ToolName)
	if !ok {
		return tool.ErrorOutput(c.ToolName, fmt.Errorf("tool %q not registered", c.ToolName)), warnings
	}
	schema, _ := e.registry.Schema(c.ToolName)

	params := resolved
	if schema != nil {
		adapted, bridgeWarnings := Bridge(schema, resolved, upstream)
		warnings = append(warnings, bridgeWarnings...)
		params = adapted

		// A required input lost to an upstream failure fails this node
		// too, naming the root cause rather than a vague missing-param.
		if failedProducer != "" {
			for _, p := range schema.Params {
				if p.Required && params[p.Name] == nil {
					err := fmt.Errorf("required parameter %q unresolved: upstream node %q failed", p.Name, failedProducer)
					return tool.ErrorOutput(c.ToolName, err), warnings
				}
			}
		}
	}

	invokeCtx := ctx
	if e.toolTimeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, e.toolTimeout)
		defer cancel()
	}

	out, err := impl.Invoke(invokeCtx, params)
	if err != nil {
		e.logger.Printf("executor: node %s tool %s failed: %v", c.ID, c.ToolName, err)
		return tool.ErrorOutput(c.ToolName, err), warnings
	}
	if out == nil {
		out = tool.Normalize(c.ToolName, params, map[string]any{})
	}
	return out, warnings
}
