// Package engine runs one session's conversation turn: mode detection,
// the bounded LLM and tool loop in task mode, streamed chat replies, and
// the canonical event stream both produce.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/mcpgate/mcpgate/internal/mcp"
	"github.com/mcpgate/mcpgate/internal/pipeline"
	"github.com/mcpgate/mcpgate/internal/provider"
	"github.com/mcpgate/mcpgate/internal/state"
	"github.com/mcpgate/mcpgate/internal/tool"
)

// Options configure an Engine.
type Options struct {
	Model          string
	MaxTokens      int
	Temperature    *float64
	MaxIterations  int
	EventQueueSize int
	Logger         *log.Logger
}

// Engine owns the per-turn control flow. One Engine serves all sessions;
// per-session serialization is enforced through the lock table, so no two
// turns of the same session ever overlap.
type Engine struct {
	completer provider.ChatCompleter
	registry  *tool.Registry
	resolver  *pipeline.Resolver
	executor  *pipeline.Executor
	store     state.Store
	locks     *state.LockTable
	detector  *ModeDetector

	model          string
	maxTokens      int
	temperature    *float64
	maxIterations  int
	eventQueueSize int
	logger         *log.Logger
}

func New(completer provider.ChatCompleter, registry *tool.Registry, resolver *pipeline.Resolver, executor *pipeline.Executor, store state.Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}
	queueSize := opts.EventQueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Engine{
		completer:      completer,
		registry:       registry,
		resolver:       resolver,
		executor:       executor,
		store:          store,
		locks:          state.NewLockTable(),
		detector:       NewModeDetector(completer, opts.Model, logger),
		model:          opts.Model,
		maxTokens:      opts.MaxTokens,
		temperature:    opts.Temperature,
		maxIterations:  maxIterations,
		eventQueueSize: queueSize,
		logger:         logger,
	}
}

// Touch defers a session's idle expiry without running a turn.
func (e *Engine) Touch(sessionID string) error {
	return e.store.Touch(sessionID)
}

// Expire removes a session immediately.
func (e *Engine) Expire(sessionID string) error {
	return e.store.Delete(sessionID)
}

// RunTurn executes one conversation turn and returns its event stream. The
// channel is closed after exactly one terminal event (task_complete, a
// final chat_chunk, or error); the caller stops reading at channel close.
// A full channel blocks the turn rather than dropping events.
func (e *Engine) RunTurn(ctx context.Context, req *mcp.Request) <-chan *mcp.Event {
	events := make(chan *mcp.Event, e.eventQueueSize)
	go func() {
		defer close(events)
		e.runTurn(ctx, req, events)
	}()
	return events
}

func (e *Engine) runTurn(ctx context.Context, req *mcp.Request, events chan<- *mcp.Event) {
	emit := func(ev *mcp.Event) bool {
		ev.RequestID = req.RequestID
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(sessionID, code string, err error) {
		ev := mcp.NewEvent(mcp.EventError, sessionID)
		ev.ErrorCode = code
		ev.Error = err.Error()
		emit(ev)
	}

	if strings.TrimSpace(req.UserQuery) == "" {
		fail(req.SessionID, mcp.CodeValidation, fmt.Errorf("user_query must not be empty"))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	unlock := e.locks.Acquire(sessionID)
	defer unlock()

	sess, err := e.store.Get(sessionID)
	if err != nil {
		if sess, err = e.store.Create(sessionID); err != nil {
			fail(sessionID, mcp.CodeInternal, fmt.Errorf("session create: %w", err))
			return
		}
	}

	sess.Messages = append(sess.Messages, provider.Message{
		Role:    provider.RoleUser,
		Content: req.UserQuery,
	})

	mode, how := e.detector.Detect(ctx, req.UserQuery)
	sess.Mode = mode
	modeEv := mcp.NewEvent(mcp.EventModeDetection, sessionID)
	modeEv.Mode = string(mode)
	modeEv.Message = how
	if !emit(modeEv) {
		return
	}

	if mode == state.ModeChat {
		e.chatTurn(ctx, sess, emit, fail)
	} else {
		e.taskTurn(ctx, sess, emit, fail)
	}

	if err := e.store.Put(sess); err != nil {
		e.logger.Printf("engine: session %s persist: %v", sessionID, err)
	}
}

// chatTurn streams the model's reply as chat_chunk events. Each chunk
// carries both the delta and the running accumulation so consumers stay
// correct under retransmission.
func (e *Engine) chatTurn(ctx context.Context, sess *state.Session, emit func(*mcp.Event) bool, fail func(string, string, error)) {
	stream, err := e.completer.Stream(ctx, &provider.CompletionRequest{
		Model:       e.model,
		Messages:    sess.Messages,
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
		Stream:      true,
	})
	if err != nil {
		fail(sess.ID, mcp.CodeUpstreamLLM, fmt.Errorf("chat stream: %w", err))
		return
	}
	defer func() { _ = stream.Close() }()

	accumulated, ok := e.forwardStream(ctx, stream, sess, emit, fail)
	if !ok {
		return
	}

	final := mcp.NewEvent(mcp.EventChatChunk, sess.ID)
	final.AccumulatedContent = accumulated
	final.Final = true
	emit(final)

	sess.Messages = append(sess.Messages, provider.Message{
		Role:    provider.RoleAssistant,
		Content: accumulated,
	})
}

// forwardStream relays one token stream as chat_chunk events, returning
// the accumulated text. ok is false when a terminal error was already
// emitted.
func (e *Engine) forwardStream(ctx context.Context, stream provider.ResponseStream, sess *state.Session, emit func(*mcp.Event) bool, fail func(string, string, error)) (string, bool) {
	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) || (err == nil && chunk.Done && chunk.Content == "") {
			return sb.String(), true
		}
		if err != nil {
			fail(sess.ID, mcp.CodeUpstreamLLM, fmt.Errorf("stream recv: %w", err))
			return sb.String(), false
		}
		if chunk.Content == "" {
			if chunk.Done {
				return sb.String(), true
			}
			continue
		}
		sb.WriteString(chunk.Content)
		ev := mcp.NewEvent(mcp.EventChatChunk, sess.ID)
		ev.PartialContent = chunk.Content
		ev.AccumulatedContent = sb.String()
		ev.IsStreaming = true
		if !emit(ev) {
			return sb.String(), false
		}
		if chunk.Done {
			return sb.String(), true
		}
	}
}

// taskTurn drives the bounded LLM and tool loop. Each round either yields
// tool calls, which become a resolved pipeline and an execution pass, or
// plain text, which ends the turn. Exhausting the iteration limit is
// terminal for the turn but leaves the session usable.
func (e *Engine) taskTurn(ctx context.Context, sess *state.Session, emit func(*mcp.Event) bool, fail func(string, string, error)) {
	planning := mcp.NewEvent(mcp.EventTaskPlanning, sess.ID)
	if !emit(planning) {
		return
	}

	toolRounds := 0
	for iter := 0; iter < e.maxIterations; iter++ {
		resp, err := e.completer.Complete(ctx, &provider.CompletionRequest{
			Model:       e.model,
			Messages:    sess.Messages,
			Tools:       e.registry.Defs(),
			MaxTokens:   e.maxTokens,
			Temperature: e.temperature,
		})
		if err != nil {
			fail(sess.ID, mcp.CodeUpstreamLLM, fmt.Errorf("task completion: %w", err))
			return
		}

		if len(resp.ToolCalls) == 0 {
			if toolRounds == 0 {
				done := mcp.NewEvent(mcp.EventTaskComplete, sess.ID)
				done.Message = resp.Content
				emit(done)
				sess.Messages = append(sess.Messages, provider.Message{
					Role:    provider.RoleAssistant,
					Content: resp.Content,
				})
				return
			}
			e.streamFinalSummary(ctx, sess, resp.Content, emit)
			return
		}

		sess.IterationCount++
		toolRounds++

		components := componentsFromCalls(resp.ToolCalls)
		plan := e.resolver.Resolve(components)

		start := mcp.NewEvent(mcp.EventTaskStart, sess.ID)
		start.Plan = plan.Order
		start.Warnings = plan.Warnings
		if !emit(start) {
			return
		}

		outputs := e.executor.Run(ctx, plan, components, pipeline.Hooks{
			OnStart: func(stepIndex, totalSteps int, c pipeline.Component) {
				ev := mcp.NewEvent(mcp.EventToolStart, sess.ID)
				ev.ToolName = c.ToolName
				ev.StepID = c.ID
				ev.StepIndex = stepIndex
				ev.TotalSteps = totalSteps
				emit(ev)
			},
			OnResult: func(stepIndex, totalSteps int, c pipeline.Component, res pipeline.NodeResult) {
				ev := mcp.NewEvent(mcp.EventToolResult, sess.ID)
				ev.ToolName = c.ToolName
				ev.StepID = c.ID
				ev.StepIndex = stepIndex
				ev.TotalSteps = totalSteps
				ev.Status = string(res.Output.Status)
				ev.ExecutionTime = res.Duration.Seconds()
				ev.Warnings = res.Warnings
				if data, err := json.Marshal(res.Output); err == nil {
					ev.Output = data
				}
				emit(ev)
			},
		})
		if ctx.Err() != nil {
			fail(sess.ID, mcp.CodeTransport, fmt.Errorf("turn cancelled: %w", ctx.Err()))
			return
		}

		e.appendToolRound(sess, resp.ToolCalls, components, outputs)
	}

	fail(sess.ID, mcp.CodeIterationLimit,
		fmt.Errorf("task loop exceeded %d iterations", e.maxIterations))
}

// streamFinalSummary delivers the closing natural-language summary as an
// incremental stream rather than one blocking burst. fallback is the text
// the non-streaming completion already produced; it is used verbatim when
// the streaming call fails.
func (e *Engine) streamFinalSummary(ctx context.Context, sess *state.Session, fallback string, emit func(*mcp.Event) bool) {
	messages := append(append([]provider.Message{}, sess.Messages...), provider.Message{
		Role:    provider.RoleSystem,
		Content: "Summarize the results of the executed tools for the user in clear natural language.",
	})

	summary := fallback
	stream, err := e.completer.Stream(ctx, &provider.CompletionRequest{
		Model:       e.model,
		Messages:    messages,
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
		Stream:      true,
	})
	if err == nil {
		defer func() { _ = stream.Close() }()
		var sb strings.Builder
		for {
			chunk, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				break
			}
			if recvErr != nil {
				e.logger.Printf("engine: summary stream: %v", recvErr)
				break
			}
			if chunk.Content != "" {
				sb.WriteString(chunk.Content)
				ev := mcp.NewEvent(mcp.EventChatChunk, sess.ID)
				ev.PartialContent = chunk.Content
				ev.AccumulatedContent = sb.String()
				ev.IsStreaming = true
				if !emit(ev) {
					return
				}
			}
			if chunk.Done {
				break
			}
		}
		if sb.Len() > 0 {
			summary = sb.String()
		}
	} else {
		e.logger.Printf("engine: summary stream unavailable, using buffered text: %v", err)
	}

	done := mcp.NewEvent(mcp.EventTaskComplete, sess.ID)
	done.Message = summary
	emit(done)

	sess.Messages = append(sess.Messages, provider.Message{
		Role:    provider.RoleAssistant,
		Content: summary,
	})
}

// componentsFromCalls converts the model's structured tool calls into
// pipeline components. Component ids derive from tool names because that
// is what the model's own placeholders reference; repeat calls to the
// same tool get a numeric suffix.
func componentsFromCalls(calls []provider.ToolCall) []pipeline.Component {
	components := make([]pipeline.Component, 0, len(calls))
	seen := make(map[string]int, len(calls))
	for _, call := range calls {
		var params map[string]any
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &params); err != nil {
				params = map[string]any{"_raw_arguments": call.Arguments}
			}
		}
		if params == nil {
			params = map[string]any{}
		}

		id := call.Name
		if explicit, ok := params["_node_id"].(string); ok && explicit != "" {
			id = explicit
			delete(params, "_node_id")
		}
		seen[id]++
		if seen[id] > 1 {
			id = fmt.Sprintf("%s_%d", id, seen[id])
		}

		components = append(components, pipeline.Component{
			ID:       id,
			ToolName: call.Name,
			Params:   params,
		})
	}
	return components
}

// appendToolRound records the assistant's tool calls and every node's
// output in the message history, so the next completion sees what ran.
func (e *Engine) appendToolRound(sess *state.Session, calls []provider.ToolCall, components []pipeline.Component, outputs map[string]*tool.NodeOutput) {
	sess.Messages = append(sess.Messages, provider.Message{
		Role:      provider.RoleAssistant,
		ToolCalls: calls,
	})
	callIDs := make(map[string]string, len(calls))
	for i, c := range components {
		if i < len(calls) {
			callIDs[c.ID] = calls[i].ID
		}
	}
	for _, c := range components {
		out := outputs[c.ID]
		content := "{}"
		if out != nil {
			if data, err := json.Marshal(out); err == nil {
				content = string(data)
			}
		}
		sess.Messages = append(sess.Messages, provider.Message{
			Role:       provider.RoleTool,
			ToolCallID: callIDs[c.ID],
			Name:       c.ToolName,
			Content:    content,
		})
	}
	_ = e.store.Put(sess)
}
