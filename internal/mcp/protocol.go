// Package mcp defines the canonical request and event types shared by every
// transport. Nothing upstream of the transport adapters knows about wire
// framing; the event stream defined here is the single currency between the
// conversation engine and the outside world.
package mcp

import (
	"encoding/json"
	"time"
)

const ProtocolVersion = "1.0"

// Request is the canonical inbound request, identical across stdio, HTTP,
// SSE and WebSocket.
type Request struct {
	MCPVersion string         `json:"mcp_version"`
	SessionID  string         `json:"session_id,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	UserQuery  string         `json:"user_query"`
	Context    map[string]any `json:"context,omitempty"`
}

// EventType tags a canonical event.
type EventType string

const (
	EventModeDetection EventType = "mode_detection"
	EventTaskPlanning  EventType = "task_planning"
	EventTaskStart     EventType = "task_start"
	EventToolStart     EventType = "tool_start"
	EventToolResult    EventType = "tool_result"
	EventTaskComplete  EventType = "task_complete"
	EventChatChunk     EventType = "chat_chunk"
	EventError         EventType = "error"
	EventHeartbeat     EventType = "heartbeat"
)

// Terminal reports whether an event of this type ends a turn. Clients rely on
// exactly one terminal event per turn to know when to stop listening.
func (t EventType) Terminal() bool {
	return t == EventTaskComplete || t == EventError
}

// Event is the canonical lifecycle event emitted by the conversation engine.
// Only the fields relevant to the event's type are populated; the zero values
// of the rest are omitted on the wire.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// mode_detection
	Mode string `json:"mode,omitempty"`

	// task_planning / task_start
	Plan     []string `json:"plan,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	// tool_start / tool_result
	ToolName      string          `json:"tool_name,omitempty"`
	StepID        string          `json:"step_id,omitempty"`
	StepIndex     int             `json:"step_index,omitempty"`
	TotalSteps    int             `json:"total_steps,omitempty"`
	Status        string          `json:"status,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	ExecutionTime float64         `json:"execution_time,omitempty"`

	// chat_chunk / task_complete
	Message            string `json:"message,omitempty"`
	PartialContent     string `json:"partial_content,omitempty"`
	AccumulatedContent string `json:"accumulated_content,omitempty"`
	IsStreaming        bool   `json:"is_streaming,omitempty"`
	Final              bool   `json:"final,omitempty"`

	// error
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Terminal reports whether this event ends the turn. A chat_chunk is terminal
// only when flagged final.
func (e *Event) Terminal() bool {
	if e.Type == EventChatChunk {
		return e.Final
	}
	return e.Type.Terminal()
}

// NewEvent returns an event stamped with the current time.
func NewEvent(t EventType, sessionID string) *Event {
	return &Event{Type: t, SessionID: sessionID, Timestamp: time.Now().UTC()}
}

// Error codes carried on error events. These mirror the engine's error
// taxonomy so clients can branch without parsing message text.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeToolExecution     = "TOOL_EXECUTION_ERROR"
	CodeIterationLimit    = "ITERATION_LIMIT_EXCEEDED"
	CodeUpstreamLLM       = "UPSTREAM_LLM_ERROR"
	CodeTransport         = "TRANSPORT_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
	CodeDependencyWarning = "DEPENDENCY_WARNING"
)

// Response is the aggregated form returned by the buffered HTTP transport and
// the stdio transport: one object summarizing a whole turn.
type Response struct {
	MCPVersion string          `json:"mcp_version"`
	SessionID  string          `json:"session_id"`
	RequestID  string          `json:"request_id,omitempty"`
	Status     string          `json:"status"`
	Mode       string          `json:"mode,omitempty"`
	Message    string          `json:"message,omitempty"`
	Steps      []StepSummary   `json:"steps,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
	Error      *ErrorDetail    `json:"error,omitempty"`
	Events     []*Event        `json:"-"`
	Raw        json.RawMessage `json:"-"`
}

// StepSummary is one executed pipeline node, as reported in a buffered response.
type StepSummary struct {
	StepID        string          `json:"step_id"`
	ToolName      string          `json:"tool_name"`
	Status        string          `json:"status"`
	Output        json.RawMessage `json:"output,omitempty"`
	ExecutionTime float64         `json:"execution_time"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Aggregate folds a finished event stream into a single Response. The stream
// must already be terminal-complete (end with task_complete, a final
// chat_chunk, or error).
func Aggregate(sessionID, requestID string, events []*Event) *Response {
	resp := &Response{
		MCPVersion: ProtocolVersion,
		SessionID:  sessionID,
		RequestID:  requestID,
		Status:     "success",
		Events:     events,
	}
	for _, ev := range events {
		switch ev.Type {
		case EventModeDetection:
			resp.Mode = ev.Mode
		case EventTaskStart:
			resp.Warnings = append(resp.Warnings, ev.Warnings...)
		case EventToolResult:
			resp.Steps = append(resp.Steps, StepSummary{
				StepID:        ev.StepID,
				ToolName:      ev.ToolName,
				Status:        ev.Status,
				Output:        ev.Output,
				ExecutionTime: ev.ExecutionTime,
			})
		case EventTaskComplete:
			resp.Message = ev.Message
		case EventChatChunk:
			if ev.AccumulatedContent != "" {
				resp.Message = ev.AccumulatedContent
			}
		case EventError:
			resp.Status = "error"
			resp.Error = &ErrorDetail{Code: ev.ErrorCode, Message: ev.Error}
		}
	}
	return resp
}
