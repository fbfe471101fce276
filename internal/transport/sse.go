package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mcpgate/mcpgate/internal/mcp"
)

// handleSSE streams a turn as Server-Sent Events: one event:/data: frame
// per canonical event. Heartbeat frames are injected only after a full
// interval with no real event and only up to the configured cap, so a
// task finishing inside the interval emits zero heartbeats.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	req, err := sseRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, mcp.CodeValidation, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if s.adapter.metrics != nil {
		s.adapter.metrics.ActiveConnections.WithLabelValues("sse").Inc()
		defer s.adapter.metrics.ActiveConnections.WithLabelValues("sse").Dec()
	}

	events := s.adapter.run(r.Context(), "sse", req)
	err = s.adapter.forward(r.Context(), req, events, func(ev *mcp.Event) error {
		if err := writeSSEFrame(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && r.Context().Err() == nil {
		s.logger.Printf("sse: client gone: %v", err)
	}
}

// sseRequest accepts either a POST body or GET query parameters
// (session_id, request_id, query), so plain EventSource clients work.
func sseRequest(r *http.Request) (*mcp.Request, error) {
	if r.Method == http.MethodPost {
		return decodeRequest(r)
	}
	q := r.URL.Query()
	query := q.Get("query")
	if query == "" {
		query = q.Get("user_query")
	}
	if query == "" {
		return nil, fmt.Errorf("missing query parameter")
	}
	return &mcp.Request{
		SessionID: q.Get("session_id"),
		RequestID: q.Get("request_id"),
		UserQuery: query,
	}, nil
}

func writeSSEFrame(w http.ResponseWriter, ev *mcp.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
