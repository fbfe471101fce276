package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mcpgate/mcpgate/internal/mcp"
)

// handleWebSocket maps canonical events to JSON frames, bidirectionally:
// the client may send further requests mid-session without reconnecting.
// Each inbound request runs as its own turn; turns for the same session
// id still serialize inside the engine.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("websocket: accept: %v", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "server shutdown") }()

	if s.adapter.metrics != nil {
		s.adapter.metrics.ActiveConnections.WithLabelValues("websocket").Inc()
		defer s.adapter.metrics.ActiveConnections.WithLabelValues("websocket").Dec()
	}

	ctx := r.Context()
	var writeMu sync.Mutex
	writeEvent := func(ev *mcp.Event) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return wsjson.Write(writeCtx, conn, ev)
	}

	var turns sync.WaitGroup
	defer turns.Wait()

	for {
		var req mcp.Request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			// Normal close or client gone; in-flight turns drain on their
			// own and their remaining events are discarded with the
			// connection.
			return
		}

		turns.Add(1)
		go func(req mcp.Request) {
			defer turns.Done()
			events := s.adapter.run(ctx, "websocket", &req)
			if err := s.adapter.forward(ctx, &req, events, writeEvent); err != nil && ctx.Err() == nil {
				s.logger.Printf("websocket: write: %v", err)
			}
		}(req)
	}
}
