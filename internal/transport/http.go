package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mcpgate/mcpgate/internal/mcp"
)

// Server exposes the HTTP-family transports on one listener: buffered
// JSON at /mcp/request, SSE at /mcp/sse, WebSocket at /mcp/ws, plus
// /healthz and Prometheus /metrics.
type Server struct {
	adapter *Adapter
	httpSrv *http.Server
	logger  *log.Logger
}

func NewServer(addr string, adapter *Adapter, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{adapter: adapter, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/request", s.handleBuffered)
	mux.HandleFunc("/mcp/sse", s.handleSSE)
	mux.HandleFunc("/mcp/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if adapter.metrics != nil {
		mux.Handle("/metrics", adapter.metrics.Handler())
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed is
// swallowed as the normal shutdown signal.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("http: listening on %s", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleBuffered runs a whole turn and replies with one aggregated JSON
// object, for clients that do not want streaming.
func (s *Server) handleBuffered(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, mcp.CodeValidation, err)
		return
	}

	resp := s.adapter.runBuffered(r.Context(), "http", req)
	w.Header().Set("Content-Type", "application/json")
	if resp.Status == "error" {
		w.WriteHeader(http.StatusBadGateway)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Printf("http: response write: %v", err)
	}
}

func decodeRequest(r *http.Request) (*mcp.Request, error) {
	var req mcp.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}
	return &req, nil
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&mcp.Response{
		MCPVersion: mcp.ProtocolVersion,
		Status:     "error",
		Error:      &mcp.ErrorDetail{Code: code, Message: err.Error()},
	})
}
