// Package transport terminates the four wire surfaces (stdio, HTTP, SSE,
// WebSocket) and maps each onto the canonical request/event protocol. No
// transport-specific shape crosses upstream of this package.
package transport

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mcpgate/mcpgate/internal/engine"
	"github.com/mcpgate/mcpgate/internal/mcp"
)

// Adapter fronts the conversation engine for every transport: it
// normalizes inbound requests, owns session affinity (the engine keys all
// state by session id, so equal ids land on the same session regardless
// of transport), and tracks metrics.
type Adapter struct {
	engine    *engine.Engine
	metrics   *Metrics
	heartbeat Heartbeat
	logger    *log.Logger
}

// Heartbeat controls keepalive injection on streaming transports. A
// heartbeat is sent only after Interval with no real event, and at most
// MaxCount times per turn, so short tasks emit none at all.
type Heartbeat struct {
	Enabled  bool
	Interval time.Duration
	MaxCount int
}

func NewAdapter(eng *engine.Engine, metrics *Metrics, hb Heartbeat, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	if hb.Interval <= 0 {
		hb.Interval = 5 * time.Second
	}
	return &Adapter{engine: eng, metrics: metrics, heartbeat: hb, logger: logger}
}

// normalize fills in missing ids so every transport echoes stable
// identifiers back to the client.
func (a *Adapter) normalize(req *mcp.Request) {
	if req.MCPVersion == "" {
		req.MCPVersion = mcp.ProtocolVersion
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
}

// run starts one turn and returns its event stream.
func (a *Adapter) run(ctx context.Context, transportName string, req *mcp.Request) <-chan *mcp.Event {
	a.normalize(req)
	if a.metrics != nil {
		a.metrics.RequestsTotal.WithLabelValues(transportName).Inc()
	}
	return a.engine.RunTurn(ctx, req)
}

// runBuffered drains a whole turn and folds it into one aggregate
// response, for transports that do not stream.
func (a *Adapter) runBuffered(ctx context.Context, transportName string, req *mcp.Request) *mcp.Response {
	events := a.run(ctx, transportName, req)
	var all []*mcp.Event
	for ev := range events {
		a.observe(ev)
		all = append(all, ev)
	}
	return mcp.Aggregate(req.SessionID, req.RequestID, all)
}

func (a *Adapter) observe(ev *mcp.Event) {
	if a.metrics == nil {
		return
	}
	a.metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type == mcp.EventToolResult && ev.ToolName != "" {
		a.metrics.ToolDuration.WithLabelValues(ev.ToolName).Observe(ev.ExecutionTime)
	}
}

// forward pumps a turn's events into send, injecting heartbeats per the
// adapter's policy: only after a full interval with no real event, and at
// most MaxCount per turn. Returns nil when the stream completes, or the
// first send error (the client is gone; remaining events are discarded).
func (a *Adapter) forward(ctx context.Context, req *mcp.Request, events <-chan *mcp.Event, send func(*mcp.Event) error) error {
	hb := a.heartbeat
	var timer *time.Timer
	if hb.Enabled {
		timer = time.NewTimer(hb.Interval)
		defer timer.Stop()
	}
	heartbeats := 0

	for {
		var tick <-chan time.Time
		if timer != nil {
			tick = timer.C
		}
		select {
		case ev, open := <-events:
			if !open {
				return nil
			}
			a.observe(ev)
			if err := send(ev); err != nil {
				return err
			}
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(hb.Interval)
			}
		case <-tick:
			if heartbeats >= hb.MaxCount {
				timer = nil
				continue
			}
			heartbeats++
			beat := mcp.NewEvent(mcp.EventHeartbeat, req.SessionID)
			beat.RequestID = req.RequestID
			if err := send(beat); err != nil {
				return err
			}
			timer.Reset(hb.Interval)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
