package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mcpgate/mcpgate/internal/mcp"
)

// maxLineBytes bounds one stdio request line.
const maxLineBytes = 4 * 1024 * 1024

// ServeStdio reads one JSON request per line, runs the turn, and writes
// one aggregated JSON response per line. Requests are handled
// sequentially; EOF ends the loop cleanly. A malformed line produces an
// error response, never a process exit.
func (a *Adapter) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req mcp.Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp := &mcp.Response{
				MCPVersion: mcp.ProtocolVersion,
				Status:     "error",
				Error: &mcp.ErrorDetail{
					Code:    mcp.CodeValidation,
					Message: fmt.Sprintf("malformed request: %v", err),
				},
			}
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("stdio write: %w", err)
			}
			continue
		}

		resp := a.runBuffered(ctx, "stdio", &req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("stdio write: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdio read: %w", err)
	}
	return nil
}
