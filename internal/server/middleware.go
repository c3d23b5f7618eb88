package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const methodToolsCall = "tools/call"

// toolLoggingMiddleware creates MCP protocol-level middleware that logs
// every tools/call with its outcome and duration.
func toolLoggingMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}

			started := time.Now()
			result, err := next(ctx, method, req)

			attrs := []any{
				"tool", toolName(req),
				"duration_ms", time.Since(started).Milliseconds(),
			}
			switch {
			case err != nil:
				slog.Error("tool call failed", append(attrs, "error", err)...)
			case isErrorResult(result):
				slog.Warn("tool call rejected", attrs...)
			default:
				slog.Info("tool call", attrs...)
			}

			return result, err
		}
	}
}

// toolName extracts the tool name from a tools/call request.
func toolName(req mcp.Request) string {
	params, ok := req.GetParams().(*mcp.CallToolParamsRaw)
	if !ok {
		return "unknown"
	}
	return params.Name
}

// isErrorResult reports whether a tool handler returned an in-band error.
func isErrorResult(result mcp.Result) bool {
	ctr, ok := result.(*mcp.CallToolResult)
	return ok && ctr.IsError
}
