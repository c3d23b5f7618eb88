package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/sqlgate/pkg/audit"
	"github.com/txn2/sqlgate/pkg/cursor"
	"github.com/txn2/sqlgate/pkg/gateway"
)

// defaultFetchRows caps a fetch when the client does not ask for a size.
const defaultFetchRows = 100

// registerTools registers the gateway operations as MCP tools.
func (s *Server) registerTools() {
	s.registerOpenSessionTool()
	s.registerCloseSessionTool()
	s.registerExecuteStatementTool()
	s.registerOperationStatusTool()
	s.registerCancelOperationTool()
	s.registerCloseOperationTool()
	s.registerFetchResultsTool()
	s.registerSetConfigTool()
	s.registerListConfigTool()
	s.registerInfoTool()
	s.registerQueryAuditTool()
}

// jsonResult renders v as an indented JSON text result.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

// errorResult reports a tool failure in the result body.
// MCP protocol: tool errors are returned in CallToolResult.IsError, not
// as Go errors.
func errorResult(err error) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + err.Error()},
		},
		IsError: true,
	}, nil, nil
}

type openSessionInput struct {
	User       string            `json:"user,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

type openSessionOutput struct {
	SessionHandle string `json:"session_handle"`
}

func (s *Server) registerOpenSessionTool() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "open_session",
		Description: "Open a query session and return its handle. Properties seed " +
			"session configuration and may carry credentials (auth.api_key, auth.token).",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input openSessionInput) (*mcp.CallToolResult, any, error) {
		handle, err := s.service.OpenSession(ctx, input.User, input.Properties)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(openSessionOutput{SessionHandle: handle})
	})
}

type closeSessionInput struct {
	SessionHandle string `json:"session_handle"`
}

type statusOutput struct {
	Status string `json:"status"`
}

func (s *Server) registerCloseSessionTool() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "close_session",
		Description: "Close a session handle, force-closing any operations it still owns.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input closeSessionInput) (*mcp.CallToolResult, any, error) {
		if err := s.service.CloseSession(ctx, input.SessionHandle); err != nil {
			return errorResult(err)
		}
		return jsonResult(statusOutput{Status: "closed"})
	})
}

type executeStatementInput struct {
	SessionHandle string            `json:"session_handle"`
	Statement     string            `json:"statement"`
	Config        map[string]string `json:"config,omitempty"`
	RunAsync      *bool             `json:"run_async,omitempty"`
}

type executeStatementOutput struct {
	OperationHandle string `json:"operation_handle"`
	State           string `json:"state"`
	Error           string `json:"error,omitempty"`
}

func (s *Server) registerExecuteStatementTool() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "execute_statement",
		Description: "Submit a SQL statement to the session's engine. Returns an " +
			"operation handle for status polling and result fetching. Config entries " +
			"override session configuration for this statement only.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input executeStatementInput) (*mcp.CallToolResult, any, error) {
		runAsync := true
		if input.RunAsync != nil {
			runAsync = *input.RunAsync
		}
		handle, err := s.service.ExecuteStatement(ctx, input.SessionHandle, input.Statement, input.Config, runAsync)
		if err != nil && handle == "" {
			return errorResult(err)
		}

		out := executeStatementOutput{OperationHandle: handle}
		if err != nil {
			out.Error = err.Error()
		}
		if info, serr := s.service.GetOperationStatus(handle); serr == nil {
			out.State = string(info.State)
		}
		return jsonResult(out)
	})
}

type operationInput struct {
	OperationHandle string `json:"operation_handle"`
}

type operationStatusOutput struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (s *Server) registerOperationStatusTool() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_operation_status",
		Description: "Get the current state of an operation without blocking.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, input operationInput) (*mcp.CallToolResult, any, error) {
		info, err := s.service.GetOperationStatus(input.OperationHandle)
		if err != nil {
			return errorResult(err)
		}
		out := operationStatusOutput{State: string(info.State)}
		if info.Err != nil {
			out.Error = info.Err.Error()
		}
		return jsonResult(out)
	})
}

func (s *Server) registerCancelOperationTool() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "cancel_operation",
		Description: "Cancel a running operation. Canceling an operation that " +
			"already completed is a no-op.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input operationInput) (*mcp.CallToolResult, any, error) {
		if err := s.service.CancelOperation(ctx, input.OperationHandle); err != nil {
			return errorResult(err)
		}
		return jsonResult(statusOutput{Status: "cancelled"})
	})
}

func (s *Server) registerCloseOperationTool() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "close_operation",
		Description: "Close an operation handle and release its buffered results.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input operationInput) (*mcp.CallToolResult, any, error) {
		if err := s.service.CloseOperation(ctx, input.OperationHandle); err != nil {
			return errorResult(err)
		}
		return jsonResult(statusOutput{Status: "closed"})
	})
}

type fetchResultsInput struct {
	OperationHandle string `json:"operation_handle"`
	Orientation     string `json:"orientation,omitempty"`
	MaxRows         int    `json:"max_rows,omitempty"`
	ResultKind      string `json:"result_kind,omitempty"`
}

func (s *Server) registerFetchResultsTool() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "fetch_results",
		Description: "Fetch a window of operation results. Orientation FIRST restarts " +
			"from the beginning, NEXT continues forward, PRIOR scrolls back. " +
			"Result kind \"log\" reads the session's operation log instead of query rows.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input fetchResultsInput) (*mcp.CallToolResult, any, error) {
		orientation := cursor.Next
		if input.Orientation != "" {
			var err error
			orientation, err = cursor.ParseOrientation(input.Orientation)
			if err != nil {
				return errorResult(err)
			}
		}
		maxRows := input.MaxRows
		if maxRows <= 0 {
			maxRows = defaultFetchRows
		}
		kind := gateway.KindRows
		if input.ResultKind != "" {
			kind = gateway.ResultSetKind(input.ResultKind)
		}

		window, err := s.service.FetchResults(ctx, input.OperationHandle, orientation, maxRows, kind)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(window)
	})
}

type setConfigInput struct {
	SessionHandle string `json:"session_handle"`
	Key           string `json:"key"`
	Value         string `json:"value"`
}

func (s *Server) registerSetConfigTool() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "set_config",
		Description: "Set a session configuration key. Static server keys cannot " +
			"be modified at runtime.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, input setConfigInput) (*mcp.CallToolResult, any, error) {
		if err := s.service.SetConfig(input.SessionHandle, input.Key, input.Value); err != nil {
			return errorResult(err)
		}
		return jsonResult(statusOutput{Status: "ok"})
	})
}

type listConfigInput struct {
	SessionHandle   string `json:"session_handle"`
	IncludeDefaults bool   `json:"include_defaults,omitempty"`
}

func (s *Server) registerListConfigTool() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_config",
		Description: "List the session's effective configuration entries.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, input listConfigInput) (*mcp.CallToolResult, any, error) {
		entries, err := s.service.ListConfig(input.SessionHandle, input.IncludeDefaults)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(entries)
	})
}

type getInfoInput struct {
	SessionHandle string `json:"session_handle"`
	Kind          string `json:"kind"`
}

type getInfoOutput struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type queryAuditInput struct {
	SessionID   string `json:"session_id,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	User        string `json:"user,omitempty"`
	Action      string `json:"action,omitempty"`
	Since       string `json:"since,omitempty"`
	Until       string `json:"until,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

func (s *Server) registerQueryAuditTool() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "query_audit",
		Description: "Query the audit log of session and operation lifecycle events. " +
			"Time bounds are RFC 3339 timestamps. Returns nothing when auditing is disabled.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input queryAuditInput) (*mcp.CallToolResult, any, error) {
		filter := audit.QueryFilter{
			SessionID:   input.SessionID,
			OperationID: input.OperationID,
			User:        input.User,
			Action:      audit.Action(input.Action),
			Limit:       input.Limit,
			Offset:      input.Offset,
		}
		if input.Since != "" {
			t, err := time.Parse(time.RFC3339, input.Since)
			if err != nil {
				return errorResult(fmt.Errorf("parsing since: %w", err))
			}
			filter.StartTime = &t
		}
		if input.Until != "" {
			t, err := time.Parse(time.RFC3339, input.Until)
			if err != nil {
				return errorResult(fmt.Errorf("parsing until: %w", err))
			}
			filter.EndTime = &t
		}

		events, err := s.service.QueryAudit(ctx, filter)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(events)
	})
}

func (s *Server) registerInfoTool() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "get_info",
		Description: "Get server identity and state: server_name, server_version, " +
			"engine_name, session_mode, active_sessions, active_operations.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, input getInfoInput) (*mcp.CallToolResult, any, error) {
		value, err := s.service.GetInfo(input.SessionHandle, gateway.InfoKind(input.Kind))
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(getInfoOutput{Kind: input.Kind, Value: value})
	})
}
