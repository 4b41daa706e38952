package sqlgate

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// defaultActorID is used when a tool call carries no actor_id. Single-tenant
// MCP deployments rarely set one.
const defaultActorID = "mcp"

// RegisterMCPTools registers the execution and introspection tools on the
// given MCP server. All tool errors are returned as MCP tool errors, never as
// transport errors.
func RegisterMCPTools(mcpServer *server.MCPServer, pipeline *Pipeline, logger zerolog.Logger) {
	executeTool := mcp.NewTool("execute_sql",
		mcp.WithDescription("Execute a SQL statement through the guarded pipeline. The result carries a status: success, blocked, error, approval_required, or clarification_needed."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement to execute"),
		),
		mcp.WithString("actor_id",
			mcp.Description("Identifier of the acting tenant (defaults to 'mcp')"),
		),
		mcp.WithString("question",
			mcp.Description("The natural-language question this statement answers, recorded in the audit trail"),
		),
		mcp.WithNumber("requested_rows",
			mcp.Description("Maximum rows to return; capped by the tenant's row limit"),
		),
	)

	mcpServer.AddTool(executeTool, loggedToolHandler(logger, "execute_sql", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		request, err := executeRequestFromCall(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return executeResultToCall(pipeline.Execute(ctx, request))
	}))

	executeApprovedTool := mcp.NewTool("execute_approved",
		mcp.WithDescription("Execute a statement the user already approved. Skips validation and the approval gate; timeout, row cap, and audit still apply."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The approved SQL statement"),
		),
		mcp.WithString("actor_id",
			mcp.Description("Identifier of the acting tenant (defaults to 'mcp')"),
		),
	)

	mcpServer.AddTool(executeApprovedTool, loggedToolHandler(logger, "execute_approved", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		request, err := executeRequestFromCall(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return executeResultToCall(pipeline.ExecuteApproved(ctx, request))
	}))

	listTablesTool := mcp.NewTool("list_tables",
		mcp.WithDescription("List the tables and views visible on the system connection."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(listTablesTool, loggedToolHandler(logger, "list_tables", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tables, err := pipeline.ListTables(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		jsonBytes, err := json.Marshal(map[string]any{"tables": tables})
		if err != nil {
			return mcp.NewToolResultError("failed to marshal list tables result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))

	describeTableTool := mcp.NewTool("describe_table",
		mcp.WithDescription("Describe a table: columns, types, nullability, primary keys, and foreign keys. The shape is identical across providers."),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("The table name, optionally schema-qualified"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(describeTableTool, loggedToolHandler(logger, "describe_table", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError("table parameter is required"), nil
		}
		schema, err := pipeline.DescribeTable(ctx, table)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		jsonBytes, err := json.Marshal(schema)
		if err != nil {
			return mcp.NewToolResultError("failed to marshal describe table result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))

	explainTool := mcp.NewTool("explain_query",
		mcp.WithDescription("Show the execution plan for a statement without running it. The statement passes the same safety validation as execute_sql."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement to explain"),
		),
		mcp.WithString("actor_id",
			mcp.Description("Identifier of the acting tenant (defaults to 'mcp')"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(explainTool, loggedToolHandler(logger, "explain_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("sql")
		if err != nil {
			return mcp.NewToolResultError("sql parameter is required"), nil
		}
		plan, err := pipeline.ExplainQuery(ctx, req.GetString("actor_id", defaultActorID), sql)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(plan), nil
	}))
}

func executeRequestFromCall(req mcp.CallToolRequest) (ExecuteRequest, error) {
	sql, err := req.RequireString("sql")
	if err != nil {
		return ExecuteRequest{}, err
	}
	return ExecuteRequest{
		ActorID:       req.GetString("actor_id", defaultActorID),
		SessionID:     req.GetString("session_id", ""),
		Question:      req.GetString("question", ""),
		SQL:           sql,
		RequestedRows: req.GetInt("requested_rows", 0),
	}, nil
}

func executeResultToCall(result *ExecuteResult) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal execution result"), nil
	}
	if result.Status == StatusError {
		return mcp.NewToolResultError(string(jsonBytes)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func loggedToolHandler(logger zerolog.Logger, tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
