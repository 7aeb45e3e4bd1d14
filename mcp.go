package toolgate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers the nine gateway tools on the given MCP
// server. Every handler goes through the same dispatch wrapper so each
// call gets a request id, a structured log line, and a metric sample.
func RegisterMCPTools(mcpServer *server.MCPServer, g *Gateway) {
	executeQueryTool := mcp.NewTool("execute_query",
		mcp.WithDescription("Execute a read-only SQL query (SELECT, SHOW, EXPLAIN). Results are row-limited and returned as JSON."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The SQL statement to execute"),
		),
		mcp.WithArray("params",
			mcp.Description("Positional query parameters, bound as $1..$n"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum rows to return; capped by server configuration"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(executeQueryTool, g.dispatch("execute_query", func(ctx context.Context, req mcp.CallToolRequest) (interface{}, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return nil, newError(KindValidationRejected, "query parameter is required")
		}
		return g.ExecuteQuery(ctx, QueryInput{
			Query:  query,
			Params: arrayArg(req, "params"),
			Limit:  req.GetInt("limit", 0),
		})
	}))

	getSchemaTool := mcp.NewTool("get_schema",
		mcp.WithDescription("List tables with their columns and types. Optionally restrict to one table and include index definitions."),
		mcp.WithString("table",
			mcp.Description("Restrict output to this table"),
		),
		mcp.WithBoolean("include_indexes",
			mcp.Description("Include index definitions per table"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(getSchemaTool, g.dispatch("get_schema", func(ctx context.Context, req mcp.CallToolRequest) (interface{}, error) {
		return g.GetSchema(ctx, SchemaInput{
			Table:          req.GetString("table", ""),
			IncludeIndexes: req.GetBool("include_indexes", false),
		})
	}))

	getTableInfoTool := mcp.NewTool("get_table_info",
		mcp.WithDescription("Describe one table: columns, indexes, row count, and a small sample of rows."),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("The table to describe"),
		),
		mcp.WithNumber("sample_rows",
			mcp.Description("Number of sample rows to return (default 5)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(getTableInfoTool, g.dispatch("get_table_info", func(ctx context.Context, req mcp.CallToolRequest) (interface{}, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return nil, newError(KindValidationRejected, "table parameter is required")
		}
		return g.GetTableInfo(ctx, TableInfoInput{
			Table:      table,
			SampleRows: req.GetInt("sample_rows", 0),
		})
	}))

	getTableStatsTool := mcp.NewTool("get_table_stats",
		mcp.WithDescription("Report per-table size and activity metrics: row count, total bytes, index count, last modification."),
		mcp.WithString("table",
			mcp.Description("Restrict output to this table"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(getTableStatsTool, g.dispatch("get_table_stats", func(ctx context.Context, req mcp.CallToolRequest) (interface{}, error) {
		return g.GetTableStats(ctx, StatsInput{Table: req.GetString("table", "")})
	}))

	searchTablesTool := mcp.NewTool("search_tables",
		mcp.WithDescription("Find tables and columns whose names contain a literal substring (case-insensitive)."),
		mcp.WithString("pattern",
			mcp.Required(),
			mcp.Description("The substring to search for"),
		),
		mcp.WithString("search_type",
			mcp.Description("What to match: table, column, or both (default both)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(searchTablesTool, g.dispatch("search_tables", func(ctx context.Context, req mcp.CallToolRequest) (interface{}, error) {
		pattern, err := req.RequireString("pattern")
		if err != nil {
			return nil, newError(KindValidationRejected, "pattern parameter is required")
		}
		return g.SearchTablesByName(ctx, SearchInput{
			Pattern: pattern,
			Type:    SearchType(req.GetString("search_type", "")),
		})
	}))

	backupTableTool := mcp.NewTool("backup_table",
		mcp.WithDescription("Copy a table's structure and contents to a new date-suffixed table in the same database."),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("The table to back up"),
		),
		mcp.WithString("backup_name",
			mcp.Description("Explicit target table name; derived from the date when omitted"),
		),
	)
	mcpServer.AddTool(backupTableTool, g.dispatch("backup_table", func(ctx context.Context, req mcp.CallToolRequest) (interface{}, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return nil, newError(KindValidationRejected, "table parameter is required")
		}
		return g.BackupTable(ctx, BackupInput{
			Table:      table,
			BackupName: req.GetString("backup_name", ""),
		})
	}))

	insertDataTool := mcp.NewTool("insert_data",
		mcp.WithDescription("Insert a batch of rows into one table as a single transaction, with a configurable conflict policy."),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("The target table"),
		),
		mcp.WithArray("rows",
			mcp.Required(),
			mcp.Description("Rows to insert, each an object of column name to value"),
		),
		mcp.WithString("conflict_policy",
			mcp.Description("What to do on a conflict key collision: fail (default), ignore, or update"),
		),
		mcp.WithArray("conflict_columns",
			mcp.Description("Columns that define a collision; the table's primary key when omitted"),
		),
	)
	mcpServer.AddTool(insertDataTool, g.dispatch("insert_data", func(ctx context.Context, req mcp.CallToolRequest) (interface{}, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return nil, newError(KindValidationRejected, "table parameter is required")
		}
		rawRows := arrayArg(req, "rows")
		rows := make([]map[string]interface{}, 0, len(rawRows))
		for _, r := range rawRows {
			obj, ok := r.(map[string]interface{})
			if !ok {
				return nil, newError(KindValidationRejected, "insert_data: every row must be an object")
			}
			rows = append(rows, obj)
		}
		var conflictColumns []string
		for _, c := range arrayArg(req, "conflict_columns") {
			name, ok := c.(string)
			if !ok {
				return nil, newError(KindValidationRejected, "insert_data: conflict_columns must be strings")
			}
			conflictColumns = append(conflictColumns, name)
		}
		return g.InsertRows(ctx, InsertRequest{
			Table:           table,
			Rows:            rows,
			Policy:          ConflictPolicy(req.GetString("conflict_policy", "")),
			ConflictColumns: conflictColumns,
		})
	}))

	explainQueryTool := mcp.NewTool("explain_query",
		mcp.WithDescription("Return the execution plan for a read-only SQL statement without executing it."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The SQL statement to plan"),
		),
		mcp.WithArray("params",
			mcp.Description("Positional query parameters, bound as $1..$n"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(explainQueryTool, g.dispatch("explain_query", func(ctx context.Context, req mcp.CallToolRequest) (interface{}, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return nil, newError(KindValidationRejected, "query parameter is required")
		}
		return g.ExplainQuery(ctx, ExplainInput{
			Query:  query,
			Params: arrayArg(req, "params"),
		})
	}))

	checkConnectionTool := mcp.NewTool("check_connection",
		mcp.WithDescription("Probe pooled database connections and report aggregate health, server version, and database name."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(checkConnectionTool, g.dispatch("check_connection", func(ctx context.Context, req mcp.CallToolRequest) (interface{}, error) {
		return g.CheckConnection(ctx)
	}))
}

// dispatch adapts a typed tool function into an MCP handler. Domain
// errors never bubble as protocol errors: they render as a structured
// error payload in the tool result.
func (g *Gateway) dispatch(tool string, fn func(ctx context.Context, req mcp.CallToolRequest) (interface{}, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		requestID := uuid.NewString()
		startTime := time.Now()
		reqLen := requestLength(req)

		output, err := fn(ctx, req)

		var result *mcp.CallToolResult
		outcome := "completed"
		if err != nil {
			kind := KindOf(err)
			if kind == KindValidationRejected {
				outcome = "rejected"
			} else {
				outcome = "failed"
			}
			result = mcp.NewToolResultError(errorPayload(kind, err))
		} else {
			jsonBytes, marshalErr := json.Marshal(output)
			if marshalErr != nil {
				outcome = "failed"
				result = mcp.NewToolResultError(errorPayload(KindDatabaseError, marshalErr))
			} else {
				result = mcp.NewToolResultText(string(jsonBytes))
			}
		}

		duration := time.Since(startTime)
		if g.metrics != nil {
			g.metrics.ObserveToolCall(tool, outcome, duration)
			g.metrics.SetInFlight(g.pool.InFlight())
		}
		g.logger.Info().
			Str("request_id", requestID).
			Str("tool", tool).
			Str("outcome", outcome).
			Int("request_bytes", reqLen).
			Int("response_bytes", resultLength(result)).
			Dur("duration", duration).
			Msg("tool call")

		return result, nil
	}
}

// errorPayload renders a gateway error as the structured JSON the
// client contract promises.
func errorPayload(kind Kind, err error) string {
	payload := map[string]interface{}{
		"error": map[string]string{
			"kind":    string(kind),
			"message": err.Error(),
		},
	}
	b, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return string(kind) + ": " + err.Error()
	}
	return string(b)
}

func arrayArg(req mcp.CallToolRequest, name string) []interface{} {
	args := req.GetArguments()
	v, ok := args[name]
	if !ok {
		return nil
	}
	s, _ := v.([]interface{})
	return s
}

// requestLength returns the JSON-encoded byte length of the request
// arguments.
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

// resultLength returns the total byte length of text content in a
// CallToolResult.
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
