// Package toolgate provides safe, mediated relational database access
// for AI agents through the Model Context Protocol (MCP).
//
// It exposes nine tools: execute_query, get_schema, get_table_info,
// get_table_stats, search_tables, backup_table, insert_data,
// explain_query, and check_connection. Every call passes through the
// same pipeline: policy validation, bounded connection acquisition,
// timeout enforcement, result shaping, and structured error mapping.
//
// Free-form SQL is restricted to a single read-only statement, checked
// against PostgreSQL's actual C parser via pg_query. SELECT results are
// always row-limited; a missing LIMIT clause is injected server-side.
// Writes happen only through the two purpose-built tools, insert_data
// and backup_table, each with its own guardrails.
//
// # Library Usage
//
//	g, err := toolgate.New(ctx, connString, toolgate.Config{
//		Pool: toolgate.PoolConfig{MaxConns: 10},
//		Query: toolgate.QueryConfig{
//			DefaultRowLimit:        1000,
//			DefaultTimeoutSeconds:  30,
//			MetadataTimeoutSeconds: 10,
//		},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer g.Close(ctx)
//
//	// Use directly
//	result, err := g.ExecuteQuery(ctx, toolgate.QueryInput{Query: "SELECT * FROM users"})
//
//	// Or register as MCP tools
//	toolgate.RegisterMCPTools(mcpServer, g)
//
// # Errors
//
// Every error surfaced by a gateway operation is a [*Error] carrying
// exactly one [Kind]. Use [KindOf] to branch on the classification:
//
//	if _, err := g.BackupTable(ctx, input); toolgate.KindOf(err) == toolgate.KindNotFound {
//		// source table does not exist
//	}
package toolgate
