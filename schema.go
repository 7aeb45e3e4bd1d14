package toolgate

import (
	"context"
	"fmt"
	"time"

	"github.com/toolgate-dev/toolgate/internal/policy"
	"github.com/toolgate-dev/toolgate/internal/pool"
)

// Schema introspection reads the metadata catalogs, never table
// contents. All queries are bounded by the metadata timeout.

const schemaColumnsSQL = `
SELECT
    c.table_name,
    c.column_name,
    c.data_type,
    CASE c.is_nullable WHEN 'YES' THEN true ELSE false END AS nullable,
    CASE WHEN pk.column_name IS NOT NULL THEN 'primary' ELSE '' END AS key_role
FROM information_schema.columns c
LEFT JOIN (
    SELECT kcu.table_name, kcu.column_name
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage kcu
        ON tc.constraint_name = kcu.constraint_name
        AND tc.table_schema = kcu.table_schema
    WHERE tc.constraint_type = 'PRIMARY KEY'
      AND tc.table_schema = 'public'
) pk ON pk.table_name = c.table_name AND pk.column_name = c.column_name
WHERE c.table_schema = 'public'
  AND ($1 = '' OR c.table_name = $1)
ORDER BY c.table_name, c.ordinal_position;
`

const schemaIndexesSQL = `
SELECT
    pi.tablename,
    pi.indexname,
    pi.indexdef,
    i.indisunique,
    i.indisprimary
FROM pg_catalog.pg_indexes pi
JOIN pg_catalog.pg_class c ON c.relname = pi.indexname AND c.relnamespace = (
    SELECT oid FROM pg_catalog.pg_namespace WHERE nspname = pi.schemaname
)
JOIN pg_catalog.pg_index i ON i.indexrelid = c.oid
WHERE pi.schemaname = 'public'
  AND ($1 = '' OR pi.tablename = $1)
ORDER BY pi.tablename, pi.indexname;
`

// SchemaInput is the input for get_schema.
type SchemaInput struct {
	Table          string // optional: restrict to one table
	IncludeIndexes bool
}

// GetSchema enumerates tables visible to the connected credential, with
// columns and types, from the metadata catalog.
func (g *Gateway) GetSchema(ctx context.Context, input SchemaInput) (*SchemaInfo, error) {
	startTime := time.Now()

	if _, err := g.evaluate(policy.ToolGetSchema, map[string]interface{}{
		"table": input.Table,
	}); err != nil {
		return nil, err
	}

	queryCtx, cancel := g.metadataCtx(ctx)
	defer cancel()

	conn, err := g.pool.Acquire(queryCtx)
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "get_schema: acquire connection")
	}
	defer conn.Release()

	info := &SchemaInfo{Tables: []TableDescriptor{}}
	if err := conn.QueryRow(queryCtx, "SELECT current_database()").Scan(&info.Database); err != nil {
		return nil, classifyDBError(err, "get_schema")
	}

	tables, err := g.fetchTableDescriptors(queryCtx, conn, input.Table)
	if err != nil {
		g.noteTimeout(err)
		return nil, err
	}
	if input.Table != "" && len(tables) == 0 {
		return nil, newError(KindNotFound, "table %q not found", input.Table)
	}

	if input.IncludeIndexes {
		if err := g.attachIndexes(queryCtx, conn, input.Table, tables); err != nil {
			g.noteTimeout(err)
			return nil, err
		}
	}

	info.Tables = tables
	info.TableCount = len(tables)

	g.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int("table_count", info.TableCount).
		Msg("get_schema")

	return info, nil
}

// fetchTableDescriptors groups catalog column rows into ordered table
// descriptors. table filters to one table when non-empty.
func (g *Gateway) fetchTableDescriptors(ctx context.Context, conn *pool.Conn, table string) ([]TableDescriptor, error) {
	rows, err := conn.Query(ctx, schemaColumnsSQL, table)
	if err != nil {
		return nil, classifyDBError(err, "get_schema: columns")
	}
	defer rows.Close()

	var tables []TableDescriptor
	index := make(map[string]int)
	for rows.Next() {
		var tableName string
		var col ColumnDescriptor
		if err := rows.Scan(&tableName, &col.Name, &col.Type, &col.Nullable, &col.KeyRole); err != nil {
			return nil, classifyDBError(err, "get_schema: scan column")
		}
		i, ok := index[tableName]
		if !ok {
			i = len(tables)
			index[tableName] = i
			tables = append(tables, TableDescriptor{Name: tableName})
		}
		tables[i].Columns = append(tables[i].Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDBError(err, "get_schema: columns")
	}
	return tables, nil
}

func (g *Gateway) attachIndexes(ctx context.Context, conn *pool.Conn, table string, tables []TableDescriptor) error {
	rows, err := conn.Query(ctx, schemaIndexesSQL, table)
	if err != nil {
		return classifyDBError(err, "get_schema: indexes")
	}
	defer rows.Close()

	index := make(map[string]int, len(tables))
	for i, t := range tables {
		index[t.Name] = i
	}
	for rows.Next() {
		var tableName string
		var idx IndexDescriptor
		if err := rows.Scan(&tableName, &idx.Name, &idx.Definition, &idx.IsUnique, &idx.IsPrimary); err != nil {
			return classifyDBError(err, "get_schema: scan index")
		}
		if i, ok := index[tableName]; ok {
			tables[i].Indexes = append(tables[i].Indexes, idx)
		}
	}
	if err := rows.Err(); err != nil {
		return classifyDBError(err, "get_schema: indexes")
	}
	return nil
}

// TableInfoInput is the input for get_table_info.
type TableInfoInput struct {
	Table      string
	SampleRows int // default 5, capped by policy
}

// GetTableInfo returns one table's descriptor plus its row count and a
// bounded sample of rows for human inspection.
func (g *Gateway) GetTableInfo(ctx context.Context, input TableInfoInput) (*TableInfo, error) {
	startTime := time.Now()

	decision, err := g.evaluate(policy.ToolGetTableInfo, map[string]interface{}{
		"table":       input.Table,
		"sample_rows": input.SampleRows,
	})
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := g.metadataCtx(ctx)
	defer cancel()

	conn, err := g.pool.Acquire(queryCtx)
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "get_table_info: acquire connection")
	}
	defer conn.Release()

	tables, err := g.fetchTableDescriptors(queryCtx, conn, input.Table)
	if err != nil {
		g.noteTimeout(err)
		return nil, err
	}
	if len(tables) == 0 {
		return nil, newError(KindNotFound, "table %q not found", input.Table)
	}
	if err := g.attachIndexes(queryCtx, conn, input.Table, tables); err != nil {
		g.noteTimeout(err)
		return nil, err
	}

	info := &TableInfo{TableDescriptor: tables[0]}

	// The identifier passed policy validation; quoting is belt only.
	qualName := policy.QuoteIdentifier(input.Table)

	if err := conn.QueryRow(queryCtx, fmt.Sprintf("SELECT COUNT(*) FROM %s", qualName)).Scan(&info.RowCount); err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "get_table_info: row count")
	}

	sampleRows, err := conn.Query(queryCtx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", qualName, decision.Limit))
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "get_table_info: sample rows")
	}
	sample, err := g.collectRows(sampleRows, decision.Limit, conn.Conn.Conn().TypeMap())
	if err != nil {
		return nil, classifyDBError(err, "get_table_info: read sample rows")
	}
	info.SampleRows = g.redactor.ApplyRows(sample.Rows)

	g.logger.Info().
		Str("table", input.Table).
		Dur("duration", time.Since(startTime)).
		Int64("row_count", info.RowCount).
		Int("sample_rows", len(info.SampleRows)).
		Msg("get_table_info")

	return info, nil
}
