package toolgate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/toolgate-dev/toolgate/internal/policy"
	"github.com/toolgate-dev/toolgate/internal/pool"
)

const primaryKeySQL = `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
    ON tc.constraint_name = kcu.constraint_name
    AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = 'public'
  AND tc.table_name = $1
ORDER BY kcu.ordinal_position;
`

// InsertRows writes a batch of rows into one table as a single
// transaction. The conflict policy decides what happens when a row
// collides with existing data on the conflict key: fail the batch,
// skip the row, or update the existing row.
func (g *Gateway) InsertRows(ctx context.Context, req InsertRequest) (*InsertResult, error) {
	startTime := time.Now()

	if len(req.Rows) > g.config.Insert.MaxBatchSize {
		return nil, newError(KindBatchTooLarge,
			"batch of %d rows exceeds maximum of %d", len(req.Rows), g.config.Insert.MaxBatchSize)
	}

	rawRows := make([]interface{}, len(req.Rows))
	for i, r := range req.Rows {
		rawRows[i] = r
	}
	rawConflict := make([]interface{}, len(req.ConflictColumns))
	for i, c := range req.ConflictColumns {
		rawConflict[i] = c
	}
	if _, err := g.evaluate(policy.ToolInsertData, map[string]interface{}{
		"table":            req.Table,
		"rows":             rawRows,
		"conflict_policy":  string(req.Policy),
		"conflict_columns": rawConflict,
	}); err != nil {
		return nil, err
	}

	conflictPolicy := req.Policy
	if conflictPolicy == "" {
		conflictPolicy = ConflictFail
	}

	columns, err := batchColumns(req.Rows)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(g.config.Query.DefaultTimeoutSeconds) * time.Second
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := g.pool.Acquire(queryCtx)
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "insert_data: acquire connection")
	}
	defer conn.Release()

	var conflictKey []string
	if conflictPolicy != ConflictFail {
		conflictKey, err = g.resolveConflictKey(queryCtx, conn, req, columns)
		if err != nil {
			return nil, err
		}
		if err := rejectDuplicateKeys(req.Rows, conflictKey); err != nil {
			return nil, err
		}
	}

	insertSQL, args, err := buildInsertSQL(req.Table, columns, req.Rows, conflictPolicy, conflictKey)
	if err != nil {
		return nil, err
	}

	tx, err := conn.Begin(queryCtx)
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "insert_data: begin transaction")
	}
	// Rollback on the parent so cleanup still runs after a timeout.
	defer tx.Rollback(ctx)

	result := &InsertResult{Table: req.Table}
	switch conflictPolicy {
	case ConflictUpdate:
		// RETURNING (xmax = 0) distinguishes fresh inserts from updates.
		rows, err := tx.Query(queryCtx, insertSQL, args...)
		if err != nil {
			g.noteTimeout(err)
			return nil, classifyInsertError(err)
		}
		for rows.Next() {
			var wasInserted bool
			if err := rows.Scan(&wasInserted); err != nil {
				rows.Close()
				return nil, classifyDBError(err, "insert_data: scan outcome")
			}
			if wasInserted {
				result.Inserted++
			} else {
				result.Updated++
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			g.noteTimeout(err)
			return nil, classifyInsertError(err)
		}
	default:
		tag, err := tx.Exec(queryCtx, insertSQL, args...)
		if err != nil {
			g.noteTimeout(err)
			return nil, classifyInsertError(err)
		}
		result.Inserted = int(tag.RowsAffected())
		if conflictPolicy == ConflictIgnore {
			result.Skipped = len(req.Rows) - result.Inserted
		}
	}

	if err := tx.Commit(queryCtx); err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "insert_data: commit")
	}

	g.logger.Info().
		Str("table", req.Table).
		Str("conflict_policy", string(conflictPolicy)).
		Int("batch_size", len(req.Rows)).
		Int("inserted", result.Inserted).
		Int("skipped", result.Skipped).
		Int("updated", result.Updated).
		Dur("duration", time.Since(startTime)).
		Msg("insert_data")

	return result, nil
}

// batchColumns derives the deterministic column list for a batch from
// the first row and rejects batches whose rows disagree on shape.
func batchColumns(rows []map[string]interface{}) ([]string, error) {
	columns := make([]string, 0, len(rows[0]))
	for name := range rows[0] {
		if err := policy.ValidateIdentifier(name); err != nil {
			return nil, newError(KindValidationRejected, "insert_data: column %q: %v", name, err)
		}
		columns = append(columns, name)
	}
	sort.Strings(columns)

	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, newError(KindSchemaMismatch,
				"insert_data: rows[%d] has %d columns, batch columns are %d", i, len(row), len(columns))
		}
		for _, name := range columns {
			if _, ok := row[name]; !ok {
				return nil, newError(KindSchemaMismatch,
					"insert_data: rows[%d] is missing column %q", i, name)
			}
		}
	}
	return columns, nil
}

// resolveConflictKey returns the columns that define a collision:
// declared conflict columns when given, the table's primary key
// otherwise. Every key column must be present in the batch.
func (g *Gateway) resolveConflictKey(ctx context.Context, conn *pool.Conn, req InsertRequest, columns []string) ([]string, error) {
	key := req.ConflictColumns
	if len(key) == 0 {
		rows, err := conn.Query(ctx, primaryKeySQL, req.Table)
		if err != nil {
			g.noteTimeout(err)
			return nil, classifyDBError(err, "insert_data: resolve primary key")
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, classifyDBError(err, "insert_data: resolve primary key")
			}
			key = append(key, name)
		}
		if err := rows.Err(); err != nil {
			g.noteTimeout(err)
			return nil, classifyDBError(err, "insert_data: resolve primary key")
		}
	}
	if len(key) == 0 {
		return nil, newError(KindConflictKeyMissing,
			"insert_data: table %q has no primary key and no conflict_columns were given", req.Table)
	}

	inBatch := make(map[string]bool, len(columns))
	for _, c := range columns {
		inBatch[c] = true
	}
	for _, c := range key {
		if !inBatch[c] {
			return nil, newError(KindConflictKeyMissing,
				"insert_data: conflict key column %q is not present in the batch rows", c)
		}
	}
	return key, nil
}

// rejectDuplicateKeys refuses batches where two rows share the same
// conflict key. Duplicate keys inside one statement make ON CONFLICT
// behavior ambiguous, so the whole batch is rejected up front.
func rejectDuplicateKeys(rows []map[string]interface{}, key []string) error {
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		var b strings.Builder
		for _, c := range key {
			// The type tags the encoding so "1" and 1 never collide.
			fmt.Fprintf(&b, "%T:%v\x00", row[c], row[c])
		}
		k := b.String()
		if j, dup := seen[k]; dup {
			return newError(KindValidationRejected,
				"insert_data: rows[%d] and rows[%d] share the same conflict key", j, i)
		}
		seen[k] = i
	}
	return nil
}

// buildInsertSQL renders one multi-row INSERT with positional
// placeholders and the ON CONFLICT clause for the policy.
func buildInsertSQL(table string, columns []string, rows []map[string]interface{}, conflictPolicy ConflictPolicy, conflictKey []string) (string, []interface{}, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = policy.QuoteIdentifier(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ",
		policy.QuoteIdentifier(table), strings.Join(quoted, ", "))

	args := make([]interface{}, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, c := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			args = append(args, row[c])
			fmt.Fprintf(&b, "$%d", len(args))
		}
		b.WriteString(")")
	}

	switch conflictPolicy {
	case ConflictIgnore:
		b.WriteString(" ON CONFLICT DO NOTHING")
	case ConflictUpdate:
		keyQuoted := make([]string, len(conflictKey))
		inKey := make(map[string]bool, len(conflictKey))
		for i, c := range conflictKey {
			keyQuoted[i] = policy.QuoteIdentifier(c)
			inKey[c] = true
		}
		var assignments []string
		for _, c := range columns {
			if inKey[c] {
				continue
			}
			q := policy.QuoteIdentifier(c)
			assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
		}
		if len(assignments) == 0 {
			return "", nil, newError(KindValidationRejected,
				"insert_data: conflict_policy update needs at least one non-key column")
		}
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0) AS inserted",
			strings.Join(keyQuoted, ", "), strings.Join(assignments, ", "))
	}

	return b.String(), args, nil
}

// classifyInsertError refines the generic mapping for inserts: an
// undefined column means the batch shape does not match the table.
func classifyInsertError(err error) *Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlstateUndefinedColumn {
		return wrapError(KindSchemaMismatch, err, "insert_data: batch columns do not match the table")
	}
	return classifyDBError(err, "insert_data")
}
