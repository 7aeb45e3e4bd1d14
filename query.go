package toolgate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/toolgate-dev/toolgate/internal/policy"
)

// QueryInput is the input for execute_query.
type QueryInput struct {
	Query  string
	Params []interface{}
	Limit  int
}

// ExecuteQuery runs a single read statement under the row-limit
// discipline. The statement is validated and possibly rewritten by the
// safety policy before execution; parameters are always bound, never
// interpolated into the statement text.
func (g *Gateway) ExecuteQuery(ctx context.Context, input QueryInput) (*QueryResult, error) {
	startTime := time.Now()

	decision, err := g.evaluate(policy.ToolExecuteQuery, map[string]interface{}{
		"query":  input.Query,
		"params": input.Params,
		"limit":  input.Limit,
	})
	if err != nil {
		return nil, err
	}

	execTimeout, timeoutRule := g.timeouts.Resolve(decision.SQL)
	queryCtx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	conn, err := g.pool.Acquire(queryCtx)
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "execute_query: acquire connection")
	}
	defer conn.Release()

	tx, err := conn.Begin(queryCtx)
	if err != nil {
		return nil, classifyDBError(err, "execute_query: begin transaction")
	}
	// Read statements only: always roll back. Parent ctx, not queryCtx —
	// if the query timed out, queryCtx is already cancelled.
	defer tx.Rollback(ctx)

	rows, err := tx.Query(queryCtx, decision.SQL, decision.Params...)
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "execute_query")
	}

	result, err := g.collectRows(rows, decision.Limit, conn.Conn.Conn().TypeMap())
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "execute_query: read rows")
	}

	result.Rows = g.redactor.ApplyRows(result.Rows)
	g.shrinkToResultBound(result)

	logEvent := g.logger.Info().
		Str("sql", truncateForLog(decision.SQL, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", result.RowCount).
		Bool("truncated", result.Truncated)
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if g.redactor.Active() {
		logEvent = logEvent.Bool("redacted", true)
	}
	logEvent.Msg("execute_query")

	return result, nil
}

// collectRows reads at most limit rows and reports whether more data
// existed beyond the cut-off.
func (g *Gateway) collectRows(rows pgx.Rows, limit int, typeMap *pgtype.Map) (*QueryResult, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]ColumnMeta, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = ColumnMeta{Name: fd.Name, Type: typeName(typeMap, fd.DataTypeOID)}
	}

	resultRows := make([]map[string]interface{}, 0)
	truncated := false
	for rows.Next() {
		if limit > 0 && len(resultRows) >= limit {
			truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col.Name] = convertValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryResult{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		Truncated: truncated,
	}, nil
}

func typeName(typeMap *pgtype.Map, oid uint32) string {
	if typeMap != nil {
		if t, ok := typeMap.TypeForOID(oid); ok {
			return t.Name
		}
	}
	return fmt.Sprintf("oid:%d", oid)
}

// shrinkToResultBound drops trailing rows until the serialized result
// fits within the configured length bound, marking the result truncated.
func (g *Gateway) shrinkToResultBound(result *QueryResult) {
	bound := g.config.Query.MaxResultLength
	for len(result.Rows) > 0 {
		encoded, err := json.Marshal(result.Rows)
		if err != nil || len([]rune(string(encoded))) <= bound {
			return
		}
		keep := len(result.Rows) / 2
		result.Rows = result.Rows[:keep]
		result.RowCount = keep
		result.Truncated = true
	}
}

// convertValue converts a pgx-returned value to a JSON-friendly Go type.
func convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float32:
		return convertFloat(float64(val))
	case float64:
		return convertFloat(val)
	case netip.Prefix:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN {
			return "NaN"
		}
		b, err := val.MarshalJSON()
		if err != nil {
			return nil
		}
		return string(b)
	case [16]byte:
		// UUID
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case []byte:
		// bytea — base64 encode
		return base64.StdEncoding.EncodeToString(val)
	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, inner := range val {
			result[k] = convertValue(inner)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, inner := range val {
			result[i] = convertValue(inner)
		}
		return result
	default:
		return val
	}
}

func convertFloat(f float64) interface{} {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	return f
}

// truncateForLog truncates a string for log output to avoid oversized
// log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
