package toolgate

import (
	"context"
	"strings"
	"time"

	"github.com/toolgate-dev/toolgate/internal/plan"
	"github.com/toolgate-dev/toolgate/internal/policy"
)

// ExplainInput is the input for explain_query.
type ExplainInput struct {
	Query  string
	Params []interface{}
}

// ExplainQuery returns the execution plan for a read-only statement
// without executing it. The statement passes the same policy gate as
// execute_query before the planner sees it.
func (g *Gateway) ExplainQuery(ctx context.Context, input ExplainInput) (*ExplainResult, error) {
	startTime := time.Now()

	// The caller passes the bare statement; the gateway adds EXPLAIN.
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(input.Query)), "explain") {
		return nil, newError(KindValidationRejected,
			"explain_query: pass the statement without an EXPLAIN prefix")
	}

	decision, err := g.evaluate(policy.ToolExplainQuery, map[string]interface{}{
		"query":  input.Query,
		"params": input.Params,
	})
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := g.metadataCtx(ctx)
	defer cancel()

	conn, err := g.pool.Acquire(queryCtx)
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "explain_query: acquire connection")
	}
	defer conn.Release()

	// FORMAT JSON without ANALYZE: planning only, nothing executes.
	var raw []byte
	explainSQL := "EXPLAIN (FORMAT JSON) " + decision.SQL
	if err := conn.QueryRow(queryCtx, explainSQL, decision.Params...).Scan(&raw); err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "explain_query")
	}

	root, err := plan.Parse(raw)
	if err != nil {
		return nil, wrapError(KindDatabaseError, err, "explain_query: parse plan")
	}

	g.logger.Info().
		Str("query", truncateForLog(input.Query, 200)).
		Dur("duration", time.Since(startTime)).
		Msg("explain_query")

	return &ExplainResult{Query: input.Query, Plan: root}, nil
}
