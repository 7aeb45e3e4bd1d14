// Package policy is the single choke point for request safety. Every
// tool invocation passes through Evaluate exactly once before anything
// reaches the database; no component downstream re-validates.
package policy

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Tool identifies one operation in the gateway's fixed catalog.
type Tool string

const (
	ToolExecuteQuery    Tool = "execute_query"
	ToolGetSchema       Tool = "get_schema"
	ToolGetTableInfo    Tool = "get_table_info"
	ToolExplainQuery    Tool = "explain_query"
	ToolCheckConnection Tool = "check_connection"
	ToolGetTableStats   Tool = "get_table_stats"
	ToolSearchTables    Tool = "search_tables"
	ToolBackupTable     Tool = "backup_table"
	ToolInsertData      Tool = "insert_data"
)

// Rule is one entry in the per-tool policy table. Adding a tool means
// adding one entry here, not threading checks through the dispatcher.
type Rule struct {
	AcceptsSQL     bool     // free-form SQL permitted ("query" argument)
	LimitRows      bool     // row-limit discipline applies
	Batch          bool     // batch-size cap applies ("rows" argument)
	RequiredIdents []string // argument names that must be valid identifiers
	OptionalIdents []string // identifier arguments that may be absent
	Pattern        bool     // literal search pattern argument
}

// Config holds the enforcement ceilings.
type Config struct {
	DefaultRowLimit   int // applied when the caller supplies no limit
	MaxRowLimit       int // hard cap even if the caller requests more
	MaxBatchSize      int // insert batch ceiling
	MaxSQLLength      int // statement text length ceiling, bytes
	DefaultSampleRows int // get_table_info sample size default
	MaxSampleRows     int // get_table_info sample size ceiling
	MaxPatternLength  int // search_tables pattern length ceiling
}

// Decision is the enforcement outcome for a request.
type Decision struct {
	Allow  bool
	Reason string        // human-readable rejection reason
	SQL    string        // possibly rewritten statement (SQL tools only)
	Params []interface{} // bound parameters passed through, never interpolated
	Limit  int           // effective row limit for this request
}

func reject(format string, args ...interface{}) Decision {
	return Decision{Allow: false, Reason: fmt.Sprintf(format, args...)}
}

// Enforcer applies the per-tool policy table.
type Enforcer struct {
	config Config
	rules  map[Tool]Rule
}

// NewEnforcer creates an Enforcer. Zero-valued ceilings get defaults.
func NewEnforcer(config Config) *Enforcer {
	if config.DefaultRowLimit <= 0 {
		config.DefaultRowLimit = 1000
	}
	if config.MaxRowLimit <= 0 {
		config.MaxRowLimit = 1000
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 500
	}
	if config.MaxSQLLength <= 0 {
		config.MaxSQLLength = 100000
	}
	if config.DefaultSampleRows <= 0 {
		config.DefaultSampleRows = 5
	}
	if config.MaxSampleRows <= 0 {
		config.MaxSampleRows = 50
	}
	if config.MaxPatternLength <= 0 {
		config.MaxPatternLength = 128
	}

	return &Enforcer{
		config: config,
		rules: map[Tool]Rule{
			ToolExecuteQuery:    {AcceptsSQL: true, LimitRows: true},
			ToolExplainQuery:    {AcceptsSQL: true, LimitRows: true},
			ToolGetSchema:       {OptionalIdents: []string{"table"}},
			ToolGetTableInfo:    {RequiredIdents: []string{"table"}, LimitRows: true},
			ToolCheckConnection: {},
			ToolGetTableStats:   {OptionalIdents: []string{"table"}},
			ToolSearchTables:    {Pattern: true},
			ToolBackupTable:     {RequiredIdents: []string{"table"}, OptionalIdents: []string{"backup_name"}},
			ToolInsertData:      {RequiredIdents: []string{"table"}, Batch: true},
		},
	}
}

// Config returns the enforcement ceilings in effect.
func (e *Enforcer) Config() Config {
	return e.config
}

// Evaluate applies the policy entry for tool to rawArgs and returns the
// decision. A rejected decision is a hard stop: the gateway must not
// attempt execution.
func (e *Enforcer) Evaluate(tool Tool, rawArgs map[string]interface{}) Decision {
	rule, ok := e.rules[tool]
	if !ok {
		return reject("unknown tool: %s", tool)
	}

	for _, name := range rule.RequiredIdents {
		v, present := stringArg(rawArgs, name)
		if !present || v == "" {
			return reject("%s: required argument %q is missing", tool, name)
		}
		if err := ValidateIdentifier(v); err != nil {
			return reject("%s: argument %q: %v", tool, name, err)
		}
	}
	for _, name := range rule.OptionalIdents {
		v, present := stringArg(rawArgs, name)
		if !present || v == "" {
			continue
		}
		if err := ValidateIdentifier(v); err != nil {
			return reject("%s: argument %q: %v", tool, name, err)
		}
	}

	if rule.Pattern {
		pattern, present := stringArg(rawArgs, "pattern")
		if !present || pattern == "" {
			return reject("%s: required argument %q is missing", tool, "pattern")
		}
		if len(pattern) > e.config.MaxPatternLength {
			return reject("%s: pattern too long: %d bytes exceeds maximum of %d", tool, len(pattern), e.config.MaxPatternLength)
		}
		if kind, present := stringArg(rawArgs, "search_type"); present && kind != "" {
			switch kind {
			case "table", "column", "both":
			default:
				return reject("%s: search_type must be one of table, column, both; got %q", tool, kind)
			}
		}
	}

	if rule.Batch {
		if d := e.checkInsertArgs(rawArgs); !d.Allow {
			return d
		}
	}

	if rule.AcceptsSQL {
		return e.evaluateStatement(tool, rawArgs)
	}

	// Non-SQL tools: resolve the effective limit for bounded sampling.
	limit := 0
	if rule.LimitRows {
		requested := intArg(rawArgs, "sample_rows", e.config.DefaultSampleRows)
		if requested <= 0 {
			requested = e.config.DefaultSampleRows
		}
		if requested > e.config.MaxSampleRows {
			requested = e.config.MaxSampleRows
		}
		limit = requested
	}
	return Decision{Allow: true, Limit: limit}
}

// evaluateStatement enforces the read-statement policy for tools that
// accept free-form SQL: single statement, read-only statement type,
// row-limit injection, and the length ceiling.
func (e *Enforcer) evaluateStatement(tool Tool, rawArgs map[string]interface{}) Decision {
	sql, present := stringArg(rawArgs, "query")
	if !present || strings.TrimSpace(sql) == "" {
		return reject("%s: required argument %q is missing", tool, "query")
	}
	if len(sql) > e.config.MaxSQLLength {
		return reject("%s: statement too long: %d bytes exceeds maximum of %d", tool, len(sql), e.config.MaxSQLLength)
	}

	// Parsing also strips comments and whitespace tricks: statement type
	// is judged from the AST, not from raw text.
	result, err := pg_query.Parse(sql)
	if err != nil {
		return reject("%s: SQL parse error: %v", tool, err)
	}
	if len(result.Stmts) == 0 {
		return reject("%s: empty statement", tool)
	}
	if len(result.Stmts) > 1 {
		return reject("%s: multi-statement queries are not allowed: found %d statements", tool, len(result.Stmts))
	}

	node := result.Stmts[0].Stmt
	if err := checkReadOnlyNode(node); err != nil {
		return reject("%s: %v", tool, err)
	}

	requested := intArg(rawArgs, "limit", 0)
	limit := e.effectiveLimit(requested)

	// The limit is grafted onto the AST and the statement deparsed, not
	// appended to the raw text: trailing comments or semicolons would
	// otherwise swallow or break an appended clause.
	rewritten := sql
	if sel, ok := node.Node.(*pg_query.Node_SelectStmt); ok && sel.SelectStmt.LimitCount == nil {
		sel.SelectStmt.LimitCount = pg_query.MakeAConstIntNode(int64(limit), -1)
		sel.SelectStmt.LimitOption = pg_query.LimitOption_LIMIT_OPTION_COUNT
		deparsed, err := pg_query.Deparse(result)
		if err != nil {
			return reject("%s: failed to apply row limit: %v", tool, err)
		}
		rewritten = deparsed
	}

	params := sliceArg(rawArgs, "params")

	return Decision{Allow: true, SQL: rewritten, Params: params, Limit: limit}
}

// effectiveLimit clamps the caller's requested row limit to the
// configured ceiling; absent or non-positive requests get the default.
func (e *Enforcer) effectiveLimit(requested int) int {
	if requested <= 0 {
		requested = e.config.DefaultRowLimit
	}
	if requested > e.config.MaxRowLimit {
		requested = e.config.MaxRowLimit
	}
	return requested
}

// checkReadOnlyNode permits SELECT, SHOW, and EXPLAIN statements only.
// CTE subqueries are checked recursively: a WITH clause can carry
// data-modifying statements that must not slip through.
func checkReadOnlyNode(node *pg_query.Node) error {
	if node == nil {
		return fmt.Errorf("empty statement")
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return checkSelectCTEs(n.SelectStmt)
	case *pg_query.Node_VariableShowStmt:
		return nil
	case *pg_query.Node_ExplainStmt:
		return checkReadOnlyNode(n.ExplainStmt.Query)
	default:
		return fmt.Errorf("only read statements are permitted (SELECT, SHOW, EXPLAIN)")
	}
}

func checkSelectCTEs(sel *pg_query.SelectStmt) error {
	if sel == nil {
		return nil
	}
	if sel.WithClause != nil {
		for _, cte := range sel.WithClause.Ctes {
			cteNode, ok := cte.Node.(*pg_query.Node_CommonTableExpr)
			if !ok {
				continue
			}
			if err := checkReadOnlyNode(cteNode.CommonTableExpr.Ctequery); err != nil {
				return fmt.Errorf("WITH clause: %w", err)
			}
		}
	}
	// Set operations (UNION, INTERSECT, EXCEPT) nest further selects.
	if sel.Larg != nil {
		if err := checkSelectCTEs(sel.Larg); err != nil {
			return err
		}
	}
	if sel.Rarg != nil {
		if err := checkSelectCTEs(sel.Rarg); err != nil {
			return err
		}
	}
	return nil
}

// checkInsertArgs enforces the insert batch shape: bounded size,
// conflict-policy enum, identifier-validated conflict key columns.
func (e *Enforcer) checkInsertArgs(rawArgs map[string]interface{}) Decision {
	rows := sliceArg(rawArgs, "rows")
	if len(rows) == 0 {
		return reject("insert_data: rows must be a non-empty array")
	}
	if len(rows) > e.config.MaxBatchSize {
		return reject("insert_data: batch of %d rows exceeds maximum of %d", len(rows), e.config.MaxBatchSize)
	}
	for i, r := range rows {
		if _, ok := r.(map[string]interface{}); !ok {
			return reject("insert_data: rows[%d] is not an object", i)
		}
	}

	if p, present := stringArg(rawArgs, "conflict_policy"); present && p != "" {
		switch p {
		case "fail", "ignore", "update":
		default:
			return reject("insert_data: conflict_policy must be one of fail, ignore, update; got %q", p)
		}
	}

	for i, c := range sliceArg(rawArgs, "conflict_columns") {
		name, ok := c.(string)
		if !ok {
			return reject("insert_data: conflict_columns[%d] is not a string", i)
		}
		if err := ValidateIdentifier(name); err != nil {
			return reject("insert_data: conflict_columns[%d]: %v", i, err)
		}
	}

	return Decision{Allow: true}
}

// --- argument extraction helpers ---
// MCP delivers arguments as JSON-decoded map values: numbers arrive as
// float64, arrays as []interface{}.

func stringArg(args map[string]interface{}, name string) (string, bool) {
	v, ok := args[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intArg(args map[string]interface{}, name string, fallback int) int {
	v, ok := args[name]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func sliceArg(args map[string]interface{}, name string) []interface{} {
	v, ok := args[name]
	if !ok {
		return nil
	}
	s, ok := v.([]interface{})
	if !ok {
		return nil
	}
	return s
}
