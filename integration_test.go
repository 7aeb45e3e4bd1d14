package toolgate_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	toolgate "github.com/toolgate-dev/toolgate"
)

// setupFixture creates a fresh test table with three rows and returns
// its name. The table is dropped on cleanup.
func setupFixture(t *testing.T, connStr string) string {
	t.Helper()
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect for fixture setup: %v", err)
	}
	defer conn.Close(ctx)

	table := fmt.Sprintf("tg_autotest_%d", time.Now().UnixNano())
	_, err = conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE %s (
			id    INT PRIMARY KEY,
			name  TEXT NOT NULL,
			email TEXT
		)`, table))
	if err != nil {
		t.Fatalf("failed to create fixture table: %v", err)
	}
	_, err = conn.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, name, email) VALUES (1, 'alice', 'alice@example.com'), (2, 'bob', NULL), (3, 'carol', 'carol@example.com')`,
		table))
	if err != nil {
		t.Fatalf("failed to seed fixture table: %v", err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		c, err := pgx.Connect(ctx, connStr)
		if err != nil {
			return
		}
		defer c.Close(ctx)
		c.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table))
		c.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s_backup_%s", table, time.Now().Format("20060102")))
	})
	return table
}

func TestIntegration_ExecuteQuery(t *testing.T) {
	connStr := acquireTestDB(t)
	table := setupFixture(t, connStr)
	g := newTestGateway(t, defaultConfig())
	ctx := context.Background()

	result, err := g.ExecuteQuery(ctx, toolgate.QueryInput{
		Query: fmt.Sprintf("SELECT id, name FROM %s ORDER BY id", table),
	})
	if err != nil {
		t.Fatalf("execute_query failed: %v", err)
	}
	if result.RowCount != 3 {
		t.Fatalf("expected 3 rows, got %d", result.RowCount)
	}
	if result.Truncated {
		t.Fatal("expected result not truncated")
	}
	if result.Rows[0]["name"] != "alice" {
		t.Fatalf("unexpected first row: %v", result.Rows[0])
	}
}

func TestIntegration_ExecuteQuery_LimitTruncates(t *testing.T) {
	connStr := acquireTestDB(t)
	table := setupFixture(t, connStr)
	g := newTestGateway(t, defaultConfig())

	result, err := g.ExecuteQuery(context.Background(), toolgate.QueryInput{
		Query: fmt.Sprintf("SELECT id FROM %s ORDER BY id", table),
		Limit: 2,
	})
	if err != nil {
		t.Fatalf("execute_query failed: %v", err)
	}
	if result.RowCount != 2 || !result.Truncated {
		t.Fatalf("expected 2 truncated rows, got %d (truncated=%v)", result.RowCount, result.Truncated)
	}
}

func TestIntegration_GetSchemaAndTableInfo(t *testing.T) {
	connStr := acquireTestDB(t)
	table := setupFixture(t, connStr)
	g := newTestGateway(t, defaultConfig())
	ctx := context.Background()

	info, err := g.GetSchema(ctx, toolgate.SchemaInput{Table: table, IncludeIndexes: true})
	if err != nil {
		t.Fatalf("get_schema failed: %v", err)
	}
	if info.TableCount != 1 || len(info.Tables[0].Columns) != 3 {
		t.Fatalf("unexpected schema: %+v", info)
	}
	if info.Tables[0].Columns[0].KeyRole != "primary" {
		t.Fatalf("expected id flagged as primary key, got %+v", info.Tables[0].Columns[0])
	}
	if len(info.Tables[0].Indexes) == 0 {
		t.Fatal("expected at least the primary key index")
	}

	ti, err := g.GetTableInfo(ctx, toolgate.TableInfoInput{Table: table, SampleRows: 2})
	if err != nil {
		t.Fatalf("get_table_info failed: %v", err)
	}
	if ti.RowCount != 3 || len(ti.SampleRows) != 2 {
		t.Fatalf("unexpected table info: rows=%d samples=%d", ti.RowCount, len(ti.SampleRows))
	}

	_, err = g.GetTableInfo(ctx, toolgate.TableInfoInput{Table: "tg_no_such_table"})
	if toolgate.KindOf(err) != toolgate.KindNotFound {
		t.Fatalf("expected KindNotFound for missing table, got %v", err)
	}
}

func TestIntegration_StatsAndSearch(t *testing.T) {
	connStr := acquireTestDB(t)
	table := setupFixture(t, connStr)
	g := newTestGateway(t, defaultConfig())
	ctx := context.Background()

	stats, err := g.GetTableStats(ctx, toolgate.StatsInput{Table: table})
	if err != nil {
		t.Fatalf("get_table_stats failed: %v", err)
	}
	if len(stats) != 1 || stats[0].Table != table {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	// Never-analyzed tables fall back to an exact count.
	if stats[0].RowCount != 3 && stats[0].RowCountIsEstimate == false {
		t.Fatalf("expected exact count 3, got %+v", stats[0])
	}
	if stats[0].TotalBytes <= 0 {
		t.Fatalf("expected positive total bytes, got %d", stats[0].TotalBytes)
	}

	search, err := g.SearchTablesByName(ctx, toolgate.SearchInput{Pattern: "tg_autotest"})
	if err != nil {
		t.Fatalf("search_tables failed: %v", err)
	}
	if len(search.Matches) == 0 {
		t.Fatal("expected the fixture table to match")
	}

	byColumn, err := g.SearchTablesByName(ctx, toolgate.SearchInput{Pattern: "email", Type: toolgate.SearchColumns})
	if err != nil {
		t.Fatalf("search_tables by column failed: %v", err)
	}
	found := false
	for _, m := range byColumn.Matches {
		if m.Table == table && m.Column == "email" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected email column match for %s, got %+v", table, byColumn.Matches)
	}
}

func TestIntegration_BackupTable(t *testing.T) {
	connStr := acquireTestDB(t)
	table := setupFixture(t, connStr)
	g := newTestGateway(t, defaultConfig())
	ctx := context.Background()

	spec, err := g.BackupTable(ctx, toolgate.BackupInput{Table: table})
	if err != nil {
		t.Fatalf("backup_table failed: %v", err)
	}
	if spec.RowsCopied != 3 {
		t.Fatalf("expected 3 rows copied, got %d", spec.RowsCopied)
	}

	// The backup is a plain queryable table.
	result, err := g.ExecuteQuery(ctx, toolgate.QueryInput{
		Query: fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", spec.Target),
	})
	if err != nil {
		t.Fatalf("querying backup failed: %v", err)
	}
	if result.RowCount != 1 {
		t.Fatalf("unexpected count result: %+v", result)
	}

	// Second run the same day picks a numbered name.
	spec2, err := g.BackupTable(ctx, toolgate.BackupInput{Table: table})
	if err != nil {
		t.Fatalf("second backup failed: %v", err)
	}
	if spec2.Target == spec.Target {
		t.Fatalf("expected disambiguated target, got %q twice", spec.Target)
	}

	defer func() {
		c, err := pgx.Connect(ctx, connStr)
		if err != nil {
			return
		}
		defer c.Close(ctx)
		c.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", spec.Target))
		c.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", spec2.Target))
	}()

	_, err = g.BackupTable(ctx, toolgate.BackupInput{Table: "tg_no_such_table"})
	if toolgate.KindOf(err) != toolgate.KindNotFound {
		t.Fatalf("expected KindNotFound for missing source, got %v", err)
	}
}

func TestIntegration_BackupTable_MixedCaseName(t *testing.T) {
	connStr := acquireTestDB(t)
	g := newTestGateway(t, defaultConfig())
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect for fixture setup: %v", err)
	}
	defer conn.Close(ctx)

	table := fmt.Sprintf("TgCaseTest_%d", time.Now().UnixNano())
	if _, err := conn.Exec(ctx, fmt.Sprintf(`CREATE TABLE %q (id INT PRIMARY KEY)`, table)); err != nil {
		t.Fatalf("failed to create mixed-case table: %v", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(`INSERT INTO %q (id) VALUES (1)`, table)); err != nil {
		t.Fatalf("failed to seed mixed-case table: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		c, err := pgx.Connect(ctx, connStr)
		if err != nil {
			return
		}
		defer c.Close(ctx)
		c.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table))
		c.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table+"_backup_"+time.Now().Format("20060102")))
	})

	// Exact-case source resolution: the stored name is never case-folded.
	spec, err := g.BackupTable(ctx, toolgate.BackupInput{Table: table})
	if err != nil {
		t.Fatalf("backup of mixed-case table failed: %v", err)
	}
	if spec.RowsCopied != 1 {
		t.Fatalf("expected 1 row copied, got %d", spec.RowsCopied)
	}

	// The lowercase folding of the name does not exist as a table.
	_, err = g.BackupTable(ctx, toolgate.BackupInput{Table: "tgcasetest_0"})
	if toolgate.KindOf(err) != toolgate.KindNotFound {
		t.Fatalf("expected KindNotFound for folded name, got %v", err)
	}
}

func TestIntegration_InsertPolicies(t *testing.T) {
	connStr := acquireTestDB(t)
	table := setupFixture(t, connStr)
	g := newTestGateway(t, defaultConfig())
	ctx := context.Background()

	// fail policy, no collision
	res, err := g.InsertRows(ctx, toolgate.InsertRequest{
		Table: table,
		Rows: []map[string]interface{}{
			{"id": 10, "name": "dave", "email": nil},
		},
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("expected 1 inserted, got %+v", res)
	}

	// fail policy, collision fails the whole batch atomically
	_, err = g.InsertRows(ctx, toolgate.InsertRequest{
		Table: table,
		Rows: []map[string]interface{}{
			{"id": 11, "name": "erin", "email": nil},
			{"id": 1, "name": "dup", "email": nil},
		},
	})
	if err == nil {
		t.Fatal("expected unique violation error")
	}
	check, _ := g.ExecuteQuery(ctx, toolgate.QueryInput{
		Query: fmt.Sprintf("SELECT id FROM %s WHERE id = 11", table),
	})
	if check != nil && check.RowCount != 0 {
		t.Fatal("expected failed batch to be rolled back")
	}

	// ignore policy skips the colliding row
	res, err = g.InsertRows(ctx, toolgate.InsertRequest{
		Table:  table,
		Policy: toolgate.ConflictIgnore,
		Rows: []map[string]interface{}{
			{"id": 1, "name": "dup", "email": nil},
			{"id": 12, "name": "frank", "email": nil},
		},
	})
	if err != nil {
		t.Fatalf("insert ignore failed: %v", err)
	}
	if res.Inserted != 1 || res.Skipped != 1 {
		t.Fatalf("expected 1 inserted 1 skipped, got %+v", res)
	}

	// update policy reports updated vs inserted
	res, err = g.InsertRows(ctx, toolgate.InsertRequest{
		Table:  table,
		Policy: toolgate.ConflictUpdate,
		Rows: []map[string]interface{}{
			{"id": 1, "name": "alice2", "email": "alice2@example.com"},
			{"id": 13, "name": "grace", "email": nil},
		},
	})
	if err != nil {
		t.Fatalf("insert update failed: %v", err)
	}
	if res.Inserted != 1 || res.Updated != 1 {
		t.Fatalf("expected 1 inserted 1 updated, got %+v", res)
	}

	verify, err := g.ExecuteQuery(ctx, toolgate.QueryInput{
		Query: fmt.Sprintf("SELECT name FROM %s WHERE id = 1", table),
	})
	if err != nil {
		t.Fatalf("verify query failed: %v", err)
	}
	if verify.Rows[0]["name"] != "alice2" {
		t.Fatalf("expected updated name, got %v", verify.Rows[0])
	}
}

func TestIntegration_ExplainQuery(t *testing.T) {
	connStr := acquireTestDB(t)
	table := setupFixture(t, connStr)
	g := newTestGateway(t, defaultConfig())

	result, err := g.ExplainQuery(context.Background(), toolgate.ExplainInput{
		Query: fmt.Sprintf("SELECT * FROM %s WHERE id = 1", table),
	})
	if err != nil {
		t.Fatalf("explain_query failed: %v", err)
	}
	if result.Plan == nil || result.Plan.Operation == "" {
		t.Fatalf("expected a plan root, got %+v", result.Plan)
	}
}

func TestIntegration_CheckConnection(t *testing.T) {
	acquireTestDB(t)
	g := newTestGateway(t, defaultConfig())

	summary, err := g.CheckConnection(context.Background())
	if err != nil {
		t.Fatalf("check_connection failed: %v", err)
	}
	if !summary.Connected {
		t.Fatalf("expected connected gateway, got %+v", summary)
	}
	if summary.ServerVersion == "" || summary.Database == "" {
		t.Fatalf("expected server version and database, got %+v", summary)
	}
}

func TestIntegration_RedactionAppliesToResults(t *testing.T) {
	connStr := acquireTestDB(t)
	table := setupFixture(t, connStr)

	config := defaultConfig()
	config.Redaction = []toolgate.RedactionRule{
		{Pattern: `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, Replacement: "[EMAIL]"},
	}
	g := newTestGateway(t, config)

	result, err := g.ExecuteQuery(context.Background(), toolgate.QueryInput{
		Query: fmt.Sprintf("SELECT email FROM %s WHERE id = 1", table),
	})
	if err != nil {
		t.Fatalf("execute_query failed: %v", err)
	}
	if result.Rows[0]["email"] != "[EMAIL]" {
		t.Fatalf("expected redacted email, got %v", result.Rows[0]["email"])
	}
}
