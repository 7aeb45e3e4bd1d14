package toolgate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/toolgate-dev/toolgate/internal/policy"
)

// Row counts come from pg_class.reltuples so stats stay cheap on large
// tables. A table that has never been analyzed reports reltuples = -1;
// only then do we fall back to an exact COUNT, still bounded by the
// metadata timeout.

const tableStatsSQL = `
SELECT
    c.relname,
    c.reltuples::bigint,
    pg_total_relation_size(c.oid),
    (SELECT COUNT(*) FROM pg_catalog.pg_index i WHERE i.indrelid = c.oid),
    GREATEST(s.last_vacuum, s.last_autovacuum, s.last_analyze, s.last_autoanalyze)
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_catalog.pg_stat_user_tables s ON s.relid = c.oid
WHERE n.nspname = 'public'
  AND c.relkind = 'r'
  AND ($1 = '' OR c.relname = $1)
ORDER BY c.relname;
`

// StatsInput is the input for get_table_stats.
type StatsInput struct {
	Table string // optional: restrict to one table
}

// GetTableStats reports per-table size and activity metrics from the
// statistics catalogs.
func (g *Gateway) GetTableStats(ctx context.Context, input StatsInput) ([]TableStats, error) {
	startTime := time.Now()

	if _, err := g.evaluate(policy.ToolGetTableStats, map[string]interface{}{
		"table": input.Table,
	}); err != nil {
		return nil, err
	}

	queryCtx, cancel := g.metadataCtx(ctx)
	defer cancel()

	conn, err := g.pool.Acquire(queryCtx)
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "get_table_stats: acquire connection")
	}
	defer conn.Release()

	rows, err := conn.Query(queryCtx, tableStatsSQL, input.Table)
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "get_table_stats")
	}

	stats := []TableStats{}
	for rows.Next() {
		var s TableStats
		if err := rows.Scan(&s.Table, &s.RowCount, &s.TotalBytes, &s.IndexCount, &s.LastModified); err != nil {
			rows.Close()
			return nil, classifyDBError(err, "get_table_stats: scan")
		}
		s.RowCountIsEstimate = true
		stats = append(stats, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "get_table_stats")
	}
	if input.Table != "" && len(stats) == 0 {
		return nil, newError(KindNotFound, "table %q not found", input.Table)
	}

	// reltuples is -1 until the first VACUUM or ANALYZE.
	for i := range stats {
		if stats[i].RowCount >= 0 {
			continue
		}
		qualName := policy.QuoteIdentifier(stats[i].Table)
		if err := conn.QueryRow(queryCtx, fmt.Sprintf("SELECT COUNT(*) FROM %s", qualName)).Scan(&stats[i].RowCount); err != nil {
			g.noteTimeout(err)
			return nil, classifyDBError(err, "get_table_stats: exact count")
		}
		stats[i].RowCountIsEstimate = false
	}

	g.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(stats)).
		Msg("get_table_stats")

	return stats, nil
}

const searchTablesSQL = `
SELECT c.table_name, c.column_name
FROM information_schema.columns c
WHERE c.table_schema = 'public'
ORDER BY c.table_name, c.ordinal_position;
`

// SearchType selects which names search_tables matches against.
type SearchType string

const (
	SearchTables  SearchType = "table"
	SearchColumns SearchType = "column"
	SearchBoth    SearchType = "both"
)

// SearchInput is the input for search_tables.
type SearchInput struct {
	Pattern string
	Type    SearchType // default "both"
}

// SearchTablesByName finds tables and columns whose names contain the
// pattern as a case-insensitive literal substring. The pattern is never
// interpreted as SQL or as a wildcard expression.
func (g *Gateway) SearchTablesByName(ctx context.Context, input SearchInput) (*SearchResult, error) {
	startTime := time.Now()

	searchType := input.Type
	if searchType == "" {
		searchType = SearchBoth
	}

	if _, err := g.evaluate(policy.ToolSearchTables, map[string]interface{}{
		"pattern":     input.Pattern,
		"search_type": string(searchType),
	}); err != nil {
		return nil, err
	}

	queryCtx, cancel := g.metadataCtx(ctx)
	defer cancel()

	conn, err := g.pool.Acquire(queryCtx)
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "search_tables: acquire connection")
	}
	defer conn.Release()

	rows, err := conn.Query(queryCtx, searchTablesSQL)
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "search_tables")
	}
	defer rows.Close()

	// Matching happens in-process on catalog names, so the pattern
	// needs no escaping at all.
	needle := strings.ToLower(input.Pattern)
	result := &SearchResult{Pattern: input.Pattern, Matches: []SearchMatch{}}
	seenTables := make(map[string]bool)
	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return nil, classifyDBError(err, "search_tables: scan")
		}
		if (searchType == SearchTables || searchType == SearchBoth) && !seenTables[tableName] {
			seenTables[tableName] = true
			if hit, ok := matchedSubstring(tableName, needle); ok {
				result.Matches = append(result.Matches, SearchMatch{
					Table:     tableName,
					MatchKind: "table-name",
					Matched:   hit,
				})
			}
		}
		if searchType == SearchColumns || searchType == SearchBoth {
			if hit, ok := matchedSubstring(columnName, needle); ok {
				result.Matches = append(result.Matches, SearchMatch{
					Table:     tableName,
					Column:    columnName,
					MatchKind: "column-name",
					Matched:   hit,
				})
			}
		}
	}
	if err := rows.Err(); err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "search_tables")
	}

	g.logger.Info().
		Str("pattern", input.Pattern).
		Str("search_type", string(searchType)).
		Dur("duration", time.Since(startTime)).
		Int("matches", len(result.Matches)).
		Msg("search_tables")

	return result, nil
}

// matchedSubstring returns the slice of name that matched the lowered
// needle, in the name's original case.
func matchedSubstring(name, needle string) (string, bool) {
	idx := strings.Index(strings.ToLower(name), needle)
	if idx < 0 {
		return "", false
	}
	end := idx + len(needle)
	if end > len(name) {
		end = len(name)
	}
	return name[idx:end], true
}
