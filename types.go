package toolgate

import (
	"time"

	"github.com/toolgate-dev/toolgate/internal/plan"
	"github.com/toolgate-dev/toolgate/internal/pool"
)

// ColumnMeta describes one result column.
type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type"` // declared database type name
}

// QueryResult is the bounded output of execute_query. Rows never exceed
// the effective limit; Truncated reports whether the limit cut off more
// data.
type QueryResult struct {
	Columns   []ColumnMeta             `json:"columns"`
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"row_count"`
	Truncated bool                     `json:"truncated"`
}

// ColumnDescriptor describes one column of a table in schema output.
type ColumnDescriptor struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	KeyRole  string `json:"key_role,omitempty"` // "primary" or empty
}

// IndexDescriptor describes one index in table info output.
type IndexDescriptor struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	IsUnique   bool   `json:"is_unique"`
	IsPrimary  bool   `json:"is_primary"`
}

// TableDescriptor is one table in SchemaInfo.
type TableDescriptor struct {
	Name    string             `json:"name"`
	Columns []ColumnDescriptor `json:"columns"`
	Indexes []IndexDescriptor  `json:"indexes,omitempty"`
}

// SchemaInfo is the output of get_schema.
type SchemaInfo struct {
	Database   string            `json:"database"`
	TableCount int               `json:"table_count"`
	Tables     []TableDescriptor `json:"tables"`
}

// TableInfo is the output of get_table_info: the descriptor plus a
// bounded sample of rows for human inspection.
type TableInfo struct {
	TableDescriptor
	RowCount   int64                    `json:"row_count"`
	SampleRows []map[string]interface{} `json:"sample_rows"`
}

// TableStats is one table's size and activity metrics.
type TableStats struct {
	Table              string     `json:"table"`
	RowCount           int64      `json:"row_count"`
	RowCountIsEstimate bool       `json:"row_count_is_estimate"`
	TotalBytes         int64      `json:"total_bytes"`
	IndexCount         int        `json:"index_count"`
	LastModified       *time.Time `json:"last_modified,omitempty"`
}

// SearchMatch is one hit from search_tables.
type SearchMatch struct {
	Table     string `json:"table"`
	Column    string `json:"column,omitempty"`
	MatchKind string `json:"match_kind"` // "table-name" or "column-name"
	Matched   string `json:"matched"`    // the substring that matched
}

// SearchResult is the ordered output of search_tables.
type SearchResult struct {
	Pattern string        `json:"pattern"`
	Matches []SearchMatch `json:"matches"`
}

// BackupSpec is the output of backup_table.
type BackupSpec struct {
	Source      string    `json:"source"`
	Target      string    `json:"target"`
	RowsCopied  int64     `json:"rows_copied"`
	CompletedAt time.Time `json:"completed_at"`
}

// ConflictPolicy governs insert behavior when a row collides with
// existing data on the conflict key.
type ConflictPolicy string

const (
	ConflictFail   ConflictPolicy = "fail"
	ConflictIgnore ConflictPolicy = "ignore"
	ConflictUpdate ConflictPolicy = "update"
)

// InsertRequest is the input of insert_data.
type InsertRequest struct {
	Table           string
	Rows            []map[string]interface{}
	Policy          ConflictPolicy
	ConflictColumns []string // conflict key; resolved from the primary key when empty
}

// InsertResult reports insert outcome counts per conflict policy.
type InsertResult struct {
	Table    string `json:"table"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped,omitempty"`
	Updated  int    `json:"updated,omitempty"`
}

// PlanNode is a normalized execution plan step.
type PlanNode = plan.Node

// ExplainResult is the output of explain_query.
type ExplainResult struct {
	Query string    `json:"query"`
	Plan  *PlanNode `json:"plan"`
}

// HealthSummary is the output of check_connection.
type HealthSummary struct {
	Connected     bool        `json:"connected"`
	ServerVersion string      `json:"server_version,omitempty"`
	Database      string      `json:"database,omitempty"`
	Pool          pool.Report `json:"pool"`
}
