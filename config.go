package toolgate

// Config is the base configuration used by library mode via New(). It
// is resolved once at process start by the caller; the gateway never
// re-reads configuration mid-run.
type Config struct {
	Pool      PoolConfig      `json:"pool"`
	Query     QueryConfig     `json:"query"`
	Insert    InsertConfig    `json:"insert"`
	Backup    BackupConfig    `json:"backup"`
	Redaction []RedactionRule `json:"redaction"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config
	Connection ConnectionConfig `json:"connection"`
	Server     ServerSettings   `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
}

// ConnectionConfig holds database connection parameters used by CLI mode.
type ConnectionConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	DBName  string `json:"dbname"`
	SSLMode string `json:"sslmode"`
}

// PoolConfig holds connection pool settings. Pool size is fixed at
// configuration time; there is no dynamic resizing.
type PoolConfig struct {
	MaxConns              int    `json:"max_conns"`
	MinConns              int    `json:"min_conns"`
	AcquireTimeoutSeconds int    `json:"acquire_timeout_seconds"`
	ProbeTimeoutSeconds   int    `json:"probe_timeout_seconds"`
	ReconnectAttempts     int    `json:"reconnect_attempts"`
	MaxConnLifetime       string `json:"max_conn_lifetime"`
	MaxConnIdleTime       string `json:"max_conn_idle_time"`
}

// QueryConfig holds statement execution settings.
type QueryConfig struct {
	DefaultRowLimit        int           `json:"default_row_limit"`  // applied when the caller gives no limit (default 1000)
	MaxRowLimit            int           `json:"max_row_limit"`      // hard cap even if the caller requests more
	DefaultTimeoutSeconds  int           `json:"default_timeout_seconds"`
	MetadataTimeoutSeconds int           `json:"metadata_timeout_seconds"` // schema/stats/search catalog queries
	MaxSQLLength           int           `json:"max_sql_length"`
	MaxResultLength        int           `json:"max_result_length"` // response shaping bound, runes
	TimeoutRules           []TimeoutRule `json:"timeout_rules"`
}

// InsertConfig holds insert batch settings.
type InsertConfig struct {
	MaxBatchSize int `json:"max_batch_size"`
}

// BackupConfig holds backup naming settings.
type BackupConfig struct {
	NameAttempts int `json:"name_attempts"` // bounded disambiguation attempts
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RedactionRule defines a regex-based result redaction rule.
type RedactionRule struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Description string `json:"description"`
}

// ServerSettings holds HTTP server settings for CLI mode.
type ServerSettings struct {
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
	MetricsEnabled     bool   `json:"metrics_enabled"`
	MetricsPath        string `json:"metrics_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, stderr, or file path
}
