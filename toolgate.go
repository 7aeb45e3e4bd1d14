package toolgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/toolgate-dev/toolgate/internal/metrics"
	"github.com/toolgate-dev/toolgate/internal/policy"
	"github.com/toolgate-dev/toolgate/internal/pool"
	"github.com/toolgate-dev/toolgate/internal/redact"
	"github.com/toolgate-dev/toolgate/internal/timeout"
)

// Gateway is the core engine behind the nine database tools. All
// exported methods are safe for concurrent use from multiple
// goroutines; the connection pool is the only shared mutable resource.
type Gateway struct {
	config   Config
	pool     *pool.Manager
	enforcer *policy.Enforcer
	redactor *redact.Redactor
	timeouts *timeout.Manager
	metrics  *metrics.Set
	logger   zerolog.Logger
}

// Option is a functional option for New().
type Option func(*options)

type options struct {
	metrics *metrics.Set
}

// WithMetrics attaches a Prometheus metric set to the gateway.
func WithMetrics(set *metrics.Set) Option {
	return func(o *options) {
		o.metrics = set
	}
}

// New creates a Gateway. connString is the PostgreSQL connection string
// (must include credentials). Panics on invalid config; returns an
// error only for runtime failures such as pool creation.
func New(ctx context.Context, connString string, config Config, logger zerolog.Logger, opts ...Option) (*Gateway, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// --- Config validation (panics on invalid config) ---

	if connString == "" {
		panic("toolgate: connString must be non-empty")
	}
	if config.Pool.MaxConns <= 0 {
		panic("toolgate: pool.max_conns must be > 0")
	}
	if config.Query.DefaultRowLimit < 0 || config.Query.MaxRowLimit < 0 {
		panic("toolgate: query row limits must be >= 0")
	}
	if config.Query.DefaultTimeoutSeconds < 0 || config.Query.MetadataTimeoutSeconds < 0 {
		panic("toolgate: query timeouts must be >= 0")
	}

	// Apply defaults for zero values
	if config.Query.DefaultTimeoutSeconds == 0 {
		config.Query.DefaultTimeoutSeconds = 30
	}
	if config.Query.MetadataTimeoutSeconds == 0 {
		config.Query.MetadataTimeoutSeconds = 10
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = 100000
	}
	if config.Backup.NameAttempts == 0 {
		config.Backup.NameAttempts = 5
	}

	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("toolgate: timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern))
		}
	}

	// --- Connection pool ---

	poolConfig := pool.Config{
		MaxConns:          config.Pool.MaxConns,
		MinConns:          config.Pool.MinConns,
		AcquireTimeout:    time.Duration(config.Pool.AcquireTimeoutSeconds) * time.Second,
		ProbeTimeout:      time.Duration(config.Pool.ProbeTimeoutSeconds) * time.Second,
		ReconnectAttempts: config.Pool.ReconnectAttempts,
	}
	if config.Pool.MaxConnLifetime != "" {
		d, err := time.ParseDuration(config.Pool.MaxConnLifetime)
		if err != nil {
			panic(fmt.Sprintf("toolgate: invalid pool.max_conn_lifetime %q: %v", config.Pool.MaxConnLifetime, err))
		}
		poolConfig.MaxConnLifetime = d
	}
	if config.Pool.MaxConnIdleTime != "" {
		d, err := time.ParseDuration(config.Pool.MaxConnIdleTime)
		if err != nil {
			panic(fmt.Sprintf("toolgate: invalid pool.max_conn_idle_time %q: %v", config.Pool.MaxConnIdleTime, err))
		}
		poolConfig.MaxConnIdleTime = d
	}

	poolMgr, err := pool.New(ctx, connString, poolConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// --- Policy and supporting components ---

	enforcer := policy.NewEnforcer(policy.Config{
		DefaultRowLimit: config.Query.DefaultRowLimit,
		MaxRowLimit:     config.Query.MaxRowLimit,
		MaxBatchSize:    config.Insert.MaxBatchSize,
		MaxSQLLength:    config.Query.MaxSQLLength,
	})

	redactRules := make([]redact.Rule, len(config.Redaction))
	for i, r := range config.Redaction {
		redactRules[i] = redact.Rule{Pattern: r.Pattern, Replacement: r.Replacement}
	}
	redactor, err := redact.New(redactRules)
	if err != nil {
		return nil, err
	}

	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	timeouts, err := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})
	if err != nil {
		return nil, err
	}

	return &Gateway{
		config:   config,
		pool:     poolMgr,
		enforcer: enforcer,
		redactor: redactor,
		timeouts: timeouts,
		metrics:  o.metrics,
		logger:   logger,
	}, nil
}

// Ping verifies the database is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.pool.Ping(ctx); err != nil {
		return classifyDBError(err, "ping")
	}
	return nil
}

// Close closes the connection pool.
func (g *Gateway) Close(ctx context.Context) {
	g.pool.Close()
}

// evaluate runs the request through the safety policy. A rejected
// decision is returned as a ValidationRejected error; execution must
// not proceed.
func (g *Gateway) evaluate(tool policy.Tool, args map[string]interface{}) (policy.Decision, error) {
	decision := g.enforcer.Evaluate(tool, args)
	if !decision.Allow {
		return decision, newError(KindValidationRejected, "%s", decision.Reason)
	}
	return decision, nil
}

// metadataCtx derives the bounded context used for catalog queries.
func (g *Gateway) metadataCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(g.config.Query.MetadataTimeoutSeconds)*time.Second)
}

// noteTimeout marks the pool degraded when err is a timeout so the
// owning connection is probed before reuse rather than trusted.
func (g *Gateway) noteTimeout(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.DeadlineExceeded) || KindOf(err) == KindTimeout {
		g.pool.MarkDegraded()
	}
}
