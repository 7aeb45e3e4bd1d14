// Package pool owns the gateway's bounded set of database connections.
// It wraps pgxpool with an explicit acquire/release contract, a bounded
// acquire wait, and health tracking with bounded reconnect attempts.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrPoolExhausted is returned by Acquire when no idle connection became
// available within the bounded wait.
var ErrPoolExhausted = errors.New("pool: no idle connection available within acquire timeout")

// ErrUnavailable is returned when the underlying database is unreachable.
var ErrUnavailable = errors.New("pool: database unreachable")

// Config holds pool settings. Size is fixed at construction; there is no
// dynamic resizing.
type Config struct {
	MaxConns          int
	MinConns          int
	AcquireTimeout    time.Duration // bounded wait for an idle connection
	ProbeTimeout      time.Duration // per-connection liveness probe budget
	ReconnectAttempts int           // bounded replacement attempts per health check
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
}

// Report is the aggregate outcome of a health check. Healthy counts
// connections that passed their probe, including fresh replacements for
// destroyed ones. Dead counts connections that failed and could not be
// replaced within the bounded attempts, plus any refused acquires when
// the database itself is unreachable. Degraded counts connections left
// in a suspect state awaiting a successful probe.
type Report struct {
	Healthy   int       `json:"healthy"`
	Degraded  int       `json:"degraded"`
	Dead      int       `json:"dead"`
	Status    string    `json:"status"` // "healthy", "degraded", "dead"
	CheckedAt time.Time `json:"checked_at"`
}

// Manager owns the pool. The semaphore bounds in-flight borrowers so a
// borrowed connection is never shared between two operations; the pgx
// pool below it never lends one connection twice concurrently either,
// the semaphore exists to make the acquire wait bounded and observable.
type Manager struct {
	pool   *pgxpool.Pool
	sem    chan struct{}
	config Config
	logger zerolog.Logger

	mu        sync.Mutex
	degraded  bool
	lastCheck time.Time
}

// New creates a Manager and establishes the underlying pool. Panics on
// invalid config (construction-time programming error), returns an error
// for runtime failures such as an unparseable connection string.
func New(ctx context.Context, connString string, config Config, logger zerolog.Logger) (*Manager, error) {
	if config.MaxConns <= 0 {
		panic("pool: MaxConns must be > 0")
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 10 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 3 * time.Second
	}
	if config.ReconnectAttempts <= 0 {
		config.ReconnectAttempts = 3
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("pool: failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = int32(config.MaxConns)
	poolConfig.MinConns = int32(config.MinConns)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	m := &Manager{
		sem:    make(chan struct{}, config.MaxConns),
		config: config,
		logger: logger,
	}

	// While the pool is marked degraded, probe each connection before
	// handing it out instead of trusting it. Returning false destroys
	// the connection and the pool establishes a fresh one.
	poolConfig.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		if !m.isDegraded() {
			return true
		}
		probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
		defer cancel()
		if err := conn.Ping(probeCtx); err != nil {
			m.logger.Warn().Err(err).Msg("pre-acquire probe failed, discarding connection")
			return false
		}
		return true
	}

	p, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("pool: failed to create connection pool: %w", err)
	}
	m.pool = p
	return m, nil
}

// Conn is a borrowed connection. It is exclusively owned by the borrower
// until Release; Release is idempotent.
type Conn struct {
	*pgxpool.Conn
	m        *Manager
	released bool
}

// Acquire returns a healthy connection or fails with ErrPoolExhausted
// (no slot within the bounded wait) or ErrUnavailable (database
// unreachable). The context still cancels the wait early.
func (m *Manager) Acquire(ctx context.Context) (*Conn, error) {
	timer := time.NewTimer(m.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case m.sem <- struct{}{}:
	case <-timer.C:
		return nil, fmt.Errorf("%w: all %d slots in use for %s", ErrPoolExhausted, cap(m.sem), m.config.AcquireTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled while waiting for connection slot: %w", ctx.Err())
	}

	acquireCtx, cancel := context.WithTimeout(ctx, m.config.AcquireTimeout)
	defer cancel()

	conn, err := m.pool.Acquire(acquireCtx)
	if err != nil {
		<-m.sem
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrPoolExhausted, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("context cancelled while acquiring connection: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Conn{Conn: conn, m: m}, nil
}

// Release returns the connection to the idle set. If the pool is marked
// degraded, the connection is probed opportunistically and destroyed on
// failure rather than returned for reuse.
func (c *Conn) Release() {
	if c.released {
		return
	}
	c.released = true

	if c.m.isDegraded() {
		probeCtx, cancel := context.WithTimeout(context.Background(), c.m.config.ProbeTimeout)
		if err := c.Conn.Conn().Ping(probeCtx); err != nil {
			c.m.logger.Warn().Err(err).Msg("post-release probe failed, destroying connection")
			_ = c.Conn.Conn().Close(probeCtx)
		}
		cancel()
	}

	c.Conn.Release()
	<-c.m.sem
}

// MarkDegraded flags the pool so connections are probed before reuse.
// Called after a request timeout: the connection that timed out cannot
// be trusted until a probe succeeds.
func (m *Manager) MarkDegraded() {
	m.mu.Lock()
	m.degraded = true
	m.mu.Unlock()
}

func (m *Manager) isDegraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

func (m *Manager) setHealthState(degraded bool, at time.Time) {
	m.mu.Lock()
	m.degraded = degraded
	m.lastCheck = at
	m.mu.Unlock()
}

// CheckHealth runs a minimal round-trip against every pooled connection
// and returns the aggregate status. Dead connections are destroyed and
// replaced with fresh ones up to the bounded reconnect attempt count;
// if replacement attempts are exhausted the pool reports degraded
// rather than blocking.
func (m *Manager) CheckHealth(ctx context.Context) Report {
	now := time.Now()
	report := Report{CheckedAt: now}

	conns := make([]*Conn, 0, m.config.MaxConns)
	defer func() {
		for _, c := range conns {
			c.Release()
		}
	}()

	// Pull every slot we can get without blocking past the probe budget.
	// A deadline on acquire means the slots are busy with live borrowers;
	// any other failure means the database refused a connection.
	dead := 0
acquireLoop:
	for i := 0; i < m.config.MaxConns; i++ {
		acquireCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
		conn, err := m.pool.Acquire(acquireCtx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				dead++
			}
			break
		}
		select {
		case m.sem <- struct{}{}:
		default:
			conn.Release()
			break acquireLoop
		}
		conns = append(conns, &Conn{Conn: conn, m: m})
	}

	for _, c := range conns {
		probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
		err := c.Conn.Conn().Ping(probeCtx)
		cancel()
		if err != nil {
			dead++
			closeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
			_ = c.Conn.Conn().Close(closeCtx)
			cancel()
		} else {
			report.Healthy++
		}
	}

	// Replace destroyed connections: each successful acquire establishes
	// a fresh connection since the dead ones were closed above.
	replaced := 0
	for attempt := 0; attempt < m.config.ReconnectAttempts && replaced < dead; attempt++ {
		acquireCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
		conn, err := m.pool.Acquire(acquireCtx)
		cancel()
		if err != nil {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
		err = conn.Ping(probeCtx)
		cancel()
		conn.Release()
		if err == nil {
			replaced++
		}
	}

	// A replacement that just passed its ping counts as healthy; only the
	// connections that could not be re-established remain dead.
	report.Healthy += replaced
	report.Dead = dead - replaced
	switch {
	case report.Healthy == 0 && report.Dead > 0:
		report.Status = "dead"
	case report.Dead > 0:
		report.Status = "degraded"
	default:
		report.Status = "healthy"
	}

	m.setHealthState(report.Status != "healthy", now)

	m.logger.Info().
		Int("healthy", report.Healthy).
		Int("degraded", report.Degraded).
		Int("dead", report.Dead).
		Str("status", report.Status).
		Msg("pool health check")

	return report
}

// Ping verifies the database is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Size returns the fixed pool size.
func (m *Manager) Size() int {
	return m.config.MaxConns
}

// InFlight returns the number of currently borrowed connections.
func (m *Manager) InFlight() int {
	return len(m.sem)
}

// LastCheck returns the time of the most recent health check.
func (m *Manager) LastCheck() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheck
}

// Close closes the pool and all idle connections.
func (m *Manager) Close() {
	m.pool.Close()
}
