package toolgate

import (
	"context"
	"time"

	"github.com/toolgate-dev/toolgate/internal/policy"
)

// CheckConnection probes every pooled connection and reports aggregate
// health. Unlike the other tools it never fails on an unreachable
// database: the report itself carries that state.
func (g *Gateway) CheckConnection(ctx context.Context) (*HealthSummary, error) {
	startTime := time.Now()

	if _, err := g.evaluate(policy.ToolCheckConnection, nil); err != nil {
		return nil, err
	}

	checkCtx, cancel := g.metadataCtx(ctx)
	defer cancel()

	summary := &HealthSummary{Pool: g.pool.CheckHealth(checkCtx)}
	summary.Connected = summary.Pool.Healthy > 0

	if summary.Connected {
		conn, err := g.pool.Acquire(checkCtx)
		if err == nil {
			err = conn.QueryRow(checkCtx,
				"SELECT current_setting('server_version'), current_database()",
			).Scan(&summary.ServerVersion, &summary.Database)
			conn.Release()
		}
		if err != nil {
			// The probe said healthy but the query failed; report what we
			// have rather than erroring a diagnostic tool.
			summary.Connected = false
			g.logger.Warn().Err(err).Msg("check_connection: version probe failed")
		}
	}

	if g.metrics != nil {
		g.metrics.SetPoolHealth(summary.Pool.Healthy, summary.Pool.Degraded, summary.Pool.Dead)
	}

	g.logger.Info().
		Bool("connected", summary.Connected).
		Str("status", summary.Pool.Status).
		Int("healthy", summary.Pool.Healthy).
		Int("degraded", summary.Pool.Degraded).
		Int("dead", summary.Pool.Dead).
		Dur("duration", time.Since(startTime)).
		Msg("check_connection")

	return summary, nil
}
