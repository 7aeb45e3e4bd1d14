package toolgate

import (
	"context"
	"fmt"
	"time"

	"github.com/toolgate-dev/toolgate/internal/policy"
	"github.com/toolgate-dev/toolgate/internal/pool"
)

// BackupInput is the input for backup_table.
type BackupInput struct {
	Table      string
	BackupName string // optional explicit target; derived from the date when empty
}

// nowFunc is swapped in tests to pin the derived backup name.
var nowFunc = time.Now

// Exact catalog match, no identifier case folding: the name compares
// against relname the same way the schema and insert paths compare it.
const tableExistsSQL = `
SELECT EXISTS (
    SELECT 1
    FROM pg_catalog.pg_class c
    JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
    WHERE n.nspname = 'public' AND c.relname = $1
)`

// deriveBackupNames returns the candidate target names for a source
// table, in the order they should be tried: the dated name first, then
// numbered variants up to attempts.
func deriveBackupNames(source string, attempts int) []string {
	base := fmt.Sprintf("%s_backup_%s", source, nowFunc().Format("20060102"))
	names := make([]string, 0, attempts)
	names = append(names, base)
	for i := 2; len(names) < attempts; i++ {
		names = append(names, fmt.Sprintf("%s_%d", base, i))
	}
	return names
}

// BackupTable copies a table's structure and contents to a new table in
// the same database. The copy runs in one transaction: either the full
// backup exists afterwards or nothing does.
func (g *Gateway) BackupTable(ctx context.Context, input BackupInput) (*BackupSpec, error) {
	startTime := time.Now()

	if _, err := g.evaluate(policy.ToolBackupTable, map[string]interface{}{
		"table":       input.Table,
		"backup_name": input.BackupName,
	}); err != nil {
		return nil, err
	}

	timeout := time.Duration(g.config.Query.DefaultTimeoutSeconds) * time.Second
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := g.pool.Acquire(queryCtx)
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "backup_table: acquire connection")
	}
	defer conn.Release()

	var sourceExists bool
	if err := conn.QueryRow(queryCtx, tableExistsSQL, input.Table).Scan(&sourceExists); err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "backup_table: resolve source")
	}
	if !sourceExists {
		return nil, newError(KindNotFound, "table %q not found", input.Table)
	}

	target, err := g.resolveBackupTarget(queryCtx, conn, input)
	if err != nil {
		return nil, err
	}

	tx, err := conn.Begin(queryCtx)
	if err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "backup_table: begin transaction")
	}
	// Rollback on the parent so cleanup still runs after a timeout.
	defer tx.Rollback(ctx)

	sourceName := policy.QuoteIdentifier(input.Table)
	targetName := policy.QuoteIdentifier(target)

	if _, err := tx.Exec(queryCtx, fmt.Sprintf("CREATE TABLE %s (LIKE %s INCLUDING ALL)", targetName, sourceName)); err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "backup_table: create target")
	}
	tag, err := tx.Exec(queryCtx, fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", targetName, sourceName))
	if err != nil {
		g.noteTimeout(err)
		if KindOf(err) == KindTimeout {
			return nil, classifyDBError(err, "backup_table: copy rows")
		}
		return nil, wrapError(KindCopyFailed, err, "backup_table: copy rows into %q", target)
	}
	if err := tx.Commit(queryCtx); err != nil {
		g.noteTimeout(err)
		return nil, classifyDBError(err, "backup_table: commit")
	}

	spec := &BackupSpec{
		Source:      input.Table,
		Target:      target,
		RowsCopied:  tag.RowsAffected(),
		CompletedAt: time.Now().UTC(),
	}

	g.logger.Info().
		Str("source", spec.Source).
		Str("target", spec.Target).
		Int64("rows_copied", spec.RowsCopied).
		Dur("duration", time.Since(startTime)).
		Msg("backup_table")

	return spec, nil
}

// resolveBackupTarget picks the target table name. An explicit name
// must be free; a derived name walks dated candidates until one is.
func (g *Gateway) resolveBackupTarget(ctx context.Context, conn *pool.Conn, input BackupInput) (string, error) {
	exists := func(name string) (bool, error) {
		var taken bool
		if err := conn.QueryRow(ctx, tableExistsSQL, name).Scan(&taken); err != nil {
			g.noteTimeout(err)
			return false, classifyDBError(err, "backup_table: check target")
		}
		return taken, nil
	}

	if input.BackupName != "" {
		taken, err := exists(input.BackupName)
		if err != nil {
			return "", err
		}
		if taken {
			return "", newError(KindTargetNameCollision,
				"backup target %q already exists", input.BackupName)
		}
		return input.BackupName, nil
	}

	candidates := deriveBackupNames(input.Table, g.config.Backup.NameAttempts)
	for _, name := range candidates {
		if err := policy.ValidateIdentifier(name); err != nil {
			return "", newError(KindValidationRejected, "derived backup name %q: %v", name, err)
		}
		taken, err := exists(name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
	}
	return "", newError(KindTargetNameCollision,
		"no free backup name for %q after %d attempts", input.Table, len(candidates))
}
