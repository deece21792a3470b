// Package sql implements dialect.Driver on top of database/sql.
//
// The package is deliberately small: a Driver wraps a *sql.DB, Tx wraps a
// *sql.Tx, and both execute raw statements. Callers write statements with
// '?' placeholders and pass them through Rebind for the target dialect:
//
//	drv, err := sql.Open(dialect.Postgres, dsn)
//	if err != nil {
//	    return err
//	}
//	q := sql.Rebind(drv.Dialect(), "DELETE FROM journal WHERE batch_id = ?")
//	err = drv.Exec(ctx, q, []any{id}, nil)
//
// # Instrumentation
//
// Debug logs every statement and transaction boundary through a
// *slog.Logger. WithStats counts statements and reports slow ones:
//
//	drv := sql.WithStats(sql.Debug(base, logger), sql.SlowThreshold(50*time.Millisecond))
//	...
//	fmt.Println(drv.Snapshot())
package sql
