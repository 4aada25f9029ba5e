package warehouse

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/db"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// PostgresWarehouse implements Warehouse on a pgx pool.
type PostgresWarehouse struct {
	pool   db.Pool
	tables Tables
	d      dialect
}

// NewPostgres wraps an open pool.
func NewPostgres(pool db.Pool, tables Tables) *PostgresWarehouse {
	return &PostgresWarehouse{pool: pool, tables: tables, d: postgresDialect}
}

func (w *PostgresWarehouse) Ping(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, "SELECT 1"); err != nil {
		return model.NewError(model.KindConnection, "warehouse: ping", err)
	}
	return nil
}

func (w *PostgresWarehouse) Close() error {
	w.pool.Close()
	return nil
}

func (w *PostgresWarehouse) LoadRaw(ctx context.Context, records <-chan model.RawRecord) (int64, error) {
	start := time.Now()
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, model.NewError(model.KindConnection, "warehouse: load raw", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// CASCADE drops the dependent view along with the table.
	for _, stmt := range []string{w.d.dropRaw(w.tables), w.d.createRaw(w.tables)} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, eris.Wrapf(err, "warehouse: load raw: %s", stmt)
		}
	}

	n, err := db.CopyFromChan(ctx, tx, w.tables.Raw, model.RawColumns(), records, rawValues)
	if err != nil {
		return 0, eris.Wrap(err, "warehouse: load raw")
	}

	if _, err := tx.Exec(ctx, w.d.createView(w.tables)); err != nil {
		return 0, viewSchemaError("warehouse: load raw", w.tables, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "warehouse: load raw: commit")
	}

	zap.L().Info("warehouse: raw table loaded",
		zap.String("table", w.tables.Raw),
		zap.Int64("rows", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return n, nil
}

func (w *PostgresWarehouse) RebuildFeatureView(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return model.NewError(model.KindConnection, "warehouse: rebuild view", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, w.d.dropView(w.tables)); err != nil {
		return viewSchemaError("warehouse: rebuild view", w.tables, err)
	}
	if _, err := tx.Exec(ctx, w.d.createView(w.tables)); err != nil {
		return viewSchemaError("warehouse: rebuild view", w.tables, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "warehouse: rebuild view: commit")
	}

	zap.L().Info("warehouse: feature view rebuilt", zap.String("view", w.tables.View))
	return nil
}

func (w *PostgresWarehouse) ReadFeatures(ctx context.Context) ([]model.FeatureRecord, error) {
	rows, err := w.pool.Query(ctx, selectFeatures(w.tables))
	if err != nil {
		return nil, w.classifyReadErr(err)
	}
	defer rows.Close()

	var out []model.FeatureRecord
	for rows.Next() {
		var r model.FeatureRecord
		if err := rows.Scan(scanTargets(&r)...); err != nil {
			return nil, model.NewError(model.KindSchema, "warehouse: read features", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, w.classifyReadErr(err)
	}
	return out, nil
}

func (w *PostgresWarehouse) CountByClass(ctx context.Context) (map[int]int64, error) {
	rows, err := w.pool.Query(ctx, countByClass(w.tables))
	if err != nil {
		return nil, w.classifyReadErr(err)
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var class int
		var n int64
		if err := rows.Scan(&class, &n); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan class count")
		}
		counts[class] = n
	}
	if err := rows.Err(); err != nil {
		return nil, w.classifyReadErr(err)
	}
	return counts, nil
}

func (w *PostgresWarehouse) classifyReadErr(err error) error {
	if db.IsUndefinedObject(err) {
		return viewSchemaError("warehouse: read features", w.tables, err)
	}
	return model.NewError(model.KindConnection, "warehouse: read features", err)
}
