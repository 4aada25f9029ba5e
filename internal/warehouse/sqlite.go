package warehouse

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fraud-pipeline/internal/db"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

const sqliteBatchSize = 5000

// SQLiteWarehouse implements Warehouse on an embedded SQLite file.
type SQLiteWarehouse struct {
	db     *sql.DB
	tables Tables
	d      dialect
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, tables Tables) (*SQLiteWarehouse, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteWarehouse{db: conn, tables: tables, d: sqliteDialect}, nil
}

func (w *SQLiteWarehouse) Ping(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return model.NewError(model.KindConnection, "warehouse: ping", err)
	}
	return nil
}

func (w *SQLiteWarehouse) Close() error {
	return w.db.Close()
}

func (w *SQLiteWarehouse) LoadRaw(ctx context.Context, records <-chan model.RawRecord) (int64, error) {
	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, model.NewError(model.KindConnection, "warehouse: load raw", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// SQLite has no CASCADE; the view is dropped explicitly first.
	for _, stmt := range []string{w.d.dropView(w.tables), w.d.dropRaw(w.tables), w.d.createRaw(w.tables)} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, eris.Wrapf(err, "warehouse: load raw: %s", stmt)
		}
	}

	cols := model.RawColumns()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO "+db.QuoteIdent(w.tables.Raw)+" ("+db.QuoteColumns(cols)+") VALUES ("+placeholders+")")
	if err != nil {
		return 0, eris.Wrap(err, "warehouse: load raw: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
loop:
	for {
		select {
		case <-ctx.Done():
			return 0, eris.Wrap(ctx.Err(), "warehouse: load raw")
		case rec, ok := <-records:
			if !ok {
				break loop
			}
			if _, err := stmt.ExecContext(ctx, rec.Values()...); err != nil {
				return 0, eris.Wrapf(err, "warehouse: load raw: insert row %d", n+1)
			}
			n++
			if n%sqliteBatchSize == 0 {
				zap.L().Debug("warehouse: rows inserted", zap.Int64("rows", n))
			}
		}
	}

	if _, err := tx.ExecContext(ctx, w.d.createView(w.tables)); err != nil {
		return 0, viewSchemaError("warehouse: load raw", w.tables, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "warehouse: load raw: commit")
	}

	zap.L().Info("warehouse: raw table loaded",
		zap.String("table", w.tables.Raw),
		zap.Int64("rows", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return n, nil
}

func (w *SQLiteWarehouse) RebuildFeatureView(ctx context.Context) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewError(model.KindConnection, "warehouse: rebuild view", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, w.d.dropView(w.tables)); err != nil {
		return viewSchemaError("warehouse: rebuild view", w.tables, err)
	}
	if _, err := tx.ExecContext(ctx, w.d.createView(w.tables)); err != nil {
		return viewSchemaError("warehouse: rebuild view", w.tables, err)
	}
	// SQLite resolves view references lazily, so probe the view inside the
	// transaction to surface a missing raw table now.
	if _, err := tx.ExecContext(ctx, "SELECT 1 FROM "+db.QuoteIdent(w.tables.View)+" LIMIT 0"); err != nil {
		return viewSchemaError("warehouse: rebuild view", w.tables, err)
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "warehouse: rebuild view: commit")
	}

	zap.L().Info("warehouse: feature view rebuilt", zap.String("view", w.tables.View))
	return nil
}

func (w *SQLiteWarehouse) ReadFeatures(ctx context.Context) ([]model.FeatureRecord, error) {
	rows, err := w.db.QueryContext(ctx, selectFeatures(w.tables))
	if err != nil {
		return nil, w.classifyReadErr(err)
	}
	defer rows.Close() //nolint:errcheck

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

func (w *SQLiteWarehouse) CountByClass(ctx context.Context) (map[int]int64, error) {
	rows, err := w.db.QueryContext(ctx, countByClass(w.tables))
	if err != nil {
		return nil, w.classifyReadErr(err)
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[int]int64)
	for rows.Next() {
		var class int
		var n int64
		if err := rows.Scan(&class, &n); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan class count")
		}
		counts[class] = n
	}
	return counts, eris.Wrap(rows.Err(), "warehouse: count by class")
}

func (w *SQLiteWarehouse) classifyReadErr(err error) error {
	if strings.Contains(err.Error(), "no such table") || strings.Contains(err.Error(), "no such column") {
		return viewSchemaError("warehouse: read features", w.tables, err)
	}
	return model.NewError(model.KindConnection, "warehouse: read features", err)
}
