// Package warehouse owns the relational side of the pipeline: the raw
// transactions table, the feature view derived from it, and the single read of
// feature rows used for training.
package warehouse

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fraud-pipeline/internal/config"
	"github.com/sells-group/fraud-pipeline/internal/db"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// Warehouse is the feature query surface used by ETL and training.
//
// RebuildFeatureView and LoadRaw replace shared objects and require a single
// writer; callers serialise them (the orchestrator runs one pipeline at a time).
type Warehouse interface {
	Ping(ctx context.Context) error
	// LoadRaw replaces the raw table with the given records and recreates the
	// feature view over it. Returns the number of rows loaded.
	LoadRaw(ctx context.Context, records <-chan model.RawRecord) (int64, error)
	// RebuildFeatureView drops the view if present and recreates it in one transaction.
	RebuildFeatureView(ctx context.Context) error
	// ReadFeatures returns every row of the feature view ordered by time.
	ReadFeatures(ctx context.Context) ([]model.FeatureRecord, error)
	// CountByClass returns the number of feature rows per class label.
	CountByClass(ctx context.Context) (map[int]int64, error)
	Close() error
}

// Tables names the raw table and the feature view.
type Tables struct {
	Raw  string
	View string
}

// DefaultTables returns the table names used when none are configured.
func DefaultTables() Tables {
	return Tables{Raw: "raw_transactions", View: "feature_transactions"}
}

// Open connects to the warehouse backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, tables Tables) (Warehouse, error) {
	if tables.Raw == "" || tables.View == "" {
		tables = DefaultTables()
	}
	switch cfg.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DSN(), cfg.MaxConns)
		if err != nil {
			return nil, model.NewError(model.KindConnection, "warehouse: connect", err)
		}
		return NewPostgres(pool, tables), nil
	case "sqlite":
		w, err := NewSQLite(cfg.SQLitePath, tables)
		if err != nil {
			return nil, model.NewError(model.KindConnection, "warehouse: connect", err)
		}
		return w, nil
	default:
		return nil, eris.Errorf("warehouse: unsupported driver %q", cfg.Driver)
	}
}

// dialect captures the SQL differences between backends.
type dialect struct {
	realType string
	intType  string
	cascade  bool
}

var (
	postgresDialect = dialect{realType: "DOUBLE PRECISION", intType: "INTEGER", cascade: true}
	sqliteDialect   = dialect{realType: "REAL", intType: "INTEGER", cascade: false}
)

// featureColumns is the projection of the feature view in storage order.
func featureColumns() []string {
	return model.RawColumns()
}

func (d dialect) dropView(t Tables) string {
	stmt := "DROP VIEW IF EXISTS " + db.QuoteIdent(t.View)
	if d.cascade {
		stmt += " CASCADE"
	}
	return stmt
}

func (d dialect) dropRaw(t Tables) string {
	stmt := "DROP TABLE IF EXISTS " + db.QuoteIdent(t.Raw)
	if d.cascade {
		stmt += " CASCADE"
	}
	return stmt
}

// createRaw builds the raw table DDL. Anonymized features are required; time,
// amount and class may be null and are filtered by the view.
func (d dialect) createRaw(t Tables) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE " + db.QuoteIdent(t.Raw) + " (\n")
	b.WriteString("\t" + db.QuoteColumns([]string{model.ColumnTime}) + " " + d.realType + ",\n")
	for _, c := range model.AnonymizedColumns() {
		b.WriteString("\t" + db.QuoteColumns([]string{c}) + " " + d.realType + " NOT NULL,\n")
	}
	b.WriteString("\t" + db.QuoteColumns([]string{model.ColumnAmount}) + " " + d.realType + ",\n")
	b.WriteString("\t" + db.QuoteColumns([]string{model.ColumnClass}) + " " + d.intType + "\n)")
	return b.String()
}

// createView builds the feature view: non-null time, amount and class, ordered by time.
func (d dialect) createView(t Tables) string {
	return "CREATE VIEW " + db.QuoteIdent(t.View) + " AS SELECT " +
		db.QuoteColumns(featureColumns()) +
		" FROM " + db.QuoteIdent(t.Raw) +
		` WHERE "time" IS NOT NULL AND "amount" IS NOT NULL AND "class" IS NOT NULL` +
		` ORDER BY "time"`
}

func selectFeatures(t Tables) string {
	return "SELECT " + db.QuoteColumns(featureColumns()) + " FROM " + db.QuoteIdent(t.View)
}

func countByClass(t Tables) string {
	return `SELECT "class", COUNT(*) FROM ` + db.QuoteIdent(t.View) + ` GROUP BY "class" ORDER BY "class"`
}

// scanTargets returns pointers into r in featureColumns order.
func scanTargets(r *model.FeatureRecord) []any {
	dest := make([]any, 0, model.NumAnonymized+3)
	dest = append(dest, &r.Time)
	for i := range r.V {
		dest = append(dest, &r.V[i])
	}
	return append(dest, &r.Amount, &r.Class)
}

func rawValues(r model.RawRecord) []any {
	return r.Values()
}

func viewSchemaError(op string, t Tables, err error) *model.Error {
	return model.NewError(model.KindSchema, op, eris.Wrapf(err, "feature view %s over %s", t.View, t.Raw)).
		WithHint("load raw data with `fraud-pipeline load`, then run `fraud-pipeline view rebuild`")
}
