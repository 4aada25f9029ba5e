package tracking

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fraud-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS experiments (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	experiment_id TEXT NOT NULL REFERENCES experiments(id),
	name          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	params        TEXT NOT NULL DEFAULT '{}',
	tags          TEXT NOT NULL DEFAULT '{}',
	metrics       TEXT NOT NULL DEFAULT '{}',
	artifact_uri  TEXT NOT NULL DEFAULT '',
	started_at    DATETIME NOT NULL,
	ended_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_experiment_status ON runs(experiment_id, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) EnsureExperiment(ctx context.Context, name string) (*model.Experiment, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, name, created_at) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		uuid.New().String(), name, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: ensure experiment %s", name)
	}
	return s.GetExperimentByName(ctx, name)
}

func (s *SQLiteStore) GetExperimentByName(ctx context.Context, name string) (*model.Experiment, error) {
	var e model.Experiment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM experiments WHERE name = ?`, name,
	).Scan(&e.ID, &e.Name, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrExperimentNotFound, "sqlite: experiment %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get experiment %s", name)
	}
	return &e, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, experimentID, name string) (*model.Run, error) {
	r := &model.Run{
		ID:           uuid.New().String(),
		ExperimentID: experimentID,
		Name:         name,
		Status:       model.RunStatusRunning,
		Params:       map[string]string{},
		Tags:         map[string]string{},
		Metrics:      map[string]float64{},
		StartedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, experiment_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.ExperimentID, r.Name, string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return r, nil
}

func (s *SQLiteStore) SetTags(ctx context.Context, runID string, tags map[string]string) error {
	return s.patch(ctx, runID, "tags", tags)
}

func (s *SQLiteStore) LogParams(ctx context.Context, runID string, params map[string]string) error {
	return s.patch(ctx, runID, "params", params)
}

func (s *SQLiteStore) LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error {
	doc, err := marshalMap(metrics)
	if err != nil {
		return err
	}
	return s.update(ctx, runID, `UPDATE runs SET metrics = json_patch(metrics, ?) WHERE id = ? AND status = 'running'`, doc)
}

// patch merges a string map into one of the run's JSON columns.
func (s *SQLiteStore) patch(ctx context.Context, runID, column string, m map[string]string) error {
	doc, err := marshalMap(m)
	if err != nil {
		return err
	}
	// column is one of the fixed names above.
	return s.update(ctx, runID,
		`UPDATE runs SET `+column+` = json_patch(`+column+`, ?) WHERE id = ? AND status = 'running'`, doc)
}

func (s *SQLiteStore) SetArtifactURI(ctx context.Context, runID, uri string) error {
	return s.update(ctx, runID, `UPDATE runs SET artifact_uri = ? WHERE id = ? AND status = 'running'`, uri)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus) error {
	if status == model.RunStatusRunning {
		return eris.New("sqlite: finish run: status must be terminal")
	}
	return s.update(ctx, runID,
		`UPDATE runs SET status = ?, ended_at = ? WHERE id = ? AND status = 'running'`,
		string(status), time.Now().UTC())
}

// update runs a mutation whose last argument is the run id and maps a zero row
// count to ErrRunNotFound or ErrRunNotActive.
func (s *SQLiteStore) update(ctx context.Context, runID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append(args, runID)...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	return eris.Wrapf(ErrRunNotActive, "sqlite: update run %s", runID)
}

const sqliteRunColumns = `id, experiment_id, name, status, params, tags, metrics, artifact_uri, started_at, ended_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "sqlite: run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) SearchRuns(ctx context.Context, experimentID string, filter SearchFilter) ([]model.Run, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE experiment_id = ?`
	args := []any{experimentID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.OrderByMetric != "" {
		// NULLs sort last under DESC in SQLite.
		query += ` ORDER BY json_extract(metrics, ?) DESC, started_at ASC, rowid ASC`
		args = append(args, "$."+filter.OrderByMetric)
	} else {
		query += ` ORDER BY started_at DESC, rowid DESC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: search runs")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status, params, tags, metrics string
	var ended sql.NullTime

	err := row.Scan(&r.ID, &r.ExperimentID, &r.Name, &status, &params, &tags, &metrics,
		&r.ArtifactURI, &r.StartedAt, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Status = model.RunStatus(status)
	if ended.Valid {
		t := ended.Time
		r.EndedAt = &t
	}
	if err := decodeRunMaps(&r, []byte(params), []byte(tags), []byte(metrics)); err != nil {
		return nil, err
	}
	return &r, nil
}
