package tracking

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fraud-pipeline/internal/db"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore on an open pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tracking_experiments (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tracking_runs (
	id            TEXT PRIMARY KEY,
	experiment_id TEXT NOT NULL REFERENCES tracking_experiments(id),
	name          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	params        JSONB NOT NULL DEFAULT '{}',
	tags          JSONB NOT NULL DEFAULT '{}',
	metrics       JSONB NOT NULL DEFAULT '{}',
	artifact_uri  TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_tracking_runs_experiment_status ON tracking_runs(experiment_id, status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate tracking")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) EnsureExperiment(ctx context.Context, name string) (*model.Experiment, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tracking_experiments (id, name, created_at) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`,
		uuid.New().String(), name, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: ensure experiment %s", name)
	}
	return s.GetExperimentByName(ctx, name)
}

func (s *PostgresStore) GetExperimentByName(ctx context.Context, name string) (*model.Experiment, error) {
	var e model.Experiment
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM tracking_experiments WHERE name = $1`, name,
	).Scan(&e.ID, &e.Name, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrExperimentNotFound, "postgres: experiment %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get experiment %s", name)
	}
	return &e, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, experimentID, name string) (*model.Run, error) {
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tracking_runs (id, experiment_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.ExperimentID, r.Name, string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return r, nil
}

func (s *PostgresStore) SetTags(ctx context.Context, runID string, tags map[string]string) error {
	doc, err := marshalMap(tags)
	if err != nil {
		return err
	}
	return s.update(ctx, runID, `UPDATE tracking_runs SET tags = tags || $1::jsonb WHERE id = $2 AND status = 'running'`, doc)
}

func (s *PostgresStore) LogParams(ctx context.Context, runID string, params map[string]string) error {
	doc, err := marshalMap(params)
	if err != nil {
		return err
	}
	return s.update(ctx, runID, `UPDATE tracking_runs SET params = params || $1::jsonb WHERE id = $2 AND status = 'running'`, doc)
}

func (s *PostgresStore) LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error {
	doc, err := marshalMap(metrics)
	if err != nil {
		return err
	}
	return s.update(ctx, runID, `UPDATE tracking_runs SET metrics = metrics || $1::jsonb WHERE id = $2 AND status = 'running'`, doc)
}

func (s *PostgresStore) SetArtifactURI(ctx context.Context, runID, uri string) error {
	return s.update(ctx, runID, `UPDATE tracking_runs SET artifact_uri = $1 WHERE id = $2 AND status = 'running'`, uri)
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus) error {
	if status == model.RunStatusRunning {
		return eris.New("postgres: finish run: status must be terminal")
	}
	return s.update(ctx, runID,
		`UPDATE tracking_runs SET status = $1, ended_at = $2 WHERE id = $3 AND status = 'running'`,
		string(status), time.Now().UTC())
}

// update runs a mutation whose last placeholder is the run id.
func (s *PostgresStore) update(ctx context.Context, runID, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, append(args, runID)...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", runID)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	return eris.Wrapf(ErrRunNotActive, "postgres: update run %s", runID)
}

const postgresRunColumns = `id, experiment_id, name, status, params, tags, metrics, artifact_uri, started_at, ended_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresRunColumns+` FROM tracking_runs WHERE id = $1`, runID)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "postgres: run %s", runID)
	}
	return r, err
}

func (s *PostgresStore) SearchRuns(ctx context.Context, experimentID string, filter SearchFilter) ([]model.Run, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	query := `SELECT ` + postgresRunColumns + ` FROM tracking_runs WHERE experiment_id = $1`
	args := []any{experimentID}
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		query += ` AND status = ` + next(string(filter.Status))
	}
	if filter.OrderByMetric != "" {
		query += ` ORDER BY (metrics->>` + next(filter.OrderByMetric) + `)::double precision DESC NULLS LAST, started_at ASC, id ASC`
	} else {
		query += ` ORDER BY started_at DESC, id DESC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ` + next(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: search runs")
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	var params, tags, metrics []byte

	err := row.Scan(&r.ID, &r.ExperimentID, &r.Name, &status, &params, &tags, &metrics,
		&r.ArtifactURI, &r.StartedAt, &r.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	r.Status = model.RunStatus(status)
	if err := decodeRunMaps(&r, params, tags, metrics); err != nil {
		return nil, err
	}
	return &r, nil
}
