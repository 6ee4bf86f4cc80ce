package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/indicator-engine/internal/db"
	"github.com/sells-group/indicator-engine/internal/indicator"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_run":   `INSERT INTO runs (id, kind, mode, seed, source, row_count, changed, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"complete_run": `UPDATE runs SET status = $1, error = NULL, updated_at = $2 WHERE id = $3`,
	"fail_run":     `UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
	"get_run":      `SELECT ` + pgRunColumns + ` FROM runs WHERE id = $1`,
	"get_results":  `SELECT area_code, air_quality, house_price, job_accessibility, greenspace_accessibility FROM run_results WHERE run_id = $1 ORDER BY row_index`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	mode       TEXT NOT NULL,
	seed       TEXT,
	source     TEXT NOT NULL DEFAULT '',
	row_count  INTEGER NOT NULL DEFAULT 0,
	changed    INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'running',
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_results (
	run_id                   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	row_index                INTEGER NOT NULL,
	area_code                TEXT NOT NULL,
	air_quality              DOUBLE PRECISION NOT NULL,
	house_price              DOUBLE PRECISION NOT NULL,
	job_accessibility        DOUBLE PRECISION NOT NULL,
	greenspace_accessibility DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, row_index)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, spec RunSpec) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, preparedStatements["insert_run"],
		id, string(spec.Kind), spec.Mode, encodeSeed(spec.Seed), spec.Source, spec.Rows, spec.Changed,
		string(RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &Run{
		ID:        id,
		Kind:      spec.Kind,
		Mode:      spec.Mode,
		Seed:      spec.Seed,
		Source:    spec.Source,
		Rows:      spec.Rows,
		Changed:   spec.Changed,
		Status:    RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CompleteRun marks the run complete and bulk-copies its results in one
// transaction.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, results *indicator.Table) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, preparedStatements["complete_run"],
		string(RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "postgres: %s", runID)
	}

	if _, err := db.CopyFrom(ctx, tx, "run_results", resultColumns, resultRows(runID, results)); err != nil {
		return eris.Wrapf(err, "postgres: store results for run %s", runID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["fail_run"],
		string(RunStatusFailed), failureMessage(cause), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "postgres: %s", runID)
	}
	return nil
}

const pgRunColumns = `id, kind, mode, seed, source, row_count, changed, status, error, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, preparedStatements["get_run"], runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "postgres: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if r.Status != RunStatusComplete {
		return r, nil
	}

	rows, err := s.pool.Query(ctx, preparedStatements["get_results"], runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get results")
	}
	defer rows.Close()

	var ids []string
	var vals []indicator.Row
	for rows.Next() {
		var id string
		var v indicator.Row
		if err := rows.Scan(&id, &v.AirQuality, &v.HousePrice, &v.JobAccessibility, &v.GreenspaceAccessibility); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		ids = append(ids, id)
		vals = append(vals, v)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: results iterate")
	}
	r.Results, err = indicator.NewTable(r.Kind.IndexName(), ids, vals)
	return r, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + pgRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row pgx.Row) (*Run, error) {
	var r Run
	var seed, errMsg *string
	var kind, status string

	if err := row.Scan(&r.ID, &kind, &r.Mode, &seed, &r.Source, &r.Rows, &r.Changed,
		&status, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Kind = RunKind(kind)
	r.Status = RunStatus(status)

	var err error
	if r.Seed, err = decodeSeed(seed); err != nil {
		return nil, err
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	return &r, nil
}
