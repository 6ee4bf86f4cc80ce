package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var runColumns = []string{"id", "kind", "mode", "seed", "source", "row_count", "changed", "status", "error", "created_at", "updated_at"}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	seed := uint64(7)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "oa", "bike", pgxmock.AnyArg(), "in.csv", 10, 4, "running", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), RunSpec{Kind: RunKindOA, Mode: "bike", Seed: &seed, Source: "in.csv", Rows: 10, Changed: 4})
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Len(t, run.ID, 36)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE runs SET status = \$1, error = NULL`).
		WithArgs("complete", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"run_results"}, resultColumns).WillReturnResult(2)
	mock.ExpectCommit()

	err := s.CompleteRun(context.Background(), "run-1", testResults(t))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("complete", pgxmock.AnyArg(), "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.CompleteRun(context.Background(), "nope", testResults(t))
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_CopyFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("complete", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"run_results"}, resultColumns).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.CompleteRun(context.Background(), "run-1", testResults(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO run_results")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, error = \$2`).
		WithArgs("failed", "boom", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", errors.New("boom")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, kind, mode, seed, source, row_count, changed, status, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_WithResults(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	seed := "42"

	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("run-1", "lsoa", "walk", &seed, "", 2, 2, "complete", (*string)(nil), now, now))
	mock.ExpectQuery(`FROM run_results WHERE run_id = \$1 ORDER BY row_index`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"area_code", "air_quality", "house_price", "job_accessibility", "greenspace_accessibility"}).
			AddRow("E01008162", 21.4, 182000.0, 1400.5, 3.2).
			AddRow("E01008161", 18.9, 240000.0, 920.0, 7.75))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, run.Seed)
	assert.Equal(t, uint64(42), *run.Seed)
	assert.Equal(t, RunKindLSOA, run.Kind)
	require.NotNil(t, run.Results)
	assert.Equal(t, []string{"E01008162", "E01008161"}, run.Results.Index())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM runs WHERE true AND status = \$1 AND kind = \$2 ORDER BY created_at DESC, id LIMIT \$3 OFFSET \$4`).
		WithArgs("failed", "oa", 5, 10).
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("run-9", "oa", "car", (*string)(nil), "x.csv", 3, 1, "failed", stringPtr("bad"), now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: RunStatusFailed, Kind: RunKindOA, Limit: 5, Offset: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "bad", runs[0].Error)
	assert.Nil(t, runs[0].Seed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func stringPtr(s string) *string { return &s }
