package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/indicator-engine/internal/indicator"
	"github.com/sells-group/indicator-engine/internal/store"
)

func testTable(t *testing.T) *indicator.Table {
	t.Helper()
	tbl, err := indicator.NewTable(indicator.IndexOA, []string{"E00000001", "E00000002"}, []indicator.Row{
		{AirQuality: 20, HousePrice: 200000, JobAccessibility: 10, GreenspaceAccessibility: 1},
		{AirQuality: 21, HousePrice: 210000, JobAccessibility: 11, GreenspaceAccessibility: 2},
	})
	require.NoError(t, err)
	return tbl
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestRecordRun_NoStore(t *testing.T) {
	want := testTable(t)
	got, err := recordRun(context.Background(), nil, store.RunSpec{}, func(context.Context) (*indicator.Table, error) {
		return want, nil
	})
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestRecordRun_Complete(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seed := uint64(9)

	_, err := recordRun(ctx, st, store.RunSpec{Kind: store.RunKindOA, Mode: "transit", Seed: &seed, Rows: 2, Changed: 1},
		func(context.Context) (*indicator.Table, error) { return testTable(t), nil })
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusComplete, runs[0].Status)

	run, err := st.GetRun(ctx, runs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, run.Results)
	assert.Equal(t, []string{"E00000001", "E00000002"}, run.Results.Index())
}

func TestRecordRun_Failed(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	boom := eris.New("sampler: bad scenario")

	_, err := recordRun(ctx, st, store.RunSpec{Kind: store.RunKindLSOA, Mode: "walk"},
		func(context.Context) (*indicator.Table, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	runs, err := st.ListRuns(ctx, store.RunFilter{Status: store.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].Error, "bad scenario")
}

func TestReadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.csv")
	require.NoError(t, os.WriteFile(path, []byte("lsoa,signature_type,use,greenspace,job_types\nE01000001,3,0.2,0.1,0.5\n"), 0o600))

	tbl, err := readScenario(path, "lsoa")
	require.NoError(t, err)
	assert.Equal(t, []string{"E01000001"}, tbl.Index())

	_, err = readScenario("", "lsoa")
	assert.Error(t, err)

	_, err = readScenario(filepath.Join(t.TempDir(), "missing.csv"), "lsoa")
	assert.Error(t, err)
}

func TestWriteResults_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, writeResults(path, testTable(t)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "geo_code,air_quality,"))
}
