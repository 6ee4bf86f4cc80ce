// Package store records indicator runs and their results so scenarios can be
// listed and replayed.
package store

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/indicator-engine/internal/indicator"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = eris.New("run not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunKind is the granularity of a run.
type RunKind string

const (
	RunKindOA   RunKind = "oa"
	RunKindLSOA RunKind = "lsoa"
)

// IndexName returns the identifier column of results of this kind.
func (k RunKind) IndexName() string {
	if k == RunKindLSOA {
		return indicator.IndexLSOA
	}
	return indicator.IndexOA
}

// RunSpec describes a run at creation.
type RunSpec struct {
	Kind    RunKind
	Mode    string
	Seed    *uint64
	Source  string
	Rows    int
	Changed int
}

// Run is a recorded engine call. Results is only populated by GetRun.
type Run struct {
	ID        string           `json:"id"`
	Kind      RunKind          `json:"kind"`
	Mode      string           `json:"mode"`
	Seed      *uint64          `json:"seed,omitempty"`
	Source    string           `json:"source,omitempty"`
	Rows      int              `json:"rows"`
	Changed   int              `json:"changed"`
	Status    RunStatus        `json:"status"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Results   *indicator.Table `json:"-"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status RunStatus
	Kind   RunKind
	Limit  int
	Offset int
}

// Store persists runs.
type Store interface {
	CreateRun(ctx context.Context, spec RunSpec) (*Run, error)
	CompleteRun(ctx context.Context, runID string, results *indicator.Table) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

var resultColumns = []string{
	"run_id", "row_index", "area_code",
	"air_quality", "house_price", "job_accessibility", "greenspace_accessibility",
}

const defaultListLimit = 100

// encodeSeed stores seeds as decimal text; uint64 overflows BIGINT.
func encodeSeed(seed *uint64) *string {
	if seed == nil {
		return nil
	}
	s := strconv.FormatUint(*seed, 10)
	return &s
}

func decodeSeed(s *string) (*uint64, error) {
	if s == nil {
		return nil, nil
	}
	v, err := strconv.ParseUint(*s, 10, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "parse seed %q", *s)
	}
	return &v, nil
}

func failureMessage(cause error) string {
	if cause == nil {
		return "unknown error"
	}
	return cause.Error()
}

func resultRows(runID string, results *indicator.Table) [][]any {
	rows := make([][]any, results.Len())
	for i := range rows {
		id, r := results.At(i)
		rows[i] = []any{runID, i, id, r.AirQuality, r.HousePrice, r.JobAccessibility, r.GreenspaceAccessibility}
	}
	return rows
}
