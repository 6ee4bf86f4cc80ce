package sampler

import (
	"slices"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// Feature column names, in matrix order.
const (
	ColPopulation          = "population"
	ColWorkplacePopulation = "workplace_population"
	ColGreenspaceShare     = "greenspace_share"
	ColBuildingCoverage    = "building_coverage"
	ColStreetDensity       = "street_density"
	ColUse                 = "use"
	ColJobTypes            = "job_types"
)

// FeatureColumns returns the columns produced by ProfileSampler.
func FeatureColumns() []string {
	return []string{
		ColPopulation,
		ColWorkplacePopulation,
		ColGreenspaceShare,
		ColBuildingCoverage,
		ColStreetDensity,
		ColUse,
		ColJobTypes,
	}
}

// Features is a dense, row-major feature matrix with one row per spatial
// unit and named columns.
type Features struct {
	index   []string
	columns []string
	data    *mat.Dense
}

// NewFeatures wraps data. Rows follow index and columns follow columns. A nil
// data is an empty table.
func NewFeatures(index, columns []string, data *mat.Dense) (*Features, error) {
	r, c := 0, len(columns)
	if data != nil {
		r, c = data.Dims()
	}
	if r != len(index) || c != len(columns) {
		return nil, eris.Errorf("sampler: %dx%d matrix for %d rows and %d columns", r, c, len(index), len(columns))
	}
	return &Features{
		index:   slices.Clone(index),
		columns: slices.Clone(columns),
		data:    data,
	}, nil
}

// Len returns the number of rows.
func (f *Features) Len() int { return len(f.index) }

// Index returns a copy of the row identifiers.
func (f *Features) Index() []string { return slices.Clone(f.index) }

// Columns returns a copy of the column names.
func (f *Features) Columns() []string { return slices.Clone(f.columns) }

// ColumnIndex returns the position of name, or -1.
func (f *Features) ColumnIndex(name string) int {
	return slices.Index(f.columns, name)
}

// Column returns a copy of the named column.
func (f *Features) Column(name string) ([]float64, bool) {
	j := f.ColumnIndex(name)
	if j < 0 {
		return nil, false
	}
	if f.data == nil {
		return []float64{}, true
	}
	return mat.Col(nil, j, f.data), true
}

// Matrix exposes the underlying matrix read-only.
func (f *Features) Matrix() mat.Matrix {
	if f.data == nil {
		return &mat.Dense{}
	}
	return f.data
}

// Series is an ordered identifier -> value map.
type Series struct {
	index  []string
	values map[string]float64
}

// NewSeries pairs ids with values.
func NewSeries(ids []string, values []float64) (Series, error) {
	if len(ids) != len(values) {
		return Series{}, eris.Errorf("sampler: %d identifiers for %d values", len(ids), len(values))
	}
	s := Series{index: make([]string, 0, len(ids)), values: make(map[string]float64, len(ids))}
	for i, id := range ids {
		if _, dup := s.values[id]; dup {
			return Series{}, eris.Errorf("sampler: duplicate series identifier %s", id)
		}
		s.index = append(s.index, id)
		s.values[id] = values[i]
	}
	return s, nil
}

// Len returns the number of entries.
func (s Series) Len() int { return len(s.index) }

// Index returns a copy of the identifiers in order.
func (s Series) Index() []string { return slices.Clone(s.index) }

// Value returns the value for id.
func (s Series) Value(id string) (float64, bool) {
	v, ok := s.values[id]
	return v, ok
}

// Values returns the values in index order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.index))
	for i, id := range s.index {
		out[i] = s.values[id]
	}
	return out
}
