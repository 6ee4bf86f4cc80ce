package predictor

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/indicator-engine/internal/sampler"
)

// LinearModel is y = X·coefficients + intercept over named feature columns.
type LinearModel struct {
	Kind         string    `json:"kind"`
	Target       string    `json:"target"`
	Columns      []string  `json:"columns"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// LoadLinearModel reads a linear model artifact.
func LoadLinearModel(path string) (*LinearModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "predictor: open linear model")
	}
	defer f.Close() //nolint:errcheck
	return DecodeLinearModel(f)
}

// DecodeLinearModel parses and validates a linear model artifact.
func DecodeLinearModel(r io.Reader) (*LinearModel, error) {
	var m LinearModel
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, eris.Wrap(err, "predictor: decode linear model")
	}
	if m.Kind != "linear" {
		return nil, eris.Errorf("predictor: model kind %q, want linear", m.Kind)
	}
	if len(m.Columns) == 0 || len(m.Columns) != len(m.Coefficients) {
		return nil, eris.Errorf("predictor: %s has %d columns and %d coefficients",
			m.Target, len(m.Columns), len(m.Coefficients))
	}
	return &m, nil
}

// Predict implements Regressor.
func (m *LinearModel) Predict(ctx context.Context, features *sampler.Features) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "predictor: linear predict")
	}
	n := features.Len()
	if n == 0 {
		return []float64{}, nil
	}

	src := features.Matrix()
	x := mat.NewDense(n, len(m.Columns), nil)
	for j, name := range m.Columns {
		k := features.ColumnIndex(name)
		if k < 0 {
			return nil, eris.Errorf("predictor: %s needs feature column %q", m.Target, name)
		}
		x.SetCol(j, mat.Col(nil, k, src))
	}

	var y mat.VecDense
	y.MulVec(x, mat.NewVecDense(len(m.Coefficients), m.Coefficients))

	out := make([]float64, n)
	for i := range out {
		out[i] = y.AtVec(i) + m.Intercept
	}
	return out, nil
}
