package predictor

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/indicator-engine/internal/sampler"
)

// Edge is one reachable destination and its distance-decay weight.
type Edge struct {
	To     string  `json:"to"`
	Weight float64 `json:"weight"`
}

// NetworkAccessibility holds, per mode, the weighted destinations reachable
// from each origin.
type NetworkAccessibility struct {
	Kind  string                     `json:"kind"`
	Modes map[Mode]map[string][]Edge `json:"modes"`
}

// LoadNetworkAccessibility reads an accessibility artifact.
func LoadNetworkAccessibility(path string) (*NetworkAccessibility, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "predictor: open accessibility")
	}
	defer f.Close() //nolint:errcheck
	return DecodeNetworkAccessibility(f)
}

// DecodeNetworkAccessibility parses and validates an accessibility artifact.
func DecodeNetworkAccessibility(r io.Reader) (*NetworkAccessibility, error) {
	var a NetworkAccessibility
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, eris.Wrap(err, "predictor: decode accessibility")
	}
	if a.Kind != "accessibility" {
		return nil, eris.Errorf("predictor: artifact kind %q, want accessibility", a.Kind)
	}
	if len(a.Modes) == 0 {
		return nil, eris.New("predictor: accessibility has no modes")
	}
	for mode := range a.Modes {
		if _, err := ParseMode(string(mode)); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

// JobAccessibility implements Accessibility.
func (a *NetworkAccessibility) JobAccessibility(ctx context.Context, jobs Series, mode Mode) (Series, error) {
	return a.accumulate(ctx, jobs, mode)
}

// GreenspaceAccessibility implements Accessibility.
func (a *NetworkAccessibility) GreenspaceAccessibility(ctx context.Context, greenspace Series, mode Mode) (Series, error) {
	return a.accumulate(ctx, greenspace, mode)
}

// accumulate sums weight*value over each origin's destinations. The result
// covers every origin in the network plus every input identifier, sorted.
// Destinations absent from values contribute nothing.
func (a *NetworkAccessibility) accumulate(ctx context.Context, values Series, mode Mode) (Series, error) {
	if err := ctx.Err(); err != nil {
		return Series{}, eris.Wrap(err, "predictor: accessibility")
	}
	graph, ok := a.Modes[mode]
	if !ok {
		return Series{}, eris.Wrapf(ErrUnsupportedMode, "predictor: accessibility has no %s network", mode)
	}

	origins := make([]string, 0, len(graph)+values.Len())
	for o := range graph {
		origins = append(origins, o)
	}
	for _, id := range values.Index() {
		if _, ok := graph[id]; !ok {
			origins = append(origins, id)
		}
	}
	slices.Sort(origins)

	out := make([]float64, len(origins))
	for i, o := range origins {
		var sum float64
		for _, e := range graph[o] {
			if v, ok := values.Value(e.To); ok {
				sum += e.Weight * v
			}
		}
		out[i] = sum
	}
	s, err := sampler.NewSeries(origins, out)
	if err != nil {
		return Series{}, eris.Wrap(err, "predictor: accessibility")
	}
	return s, nil
}
