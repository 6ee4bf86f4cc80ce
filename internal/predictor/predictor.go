// Package predictor scores sampled features with the air quality and house
// price regressors and computes network accessibility to jobs and greenspace.
package predictor

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/indicator-engine/internal/sampler"
)

// ErrUnsupportedMode is returned for a travel mode the accessibility engine
// does not know.
var ErrUnsupportedMode = eris.New("unsupported travel mode")

// Mode is a travel mode for accessibility.
type Mode string

// Travel modes.
const (
	Walk    Mode = "walk"
	Bike    Mode = "bike"
	Car     Mode = "car"
	Transit Mode = "transit"
)

// Modes lists every supported mode.
func Modes() []Mode {
	return []Mode{Walk, Bike, Car, Transit}
}

// ParseMode parses s case-insensitively. An empty string is Walk.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case "":
		return Walk, nil
	case Walk, Bike, Car, Transit:
		return m, nil
	}
	return "", eris.Wrapf(ErrUnsupportedMode, "predictor: mode %q", s)
}

// Series is an ordered identifier -> value map.
type Series = sampler.Series

// Regressor predicts one value per feature row.
type Regressor interface {
	Predict(ctx context.Context, features *sampler.Features) ([]float64, error)
}

// Accessibility computes accessibility under a travel mode. Results may be in
// any order and may cover more identifiers than the input.
type Accessibility interface {
	JobAccessibility(ctx context.Context, jobs Series, mode Mode) (Series, error)
	GreenspaceAccessibility(ctx context.Context, greenspace Series, mode Mode) (Series, error)
}
