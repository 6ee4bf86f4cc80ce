// Package sampler turns scenario rows into model features by drawing the
// built form of each requested signature type and applying the use,
// greenspace and job mix adjustments.
package sampler

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/indicator-engine/internal/areal"
	"github.com/sells-group/indicator-engine/internal/scenario"
)

var (
	// ErrInvalidScenario is returned for out-of-range scenario values.
	ErrInvalidScenario = eris.New("invalid scenario value")
	// ErrUnknownArea is returned for identifiers without a baseline.
	ErrUnknownArea = eris.New("unknown spatial unit")
)

// Sample is everything the predictors need for one scenario table.
type Sample struct {
	Features   *Features
	Jobs       Series
	Greenspace Series
}

// Sampler produces features for a scenario table. A nil seed draws a fresh
// one.
type Sampler interface {
	Sample(ctx context.Context, table *scenario.Table, seed *uint64) (*Sample, error)
}

// ProfileSampler draws changed units from their signature profile and keeps
// unchanged units at their baseline.
type ProfileSampler struct {
	baseline *areal.Baseline
	profiles *Profiles
	log      *zap.Logger
}

// NewProfileSampler returns a sampler over the given reference data.
func NewProfileSampler(baseline *areal.Baseline, profiles *Profiles) *ProfileSampler {
	return &ProfileSampler{
		baseline: baseline,
		profiles: profiles,
		log:      zap.L().With(zap.String("component", "sampler")),
	}
}

// pcgStream is xored into the seed to form the second PCG word.
const pcgStream = 0x9e3779b97f4a7c15

// Sample implements Sampler. Rows are drawn in table order.
func (s *ProfileSampler) Sample(ctx context.Context, table *scenario.Table, seed *uint64) (*Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "sampler: sample")
	}

	var sd uint64
	if seed != nil {
		sd = *seed
	} else {
		sd = rand.Uint64()
	}
	src := rand.NewPCG(sd, sd^pcgStream)

	n := table.Len()
	cols := FeatureColumns()
	data := mat.NewDense(max(n, 1), len(cols), nil)
	jobs := make([]float64, n)
	green := make([]float64, n)

	for i := range n {
		id, row := table.At(i)
		base, ok := s.baseline.Lookup(id)
		if !ok {
			return nil, eris.Wrapf(ErrUnknownArea, "sampler: %s", id)
		}

		var f unitFeatures
		if row.Unchanged {
			f = fromBaseline(base)
		} else {
			if err := validate(id, row); err != nil {
				return nil, err
			}
			f = s.draw(src, base, row)
		}

		data.SetRow(i, f.vector())
		jobs[i] = f.workplace
		green[i] = f.greenspace * base.AreaHectares
	}

	index := table.Index()
	if n == 0 {
		data = nil
	}
	features, err := NewFeatures(index, cols, data)
	if err != nil {
		return nil, err
	}
	jobSeries, err := NewSeries(index, jobs)
	if err != nil {
		return nil, err
	}
	greenSeries, err := NewSeries(index, green)
	if err != nil {
		return nil, err
	}

	s.log.Debug("sampled features",
		zap.Int("rows", n),
		zap.Int("changed", table.Changed()),
		zap.Bool("seeded", seed != nil),
	)
	return &Sample{Features: features, Jobs: jobSeries, Greenspace: greenSeries}, nil
}

type unitFeatures struct {
	population       float64
	workplace        float64
	greenspace       float64
	buildingCoverage float64
	streetDensity    float64
	use              float64
	jobTypes         float64
}

func (f unitFeatures) vector() []float64 {
	return []float64{
		f.population,
		f.workplace,
		f.greenspace,
		f.buildingCoverage,
		f.streetDensity,
		f.use,
		f.jobTypes,
	}
}

func fromBaseline(b areal.BaselineRecord) unitFeatures {
	use := 0.0
	if total := b.Population + b.WorkplacePopulation; total > 0 {
		use = (b.WorkplacePopulation - b.Population) / total
	}
	return unitFeatures{
		population:       b.Population,
		workplace:        b.WorkplacePopulation,
		greenspace:       b.GreenspaceShare,
		buildingCoverage: b.BuildingCoverage,
		streetDensity:    b.StreetDensity,
		use:              use,
		jobTypes:         b.JobTypes,
	}
}

// draw consumes exactly four normal draws from src per call.
func (s *ProfileSampler) draw(src rand.Source, base areal.BaselineRecord, row scenario.Row) unitFeatures {
	p := s.profiles[row.SignatureType]
	normal := func(mu, sigma float64) float64 {
		return math.Max(0, distuv.Normal{Mu: mu, Sigma: sigma, Src: src}.Rand())
	}

	f := unitFeatures{
		population:       normal(p.PopulationDensityMean, p.PopulationDensitySD) * base.AreaHectares,
		workplace:        normal(p.WorkplaceDensityMean, p.WorkplaceDensitySD) * base.AreaHectares,
		buildingCoverage: math.Min(1, normal(p.BuildingCoverageMean, p.BuildingCoverageSD)),
		streetDensity:    normal(p.StreetDensityMean, p.StreetDensitySD),
		use:              row.Use,
		jobTypes:         row.JobTypes,
	}

	switch {
	case row.Use < 0:
		moved := -row.Use * f.workplace
		f.workplace -= moved
		f.population += moved
	case row.Use > 0:
		moved := row.Use * f.population
		f.population -= moved
		f.workplace += moved
	}

	f.population *= 1 - row.Greenspace
	f.workplace *= 1 - row.Greenspace
	f.greenspace = row.Greenspace
	return f
}

func validate(id string, row scenario.Row) error {
	switch {
	case !scenario.ValidSignature(row.SignatureType):
		return eris.Wrapf(ErrInvalidScenario, "sampler: %s signature_type %d", id, row.SignatureType)
	case !(row.Use >= -1 && row.Use <= 1):
		return eris.Wrapf(ErrInvalidScenario, "sampler: %s use %v", id, row.Use)
	case !(row.Greenspace >= 0 && row.Greenspace <= 1):
		return eris.Wrapf(ErrInvalidScenario, "sampler: %s greenspace %v", id, row.Greenspace)
	case !(row.JobTypes >= 0 && row.JobTypes <= 1):
		return eris.Wrapf(ErrInvalidScenario, "sampler: %s job_types %v", id, row.JobTypes)
	}
	return nil
}
