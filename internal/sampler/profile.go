package sampler

import (
	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/indicator-engine/internal/scenario"
)

// Profile summarises the built form of one signature type. Densities are per
// hectare; coverage and street density are ratios.
type Profile struct {
	SignatureType         int64   `parquet:"signature_type"`
	PopulationDensityMean float64 `parquet:"population_density_mean"`
	PopulationDensitySD   float64 `parquet:"population_density_sd"`
	WorkplaceDensityMean  float64 `parquet:"workplace_density_mean"`
	WorkplaceDensitySD    float64 `parquet:"workplace_density_sd"`
	BuildingCoverageMean  float64 `parquet:"building_coverage_mean"`
	BuildingCoverageSD    float64 `parquet:"building_coverage_sd"`
	StreetDensityMean     float64 `parquet:"street_density_mean"`
	StreetDensitySD       float64 `parquet:"street_density_sd"`
}

// Profiles holds one Profile per signature type.
type Profiles [scenario.NumSignatureTypes]Profile

// LoadProfiles reads signatures.parquet.
func LoadProfiles(path string) (*Profiles, error) {
	rows, err := parquet.ReadFile[Profile](path)
	if err != nil {
		return nil, eris.Wrap(err, "sampler: read signature profiles")
	}
	return NewProfiles(rows)
}

// NewProfiles requires exactly one row for every signature type.
func NewProfiles(rows []Profile) (*Profiles, error) {
	var p Profiles
	var seen [scenario.NumSignatureTypes]bool
	for _, r := range rows {
		st := int(r.SignatureType)
		if !scenario.ValidSignature(st) {
			return nil, eris.Errorf("sampler: profile for signature type %d", st)
		}
		if seen[st] {
			return nil, eris.Errorf("sampler: duplicate profile for signature type %d", st)
		}
		if r.PopulationDensitySD < 0 || r.WorkplaceDensitySD < 0 || r.BuildingCoverageSD < 0 || r.StreetDensitySD < 0 {
			return nil, eris.Errorf("sampler: negative spread for signature type %d", st)
		}
		seen[st] = true
		p[st] = r
	}
	for st, ok := range seen {
		if !ok {
			return nil, eris.Errorf("sampler: no profile for %s", scenario.SignatureName(st))
		}
	}
	return &p, nil
}
