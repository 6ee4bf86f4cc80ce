package indicator

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/indicator-engine/internal/areal"
	"github.com/sells-group/indicator-engine/internal/cache"
	"github.com/sells-group/indicator-engine/internal/predictor"
	"github.com/sells-group/indicator-engine/internal/sampler"
	"github.com/sells-group/indicator-engine/internal/scenario"
)

// Fixture geography: LSOA L1 has two OAs, L2 one, L3 two.
var (
	fixtureOAs  = []string{"E00000001", "E00000002", "E00000003", "E00000004", "E00000005"}
	fixtureLSOA = map[string]string{
		"E00000001": "E01000001",
		"E00000002": "E01000001",
		"E00000003": "E01000002",
		"E00000004": "E01000003",
		"E00000005": "E01000003",
	}
	fixtureLSOAs = []string{"E01000001", "E01000002", "E01000003"}
)

type oaRecord struct {
	GeoCode string `parquet:"geo_code"`
}

type oaLSOARecord struct {
	OA   string `parquet:"oa11cd"`
	LSOA string `parquet:"lsoa11cd"`
}

// writeArtifacts writes a complete artifact set into a fresh cache dir. sd is
// the spread of every signature profile; zero makes sampling exact.
func writeArtifacts(t *testing.T, sd float64) string {
	t.Helper()
	return writeArtifactsInOrder(t, sd, fixtureOAs)
}

// writeArtifactsInOrder is writeArtifacts with the reference tables listing
// the fixture OAs in the given order.
func writeArtifactsInOrder(t *testing.T, sd float64, oas []string) string {
	t.Helper()
	dir := t.TempDir()

	empty := make([]oaRecord, len(oas))
	pairs := make([]oaLSOARecord, len(oas))
	baseline := make([]areal.BaselineRecord, len(oas))
	for i, oa := range oas {
		empty[i] = oaRecord{GeoCode: oa}
		pairs[i] = oaLSOARecord{OA: oa, LSOA: fixtureLSOA[oa]}
		baseline[i] = areal.BaselineRecord{
			GeoCode:             oa,
			SignatureType:       int64(3 + i),
			Population:          float64(200 + 50*i),
			WorkplacePopulation: float64(80 + 120*i),
			GreenspaceShare:     0.1,
			BuildingCoverage:    0.2 + 0.05*float64(i),
			StreetDensity:       0.015,
			JobTypes:            0.5,
			AreaHectares:        float64(2 + i),
		}
	}
	require.NoError(t, parquet.WriteFile(filepath.Join(dir, cache.EmptyTable), empty))
	require.NoError(t, parquet.WriteFile(filepath.Join(dir, cache.OALSOATable), pairs))
	require.NoError(t, parquet.WriteFile(filepath.Join(dir, cache.BaselineTable), baseline))

	profiles := make([]sampler.Profile, scenario.NumSignatureTypes)
	for st := range profiles {
		profiles[st] = sampler.Profile{
			SignatureType:         int64(st),
			PopulationDensityMean: float64(8 * (st + 1)),
			PopulationDensitySD:   sd,
			WorkplaceDensityMean:  float64(4 * (st + 1)),
			WorkplaceDensitySD:    sd,
			BuildingCoverageMean:  0.02 * float64(st+1),
			BuildingCoverageSD:    sd / 100,
			StreetDensityMean:     0.01 + 0.001*float64(st),
			StreetDensitySD:       sd / 1000,
		}
	}
	require.NoError(t, parquet.WriteFile(filepath.Join(dir, cache.SignaturesTable), profiles))

	writeJSON(t, filepath.Join(dir, cache.AirQualityPredictor), predictor.LinearModel{
		Kind:         "linear",
		Target:       "air_quality",
		Columns:      []string{sampler.ColPopulation, sampler.ColWorkplacePopulation, sampler.ColStreetDensity},
		Coefficients: []float64{0.01, 0.005, 100},
		Intercept:    20,
	})
	writeJSON(t, filepath.Join(dir, cache.HousePricePredictor), predictor.LinearModel{
		Kind:   "linear",
		Target: "house_price",
		Columns: []string{
			sampler.ColBuildingCoverage, sampler.ColGreenspaceShare, sampler.ColJobTypes, sampler.ColUse,
		},
		Coefficients: []float64{50000, 80000, 20000, -10000},
		Intercept:    150000,
	})

	network := predictor.NetworkAccessibility{Kind: "accessibility", Modes: map[predictor.Mode]map[string][]predictor.Edge{}}
	for k, mode := range predictor.Modes() {
		graph := make(map[string][]predictor.Edge, len(fixtureOAs))
		for i, from := range fixtureOAs {
			for j, to := range fixtureOAs {
				graph[from] = append(graph[from], predictor.Edge{
					To:     to,
					Weight: float64(k+1) / (1 + math.Abs(float64(i-j))),
				})
			}
		}
		network.Modes[mode] = graph
	}
	writeJSON(t, filepath.Join(dir, cache.Accessibility), network)
	return dir
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))
}

func newCache(t *testing.T, dir string) *cache.DirCache {
	t.Helper()
	c, err := cache.New(cache.Options{Dir: dir})
	require.NoError(t, err)
	return c
}

func seedOf(v uint64) *uint64 { return &v }
