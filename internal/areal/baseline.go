package areal

import (
	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/indicator-engine/internal/scenario"
)

// BaselineRecord is the current state of one OA.
type BaselineRecord struct {
	GeoCode             string  `parquet:"geo_code"`
	SignatureType       int64   `parquet:"signature_type"`
	Population          float64 `parquet:"population"`
	WorkplacePopulation float64 `parquet:"workplace_population"`
	GreenspaceShare     float64 `parquet:"greenspace_share"`
	BuildingCoverage    float64 `parquet:"building_coverage"`
	StreetDensity       float64 `parquet:"street_density"`
	JobTypes            float64 `parquet:"job_types"`
	AreaHectares        float64 `parquet:"area_ha"`
}

// Baseline indexes BaselineRecords by OA.
type Baseline struct {
	records map[string]BaselineRecord
}

// LoadBaseline reads baseline.parquet.
func LoadBaseline(path string) (*Baseline, error) {
	records, err := parquet.ReadFile[BaselineRecord](path)
	if err != nil {
		return nil, eris.Wrap(err, "areal: read baseline table")
	}
	return NewBaseline(records)
}

// NewBaseline indexes records, rejecting duplicates and invalid values.
func NewBaseline(records []BaselineRecord) (*Baseline, error) {
	b := &Baseline{records: make(map[string]BaselineRecord, len(records))}
	for _, r := range records {
		if _, dup := b.records[r.GeoCode]; dup {
			return nil, eris.Wrapf(scenario.ErrDuplicateIndex, "areal: baseline %s", r.GeoCode)
		}
		if !scenario.ValidSignature(int(r.SignatureType)) {
			return nil, eris.Errorf("areal: baseline %s has signature type %d", r.GeoCode, r.SignatureType)
		}
		if r.AreaHectares <= 0 {
			return nil, eris.Errorf("areal: baseline %s has non-positive area", r.GeoCode)
		}
		b.records[r.GeoCode] = r
	}
	return b, nil
}

// Lookup returns the baseline for an OA.
func (b *Baseline) Lookup(oa string) (BaselineRecord, bool) {
	r, ok := b.records[oa]
	return r, ok
}

// Len returns the number of OAs with a baseline.
func (b *Baseline) Len() int {
	return len(b.records)
}
