// Package areal holds the static reference geography: the list of output
// areas (OAs), their parent LSOAs, and each OA's current state.
package areal

import (
	"slices"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/indicator-engine/internal/scenario"
)

// ErrUnmappedArea is returned when an OA has no parent LSOA.
var ErrUnmappedArea = eris.New("output area has no LSOA mapping")

type emptyRecord struct {
	GeoCode string `parquet:"geo_code"`
}

type mappingRecord struct {
	OA   string `parquet:"oa11cd"`
	LSOA string `parquet:"lsoa11cd"`
}

// Mapping is the immutable OA -> LSOA lookup. OA order follows the empty
// reference table; LSOAs are sorted by code.
type Mapping struct {
	oas     []string
	lsoaOf  map[string]string
	lsoas   []string
	members map[string][]int
}

// LoadMapping reads the empty OA table and the OA -> LSOA table.
func LoadMapping(emptyPath, mappingPath string) (*Mapping, error) {
	empty, err := parquet.ReadFile[emptyRecord](emptyPath)
	if err != nil {
		return nil, eris.Wrap(err, "areal: read empty table")
	}
	pairs, err := parquet.ReadFile[mappingRecord](mappingPath)
	if err != nil {
		return nil, eris.Wrap(err, "areal: read oa_lsoa table")
	}

	oas := make([]string, len(empty))
	for i, r := range empty {
		oas[i] = r.GeoCode
	}
	lsoaOf := make(map[string]string, len(pairs))
	for _, p := range pairs {
		lsoaOf[p.OA] = p.LSOA
	}
	return NewMapping(oas, lsoaOf)
}

// NewMapping builds a mapping over oas. Every OA must appear in lsoaOf;
// entries of lsoaOf for OAs outside oas are ignored.
func NewMapping(oas []string, lsoaOf map[string]string) (*Mapping, error) {
	m := &Mapping{
		oas:     make([]string, 0, len(oas)),
		lsoaOf:  make(map[string]string, len(oas)),
		members: make(map[string][]int),
	}
	for _, oa := range oas {
		if _, dup := m.lsoaOf[oa]; dup {
			return nil, eris.Wrapf(scenario.ErrDuplicateIndex, "areal: OA %s", oa)
		}
		lsoa, ok := lsoaOf[oa]
		if !ok || lsoa == "" {
			return nil, eris.Wrapf(ErrUnmappedArea, "areal: %s", oa)
		}
		if _, seen := m.members[lsoa]; !seen {
			m.lsoas = append(m.lsoas, lsoa)
		}
		m.members[lsoa] = append(m.members[lsoa], len(m.oas))
		m.lsoaOf[oa] = lsoa
		m.oas = append(m.oas, oa)
	}
	slices.Sort(m.lsoas)
	return m, nil
}

// OAs returns every output area in reference order.
func (m *Mapping) OAs() []string {
	return append([]string(nil), m.oas...)
}

// LSOAs returns every distinct LSOA sorted by code.
func (m *Mapping) LSOAs() []string {
	return append([]string(nil), m.lsoas...)
}

// LSOA returns the parent of oa.
func (m *Mapping) LSOA(oa string) (string, bool) {
	l, ok := m.lsoaOf[oa]
	return l, ok
}

// HasLSOA reports whether lsoa is part of the mapping.
func (m *Mapping) HasLSOA(lsoa string) bool {
	_, ok := m.members[lsoa]
	return ok
}

// Expansion is the result of spreading an LSOA scenario over its OAs.
type Expansion struct {
	// OAs has one row per OA in reference order.
	OAs *scenario.Table
	// Missing lists mapped LSOAs the input did not mention.
	Missing []string
	// Ignored lists input identifiers that are not mapped LSOAs.
	Ignored []string
}

// Expand left-joins every OA against lsoaScenario on the OA's LSOA. OAs whose
// LSOA has no input row get an unchanged row.
func (m *Mapping) Expand(lsoaScenario *scenario.Table) (*Expansion, error) {
	rows := make([]scenario.Row, len(m.oas))
	for i, oa := range m.oas {
		row, ok := lsoaScenario.Lookup(m.lsoaOf[oa])
		if !ok {
			row = scenario.UnchangedRow()
		}
		rows[i] = row
	}
	oaTable, err := scenario.NewTable(m.oas, rows)
	if err != nil {
		return nil, eris.Wrap(err, "areal: build OA table")
	}

	exp := &Expansion{OAs: oaTable}
	for _, lsoa := range m.lsoas {
		if _, ok := lsoaScenario.Lookup(lsoa); !ok {
			exp.Missing = append(exp.Missing, lsoa)
		}
	}
	for _, id := range lsoaScenario.Index() {
		if !m.HasLSOA(id) {
			exp.Ignored = append(exp.Ignored, id)
		}
	}
	return exp, nil
}

// Mean groups OA-level columns by LSOA and returns the unweighted mean of
// each column per LSOA, in LSOA order. index must list exactly the mapped OAs
// (any order); columns[c][i] is column c of the OA index[i].
func (m *Mapping) Mean(index []string, columns [][]float64) ([][]float64, error) {
	if len(index) != len(m.oas) {
		return nil, eris.Errorf("areal: %d rows for %d mapped OAs", len(index), len(m.oas))
	}
	for c, col := range columns {
		if len(col) != len(index) {
			return nil, eris.Errorf("areal: column %d has %d values for %d rows", c, len(col), len(index))
		}
	}

	pos := make(map[string]int, len(index))
	for i, oa := range index {
		if _, ok := m.lsoaOf[oa]; !ok {
			return nil, eris.Wrapf(ErrUnmappedArea, "areal: %s", oa)
		}
		pos[oa] = i
	}

	out := make([][]float64, len(columns))
	buf := make([]float64, 0, 64)
	for c, col := range columns {
		out[c] = make([]float64, len(m.lsoas))
		for l, lsoa := range m.lsoas {
			buf = buf[:0]
			for _, ref := range m.members[lsoa] {
				i, ok := pos[m.oas[ref]]
				if !ok {
					return nil, eris.Errorf("areal: OA %s missing from rows", m.oas[ref])
				}
				buf = append(buf, col[i])
			}
			out[c][l] = stat.Mean(buf, nil)
		}
	}
	return out, nil
}
