package indicator

import (
	"encoding/csv"
	"errors"
	"io"
	"slices"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
)

// Indicator column names.
const (
	ColAirQuality              = "air_quality"
	ColHousePrice              = "house_price"
	ColJobAccessibility        = "job_accessibility"
	ColGreenspaceAccessibility = "greenspace_accessibility"
)

// Columns returns the indicator columns in output order.
func Columns() []string {
	return []string{ColAirQuality, ColHousePrice, ColJobAccessibility, ColGreenspaceAccessibility}
}

// Index column names for the two granularities.
const (
	IndexOA   = "geo_code"
	IndexLSOA = "lsoa"
)

// Row holds the four indicators for one spatial unit.
type Row struct {
	AirQuality              float64 `csv:"air_quality"`
	HousePrice              float64 `csv:"house_price"`
	JobAccessibility        float64 `csv:"job_accessibility"`
	GreenspaceAccessibility float64 `csv:"greenspace_accessibility"`
}

func (r Row) values() []float64 {
	return []float64{r.AirQuality, r.HousePrice, r.JobAccessibility, r.GreenspaceAccessibility}
}

func rowFromValues(v []float64) Row {
	return Row{AirQuality: v[0], HousePrice: v[1], JobAccessibility: v[2], GreenspaceAccessibility: v[3]}
}

// Table is the indicator output: one row per spatial unit, in input order.
type Table struct {
	indexName string
	index     []string
	rows      []Row
}

// NewTable builds a table. indexName labels the identifier column on output.
func NewTable(indexName string, ids []string, rows []Row) (*Table, error) {
	if len(ids) != len(rows) {
		return nil, eris.Errorf("indicator: %d identifiers for %d rows", len(ids), len(rows))
	}
	return &Table{indexName: indexName, index: slices.Clone(ids), rows: slices.Clone(rows)}, nil
}

// IndexName returns the identifier column name.
func (t *Table) IndexName() string { return t.indexName }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.index) }

// Index returns a copy of the identifiers.
func (t *Table) Index() []string { return slices.Clone(t.index) }

// At returns the identifier and row at position i.
func (t *Table) At(i int) (string, Row) { return t.index[i], t.rows[i] }

// Lookup returns the row for id.
func (t *Table) Lookup(id string) (Row, bool) {
	i := slices.Index(t.index, id)
	if i < 0 {
		return Row{}, false
	}
	return t.rows[i], true
}

// Column returns a copy of the named indicator column.
func (t *Table) Column(name string) ([]float64, bool) {
	j := slices.Index(Columns(), name)
	if j < 0 {
		return nil, false
	}
	out := make([]float64, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.values()[j]
	}
	return out, true
}

type csvRecord struct {
	ID string `csv:"id"`
	Row
}

// WriteCSV writes the table with its index column first.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{t.indexName}, Columns()...)); err != nil {
		return eris.Wrap(err, "indicator: write header")
	}
	enc := csvutil.NewEncoder(cw)
	enc.AutoHeader = false
	for i, id := range t.index {
		if err := enc.Encode(csvRecord{ID: id, Row: t.rows[i]}); err != nil {
			return eris.Wrapf(err, "indicator: encode %s", id)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "indicator: flush")
}

// ReadCSV parses a table written by WriteCSV. The first column is the index.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "indicator: read header")
	}
	if len(header) == 0 {
		return nil, eris.New("indicator: empty header")
	}
	indexName := header[0]
	header = slices.Clone(header)
	header[0] = "id"

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, eris.Wrap(err, "indicator: create decoder")
	}
	var recs []csvRecord
	if err := dec.Decode(&recs); err != nil && !errors.Is(err, io.EOF) {
		return nil, eris.Wrap(err, "indicator: decode")
	}

	t := &Table{indexName: indexName}
	for _, rec := range recs {
		t.index = append(t.index, rec.ID)
		t.rows = append(t.rows, rec.Row)
	}
	return t, nil
}
