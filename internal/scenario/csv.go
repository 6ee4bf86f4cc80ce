package scenario

import (
	"encoding/csv"
	"errors"
	"io"
	"slices"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
)

// DefaultIndexColumn names the identifier column of OA-level files.
const DefaultIndexColumn = "geo_code"

// record is the CSV shape of a row. Pointers distinguish blank cells.
type record struct {
	ID            string   `csv:"id"`
	SignatureType *int     `csv:"signature_type,omitempty"`
	Use           *float64 `csv:"use,omitempty"`
	Greenspace    *float64 `csv:"greenspace,omitempty"`
	JobTypes      *float64 `csv:"job_types,omitempty"`
}

// ReadCSV parses a scenario table. indexColumn names the identifier column
// (DefaultIndexColumn when empty). signature_type is required; use,
// greenspace and job_types default to 0. A row whose scenario cells are all
// blank is read as unchanged.
func ReadCSV(r io.Reader, indexColumn string) (*Table, error) {
	if indexColumn == "" {
		indexColumn = DefaultIndexColumn
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "scenario: read header")
	}

	idx := slices.Index(header, indexColumn)
	if idx < 0 {
		return nil, eris.Wrapf(ErrMissingColumn, "scenario: %s", indexColumn)
	}
	if !slices.Contains(header, "signature_type") {
		return nil, eris.Wrap(ErrMissingColumn, "scenario: signature_type")
	}
	header = slices.Clone(header)
	header[idx] = "id"

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, eris.Wrap(err, "scenario: create decoder")
	}

	t := &Table{}
	for line := 2; ; line++ {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, eris.Wrapf(err, "scenario: decode line %d", line)
		}
		row, err := rec.row()
		if err != nil {
			return nil, eris.Wrapf(err, "scenario: line %d", line)
		}
		if err := t.Append(rec.ID, row); err != nil {
			return nil, eris.Wrapf(err, "scenario: line %d", line)
		}
	}
	return t, nil
}

func (rec record) row() (Row, error) {
	if rec.SignatureType == nil && rec.Use == nil && rec.Greenspace == nil && rec.JobTypes == nil {
		return UnchangedRow(), nil
	}
	if rec.SignatureType == nil {
		return Row{}, eris.Errorf("%s: signature_type is blank", rec.ID)
	}
	row := Row{SignatureType: *rec.SignatureType}
	if rec.Use != nil {
		row.Use = *rec.Use
	}
	if rec.Greenspace != nil {
		row.Greenspace = *rec.Greenspace
	}
	if rec.JobTypes != nil {
		row.JobTypes = *rec.JobTypes
	}
	return row, nil
}

// WriteCSV writes t with indexColumn as the identifier header. Unchanged
// rows are written with blank scenario cells.
func WriteCSV(w io.Writer, t *Table, indexColumn string) error {
	if indexColumn == "" {
		indexColumn = DefaultIndexColumn
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{indexColumn, "signature_type", "use", "greenspace", "job_types"}); err != nil {
		return eris.Wrap(err, "scenario: write header")
	}

	enc := csvutil.NewEncoder(cw)
	enc.AutoHeader = false
	for i, id := range t.index {
		rec := record{ID: id}
		if r := t.rows[i]; !r.Unchanged {
			rec.SignatureType = &r.SignatureType
			rec.Use = &r.Use
			rec.Greenspace = &r.Greenspace
			rec.JobTypes = &r.JobTypes
		}
		if err := enc.Encode(rec); err != nil {
			return eris.Wrapf(err, "scenario: encode %s", id)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "scenario: flush")
}
