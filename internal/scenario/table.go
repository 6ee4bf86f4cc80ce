// Package scenario models the land-use change requested for each spatial
// unit: one row per unit, keyed by its identifier.
package scenario

import (
	"github.com/rotisserie/eris"
)

var (
	// ErrDuplicateIndex is returned when an identifier appears twice.
	ErrDuplicateIndex = eris.New("duplicate spatial unit identifier")
	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = eris.New("missing required column")
)

// Row is the requested change for one spatial unit.
type Row struct {
	// SignatureType is the target archetype, 0..15.
	SignatureType int
	// Use balances residential (-1) against commercial (1) land use.
	Use float64
	// Greenspace is the share of the unit covered by greenspace, 0..1.
	Greenspace float64
	// JobTypes balances blue collar (0) against white collar (1) jobs.
	JobTypes float64
	// Unchanged marks a unit with no requested change; the other fields
	// are meaningless when it is set.
	Unchanged bool
}

// UnchangedRow is the row given to a unit nobody asked to change.
func UnchangedRow() Row {
	return Row{Unchanged: true}
}

// Table is an ordered set of rows keyed by unique identifiers.
type Table struct {
	index []string
	rows  []Row
	pos   map[string]int
}

// NewTable builds a table from parallel identifier and row slices.
func NewTable(ids []string, rows []Row) (*Table, error) {
	if len(ids) != len(rows) {
		return nil, eris.Errorf("scenario: %d identifiers for %d rows", len(ids), len(rows))
	}
	t := &Table{
		index: make([]string, 0, len(ids)),
		rows:  make([]Row, 0, len(rows)),
		pos:   make(map[string]int, len(ids)),
	}
	for i, id := range ids {
		if err := t.Append(id, rows[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Append adds a row at the end of the table.
func (t *Table) Append(id string, row Row) error {
	if t.pos == nil {
		t.pos = make(map[string]int)
	}
	if id == "" {
		return eris.New("scenario: empty identifier")
	}
	if _, ok := t.pos[id]; ok {
		return eris.Wrapf(ErrDuplicateIndex, "scenario: %s", id)
	}
	t.pos[id] = len(t.index)
	t.index = append(t.index, id)
	t.rows = append(t.rows, row)
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.index)
}

// Index returns a copy of the identifiers in row order.
func (t *Table) Index() []string {
	return append([]string(nil), t.index...)
}

// At returns the identifier and row at position i.
func (t *Table) At(i int) (string, Row) {
	return t.index[i], t.rows[i]
}

// Lookup returns the row for id.
func (t *Table) Lookup(id string) (Row, bool) {
	i, ok := t.pos[id]
	if !ok {
		return Row{}, false
	}
	return t.rows[i], true
}

// Changed counts rows that request a change.
func (t *Table) Changed() int {
	n := 0
	for _, r := range t.rows {
		if !r.Unchanged {
			n++
		}
	}
	return n
}
