package scenario

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTable(t *testing.T) {
	tbl, err := NewTable(
		[]string{"E00042786", "E00042787"},
		[]Row{{SignatureType: 6, Greenspace: 0.2}, UnchangedRow()},
	)
	require.NoError(t, err)

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, []string{"E00042786", "E00042787"}, tbl.Index())
	assert.Equal(t, 1, tbl.Changed())

	id, row := tbl.At(0)
	assert.Equal(t, "E00042786", id)
	assert.Equal(t, 6, row.SignatureType)

	row, ok := tbl.Lookup("E00042787")
	require.True(t, ok)
	assert.True(t, row.Unchanged)

	_, ok = tbl.Lookup("E00000000")
	assert.False(t, ok)
}

func TestNewTable_Duplicate(t *testing.T) {
	_, err := NewTable([]string{"a", "a"}, []Row{{}, {}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateIndex)
}

func TestNewTable_LengthMismatch(t *testing.T) {
	_, err := NewTable([]string{"a"}, nil)
	assert.Error(t, err)
}

func TestAppend_EmptyID(t *testing.T) {
	var tbl Table
	assert.Error(t, tbl.Append("", Row{}))
}

func TestIndexIsCopy(t *testing.T) {
	tbl, err := NewTable([]string{"a"}, []Row{{}})
	require.NoError(t, err)
	idx := tbl.Index()
	idx[0] = "mutated"
	assert.Equal(t, []string{"a"}, tbl.Index())
}

func TestReadCSV(t *testing.T) {
	in := `geo_code,signature_type,use,greenspace,job_types
E00042786,6,0,0.2,0.5
E00042787,9,-0.5,,
E00042788,,,,
`
	tbl, err := ReadCSV(strings.NewReader(in), "")
	require.NoError(t, err)

	want := []Row{
		{SignatureType: 6, Use: 0, Greenspace: 0.2, JobTypes: 0.5},
		{SignatureType: 9, Use: -0.5},
		{Unchanged: true},
	}
	var got []Row
	for i := range tbl.Len() {
		_, r := tbl.At(i)
		got = append(got, r)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"E00042786", "E00042787", "E00042788"}, tbl.Index())
}

func TestReadCSV_OptionalColumnsDefault(t *testing.T) {
	in := "lsoa,signature_type\nE01006512,12\n"
	tbl, err := ReadCSV(strings.NewReader(in), "lsoa")
	require.NoError(t, err)

	row, ok := tbl.Lookup("E01006512")
	require.True(t, ok)
	assert.Equal(t, Row{SignatureType: 12}, row)
}

func TestReadCSV_MissingColumns(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("geo_code,use\nE1,0.1\n"), "")
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = ReadCSV(strings.NewReader("oa,signature_type\nE1,1\n"), "")
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		msg  string
	}{
		{"empty", "", "read header"},
		{"duplicate", "geo_code,signature_type\nE1,1\nE1,2\n", "line 3"},
		{"blank signature", "geo_code,signature_type,use\nE1,,0.3\n", "signature_type is blank"},
		{"not a number", "geo_code,signature_type\nE1,six\n", "decode line 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.in), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	tbl, err := NewTable(
		[]string{"E01006512", "E01006513"},
		[]Row{{SignatureType: 3, Use: 0.25, Greenspace: 0.1, JobTypes: 1}, UnchangedRow()},
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl, "lsoa"))
	assert.True(t, strings.HasPrefix(buf.String(), "lsoa,signature_type,use,greenspace,job_types\n"))
	assert.Contains(t, buf.String(), "E01006513,,,,\n")

	back, err := ReadCSV(&buf, "lsoa")
	require.NoError(t, err)
	assert.Equal(t, tbl.Index(), back.Index())
	for i := range tbl.Len() {
		_, want := tbl.At(i)
		_, got := back.At(i)
		assert.Equal(t, want, got)
	}
}

func TestSignatureName(t *testing.T) {
	assert.Equal(t, "Wild countryside", SignatureName(0))
	assert.Equal(t, "Accessible suburbia", SignatureName(6))
	assert.Equal(t, "Hyper concentrated urbanity", SignatureName(15))
	assert.Contains(t, SignatureName(16), "unknown")
	assert.True(t, ValidSignature(0))
	assert.False(t, ValidSignature(-1))
	assert.False(t, ValidSignature(16))
}
