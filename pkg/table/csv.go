package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

var csvNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// missingMarkers are cell spellings treated as "no value" when deciding a
// column's kind. The cells themselves are kept as loaded.
var missingMarkers = map[string]bool{
	"": true, "#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true,
	"-1.#QNAN": true, "-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true,
	"<NA>": true, "N/A": true, "NA": true, "NULL": true, "NaN": true,
	"None": true, "n/a": true, "nan": true, "null": true,
}

var boolLiterals = map[string]bool{
	"true": true, "True": true, "TRUE": true,
	"false": true, "False": true, "FALSE": true,
}

// LoadCSV parses comma-separated values with a header row. Short rows are
// padded with nulls; long rows are rejected.
func LoadCSV(raw []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, parseErrorf(FormatCSV, "no columns to parse from input")
	}
	if err != nil {
		return nil, &ParseError{Format: FormatCSV, Err: err}
	}

	t := New()
	names := uniqueNames(header)
	for _, name := range names {
		t.AddColumn(name)
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Format: FormatCSV, Err: err}
		}
		if len(record) > len(names) {
			line, _ := r.FieldPos(0)
			return nil, parseErrorf(FormatCSV, "expected %d fields in line %d, saw %d", len(names), line, len(record))
		}

		row := t.AppendRow()
		for i, field := range record {
			t.Columns[i].Cells[row] = String(field)
		}
	}

	for _, c := range t.Columns {
		c.Kind = classifyCSV(c)
	}
	return t, nil
}

// uniqueNames de-duplicates header names by suffixing ".1", ".2", ... and
// names blank headers "Unnamed: <index>".
func uniqueNames(header []string) []string {
	seen := make(map[string]bool, len(header))
	out := make([]string, len(header))
	for i, name := range header {
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		candidate := name
		for n := 1; seen[candidate]; n++ {
			candidate = name + "." + strconv.Itoa(n)
		}
		seen[candidate] = true
		out[i] = candidate
	}
	return out
}

func classifyCSV(c *Column) Kind {
	numeric, boolean, missing := true, true, false
	for _, v := range c.Cells {
		if v.IsNull() || missingMarkers[v.Raw] {
			missing = true
			continue
		}
		if !csvNumber.MatchString(v.Raw) {
			numeric = false
		}
		if !boolLiterals[v.Raw] {
			boolean = false
		}
		if !numeric && !boolean {
			return KindText
		}
	}
	switch {
	case numeric:
		// Also covers columns with no values at all.
		return KindNumeric
	case missing:
		// Booleans with gaps are not a boolean column.
		return KindText
	default:
		return KindBool
	}
}

// WriteCSV writes a header line followed by one line per row. Null cells
// become empty fields.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Names()); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	record := make([]string, len(t.Columns))
	for i := 0; i < t.Rows(); i++ {
		for j, c := range t.Columns {
			v := c.Cells[i]
			if v.IsNull() {
				record[j] = ""
				continue
			}
			record[j] = v.Raw
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}
