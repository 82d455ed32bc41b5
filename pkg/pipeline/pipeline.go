// Package pipeline wires format detection, table loading, redaction and
// serialization into a single read-transform-write pass.
package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aragossa/tablescrub/pkg/scanner"
	"github.com/aragossa/tablescrub/pkg/table"
)

// Result describes one completed pass.
type Result struct {
	Format   table.Format
	Rows     int
	Columns  int
	BytesIn  int
	Stats    scanner.Stats
	Duration time.Duration
}

// Process reads all of r, scrubs the table and writes it to w in the format
// it was read in. Nothing is written to w when the input cannot be loaded.
func Process(r io.Reader, w io.Writer) (*Result, error) {
	start := time.Now()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &UnexpectedError{Op: "reading input", Err: err}
	}

	format := table.Detect(string(raw))
	tbl, err := load(format, raw)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("format", string(format)).
		Int("rows", tbl.Rows()).
		Int("columns", len(tbl.Columns)).
		Int("bytes", len(raw)).
		Msg("table loaded")

	stats := scanner.RedactTable(tbl)
	log.Debug().
		Int("text_columns", stats.Columns).
		Int("cells_scanned", stats.CellsScanned).
		Int("cells_changed", stats.CellsChanged).
		Interface("rule_hits", stats.RuleHits).
		Msg("table redacted")

	if err := write(format, w, tbl); err != nil {
		return nil, &UnexpectedError{Op: "writing output", Err: err}
	}

	return &Result{
		Format:   format,
		Rows:     tbl.Rows(),
		Columns:  len(tbl.Columns),
		BytesIn:  len(raw),
		Stats:    stats,
		Duration: time.Since(start),
	}, nil
}

func load(format table.Format, raw []byte) (*table.Table, error) {
	switch format {
	case table.FormatJSON:
		return table.LoadJSON(raw)
	case table.FormatCSV:
		return table.LoadCSV(raw)
	default:
		return nil, &UnexpectedError{Op: "loading input", Err: fmt.Errorf("unsupported format %q", format)}
	}
}

func write(format table.Format, w io.Writer, tbl *table.Table) error {
	if format == table.FormatJSON {
		return table.WriteJSON(w, tbl)
	}
	return table.WriteCSV(w, tbl)
}
