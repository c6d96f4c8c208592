package ingest

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the CSV candidate parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// ReadCSV parses candidate rows from a CSV stream. The first row must be
// a header naming at least one identity column (profile URL or email).
func ReadCSV(ctx context.Context, r io.Reader, origin string, opts CSVOptions) (*Result, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // allow variable fields

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("csv: empty file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}

	cols := resolveColumns(header)
	if !cols.found() {
		return nil, eris.New("csv: header has no identity column (linkedin_url or email)")
	}

	res := &Result{}
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}

		row, err := reader.Read()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}

		cand, ok := cols.candidate(row, origin)
		if !ok {
			res.Skipped++
			continue
		}
		res.Candidates = append(res.Candidates, cand)
	}
}
