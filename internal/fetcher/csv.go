package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// CSVStream is the result of StreamCSV. Header holds the first record; Rows
// carries the remaining records and Err receives at most one error. Both
// channels are closed when processing completes.
type CSVStream struct {
	Header []string
	Rows   <-chan []string
	Err    <-chan error
}

// StreamCSV reads the header synchronously, then streams data rows on a channel.
// The caller must drain Rows.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (*CSVStream, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("csv: empty input")
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}
	trim(header, opts.TrimSpace)

	rowCh := make(chan []string, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			trim(record, opts.TrimSpace)

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return &CSVStream{Header: header, Rows: rowCh, Err: errCh}, nil
}

func trim(record []string, enabled bool) {
	if !enabled {
		return
	}
	for i, field := range record {
		record[i] = strings.TrimSpace(field)
	}
}
