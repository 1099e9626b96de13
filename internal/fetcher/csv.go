package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the CSV reader.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // 0 = none
	LazyQuotes bool
	TrimSpace  bool
}

// Table is a header row plus data rows, as exported by spreadsheets.
type Table struct {
	Header []string
	Rows   [][]string
}

// HeaderKey lower-cases a column title and joins its words with
// underscores, so "Founded Year" becomes "founded_year".
func HeaderKey(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), "_")
}

// Records maps every row onto the header keys. Blank cells and untitled
// columns are omitted, as are rows with no values at all.
func (t Table) Records() []map[string]string {
	keys := make([]string, len(t.Header))
	for i, h := range t.Header {
		keys[i] = HeaderKey(h)
	}

	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(keys))
		for i, cell := range row {
			if i >= len(keys) || keys[i] == "" {
				continue
			}
			if v := strings.TrimSpace(cell); v != "" {
				rec[keys[i]] = v
			}
		}
		if len(rec) > 0 {
			out = append(out, rec)
		}
	}
	return out
}

// StreamCSV sends rows to a channel. Both channels are closed when reading
// ends.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

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
			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV reads r into a Table, taking the first row as the header.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) (Table, error) {
	rowCh, errCh := StreamCSV(ctx, r, opts)

	var t Table
	for row := range rowCh {
		if t.Header == nil {
			t.Header = row
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	if err := <-errCh; err != nil {
		return Table{}, err
	}
	return t, nil
}
