// Package fromcsv provides the "fromcsv" bulk-content input operation. The
// whole raw input is parsed as CSV; each row becomes a record.
package fromcsv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/record"
)

// Module implements the operation.Module interface for this package.
type Module struct{}

// Register registers the fromcsv factory.
func (m *Module) Register(r *operation.Registry) {
	r.Register("fromcsv", New)
}

type fromCSV struct {
	next      operation.Sink
	header    bool
	keys      []string
	delimiter rune
	stopped   bool
}

// New parses --header, -k/--key and -d/--delim.
func New(_ context.Context, next operation.Sink, args []string) (operation.Operation, error) {
	fs := operation.NewFlagSet("fromcsv")
	header := fs.Bool("header", false, "take field names from the first row")
	keys := fs.StringSliceP("key", "k", nil, "field names, in column order")
	delim := fs.StringP("delim", "d", ",", "field delimiter")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if len([]rune(*delim)) != 1 {
		return nil, fmt.Errorf("delimiter must be a single character, got %q", *delim)
	}
	return &fromCSV{
		next:      next,
		header:    *header,
		keys:      *keys,
		delimiter: []rune(*delim)[0],
	}, nil
}

// ParseContent parses content and forwards one record per row.
func (f *fromCSV) ParseContent(content string) error {
	rd := csv.NewReader(strings.NewReader(content))
	rd.Comma = f.delimiter
	rd.FieldsPerRecord = -1
	rd.TrimLeadingSpace = true

	keys := f.keys
	first := true
	for {
		row, err := rd.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse csv: %w", err)
		}
		if first && f.header {
			first = false
			if len(keys) == 0 {
				keys = row
			}
			continue
		}
		first = false
		if !f.next.AcceptRecord(toRecord(keys, row)) {
			f.stopped = true
			return nil
		}
	}
}

func toRecord(keys, row []string) record.Record {
	r := make(record.Record, len(row))
	for i, v := range row {
		if i < len(keys) && keys[i] != "" {
			r[keys[i]] = v
		} else {
			r[strconv.Itoa(i)] = v
		}
	}
	return r
}

// AcceptRecord passes records through unchanged; fromcsv only consumes raw
// content.
func (f *fromCSV) AcceptRecord(r record.Record) bool {
	if f.stopped {
		return false
	}
	return f.next.AcceptRecord(r)
}

func (f *fromCSV) Finish() error {
	return f.next.Finish()
}
