// Package fromsplit provides the "fromsplit" line-oriented input operation.
// Each line is split on a delimiter and the pieces become record fields.
package fromsplit

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/record"
)

// Module implements the operation.Module interface for this package.
type Module struct{}

// Register registers the fromsplit factory.
func (m *Module) Register(r *operation.Registry) {
	r.Register("fromsplit", New)
}

type fromSplit struct {
	next   operation.Sink
	split  func(string) []string
	keys   []string
	header bool
}

// New parses -d/--delim, --regex, -k/--key and --header.
func New(_ context.Context, next operation.Sink, args []string) (operation.Operation, error) {
	fs := operation.NewFlagSet("fromsplit")
	delim := fs.StringP("delim", "d", ",", "field delimiter")
	isRegex := fs.Bool("regex", false, "treat the delimiter as a regular expression")
	keys := fs.StringSliceP("key", "k", nil, "field names, in column order")
	header := fs.Bool("header", false, "take field names from the first line")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *delim == "" {
		return nil, errors.New("delimiter must not be empty")
	}

	f := &fromSplit{next: next, keys: *keys, header: *header}
	if *isRegex {
		re, err := regexp.Compile(*delim)
		if err != nil {
			return nil, err
		}
		f.split = func(s string) []string { return re.Split(s, -1) }
	} else {
		d := *delim
		f.split = func(s string) []string { return strings.Split(s, d) }
	}
	return f, nil
}

// AcceptLine splits one input line into a record.
func (f *fromSplit) AcceptLine(line string) bool {
	parts := f.split(line)
	if f.header {
		f.header = false
		if len(f.keys) == 0 {
			f.keys = parts
		}
		return true
	}
	r := make(record.Record, len(parts))
	for i, p := range parts {
		if i < len(f.keys) && f.keys[i] != "" {
			r[f.keys[i]] = p
		} else {
			r[strconv.Itoa(i)] = p
		}
	}
	return f.next.AcceptRecord(r)
}

func (f *fromSplit) AcceptRecord(r record.Record) bool {
	return f.next.AcceptRecord(r)
}

func (f *fromSplit) Finish() error {
	return f.next.Finish()
}
