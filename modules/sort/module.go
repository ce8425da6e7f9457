// Package sort provides the "sort" operation, which buffers every record and
// emits them ordered by one or more keys on Finish.
//
// A key is written as field[=flags]. Flags: "n" compares numerically, "-"
// reverses; "-n" does both. Several keys may be given with repeated -k flags
// or separated by commas. Records missing a key sort after those that have it.
package sort

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/record"
)

// Module implements the operation.Module interface for this package.
type Module struct{}

// Register registers the sort factory.
func (m *Module) Register(r *operation.Registry) {
	r.Register("sort", New)
}

type key struct {
	field   string
	numeric bool
	reverse bool
}

type sorter struct {
	next    operation.Sink
	keys    []key
	records []record.Record
}

// New parses the key list.
func New(_ context.Context, next operation.Sink, args []string) (operation.Operation, error) {
	fs := operation.NewFlagSet("sort")
	specs := fs.StringSliceP("key", "k", nil, "sort key, field[=n|-|-n]")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	keySpecs := append(*specs, fs.Args()...)
	if len(keySpecs) == 0 {
		return nil, errors.New("at least one sort key is required")
	}
	keys := make([]key, 0, len(keySpecs))
	for _, spec := range keySpecs {
		for _, part := range strings.Split(spec, ",") {
			k, err := parseKey(part)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
	}
	return &sorter{next: next, keys: keys}, nil
}

func parseKey(spec string) (key, error) {
	spec = strings.TrimSpace(spec)
	field, flags, _ := strings.Cut(spec, "=")
	if field == "" {
		return key{}, fmt.Errorf("invalid sort key %q", spec)
	}
	k := key{field: field}
	for _, c := range flags {
		switch c {
		case 'n':
			k.numeric = true
		case '-':
			k.reverse = true
		default:
			return key{}, fmt.Errorf("invalid sort key flag %q in %q", c, spec)
		}
	}
	return k, nil
}

func (s *sorter) AcceptRecord(r record.Record) bool {
	s.records = append(s.records, r)
	return true
}

func (s *sorter) Finish() error {
	slices.SortStableFunc(s.records, s.compare)
	for _, r := range s.records {
		if !s.next.AcceptRecord(r) {
			break
		}
	}
	s.records = nil
	return s.next.Finish()
}

func (s *sorter) compare(a, b record.Record) int {
	for _, k := range s.keys {
		av, aok := a[k.field]
		bv, bok := b[k.field]
		switch {
		case !aok && !bok:
			continue
		case !aok:
			return 1
		case !bok:
			return -1
		}
		var c int
		if k.numeric {
			c = compareNumbers(av, bv)
		} else {
			c = strings.Compare(text(av), text(bv))
		}
		if k.reverse {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func compareNumbers(a, b any) int {
	x, xok := number(a)
	y, yok := number(b)
	switch {
	case !xok && !yok:
		return 0
	case !xok:
		return 1
	case !yok:
		return -1
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func text(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
