// Package fromjsonarray provides the "fromjsonarray" bulk-content input
// operation: the raw input is one JSON array (optionally reached through a
// gjson path) whose object elements become records.
package fromjsonarray

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/record"
)

// Module implements the operation.Module interface for this package.
type Module struct{}

// Register registers the fromjsonarray factory.
func (m *Module) Register(r *operation.Registry) {
	r.Register("fromjsonarray", New)
}

var errNotArray = errors.New("input is not a JSON array")

type fromJSONArray struct {
	next operation.Sink
	path string
}

// New parses --path.
func New(_ context.Context, next operation.Sink, args []string) (operation.Operation, error) {
	fs := operation.NewFlagSet("fromjsonarray")
	path := fs.StringP("path", "p", "", "gjson path to the array inside the document")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return &fromJSONArray{next: next, path: *path}, nil
}

func (f *fromJSONArray) ParseContent(content string) error {
	if !gjson.Valid(content) {
		return errors.New("input is not valid JSON")
	}
	doc := gjson.Parse(content)
	if f.path != "" {
		doc = doc.Get(f.path)
	}
	if !doc.IsArray() {
		return errNotArray
	}

	var err error
	i := 0
	doc.ForEach(func(_, elem gjson.Result) bool {
		m, ok := elem.Value().(map[string]any)
		if !ok {
			err = fmt.Errorf("element %d: %w", i, record.ErrNotObject)
			return false
		}
		i++
		return f.next.AcceptRecord(record.Record(m))
	})
	return err
}

func (f *fromJSONArray) AcceptRecord(r record.Record) bool {
	return f.next.AcceptRecord(r)
}

func (f *fromJSONArray) Finish() error {
	return f.next.Finish()
}
