// Package head provides the "head" operation, which forwards the first N
// records and then asks its producer to stop.
package head

import (
	"context"
	"fmt"

	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/record"
)

// Module implements the operation.Module interface for this package.
type Module struct{}

// Register registers the head factory.
func (m *Module) Register(r *operation.Registry) {
	r.Register("head", New)
}

type head struct {
	next  operation.Sink
	limit int
	seen  int
}

// New parses -n (default 10).
func New(_ context.Context, next operation.Sink, args []string) (operation.Operation, error) {
	fs := operation.NewFlagSet("head")
	n := fs.IntP("count", "n", 10, "number of records to keep")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *n < 0 {
		return nil, fmt.Errorf("invalid record count %d", *n)
	}
	return &head{next: next, limit: *n}, nil
}

func (h *head) AcceptRecord(r record.Record) bool {
	if h.seen >= h.limit {
		return false
	}
	h.seen++
	if !h.next.AcceptRecord(r) {
		return false
	}
	return h.seen < h.limit
}

func (h *head) Finish() error {
	return h.next.Finish()
}
