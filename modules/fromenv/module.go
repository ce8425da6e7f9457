// Package fromenv provides the "fromenv" self-contained input operation,
// which emits one record per process environment variable.
package fromenv

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/record"
)

// Module implements the operation.Module interface for this package.
type Module struct{}

// Register registers the fromenv factory.
func (m *Module) Register(r *operation.Registry) {
	r.Register("fromenv", New)
}

type fromEnv struct {
	next    operation.Sink
	prefix  string
	environ func() []string
}

// New parses --prefix.
func New(_ context.Context, next operation.Sink, args []string) (operation.Operation, error) {
	fs := operation.NewFlagSet("fromenv")
	prefix := fs.String("prefix", "", "only variables whose name starts with this prefix")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return &fromEnv{next: next, prefix: *prefix, environ: os.Environ}, nil
}

func (f *fromEnv) AcceptRecord(r record.Record) bool {
	return f.next.AcceptRecord(r)
}

// Finish emits {name, value} records sorted by name.
func (f *fromEnv) Finish() error {
	vars := make(map[string]string)
	for _, e := range f.environ() {
		pair := strings.SplitN(e, "=", 2)
		if len(pair) == 2 && strings.HasPrefix(pair[0], f.prefix) {
			vars[pair[0]] = pair[1]
		}
	}
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !f.next.AcceptRecord(record.Record{"name": name, "value": vars[name]}) {
			break
		}
	}
	return f.next.Finish()
}
