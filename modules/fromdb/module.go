// Package fromdb provides the "fromdb" self-contained input operation. It
// runs a query against a SQLite database file and emits one record per row.
package fromdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/record"
	_ "modernc.org/sqlite"
)

// Module implements the operation.Module interface for this package.
type Module struct{}

// Register registers the fromdb factory.
func (m *Module) Register(r *operation.Registry) {
	r.Register("fromdb", New)
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type fromDB struct {
	ctx    context.Context
	next   operation.Sink
	dbFile string
	query  string
}

// New parses --dbfile plus one of --table or --sql.
func New(ctx context.Context, next operation.Sink, args []string) (operation.Operation, error) {
	fs := operation.NewFlagSet("fromdb")
	dbFile := fs.String("dbfile", "", "path to the SQLite database")
	table := fs.String("table", "", "dump every row of this table")
	query := fs.String("sql", "", "SQL query to run")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *dbFile == "" {
		return nil, errors.New("--dbfile is required")
	}
	switch {
	case *table != "" && *query != "":
		return nil, errors.New("--table and --sql are mutually exclusive")
	case *table != "":
		if !tableName.MatchString(*table) {
			return nil, fmt.Errorf("invalid table name %q", *table)
		}
		*query = "SELECT * FROM " + *table
	case *query == "":
		return nil, errors.New("one of --table or --sql is required")
	}
	return &fromDB{ctx: ctx, next: next, dbFile: *dbFile, query: *query}, nil
}

// AcceptRecord is never called for a self-contained operation; anything that
// arrives is forwarded untouched.
func (f *fromDB) AcceptRecord(r record.Record) bool {
	return f.next.AcceptRecord(r)
}

// Finish runs the query and emits its rows.
func (f *fromDB) Finish() error {
	if err := f.emitRows(); err != nil {
		return err
	}
	return f.next.Finish()
}

func (f *fromDB) emitRows() error {
	db, err := sql.Open("sqlite", "file:"+f.dbFile+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open %s: %w", f.dbFile, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(f.ctx, f.query)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		r := make(record.Record, len(cols))
		for i, c := range cols {
			r[c] = normalize(values[i])
		}
		if !f.next.AcceptRecord(r) {
			break
		}
	}
	return rows.Err()
}

// normalize maps driver values onto the JSON value space records use.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return t
	}
}
