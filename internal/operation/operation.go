package operation

import (
	"context"

	"github.com/vk/recsexplorer/internal/record"
)

// Sink receives the records an operation emits.
type Sink interface {
	// AcceptRecord consumes one record. Returning false asks the producer to
	// stop sending.
	AcceptRecord(r record.Record) bool
	// Finish signals that no more records will arrive.
	Finish() error
}

// LineSink is implemented by sinks that also accept raw output lines, which
// output-style operations emit instead of records.
type LineSink interface {
	AcceptLine(line string) bool
}

// Operation is a constructed, argument-bound operation instance. Records
// fed to AcceptRecord are processed and forwarded to the sink it was built
// with; Finish flushes buffered state (sorting, aggregation, generation).
type Operation interface {
	Sink
}

// LineAcceptor is implemented by line-oriented input operations, which parse
// raw text one trimmed, non-empty line at a time.
type LineAcceptor interface {
	AcceptLine(line string) bool
}

// ContentParser is implemented by bulk-content input operations, which need
// the entire raw input in one call before Finish.
type ContentParser interface {
	ParseContent(content string) error
}

// Factory constructs an operation bound to next. Argument errors are
// reported here, before any record is fed.
type Factory func(ctx context.Context, next Sink, args []string) (Operation, error)

// Module is implemented by every compiled-in operation package.
type Module interface {
	Register(r *Registry)
}
