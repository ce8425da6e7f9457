package operation

import "github.com/vk/recsexplorer/internal/record"

// Interceptor is an interception sink: it stands in for the next pipeline
// connection and captures everything an operation emits.
type Interceptor struct {
	records []record.Record
	lines   []string
	fields  record.FieldNames
	count   int
}

// NewInterceptor returns an empty interceptor.
func NewInterceptor() *Interceptor {
	return &Interceptor{}
}

// AcceptRecord stores a private copy of r.
func (i *Interceptor) AcceptRecord(r record.Record) bool {
	i.count++
	i.fields.Add(r)
	i.records = append(i.records, r.Clone())
	return true
}

// AcceptLine stores a raw output line.
func (i *Interceptor) AcceptLine(line string) bool {
	i.lines = append(i.lines, line)
	return true
}

// Finish is a no-op; results are read through the accessors.
func (i *Interceptor) Finish() error { return nil }

// Records returns the captured records.
func (i *Interceptor) Records() []record.Record { return i.records }

// Lines returns the captured raw lines.
func (i *Interceptor) Lines() []string { return i.lines }

// FieldNames returns the union of captured field names.
func (i *Interceptor) FieldNames() []string { return i.fields.List() }

// Count returns how many records were captured.
func (i *Interceptor) Count() int { return i.count }
