package record

// FieldNames accumulates the union of field names seen across records, in
// order of first appearance. The zero value is ready to use.
type FieldNames struct {
	seen  map[string]struct{}
	order []string
}

// Add records every top-level field of r.
func (f *FieldNames) Add(r Record) {
	if f.seen == nil {
		f.seen = make(map[string]struct{})
	}
	for _, k := range r.Keys() {
		if _, ok := f.seen[k]; ok {
			continue
		}
		f.seen[k] = struct{}{}
		f.order = append(f.order, k)
	}
}

// List returns a copy of the accumulated names.
func (f *FieldNames) List() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Union is a convenience for computing the field-name union of a slice.
func Union(records []Record) []string {
	var f FieldNames
	for _, r := range records {
		f.Add(r)
	}
	return f.List()
}
