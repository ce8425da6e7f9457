package record

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
)

// Record is a single structured record. Values are whatever a JSON decoder
// produces: float64, string, bool, nil, []any and map[string]any.
type Record map[string]any

// ErrNotObject is returned when a line decodes to something other than a
// JSON object.
var ErrNotObject = errors.New("record: value is not a JSON object")

// Keys returns the record's top-level field names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the record, so operations that mutate records
// in place cannot corrupt a cached stage output.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case Record:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}

// Marshal encodes the record as a single compact JSON object with sorted keys.
func (r Record) Marshal() ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return sonic.ConfigStd.Marshal(map[string]any(r))
}

// String renders the record as JSON, or an error marker if it cannot be
// encoded.
func (r Record) String() string {
	b, err := r.Marshal()
	if err != nil {
		return fmt.Sprintf("<unencodable record: %v>", err)
	}
	return string(b)
}

// Parse decodes one JSON object.
func Parse(data []byte) (Record, error) {
	var m map[string]any
	if err := sonic.ConfigStd.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("record: decode: %w", err)
	}
	if m == nil {
		return nil, ErrNotObject
	}
	return Record(m), nil
}

// ParseLines decodes newline-delimited JSON. Blank lines are ignored; the
// first malformed line aborts with an error naming its line number.
func ParseLines(data []byte) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// FormatLines encodes records as newline-delimited JSON. A non-empty result
// always ends with a newline.
func FormatLines(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range records {
		b, err := r.Marshal()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// EstimateSize approximates the in-memory footprint of records. It encodes at
// most ten records and extrapolates, counting two bytes per character.
func EstimateSize(records []Record) int64 {
	n := len(records)
	if n == 0 {
		return 0
	}
	sample := min(10, n)
	var total int64
	for i := 0; i < sample; i++ {
		total += int64(len(records[i].String())) * 2
	}
	return (total*int64(n) + int64(sample)/2) / int64(sample)
}
