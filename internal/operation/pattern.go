package operation

import "strings"

// Pattern describes how an operation expects to receive its input.
type Pattern int

const (
	// PatternRecords feeds one record at a time from the previous stage, or
	// from the loaded input source for the first stage.
	PatternRecords Pattern = iota
	// PatternSelfContained feeds nothing; Finish alone triggers generation.
	PatternSelfContained
	// PatternBulkContent hands the whole raw input to ParseContent.
	PatternBulkContent
	// PatternLines feeds one trimmed, non-empty raw line at a time.
	PatternLines
)

func (p Pattern) String() string {
	switch p {
	case PatternSelfContained:
		return "self-contained"
	case PatternBulkContent:
		return "bulk-content"
	case PatternLines:
		return "line-oriented"
	default:
		return "records"
	}
}

var selfContained = map[string]struct{}{
	"fromps":    {},
	"fromdb":    {},
	"frommongo": {},
	"fromenv":   {},
}

var bulkContent = map[string]struct{}{
	"fromcsv":       {},
	"fromjsonarray": {},
	"fromkv":        {},
	"fromxml":       {},
}

// IsSelfContained reports whether name generates its own records without
// any input.
func IsSelfContained(name string) bool {
	_, ok := selfContained[name]
	return ok
}

// IsBulkContent reports whether name consumes the whole raw input at once.
func IsBulkContent(name string) bool {
	_, ok := bulkContent[name]
	return ok
}

// IsInputOperation reports whether name produces records from an external
// source rather than transforming piped records.
func IsInputOperation(name string) bool {
	return strings.HasPrefix(name, "from") || IsSelfContained(name)
}

// Classify determines the input pattern for a constructed operation. Only
// input operations use the raw-input patterns; everything else is fed
// records.
func Classify(name string, op Operation) Pattern {
	if !IsInputOperation(name) {
		return PatternRecords
	}
	if IsSelfContained(name) {
		return PatternSelfContained
	}
	if IsBulkContent(name) {
		if _, ok := op.(ContentParser); ok {
			return PatternBulkContent
		}
	}
	if _, ok := op.(LineAcceptor); ok {
		return PatternLines
	}
	return PatternRecords
}
