// Package selectors derives read-only views from pipeline state. Nothing
// here modifies the state it is given.
package selectors

import (
	"slices"
	"strings"

	"github.com/vk/recsexplorer/internal/pipeline"
)

// ActivePath returns the active fork's stages in order.
func ActivePath(s pipeline.State) []pipeline.Stage {
	fork, ok := s.ActiveFork()
	if !ok {
		return nil
	}
	return stagesOf(s, fork.StageIDs)
}

// EnabledStages returns the enabled stages of the active path.
func EnabledStages(s pipeline.State) []pipeline.Stage {
	return slices.DeleteFunc(ActivePath(s), func(st pipeline.Stage) bool { return !st.Config.Enabled })
}

// StageOutput returns the cached result of a stage for the active input.
func StageOutput(s pipeline.State, id pipeline.StageID) *pipeline.CachedResult {
	return s.Cache[pipeline.Key(s.ActiveInputID, id)]
}

// CursorStage returns the stage under the cursor.
func CursorStage(s pipeline.State) (pipeline.Stage, bool) {
	if s.CursorStageID == "" {
		return pipeline.Stage{}, false
	}
	st, ok := s.Stages[s.CursorStageID]
	return st, ok
}

// CursorOutput returns the cached result of the stage under the cursor.
func CursorOutput(s pipeline.State) *pipeline.CachedResult {
	if s.CursorStageID == "" {
		return nil
	}
	return StageOutput(s, s.CursorStageID)
}

// DownstreamStages returns the stages after id in the active fork.
func DownstreamStages(s pipeline.State, id pipeline.StageID) []pipeline.Stage {
	fork, ok := s.ActiveFork()
	if !ok {
		return nil
	}
	idx := slices.Index(fork.StageIDs, id)
	if idx < 0 {
		return nil
	}
	return stagesOf(s, fork.StageIDs[idx+1:])
}

// IsDownstreamOfError reports whether id comes after the failing stage in
// the active fork.
func IsDownstreamOfError(s pipeline.State, id pipeline.StageID) bool {
	if s.LastError == nil {
		return false
	}
	fork, ok := s.ActiveFork()
	if !ok {
		return false
	}
	errIdx := slices.Index(fork.StageIDs, s.LastError.StageID)
	idx := slices.Index(fork.StageIDs, id)
	return errIdx >= 0 && idx >= 0 && idx > errIdx
}

// TotalCacheSize sums SizeBytes over the cache.
func TotalCacheSize(s pipeline.State) int64 {
	var total int64
	for _, r := range s.Cache {
		total += r.SizeBytes
	}
	return total
}

func stagesOf(s pipeline.State, ids []pipeline.StageID) []pipeline.Stage {
	out := make([]pipeline.Stage, 0, len(ids))
	for _, id := range ids {
		if st, ok := s.Stages[id]; ok {
			out = append(out, st)
		}
	}
	return out
}

// Kind is a broad classification of what an operation does to its input.
type Kind string

const (
	KindInput     Kind = "input"
	KindReorder   Kind = "reorder"
	KindFilter    Kind = "filter"
	KindAggregate Kind = "aggregate"
	KindTransform Kind = "transform"
)

// StageKind classifies an operation by name.
func StageKind(operation string) Kind {
	if strings.HasPrefix(operation, "from") {
		return KindInput
	}
	switch operation {
	case "sort":
		return KindReorder
	case "grep", "head":
		return KindFilter
	case "collate", "substream":
		return KindAggregate
	}
	return KindTransform
}

// Delta compares a stage's output with its parent's.
type Delta struct {
	Kind Kind
	// ParentCount is -1 when the parent has no cached output.
	ParentCount   int
	OutputCount   int
	FieldsAdded   int
	FieldsRemoved int
	// IsTextOutput is set when the stage produced lines but no records.
	IsTextOutput bool
}

// StageDelta returns the delta for a cached stage, or false when the stage
// or its output is missing.
func StageDelta(s pipeline.State, id pipeline.StageID) (Delta, bool) {
	cached := StageOutput(s, id)
	st, ok := s.Stages[id]
	if cached == nil || !ok {
		return Delta{}, false
	}

	d := Delta{Kind: StageKind(st.Config.OperationName), ParentCount: -1}
	var parent *pipeline.CachedResult
	if st.ParentID != "" {
		parent = StageOutput(s, st.ParentID)
	}
	if parent != nil {
		d.ParentCount = parent.RecordCount
		d.FieldsAdded = countMissing(cached.FieldNames, parent.FieldNames)
		d.FieldsRemoved = countMissing(parent.FieldNames, cached.FieldNames)
	}

	d.IsTextOutput = len(cached.Records) == 0 && len(cached.Lines) > 0
	d.OutputCount = cached.RecordCount
	if d.IsTextOutput {
		d.OutputCount = len(cached.Lines)
	}
	return d, true
}

// countMissing counts names in a that are absent from b.
func countMissing(a, b []string) int {
	n := 0
	for _, name := range a {
		if !slices.Contains(b, name) {
			n++
		}
	}
	return n
}
