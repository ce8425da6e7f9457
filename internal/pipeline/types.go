package pipeline

import (
	"time"

	"github.com/vk/recsexplorer/internal/record"
)

type (
	StageID string
	ForkID  string
	InputID string
	// CacheKey identifies one stage's output for one input, as "inputId:stageId".
	CacheKey string
)

// Key builds the cache key for a stage's output on an input.
func Key(input InputID, stage StageID) CacheKey {
	return CacheKey(string(input) + ":" + string(stage))
}

// MaxUndoEntries bounds the undo stack; older entries are dropped first.
const MaxUndoEntries = 200

// DefaultMaxMemoryBytes is the default cache memory budget (512 MiB).
const DefaultMaxMemoryBytes int64 = 512 * 1024 * 1024

// StageConfig is the user-editable part of a stage.
type StageConfig struct {
	OperationName string   `json:"operationName"`
	Args          []string `json:"args"`
	Enabled       bool     `json:"enabled"`
}

// Stage is one configured step. ParentID is the stage immediately before it
// in its fork, or empty for the first stage.
type Stage struct {
	ID       StageID     `json:"id"`
	Config   StageConfig `json:"config"`
	ParentID StageID     `json:"parentId,omitempty"`
	ChildIDs []StageID   `json:"childIds"`
	ForkID   ForkID      `json:"forkId"`
	Position int         `json:"position"`
}

// Fork is an independently ordered sequence of stages. The root fork has no
// ParentForkID.
type Fork struct {
	ID               ForkID    `json:"id"`
	Name             string    `json:"name"`
	ForkPointStageID StageID   `json:"forkPointStageId,omitempty"`
	ParentForkID     ForkID    `json:"parentForkId,omitempty"`
	StageIDs         []StageID `json:"stageIds"`
	CreatedAt        time.Time `json:"createdAt"`
}

// IsRoot reports whether f is the root fork.
func (f Fork) IsRoot() bool { return f.ParentForkID == "" }

// SourceKind tells whether an input is read from disk or held in memory.
type SourceKind string

const (
	SourceFile     SourceKind = "file"
	SourceCaptured SourceKind = "stdin-capture"
)

// Source describes where an input's records come from.
type Source struct {
	Kind    SourceKind      `json:"kind"`
	Path    string          `json:"path,omitempty"`
	Records []record.Record `json:"records,omitempty"`
}

// FileSource returns a file-backed source.
func FileSource(path string) Source { return Source{Kind: SourceFile, Path: path} }

// CapturedSource returns a source over an already captured record list.
func CapturedSource(records []record.Record) Source {
	return Source{Kind: SourceCaptured, Records: records}
}

type InputSource struct {
	ID     InputID `json:"id"`
	Source Source  `json:"source"`
	Label  string  `json:"label"`
}

// CachedResult is the memoized output of one stage for one input.
type CachedResult struct {
	Key         CacheKey
	StageID     StageID
	InputID     InputID
	Records     []record.Record
	Lines       []string
	RecordCount int
	FieldNames  []string
	ComputedAt  time.Time
	SizeBytes   int64
	ComputeTime time.Duration
}

// CachePolicy selects which stage outputs are kept in the cache.
type CachePolicy string

const (
	CacheAll       CachePolicy = "all"
	CacheSelective CachePolicy = "selective"
	CacheNone      CachePolicy = "none"
)

// Valid reports whether p is a known policy.
func (p CachePolicy) Valid() bool {
	switch p {
	case CacheAll, CacheSelective, CacheNone:
		return true
	}
	return false
}

type CacheConfig struct {
	MaxMemoryBytes int64
	Policy         CachePolicy
	Pinned         map[StageID]struct{}
}

// IsPinned reports whether the stage is exempt from eviction.
func (c CacheConfig) IsPinned(id StageID) bool {
	_, ok := c.Pinned[id]
	return ok
}

// Snapshot is the undo/redo-relevant subset of State. It deliberately leaves
// out the cache and all transient UI state.
type Snapshot struct {
	Stages        map[StageID]Stage
	Forks         map[ForkID]Fork
	Inputs        map[InputID]InputSource
	ActiveInputID InputID
	ActiveForkID  ForkID
	CursorStageID StageID
}

type UndoEntry struct {
	Label     string
	Snapshot  Snapshot
	Timestamp time.Time
}

type Panel string

const (
	PanelPipeline  Panel = "pipeline"
	PanelInspector Panel = "inspector"
)

type ViewMode string

const (
	ViewTable       ViewMode = "table"
	ViewPrettyPrint ViewMode = "prettyprint"
	ViewJSON        ViewMode = "json"
	ViewSchema      ViewMode = "schema"
)

// NoColumn is the HighlightedColumn value when no column is highlighted.
const NoColumn = -1

type Inspector struct {
	ViewMode          ViewMode
	ScrollOffset      int
	SearchQuery       string
	HighlightedColumn int
}

// StageFailure is the most recent execution error and the stage it belongs to.
type StageFailure struct {
	StageID StageID
	Message string
}

// State is the full live model.
type State struct {
	Snapshot

	Cache        map[CacheKey]*CachedResult
	CacheConfig  CacheConfig
	FocusedPanel Panel
	Inspector    Inspector
	Executing    bool
	LastError    *StageFailure

	UndoStack []UndoEntry
	RedoStack []UndoEntry

	SessionID   string
	SessionDir  string
	SessionName string
}

// DefaultCacheConfig returns the cache configuration of a fresh state.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxMemoryBytes: DefaultMaxMemoryBytes,
		Policy:         CacheAll,
		Pinned:         map[StageID]struct{}{},
	}
}

// DefaultInspector returns the inspector state of a fresh state.
func DefaultInspector() Inspector {
	return Inspector{ViewMode: ViewTable, HighlightedColumn: NoColumn}
}
