package session

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/bytedance/sonic"
	"github.com/vk/recsexplorer/internal/cachestore"
	"github.com/vk/recsexplorer/internal/pipeline"
)

// SchemaVersion is the version written into every session document.
const SchemaVersion = 1

// Pair is one map entry, encoded as a two element JSON array.
type Pair[K ~string, V any] struct {
	Key   K
	Value V
}

func (p Pair[K, V]) MarshalJSON() ([]byte, error) {
	return sonic.ConfigStd.Marshal([2]any{p.Key, p.Value})
}

func (p *Pair[K, V]) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := sonic.ConfigStd.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("map entry: want 2 elements, got %d", len(raw))
	}
	if err := sonic.ConfigStd.Unmarshal(raw[0], &p.Key); err != nil {
		return fmt.Errorf("map entry key: %w", err)
	}
	if err := sonic.ConfigStd.Unmarshal(raw[1], &p.Value); err != nil {
		return fmt.Errorf("map entry %q: %w", p.Key, err)
	}
	return nil
}

func toPairs[K ~string, V any](m map[K]V) []Pair[K, V] {
	pairs := make([]Pair[K, V], 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair[K, V]{Key: k, Value: v})
	}
	slices.SortFunc(pairs, func(a, b Pair[K, V]) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return pairs
}

func fromPairs[K ~string, V any](pairs []Pair[K, V]) map[K]V {
	m := make(map[K]V, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.Value
	}
	return m
}

// PipelineDoc is the persisted form of a pipeline.Snapshot.
type PipelineDoc struct {
	Stages        []Pair[pipeline.StageID, pipeline.Stage]       `json:"stages"`
	Forks         []Pair[pipeline.ForkID, pipeline.Fork]         `json:"forks"`
	Inputs        []Pair[pipeline.InputID, pipeline.InputSource] `json:"inputs"`
	ActiveInputID pipeline.InputID                               `json:"activeInputId"`
	ActiveForkID  pipeline.ForkID                                `json:"activeForkId"`
	CursorStageID pipeline.StageID                               `json:"cursorStageId,omitempty"`
}

type UndoDoc struct {
	Label     string      `json:"label"`
	Snapshot  PipelineDoc `json:"snapshot"`
	Timestamp time.Time   `json:"timestamp"`
}

type CacheConfigDoc struct {
	MaxMemoryBytes int64                `json:"maxMemoryBytes"`
	Policy         pipeline.CachePolicy `json:"cachePolicy"`
	Pinned         []pipeline.StageID   `json:"pinnedStageIds"`
}

// File is the session document stored in session.json.
type File struct {
	Version        int                        `json:"version"`
	SessionID      string                     `json:"sessionId"`
	Name           string                     `json:"name,omitempty"`
	CreatedAt      time.Time                  `json:"createdAt"`
	LastAccessedAt time.Time                  `json:"lastAccessedAt"`
	Pipeline       PipelineDoc                `json:"pipeline"`
	UndoStack      []UndoDoc                  `json:"undoStack"`
	RedoStack      []UndoDoc                  `json:"redoStack"`
	CacheConfig    CacheConfigDoc             `json:"cacheConfig"`
	CacheManifest  []cachestore.ManifestEntry `json:"cacheManifest"`
}

// ManifestEntry returns the cache manifest entry for key.
func (f *File) ManifestEntry(key pipeline.CacheKey) (cachestore.ManifestEntry, bool) {
	for _, e := range f.CacheManifest {
		if e.Key == key {
			return e, true
		}
	}
	return cachestore.ManifestEntry{}, false
}

// Metadata is the summary stored in meta.json and returned by List.
type Metadata struct {
	SessionID       string    `json:"sessionId"`
	Name            string    `json:"name,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	LastAccessedAt  time.Time `json:"lastAccessedAt"`
	InputPaths      []string  `json:"inputPaths"`
	StageCount      int       `json:"stageCount"`
	CacheSizeBytes  int64     `json:"cacheSizeBytes"`
	PipelineSummary string    `json:"pipelineSummary"`
}

func encodeSnapshot(s pipeline.Snapshot) PipelineDoc {
	return PipelineDoc{
		Stages:        toPairs(s.Stages),
		Forks:         toPairs(s.Forks),
		Inputs:        toPairs(s.Inputs),
		ActiveInputID: s.ActiveInputID,
		ActiveForkID:  s.ActiveForkID,
		CursorStageID: s.CursorStageID,
	}
}

func decodeSnapshot(d PipelineDoc) pipeline.Snapshot {
	stages := fromPairs(d.Stages)
	for id, st := range stages {
		if st.ChildIDs == nil {
			st.ChildIDs = []pipeline.StageID{}
			stages[id] = st
		}
	}
	return pipeline.Snapshot{
		Stages:        stages,
		Forks:         fromPairs(d.Forks),
		Inputs:        fromPairs(d.Inputs),
		ActiveInputID: d.ActiveInputID,
		ActiveForkID:  d.ActiveForkID,
		CursorStageID: d.CursorStageID,
	}
}

func encodeUndo(entries []pipeline.UndoEntry) []UndoDoc {
	docs := make([]UndoDoc, len(entries))
	for i, e := range entries {
		docs[i] = UndoDoc{Label: e.Label, Snapshot: encodeSnapshot(e.Snapshot), Timestamp: e.Timestamp}
	}
	return docs
}

func decodeUndo(docs []UndoDoc) []pipeline.UndoEntry {
	if len(docs) == 0 {
		return nil
	}
	entries := make([]pipeline.UndoEntry, len(docs))
	for i, d := range docs {
		entries[i] = pipeline.UndoEntry{Label: d.Label, Snapshot: decodeSnapshot(d.Snapshot), Timestamp: d.Timestamp}
	}
	return entries
}

func encodeCacheConfig(c pipeline.CacheConfig) CacheConfigDoc {
	pinned := make([]pipeline.StageID, 0, len(c.Pinned))
	for id := range c.Pinned {
		pinned = append(pinned, id)
	}
	slices.Sort(pinned)
	return CacheConfigDoc{MaxMemoryBytes: c.MaxMemoryBytes, Policy: c.Policy, Pinned: pinned}
}

func decodeCacheConfig(d CacheConfigDoc) pipeline.CacheConfig {
	cfg := pipeline.DefaultCacheConfig()
	if d.MaxMemoryBytes > 0 {
		cfg.MaxMemoryBytes = d.MaxMemoryBytes
	}
	if d.Policy.Valid() {
		cfg.Policy = d.Policy
	}
	for _, id := range d.Pinned {
		cfg.Pinned[id] = struct{}{}
	}
	return cfg
}
