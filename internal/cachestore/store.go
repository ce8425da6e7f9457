package cachestore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/vk/recsexplorer/internal/fsutil"
	"github.com/vk/recsexplorer/internal/pipeline"
	"github.com/vk/recsexplorer/internal/record"
)

// Dir is the cache subdirectory of a session directory.
const Dir = "cache"

const ext = ".jsonl"

// ManifestEntry describes one cache file. File is relative to the session
// directory.
type ManifestEntry struct {
	Key           pipeline.CacheKey `json:"key"`
	RecordCount   int               `json:"recordCount"`
	FieldNames    []string          `json:"fieldNames"`
	SizeBytes     int64             `json:"sizeBytes"`
	ComputedAt    time.Time         `json:"computedAt"`
	ComputeTimeMs int64             `json:"computeTimeMs"`
	File          string            `json:"file"`
	// Text marks entries whose stage produced text lines instead of records.
	Text bool `json:"text,omitempty"`
}

// Store reads and writes cache files for one session directory.
type Store struct {
	SessionDir string
}

func New(sessionDir string) *Store {
	return &Store{SessionDir: sessionDir}
}

// FileName returns the cache file name for an (input, stage) pair.
func FileName(input pipeline.InputID, stage pipeline.StageID) string {
	return string(input) + "-" + string(stage) + ext
}

func (s *Store) cacheDir() string { return filepath.Join(s.SessionDir, Dir) }

// Write stores one result and returns its manifest entry.
func (s *Store) Write(result *pipeline.CachedResult) (ManifestEntry, error) {
	if err := os.MkdirAll(s.cacheDir(), 0o755); err != nil {
		return ManifestEntry{}, fmt.Errorf("create cache dir: %w", err)
	}

	name := FileName(result.InputID, result.StageID)
	entry := ManifestEntry{
		Key:           pipeline.Key(result.InputID, result.StageID),
		RecordCount:   result.RecordCount,
		FieldNames:    result.FieldNames,
		SizeBytes:     result.SizeBytes,
		ComputedAt:    result.ComputedAt,
		ComputeTimeMs: result.ComputeTime.Milliseconds(),
		File:          Dir + "/" + name,
	}
	if entry.FieldNames == nil {
		entry.FieldNames = []string{}
	}

	var data []byte
	if len(result.Records) == 0 && len(result.Lines) > 0 {
		entry.Text = true
		data = []byte(strings.Join(result.Lines, "\n") + "\n")
	} else {
		var err error
		data, err = record.FormatLines(result.Records)
		if err != nil {
			return ManifestEntry{}, fmt.Errorf("encode %s: %w", entry.Key, err)
		}
	}

	if err := os.WriteFile(filepath.Join(s.cacheDir(), name), data, 0o644); err != nil {
		return ManifestEntry{}, fmt.Errorf("write %s: %w", name, err)
	}
	return entry, nil
}

// WriteAll stores every entry of cache and removes cache files that no
// longer belong to any entry. Retained entries whose files are still on disk
// stay in the manifest when cache has no newer result for them. The manifest
// is returned in key order.
func (s *Store) WriteAll(cache map[pipeline.CacheKey]*pipeline.CachedResult, retain ...ManifestEntry) ([]ManifestEntry, error) {
	manifest := make([]ManifestEntry, 0, len(cache)+len(retain))
	keep := make(map[string]struct{}, len(cache)+len(retain))
	for _, key := range sortedKeys(cache) {
		entry, err := s.Write(cache[key])
		if err != nil {
			return nil, err
		}
		manifest = append(manifest, entry)
		keep[filepath.Base(entry.File)] = struct{}{}
	}
	for _, entry := range retain {
		if _, ok := cache[entry.Key]; ok {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.SessionDir, filepath.FromSlash(entry.File))); err != nil {
			continue
		}
		manifest = append(manifest, entry)
		keep[filepath.Base(entry.File)] = struct{}{}
	}
	if err := s.prune(keep); err != nil {
		return nil, err
	}
	slices.SortFunc(manifest, func(a, b ManifestEntry) int { return strings.Compare(string(a.Key), string(b.Key)) })
	return manifest, nil
}

func (s *Store) prune(keep map[string]struct{}) error {
	files, err := fsutil.FindFilesByExtension(s.cacheDir(), ext)
	if err != nil {
		return fmt.Errorf("scan cache dir: %w", err)
	}
	for _, f := range files {
		if _, ok := keep[filepath.Base(f)]; ok {
			continue
		}
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale cache file: %w", err)
		}
	}
	return nil
}

// Read loads the payload an entry points at. Lines that are not JSON
// objects are skipped.
func (s *Store) Read(entry ManifestEntry) (*pipeline.CachedResult, error) {
	input, stage := pipeline.SplitKey(entry.Key)
	if input == "" || stage == "" {
		return nil, fmt.Errorf("malformed cache key %q", entry.Key)
	}

	data, err := os.ReadFile(filepath.Join(s.SessionDir, filepath.FromSlash(entry.File)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", entry.File, err)
	}

	result := &pipeline.CachedResult{
		Key:         entry.Key,
		StageID:     stage,
		InputID:     input,
		RecordCount: entry.RecordCount,
		FieldNames:  entry.FieldNames,
		ComputedAt:  entry.ComputedAt,
		SizeBytes:   entry.SizeBytes,
		ComputeTime: time.Duration(entry.ComputeTimeMs) * time.Millisecond,
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if entry.Text {
			result.Lines = append(result.Lines, string(line))
			continue
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 || !gjson.ValidBytes(line) || !gjson.ParseBytes(line).IsObject() {
			continue
		}
		rec, err := record.Parse(line)
		if err != nil {
			continue
		}
		result.Records = append(result.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", entry.File, err)
	}
	if result.Records == nil {
		result.Records = []record.Record{}
	}
	return result, nil
}

// Remove deletes the cache file for an (input, stage) pair. A missing file
// is not an error.
func (s *Store) Remove(input pipeline.InputID, stage pipeline.StageID) error {
	err := os.Remove(filepath.Join(s.cacheDir(), FileName(input, stage)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

// Clear deletes every cache file of the session.
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.cacheDir()); err != nil {
		return fmt.Errorf("clear cache dir: %w", err)
	}
	return nil
}

func sortedKeys(cache map[pipeline.CacheKey]*pipeline.CachedResult) []pipeline.CacheKey {
	keys := make([]pipeline.CacheKey, 0, len(cache))
	for k := range cache {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
