package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sourcegraph/conc/pool"
	"github.com/vk/recsexplorer/internal/cachestore"
	"github.com/vk/recsexplorer/internal/ctxlog"
	"github.com/vk/recsexplorer/internal/fsutil"
	"github.com/vk/recsexplorer/internal/ids"
	"github.com/vk/recsexplorer/internal/metrics"
	"github.com/vk/recsexplorer/internal/pipeline"
	"github.com/vk/recsexplorer/internal/selectors"
)

const (
	// FileName holds the full session document.
	FileName = "session.json"
	// MetaFileName holds the summary read by List.
	MetaFileName = "meta.json"

	// DefaultMaxAge is how long an untouched session survives Clean.
	DefaultMaxAge = 7 * 24 * time.Hour

	summaryStages = 5
	ioWorkers     = 8
)

var (
	// ErrNotFound is returned when no session exists under an id.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidID is returned for ids that are not a single path element.
	ErrInvalidID = errors.New("invalid session id")
)

// Manager stores sessions under a base directory.
type Manager struct {
	baseDir string
	now     func() time.Time
	newID   func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDs sets the generator for new session ids.
func WithIDs(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// NewManager returns a manager for sessions under baseDir. The directory is
// created on the first save.
func NewManager(baseDir string, opts ...Option) *Manager {
	m := &Manager{baseDir: baseDir, now: time.Now, newID: ids.New}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BaseDir returns the directory holding all sessions.
func (m *Manager) BaseDir() string { return m.baseDir }

// Dir returns the directory of a session.
func (m *Manager) Dir(id string) string { return filepath.Join(m.baseDir, id) }

func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Save writes the state's session document, metadata and cache files. The
// creation time of an existing session is kept. Retained manifest entries
// describe cache files from an earlier save that are still valid although
// they are not loaded in s.Cache.
func (m *Manager) Save(ctx context.Context, s pipeline.State, retain ...cachestore.ManifestEntry) (err error) {
	defer func() {
		if err != nil {
			metrics.SessionSaves.WithLabelValues("error").Inc()
			return
		}
		metrics.SessionSaves.WithLabelValues("ok").Inc()
	}()

	if err := validID(s.SessionID); err != nil {
		return err
	}
	dir := m.Dir(s.SessionID)
	_, logger := ctxlog.With(ctx, "sessionID", s.SessionID)
	logger.Debug("Saving session.", "dir", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	manifest, err := cachestore.New(dir).WriteAll(s.Cache, retain...)
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}

	now := m.now()
	created := now
	if prev, err := readJSON[Metadata](filepath.Join(dir, MetaFileName)); err == nil && !prev.CreatedAt.IsZero() {
		created = prev.CreatedAt
	}

	file := File{
		Version:        SchemaVersion,
		SessionID:      s.SessionID,
		Name:           s.SessionName,
		CreatedAt:      created,
		LastAccessedAt: now,
		Pipeline:       encodeSnapshot(s.Snapshot),
		UndoStack:      encodeUndo(s.UndoStack),
		RedoStack:      encodeUndo(s.RedoStack),
		CacheConfig:    encodeCacheConfig(s.CacheConfig),
		CacheManifest:  manifest,
	}
	if err := writeJSON(filepath.Join(dir, FileName), file); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, MetaFileName), metadataFor(s, created, now)); err != nil {
		return err
	}
	logger.Debug("Session saved.", "cacheEntries", len(manifest))
	return nil
}

// SaveAs saves the state as a new session with the given name and returns
// the state bound to that session.
func (m *Manager) SaveAs(ctx context.Context, s pipeline.State, name string) (pipeline.State, error) {
	s.SessionID = m.newID()
	s.SessionDir = m.Dir(s.SessionID)
	s.SessionName = name
	if err := m.Save(ctx, s); err != nil {
		return pipeline.State{}, err
	}
	return s, nil
}

// Load reads a session document and records the access time.
func (m *Manager) Load(ctx context.Context, id string) (*File, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	dir := m.Dir(id)
	path := filepath.Join(dir, FileName)
	file, err := readJSON[File](path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	file.LastAccessedAt = m.now()
	if err := writeJSON(path, file); err != nil {
		return nil, err
	}
	metaPath := filepath.Join(dir, MetaFileName)
	if meta, err := readJSON[Metadata](metaPath); err == nil {
		meta.LastAccessedAt = file.LastAccessedAt
		if err := writeJSON(metaPath, meta); err != nil {
			return nil, err
		}
	}
	ctxlog.FromContext(ctx).Debug("Session loaded.", "sessionID", id, "stages", len(file.Pipeline.Stages))
	return &file, nil
}

// Hydrate rebuilds a live state from a loaded document. The cache starts
// empty; cached payloads are read on demand with ReadCache.
func (m *Manager) Hydrate(f *File) pipeline.State {
	return pipeline.State{
		Snapshot:     decodeSnapshot(f.Pipeline),
		Cache:        map[pipeline.CacheKey]*pipeline.CachedResult{},
		CacheConfig:  decodeCacheConfig(f.CacheConfig),
		FocusedPanel: pipeline.PanelPipeline,
		Inspector:    pipeline.DefaultInspector(),
		UndoStack:    decodeUndo(f.UndoStack),
		RedoStack:    decodeUndo(f.RedoStack),
		SessionID:    f.SessionID,
		SessionDir:   m.Dir(f.SessionID),
		SessionName:  f.Name,
	}
}

// Resume loads and hydrates a session in one step.
func (m *Manager) Resume(ctx context.Context, id string) (pipeline.State, *File, error) {
	f, err := m.Load(ctx, id)
	if err != nil {
		return pipeline.State{}, nil, err
	}
	return m.Hydrate(f), f, nil
}

// ReadCache reads one persisted cache entry of a session.
func (m *Manager) ReadCache(f *File, key pipeline.CacheKey) (*pipeline.CachedResult, error) {
	entry, ok := f.ManifestEntry(key)
	if !ok {
		return nil, fmt.Errorf("no cached output for %s", key)
	}
	return cachestore.New(m.Dir(f.SessionID)).Read(entry)
}

// Rename changes a session's display name in both its document and its
// metadata.
func (m *Manager) Rename(ctx context.Context, id, name string) error {
	if err := validID(id); err != nil {
		return err
	}
	dir := m.Dir(id)
	found := false

	path := filepath.Join(dir, FileName)
	if file, err := readJSON[File](path); err == nil {
		found = true
		file.Name = name
		if err := writeJSON(path, file); err != nil {
			return err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	metaPath := filepath.Join(dir, MetaFileName)
	if meta, err := readJSON[Metadata](metaPath); err == nil {
		found = true
		meta.Name = name
		if err := writeJSON(metaPath, meta); err != nil {
			return err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ctxlog.FromContext(ctx).Debug("Session renamed.", "sessionID", id, "name", name)
	return nil
}

// List returns the metadata of every readable session, most recently
// accessed first.
func (m *Manager) List(ctx context.Context) ([]Metadata, error) {
	dirs, err := fsutil.ListDirs(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	logger := ctxlog.FromContext(ctx)

	p := pool.NewWithResults[*Metadata]().WithMaxGoroutines(ioWorkers)
	for _, d := range dirs {
		p.Go(func() *Metadata {
			meta, err := readJSON[Metadata](filepath.Join(m.Dir(d), MetaFileName))
			if err != nil {
				logger.Debug("Skipping unreadable session.", "dir", d, "error", err)
				return nil
			}
			return &meta
		})
	}

	var metas []Metadata
	for _, meta := range p.Wait() {
		if meta != nil {
			metas = append(metas, *meta)
		}
	}
	slices.SortStableFunc(metas, func(a, b Metadata) int {
		return b.LastAccessedAt.Compare(a.LastAccessedAt)
	})
	return metas, nil
}

// Clean deletes sessions not accessed within maxAge and returns how many
// were removed. A non-positive maxAge means DefaultMaxAge. Sessions without
// readable metadata are aged by their directory's modification time.
func (m *Manager) Clean(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	dirs, err := fsutil.ListDirs(m.baseDir)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	logger := ctxlog.FromContext(ctx)
	cutoff := m.now().Add(-maxAge)

	var removed atomic.Int64
	p := pool.New().WithErrors().WithMaxGoroutines(ioWorkers)
	for _, d := range dirs {
		p.Go(func() error {
			dir := m.Dir(d)
			last, ok := m.lastAccess(dir)
			if !ok || !last.Before(cutoff) {
				return nil
			}
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("remove session %s: %w", d, err)
			}
			logger.Debug("Removed expired session.", "dir", d, "lastAccessedAt", last)
			removed.Add(1)
			return nil
		})
	}
	err = p.Wait()
	return int(removed.Load()), err
}

func (m *Manager) lastAccess(dir string) (time.Time, bool) {
	if meta, err := readJSON[Metadata](filepath.Join(dir, MetaFileName)); err == nil && !meta.LastAccessedAt.IsZero() {
		return meta.LastAccessedAt, true
	}
	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// FindByInputPath returns the most recently accessed session that reads
// path. An exact path match anywhere wins over a base name match.
func (m *Manager) FindByInputPath(ctx context.Context, path string) (*Metadata, error) {
	metas, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	want := filepath.Clean(path)
	for i := range metas {
		if slices.ContainsFunc(metas[i].InputPaths, func(p string) bool { return filepath.Clean(p) == want }) {
			return &metas[i], nil
		}
	}
	base := filepath.Base(want)
	for i := range metas {
		if slices.ContainsFunc(metas[i].InputPaths, func(p string) bool { return filepath.Base(p) == base }) {
			return &metas[i], nil
		}
	}
	return nil, fmt.Errorf("%w for input %s", ErrNotFound, path)
}

// Delete removes a session directory.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	dir := m.Dir(id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	ctxlog.FromContext(ctx).Debug("Session deleted.", "sessionID", id)
	return nil
}

// VerifyInputFiles returns the paths of file inputs that no longer exist.
func VerifyInputFiles(s pipeline.State) []string {
	var missing []string
	for _, path := range inputPaths(s) {
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, path)
		}
	}
	return missing
}

func inputPaths(s pipeline.State) []string {
	paths := []string{}
	for _, in := range toPairs(s.Inputs) {
		if in.Value.Source.Kind == pipeline.SourceFile {
			paths = append(paths, in.Value.Source.Path)
		}
	}
	return paths
}

func metadataFor(s pipeline.State, created, accessed time.Time) Metadata {
	var names []string
	if fork, ok := s.ActiveFork(); ok {
		for _, id := range fork.StageIDs {
			names = append(names, s.Stages[id].Config.OperationName)
		}
	}
	return Metadata{
		SessionID:       s.SessionID,
		Name:            s.SessionName,
		CreatedAt:       created,
		LastAccessedAt:  accessed,
		InputPaths:      inputPaths(s),
		StageCount:      len(names),
		CacheSizeBytes:  selectors.TotalCacheSize(s),
		PipelineSummary: Summary(names),
	}
}

// Summary renders stage operation names for listings.
func Summary(names []string) string {
	if len(names) == 0 {
		return "empty pipeline"
	}
	if len(names) <= summaryStages {
		return strings.Join(names, " | ")
	}
	return fmt.Sprintf("%s (+%d more)", strings.Join(names[:summaryStages], " | "), len(names)-summaryStages)
}

func readJSON[T any](path string) (T, error) {
	var v T
	data, err := os.ReadFile(path)
	if err != nil {
		return v, err
	}
	if err := sonic.ConfigStd.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return v, nil
}

// writeJSON replaces path atomically.
func writeJSON(path string, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
