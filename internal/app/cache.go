package app

import (
	"context"
	"slices"

	"github.com/vk/recsexplorer/internal/cachestore"
	"github.com/vk/recsexplorer/internal/ctxlog"
	"github.com/vk/recsexplorer/internal/executor"
	"github.com/vk/recsexplorer/internal/pipeline"
)

// sessionSaver saves through the session manager, keeping the still valid
// cache files of a resumed session that were never loaded.
type sessionSaver struct{ a *App }

func (s sessionSaver) Save(ctx context.Context, st pipeline.State) error {
	return s.a.sessions.Save(ctx, st, s.a.retained(st.SessionID)...)
}

func (a *App) retained(sessionID string) []cachestore.ManifestEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resumed == nil || a.resumed.SessionID != sessionID {
		return nil
	}
	return slices.Clone(a.resumed.CacheManifest)
}

// pruneManifest drops persisted entries that an action made stale. Called
// with a.mu held.
func (a *App) pruneManifest(action pipeline.Action, prev, next pipeline.State) {
	if a.resumed == nil || len(a.resumed.CacheManifest) == 0 {
		return
	}
	var valid func(pipeline.CacheKey) bool
	switch action := action.(type) {
	case pipeline.InvalidateStage:
		valid = func(k pipeline.CacheKey) bool {
			_, st := pipeline.SplitKey(k)
			return st != action.StageID
		}
	case pipeline.Undo, pipeline.Redo:
		valid = pipeline.StillValid(prev.Snapshot, next.Snapshot)
	default:
		if !pipeline.IsUndoable(action) {
			return
		}
		valid = pipeline.StillValid(prev.Snapshot, next.Snapshot)
	}

	var kept []cachestore.ManifestEntry
	for _, e := range a.resumed.CacheManifest {
		if valid(e.Key) {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(a.resumed.CacheManifest) {
		return
	}
	file := *a.resumed
	file.CacheManifest = kept
	a.resumed = &file
}

// restoreCached loads the persisted output nearest to the cursor, walking
// back along its path, unless a closer output is already cached.
func (a *App) restoreCached(ctx context.Context) {
	a.mu.Lock()
	s, file := a.state, a.resumed
	a.mu.Unlock()
	if file == nil || s.CursorStageID == "" {
		return
	}

	path := executor.Path(s, s.CursorStageID)
	for i := len(path) - 1; i >= 0; i-- {
		key := pipeline.Key(s.ActiveInputID, path[i].ID)
		if _, ok := s.Cache[key]; ok {
			return
		}
		if _, ok := file.ManifestEntry(key); !ok {
			continue
		}
		res, err := a.sessions.ReadCache(file, key)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Could not restore cached output.", "key", key, "error", err)
			continue
		}
		a.Dispatch(pipeline.CacheResult{InputID: res.InputID, StageID: res.StageID, Result: res})
		ctxlog.FromContext(ctx).Debug("Restored cached output from session.", "key", key, "records", len(res.Records))
		return
	}
}
