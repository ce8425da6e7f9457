package pipeline

import (
	"maps"
	"slices"
	"strings"
)

// Reduce applies a to s using the default environment.
func Reduce(s State, a Action) State {
	return DefaultEnv().Reduce(s, a)
}

// Reduce returns the state that results from applying a to s. Invalid
// structural edits are no-ops: s is returned unchanged and no undo
// checkpoint is recorded.
func (e Env) Reduce(s State, a Action) State {
	if IsUndoable(a) {
		if isNoop(s, a) {
			return s
		}
		s = e.checkpoint(s, a)
	}

	switch a := a.(type) {
	case Undo:
		next, undo, redo, ok := e.restore(s, s.UndoStack, s.RedoStack)
		if !ok {
			return s
		}
		next.UndoStack, next.RedoStack = undo, redo
		return next
	case Redo:
		next, redo, undo, ok := e.restore(s, s.RedoStack, s.UndoStack)
		if !ok {
			return s
		}
		next.UndoStack, next.RedoStack = undo, redo
		return next

	case AddStage:
		fork := s.Forks[s.ActiveForkID]
		idx := len(fork.StageIDs)
		if a.AfterStageID != "" {
			if i := slices.Index(fork.StageIDs, a.AfterStageID); i >= 0 {
				idx = i + 1
			}
		}
		return e.spliceStage(s, fork, idx, a.Config)
	case InsertStageBefore:
		fork := s.Forks[s.ActiveForkID]
		return e.spliceStage(s, fork, slices.Index(fork.StageIDs, a.BeforeStageID), a.Config)
	case DeleteStage:
		return deleteStage(s, a.StageID)
	case UpdateStageArgs:
		return updateConfig(s, a.StageID, func(c StageConfig) StageConfig {
			c.Args = slices.Clone(a.Args)
			return c
		})
	case ToggleStage:
		return updateConfig(s, a.StageID, func(c StageConfig) StageConfig {
			c.Enabled = !c.Enabled
			return c
		})
	case ReorderStage:
		return reorderStage(s, a.StageID, a.Direction)
	case CreateFork:
		f := Fork{
			ID:               ForkID(e.NewID()),
			Name:             a.Name,
			ForkPointStageID: a.AtStageID,
			ParentForkID:     s.ActiveForkID,
			StageIDs:         []StageID{},
			CreatedAt:        e.Now(),
		}
		s.Forks = maps.Clone(s.Forks)
		s.Forks[f.ID] = f
		s.ActiveForkID = f.ID
		s.CursorStageID = ""
		return s
	case DeleteFork:
		return deleteFork(s, a.ForkID)
	case AddInput:
		in := InputSource{ID: InputID(e.NewID()), Source: a.Source, Label: a.Label}
		s.Inputs = maps.Clone(s.Inputs)
		s.Inputs[in.ID] = in
		s.ActiveInputID = in.ID
		return s
	case RemoveInput:
		s.Inputs = maps.Clone(s.Inputs)
		delete(s.Inputs, a.InputID)
		if s.ActiveInputID == a.InputID {
			s.ActiveInputID = slices.Min(slices.Collect(maps.Keys(s.Inputs)))
		}
		s.Cache = dropKeys(s.Cache, func(k CacheKey) bool {
			in, _ := SplitKey(k)
			return in == a.InputID
		})
		return s

	case MoveCursor:
		fork, ok := s.Forks[s.ActiveForkID]
		if !ok || len(fork.StageIDs) == 0 {
			return s
		}
		idx := slices.Index(fork.StageIDs, s.CursorStageID)
		if a.Direction == Up {
			idx = max(idx-1, 0)
		} else {
			idx = min(idx+1, len(fork.StageIDs)-1)
		}
		s.CursorStageID = fork.StageIDs[idx]
		return s
	case SetCursor:
		if a.StageID != "" && !s.hasStage(a.StageID) {
			return s
		}
		s.CursorStageID = a.StageID
		return s
	case SwitchInput:
		if _, ok := s.Inputs[a.InputID]; !ok {
			return s
		}
		s.ActiveInputID = a.InputID
		return s
	case SwitchFork:
		if _, ok := s.Forks[a.ForkID]; !ok {
			return s
		}
		s.ActiveForkID = a.ForkID
		s.CursorStageID = ""
		return s

	case CacheResult:
		if a.Result == nil || !s.hasStage(a.StageID) {
			return s
		}
		if _, ok := s.Inputs[a.InputID]; !ok && a.InputID != s.ActiveInputID {
			return s
		}
		s.Cache = maps.Clone(s.Cache)
		if s.Cache == nil {
			s.Cache = map[CacheKey]*CachedResult{}
		}
		s.Cache[Key(a.InputID, a.StageID)] = a.Result
		return s
	case InvalidateStage:
		s.Cache = dropKeys(s.Cache, func(k CacheKey) bool {
			_, st := SplitKey(k)
			return st == a.StageID
		})
		return s
	case InvalidateKeys:
		drop := make(map[CacheKey]struct{}, len(a.Keys))
		for _, k := range a.Keys {
			drop[k] = struct{}{}
		}
		s.Cache = dropKeys(s.Cache, func(k CacheKey) bool {
			_, ok := drop[k]
			return ok
		})
		return s
	case PinStage:
		pinned := maps.Clone(s.CacheConfig.Pinned)
		if pinned == nil {
			pinned = map[StageID]struct{}{}
		}
		if _, ok := pinned[a.StageID]; ok {
			delete(pinned, a.StageID)
		} else {
			pinned[a.StageID] = struct{}{}
		}
		s.CacheConfig.Pinned = pinned
		return s
	case SetCachePolicy:
		if a.Policy.Valid() {
			s.CacheConfig.Policy = a.Policy
		}
		return s

	case SetError:
		s.LastError = &StageFailure{StageID: a.StageID, Message: a.Message}
		return s
	case ClearError:
		s.LastError = nil
		return s
	case SetExecuting:
		s.Executing = a.Executing
		return s
	case ToggleFocus:
		if s.FocusedPanel == PanelInspector {
			s.FocusedPanel = PanelPipeline
		} else {
			s.FocusedPanel = PanelInspector
		}
		return s
	case SetViewMode:
		s.Inspector.ViewMode = a.Mode
		return s
	case MoveColumnHighlight:
		s.Inspector.HighlightedColumn = moveColumn(s.Inspector.HighlightedColumn, a.Direction, a.FieldCount)
		return s
	case ClearColumnHighlight:
		s.Inspector.HighlightedColumn = NoColumn
		return s
	case SetSessionName:
		s.SessionName = a.Name
		return s
	}
	return s
}

// spliceStage inserts a new stage at idx in fork and moves the cursor to it.
func (e Env) spliceStage(s State, fork Fork, idx int, cfg StageConfig) State {
	id := StageID(e.NewID())
	order := slices.Insert(slices.Clone(fork.StageIDs), idx, id)

	stages := maps.Clone(s.Stages)
	cfg.Args = slices.Clone(cfg.Args)
	stages[id] = Stage{ID: id, Config: cfg, ChildIDs: []StageID{}, ForkID: fork.ID, Position: idx}
	relink(stages, order)

	fork.StageIDs = order
	s.Stages = stages
	s.Forks = withFork(s.Forks, fork)
	s.Cache = invalidateFrom(s.Cache, order, idx+1)
	s.CursorStageID = id
	return s
}

func deleteStage(s State, id StageID) State {
	st := s.Stages[id]
	fork := s.Forks[st.ForkID]
	idx := slices.Index(fork.StageIDs, id)
	invalid := slices.Clone(fork.StageIDs[max(idx, 0):])

	order := slices.DeleteFunc(slices.Clone(fork.StageIDs), func(sid StageID) bool { return sid == id })
	stages := maps.Clone(s.Stages)
	delete(stages, id)
	relink(stages, order)

	fork.StageIDs = order
	s.Stages = stages
	s.Forks = withFork(s.Forks, fork)
	s.Cache = invalidateStages(s.Cache, invalid)

	s.CursorStageID = ""
	if len(order) > 0 {
		s.CursorStageID = order[min(max(idx, 0), len(order)-1)]
	}
	if s.LastError != nil && s.LastError.StageID == id {
		s.LastError = nil
	}
	return s
}

func updateConfig(s State, id StageID, fn func(StageConfig) StageConfig) State {
	st := s.Stages[id]
	st.Config = fn(st.Config)
	s.Stages = maps.Clone(s.Stages)
	s.Stages[id] = st

	fork := s.Forks[st.ForkID]
	s.Cache = invalidateFrom(s.Cache, fork.StageIDs, slices.Index(fork.StageIDs, id))
	return s
}

func reorderStage(s State, id StageID, d Direction) State {
	fork := s.Forks[s.Stages[id].ForkID]
	idx := slices.Index(fork.StageIDs, id)
	other := neighbor(idx, d)

	order := slices.Clone(fork.StageIDs)
	order[idx], order[other] = order[other], order[idx]
	stages := maps.Clone(s.Stages)
	relink(stages, order)

	fork.StageIDs = order
	s.Stages = stages
	s.Forks = withFork(s.Forks, fork)
	s.Cache = invalidateFrom(s.Cache, order, min(idx, other))
	return s
}

// deleteFork removes the fork and its stages. Forks that branched off it are
// reattached to its parent.
func deleteFork(s State, id ForkID) State {
	fork := s.Forks[id]

	forks := maps.Clone(s.Forks)
	delete(forks, id)
	for fid, f := range forks {
		if f.ParentForkID == id {
			f.ParentForkID = fork.ParentForkID
			f.ForkPointStageID = fork.ForkPointStageID
			forks[fid] = f
		}
	}

	stages := maps.Clone(s.Stages)
	for _, sid := range fork.StageIDs {
		delete(stages, sid)
	}

	s.Forks = forks
	s.Stages = stages
	s.Cache = invalidateStages(s.Cache, fork.StageIDs)
	s.ActiveForkID = fork.ParentForkID
	s.CursorStageID = ""
	if s.LastError != nil && !s.hasStage(s.LastError.StageID) {
		s.LastError = nil
	}
	return s
}

// relink rebuilds parent/child links and positions for a fork's order,
// writing only the stages that changed.
func relink(stages map[StageID]Stage, order []StageID) {
	for i, id := range order {
		st, ok := stages[id]
		if !ok {
			continue
		}
		var parent StageID
		if i > 0 {
			parent = order[i-1]
		}
		children := []StageID{}
		if i < len(order)-1 {
			children = []StageID{order[i+1]}
		}
		if st.ParentID == parent && st.Position == i && slices.Equal(st.ChildIDs, children) {
			continue
		}
		st.ParentID = parent
		st.ChildIDs = children
		st.Position = i
		stages[id] = st
	}
}

func withFork(forks map[ForkID]Fork, f Fork) map[ForkID]Fork {
	out := maps.Clone(forks)
	out[f.ID] = f
	return out
}

func moveColumn(cur int, d Direction, fieldCount int) int {
	if fieldCount <= 0 {
		return cur
	}
	last := fieldCount - 1
	if cur == NoColumn {
		if d == Left {
			return last
		}
		return 0
	}
	if d == Left {
		return max(cur-1, 0)
	}
	return min(cur+1, last)
}

// SplitKey splits a cache key into its input and stage ids.
func SplitKey(k CacheKey) (InputID, StageID) {
	in, st, _ := strings.Cut(string(k), ":")
	return InputID(in), StageID(st)
}

// invalidateFrom drops cache entries for order[from:], for every input.
func invalidateFrom(cache map[CacheKey]*CachedResult, order []StageID, from int) map[CacheKey]*CachedResult {
	if from < 0 || from >= len(order) {
		return cache
	}
	return invalidateStages(cache, order[from:])
}

func invalidateStages(cache map[CacheKey]*CachedResult, ids []StageID) map[CacheKey]*CachedResult {
	if len(ids) == 0 {
		return cache
	}
	set := make(map[StageID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return dropKeys(cache, func(k CacheKey) bool {
		_, st := SplitKey(k)
		_, ok := set[st]
		return ok
	})
}

// dropKeys returns cache without the matching keys. The original map is
// returned as-is when nothing matches.
func dropKeys(cache map[CacheKey]*CachedResult, match func(CacheKey) bool) map[CacheKey]*CachedResult {
	var out map[CacheKey]*CachedResult
	for k := range cache {
		if !match(k) {
			continue
		}
		if out == nil {
			out = maps.Clone(cache)
		}
		delete(out, k)
	}
	if out == nil {
		return cache
	}
	return out
}

// invalidateChanged drops entries whose stage, or any stage upstream of it,
// differs between prev and next, and entries of inputs that went away.
func invalidateChanged(cache map[CacheKey]*CachedResult, prev, next Snapshot) map[CacheKey]*CachedResult {
	valid := StillValid(prev, next)
	return dropKeys(cache, func(k CacheKey) bool { return !valid(k) })
}

// StillValid returns a predicate telling whether an output computed under
// prev is still correct under next: its input has not been removed and
// neither its stage nor any stage upstream of it changed.
func StillValid(prev, next Snapshot) func(CacheKey) bool {
	memo := map[StageID]bool{}
	var same func(StageID) bool
	same = func(id StageID) bool {
		if v, ok := memo[id]; ok {
			return v
		}
		memo[id] = false
		a, aok := prev.Stages[id]
		b, bok := next.Stages[id]
		v := aok && bok && a.ParentID == b.ParentID && a.ForkID == b.ForkID &&
			a.Config.OperationName == b.Config.OperationName &&
			a.Config.Enabled == b.Config.Enabled &&
			slices.Equal(a.Config.Args, b.Config.Args)
		if v && a.ParentID != "" {
			v = same(a.ParentID)
		}
		memo[id] = v
		return v
	}
	return func(k CacheKey) bool {
		in, st := SplitKey(k)
		_, had := prev.Inputs[in]
		_, has := next.Inputs[in]
		return same(st) && (has || !had)
	}
}
