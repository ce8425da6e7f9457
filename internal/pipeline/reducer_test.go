package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/recsexplorer/internal/record"
)

// testEnv returns an environment with sequential ids and a fixed clock.
func testEnv() Env {
	n := 0
	return Env{
		NewID: func() string {
			n++
			return fmt.Sprintf("id%03d", n)
		},
		Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func cfg(op string, args ...string) StageConfig {
	return StageConfig{OperationName: op, Args: args, Enabled: true}
}

// chain builds a state with one input and the named stages appended in order.
func chain(t *testing.T, env Env, ops ...string) (State, []StageID) {
	t.Helper()
	s := env.New()
	s = env.Reduce(s, AddInput{Source: CapturedSource([]record.Record{{"x": 1.0}}), Label: "in"})
	var ids []StageID
	for _, op := range ops {
		s = env.Reduce(s, AddStage{Config: cfg(op)})
		ids = append(ids, s.CursorStageID)
	}
	return s, ids
}

func activeOrder(s State) []StageID {
	return s.Forks[s.ActiveForkID].StageIDs
}

func TestNew_Defaults(t *testing.T) {
	s := testEnv().New()
	require.Len(t, s.Forks, 1)
	root, ok := s.RootFork()
	require.True(t, ok)
	assert.Equal(t, "main", root.Name)
	assert.Equal(t, root.ID, s.ActiveForkID)
	assert.Empty(t, s.Stages)
	assert.Equal(t, CacheAll, s.CacheConfig.Policy)
	assert.Equal(t, DefaultMaxMemoryBytes, s.CacheConfig.MaxMemoryBytes)
	assert.Equal(t, NoColumn, s.Inspector.HighlightedColumn)
	assert.Equal(t, PanelPipeline, s.FocusedPanel)
}

func TestReduce_AddStageLinksAndMovesCursor(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "grep", "sort")

	assert.Equal(t, ids, activeOrder(s))
	assert.Equal(t, ids[1], s.CursorStageID)
	assert.Equal(t, StageID(""), s.Stages[ids[0]].ParentID)
	assert.Equal(t, []StageID{ids[1]}, s.Stages[ids[0]].ChildIDs)
	assert.Equal(t, ids[0], s.Stages[ids[1]].ParentID)
	assert.Equal(t, 1, s.Stages[ids[1]].Position)

	// Insert between the two via AddStage after the first.
	s = env.Reduce(s, AddStage{AfterStageID: ids[0], Config: cfg("head")})
	mid := s.CursorStageID
	assert.Equal(t, []StageID{ids[0], mid, ids[1]}, activeOrder(s))
	assert.Equal(t, mid, s.Stages[ids[1]].ParentID)
	assert.Equal(t, 2, s.Stages[ids[1]].Position)
	assert.Equal(t, "Add head stage", s.UndoStack[len(s.UndoStack)-1].Label)
}

func TestReduce_InsertStageBefore(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "grep", "sort")

	s = env.Reduce(s, InsertStageBefore{BeforeStageID: ids[0], Config: cfg("fromcsv")})
	first := s.CursorStageID
	assert.Equal(t, []StageID{first, ids[0], ids[1]}, activeOrder(s))
	assert.Equal(t, first, s.Stages[ids[0]].ParentID)
	assert.Equal(t, 0, s.Stages[first].Position)
	assert.Equal(t, "Insert fromcsv stage", s.UndoStack[len(s.UndoStack)-1].Label)
}

func TestReduce_DeleteMiddleStageBridgesChain(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "a", "b", "c")
	s = env.Reduce(s, SetError{StageID: ids[1], Message: "boom"})

	s = env.Reduce(s, DeleteStage{StageID: ids[1]})

	assert.Equal(t, []StageID{ids[0], ids[2]}, activeOrder(s))
	assert.Equal(t, []StageID{ids[2]}, s.Stages[ids[0]].ChildIDs)
	assert.Equal(t, ids[0], s.Stages[ids[2]].ParentID)
	assert.Equal(t, 1, s.Stages[ids[2]].Position)
	assert.NotContains(t, s.Stages, ids[1])
	assert.Equal(t, ids[2], s.CursorStageID)
	assert.Nil(t, s.LastError)
}

func TestReduce_DeleteLastStageClampsCursor(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "a", "b")

	s = env.Reduce(s, DeleteStage{StageID: ids[1]})
	assert.Equal(t, ids[0], s.CursorStageID)

	s = env.Reduce(s, DeleteStage{StageID: ids[0]})
	assert.Equal(t, StageID(""), s.CursorStageID)
	assert.Empty(t, activeOrder(s))
}

func TestReduce_ReorderStage(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "a", "b", "c")

	s = env.Reduce(s, ReorderStage{StageID: ids[2], Direction: Up})
	assert.Equal(t, []StageID{ids[0], ids[2], ids[1]}, activeOrder(s))
	assert.Equal(t, ids[2], s.Stages[ids[1]].ParentID)
	assert.Equal(t, []StageID{}, s.Stages[ids[1]].ChildIDs)
	assert.Equal(t, 1, s.Stages[ids[2]].Position)
	assert.Equal(t, "Move stage up", s.UndoStack[len(s.UndoStack)-1].Label)
}

func TestReduce_NoopsSkipCheckpoint(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "a", "b")
	root := s.ActiveForkID
	depth := len(s.UndoStack)

	noops := []Action{
		DeleteStage{StageID: "missing"},
		UpdateStageArgs{StageID: "missing"},
		ToggleStage{StageID: "missing"},
		InsertStageBefore{BeforeStageID: "missing"},
		ReorderStage{StageID: ids[0], Direction: Up},
		ReorderStage{StageID: ids[1], Direction: Down},
		DeleteFork{ForkID: root},
		DeleteFork{ForkID: "missing"},
		RemoveInput{InputID: s.ActiveInputID},
		RemoveInput{InputID: "missing"},
	}
	for _, a := range noops {
		next := env.Reduce(s, a)
		assert.Len(t, next.UndoStack, depth, "%T should not checkpoint", a)
		assert.Empty(t, cmp.Diff(s.Snapshot, next.Snapshot), "%T should not change state", a)
	}
}

func TestReduce_UndoRedoInverseLaw(t *testing.T) {
	env := testEnv()
	base, ids := chain(t, env, "a", "b", "c")
	base = env.Reduce(base, AddInput{Source: FileSource("/tmp/x.jsonl"), Label: "second"})
	base = env.Reduce(base, CreateFork{Name: "alt", AtStageID: ids[1]})
	base = env.Reduce(base, AddStage{Config: cfg("d")})
	alt := base.ActiveForkID
	base = env.Reduce(base, SwitchFork{ForkID: base.Forks[alt].ParentForkID})

	actions := []Action{
		AddStage{Config: cfg("x")},
		AddStage{AfterStageID: ids[0], Config: cfg("x")},
		InsertStageBefore{BeforeStageID: ids[1], Config: cfg("x")},
		DeleteStage{StageID: ids[1]},
		UpdateStageArgs{StageID: ids[2], Args: []string{"-n", "3"}},
		ToggleStage{StageID: ids[0]},
		ReorderStage{StageID: ids[1], Direction: Down},
		CreateFork{Name: "new", AtStageID: ids[0]},
		DeleteFork{ForkID: alt},
		AddInput{Source: FileSource("/tmp/y.jsonl"), Label: "third"},
		RemoveInput{InputID: base.ActiveInputID},
	}
	for _, a := range actions {
		t.Run(fmt.Sprintf("%T", a), func(t *testing.T) {
			applied := env.Reduce(base, a)
			require.Len(t, applied.UndoStack, len(base.UndoStack)+1)

			undone := env.Reduce(applied, Undo{})
			assert.Empty(t, cmp.Diff(base.Snapshot, undone.Snapshot))
			assert.Len(t, undone.RedoStack, 1)

			redone := env.Reduce(undone, Redo{})
			assert.Empty(t, cmp.Diff(applied.Snapshot, redone.Snapshot))
			assert.Empty(t, redone.RedoStack)
			assert.Len(t, redone.UndoStack, len(applied.UndoStack))
		})
	}
}

func TestReduce_UndoWithEmptyStacksIsNoop(t *testing.T) {
	s := testEnv().New()
	assert.Empty(t, cmp.Diff(s.Snapshot, Reduce(s, Undo{}).Snapshot))
	assert.Empty(t, cmp.Diff(s.Snapshot, Reduce(s, Redo{}).Snapshot))
}

func TestReduce_NewActionClearsRedo(t *testing.T) {
	env := testEnv()
	s, _ := chain(t, env, "a", "b")
	s = env.Reduce(s, Undo{})
	require.Len(t, s.RedoStack, 1)

	s = env.Reduce(s, AddStage{Config: cfg("c")})
	assert.Empty(t, s.RedoStack)

	s = env.Reduce(s, MoveCursor{Direction: Up})
	assert.Empty(t, s.RedoStack)
}

func TestReduce_UndoStackIsBounded(t *testing.T) {
	env := testEnv()
	s, _ := chain(t, env)
	for i := 0; i < MaxUndoEntries+5; i++ {
		s = env.Reduce(s, AddStage{Config: cfg(fmt.Sprintf("op%d", i))})
	}
	require.Len(t, s.UndoStack, MaxUndoEntries)
	// The input add and the first five stage adds were dropped.
	assert.Equal(t, "Add op5 stage", s.UndoStack[0].Label)
	assert.Equal(t, fmt.Sprintf("Add op%d stage", MaxUndoEntries+4), s.UndoStack[MaxUndoEntries-1].Label)
}

func cacheAll(s State, ids ...StageID) State {
	for _, id := range ids {
		s = Reduce(s, CacheResult{InputID: s.ActiveInputID, StageID: id, Result: &CachedResult{StageID: id, InputID: s.ActiveInputID}})
	}
	return s
}

func TestReduce_UpdateArgsInvalidatesDownstreamOnly(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "a", "b", "c")
	s = env.Reduce(s, CreateFork{Name: "alt", AtStageID: ids[1]})
	s = env.Reduce(s, AddStage{Config: cfg("d")})
	other := s.CursorStageID
	s = env.Reduce(s, SwitchFork{ForkID: s.Forks[s.ActiveForkID].ParentForkID})
	s = cacheAll(s, append(ids, other)...)

	for _, a := range []Action{UpdateStageArgs{StageID: ids[1], Args: []string{"z"}}, ToggleStage{StageID: ids[1]}} {
		next := env.Reduce(s, a)
		assert.Contains(t, next.Cache, Key(s.ActiveInputID, ids[0]), "%T", a)
		assert.Contains(t, next.Cache, Key(s.ActiveInputID, other), "%T", a)
		assert.NotContains(t, next.Cache, Key(s.ActiveInputID, ids[1]), "%T", a)
		assert.NotContains(t, next.Cache, Key(s.ActiveInputID, ids[2]), "%T", a)
		// The previous state's cache is untouched.
		assert.Len(t, s.Cache, 4)
	}
}

func TestReduce_StructuralEditsInvalidateDownstream(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "a", "b", "c")
	s = cacheAll(s, ids...)

	deleted := env.Reduce(s, DeleteStage{StageID: ids[1]})
	assert.Equal(t, []CacheKey{Key(s.ActiveInputID, ids[0])}, keys(deleted.Cache))

	reordered := env.Reduce(s, ReorderStage{StageID: ids[2], Direction: Up})
	assert.Equal(t, []CacheKey{Key(s.ActiveInputID, ids[0])}, keys(reordered.Cache))

	appended := env.Reduce(s, AddStage{Config: cfg("d")})
	assert.Len(t, appended.Cache, 3)
}

func keys(m map[CacheKey]*CachedResult) []CacheKey {
	var out []CacheKey
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestReduce_UndoDropsStaleCache(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "a", "b")
	s = env.Reduce(s, UpdateStageArgs{StageID: ids[1], Args: []string{"new"}})
	s = cacheAll(s, ids...)

	s = env.Reduce(s, Undo{})
	assert.Contains(t, s.Cache, Key(s.ActiveInputID, ids[0]))
	assert.NotContains(t, s.Cache, Key(s.ActiveInputID, ids[1]))
}

func TestReduce_ForkIsolation(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "a", "b")
	root := s.ActiveForkID

	s = env.Reduce(s, CreateFork{Name: "left", AtStageID: ids[1]})
	left := s.ActiveForkID
	assert.Equal(t, `Create fork "left"`, s.UndoStack[len(s.UndoStack)-1].Label)
	assert.Equal(t, root, s.Forks[left].ParentForkID)
	assert.Equal(t, ids[1], s.Forks[left].ForkPointStageID)
	s = env.Reduce(s, AddStage{Config: cfg("l1")})
	l1 := s.CursorStageID
	s = env.Reduce(s, AddStage{Config: cfg("l2")})
	l2 := s.CursorStageID

	s = env.Reduce(s, SwitchFork{ForkID: root})
	s = env.Reduce(s, CreateFork{Name: "right", AtStageID: ids[0]})
	right := s.ActiveForkID
	s = env.Reduce(s, AddStage{Config: cfg("r1")})
	r1 := s.CursorStageID

	s = env.Reduce(s, SwitchFork{ForkID: left})
	s = cacheAll(s, l1, l2)
	s = env.Reduce(s, DeleteFork{ForkID: left})

	assert.Equal(t, root, s.ActiveForkID)
	assert.Equal(t, StageID(""), s.CursorStageID)
	assert.NotContains(t, s.Forks, left)
	assert.NotContains(t, s.Stages, l1)
	assert.NotContains(t, s.Stages, l2)
	assert.Empty(t, s.Cache)
	assert.Contains(t, s.Stages, r1)
	assert.Equal(t, []StageID{r1}, s.Forks[right].StageIDs)
	assert.Equal(t, ids, s.Forks[root].StageIDs)
}

func TestReduce_Inputs(t *testing.T) {
	env := testEnv()
	s := env.New()
	s = env.Reduce(s, AddInput{Source: FileSource("a.jsonl"), Label: "a"})
	first := s.ActiveInputID
	s = env.Reduce(s, AddInput{Source: FileSource("b.jsonl"), Label: "b"})
	second := s.ActiveInputID
	assert.NotEqual(t, first, second)
	assert.Equal(t, `Add input "b"`, s.UndoStack[len(s.UndoStack)-1].Label)

	s = env.Reduce(s, RemoveInput{InputID: second})
	assert.Equal(t, first, s.ActiveInputID)
	assert.Len(t, s.Inputs, 1)

	// The last input cannot be removed.
	s = env.Reduce(s, RemoveInput{InputID: first})
	assert.Len(t, s.Inputs, 1)

	s = env.Reduce(s, SwitchInput{InputID: "missing"})
	assert.Equal(t, first, s.ActiveInputID)
}

func TestReduce_CursorMovement(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "a", "b", "c")

	s = env.Reduce(s, MoveCursor{Direction: Down})
	assert.Equal(t, ids[2], s.CursorStageID)
	s = env.Reduce(s, MoveCursor{Direction: Up})
	s = env.Reduce(s, MoveCursor{Direction: Up})
	s = env.Reduce(s, MoveCursor{Direction: Up})
	assert.Equal(t, ids[0], s.CursorStageID)

	s = env.Reduce(s, SetCursor{StageID: "missing"})
	assert.Equal(t, ids[0], s.CursorStageID)
	s = env.Reduce(s, SetCursor{StageID: ids[1]})
	assert.Equal(t, ids[1], s.CursorStageID)
}

func TestReduce_UIState(t *testing.T) {
	s := testEnv().New()

	s = Reduce(s, MoveColumnHighlight{Direction: Right, FieldCount: 5})
	assert.Equal(t, 0, s.Inspector.HighlightedColumn)
	s = Reduce(s, MoveColumnHighlight{Direction: Right, FieldCount: 5})
	assert.Equal(t, 1, s.Inspector.HighlightedColumn)
	s = Reduce(s, MoveColumnHighlight{Direction: Left, FieldCount: 5})
	s = Reduce(s, MoveColumnHighlight{Direction: Left, FieldCount: 5})
	assert.Equal(t, 0, s.Inspector.HighlightedColumn)
	s = Reduce(s, ClearColumnHighlight{})
	assert.Equal(t, NoColumn, s.Inspector.HighlightedColumn)
	s = Reduce(s, MoveColumnHighlight{Direction: Left, FieldCount: 5})
	assert.Equal(t, 4, s.Inspector.HighlightedColumn)

	s = Reduce(s, ToggleFocus{})
	assert.Equal(t, PanelInspector, s.FocusedPanel)
	s = Reduce(s, SetViewMode{Mode: ViewJSON})
	assert.Equal(t, ViewJSON, s.Inspector.ViewMode)
	s = Reduce(s, SetExecuting{Executing: true})
	assert.True(t, s.Executing)
	s = Reduce(s, SetSessionName{Name: "analysis"})
	assert.Equal(t, "analysis", s.SessionName)
	assert.Empty(t, s.UndoStack)
}

func TestReduce_CacheConfig(t *testing.T) {
	s := testEnv().New()

	s = Reduce(s, PinStage{StageID: "s1"})
	assert.True(t, s.CacheConfig.IsPinned("s1"))
	s = Reduce(s, PinStage{StageID: "s1"})
	assert.False(t, s.CacheConfig.IsPinned("s1"))

	s = Reduce(s, SetCachePolicy{Policy: CacheSelective})
	assert.Equal(t, CacheSelective, s.CacheConfig.Policy)
	s = Reduce(s, SetCachePolicy{Policy: "bogus"})
	assert.Equal(t, CacheSelective, s.CacheConfig.Policy)
}

func TestReduce_CacheWritesAndInvalidation(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "grep", "sort")
	in1 := s.ActiveInputID
	s = env.Reduce(s, AddInput{Source: CapturedSource([]record.Record{{"x": 2.0}}), Label: "second"})
	in2 := s.ActiveInputID
	res := &CachedResult{RecordCount: 2}

	s = Reduce(s, CacheResult{InputID: in1, StageID: ids[0], Result: res})
	s = Reduce(s, CacheResult{InputID: in2, StageID: ids[0], Result: res})
	s = Reduce(s, CacheResult{InputID: in1, StageID: ids[1], Result: res})
	assert.Same(t, res, s.Cache[Key(in1, ids[0])])

	s = Reduce(s, InvalidateStage{StageID: ids[0]})
	assert.Equal(t, []CacheKey{Key(in1, ids[1])}, keys(s.Cache))

	s = Reduce(s, InvalidateKeys{Keys: []CacheKey{Key(in1, ids[1])}})
	assert.Empty(t, s.Cache)
}

func TestReduce_CacheResultForRemovedStageOrInputIsIgnored(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "grep", "sort")
	in := s.ActiveInputID
	res := &CachedResult{RecordCount: 1}

	deleted := env.Reduce(s, DeleteStage{StageID: ids[1]})
	deleted = Reduce(deleted, CacheResult{InputID: in, StageID: ids[1], Result: res})
	assert.Empty(t, deleted.Cache, "a late result for a deleted stage leaves no entry")

	s = Reduce(s, CacheResult{InputID: "gone", StageID: ids[0], Result: res})
	assert.Empty(t, s.Cache, "unknown input")

	fresh := env.New()
	fresh = env.Reduce(fresh, AddStage{Config: cfg("fromenv")})
	fresh = Reduce(fresh, CacheResult{InputID: fresh.ActiveInputID, StageID: fresh.CursorStageID, Result: res})
	assert.Len(t, fresh.Cache, 1, "the placeholder input of a new state is accepted")
}

func TestDescribeAndIsUndoable(t *testing.T) {
	assert.True(t, IsUndoable(DeleteFork{}))
	assert.False(t, IsUndoable(Undo{}))
	assert.False(t, IsUndoable(CacheResult{}))
	assert.Equal(t, "Delete fork", Describe(DeleteFork{}))
	assert.Equal(t, "Remove input", Describe(RemoveInput{}))
	assert.Equal(t, "Toggle stage enabled", Describe(ToggleStage{}))
	assert.Equal(t, "Update stage arguments", Describe(UpdateStageArgs{}))
}

func TestSplitKey(t *testing.T) {
	in, st := SplitKey(Key("i", "s"))
	assert.Equal(t, InputID("i"), in)
	assert.Equal(t, StageID("s"), st)
}

func TestStillValid(t *testing.T) {
	env := testEnv()
	s, ids := chain(t, env, "grep", "sort", "head")
	in := s.ActiveInputID

	next := env.Reduce(s, UpdateStageArgs{StageID: ids[1], Args: []string{"-k", "x"}})
	valid := StillValid(s.Snapshot, next.Snapshot)
	assert.True(t, valid(Key(in, ids[0])))
	assert.False(t, valid(Key(in, ids[1])))
	assert.False(t, valid(Key(in, ids[2])), "downstream of a changed stage")

	removed := env.Reduce(env.Reduce(s, AddInput{Source: CapturedSource(nil), Label: "b"}), RemoveInput{InputID: in})
	assert.False(t, StillValid(s.Snapshot, removed.Snapshot)(Key(in, ids[0])))
}
