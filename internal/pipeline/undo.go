package pipeline

import (
	"fmt"
	"slices"
)

// IsUndoable reports whether a creates an undo checkpoint. Only these
// actions mark a session dirty.
func IsUndoable(a Action) bool {
	switch a.(type) {
	case AddStage, InsertStageBefore, DeleteStage, UpdateStageArgs, ToggleStage,
		ReorderStage, CreateFork, DeleteFork, AddInput, RemoveInput:
		return true
	}
	return false
}

// Describe returns the human-readable label stored with an undo entry.
func Describe(a Action) string {
	switch a := a.(type) {
	case AddStage:
		return fmt.Sprintf("Add %s stage", a.Config.OperationName)
	case InsertStageBefore:
		return fmt.Sprintf("Insert %s stage", a.Config.OperationName)
	case DeleteStage:
		return "Delete stage"
	case UpdateStageArgs:
		return "Update stage arguments"
	case ToggleStage:
		return "Toggle stage enabled"
	case ReorderStage:
		return fmt.Sprintf("Move stage %s", a.Direction)
	case CreateFork:
		return fmt.Sprintf("Create fork %q", a.Name)
	case DeleteFork:
		return "Delete fork"
	case AddInput:
		return fmt.Sprintf("Add input %q", a.Label)
	case RemoveInput:
		return "Remove input"
	default:
		return fmt.Sprintf("%T", a)
	}
}

// isNoop is the pre-check run before an undoable action: a true no-op
// returns the state unchanged without a checkpoint.
func isNoop(s State, a Action) bool {
	switch a := a.(type) {
	case DeleteStage:
		return !s.hasStage(a.StageID)
	case UpdateStageArgs:
		return !s.hasStage(a.StageID)
	case ToggleStage:
		return !s.hasStage(a.StageID)
	case InsertStageBefore:
		st, ok := s.Stages[a.BeforeStageID]
		return !ok || st.ForkID != s.ActiveForkID
	case AddStage:
		_, ok := s.Forks[s.ActiveForkID]
		return !ok
	case ReorderStage:
		st, ok := s.Stages[a.StageID]
		if !ok {
			return true
		}
		f, ok := s.Forks[st.ForkID]
		if !ok {
			return true
		}
		idx := slices.Index(f.StageIDs, a.StageID)
		next := neighbor(idx, a.Direction)
		return idx < 0 || next < 0 || next >= len(f.StageIDs)
	case CreateFork:
		_, ok := s.Forks[s.ActiveForkID]
		return !ok
	case DeleteFork:
		f, ok := s.Forks[a.ForkID]
		return !ok || f.IsRoot()
	case RemoveInput:
		_, ok := s.Inputs[a.InputID]
		return !ok || len(s.Inputs) <= 1
	}
	return false
}

func neighbor(idx int, d Direction) int {
	if d == Up {
		return idx - 1
	}
	return idx + 1
}

func (s State) hasStage(id StageID) bool {
	_, ok := s.Stages[id]
	return ok
}

// checkpoint pushes the current snapshot onto the undo stack and clears the
// redo stack.
func (e Env) checkpoint(s State, a Action) State {
	s.UndoStack = pushBounded(s.UndoStack, UndoEntry{
		Label:     Describe(a),
		Snapshot:  s.Snapshot,
		Timestamp: e.Now(),
	})
	s.RedoStack = nil
	return s
}

func pushBounded(stack []UndoEntry, e UndoEntry) []UndoEntry {
	start := 0
	if len(stack) >= MaxUndoEntries {
		start = len(stack) - MaxUndoEntries + 1
	}
	out := make([]UndoEntry, 0, len(stack)-start+1)
	out = append(out, stack[start:]...)
	return append(out, e)
}

// restore replaces the structural part of s with the top entry of from,
// pushing the current snapshot onto to. Cache entries whose upstream chain
// differs between the two snapshots are dropped.
func (e Env) restore(s State, from, to []UndoEntry) (State, []UndoEntry, []UndoEntry, bool) {
	if len(from) == 0 {
		return s, from, to, false
	}
	entry := from[len(from)-1]
	current := s.Snapshot

	s.Snapshot = entry.Snapshot
	s.Cache = invalidateChanged(s.Cache, current, entry.Snapshot)
	if s.LastError != nil && !s.hasStage(s.LastError.StageID) {
		s.LastError = nil
	}

	from = slices.Clone(from[:len(from)-1])
	to = pushBounded(to, UndoEntry{Label: entry.Label, Snapshot: current, Timestamp: e.Now()})
	return s, from, to, true
}
