package pipeline

import (
	"time"

	"github.com/vk/recsexplorer/internal/ids"
)

// Env supplies the non-deterministic inputs of the reducer. Tests replace it
// to get stable ids and timestamps.
type Env struct {
	NewID func() string
	Now   func() time.Time
}

// DefaultEnv generates ULIDs and reads the wall clock.
func DefaultEnv() Env {
	return Env{NewID: ids.New, Now: time.Now}
}

// New returns a fresh state using the default environment.
func New() State {
	return DefaultEnv().New()
}

// New returns a fresh state: one empty root fork named "main", no stages,
// no inputs (the active input id is a placeholder until an input is added)
// and default cache and UI settings.
func (e Env) New() State {
	root := Fork{
		ID:        ForkID(e.NewID()),
		Name:      "main",
		StageIDs:  []StageID{},
		CreatedAt: e.Now(),
	}
	return State{
		Snapshot: Snapshot{
			Stages:        map[StageID]Stage{},
			Forks:         map[ForkID]Fork{root.ID: root},
			Inputs:        map[InputID]InputSource{},
			ActiveInputID: InputID(e.NewID()),
			ActiveForkID:  root.ID,
		},
		Cache:        map[CacheKey]*CachedResult{},
		CacheConfig:  DefaultCacheConfig(),
		FocusedPanel: PanelPipeline,
		Inspector:    DefaultInspector(),
		SessionID:    e.NewID(),
	}
}

// RootFork returns the fork without a parent.
func (s State) RootFork() (Fork, bool) {
	for _, f := range s.Forks {
		if f.IsRoot() {
			return f, true
		}
	}
	return Fork{}, false
}

// ActiveFork returns the currently active fork.
func (s State) ActiveFork() (Fork, bool) {
	f, ok := s.Forks[s.ActiveForkID]
	return f, ok
}

// ActiveInput returns the currently active input.
func (s State) ActiveInput() (InputSource, bool) {
	in, ok := s.Inputs[s.ActiveInputID]
	return in, ok
}
