package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/vk/recsexplorer/internal/ctxlog"
	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/pipeline"
	"github.com/vk/recsexplorer/internal/record"
	"github.com/vk/recsexplorer/internal/testutil"
	"github.com/vk/recsexplorer/modules/fromcsv"
	"github.com/vk/recsexplorer/modules/fromenv"
	"github.com/vk/recsexplorer/modules/fromsplit"
	"github.com/vk/recsexplorer/modules/grep"
	"github.com/vk/recsexplorer/modules/head"
	"github.com/vk/recsexplorer/modules/sort"
)

func newTestExecutor(t *testing.T) (*Executor, *testutil.ProbeModule) {
	t.Helper()
	tm := testutil.NewProbeModule()
	reg := operation.NewRegistry(
		&grep.Module{}, &sort.Module{}, &head.Module{},
		&fromcsv.Module{}, &fromsplit.Module{}, &fromenv.Module{},
		tm,
	)
	return New(reg), tm
}

func testContext() context.Context {
	return ctxlog.Discard(context.Background())
}

func stage(op string, args ...string) pipeline.StageConfig {
	return pipeline.StageConfig{OperationName: op, Args: args, Enabled: true}
}

// buildState creates a state over the given source with the stages appended
// in order. A zero source leaves the state without inputs.
func buildState(src pipeline.Source, stages ...pipeline.StageConfig) (pipeline.State, []pipeline.StageID) {
	s := pipeline.New()
	if src.Kind != "" {
		s = pipeline.Reduce(s, pipeline.AddInput{Source: src, Label: "input"})
	}
	var ids []pipeline.StageID
	for _, cfg := range stages {
		s = pipeline.Reduce(s, pipeline.AddStage{Config: cfg})
		ids = append(ids, s.CursorStageID)
	}
	return s, ids
}

func xs(values ...float64) []record.Record { return testutil.Xs(values...) }

// recorder collects dispatched actions.
type recorder struct {
	mu      sync.Mutex
	actions []pipeline.Action
}

func (r *recorder) dispatch(a pipeline.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
}

func (r *recorder) all() []pipeline.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pipeline.Action, len(r.actions))
	copy(out, r.actions)
	return out
}

func (r *recorder) cached() []pipeline.StageID {
	var out []pipeline.StageID
	for _, a := range r.all() {
		if c, ok := a.(pipeline.CacheResult); ok {
			out = append(out, c.StageID)
		}
	}
	return out
}
