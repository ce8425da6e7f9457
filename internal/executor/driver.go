package executor

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/vk/recsexplorer/internal/cachepolicy"
	"github.com/vk/recsexplorer/internal/ctxlog"
	"github.com/vk/recsexplorer/internal/metrics"
	"github.com/vk/recsexplorer/internal/pipeline"
)

// Dispatch applies an action to the live pipeline state.
type Dispatch func(pipeline.Action)

// Driver runs executions in the background on behalf of the cursor. Every
// request takes a new generation number, including requests that start
// nothing; when an execution completes, its outcome is dispatched only if no
// newer request has been made since. Stale executions still run to
// completion.
type Driver struct {
	exec    *Executor
	tracker *cachepolicy.Tracker
	wg      sync.WaitGroup

	// mu orders generation changes against result delivery, so a request
	// never interleaves with the dispatches of the run it supersedes.
	mu         sync.Mutex
	generation atomic.Uint64
}

// NewDriver creates a driver. tracker may be nil to disable eviction.
func NewDriver(exec *Executor, tracker *cachepolicy.Tracker) *Driver {
	return &Driver{exec: exec, tracker: tracker}
}

// Request starts materializing the cursor stage's output if it is not
// already cached. It reports whether an execution was started.
func (d *Driver) Request(ctx context.Context, s pipeline.State, dispatch Dispatch) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	gen := d.generation.Add(1)
	if !d.startable(s, dispatch) {
		// Whatever was running has been superseded and will not report back.
		if s.Executing {
			dispatch(pipeline.SetExecuting{Executing: false})
		}
		return false
	}

	target := s.CursorStageID
	dispatch(pipeline.SetExecuting{Executing: true})
	dispatch(pipeline.ClearError{})

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, s, target, gen, dispatch)
	}()
	return true
}

// startable reports whether the cursor stage needs computing and can be.
func (d *Driver) startable(s pipeline.State, dispatch Dispatch) bool {
	target := s.CursorStageID
	if target == "" {
		return false
	}
	if _, ok := s.Stages[target]; !ok {
		return false
	}
	key := pipeline.Key(s.ActiveInputID, target)
	if _, ok := s.Cache[key]; ok {
		d.touch(key)
		return false
	}
	if _, ok := s.ActiveInput(); !ok && NeedsInput(Path(s, target)) {
		dispatch(pipeline.SetError{StageID: target, Message: ErrNoInput.Error()})
		return false
	}
	return true
}

func (d *Driver) run(ctx context.Context, s pipeline.State, target pipeline.StageID, gen uint64, dispatch Dispatch) {
	logger := ctxlog.FromContext(ctx)

	working := maps.Clone(s.Cache)
	if working == nil {
		working = map[pipeline.CacheKey]*pipeline.CachedResult{}
	}
	_, err := d.exec.Execute(ctx, s, target, Options{WorkingCache: working})

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.generation.Load() != gen {
		metrics.StaleResultsDropped.Inc()
		logger.Debug("Dropping stale execution result.", "target", target, "generation", gen)
		return
	}

	if err != nil {
		failed := target
		if se, ok := AsStageError(err); ok {
			failed = se.StageID
		}
		logger.Debug("Execution failed.", "target", target, "stage", failed, "error", err)
		dispatch(pipeline.SetError{StageID: failed, Message: err.Error()})
		dispatch(pipeline.SetExecuting{Executing: false})
		return
	}

	targetKey := pipeline.Key(s.ActiveInputID, target)
	for k, r := range working {
		if prev, ok := s.Cache[k]; ok && prev == r {
			continue
		}
		if k != targetKey && !cachepolicy.ShouldCache(s.CacheConfig, r.StageID) {
			continue
		}
		dispatch(pipeline.CacheResult{InputID: r.InputID, StageID: r.StageID, Result: r})
		s = pipeline.Reduce(s, pipeline.CacheResult{InputID: r.InputID, StageID: r.StageID, Result: r})
		d.touch(k)
	}
	d.touch(targetKey)

	if d.tracker != nil {
		if evict := d.tracker.Plan(s, targetKey); len(evict) > 0 {
			logger.Debug("Evicting cache entries.", "count", len(evict))
			dispatch(pipeline.InvalidateKeys{Keys: evict})
		}
	}
	dispatch(pipeline.SetExecuting{Executing: false})
}

func (d *Driver) touch(k pipeline.CacheKey) {
	if d.tracker != nil {
		d.tracker.Touch(k)
	}
}

// Generation returns the most recent request generation.
func (d *Driver) Generation() uint64 {
	return d.generation.Load()
}

// Wait blocks until every started execution has finished.
func (d *Driver) Wait() {
	d.wg.Wait()
}
