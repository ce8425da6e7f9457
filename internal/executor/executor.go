package executor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/vk/recsexplorer/internal/ctxlog"
	"github.com/vk/recsexplorer/internal/metrics"
	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/pipeline"
	"github.com/vk/recsexplorer/internal/record"
)

// Executor runs stage chains through an operation registry.
type Executor struct {
	registry *operation.Registry
	loader   Loader
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLoader replaces the default FileLoader.
func WithLoader(l Loader) Option {
	return func(e *Executor) { e.loader = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an executor over registry.
func New(registry *operation.Registry, opts ...Option) *Executor {
	e := &Executor{registry: registry, loader: FileLoader{}, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Options control a single Execute call.
type Options struct {
	// WorkingCache is read for cached ancestors and receives every entry the
	// call produces. When nil, a private copy of the state's cache is used.
	WorkingCache map[pipeline.CacheKey]*pipeline.CachedResult
}

// Path returns the stages from the start of target's chain up to and
// including target, following parent links.
func Path(s pipeline.State, target pipeline.StageID) []pipeline.Stage {
	var path []pipeline.Stage
	for id := target; id != "" && len(path) <= len(s.Stages); {
		st, ok := s.Stages[id]
		if !ok {
			break
		}
		path = append(path, st)
		id = st.ParentID
	}
	slices.Reverse(path)
	return path
}

// NeedsInput reports whether executing path requires an input source: it
// does unless its first enabled stage generates records on its own.
func NeedsInput(path []pipeline.Stage) bool {
	for _, st := range path {
		if st.Config.Enabled {
			return !operation.IsSelfContained(st.Config.OperationName)
		}
	}
	return true
}

// Execute materializes target's output for the active input and returns its
// cache entry. A stage failure is returned as a *StageError; stages after
// the failing one are not run and its previous cache entry is left alone.
func (e *Executor) Execute(ctx context.Context, s pipeline.State, target pipeline.StageID, opts Options) (*pipeline.CachedResult, error) {
	start := e.now()
	ctx, logger := ctxlog.With(ctx, "target", target)

	path := Path(s, target)
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrStageNotFound, target)
	}

	cache := opts.WorkingCache
	if cache == nil {
		cache = maps.Clone(s.Cache)
		if cache == nil {
			cache = map[pipeline.CacheKey]*pipeline.CachedResult{}
		}
	}

	input, hasInput := s.ActiveInput()
	if NeedsInput(path) && !hasInput {
		return nil, fmt.Errorf("%w: %s", ErrNoInput, s.ActiveInputID)
	}

	var running []record.Record
	resume := 0
	if k := nearestCached(cache, s.ActiveInputID, path); k == len(path)-1 {
		metrics.CacheHits.Inc()
		return cache[pipeline.Key(s.ActiveInputID, target)], nil
	} else if k >= 0 {
		running = cache[pipeline.Key(s.ActiveInputID, path[k].ID)].Records
		resume = k + 1
		metrics.CacheHits.Inc()
		logger.Debug("Resuming from cached stage.", "stage", path[k].ID, "index", k)
	} else if firstNeedsRecords(path) {
		if !hasInput {
			return nil, fmt.Errorf("%w: %s", ErrNoInput, s.ActiveInputID)
		}
		loaded, err := e.loader.Records(ctx, input)
		if err != nil {
			return nil, &StageError{StageID: path[0].ID, Operation: path[0].Config.OperationName, Err: err}
		}
		running = loaded
	}

	var produced []*pipeline.CachedResult
	// Every entry produced by this call carries the same timestamp and the
	// elapsed time of the whole call.
	stamp := func() time.Duration {
		end := e.now()
		elapsed := end.Sub(start)
		for _, r := range produced {
			r.ComputedAt = end
			r.ComputeTime = elapsed
		}
		metrics.ExecutionDuration.Observe(elapsed.Seconds())
		return elapsed
	}

	for _, st := range path[resume:] {
		if !st.Config.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			stamp()
			return nil, err
		}
		res, err := e.runStage(ctx, s, st, input, hasInput, running)
		if err != nil {
			metrics.StageFailures.WithLabelValues(st.Config.OperationName).Inc()
			stamp()
			logger.Debug("Stage failed.", "stage", st.ID, "operation", st.Config.OperationName, "error", err)
			return nil, err
		}
		metrics.StageExecutions.WithLabelValues(st.Config.OperationName).Inc()
		produced = append(produced, res)
		cache[res.Key] = res
		running = res.Records
	}

	key := pipeline.Key(s.ActiveInputID, target)
	if !path[len(path)-1].Config.Enabled {
		// A disabled target is never cached by the walk; its output is
		// whatever reached it.
		res := &pipeline.CachedResult{
			Key:         key,
			StageID:     target,
			InputID:     s.ActiveInputID,
			Records:     running,
			RecordCount: len(running),
			FieldNames:  record.Union(running),
			SizeBytes:   record.EstimateSize(running),
		}
		produced = append(produced, res)
		cache[key] = res
	}

	elapsed := stamp()
	logger.Debug("Execution finished.", "stagesRun", len(produced), "elapsed", elapsed)

	return cache[key], nil
}

func nearestCached(cache map[pipeline.CacheKey]*pipeline.CachedResult, input pipeline.InputID, path []pipeline.Stage) int {
	for i := len(path) - 1; i >= 0; i-- {
		if _, ok := cache[pipeline.Key(input, path[i].ID)]; ok {
			return i
		}
	}
	return -1
}

// firstNeedsRecords reports whether the walk must start from the loaded
// input: true unless the first enabled stage (or, when none is enabled, the
// first stage) is an input operation.
func firstNeedsRecords(path []pipeline.Stage) bool {
	first := path[0]
	for _, st := range path {
		if st.Config.Enabled {
			first = st
			break
		}
	}
	return !operation.IsInputOperation(first.Config.OperationName)
}

// runStage constructs one operation bound to an interceptor, feeds it
// according to its input pattern and collects what it emitted.
func (e *Executor) runStage(ctx context.Context, s pipeline.State, st pipeline.Stage, input pipeline.InputSource, hasInput bool, running []record.Record) (res *pipeline.CachedResult, err error) {
	name := st.Config.OperationName
	fail := func(err error) error {
		return &StageError{StageID: st.ID, Operation: name, Err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fail(fmt.Errorf("panic: %v", r))
		}
	}()

	sink := operation.NewInterceptor()
	op, err := e.registry.Create(ctx, name, sink, slices.Clone(st.Config.Args))
	if err != nil {
		return nil, fail(err)
	}

	pattern := operation.Classify(name, op)
	if (pattern == operation.PatternBulkContent || pattern == operation.PatternLines) && !hasInput {
		return nil, fail(ErrNoInput)
	}

	switch pattern {
	case operation.PatternSelfContained:
	case operation.PatternBulkContent:
		content, err := e.loader.Content(ctx, input)
		if err != nil {
			return nil, fail(err)
		}
		if err := op.(operation.ContentParser).ParseContent(content); err != nil {
			return nil, fail(err)
		}
	case operation.PatternLines:
		ls, err := lines(ctx, e.loader, input)
		if err != nil {
			return nil, fail(err)
		}
		acceptor := op.(operation.LineAcceptor)
		for _, line := range ls {
			if !acceptor.AcceptLine(line) {
				break
			}
		}
	default:
		for _, r := range running {
			if !op.AcceptRecord(r.Clone()) {
				break
			}
		}
	}

	if err := op.Finish(); err != nil {
		return nil, fail(err)
	}

	records := sink.Records()
	return &pipeline.CachedResult{
		Key:         pipeline.Key(s.ActiveInputID, st.ID),
		StageID:     st.ID,
		InputID:     s.ActiveInputID,
		Records:     records,
		Lines:       sink.Lines(),
		RecordCount: sink.Count(),
		FieldNames:  sink.FieldNames(),
		SizeBytes:   record.EstimateSize(records),
	}, nil
}

// AsStageError unwraps err into a *StageError if it is one.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	ok := errors.As(err, &se)
	return se, ok
}
