package executor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/recsexplorer/internal/cachepolicy"
	"github.com/vk/recsexplorer/internal/metrics"
	"github.com/vk/recsexplorer/internal/pipeline"
	"go.uber.org/goleak"
)

func TestDriver_ExecutesAndDispatchesResults(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec, _ := newTestExecutor(t)
	s, ids := buildState(pipeline.CapturedSource(xs(5, 1, 3)), stage("grep", "r.x > 2"), stage("sort", "-k", "x=n"))
	d := NewDriver(exec, cachepolicy.NewTracker())
	rec := &recorder{}

	require.True(t, d.Request(testContext(), s, rec.dispatch))
	d.Wait()

	actions := rec.all()
	require.GreaterOrEqual(t, len(actions), 4)
	assert.Equal(t, pipeline.SetExecuting{Executing: true}, actions[0])
	assert.Equal(t, pipeline.ClearError{}, actions[1])
	assert.Equal(t, pipeline.SetExecuting{Executing: false}, actions[len(actions)-1])
	assert.ElementsMatch(t, ids, rec.cached())

	// Applying the dispatched actions makes the cursor output available, so
	// a second request is a cache hit.
	for _, a := range actions {
		s = pipeline.Reduce(s, a)
	}
	assert.Equal(t, xs(3, 5), s.Cache[pipeline.Key(s.ActiveInputID, ids[1])].Records)
	assert.False(t, d.Request(testContext(), s, rec.dispatch))
}

func TestDriver_NoCursorOrMissingInput(t *testing.T) {
	exec, _ := newTestExecutor(t)
	d := NewDriver(exec, nil)
	rec := &recorder{}

	s, ids := buildState(pipeline.Source{}, stage("grep", "true"))
	assert.False(t, d.Request(testContext(), pipeline.Reduce(s, pipeline.SetCursor{}), rec.dispatch))
	assert.Empty(t, rec.all())

	assert.False(t, d.Request(testContext(), s, rec.dispatch))
	assert.Equal(t, []pipeline.Action{pipeline.SetError{StageID: ids[0], Message: ErrNoInput.Error()}}, rec.all())
}

func TestDriver_ErrorIsAttributedToFailingStage(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec, _ := newTestExecutor(t)
	s, ids := buildState(pipeline.CapturedSource(xs(1)), stage("fail"), stage("count"))
	d := NewDriver(exec, nil)
	rec := &recorder{}

	require.True(t, d.Request(testContext(), s, rec.dispatch))
	d.Wait()

	actions := rec.all()
	require.Len(t, actions, 4)
	failed, ok := actions[2].(pipeline.SetError)
	require.True(t, ok)
	assert.Equal(t, ids[0], failed.StageID)
	assert.Contains(t, failed.Message, "boom")
	assert.Equal(t, pipeline.SetExecuting{Executing: false}, actions[3])
}

func TestDriver_DropsStaleResults(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec, tm := newTestExecutor(t)
	s, ids := buildState(pipeline.CapturedSource(xs(1)), stage("block"), stage("count"))
	d := NewDriver(exec, nil)
	rec := &recorder{}
	droppedBefore := testutil.ToFloat64(metrics.StaleResultsDropped)

	// The first request blocks inside its only stage.
	first := pipeline.Reduce(s, pipeline.SetCursor{StageID: ids[0]})
	require.True(t, d.Request(testContext(), first, rec.dispatch))

	// The cursor moves on; this request completes while the first is stuck.
	second := pipeline.Reduce(s, pipeline.CacheResult{InputID: s.ActiveInputID, StageID: ids[0], Result: &pipeline.CachedResult{Records: xs(7)}})
	require.True(t, d.Request(testContext(), second, rec.dispatch))
	assert.Equal(t, uint64(2), d.Generation())

	require.Eventually(t, func() bool { return tm.Built.Load() == 1 && len(rec.cached()) == 1 }, time.Second, 5*time.Millisecond)

	close(tm.Release)
	d.Wait()

	assert.Equal(t, []pipeline.StageID{ids[1]}, rec.cached())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StaleResultsDropped)-droppedBefore)
}

func TestDriver_IdleRequestSupersedesRunningExecution(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec, tm := newTestExecutor(t)
	s, ids := buildState(pipeline.CapturedSource(xs(1)), stage("block"))
	d := NewDriver(exec, nil)
	rec := &recorder{}
	droppedBefore := testutil.ToFloat64(metrics.StaleResultsDropped)

	require.True(t, d.Request(testContext(), s, rec.dispatch))

	// The stage is deleted while it runs; the cursor is left empty.
	live := pipeline.Reduce(s, pipeline.SetExecuting{Executing: true})
	live = pipeline.Reduce(live, pipeline.DeleteStage{StageID: ids[0]})
	require.Empty(t, live.CursorStageID)
	assert.False(t, d.Request(testContext(), live, rec.dispatch))
	assert.Equal(t, uint64(2), d.Generation())

	close(tm.Release)
	d.Wait()

	assert.Empty(t, rec.cached(), "the superseded run reports nothing")
	actions := rec.all()
	assert.Equal(t, pipeline.SetExecuting{Executing: false}, actions[len(actions)-1])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StaleResultsDropped)-droppedBefore)
}

func TestDriver_SelectivePolicyKeepsPinnedAndTarget(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec, _ := newTestExecutor(t)
	s, ids := buildState(pipeline.CapturedSource(xs(1)), stage("count"), stage("count"), stage("count"))
	s = pipeline.Reduce(s, pipeline.SetCachePolicy{Policy: pipeline.CacheSelective})
	s = pipeline.Reduce(s, pipeline.PinStage{StageID: ids[0]})
	d := NewDriver(exec, nil)
	rec := &recorder{}

	require.True(t, d.Request(testContext(), s, rec.dispatch))
	d.Wait()

	assert.ElementsMatch(t, []pipeline.StageID{ids[0], ids[2]}, rec.cached())
}

func TestDriver_EvictsOverBudget(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec, _ := newTestExecutor(t)
	s, ids := buildState(pipeline.CapturedSource(xs(1, 2, 3)), stage("count"), stage("count"))
	s.CacheConfig.MaxMemoryBytes = 1
	d := NewDriver(exec, cachepolicy.NewTracker())
	rec := &recorder{}

	require.True(t, d.Request(testContext(), s, rec.dispatch))
	d.Wait()

	var evicted []pipeline.CacheKey
	for _, a := range rec.all() {
		if inv, ok := a.(pipeline.InvalidateKeys); ok {
			evicted = append(evicted, inv.Keys...)
		}
	}
	assert.Equal(t, []pipeline.CacheKey{pipeline.Key(s.ActiveInputID, ids[0])}, evicted)
}
