// Package cachepolicy decides which stage outputs stay in the cache: the
// configured policy filters what is stored, and a Tracker plans LRU
// evictions that keep the cache within its memory budget.
package cachepolicy

import (
	"slices"
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/vk/recsexplorer/internal/metrics"
	"github.com/vk/recsexplorer/internal/pipeline"
)

// ShouldCache reports whether a stage's output may be stored under cfg.
func ShouldCache(cfg pipeline.CacheConfig, id pipeline.StageID) bool {
	switch cfg.Policy {
	case pipeline.CacheNone:
		return false
	case pipeline.CacheSelective:
		return cfg.IsPinned(id)
	default:
		return true
	}
}

// Tracker records cache key access order, least recently used first.
type Tracker struct {
	mu    sync.Mutex
	order *linkedhashmap.Map
}

func NewTracker() *Tracker {
	return &Tracker{order: linkedhashmap.New()}
}

// Touch marks k as most recently used.
func (t *Tracker) Touch(k pipeline.CacheKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order.Remove(k)
	t.order.Put(k, struct{}{})
}

// Forget stops tracking k.
func (t *Tracker) Forget(k pipeline.CacheKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order.Remove(k)
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Size()
}

// Plan returns the keys to evict from s.Cache, oldest first, so that the
// total size fits CacheConfig.MaxMemoryBytes. Pinned stages and the keys in
// keep are never chosen. Keys missing from the cache are forgotten; cached
// keys never touched count as older than every touched key.
func (t *Tracker) Plan(s pipeline.State, keep ...pipeline.CacheKey) []pipeline.CacheKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total int64
	var untracked []pipeline.CacheKey
	for k, r := range s.Cache {
		total += r.SizeBytes
		if _, ok := t.order.Get(k); !ok {
			untracked = append(untracked, k)
		}
	}
	slices.Sort(untracked)

	var candidates []pipeline.CacheKey
	candidates = append(candidates, untracked...)
	for _, k := range t.order.Keys() {
		key := k.(pipeline.CacheKey)
		if _, ok := s.Cache[key]; !ok {
			t.order.Remove(key)
			continue
		}
		candidates = append(candidates, key)
	}

	budget := s.CacheConfig.MaxMemoryBytes
	if budget <= 0 {
		budget = pipeline.DefaultMaxMemoryBytes
	}

	var evict []pipeline.CacheKey
	for _, k := range candidates {
		if total <= budget {
			break
		}
		_, stage := pipeline.SplitKey(k)
		if s.CacheConfig.IsPinned(stage) || slices.Contains(keep, k) {
			continue
		}
		total -= s.Cache[k].SizeBytes
		evict = append(evict, k)
		t.order.Remove(k)
	}
	metrics.CacheEvictions.Add(float64(len(evict)))
	return evict
}
