package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/vk/recsexplorer/internal/ctxlog"
	"github.com/vk/recsexplorer/internal/pipeline"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultInterval is how often a dirty session is saved.
	DefaultInterval = 30 * time.Second
	// DefaultDebounce is the quiet period after an undoable action before it
	// is saved.
	DefaultDebounce = 2 * time.Second
)

// Saver persists a state.
type Saver interface {
	Save(ctx context.Context, s pipeline.State) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithInterval sets the periodic save interval. Non-positive values are
// ignored.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithDebounce sets the debounce delay. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// Controller decides when to save. At most one save runs at a time; any save
// requested while another is running is skipped. Failed saves are logged and
// leave the session dirty for the next attempt.
type Controller struct {
	ctx      context.Context
	saver    Saver
	interval time.Duration
	debounce time.Duration
	sem      *semaphore.Weighted

	mu       sync.Mutex
	latest   pipeline.State
	hasState bool
	version  uint64
	saved    uint64
	timer    *time.Timer
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New starts a controller. ctx must carry a logger; it is used for every
// background save and stopping it stops the interval loop.
func New(ctx context.Context, saver Saver, opts ...Option) *Controller {
	c := &Controller{
		ctx:      ctx,
		saver:    saver,
		interval: DefaultInterval,
		debounce: DefaultDebounce,
		sem:      semaphore.NewWeighted(1),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.Dirty() {
				c.save(c.ctx)
			}
		case <-c.stop:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// OnAction records the state produced by a dispatched action. Undoable
// actions mark the session dirty and restart the debounce timer; every other
// action is ignored.
func (c *Controller) OnAction(a pipeline.Action, s pipeline.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.latest, c.hasState = s, true
	if !pipeline.IsUndoable(a) {
		return
	}
	c.version++
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.fireDebounce)
}

func (c *Controller) fireDebounce() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	dirty := c.version != c.saved
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	if dirty {
		c.save(c.ctx)
	}
}

// SaveNow cancels a pending debounced save and saves s. It reports whether s
// was persisted: it is skipped when another save is running, and a failure
// is logged and leaves the session dirty.
func (c *Controller) SaveNow(ctx context.Context, s pipeline.State) bool {
	c.mu.Lock()
	c.latest, c.hasState = s, true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	return c.save(ctx)
}

// Dirty reports whether structural changes happened since the last
// successful save.
func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version != c.saved
}

func (c *Controller) save(ctx context.Context) bool {
	logger := ctxlog.FromContext(ctx)
	if !c.sem.TryAcquire(1) {
		logger.Debug("Save already running, skipping.")
		return false
	}
	defer c.sem.Release(1)

	c.mu.Lock()
	s, version, ok := c.latest, c.version, c.hasState
	c.mu.Unlock()
	if !ok {
		return false
	}

	if err := c.saver.Save(ctx, s); err != nil {
		logger.Warn("Auto-save failed.", "sessionID", s.SessionID, "error", err)
		return false
	}

	c.mu.Lock()
	if version > c.saved {
		c.saved = version
	}
	c.mu.Unlock()
	logger.Debug("Session auto-saved.", "sessionID", s.SessionID)
	return true
}

// Close stops both timers and waits for a running timer-triggered save.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	close(c.stop)
	c.wg.Wait()
}
