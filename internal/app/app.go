package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/vk/recsexplorer/internal/autosave"
	"github.com/vk/recsexplorer/internal/cachepolicy"
	"github.com/vk/recsexplorer/internal/config"
	"github.com/vk/recsexplorer/internal/ctxlog"
	"github.com/vk/recsexplorer/internal/executor"
	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/pipeline"
	"github.com/vk/recsexplorer/internal/pipelinefile"
	"github.com/vk/recsexplorer/internal/session"
)

// App encapsulates the application's dependencies, configuration, and the
// live pipeline state. Every state change goes through Dispatch.
type App struct {
	ctx      context.Context
	logger   *slog.Logger
	config   *config.Config
	registry *operation.Registry
	sessions *session.Manager
	driver   *executor.Driver
	autosave *autosave.Controller

	mu    sync.Mutex
	state pipeline.State
	// resumed is the document of a resumed session. Its cache manifest is
	// pruned as the pipeline changes so it only lists outputs that are
	// still valid.
	resumed *session.File

	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns an App
// holding a fresh, unsaved session.
func NewApp(outW io.Writer, cfg *config.Config, modules ...operation.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	if len(modules) == 0 {
		modules = coreModules
	}
	reg := operation.NewRegistry(modules...)
	logger.Debug("All operation modules registered.", "count", len(modules), "operations", reg.Names())

	a := &App{
		ctx:      ctx,
		logger:   logger,
		config:   cfg,
		registry: reg,
		sessions: session.NewManager(cfg.SessionsDir),
		driver:   executor.NewDriver(executor.New(reg), cachepolicy.NewTracker()),
	}
	a.state = a.freshState()
	a.autosave = autosave.New(ctx, sessionSaver{a},
		autosave.WithInterval(cfg.AutoSaveInterval),
		autosave.WithDebounce(cfg.AutoSaveDebounce))
	return a
}

func (a *App) freshState() pipeline.State {
	s := pipeline.New()
	s.SessionDir = a.sessions.Dir(s.SessionID)
	s.CacheConfig.MaxMemoryBytes = a.config.MaxMemoryBytes
	s.CacheConfig.Policy = pipeline.CachePolicy(a.config.CachePolicy)
	return s
}

// Context returns the application context, which carries its logger.
func (a *App) Context() context.Context { return a.ctx }

// Config returns the configuration the app was built with.
func (a *App) Config() *config.Config { return a.config }

// Registry returns the application's operation registry.
func (a *App) Registry() *operation.Registry { return a.registry }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// State returns the current state.
func (a *App) State() pipeline.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Dispatch applies an action and returns the resulting state. It is safe
// for concurrent use; the execution driver reports back through it.
func (a *App) Dispatch(action pipeline.Action) pipeline.State {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.state
	a.state = pipeline.Reduce(prev, action)
	a.pruneManifest(action, prev, a.state)
	a.autosave.OnAction(action, a.state)
	return a.state
}

func (a *App) dispatch(action pipeline.Action) { a.Dispatch(action) }

// Execute asks the driver to materialize the cursor stage's output. A
// persisted cache entry of a resumed session is loaded first when one
// lies on the cursor's path. It reports whether an execution started.
func (a *App) Execute(ctx context.Context) bool {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.restoreCached(ctx)
	return a.driver.Request(ctx, a.State(), a.dispatch)
}

// Wait blocks until running executions have reported back.
func (a *App) Wait() { a.driver.Wait() }

// NewSession replaces the live state with an empty, unsaved session.
func (a *App) NewSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = a.freshState()
	a.resumed = nil
}

// Resume replaces the live state with a saved session.
func (a *App) Resume(id string) error {
	s, file, err := a.sessions.Resume(a.ctx, id)
	if err != nil {
		return err
	}
	if missing := session.VerifyInputFiles(s); len(missing) > 0 {
		a.logger.Warn("Session inputs are missing.", "sessionID", id, "paths", missing)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
	a.resumed = file
	a.logger.Info("Session resumed.", "sessionID", id, "stages", len(s.Stages), "cachedOutputs", len(file.CacheManifest))
	return nil
}

// LoadPipeline applies a pipeline definition file to the live state.
func (a *App) LoadPipeline(path string) error {
	doc, err := pipelinefile.Load(path)
	if err != nil {
		return err
	}
	if err := doc.CheckOperations(a.registry); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	pipelinefile.Apply(doc, a.Dispatch)
	a.logger.Debug("Pipeline file applied.", "path", path, "stages", len(doc.Stages), "inputs", len(doc.Inputs))
	return nil
}

// AddFileInput adds path as an input and makes it active. When the file is
// not JSON lines and the active fork does not already start with an input
// operation, the operation that parses it becomes the fork's first stage.
func (a *App) AddFileInput(path string) pipeline.InputID {
	s := a.Dispatch(pipeline.AddInput{Source: pipeline.FileSource(path), Label: filepath.Base(path)})
	id := s.ActiveInputID

	cfg, ok := pipelinefile.DetectInputOperation(path)
	if !ok {
		return id
	}
	if _, registered := a.registry.Lookup(cfg.OperationName); !registered {
		a.logger.Warn("No operation to parse input file.", "path", path, "operation", cfg.OperationName)
		return id
	}

	fork, _ := s.ActiveFork()
	if len(fork.StageIDs) == 0 {
		a.Dispatch(pipeline.AddStage{Config: cfg})
		return id
	}
	first := s.Stages[fork.StageIDs[0]]
	if operation.IsInputOperation(first.Config.OperationName) {
		return id
	}
	a.Dispatch(pipeline.InsertStageBefore{BeforeStageID: first.ID, Config: cfg})
	if s.CursorStageID != "" {
		a.Dispatch(pipeline.SetCursor{StageID: s.CursorStageID})
	}
	a.logger.Debug("Inserted input operation.", "path", path, "operation", cfg.OperationName)
	return id
}

// ErrNotSaved is returned by Save when the session could not be persisted.
// The cause is logged.
var ErrNotSaved = errors.New("session was not saved")

// Save persists the live state immediately.
func (a *App) Save(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	if !a.autosave.SaveNow(ctx, a.State()) {
		return ErrNotSaved
	}
	return nil
}

// Close waits for executions, stops background saves, and performs a final
// save when there are unsaved pipeline changes.
func (a *App) Close(ctx context.Context) error {
	a.driver.Wait()
	a.autosave.Close()
	var err error
	if a.autosave.Dirty() {
		err = a.Save(ctx)
	}
	if cerr := a.closeHealthCheckServer(); err == nil {
		err = cerr
	}
	return err
}
