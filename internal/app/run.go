package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vk/recsexplorer/internal/ctxlog"
	"github.com/vk/recsexplorer/internal/pipeline"
	"github.com/vk/recsexplorer/internal/record"
	"github.com/vk/recsexplorer/internal/selectors"
)

// RunOptions describe one non-interactive evaluation.
type RunOptions struct {
	// SessionID resumes a saved session instead of starting a new one.
	SessionID string
	// PipelineFile is an HCL or YAML pipeline definition applied on top.
	PipelineFile string
	// Inputs are JSON-lines files added as inputs. The first becomes active.
	Inputs []string
	// Stdin is captured as an input when the pipeline has no input at all.
	Stdin io.Reader
	// Name renames the session.
	Name string
	// Save persists the session after the run.
	Save bool
}

// ErrEmptyPipeline is returned by Run when there is no stage to evaluate.
var ErrEmptyPipeline = errors.New("pipeline has no stages")

// Run builds the pipeline described by opts, evaluates the cursor stage (the
// last stage of the active fork when no cursor is set) and writes its output
// to out, one JSON record or text line per line.
func (a *App) Run(ctx context.Context, out io.Writer, opts RunOptions) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")
	a.StartHealthCheckServer()

	if opts.SessionID != "" {
		if err := a.Resume(opts.SessionID); err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
	}
	if opts.PipelineFile != "" {
		if err := a.LoadPipeline(opts.PipelineFile); err != nil {
			return fmt.Errorf("load pipeline: %w", err)
		}
	}
	if err := a.addInputs(opts); err != nil {
		return err
	}
	if opts.Name != "" {
		a.Dispatch(pipeline.SetSessionName{Name: opts.Name})
	}

	s := a.State()
	if s.CursorStageID == "" {
		fork, _ := s.ActiveFork()
		if len(fork.StageIDs) == 0 {
			return ErrEmptyPipeline
		}
		a.Dispatch(pipeline.SetCursor{StageID: fork.StageIDs[len(fork.StageIDs)-1]})
	}

	if a.Execute(ctx) {
		a.Wait()
	}
	s = a.State()

	if opts.Save {
		if err := a.Save(ctx); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		a.logger.Info("Session saved.", "sessionID", s.SessionID, "dir", s.SessionDir)
	}

	if s.LastError != nil {
		if st, ok := s.Stages[s.LastError.StageID]; ok {
			return fmt.Errorf("stage %d (%s) failed: %s", st.Position+1, st.Config.OperationName, s.LastError.Message)
		}
		return errors.New(s.LastError.Message)
	}

	result := selectors.CursorOutput(s)
	if result == nil {
		return errors.New("cursor stage produced no output")
	}
	a.logger.Debug("App.Run method finished.", "records", result.RecordCount, "computeTime", result.ComputeTime)
	return writeResult(out, result)
}

func (a *App) addInputs(opts RunOptions) error {
	var first pipeline.InputID
	for i, path := range opts.Inputs {
		id := a.AddFileInput(path)
		if i == 0 {
			first = id
		}
	}
	if first != "" {
		a.Dispatch(pipeline.SwitchInput{InputID: first})
		return nil
	}
	if len(a.State().Inputs) > 0 || opts.Stdin == nil {
		return nil
	}

	data, err := io.ReadAll(opts.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	records, err := record.ParseLines(data)
	if err != nil {
		return fmt.Errorf("stdin: %w", err)
	}
	a.Dispatch(pipeline.AddInput{Source: pipeline.CapturedSource(records), Label: "stdin"})
	return nil
}

func writeResult(out io.Writer, result *pipeline.CachedResult) error {
	if len(result.Records) == 0 && len(result.Lines) > 0 {
		for _, line := range result.Lines {
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
		}
		return nil
	}
	data, err := record.FormatLines(result.Records)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
