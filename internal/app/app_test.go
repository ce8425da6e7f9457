package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/recsexplorer/internal/config"
	"github.com/vk/recsexplorer/internal/pipeline"
	"github.com/vk/recsexplorer/internal/selectors"
	"github.com/vk/recsexplorer/internal/testutil"
)

const users = `{"name":"a","age":25}
{"name":"b","age":40}
{"name":"c","age":35}
{"name":"d","age":50}
`

const adultsHCL = `
name = "adults"

stage "grep" {
  args = ["{{age}} > 30"]
}

stage "sort" {
  args = ["-k", "age=n"]
}

stage "head" {
  args = ["-n", "2"]
}
`

func TestApp_RunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := testutil.WriteFile(t, dir, "users.jsonl", users)
	pipelineFile := testutil.WriteFile(t, dir, "adults.hcl", adultsHCL)

	a, _ := SetupAppTest(t, nil)
	var out bytes.Buffer
	err := a.Run(context.Background(), &out, RunOptions{
		PipelineFile: pipelineFile,
		Inputs:       []string{input},
		Save:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"age\":35,\"name\":\"c\"}\n{\"age\":40,\"name\":\"b\"}\n", out.String())

	s := a.State()
	assert.Equal(t, "adults", s.SessionName)
	assert.Len(t, s.Cache, 3, "every stage on the path was cached")
	assert.False(t, s.Executing)

	metas, err := a.Sessions().List(a.Context())
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "grep | sort | head", metas[0].PipelineSummary)
	assert.Equal(t, []string{input}, metas[0].InputPaths)
}

func TestApp_ResumeRestoresPersistedOutputs(t *testing.T) {
	dir := t.TempDir()
	sessions := filepath.Join(dir, "sessions")
	input := testutil.WriteFile(t, dir, "users.jsonl", users)
	pipelineFile := testutil.WriteFile(t, dir, "adults.hcl", adultsHCL)
	useDir := func(c *config.Config) { c.SessionsDir = sessions }

	first, _ := SetupAppTest(t, useDir)
	require.NoError(t, first.Run(context.Background(), &bytes.Buffer{}, RunOptions{
		PipelineFile: pipelineFile,
		Inputs:       []string{input},
		Save:         true,
	}))
	id := first.State().SessionID

	// Without the input file, only persisted outputs can answer.
	require.NoError(t, os.Remove(input))

	second, _ := SetupAppTest(t, useDir)
	var out bytes.Buffer
	require.NoError(t, second.Run(context.Background(), &out, RunOptions{SessionID: id}))
	assert.Equal(t, "{\"age\":35,\"name\":\"c\"}\n{\"age\":40,\"name\":\"b\"}\n", out.String())
	assert.Len(t, second.State().Cache, 1, "only the needed output was read back")

	// Changing the last stage invalidates its persisted output; the sort
	// output upstream of it is restored and reused.
	head := second.State().CursorStageID
	second.Dispatch(pipeline.UpdateStageArgs{StageID: head, Args: []string{"-n", "1"}})
	require.True(t, second.Execute(context.Background()))
	second.Wait()

	s := second.State()
	require.Nil(t, s.LastError)
	result := selectors.CursorOutput(s)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.RecordCount)
	assert.Equal(t, "c", result.Records[0]["name"])
}

func TestApp_RunCapturesStdin(t *testing.T) {
	a, _ := SetupAppTest(t, nil)
	pipelineFile := testutil.WriteFile(t, t.TempDir(), "p.yaml", "stages:\n  - operation: head\n    args: [\"-n\", \"1\"]\n")

	var out bytes.Buffer
	err := a.Run(context.Background(), &out, RunOptions{
		PipelineFile: pipelineFile,
		Stdin:        strings.NewReader(users),
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"age\":25,\"name\":\"a\"}\n", out.String())

	in, ok := a.State().ActiveInput()
	require.True(t, ok)
	assert.Equal(t, pipeline.SourceCaptured, in.Source.Kind)
}

func TestApp_RunErrors(t *testing.T) {
	a, _ := SetupAppTest(t, nil)
	err := a.Run(context.Background(), &bytes.Buffer{}, RunOptions{})
	require.ErrorIs(t, err, ErrEmptyPipeline)

	dir := t.TempDir()
	input := testutil.WriteFile(t, dir, "users.jsonl", users)
	bad := testutil.WriteFile(t, dir, "bad.hcl", "stage \"grep\" {\n  args = [\"{{age}} >\"]\n}\n")
	b, _ := SetupAppTest(t, nil)
	err = b.Run(context.Background(), &bytes.Buffer{}, RunOptions{PipelineFile: bad, Inputs: []string{input}})
	require.ErrorContains(t, err, "stage 1 (grep) failed")

	unknown := testutil.WriteFile(t, dir, "unknown.hcl", "stage \"nope\" {}\n")
	c, _ := SetupAppTest(t, nil)
	err = c.Run(context.Background(), &bytes.Buffer{}, RunOptions{PipelineFile: unknown})
	require.ErrorContains(t, err, "unknown operation")
}

func TestApp_DispatchFeedsAutoSave(t *testing.T) {
	a, _ := SetupAppTest(t, nil)
	a.Dispatch(pipeline.AddStage{Config: pipeline.StageConfig{OperationName: "fromenv", Enabled: true}})
	require.NoError(t, a.Close(context.Background()))

	metas, err := a.Sessions().List(a.Context())
	require.NoError(t, err)
	require.Len(t, metas, 1, "closing with unsaved changes saves them")
	assert.Equal(t, a.State().SessionID, metas[0].SessionID)
}

func TestApp_HealthEndpoints(t *testing.T) {
	a, _ := SetupAppTest(t, nil)
	mux := a.healthMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "recsexplorer_cache_hits_total")
}

func TestApp_HealthReportsExecution(t *testing.T) {
	probe := testutil.NewProbeModule()
	a, _ := SetupAppTest(t, nil, probe)
	a.Dispatch(pipeline.AddInput{Source: pipeline.CapturedSource(testutil.Xs(1, 2)), Label: "xs"})
	a.Dispatch(pipeline.AddStage{Config: pipeline.StageConfig{OperationName: "block", Enabled: true}})

	require.True(t, a.Execute(context.Background()))
	rec := httptest.NewRecorder()
	a.healthMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "OK executing\n", rec.Body.String())

	close(probe.Release)
	a.Wait()
	s := a.State()
	assert.False(t, s.Executing)
	assert.Equal(t, 2, selectors.CursorOutput(s).RecordCount)
}

func TestApp_DeletedStageDuringExecutionLeavesNoCache(t *testing.T) {
	probe := testutil.NewProbeModule()
	a, _ := SetupAppTest(t, nil, probe)
	a.Dispatch(pipeline.AddInput{Source: pipeline.CapturedSource(testutil.Xs(1)), Label: "xs"})
	s := a.Dispatch(pipeline.AddStage{Config: pipeline.StageConfig{OperationName: "block", Enabled: true}})
	stage := s.CursorStageID

	require.True(t, a.Execute(context.Background()))
	s = a.Dispatch(pipeline.DeleteStage{StageID: stage})
	require.Empty(t, s.CursorStageID)
	assert.False(t, a.Execute(context.Background()))

	close(probe.Release)
	a.Wait()

	s = a.State()
	assert.Empty(t, s.Cache)
	assert.False(t, s.Executing)
}

func TestApp_SaveFailureIsReportedAndLogged(t *testing.T) {
	blocker := testutil.WriteFile(t, t.TempDir(), "not-a-dir", "")
	a, logs := SetupAppTest(t, func(cfg *config.Config) { cfg.SessionsDir = blocker })
	a.Dispatch(pipeline.AddStage{Config: pipeline.StageConfig{OperationName: "fromenv", Enabled: true}})

	assert.ErrorIs(t, a.Save(context.Background()), ErrNotSaved)
	assert.Contains(t, logs.String(), "Auto-save failed.")
	assert.ErrorIs(t, a.Close(context.Background()), ErrNotSaved, "the change is still pending at close")
}

func TestApp_RunDetectsCSVInput(t *testing.T) {
	dir := t.TempDir()
	input := testutil.WriteFile(t, dir, "users.csv", "name,age\na,25\nb,40\n")
	pipelineFile := testutil.WriteFile(t, dir, "first.yaml", "stages:\n  - operation: head\n    args: [\"-n\", \"1\"]\n")

	a, _ := SetupAppTest(t, nil)
	var out bytes.Buffer
	err := a.Run(context.Background(), &out, RunOptions{PipelineFile: pipelineFile, Inputs: []string{input}})
	require.NoError(t, err)
	assert.Equal(t, "{\"age\":\"25\",\"name\":\"a\"}\n", out.String())

	path := selectors.ActivePath(a.State())
	require.Len(t, path, 2)
	assert.Equal(t, "fromcsv", path[0].Config.OperationName)
	assert.Equal(t, []string{"--header"}, path[0].Config.Args)
	assert.Equal(t, path[1].ID, a.State().CursorStageID, "the cursor stays on the pipeline's last stage")
}

func TestApp_AddFileInput(t *testing.T) {
	a, logs := SetupAppTest(t, nil)

	a.AddFileInput("records.jsonl")
	assert.Empty(t, selectors.ActivePath(a.State()), "JSON lines need no parser stage")

	a.AddFileInput("people.tsv")
	path := selectors.ActivePath(a.State())
	require.Len(t, path, 1)
	assert.Equal(t, []string{"--header", "--delim", "\t"}, path[0].Config.Args)
	assert.Equal(t, path[0].ID, a.State().CursorStageID)

	a.AddFileInput("more.csv")
	assert.Len(t, selectors.ActivePath(a.State()), 1, "the fork already starts with an input operation")

	a.NewSession()
	a.AddFileInput("feed.xml")
	assert.Empty(t, selectors.ActivePath(a.State()), "no fromxml operation is registered")
	assert.Contains(t, logs.String(), "No operation to parse input file.")
	assert.Len(t, a.State().Inputs, 1)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger("warn", "json", &buf).Info("hidden")
	assert.Empty(t, buf.String())

	newLogger("debug", "json", &buf).Debug("shown", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"app":"recsexplorer"`)
}
