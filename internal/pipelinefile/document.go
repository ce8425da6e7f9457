package pipelinefile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/pipeline"
	"github.com/vk/recsexplorer/internal/selectors"
	"github.com/zclconf/go-cty/cty"
	"sigs.k8s.io/yaml"
)

// Format is a pipeline file encoding.
type Format string

const (
	FormatHCL  Format = "hcl"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file extension. Anything that is not
// .hcl is read as YAML, which also accepts JSON.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		return FormatHCL
	}
	return FormatYAML
}

// Document is a portable pipeline definition: named file inputs and the
// stages of one fork in order.
type Document struct {
	Name   string  `json:"name,omitempty"`
	Inputs []Input `json:"inputs,omitempty"`
	Stages []Stage `json:"stages"`
}

type Input struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

type Stage struct {
	Operation string   `json:"operation"`
	Args      []string `json:"args,omitempty"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`
}

// IsEnabled reports the stage's effective enabled flag.
func (s Stage) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// hclRoot mirrors Document for gohcl decoding.
type hclRoot struct {
	Name   string      `hcl:"name,optional"`
	Inputs []*hclInput `hcl:"input,block"`
	Stages []*hclStage `hcl:"stage,block"`
}

type hclInput struct {
	Label string `hcl:"label,label"`
	Path  string `hcl:"path"`
}

type hclStage struct {
	Operation string   `hcl:"operation,label"`
	Args      []string `hcl:"args,optional"`
	Enabled   *bool    `hcl:"enabled,optional"`
}

// Load reads a pipeline file, choosing the format from its extension.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	return Parse(data, path, FormatFor(path))
}

// Parse decodes a document. filename is only used in diagnostics.
func Parse(data []byte, filename string, format Format) (*Document, error) {
	var doc *Document
	var err error
	switch format {
	case FormatHCL:
		doc, err = parseHCL(data, filename)
	case FormatYAML:
		doc = &Document{}
		if err = yaml.UnmarshalStrict(data, doc); err != nil {
			err = fmt.Errorf("failed to decode YAML file %s: %w", filename, err)
		}
	default:
		err = fmt.Errorf("unknown pipeline format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return doc, nil
}

func parseHCL(data []byte, filename string) (*Document, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	var root hclRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	doc := &Document{Name: root.Name}
	for _, in := range root.Inputs {
		doc.Inputs = append(doc.Inputs, Input{Label: in.Label, Path: in.Path})
	}
	for _, st := range root.Stages {
		doc.Stages = append(doc.Stages, Stage{Operation: st.Operation, Args: st.Args, Enabled: st.Enabled})
	}
	return doc, nil
}

// Validate checks the document's own consistency.
func (d *Document) Validate() error {
	for i, in := range d.Inputs {
		if in.Path == "" {
			return fmt.Errorf("input %d (%q): path is required", i, in.Label)
		}
	}
	for i, st := range d.Stages {
		if st.Operation == "" {
			return fmt.Errorf("stage %d: operation is required", i)
		}
	}
	return nil
}

// CheckOperations reports the first stage whose operation is not registered.
func (d *Document) CheckOperations(reg *operation.Registry) error {
	for i, st := range d.Stages {
		if _, ok := reg.Lookup(st.Operation); !ok {
			return fmt.Errorf("stage %d: %w: %s", i, operation.ErrUnknownOperation, st.Operation)
		}
	}
	return nil
}

// Encode renders the document in the given format.
func Encode(d *Document, format Format) ([]byte, error) {
	switch format {
	case FormatHCL:
		return encodeHCL(d), nil
	case FormatYAML:
		return yaml.Marshal(d)
	}
	return nil, fmt.Errorf("unknown pipeline format %q", format)
}

func encodeHCL(d *Document) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	if d.Name != "" {
		body.SetAttributeValue("name", cty.StringVal(d.Name))
		body.AppendNewline()
	}
	for _, in := range d.Inputs {
		blk := body.AppendNewBlock("input", []string{in.Label})
		blk.Body().SetAttributeValue("path", cty.StringVal(in.Path))
		body.AppendNewline()
	}
	for i, st := range d.Stages {
		blk := body.AppendNewBlock("stage", []string{st.Operation})
		args := make([]cty.Value, len(st.Args))
		for j, a := range st.Args {
			args[j] = cty.StringVal(a)
		}
		if len(args) > 0 {
			blk.Body().SetAttributeValue("args", cty.ListVal(args))
		}
		if !st.IsEnabled() {
			blk.Body().SetAttributeValue("enabled", cty.False)
		}
		if i < len(d.Stages)-1 {
			body.AppendNewline()
		}
	}
	return hclwrite.Format(f.Bytes())
}

// FromState captures the active fork's stages and the file inputs of s.
// Captured inputs have no path and are left out.
func FromState(s pipeline.State) *Document {
	doc := &Document{Name: s.SessionName, Stages: []Stage{}}
	for _, id := range sortedInputIDs(s) {
		in := s.Inputs[id]
		if in.Source.Kind != pipeline.SourceFile {
			continue
		}
		doc.Inputs = append(doc.Inputs, Input{Label: in.Label, Path: in.Source.Path})
	}
	for _, st := range selectors.ActivePath(s) {
		stage := Stage{Operation: st.Config.OperationName, Args: st.Config.Args}
		if !st.Config.Enabled {
			disabled := false
			stage.Enabled = &disabled
		}
		doc.Stages = append(doc.Stages, stage)
	}
	return doc
}

// Apply dispatches the actions that add the document's inputs and stages
// to the active fork, then makes the document's first input active.
// dispatch must return the state after the action.
func Apply(d *Document, dispatch func(pipeline.Action) pipeline.State) pipeline.State {
	var s pipeline.State
	var first pipeline.InputID
	for i, in := range d.Inputs {
		label := in.Label
		if label == "" {
			label = filepath.Base(in.Path)
		}
		s = dispatch(pipeline.AddInput{Source: pipeline.FileSource(in.Path), Label: label})
		if i == 0 {
			first = s.ActiveInputID
		}
	}
	for _, st := range d.Stages {
		s = dispatch(pipeline.AddStage{Config: pipeline.StageConfig{
			OperationName: st.Operation,
			Args:          append([]string{}, st.Args...),
			Enabled:       st.IsEnabled(),
		}})
	}
	if first != "" {
		s = dispatch(pipeline.SwitchInput{InputID: first})
	}
	if d.Name != "" {
		s = dispatch(pipeline.SetSessionName{Name: d.Name})
	}
	return s
}
