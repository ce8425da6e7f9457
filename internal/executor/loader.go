package executor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/vk/recsexplorer/internal/pipeline"
	"github.com/vk/recsexplorer/internal/record"
)

// Loader reads the contents of an input source.
type Loader interface {
	// Records returns the input as a record list.
	Records(ctx context.Context, in pipeline.InputSource) ([]record.Record, error)
	// Content returns the input as raw text.
	Content(ctx context.Context, in pipeline.InputSource) (string, error)
}

// FileLoader reads file inputs as JSON lines and serves captured inputs from
// memory.
type FileLoader struct{}

func (FileLoader) Records(_ context.Context, in pipeline.InputSource) ([]record.Record, error) {
	switch in.Source.Kind {
	case pipeline.SourceCaptured:
		return in.Source.Records, nil
	case pipeline.SourceFile:
		data, err := os.ReadFile(in.Source.Path)
		if err != nil {
			return nil, fmt.Errorf("read input %q: %w", in.Label, err)
		}
		records, err := record.ParseLines(data)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Source.Path, err)
		}
		return records, nil
	}
	return nil, fmt.Errorf("unsupported input kind %q", in.Source.Kind)
}

func (FileLoader) Content(_ context.Context, in pipeline.InputSource) (string, error) {
	switch in.Source.Kind {
	case pipeline.SourceCaptured:
		b, err := record.FormatLines(in.Source.Records)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case pipeline.SourceFile:
		data, err := os.ReadFile(in.Source.Path)
		if err != nil {
			return "", fmt.Errorf("read input %q: %w", in.Label, err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("unsupported input kind %q", in.Source.Kind)
}

// lines returns the input as trimmed, non-empty lines. Captured records are
// rendered one per line.
func lines(ctx context.Context, l Loader, in pipeline.InputSource) ([]string, error) {
	if in.Source.Kind == pipeline.SourceCaptured {
		out := make([]string, 0, len(in.Source.Records))
		for _, r := range in.Source.Records {
			out = append(out, r.String())
		}
		return out, nil
	}
	content, err := l.Content(ctx, in)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
