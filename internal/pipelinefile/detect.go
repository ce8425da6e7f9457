package pipelinefile

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/vk/recsexplorer/internal/pipeline"
)

// Extensions read directly as JSON-lines records.
var nativeExtensions = []string{".jsonl", ".json", ".ndjson"}

var inputOperations = map[string]pipeline.StageConfig{
	".csv": {OperationName: "fromcsv", Args: []string{"--header"}, Enabled: true},
	".tsv": {OperationName: "fromcsv", Args: []string{"--header", "--delim", "\t"}, Enabled: true},
	".xml": {OperationName: "fromxml", Args: []string{}, Enabled: true},
}

// DetectInputOperation returns the input stage that parses a file of the
// given path's type, keyed by its extension. Native record files and
// unknown extensions have none.
func DetectInputOperation(path string) (pipeline.StageConfig, bool) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(path)))
	if ext == "" || ext == strings.ToLower(filepath.Base(path)) || slices.Contains(nativeExtensions, ext) {
		return pipeline.StageConfig{}, false
	}
	cfg, ok := inputOperations[ext]
	if !ok {
		return pipeline.StageConfig{}, false
	}
	cfg.Args = slices.Clone(cfg.Args)
	return cfg, true
}

// IsNativeFormat reports whether path is read as JSON-lines records as is.
func IsNativeFormat(path string) bool {
	return slices.Contains(nativeExtensions, strings.ToLower(filepath.Ext(path)))
}
