package executor

import (
	"errors"
	"fmt"

	"github.com/vk/recsexplorer/internal/pipeline"
)

var (
	// ErrStageNotFound is returned when the target stage does not exist.
	ErrStageNotFound = errors.New("stage not found")
	// ErrNoInput is returned when a stage needs input and the active input
	// does not exist.
	ErrNoInput = errors.New("no input source selected")
)

// StageError attributes an execution failure to the stage that caused it.
type StageError struct {
	StageID   pipeline.StageID
	Operation string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (%s): %v", e.StageID, e.Operation, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
