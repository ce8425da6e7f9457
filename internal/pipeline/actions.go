package pipeline

// Action is a state transition request handled by Reduce.
type Action interface {
	action()
}

// Direction for cursor movement and reordering.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// Undoable actions.
type (
	// AddStage inserts after AfterStageID in the active fork, or appends when
	// AfterStageID is empty or not in that fork.
	AddStage struct {
		AfterStageID StageID
		Config       StageConfig
	}
	InsertStageBefore struct {
		BeforeStageID StageID
		Config        StageConfig
	}
	DeleteStage struct {
		StageID StageID
	}
	UpdateStageArgs struct {
		StageID StageID
		Args    []string
	}
	ToggleStage struct {
		StageID StageID
	}
	ReorderStage struct {
		StageID   StageID
		Direction Direction
	}
	CreateFork struct {
		Name      string
		AtStageID StageID
	}
	DeleteFork struct {
		ForkID ForkID
	}
	AddInput struct {
		Source Source
		Label  string
	}
	RemoveInput struct {
		InputID InputID
	}
)

// History actions.
type (
	Undo struct{}
	Redo struct{}
)

// Non-undoable actions.
type (
	MoveCursor struct {
		Direction Direction
	}
	SetCursor struct {
		StageID StageID
	}
	SwitchInput struct {
		InputID InputID
	}
	SwitchFork struct {
		ForkID ForkID
	}
	CacheResult struct {
		InputID InputID
		StageID StageID
		Result  *CachedResult
	}
	// InvalidateStage drops the stage's entries for every input.
	InvalidateStage struct {
		StageID StageID
	}
	// InvalidateKeys drops specific entries, as chosen by cache eviction.
	InvalidateKeys struct {
		Keys []CacheKey
	}
	// PinStage toggles whether a stage is pinned.
	PinStage struct {
		StageID StageID
	}
	SetCachePolicy struct {
		Policy CachePolicy
	}
	SetError struct {
		StageID StageID
		Message string
	}
	ClearError   struct{}
	SetExecuting struct {
		Executing bool
	}
	ToggleFocus struct{}
	SetViewMode struct {
		Mode ViewMode
	}
	MoveColumnHighlight struct {
		Direction  Direction
		FieldCount int
	}
	ClearColumnHighlight struct{}
	SetSessionName       struct {
		Name string
	}
)

func (AddStage) action()             {}
func (InsertStageBefore) action()    {}
func (DeleteStage) action()          {}
func (UpdateStageArgs) action()      {}
func (ToggleStage) action()          {}
func (ReorderStage) action()         {}
func (CreateFork) action()           {}
func (DeleteFork) action()           {}
func (AddInput) action()             {}
func (RemoveInput) action()          {}
func (Undo) action()                 {}
func (Redo) action()                 {}
func (MoveCursor) action()           {}
func (SetCursor) action()            {}
func (SwitchInput) action()          {}
func (SwitchFork) action()           {}
func (CacheResult) action()          {}
func (InvalidateStage) action()      {}
func (InvalidateKeys) action()       {}
func (PinStage) action()             {}
func (SetCachePolicy) action()       {}
func (SetError) action()             {}
func (ClearError) action()           {}
func (SetExecuting) action()         {}
func (ToggleFocus) action()          {}
func (SetViewMode) action()          {}
func (MoveColumnHighlight) action()  {}
func (ClearColumnHighlight) action() {}
func (SetSessionName) action()       {}
