package model

// ExecutionState is the scheduler's mutable shared state: which stories are
// in flight, completed, or failed, and which file paths are currently
// locked by an in-flight story. Exclusive write access is required for
// every mutation; readers take a read lock.
type ExecutionState struct {
	InFlight  map[string]bool
	Completed map[string]bool
	Failed    map[string]string // story id -> failure message
	Locked    map[string]string // file path -> owning story id
}

// NewExecutionState returns an empty state ready for a new run.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{
		InFlight:  make(map[string]bool),
		Completed: make(map[string]bool),
		Failed:    make(map[string]string),
		Locked:    make(map[string]string),
	}
}

// PauseStateKind enumerates the PauseController's states.
type PauseStateKind string

const (
	PauseStateRunning        PauseStateKind = "running"
	PauseStatePauseRequested PauseStateKind = "pause_requested"
	PauseStatePaused         PauseStateKind = "paused"
)

// ConflictIssueKind tags the kind of conflict the reconciliation engine
// found between two completed stories' working-tree changes.
type ConflictIssueKind string

const (
	ConflictIssueGitConflict    ConflictIssueKind = "git_conflict"
	ConflictIssueTypeMismatch   ConflictIssueKind = "type_mismatch"
	ConflictIssueImportDuplicate ConflictIssueKind = "import_duplicate"
)

// ConflictIssue is one item found by the reconciliation engine.
type ConflictIssue struct {
	Kind           ConflictIssueKind `json:"kind"`
	AffectedFiles  []string          `json:"affectedFiles"`
}

// ReconciliationResult is Clean (no ConflictIssues) or IssuesFound.
type ReconciliationResult struct {
	Issues []ConflictIssue `json:"issues,omitempty"`
}

// Clean reports whether no issues were found.
func (r ReconciliationResult) Clean() bool { return len(r.Issues) == 0 }

// RunResult summarizes a completed scheduler run.
type RunResult struct {
	AllPassed       bool   `json:"allPassed"`
	StoriesPassed   int    `json:"storiesPassed"`
	TotalStories    int    `json:"totalStories"`
	TotalIterations int    `json:"totalIterations"`
	Error           string `json:"error,omitempty"`

	// Paused reports that the run stopped because a pause was requested
	// and executed (not a failure); the scheduler has already written
	// the run's pause checkpoint.
	Paused bool `json:"paused,omitempty"`
}
