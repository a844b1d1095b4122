package model

import "time"

// CurrentCheckpointVersion is the highest checkpoint schema version this
// build understands. Checkpoints with a higher version are rejected rather
// than best-effort parsed.
const CurrentCheckpointVersion = 1

// PauseReasonKind tags why a run paused.
type PauseReasonKind string

const (
	PauseReasonUsageLimitExceeded PauseReasonKind = "usage_limit_exceeded"
	PauseReasonRateLimited        PauseReasonKind = "rate_limited"
	PauseReasonUserRequested      PauseReasonKind = "user_requested"
	PauseReasonTimeout            PauseReasonKind = "timeout"
	PauseReasonError              PauseReasonKind = "error"
	PauseReasonIterationBoundary  PauseReasonKind = "iteration_boundary"
)

// PauseReason is a tagged reason for a checkpoint's pause, carrying a
// message only in the Error case.
type PauseReason struct {
	Kind  PauseReasonKind `json:"kind"`
	Error string          `json:"error,omitempty"`
}

// StoryCheckpoint records the in-progress story at the time a checkpoint
// was written.
type StoryCheckpoint struct {
	StoryID       string `json:"storyId"`
	Iteration     int    `json:"iteration"`
	MaxIterations int    `json:"maxIterations"`
}

// Valid reports the invariant: id non-empty and iteration <= max.
func (s *StoryCheckpoint) Valid() bool {
	return s != nil && s.StoryID != "" && s.Iteration <= s.MaxIterations
}

// Checkpoint is the durable, resumable snapshot of a run, persisted at
// <working-dir>/.ralph/checkpoint.json.
type Checkpoint struct {
	Version          int              `json:"version"`
	CreatedAt        time.Time        `json:"createdAt"`
	CurrentStory     *StoryCheckpoint `json:"currentStory,omitempty"`
	PauseReason      PauseReason      `json:"pauseReason"`
	UncommittedFiles []string         `json:"uncommittedFiles,omitempty"`
}
