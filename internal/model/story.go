// Package model defines the data types shared across ralph's core subsystems:
// stories, the dependency graph, iteration state, error classification, and
// checkpoints.
package model

// Story is one unit of work tracked by a PRD.
type Story struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Priority           uint     `json:"priority"`
	Passes             bool     `json:"passes"`
	DependsOn          []string `json:"dependsOn,omitempty"`
	TargetFiles        []string `json:"targetFiles,omitempty"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
}

// ConflictStrategy selects how the dependency graph detects overlapping work
// between concurrently running stories.
type ConflictStrategy string

const (
	ConflictStrategyFileBased   ConflictStrategy = "file_based"
	ConflictStrategyEntityBased ConflictStrategy = "entity_based"
	ConflictStrategyNone        ConflictStrategy = "none"
)

// InferenceMode selects whether the graph builder infers extra edges from
// target-file overlap in addition to explicit dependsOn edges.
type InferenceMode string

const (
	InferenceModeAuto     InferenceMode = "auto"
	InferenceModeExplicit InferenceMode = "explicit"
	InferenceModeDisabled InferenceMode = "disabled"
)

// ParallelConfig controls whether and how the scheduler runs stories
// concurrently.
type ParallelConfig struct {
	Enabled          bool             `json:"enabled"`
	MaxConcurrency   uint             `json:"maxConcurrency"`
	ConflictStrategy ConflictStrategy `json:"conflictStrategy"`
	InferenceMode    InferenceMode    `json:"inferenceMode"`
}

// DefaultParallelConfig returns the defaults named in the PRD schema.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:          false,
		MaxConcurrency:   3,
		ConflictStrategy: ConflictStrategyFileBased,
		InferenceMode:    InferenceModeAuto,
	}
}

// PRD is a project's full set of stories plus run configuration.
type PRD struct {
	Project     string          `json:"project"`
	BranchName  string          `json:"branchName"`
	Description string          `json:"description,omitempty"`
	UserStories []Story         `json:"userStories"`
	Parallel    *ParallelConfig `json:"parallel,omitempty"`
}

// ParallelOrDefault returns the PRD's parallel config, or the defaults if
// the PRD did not specify one.
func (p *PRD) ParallelOrDefault() ParallelConfig {
	if p.Parallel != nil {
		return *p.Parallel
	}
	return DefaultParallelConfig()
}
