// Package prd loads and validates PRD files: the UTF-8 JSON (or YAML)
// document describing a project's stories, named in spec.md §6.
package prd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"ralph/internal/model"
)

// Load reads and validates a PRD file. Extension .yaml/.yml selects the
// YAML decoder; everything else is parsed as JSON.
func Load(path string) (*model.PRD, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prd file: %w", err)
	}

	var p model.PRD
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		// Decode generically and re-encode as JSON so YAML keys map onto
		// the same json field names a .json PRD uses.
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse prd yaml: %w", err)
		}
		if data, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("convert prd yaml: %w", err)
		}
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse prd json: %w", err)
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ValidationError names the invariant a PRD violated.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validate checks the invariants named in spec.md §3: non-empty required
// fields, unique story ids, and every dependsOn id resolving to a story
// in the same PRD.
func Validate(p *model.PRD) error {
	if p.Project == "" {
		return &ValidationError{"project must not be empty"}
	}
	if p.BranchName == "" {
		return &ValidationError{"branchName must not be empty"}
	}
	if len(p.UserStories) == 0 {
		return &ValidationError{"userStories must not be empty"}
	}

	seen := make(map[string]bool, len(p.UserStories))
	for _, s := range p.UserStories {
		if s.ID == "" {
			return &ValidationError{"story id must not be empty"}
		}
		if s.Title == "" {
			return &ValidationError{fmt.Sprintf("story %q: title must not be empty", s.ID)}
		}
		if seen[s.ID] {
			return &ValidationError{fmt.Sprintf("duplicate story id %q", s.ID)}
		}
		seen[s.ID] = true
	}

	for _, s := range p.UserStories {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return &ValidationError{fmt.Sprintf("story %q depends on unknown id %q", s.ID, dep)}
			}
		}
	}

	return nil
}
