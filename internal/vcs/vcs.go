// Package vcs probes version-control status for ralph's reconciliation
// engine. Reconcile consumes one VCS operation, as named in spec.md §6: a
// status query returning per-path state. Probe additionally lists
// uncommitted paths with `git diff --name-only HEAD`. Grounded on the
// teacher's `git status --porcelain` parser.
package vcs

import (
	"context"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"

	"ralph/internal/model"
)

// unmergedMarkers is the exact set named in spec.md §6.
var unmergedMarkers = map[string]bool{
	"UU": true, "AA": true, "DD": true,
	"AU": true, "UA": true, "DU": true, "UD": true,
}

// Status is one `git status --porcelain` line, decomposed.
type Status struct {
	Code string
	Path string
}

// Unmerged reports whether this path is in one of the conflict marker
// states.
func (s Status) Unmerged() bool { return unmergedMarkers[s.Code] }

// StatusReader queries a working tree's VCS status. Satisfied by GitReader
// in production and a canned implementation in tests.
type StatusReader interface {
	Status(ctx context.Context, workDir string) ([]Status, error)
}

// GitReader shells out to `git status --porcelain`.
type GitReader struct{}

// Status runs the query and parses its output.
func (GitReader) Status(ctx context.Context, workDir string) ([]Status, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return ParsePorcelain(string(out)), nil
}

// UncommittedFiles reports paths with changes against HEAD, queried
// independently of Status so a pause checkpoint's UncommittedFiles field
// can be populated without re-parsing porcelain codes.
func (GitReader) UncommittedFiles(ctx context.Context, workDir string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--name-only", "HEAD")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// UncommittedLister is satisfied by StatusReader implementations that can
// also list uncommitted paths as a separate query; GitReader does.
type UncommittedLister interface {
	UncommittedFiles(ctx context.Context, workDir string) ([]string, error)
}

// Probe runs Status and, when reader also implements UncommittedLister,
// UncommittedFiles concurrently via errgroup — two independent `git`
// invocations that don't need to wait on each other.
func Probe(ctx context.Context, reader StatusReader, workDir string) ([]Status, []string, error) {
	var statuses []Status
	var uncommitted []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		statuses, err = reader.Status(gctx, workDir)
		return err
	})
	if lister, ok := reader.(UncommittedLister); ok {
		g.Go(func() error {
			var err error
			uncommitted, err = lister.UncommittedFiles(gctx, workDir)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return statuses, uncommitted, nil
}

// ParsePorcelain decomposes `git status --porcelain` output into Status
// entries, skipping lines too short to carry a status code.
func ParsePorcelain(output string) []Status {
	var statuses []Status
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 3 {
			continue
		}
		statuses = append(statuses, Status{
			Code: line[:2],
			Path: strings.TrimSpace(line[3:]),
		})
	}
	return statuses
}

// Reconcile implements the §4.D Reconciliation Engine: after a worker
// completes, check the working tree's merge state and, separately,
// whether its changed-files set intersects a previously completed
// story's. Either condition contributes ConflictIssues to the result.
func Reconcile(ctx context.Context, reader StatusReader, workDir string, result *model.ExecutionResult, priorFilesChanged map[string][]string) (model.ReconciliationResult, error) {
	statuses, err := reader.Status(ctx, workDir)
	if err != nil {
		return model.ReconciliationResult{}, err
	}

	var issues []model.ConflictIssue
	var conflictFiles []string
	for _, s := range statuses {
		if s.Unmerged() {
			conflictFiles = append(conflictFiles, s.Path)
		}
	}
	if len(conflictFiles) > 0 {
		issues = append(issues, model.ConflictIssue{
			Kind:          model.ConflictIssueGitConflict,
			AffectedFiles: conflictFiles,
		})
	}

	for priorStory, priorFiles := range priorFilesChanged {
		if priorStory == result.StoryID {
			continue
		}
		if overlap := intersect(priorFiles, result.FilesChanged); len(overlap) > 0 {
			issues = append(issues, model.ConflictIssue{
				Kind:          model.ConflictIssueGitConflict,
				AffectedFiles: overlap,
			})
		}
	}

	return model.ReconciliationResult{Issues: issues}, nil
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, f := range a {
		set[f] = true
	}
	var out []string
	for _, f := range b {
		if set[f] {
			out = append(out, f)
		}
	}
	return out
}
