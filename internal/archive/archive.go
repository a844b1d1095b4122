// Package archive rotates a working directory's prd.json/progress.txt into
// archive/<date>-<branch>/ when a new run starts under a different branch
// name than the previous run, per spec.md §6's persisted state layout.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
)

const lastBranchFile = ".ralph/last_branch.txt"

// RotateIfBranchChanged archives prd.json and progress.txt from workDir
// into archive/<today>-<branch>/ when the branch recorded from the
// previous run differs from branch. When no branch has been recorded yet,
// nothing is archived. It always records branch as the current one for the
// next call. today is injected by the caller (main) since this package
// must stay deterministic for tests.
func RotateIfBranchChanged(workDir, branch, today string) error {
	marker := filepath.Join(workDir, lastBranchFile)
	prev, err := os.ReadFile(marker)
	skip := err != nil || string(prev) == branch

	if !skip {
		if archErr := archiveRunArtifacts(workDir, branch, today); archErr != nil {
			return archErr
		}
	}

	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return fmt.Errorf("create ralph dir: %w", err)
	}
	return os.WriteFile(marker, []byte(branch), 0o644)
}

func archiveRunArtifacts(workDir, branch, today string) error {
	destDir := filepath.Join(workDir, "archive", fmt.Sprintf("%s-%s", today, branch))

	moved := false
	for _, name := range []string{"prd.json", "progress.txt"} {
		src := filepath.Join(workDir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if !moved {
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return fmt.Errorf("create archive dir: %w", err)
			}
			moved = true
		}
		dst := filepath.Join(destDir, name)
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("read %s for archiving: %w", name, err)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("write archived %s: %w", name, err)
		}
	}
	return nil
}
