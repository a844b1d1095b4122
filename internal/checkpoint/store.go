// Package checkpoint implements ralph's durable, atomically-written run
// checkpoint: <working-dir>/.ralph/checkpoint.json.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ralph/internal/logx"
	"ralph/internal/model"
)

const (
	ralphDirName      = ".ralph"
	checkpointFileName = "checkpoint.json"
)

// Store coordinates save/load/verify/clear of a single run's checkpoint
// file, writing via temp-file + fsync + rename so a reader never observes
// a partial write.
type Store struct {
	path string
	log  *logx.Logger
}

// New creates a Store rooted at baseDir, creating the .ralph directory if
// it does not already exist.
func New(baseDir string) (*Store, error) {
	dir := filepath.Join(baseDir, ralphDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{
		path: filepath.Join(dir, checkpointFileName),
		log:  logx.New("checkpoint"),
	}, nil
}

// Path returns the canonical checkpoint file path.
func (s *Store) Path() string { return s.path }

// Save atomically writes checkpoint, replacing any prior contents. A
// failure before the final rename leaves the canonical path unchanged.
func (s *Store) Save(cp *model.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fsync temp checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	s.log.Debug("saved checkpoint version=%d", cp.Version)
	return nil
}

// Load reads the checkpoint, returning (nil, nil) if no checkpoint file
// exists yet.
func (s *Store) Load() (*model.Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

// Exists reports whether a checkpoint file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Clear removes the checkpoint file. Calling Clear when no file exists
// succeeds.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// VerifyError distinguishes the two ways a checkpoint can fail validation.
type VerifyError struct {
	VersionMismatch bool
	Found           int
	Message         string
}

func (e *VerifyError) Error() string {
	if e.VersionMismatch {
		return fmt.Sprintf("checkpoint version mismatch: found %d, max supported %d", e.Found, model.CurrentCheckpointVersion)
	}
	return fmt.Sprintf("checkpoint validation failed: %s", e.Message)
}

// Verify checks a loaded checkpoint against the invariants named in
// spec.md §4.B: version must not exceed CurrentCheckpointVersion, and an
// in-progress story, if present, must satisfy StoryCheckpoint.Valid().
func Verify(cp *model.Checkpoint) error {
	if cp.Version > model.CurrentCheckpointVersion {
		return &VerifyError{VersionMismatch: true, Found: cp.Version}
	}
	if cp.CurrentStory != nil && !cp.CurrentStory.Valid() {
		return &VerifyError{Message: "current_story iteration exceeds max_iterations or has empty id"}
	}
	return nil
}
