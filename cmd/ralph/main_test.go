package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ralph/internal/config"
)

func TestRunExitsZeroWhenAllStoriesAlreadyPass(t *testing.T) {
	dir := t.TempDir()
	doc := map[string]any{
		"project":    "demo",
		"branchName": "main",
		"userStories": []map[string]any{
			{"id": "a", "title": "A", "priority": 1, "passes": true},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prd.json"), data, 0o644))

	code := run(dir, "", 10, false, 1)
	require.Equal(t, 0, code)

	_, err = os.Stat(filepath.Join(dir, "progress.txt"))
	require.NoError(t, err)
}

func TestRunExitsNonZeroOnMissingPRD(t *testing.T) {
	dir := t.TempDir()
	code := run(dir, filepath.Join(dir, "does-not-exist.json"), 10, false, 1)
	require.NotEqual(t, 0, code)
}

func TestRunPicksUpConfigOverrideBeforeDispatching(t *testing.T) {
	defer config.Update(func(c *config.Config) { *c = config.Default() })

	dir := t.TempDir()
	doc := map[string]any{
		"project":    "demo",
		"branchName": "main",
		"userStories": []map[string]any{
			{"id": "a", "title": "A", "priority": 1, "passes": true},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prd.json"), data, 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".ralph"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, ".ralph", "config.yaml"),
		[]byte("workingDir: /srv/overridden\n"),
		0o644,
	))

	code := run(dir, "", 10, false, 1)
	require.Equal(t, 0, code)
	require.Equal(t, "/srv/overridden", config.Get().WorkingDir)
}
