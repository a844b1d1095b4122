package vcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ralph/internal/model"
)

type fakeReader struct {
	statuses    []Status
	uncommitted []string
}

func (f fakeReader) Status(ctx context.Context, workDir string) ([]Status, error) {
	return f.statuses, nil
}

func (f fakeReader) UncommittedFiles(ctx context.Context, workDir string) ([]string, error) {
	return f.uncommitted, nil
}

func TestParsePorcelainMarkers(t *testing.T) {
	out := " M file1.go\nUU file2.go\n?? file3.go\nAA file4.go\n"
	statuses := ParsePorcelain(out)
	require.Len(t, statuses, 4)
	require.True(t, statuses[1].Unmerged())
	require.True(t, statuses[3].Unmerged())
	require.False(t, statuses[0].Unmerged())
	require.False(t, statuses[2].Unmerged())
}

func TestReconcileCleanWhenNoConflicts(t *testing.T) {
	result := &model.ExecutionResult{StoryID: "a", FilesChanged: []string{"a.go"}}
	rr, err := Reconcile(context.Background(), fakeReader{}, "/tmp", result, nil)
	require.NoError(t, err)
	require.True(t, rr.Clean())
}

func TestReconcileFlagsGitConflictMarkers(t *testing.T) {
	reader := fakeReader{statuses: []Status{{Code: "UU", Path: "conflict.go"}}}
	result := &model.ExecutionResult{StoryID: "a", FilesChanged: []string{"a.go"}}
	rr, err := Reconcile(context.Background(), reader, "/tmp", result, nil)
	require.NoError(t, err)
	require.False(t, rr.Clean())
	require.Equal(t, model.ConflictIssueGitConflict, rr.Issues[0].Kind)
}

func TestReconcileFlagsFileOverlapWithPriorStory(t *testing.T) {
	result := &model.ExecutionResult{StoryID: "b", FilesChanged: []string{"shared.go"}}
	prior := map[string][]string{"a": {"shared.go", "other.go"}}
	rr, err := Reconcile(context.Background(), fakeReader{}, "/tmp", result, prior)
	require.NoError(t, err)
	require.False(t, rr.Clean())
	require.Equal(t, []string{"shared.go"}, rr.Issues[0].AffectedFiles)
}

func TestProbeGathersStatusAndUncommittedConcurrently(t *testing.T) {
	reader := fakeReader{
		statuses:    []Status{{Code: "UU", Path: "conflict.go"}},
		uncommitted: []string{"dirty.go"},
	}
	statuses, uncommitted, err := Probe(context.Background(), reader, "/tmp")
	require.NoError(t, err)
	require.Equal(t, reader.statuses, statuses)
	require.Equal(t, reader.uncommitted, uncommitted)
}

type statusOnlyReader struct{}

func (statusOnlyReader) Status(ctx context.Context, workDir string) ([]Status, error) {
	return nil, nil
}

func TestProbeSkipsUncommittedWhenReaderDoesNotSupportIt(t *testing.T) {
	_, uncommitted, err := Probe(context.Background(), statusOnlyReader{}, "/tmp")
	require.NoError(t, err)
	require.Nil(t, uncommitted)
}
