package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ralph/internal/model"
)

func prdWith(stories ...model.Story) *model.PRD {
	return &model.PRD{
		Project:     "p",
		BranchName:  "main",
		UserStories: stories,
	}
}

func TestReadySetThreeIndependentStories(t *testing.T) {
	prd := prdWith(
		model.Story{ID: "a", Priority: 1},
		model.Story{ID: "b", Priority: 2},
		model.Story{ID: "c", Priority: 3},
	)
	g, err := Build(prd)
	require.NoError(t, err)

	ready := g.Ready(map[string]bool{}, map[string]bool{}, map[string]bool{})
	require.Equal(t, []string{"a", "b", "c"}, ready)
}

func TestExplicitDependencyOrdering(t *testing.T) {
	prd := prdWith(
		model.Story{ID: "a", Priority: 1},
		model.Story{ID: "b", Priority: 2, DependsOn: []string{"a"}},
	)
	g, err := Build(prd)
	require.NoError(t, err)

	require.Equal(t, []string{"a"}, g.Ready(map[string]bool{}, map[string]bool{}, map[string]bool{}))
	require.Equal(t, []string{"b"}, g.Ready(map[string]bool{"a": true}, map[string]bool{}, map[string]bool{}))
}

func TestInferredEdgeFromOverlappingTargetFiles(t *testing.T) {
	prd := prdWith(
		model.Story{ID: "x", Priority: 1, TargetFiles: []string{"src/**/*.go"}},
		model.Story{ID: "y", Priority: 2, TargetFiles: []string{"src/lib.go"}},
	)
	g, err := Build(prd)
	require.NoError(t, err)

	// y depends on x (higher priority = lower number)
	require.Equal(t, []string{"x"}, g.Ready(map[string]bool{}, map[string]bool{}, map[string]bool{}))
	require.Equal(t, []string{"y"}, g.Ready(map[string]bool{"x": true}, map[string]bool{}, map[string]bool{}))
}

func TestEqualPriorityNoInferredEdge(t *testing.T) {
	prd := prdWith(
		model.Story{ID: "x", Priority: 1, TargetFiles: []string{"src/a.go"}},
		model.Story{ID: "y", Priority: 1, TargetFiles: []string{"src/a.go"}},
	)
	g, err := Build(prd)
	require.NoError(t, err)

	ready := g.Ready(map[string]bool{}, map[string]bool{}, map[string]bool{})
	require.ElementsMatch(t, []string{"x", "y"}, ready)
}

func TestCycleDetected(t *testing.T) {
	prd := prdWith(
		model.Story{ID: "a", Priority: 1, DependsOn: []string{"b"}},
		model.Story{ID: "b", Priority: 2, DependsOn: []string{"a"}},
	)
	_, err := Build(prd)
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestUnresolvedDependencySkippedSilently(t *testing.T) {
	prd := prdWith(
		model.Story{ID: "a", Priority: 1, DependsOn: []string{"ghost"}},
	)
	g, err := Build(prd)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, g.Ready(map[string]bool{}, map[string]bool{}, map[string]bool{}))
}

func TestAlreadyPassingStoryIsInitiallyCompleted(t *testing.T) {
	prd := prdWith(
		model.Story{ID: "a", Priority: 1, Passes: true},
		model.Story{ID: "b", Priority: 2},
	)
	g, err := Build(prd)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, g.InitiallyCompleted())
}

func TestFailedStoryNeverBecomesReadyAgain(t *testing.T) {
	prd := prdWith(
		model.Story{ID: "a", Priority: 1},
		model.Story{ID: "b", Priority: 2, DependsOn: []string{"a"}},
	)
	g, err := Build(prd)
	require.NoError(t, err)

	ready := g.Ready(map[string]bool{}, map[string]bool{}, map[string]bool{"a": true})
	require.Empty(t, ready, "a is permanently failed and b's dependency on it can never be satisfied")
}

func TestExplicitModeSkipsInference(t *testing.T) {
	mode := model.InferenceModeExplicit
	prd := &model.PRD{
		Project: "p", BranchName: "main",
		Parallel: &model.ParallelConfig{InferenceMode: mode},
		UserStories: []model.Story{
			{ID: "x", Priority: 1, TargetFiles: []string{"src/a.go"}},
			{ID: "y", Priority: 2, TargetFiles: []string{"src/a.go"}},
		},
	}
	g, err := Build(prd)
	require.NoError(t, err)
	ready := g.Ready(map[string]bool{}, map[string]bool{}, map[string]bool{})
	require.ElementsMatch(t, []string{"x", "y"}, ready)
}
