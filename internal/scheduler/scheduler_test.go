package scheduler

import (
	"context"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"ralph/internal/agentproc"
	"ralph/internal/checkpoint"
	"ralph/internal/events"
	"ralph/internal/graph"
	"ralph/internal/history"
	"ralph/internal/iteration"
	"ralph/internal/model"
)

const completionMarker = "<promise>COMPLETE</promise>"

// lookPathOrSkip resolves name on PATH, skipping the test on platforms
// where it's absent rather than failing spuriously.
func lookPathOrSkip(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not found on PATH: %v", name, err)
	}
	return path
}

// neverCalled is an EngineFactory for scenarios where the scheduler should
// converge before dispatching any worker.
func neverCalled(t *testing.T) EngineFactory {
	return func(storyID string) *iteration.Engine {
		t.Fatalf("EngineFor should not have been called for story %q", storyID)
		return nil
	}
}

// echoAgentEngine builds an Engine whose agent subprocess is the system
// "echo" binary printing the completion marker, so the retry loop succeeds
// on its first iteration without any gates configured.
func echoAgentEngine(echoPath string) *iteration.Engine {
	return &iteration.Engine{
		Agent:    &agentproc.Runner{BinaryPath: echoPath, NonInteractiveArgs: []string{completionMarker}},
		Timeouts: model.DefaultTimeoutConfig(),
		Futility: nil,
	}
}

func TestSchedulerAllPassedWhenAllStoriesAlreadyPass(t *testing.T) {
	prd := &model.PRD{
		Project: "p", BranchName: "main",
		UserStories: []model.Story{
			{ID: "a", Priority: 1, Passes: true},
			{ID: "b", Priority: 2, Passes: true},
		},
	}
	g, err := graph.Build(prd)
	require.NoError(t, err)

	truePath := lookPathOrSkip(t, "true")
	s := New(g, 2, truePath, neverCalled(t))
	result := s.Run(context.Background())

	require.True(t, result.AllPassed)
	require.Equal(t, 0, result.TotalIterations)
	require.Equal(t, 2, result.StoriesPassed)
}

func TestSchedulerAbortsWhenAgentBinaryMissing(t *testing.T) {
	prd := &model.PRD{
		Project: "p", BranchName: "main",
		UserStories: []model.Story{{ID: "a", Priority: 1}},
	}
	g, err := graph.Build(prd)
	require.NoError(t, err)

	s := New(g, 1, "definitely-not-a-real-binary-xyz", neverCalled(t))
	result := s.Run(context.Background())

	require.False(t, result.AllPassed)
	require.NotEmpty(t, result.Error)
}

func TestSchedulerRunsIndependentStoriesConcurrently(t *testing.T) {
	echoPath := lookPathOrSkip(t, "echo")

	prd := &model.PRD{
		Project: "p", BranchName: "main",
		UserStories: []model.Story{
			{ID: "a", Priority: 1},
			{ID: "b", Priority: 1},
		},
	}
	g, err := graph.Build(prd)
	require.NoError(t, err)

	factory := func(storyID string) *iteration.Engine {
		return echoAgentEngine(echoPath)
	}

	s := New(g, 2, echoPath, factory)
	result := s.Run(context.Background())

	require.True(t, result.AllPassed)
	require.Equal(t, 2, result.StoriesPassed)
}

func TestSchedulerRespectsDependencyOrder(t *testing.T) {
	echoPath := lookPathOrSkip(t, "echo")

	var mu sync.Mutex
	var dispatchOrder []string

	prd := &model.PRD{
		Project: "p", BranchName: "main",
		UserStories: []model.Story{
			{ID: "a", Priority: 1},
			{ID: "b", Priority: 2, DependsOn: []string{"a"}},
		},
	}
	g, err := graph.Build(prd)
	require.NoError(t, err)

	factory := func(storyID string) *iteration.Engine {
		mu.Lock()
		dispatchOrder = append(dispatchOrder, storyID)
		mu.Unlock()
		return echoAgentEngine(echoPath)
	}

	s := New(g, 2, echoPath, factory)
	result := s.Run(context.Background())

	require.True(t, result.AllPassed)
	require.Equal(t, []string{"a", "b"}, dispatchOrder)
}

func TestSchedulerWritesPauseCheckpointOnPauseRequest(t *testing.T) {
	truePath := lookPathOrSkip(t, "true")

	prd := &model.PRD{
		Project: "p", BranchName: "main",
		UserStories: []model.Story{{ID: "a", Priority: 1}},
	}
	g, err := graph.Build(prd)
	require.NoError(t, err)

	factory := func(storyID string) *iteration.Engine {
		return &iteration.Engine{Agent: &agentproc.Runner{BinaryPath: truePath}, Timeouts: model.DefaultTimeoutConfig()}
	}

	store, err := checkpoint.New(t.TempDir())
	require.NoError(t, err)

	s := New(g, 1, truePath, factory)
	s.CheckpointStore = store
	s.Pause.RequestPause() // requested before Run starts: the first cancelled() check trips it

	result := s.Run(context.Background())

	require.False(t, result.AllPassed)
	require.True(t, result.Paused)

	cp, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.Equal(t, model.PauseReasonUserRequested, cp.PauseReason.Kind)
	require.Nil(t, cp.CurrentStory)
}

func TestSchedulerEmitsLifecycleEventsForASucceedingStory(t *testing.T) {
	echoPath := lookPathOrSkip(t, "echo")

	prd := &model.PRD{
		Project: "p", BranchName: "main",
		UserStories: []model.Story{{ID: "a", Priority: 1}},
	}
	g, err := graph.Build(prd)
	require.NoError(t, err)

	factory := func(storyID string) *iteration.Engine {
		return echoAgentEngine(echoPath)
	}

	s := New(g, 1, echoPath, factory)
	result := s.Run(context.Background())
	require.True(t, result.AllPassed)

	var kinds []events.Kind
	for {
		select {
		case evt := <-s.Events.Subscribe():
			kinds = append(kinds, evt.Kind)
			continue
		default:
		}
		break
	}

	require.Contains(t, kinds, events.KindStoryStarted)
	require.Contains(t, kinds, events.KindIterationUpdate)
	require.Contains(t, kinds, events.KindStoryCompleted)
}

func TestSchedulerUpdatesApproachHintSuccessRateAfterAPassingStory(t *testing.T) {
	echoPath := lookPathOrSkip(t, "echo")
	defer func() { require.NoError(t, history.Reset()) }()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	require.NoError(t, history.Initialize(dbPath))
	ops := history.NewOps()
	require.NoError(t, ops.RecordHint("a", model.ApproachHint{Description: "try X"}))

	prd := &model.PRD{
		Project: "p", BranchName: "main",
		UserStories: []model.Story{{ID: "a", Priority: 1}},
	}
	g, err := graph.Build(prd)
	require.NoError(t, err)

	factory := func(storyID string) *iteration.Engine {
		return echoAgentEngine(echoPath)
	}

	s := New(g, 1, echoPath, factory)
	s.History = ops
	result := s.Run(context.Background())
	require.True(t, result.AllPassed)

	hints, err := ops.LoadHints("a")
	require.NoError(t, err)
	require.Len(t, hints, 1)
	require.Equal(t, 1, hints[0].Samples)
	require.Equal(t, 1, hints[0].Successes)
	require.InDelta(t, 1.0, hints[0].SuccessRate, 0.0001)
}
