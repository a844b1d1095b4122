// Package scheduler implements the Parallel Scheduler from spec.md §4.E:
// it maintains ExecutionState, enforces a concurrency cap, pumps the
// graph's ready set to workers, collects results, runs reconciliation,
// and terminates on exhaustion or deadlock. Grounded on the teacher's
// dispatch.Dispatcher (buffered channels, RWMutex-guarded shared state,
// non-blocking sends) with bounded concurrency taken from
// golang.org/x/sync/semaphore, the pattern kadirpekel-hector's
// workflowagent.ParallelAgent uses errgroup for (adapted here from
// run-all-collect-all to bounded-permit/reclaim-on-completion).
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"ralph/internal/agentproc"
	"ralph/internal/checkpoint"
	"ralph/internal/events"
	"ralph/internal/graph"
	"ralph/internal/heartbeat"
	"ralph/internal/history"
	"ralph/internal/iteration"
	"ralph/internal/logx"
	"ralph/internal/model"
	"ralph/internal/obsmetrics"
	"ralph/internal/pause"
	"ralph/internal/vcs"
)

// EngineFactory builds a fresh iteration engine for one story worker. Each
// worker gets its own engine instance so heartbeat/cancellation wiring
// stays per-worker.
type EngineFactory func(storyID string) *iteration.Engine

// Scheduler runs a PRD's stories to completion under a concurrency cap.
type Scheduler struct {
	Graph          *graph.Graph
	MaxConcurrency int64
	AgentBinary    string
	EngineFor      EngineFactory
	Events         *events.Bus
	VCS            vcs.StatusReader
	WorkDir        string
	Pause          *pause.Controller
	Timeouts       model.TimeoutConfig
	MaxIterations  int

	// CheckpointStore, if set, receives the iteration-boundary checkpoint
	// each worker writes for its own story, and the scheduler's own
	// pause checkpoint once every in-flight worker has drained (spec.md
	// §4.E: the scheduler is the sole writer of pause/resume
	// checkpoints).
	CheckpointStore *checkpoint.Store

	// Metrics, if set, receives counters for iterations, story outcomes,
	// gate results, checkpoint saves, and a live worker gauge (SPEC_FULL.md
	// §6's Prometheus surface). Nil in tests that don't construct a
	// registry.
	Metrics *obsmetrics.Metrics

	// History, if set, surfaces approach-hint learning transfer
	// (spec.md §4.C) into each story's prompt and records its run
	// ledger entry once the story finishes.
	History *history.Ops
	RunID   string

	log *logx.Logger
}

// New constructs a Scheduler. MaxConcurrency must be >= 1.
func New(g *graph.Graph, maxConcurrency int64, agentBinary string, engineFor EngineFactory) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Scheduler{
		Graph:          g,
		MaxConcurrency: maxConcurrency,
		AgentBinary:    agentBinary,
		EngineFor:      engineFor,
		Events:         events.NewBus(256),
		Pause:          pause.New(),
		Timeouts:       model.DefaultTimeoutConfig(),
		MaxIterations:  10,
		RunID:          uuid.New().String(),
		log:            logx.New("scheduler"),
	}
}

type workerOutcome struct {
	storyID string
	result  model.ExecutionResult
}

// Run drives the scheduling loop to convergence: the ready set and
// in-flight set both empty.
func (s *Scheduler) Run(ctx context.Context) model.RunResult {
	total := s.Graph.Total()

	completed := make(map[string]bool)
	for _, id := range s.Graph.InitiallyCompleted() {
		completed[id] = true
	}
	if len(completed) == total {
		return model.RunResult{AllPassed: true, StoriesPassed: len(completed), TotalStories: total}
	}

	if !agentproc.BinaryAvailable(s.AgentBinary) {
		return model.RunResult{TotalStories: total, Error: "agent binary not found on PATH"}
	}

	inFlight := make(map[string]bool)
	failed := make(map[string]string)
	filesChanged := make(map[string][]string)
	totalIterations := 0

	sem := semaphore.NewWeighted(s.MaxConcurrency)
	results := make(chan workerOutcome, s.MaxConcurrency)
	var wg sync.WaitGroup

loop:
	for {
		if ctx.Err() != nil {
			break loop
		}

		ready := s.Graph.Ready(completed, inFlight, failedSet(failed))
		if len(ready) == 0 && len(inFlight) == 0 {
			break loop
		}

		for _, id := range ready {
			if !sem.TryAcquire(1) {
				break
			}
			inFlight[id] = true
			wg.Add(1)
			go s.runWorker(ctx, id, results, &wg)
		}

		if len(inFlight) == 0 {
			// Ready was non-empty but nothing could be dispatched (pool
			// saturated at zero capacity, which New() prevents) — avoid a
			// busy loop by waiting for context cancellation.
			<-ctx.Done()
			break loop
		}

		select {
		case out := <-results:
			sem.Release(1)
			delete(inFlight, out.storyID)
			totalIterations += out.result.Iterations
			if s.Metrics != nil {
				s.Metrics.IterationsTotal.Add(float64(out.result.Iterations))
				s.Metrics.RecordGateOutcomes(out.result.Gates)
			}

			if !out.result.Success {
				failed[out.storyID] = out.result.Error
				kind := events.KindStoryFailed
				if out.result.Verdict.Kind == model.VerdictDeferStory {
					kind = events.KindConflictDeferred
					if s.Metrics != nil {
						s.Metrics.StoriesDeferred.Inc()
					}
				} else if s.Metrics != nil {
					s.Metrics.StoriesFailed.Inc()
				}
				s.Events.Emit(events.Event{Kind: kind, StoryID: out.storyID, Message: out.result.Error})
				continue
			}

			clean := true
			if s.VCS != nil {
				rr, err := vcs.Reconcile(ctx, s.VCS, s.WorkDir, &out.result, filesChanged)
				if err == nil {
					msg := "clean"
					if !rr.Clean() {
						msg = fmt.Sprintf("%d conflict issue(s)", len(rr.Issues))
						clean = false
					}
					s.Events.Emit(events.Event{Kind: events.KindReconciliationStatus, StoryID: out.storyID, Message: msg})
				}
			} else if overlap := conflictsWithCompleted(out.result.FilesChanged, filesChanged); len(overlap) > 0 {
				clean = false
			}

			if !clean {
				// Sequential-fallback reconciliation (spec.md §4.E): leave
				// the story neither completed nor failed so the next tick
				// offers it again; concurrency is now effectively
				// serialized for it since every other in-flight slot must
				// drain before its retry can acquire a permit alongside
				// whatever else is ready.
				s.Events.Emit(events.Event{Kind: events.KindSequentialRetryStarted, StoryID: out.storyID, Message: "file conflict with a completed story"})
				continue
			}

			completed[out.storyID] = true
			filesChanged[out.storyID] = out.result.FilesChanged
			if s.Metrics != nil {
				s.Metrics.StoriesPassed.Inc()
			}
			s.Events.Emit(events.Event{Kind: events.KindStoryCompleted, StoryID: out.storyID})

		case <-ctx.Done():
			break loop
		}
	}

	wg.Wait()

	allPassed := len(failed) == 0 && len(completed) == total
	result := model.RunResult{
		AllPassed:       allPassed,
		StoriesPassed:   len(completed),
		TotalStories:    total,
		TotalIterations: totalIterations,
	}
	if !allPassed && len(failed) > 0 {
		for _, msg := range failed {
			result.Error = msg
			break
		}
	}

	if s.Pause.State() == model.PauseStatePaused {
		// Every worker has drained (wg.Wait above), so no story is
		// legitimately "in progress" anymore; this overwrites whatever
		// iteration-boundary checkpoint a worker last wrote for itself.
		if s.CheckpointStore != nil {
			var uncommitted []string
			if s.VCS != nil {
				if _, files, err := vcs.Probe(context.Background(), s.VCS, s.WorkDir); err == nil {
					uncommitted = files
				}
			}
			_ = s.CheckpointStore.Save(&model.Checkpoint{
				Version:          model.CurrentCheckpointVersion,
				CreatedAt:        time.Now(),
				PauseReason:      model.PauseReason{Kind: model.PauseReasonUserRequested},
				UncommittedFiles: uncommitted,
			})
			if s.Metrics != nil {
				s.Metrics.CheckpointsSaved.Inc()
			}
		}
		result.Paused = true
	}

	return result
}

func (s *Scheduler) runWorker(ctx context.Context, storyID string, results chan<- workerOutcome, wg *sync.WaitGroup) {
	defer wg.Done()

	if s.Metrics != nil {
		s.Metrics.ActiveWorkers.Inc()
		defer s.Metrics.ActiveWorkers.Dec()
	}

	engine := s.EngineFor(storyID)
	monitor := heartbeat.New(s.Timeouts)
	monitor.Start()
	defer monitor.Stop()

	engine.Pulse = monitor.Pulse
	engine.Cancelled = func() bool {
		if s.Pause.IsPauseRequested() {
			s.Pause.ExecutePause()
		}
		if s.Pause.State() == model.PauseStatePaused {
			return true
		}
		return ctx.Err() != nil
	}
	engine.IterationUpdate = func(iteration int) {
		s.Events.Emit(events.Event{Kind: events.KindIterationUpdate, StoryID: storyID, Data: map[string]any{"iteration": iteration}})
	}
	engine.GateUpdate = func(outcome model.GateOutcome) {
		s.Events.Emit(events.Event{Kind: events.KindGateUpdate, StoryID: storyID, Message: outcome.Name})
	}
	if s.CheckpointStore != nil {
		engine.Checkpoint = func(iteration int) {
			if s.Metrics != nil {
				s.Metrics.CheckpointsSaved.Inc()
			}
			_ = s.CheckpointStore.Save(&model.Checkpoint{
				Version:   model.CurrentCheckpointVersion,
				CreatedAt: time.Now(),
				CurrentStory: &model.StoryCheckpoint{
					StoryID:       storyID,
					Iteration:     iteration,
					MaxIterations: s.MaxIterations,
				},
				PauseReason: model.PauseReason{Kind: model.PauseReasonIterationBoundary},
			})
		}
	}

	s.Events.Emit(events.Event{Kind: events.KindStoryStarted, StoryID: storyID})

	var hints []model.ApproachHint
	if s.History != nil {
		if loaded, err := s.History.LoadHints(storyID); err == nil {
			hints = loaded
		}
	}

	result := engine.Run(ctx, storyID, s.MaxIterations, hints, "")

	if s.History != nil {
		verdict := ""
		if result.FinalContext != nil {
			for i := range result.FinalContext.ApproachHints {
				h := &result.FinalContext.ApproachHints[i]
				h.Record(result.Success)
				_ = s.History.RecordHint(storyID, *h)
			}
		}
		if result.Verdict.Kind != "" {
			verdict = string(result.Verdict.Kind)
		}
		_ = s.History.RecordIterationOutcome(s.RunID, storyID, result.Iterations, result.Success, verdict)
	}

	select {
	case results <- workerOutcome{storyID: storyID, result: result}:
	case <-ctx.Done():
	}
}

// failedSet projects the storyID->error message map onto the bool set
// Graph.Ready wants, marking every permanently deferred story unready.
func failedSet(failed map[string]string) map[string]bool {
	set := make(map[string]bool, len(failed))
	for id := range failed {
		set[id] = true
	}
	return set
}

// conflictsWithCompleted is the file-based conflict fallback used when no
// VCS reader is configured: intersection of files_changed with any prior
// completed story's.
func conflictsWithCompleted(files []string, priorFilesChanged map[string][]string) []string {
	for _, prior := range priorFilesChanged {
		set := make(map[string]bool, len(prior))
		for _, f := range prior {
			set[f] = true
		}
		for _, f := range files {
			if set[f] {
				return []string{f}
			}
		}
	}
	return nil
}
