// Package iteration implements the per-story retry loop from spec.md
// §4.C: build a prompt, invoke the agent, evaluate quality gates, consult
// the futility detector, and either continue, pause, defer, or fail.
package iteration

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"ralph/internal/agentproc"
	"ralph/internal/classify"
	"ralph/internal/futility"
	"ralph/internal/gate"
	"ralph/internal/logx"
	"ralph/internal/model"
)

// Engine runs one story through up to MaxIterations attempts.
type Engine struct {
	Agent    *agentproc.Runner
	Gates    gate.Runner
	GateList []string
	Retry    model.RetryStrategy
	Timeouts model.TimeoutConfig
	Futility *futility.Detector

	// Pulse, if set, is called on every successful sub-step (prompt
	// chunk, gate finished, iteration boundary) so a heartbeat monitor
	// can detect stalls.
	Pulse func()

	// Cancelled, if set, is polled at the start of every iteration, where
	// a true result makes the engine return a cancelled ExecutionResult,
	// and before each gate run, where it stops the remaining gates. It is
	// not polled while the agent subprocess is running.
	Cancelled func() bool

	// Checkpoint, if set, is called at the start of every iteration,
	// while the worker still holds its scheduling permit, so the caller
	// can persist an iteration-boundary checkpoint for this story alone.
	Checkpoint func(iteration int)

	// IterationUpdate and GateUpdate, if set, mirror the same boundaries
	// onto the run-level event stream (SPEC_FULL.md §6's notification
	// union) rather than the checkpoint store.
	IterationUpdate func(iteration int)
	GateUpdate      func(outcome model.GateOutcome)

	// Guidance, if set, is consulted whenever the futility detector
	// returns PauseForGuidance: its steering text is folded into the
	// context and the retry loop continues instead of returning.
	Guidance GuidanceProvider

	log *logx.Logger
}

// GuidanceProvider supplies free-form steering text when the futility
// detector pauses a story for guidance (spec.md §3's optional user
// steering guidance field). Left to the embedding CLI in production; the
// zero Engine has none, so PauseForGuidance returns immediately as before.
type GuidanceProvider interface {
	WaitForGuidance(ctx context.Context, storyID, reason string) (string, error)
}

// NewEngine builds an Engine, filling in a default logger.
func NewEngine(agent *agentproc.Runner, gates gate.Runner, gateList []string, retry model.RetryStrategy, timeouts model.TimeoutConfig) *Engine {
	return &Engine{
		Agent:    agent,
		Gates:    gates,
		GateList: gateList,
		Retry:    retry,
		Timeouts: timeouts,
		Futility: futility.New(),
		log:      logx.New("iteration"),
	}
}

func (e *Engine) pulse() {
	if e.Pulse != nil {
		e.Pulse()
	}
}

func (e *Engine) cancelled() bool {
	return e.Cancelled != nil && e.Cancelled()
}

func (e *Engine) checkpoint(iteration int) {
	if e.Checkpoint != nil {
		e.Checkpoint(iteration)
	}
	if e.IterationUpdate != nil {
		e.IterationUpdate(iteration)
	}
}

// shortCircuitVerdict reports whether category bypasses the futility
// detector entirely: a Fatal error stops the story outright, and a
// UsageLimit(QuotaExhausted) error defers it rather than burning iterations
// against a quota wall that retrying cannot clear.
func shortCircuitVerdict(category model.ErrorCategory) (model.Verdict, bool) {
	switch {
	case category.IsFatal():
		return model.Verdict{Kind: model.VerdictFatal, Reason: "fatal " + category.AsString() + " error"}, true
	case category.IsUsageLimit() && category.Reason == model.ReasonQuotaExhausted:
		return model.Verdict{Kind: model.VerdictDeferStory, Reason: "usage limit exhausted: " + category.AsString()}, true
	default:
		return model.Verdict{}, false
	}
}

// sleepForRetry blocks for d, or until ctx is done, whichever comes first.
func sleepForRetry(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Run drives the retry loop for storyID starting a fresh IterationContext.
func (e *Engine) Run(ctx context.Context, storyID string, maxIterations int, hints []model.ApproachHint, userGuidance string) model.ExecutionResult {
	ictx := model.NewIterationContext(storyID, maxIterations)
	ictx.ApproachHints = hints
	ictx.UserGuidance = userGuidance

	for {
		if e.cancelled() {
			return model.ExecutionResult{
				StoryID:      storyID,
				Success:      false,
				Error:        "cancelled",
				Iterations:   ictx.Iteration,
				Verdict:      model.Verdict{Kind: model.VerdictDeferStory, Reason: "cancelled"},
				FinalContext: ictx,
			}
		}

		e.checkpoint(ictx.Iteration)

		iterCtx, cancel := context.WithTimeout(ctx, e.Timeouts.IterationTimeout)
		gates, agentResult, runErr := e.runOneIteration(iterCtx, ictx)
		cancel()

		var lastCategory model.ErrorCategory
		var haveLastCategory bool

		if runErr != nil {
			ce := classify.Classify(runErr)
			if v, ok := shortCircuitVerdict(ce.Category); ok {
				return model.ExecutionResult{
					StoryID:      storyID,
					Success:      false,
					Iterations:   ictx.Iteration,
					Verdict:      v,
					FinalContext: ictx,
				}
			}
			ictx.RecordError(model.IterationError{
				Iteration: ictx.Iteration,
				Category:  ce.Category,
				Message:   ce.Message,
			})
			lastCategory, haveLastCategory = ce.Category, true
		} else if agentResult.Success {
			allPassed := true
			var filesChanged []string
			for _, g := range gates {
				filesChanged = append(filesChanged, g.AffectedFiles...)
				if !g.Passed {
					allPassed = false
					ictx.RecordError(model.IterationError{
						Iteration:     ictx.Iteration,
						Category:      model.ErrorCategory{Kind: model.CategoryFatal, Reason: model.ReasonInvalidRequest},
						Message:       g.Message,
						FailingGate:   g.Name,
						AffectedFiles: g.AffectedFiles,
					})
				}
			}
			if allPassed {
				return model.ExecutionResult{
					StoryID:      storyID,
					Success:      true,
					Iterations:   ictx.Iteration,
					Gates:        gates,
					FilesChanged: filesChanged,
					Verdict:      model.Verdict{Kind: model.VerdictContinue},
					FinalContext: ictx,
				}
			}
		} else if agentResult.Classified != nil {
			if v, ok := shortCircuitVerdict(agentResult.Classified.Category); ok {
				return model.ExecutionResult{
					StoryID:      storyID,
					Success:      false,
					Iterations:   ictx.Iteration,
					Verdict:      v,
					FinalContext: ictx,
				}
			}
			ictx.RecordError(model.IterationError{
				Iteration: ictx.Iteration,
				Category:  agentResult.Classified.Category,
				Message:   agentResult.Classified.Message,
			})
			lastCategory, haveLastCategory = agentResult.Classified.Category, true
		} else {
			ictx.RecordError(model.IterationError{
				Iteration: ictx.Iteration,
				Category:  model.ErrorCategory{Kind: model.CategoryFatal, Reason: model.ReasonInvalidRequest},
				Message:   "agent did not signal completion",
			})
		}

		verdict := e.Futility.Analyze(ictx)
		e.pulse()

		if !verdict.ShouldContinue() {
			if verdict.Kind == model.VerdictPauseForGuidance && e.Guidance != nil {
				guidance, err := e.Guidance.WaitForGuidance(ctx, storyID, verdict.Reason)
				if err == nil && guidance != "" {
					ictx.UserGuidance = guidance
					ictx.Advance()
					continue
				}
			}
			return model.ExecutionResult{
				StoryID:       storyID,
				Success:       false,
				Iterations:    ictx.Iteration,
				Gates:         gates,
				Verdict:       verdict,
				FinalContext:  ictx,
				NeedsGuidance: verdict.Kind == model.VerdictPauseForGuidance,
			}
		}

		if ictx.Iteration >= ictx.MaxIterations {
			return model.ExecutionResult{
				StoryID:      storyID,
				Success:      false,
				Error:        "max iterations exhausted",
				Iterations:   ictx.Iteration,
				Gates:        gates,
				Verdict:      model.Verdict{Kind: model.VerdictDeferStory, Reason: "max iterations exhausted"},
				FinalContext: ictx,
			}
		}

		if haveLastCategory {
			attempt := ictx.RepeatedErrorCount(model.IterationError{Category: lastCategory}.Signature())
			if e.Retry.ShouldRetry(lastCategory, attempt-1) {
				sleepForRetry(ctx, e.Retry.Delay(attempt, rand.Float64()))
			}
		}

		ictx.Advance()
	}
}

// runOneIteration executes steps 1-3 of one iteration: build the prompt,
// invoke the agent, and evaluate gates.
func (e *Engine) runOneIteration(ctx context.Context, ictx *model.IterationContext) ([]model.GateOutcome, *agentproc.Result, error) {
	prompt := buildPrompt(ictx)

	agentCtx, cancel := context.WithTimeout(ctx, e.Timeouts.AgentTimeout)
	defer cancel()

	result, err := e.Agent.Run(agentCtx, prompt, func(chunk string) {
		e.pulse()
	})
	if err != nil {
		return nil, nil, err
	}
	if !result.Success {
		return nil, result, nil
	}

	var outcomes []model.GateOutcome
	for _, g := range e.GateList {
		if e.cancelled() {
			break
		}
		outcome, gateErr := e.Gates.Run(ctx, g, "")
		if gateErr != nil {
			return outcomes, result, gateErr
		}
		outcomes = append(outcomes, outcome)
		if e.GateUpdate != nil {
			e.GateUpdate(outcome)
		}
		e.pulse()
	}
	return outcomes, result, nil
}

// buildPrompt assembles the prompt section from the context. The context
// section is empty iff error_history is empty, per spec.md §4.C step 1.
func buildPrompt(ictx *model.IterationContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "story: %s\niteration: %d/%d\n", ictx.StoryID, ictx.Iteration, ictx.MaxIterations)

	if len(ictx.ErrorHistory) > 0 {
		b.WriteString("\nprior errors:\n")
		for _, e := range ictx.ErrorHistory {
			fmt.Fprintf(&b, "- [%d] %s: %s\n", e.Iteration, e.Signature(), e.Message)
		}
	}

	if len(ictx.ErrorHistory) == 0 {
		return b.String()
	}

	for _, h := range ictx.ApproachHints {
		if h.Samples < 1 {
			continue
		}
		fmt.Fprintf(&b, "\napproach hint: %s (success rate %.0f%%, n=%d)\n", h.Description, h.SuccessRate*100, h.Samples)
	}

	if ictx.UserGuidance != "" {
		fmt.Fprintf(&b, "\nuser guidance: %s\n", ictx.UserGuidance)
	}

	return b.String()
}
