// Package futility implements the futility detector from spec.md §4.C: it
// inspects a story's accumulating error history and decides whether
// further iterations are worth attempting.
package futility

import (
	"fmt"

	"ralph/internal/model"
)

// Config tunes the detector's thresholds.
type Config struct {
	OscillationThreshold uint
	StagnationThreshold  uint
	FatalCategories      []model.ErrorCategoryKind
	EnablePatternDetection bool
}

// DefaultConfig mirrors the Rust original's defaults: oscillation at 3
// repeats, stagnation at 4, and Environment treated as immediately fatal.
func DefaultConfig() Config {
	return Config{
		OscillationThreshold:   3,
		StagnationThreshold:    4,
		FatalCategories:        []model.ErrorCategoryKind{model.CategoryEnvironment},
		EnablePatternDetection: true,
	}
}

// Detector evaluates IterationContexts against a Config.
type Detector struct {
	cfg Config
}

// New creates a Detector with the default configuration.
func New() *Detector { return &Detector{cfg: DefaultConfig()} }

// NewWithConfig creates a Detector with a caller-supplied configuration.
func NewWithConfig(cfg Config) *Detector { return &Detector{cfg: cfg} }

// Analyze evaluates the context and returns a Verdict. Checks run in a
// fixed order and the first match wins: fatal category, oscillation,
// stagnation / near-stagnation, then error-rate acceleration near the
// iteration budget's end.
func (d *Detector) Analyze(ctx *model.IterationContext) model.Verdict {
	if v, ok := d.checkFatal(ctx); ok {
		return v
	}
	if d.cfg.EnablePatternDetection {
		if v, ok := d.checkOscillation(ctx); ok {
			return v
		}
	}
	if v, ok := d.checkStagnation(ctx); ok {
		return v
	}
	if v, ok := d.checkAcceleration(ctx); ok {
		return v
	}
	return model.Verdict{Kind: model.VerdictContinue}
}

func (d *Detector) checkFatal(ctx *model.IterationContext) (model.Verdict, bool) {
	for _, e := range ctx.ErrorHistory {
		for _, fatalKind := range d.cfg.FatalCategories {
			if e.Category.Kind == fatalKind {
				return model.Verdict{
					Kind:   model.VerdictFatal,
					Reason: fmt.Sprintf("fatal %s error: %s", e.Category.AsString(), e.Message),
				}, true
			}
		}
	}
	return model.Verdict{}, false
}

// checkOscillation looks for an A-B-A-B pattern in the last four error
// signatures.
func (d *Detector) checkOscillation(ctx *model.IterationContext) (model.Verdict, bool) {
	sigs := ctx.ErrorSignatureSequence()
	n := len(sigs)
	if n < 4 {
		return model.Verdict{}, false
	}

	a, b := sigs[n-1], sigs[n-2]
	if sigs[n-3] == a && sigs[n-4] == b && a != b {
		return model.Verdict{
			Kind: model.VerdictPauseForGuidance,
			Reason: fmt.Sprintf(
				"detected oscillating error pattern: %s <-> %s. fixing one issue causes the other to reappear.",
				a, b,
			),
			Suggestions: []string{
				"review the conflicting requirements",
				"consider addressing both issues simultaneously",
				"check if there's a design issue causing the oscillation",
			},
		}, true
	}
	return model.Verdict{}, false
}

// checkStagnation flags a signature that has recurred too many times
// consecutively: DeferStory once it hits the stagnation threshold, or
// PauseForGuidance at the lower oscillation threshold (near-stagnation).
func (d *Detector) checkStagnation(ctx *model.IterationContext) (model.Verdict, bool) {
	sigs := ctx.ErrorSignatureSequence()
	if len(sigs) == 0 {
		return model.Verdict{}, false
	}

	last := sigs[len(sigs)-1]
	count := uint(ctx.RepeatedErrorCount(last))

	if count >= d.cfg.StagnationThreshold {
		return model.Verdict{
			Kind: model.VerdictDeferStory,
			Reason: fmt.Sprintf(
				"same error %q occurred %d times consecutively; the agent may not be able to resolve this without guidance",
				last, count,
			),
		}, true
	}

	if count >= d.cfg.OscillationThreshold {
		return model.Verdict{
			Kind: model.VerdictPauseForGuidance,
			Reason: fmt.Sprintf(
				"error %q has occurred %d times; consider providing additional context or breaking down the task",
				last, count,
			),
			Suggestions: []string{
				"provide more specific implementation guidance",
				"break the story into smaller subtasks",
				"check for missing dependencies or prerequisites",
			},
		}, true
	}

	return model.Verdict{}, false
}

// checkAcceleration catches a story limping toward its iteration budget
// with a high error rate: iteration >= 5, error rate above 90%, and two or
// fewer attempts remaining.
func (d *Detector) checkAcceleration(ctx *model.IterationContext) (model.Verdict, bool) {
	if ctx.Iteration < 5 {
		return model.Verdict{}, false
	}
	remaining := ctx.MaxIterations - ctx.Iteration
	if remaining > 2 {
		return model.Verdict{}, false
	}
	if ctx.ErrorRate() <= 0.90 {
		return model.Verdict{}, false
	}
	return model.Verdict{
		Kind:   model.VerdictPauseForGuidance,
		Reason: "high error rate with few iterations remaining",
		Suggestions: []string{
			"review accumulated errors before the iteration budget is exhausted",
		},
	}, true
}
