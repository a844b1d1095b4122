package model

import "fmt"

// IterationError is one failed attempt recorded against a story's history.
type IterationError struct {
	Iteration     int           `json:"iteration"`
	Category      ErrorCategory `json:"category"`
	Message       string        `json:"message"`
	FailingGate   string        `json:"failingGate,omitempty"`
	AffectedFiles []string      `json:"affectedFiles,omitempty"`
}

// Signature is the dedup key the futility detector pattern-matches on:
// "category:gate".
func (e IterationError) Signature() string {
	gate := e.FailingGate
	if gate == "" {
		gate = "-"
	}
	return fmt.Sprintf("%s:%s", e.Category.AsString(), gate)
}

// ApproachHint is learning-transfer state surfaced in future prompts once it
// has at least one sample.
type ApproachHint struct {
	Description string  `json:"description"`
	Successes   int     `json:"successes"`
	Samples     int     `json:"samples"`
	SuccessRate float64 `json:"successRate"`
}

// Record folds one outcome into the hint's running success rate.
func (h *ApproachHint) Record(success bool) {
	h.Samples++
	if success {
		h.Successes++
	}
	h.SuccessRate = float64(h.Successes) / float64(h.Samples)
}

// IterationContext is the mutable state threaded through one story's retry
// loop. A worker owns its IterationContext exclusively.
type IterationContext struct {
	StoryID         string            `json:"storyId"`
	Iteration       int               `json:"iteration"`
	MaxIterations   int               `json:"maxIterations"`
	ErrorHistory    []IterationError  `json:"errorHistory,omitempty"`
	PartialProgress map[string][]string `json:"partialProgress,omitempty"` // gate name -> passing files
	ApproachHints   []ApproachHint    `json:"approachHints,omitempty"`
	UserGuidance    string            `json:"userGuidance,omitempty"`
}

// NewIterationContext starts a fresh context at iteration 1.
func NewIterationContext(storyID string, maxIterations int) *IterationContext {
	return &IterationContext{
		StoryID:       storyID,
		Iteration:     1,
		MaxIterations: maxIterations,
	}
}

// ErrorSignatureSequence returns the signature of every recorded error, in
// order, for oscillation/stagnation pattern matching.
func (c *IterationContext) ErrorSignatureSequence() []string {
	sigs := make([]string, len(c.ErrorHistory))
	for i, e := range c.ErrorHistory {
		sigs[i] = e.Signature()
	}
	return sigs
}

// RepeatedErrorCount returns how many times the given signature appears
// consecutively at the end of the error history.
func (c *IterationContext) RepeatedErrorCount(signature string) int {
	count := 0
	for i := len(c.ErrorHistory) - 1; i >= 0; i-- {
		if c.ErrorHistory[i].Signature() != signature {
			break
		}
		count++
	}
	return count
}

// RecordError appends an error to the history. It does not advance the
// iteration counter; callers do that separately once a Continue verdict is
// reached.
func (c *IterationContext) RecordError(err IterationError) {
	c.ErrorHistory = append(c.ErrorHistory, err)
}

// Advance moves to the next iteration. Callers must only call this after a
// Continue verdict and while Iteration < MaxIterations.
func (c *IterationContext) Advance() {
	c.Iteration++
}

// ErrorRate returns the fraction of iterations so far that recorded at
// least one error, used by the futility detector's acceleration check.
func (c *IterationContext) ErrorRate() float64 {
	if c.Iteration == 0 {
		return 0
	}
	// Count iterations with at least one recorded error, not raw error
	// count, since a single iteration can fail multiple gates.
	seen := make(map[int]bool)
	for _, e := range c.ErrorHistory {
		seen[e.Iteration] = true
	}
	return float64(len(seen)) / float64(c.Iteration)
}
