package history

import (
	"database/sql"
	"fmt"

	"ralph/internal/model"
)

// Ops wraps database operations against the singleton connection.
type Ops struct {
	db *sql.DB
}

// NewOps returns an Ops bound to the singleton history database.
func NewOps() *Ops { return &Ops{db: GetDB()} }

// RecordHint upserts one approach hint's running success rate for a
// story, feeding the learning-transfer loop named in spec.md §4.C.
func (o *Ops) RecordHint(storyID string, hint model.ApproachHint) error {
	_, err := o.db.Exec(`
		INSERT INTO approach_hints (story_id, description, successes, samples)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(story_id, description) DO UPDATE SET
			successes = excluded.successes,
			samples = excluded.samples
	`, storyID, hint.Description, hint.Successes, hint.Samples)
	if err != nil {
		return fmt.Errorf("record approach hint: %w", err)
	}
	return nil
}

// LoadHints returns every recorded hint for a story, ready to surface in
// future prompts once sample_count >= 1 (checked by the caller per
// spec.md §4.C).
func (o *Ops) LoadHints(storyID string) ([]model.ApproachHint, error) {
	rows, err := o.db.Query(`
		SELECT description, successes, samples FROM approach_hints WHERE story_id = ?
	`, storyID)
	if err != nil {
		return nil, fmt.Errorf("load approach hints: %w", err)
	}
	defer rows.Close()

	var hints []model.ApproachHint
	for rows.Next() {
		var h model.ApproachHint
		if err := rows.Scan(&h.Description, &h.Successes, &h.Samples); err != nil {
			return nil, fmt.Errorf("scan approach hint: %w", err)
		}
		if h.Samples > 0 {
			h.SuccessRate = float64(h.Successes) / float64(h.Samples)
		}
		hints = append(hints, h)
	}
	return hints, rows.Err()
}

// RecordIterationOutcome appends one row to the run ledger.
func (o *Ops) RecordIterationOutcome(runID, storyID string, iteration int, success bool, verdict string) error {
	_, err := o.db.Exec(`
		INSERT INTO iteration_outcomes (run_id, story_id, iteration, success, verdict)
		VALUES (?, ?, ?, ?, ?)
	`, runID, storyID, iteration, boolToInt(success), verdict)
	if err != nil {
		return fmt.Errorf("record iteration outcome: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
