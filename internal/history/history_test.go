package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ralph/internal/model"
)

func TestRecordAndLoadHints(t *testing.T) {
	defer func() { require.NoError(t, Reset()) }()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	require.NoError(t, Initialize(dbPath))
	require.True(t, IsInitialized())

	ops := NewOps()
	require.NoError(t, ops.RecordHint("story-1", model.ApproachHint{
		Description: "use table-driven tests", Successes: 3, Samples: 4,
	}))

	hints, err := ops.LoadHints("story-1")
	require.NoError(t, err)
	require.Len(t, hints, 1)
	require.InDelta(t, 0.75, hints[0].SuccessRate, 0.0001)
}

func TestRecordIterationOutcome(t *testing.T) {
	defer func() { require.NoError(t, Reset()) }()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	require.NoError(t, Initialize(dbPath))

	ops := NewOps()
	require.NoError(t, ops.RecordIterationOutcome("run-1", "story-1", 1, true, "continue"))
}
