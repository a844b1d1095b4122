package obsmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"ralph/internal/model"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
	require.NotNil(t, m.IterationsTotal)
}

func TestRecordGateOutcomesIncrementsPassAndFail(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordGateOutcomes([]model.GateOutcome{
		{Name: "lint", Passed: true},
		{Name: "lint", Passed: true},
		{Name: "test", Passed: false},
	})

	require.InDelta(t, 2, counterValue(t, m.GatePassTotal.WithLabelValues("lint")), 0)
	require.InDelta(t, 1, counterValue(t, m.GateFailTotal.WithLabelValues("test")), 0)
	require.InDelta(t, 0, counterValue(t, m.GatePassTotal.WithLabelValues("test")), 0)
}
