package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveRun("dc-1", "placement", "ouracs", OutcomeFeasible, 120*time.Millisecond)
	m.ObserveRun("dc-1", "placement", "ouracs", OutcomeFeasible, 80*time.Millisecond)
	m.ObserveRun("dc-1", "placement", "ouracs", OutcomeBusy, time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("dc-1", "placement", "ouracs", OutcomeFeasible)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("dc-1", "placement", "ouracs", OutcomeBusy)))
}

func TestMetrics_ObservePlan(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObservePlan("dc-1", 3, 1, map[string]int{"LOCK_IN_CYCLE": 2})
	m.SetSelected("dc-1", 4, 512.5)

	require.Equal(t, 3.0, testutil.ToFloat64(m.planSteps.WithLabelValues("dc-1")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.reroutes.WithLabelValues("dc-1")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.unresolved.WithLabelValues("dc-1", "LOCK_IN_CYCLE")))
	require.Equal(t, 4.0, testutil.ToFloat64(m.activeHosts.WithLabelValues("dc-1")))
}

func TestMetrics_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRun("dc-1", "placement", "ouracs", OutcomeError, time.Second)
	m.ObserveGenerations("ouracs", 10)
	m.SetSelected("dc-1", 1, 1)
	m.ObservePlan("dc-1", 1, 0, nil)
}
