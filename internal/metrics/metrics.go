// Package metrics exposes Prometheus collectors for optimization runs.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ouracs"

// Label names.
const (
	LabelDatacenter = "datacenter"
	LabelMode       = "mode"
	LabelVariant    = "variant"
	LabelOutcome    = "outcome"
	LabelReason     = "reason"
)

// Run outcomes.
const (
	OutcomeFeasible   = "feasible"
	OutcomeInfeasible = "infeasible"
	OutcomeNoop       = "noop"
	OutcomeBusy       = "busy"
	OutcomeError      = "error"
)

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	generations *prometheus.HistogramVec
	activeHosts *prometheus.GaugeVec
	powerWatts  *prometheus.GaugeVec
	planSteps   *prometheus.CounterVec
	reroutes    *prometheus.CounterVec
	unresolved  *prometheus.CounterVec
}

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimization_runs_total",
			Help:      "Total number of optimization calls by outcome",
		}, []string{LabelDatacenter, LabelMode, LabelVariant, LabelOutcome}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "optimization_duration_seconds",
			Help:      "Wall time of optimization calls",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{LabelMode, LabelVariant}),
		generations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "optimization_generations",
			Help:      "Generations completed per optimization call",
			Buckets:   prometheus.LinearBuckets(5, 5, 10),
		}, []string{LabelVariant}),
		activeHosts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selected_active_hosts",
			Help:      "Active hosts of the last selected solution",
		}, []string{LabelDatacenter}),
		powerWatts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selected_power_watts",
			Help:      "Power draw of the last selected solution",
		}, []string{LabelDatacenter}),
		planSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_plan_steps_total",
			Help:      "Migrations committed to plans",
		}, []string{LabelDatacenter}),
		reroutes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_reroutes_total",
			Help:      "Migrations rerouted to break lock-in cycles",
		}, []string{LabelDatacenter}),
		unresolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_unresolved_total",
			Help:      "Migrations left out of plans",
		}, []string{LabelDatacenter, LabelReason}),
	}

	for name, c := range map[string]prometheus.Collector{
		"runs":        m.runs,
		"duration":    m.duration,
		"generations": m.generations,
		"activeHosts": m.activeHosts,
		"powerWatts":  m.powerWatts,
		"planSteps":   m.planSteps,
		"reroutes":    m.reroutes,
		"unresolved":  m.unresolved,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register %s metric: %w", name, err)
		}
	}
	return m, nil
}

// ObserveRun records the outcome and duration of one call.
func (m *Metrics) ObserveRun(datacenterID, mode, variant, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(datacenterID, mode, variant, outcome).Inc()
	m.duration.WithLabelValues(mode, variant).Observe(took.Seconds())
}

// ObserveGenerations records how many generations a run completed.
func (m *Metrics) ObserveGenerations(variant string, n int) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(variant).Observe(float64(n))
}

// SetSelected publishes the objectives of the selected solution.
func (m *Metrics) SetSelected(datacenterID string, activeHosts int, powerWatts float64) {
	if m == nil {
		return
	}
	m.activeHosts.WithLabelValues(datacenterID).Set(float64(activeHosts))
	m.powerWatts.WithLabelValues(datacenterID).Set(powerWatts)
}

// ObservePlan records the shape of a sequenced plan.
func (m *Metrics) ObservePlan(datacenterID string, steps, reroutes int, unresolved map[string]int) {
	if m == nil {
		return
	}
	m.planSteps.WithLabelValues(datacenterID).Add(float64(steps))
	m.reroutes.WithLabelValues(datacenterID).Add(float64(reroutes))
	for reason, n := range unresolved {
		m.unresolved.WithLabelValues(datacenterID, reason).Add(float64(n))
	}
}
