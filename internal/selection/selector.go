// Package selection picks the final solution out of an archive or a
// candidate list.
package selection

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/pareto"
)

// Policy names a selection strategy.
type Policy string

const (
	// PolicyMinimumPower picks the lowest total power.
	PolicyMinimumPower Policy = "min-power"
	// PolicyKneePoint picks the most balanced trade-off.
	PolicyKneePoint Policy = "knee"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyMinimumPower, PolicyKneePoint:
		return p, nil
	default:
		return "", &domain.ConfigError{Field: "selection", Reason: fmt.Sprintf("unknown policy %q", s)}
	}
}

// Select applies the policy. ok is false when candidates is empty.
func Select(p Policy, candidates []pareto.Entry) (pareto.Entry, bool, error) {
	switch p {
	case PolicyMinimumPower:
		e, ok := MinimumPower(candidates)
		return e, ok, nil
	case PolicyKneePoint:
		e, ok := KneePoint(candidates)
		return e, ok, nil
	default:
		return pareto.Entry{}, false, &domain.ConfigError{Field: "selection", Reason: fmt.Sprintf("unknown policy %q", p)}
	}
}

// MinimumPower returns the candidate with the lowest power objective. Ties go
// to the first one encountered.
func MinimumPower(candidates []pareto.Entry) (pareto.Entry, bool) {
	if len(candidates) == 0 {
		return pareto.Entry{}, false
	}
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Objectives.Power < candidates[best].Objectives.Power {
			best = i
		}
	}
	return candidates[best], true
}

// KneePoint normalizes every objective to [0,1] across the candidates and
// returns the candidate maximizing the product of (1 - normalized value).
// Ties go to the first one encountered.
func KneePoint(candidates []pareto.Entry) (pareto.Entry, bool) {
	if len(candidates) == 0 {
		return pareto.Entry{}, false
	}
	n := NewNormalizer(candidates)

	best, bestScore := 0, -1.0
	for i, c := range candidates {
		score := 1.0
		for _, v := range n.Normalize(c.Values) {
			score *= 1 - v
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return candidates[best], true
}

// Normalizer maps objective values to [0,1] using the candidates' ranges.
type Normalizer struct {
	min []float64
	max []float64
}

// NewNormalizer computes per-objective bounds over the candidates.
func NewNormalizer(candidates []pareto.Entry) *Normalizer {
	if len(candidates) == 0 {
		return &Normalizer{}
	}
	dims := len(candidates[0].Values)
	n := &Normalizer{min: make([]float64, dims), max: make([]float64, dims)}
	column := make([]float64, len(candidates))
	for d := 0; d < dims; d++ {
		for i, c := range candidates {
			column[i] = c.Values[d]
		}
		n.min[d] = floats.Min(column)
		n.max[d] = floats.Max(column)
	}
	return n
}

// Normalize returns values scaled into [0,1]. A constant objective maps to 0.
func (n *Normalizer) Normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if i >= len(n.min) || n.max[i] == n.min[i] {
			continue
		}
		out[i] = (v - n.min[i]) / (n.max[i] - n.min[i])
	}
	return out
}
