package scheduler

import (
	"math"

	"golang.org/x/exp/rand"
)

// choose applies the construction rule: with probability q0 exploit the best
// score, otherwise sample by roulette wheel. It returns -1 for no scores.
func choose(rng *rand.Rand, q0 float64, scores []float64) int {
	if len(scores) == 0 {
		return -1
	}
	if rng.Float64() <= q0 {
		return argmax(scores)
	}
	return roulette(rng, scores)
}

// argmax returns the first index holding the maximum.
func argmax(scores []float64) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}

// roulette samples an index with probability proportional to its score.
// Degenerate distributions fall back to a uniform pick.
func roulette(rng *rand.Rand, scores []float64) int {
	total := 0.0
	for _, s := range scores {
		total += s
	}
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return rng.Intn(len(scores))
	}

	r := rng.Float64() * total
	cumulative := 0.0
	for i, s := range scores {
		cumulative += s
		if r < cumulative {
			return i
		}
	}
	return len(scores) - 1
}
