package scheduler

import (
	"fmt"
	"math"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/pheromone"
)

// Variant names a construction policy.
type Variant string

const (
	VariantLiu2016 Variant = "liu2016"
	VariantLiu2017 Variant = "liu2017"
	VariantOurAcs  Variant = "ouracs"
)

// Fallback is what an ant does with a VM that has no suitable host.
type Fallback int

const (
	// FallbackOverload picks a host by least overload, accepting a
	// temporarily infeasible solution that repair may fix.
	FallbackOverload Fallback = iota
	// FallbackWiden drops the host budget and retries over every allowed
	// host that fits. It never overloads.
	FallbackWiden
	// FallbackSkip leaves the VM unplaced; the ant's solution is rejected.
	FallbackSkip
)

func (f Fallback) String() string {
	switch f {
	case FallbackOverload:
		return "overload"
	case FallbackWiden:
		return "widen"
	case FallbackSkip:
		return "skip"
	default:
		return fmt.Sprintf("fallback(%d)", int(f))
	}
}

// heuristicEpsilon keeps the balance term finite for perfectly balanced hosts.
const heuristicEpsilon = 1e-4

// Policy is the small set of choices that distinguish the variants.
type Policy struct {
	Variant Variant
	Shape   domain.PheromoneShape
	// ShuffleOrder processes the batch in a random order per ant.
	ShuffleOrder bool
	Fallback     Fallback
	// Heuristic rates a host by its CPU and RAM wastage after the VM lands.
	Heuristic func(cpuWastage, ramWastage float64) float64
	// Reinforcement is the global update reward for a solution.
	Reinforcement func(hostsUsed int, wastage float64) float64
	// Objectives is 2 ({power, migrations}) or 5.
	Objectives int
	// UseArchive keeps a Pareto archive across generations.
	UseArchive bool
}

// PolicyFor returns the policy of a variant.
func PolicyFor(v Variant) (Policy, error) {
	switch v {
	case VariantLiu2016:
		return Policy{
			Variant:       v,
			Shape:         domain.ShapeVMVM,
			ShuffleOrder:  true,
			Fallback:      FallbackOverload,
			Heuristic:     BalanceHeuristic,
			Reinforcement: pheromone.LiuReinforcement,
			Objectives:    2,
		}, nil
	case VariantLiu2017:
		return Policy{
			Variant:       v,
			Shape:         domain.ShapeVMVM,
			Fallback:      FallbackWiden,
			Heuristic:     BalanceHeuristic,
			Reinforcement: pheromone.LiuReinforcement,
			Objectives:    2,
			UseArchive:    true,
		}, nil
	case VariantOurAcs:
		return Policy{
			Variant:   v,
			Shape:     domain.ShapeVMHost,
			Fallback:  FallbackSkip,
			Heuristic: WastageHeuristic,
			Reinforcement: func(_ int, wastage float64) float64 {
				return pheromone.OurAcsReinforcement(wastage)
			},
			Objectives: 5,
			UseArchive: true,
		}, nil
	default:
		return Policy{}, &domain.ConfigError{Field: "variant", Reason: fmt.Sprintf("unknown variant %q", v)}
	}
}

// BalanceHeuristic favors hosts whose remaining CPU and RAM stay balanced
// relative to what is used: 1/(1 + (|Lc-Lr|+eps)/(Uc+Ur)).
func BalanceHeuristic(cpuWastage, ramWastage float64) float64 {
	used := (1 - cpuWastage) + (1 - ramWastage)
	if used <= 0 {
		return heuristicEpsilon
	}
	w := (math.Abs(cpuWastage-ramWastage) + heuristicEpsilon) / used
	return 1 / (1 + w)
}

// WastageHeuristic favors tightly packed hosts: 1/(1 + Lc + Lr).
func WastageHeuristic(cpuWastage, ramWastage float64) float64 {
	return 1 / (1 + cpuWastage + ramWastage)
}
