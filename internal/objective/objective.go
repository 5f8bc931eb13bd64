// Package objective turns a solution into its objective vector using an
// external per-host power, carbon and cost model.
package objective

import (
	"fmt"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/resource"
)

// HostScore is what the host model reports for one projected utilization.
// Carbon and Cost are zero when the model does not track them.
type HostScore struct {
	Power  float64
	Carbon float64
	Cost   float64
}

// HostScorer is the power/carbon/cost collaborator. The optimizer never
// computes physical formulas itself.
type HostScorer interface {
	Score(host *domain.Host, cpuUtilization float64) (HostScore, error)
}

// Evaluator computes objective vectors.
type Evaluator struct {
	model  *resource.Model
	scorer HostScorer
}

// NewEvaluator creates an evaluator.
func NewEvaluator(model *resource.Model, scorer HostScorer) *Evaluator {
	return &Evaluator{model: model, scorer: scorer}
}

// Evaluate scores sol against the snapshot. Hosts left empty are assumed
// switched off and contribute nothing.
func (e *Evaluator) Evaluate(snap *domain.Snapshot, sol domain.Solution, batch domain.VMSet) (domain.ObjectiveVector, error) {
	var v domain.ObjectiveVector
	occ := snap.Occupancy(sol, batch)

	for _, h := range snap.Hosts() {
		o := occ[h.ID]
		if o.IsEmpty() {
			continue
		}
		cpu, err := e.model.CPUUtilization(h, o.Load)
		if err != nil {
			return v, err
		}
		s, err := e.scorer.Score(h, cpu)
		if err != nil {
			return v, fmt.Errorf("failed to score host %s: %w", h.ID, err)
		}
		v.Power += s.Power
		v.Carbon += s.Carbon
		v.Cost += s.Cost
		v.ActiveHosts++
	}
	v.Migrations = Migrations(snap, sol)
	return v, nil
}

// Migrations counts created VMs the solution moves off their current host.
func Migrations(snap *domain.Snapshot, sol domain.Solution) int {
	migrations, _ := sol.Split(snap)
	return len(migrations)
}
