// Package repair rescues infeasible solutions by exchanging VMs between
// overloaded and non-overloaded hosts.
package repair

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/resource"
)

// maxPasses bounds how often the overloaded set is recomputed.
const maxPasses = 8

// Problem is the scope a repair works in.
type Problem struct {
	Snapshot *domain.Snapshot
	// Batch is the requested VM set. Other VMs moved by a repair are helper
	// migrations.
	Batch domain.VMSet
	// Hosts are the hosts the solution may use, ordered by ID.
	Hosts []*domain.Host
}

// Repairer runs move/swap local search.
type Repairer struct {
	model  *resource.Model
	logger *zap.Logger
}

// New creates a repairer.
func New(model *resource.Model, logger *zap.Logger) *Repairer {
	return &Repairer{
		model:  model,
		logger: logger.With(zap.String("component", "repair")),
	}
}

type state struct {
	p   Problem
	sol domain.Solution
	occ map[string]*domain.Occupancy
}

func (s *state) vm(id string) *domain.VM {
	vm, _ := s.p.Snapshot.VM(id)
	return vm
}

// Repair returns a best-effort copy of sol in which overloaded hosts shed VMs
// to non-overloaded ones. The result may still be infeasible; callers must
// re-check it.
func (r *Repairer) Repair(p Problem, sol domain.Solution) (domain.Solution, error) {
	s := &state{p: p, sol: sol.Clone(), occ: p.Snapshot.Occupancy(sol, p.Batch)}

	for pass := 0; pass < maxPasses; pass++ {
		overloaded, fitting, err := r.partition(s)
		if err != nil {
			return nil, err
		}
		if len(overloaded) == 0 {
			break
		}

		changed := false
		for _, src := range overloaded {
			progressed, err := r.relieve(s, src, fitting)
			if err != nil {
				return nil, err
			}
			changed = changed || progressed
		}
		if !changed {
			break
		}
	}

	r.logger.Debug("Repair finished",
		zap.String("datacenter_id", p.Snapshot.DatacenterID),
		zap.Int("entries", len(s.sol)),
	)
	return s.sol, nil
}

// relieve moves or swaps VMs off src until it fits or nothing is left to try.
func (r *Repairer) relieve(s *state, src *domain.Host, fitting []*domain.Host) (bool, error) {
	changed := false
	for _, vm := range r.movable(s, src) {
		over, err := r.model.IsOverloaded(src, s.occ[src.ID].Load)
		if err != nil {
			return changed, err
		}
		if !over {
			return changed, nil
		}

		for _, dst := range r.rankTargets(s, fitting) {
			if dst.ID == src.ID {
				continue
			}
			ok, err := r.tryMove(s, vm, src, dst)
			if err != nil {
				return changed, err
			}
			if !ok {
				ok, err = r.trySwap(s, vm, src, dst)
				if err != nil {
					return changed, err
				}
			}
			if ok {
				changed = true
				break
			}
		}
	}
	return changed, nil
}

func (r *Repairer) partition(s *state) (overloaded, fitting []*domain.Host, err error) {
	for _, h := range s.p.Hosts {
		over, err := r.model.IsOverloaded(h, s.occ[h.ID].Load)
		if err != nil {
			return nil, nil, err
		}
		if over {
			overloaded = append(overloaded, h)
		} else {
			fitting = append(fitting, h)
		}
	}
	return overloaded, fitting, nil
}

// movable returns the occupants of h, biggest resource-shape mismatch first.
func (r *Repairer) movable(s *state, h *domain.Host) []*domain.VM {
	ids := append([]string(nil), s.occ[h.ID].VMIDs...)
	sort.Strings(ids)
	vms := make([]*domain.VM, 0, len(ids))
	for _, id := range ids {
		vms = append(vms, s.vm(id))
	}
	sort.SliceStable(vms, func(i, j int) bool {
		return mismatch(vms[i].Demand, h.Capacity) > mismatch(vms[j].Demand, h.Capacity)
	})
	return vms
}

// rankTargets orders the currently fitting hosts by ascending mismatch of
// their load.
func (r *Repairer) rankTargets(s *state, fitting []*domain.Host) []*domain.Host {
	out := append([]*domain.Host(nil), fitting...)
	sort.SliceStable(out, func(i, j int) bool {
		return mismatch(s.occ[out[i].ID].Load, out[i].Capacity) < mismatch(s.occ[out[j].ID].Load, out[j].Capacity)
	})
	return out
}

func (r *Repairer) tryMove(s *state, vm *domain.VM, src, dst *domain.Host) (bool, error) {
	fits, err := r.model.Fits(dst, s.occ[dst.ID].Load.Add(vm.Demand))
	if err != nil || !fits {
		return false, err
	}
	s.occ[src.ID].Remove(vm)
	s.occ[dst.ID].Add(vm)
	s.sol[vm.ID] = dst.ID
	return true, nil
}

// trySwap exchanges vm with one occupant of dst when both hosts fit afterward.
func (r *Repairer) trySwap(s *state, vm *domain.VM, src, dst *domain.Host) (bool, error) {
	ids := append([]string(nil), s.occ[dst.ID].VMIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		other := s.vm(id)
		srcLoad := s.occ[src.ID].Load.Sub(vm.Demand).Add(other.Demand)
		dstLoad := s.occ[dst.ID].Load.Sub(other.Demand).Add(vm.Demand)

		srcFits, err := r.model.Fits(src, srcLoad)
		if err != nil {
			return false, err
		}
		dstFits, err := r.model.Fits(dst, dstLoad)
		if err != nil {
			return false, err
		}
		if !srcFits || !dstFits {
			continue
		}

		s.occ[src.ID].Remove(vm)
		s.occ[dst.ID].Remove(other)
		s.occ[src.ID].Add(other)
		s.occ[dst.ID].Add(vm)
		s.sol[vm.ID] = dst.ID
		s.sol[other.ID] = src.ID
		return true, nil
	}
	return false, nil
}

// Clean drops entries a repair left behind: VMs outside the batch that are
// mapped to the host they already run on, and helper moves of such VMs that
// can be undone without overloading their original host. Batch VMs always
// keep their entry so a complete solution stays complete.
func (r *Repairer) Clean(p Problem, sol domain.Solution) (domain.Solution, error) {
	out := sol.Clone()
	for _, vmID := range out.VMIDs() {
		if p.Batch.Has(vmID) {
			continue
		}
		if p.Snapshot.CurrentHost(vmID) == out[vmID] {
			delete(out, vmID)
		}
	}

	for _, vmID := range out.VMIDs() {
		if p.Batch.Has(vmID) {
			continue
		}
		home, ok := p.Snapshot.Host(p.Snapshot.CurrentHost(vmID))
		if !ok {
			continue
		}
		vm, _ := p.Snapshot.VM(vmID)
		occ := p.Snapshot.Occupancy(out, p.Batch)
		fits, err := r.model.Fits(home, occ[home.ID].Load.Add(vm.Demand))
		if err != nil {
			return nil, err
		}
		if fits {
			delete(out, vmID)
		}
	}
	return out, nil
}

// mismatch is |cores - ram| with both expressed as fractions of capacity.
func mismatch(r, capacity domain.Resources) float64 {
	var pes, ram float64
	if capacity.Pes > 0 {
		pes = float64(r.Pes) / float64(capacity.Pes)
	}
	if capacity.RAM > 0 {
		ram = r.RAM / capacity.RAM
	}
	return math.Abs(pes - ram)
}
