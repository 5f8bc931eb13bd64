// Package pheromone holds the trail tables ants read and the colony updates.
package pheromone

import (
	"fmt"
	"sort"
	"time"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
)

type pair struct {
	a, b string
}

// Table maps VM x VM or VM x Host pairs to trail values in (0,1]. Pairs that
// were never written read as the initial value 1/size.
type Table struct {
	shape   domain.PheromoneShape
	initial float64
	trails  map[pair]float64
}

// New creates a table of the given shape whose initial trail is 1/size.
func New(shape domain.PheromoneShape, size int) (*Table, error) {
	if size <= 0 {
		return nil, &domain.InfeasibleInput{Reason: fmt.Sprintf("pheromone table size must be positive, got %d", size)}
	}
	if shape != domain.ShapeVMVM && shape != domain.ShapeVMHost {
		return nil, &domain.ConfigError{Field: "pheromone_shape", Reason: fmt.Sprintf("unknown shape %q", shape)}
	}
	return &Table{
		shape:   shape,
		initial: 1 / float64(size),
		trails:  make(map[pair]float64),
	}, nil
}

// Shape returns the pairing of the table.
func (t *Table) Shape() domain.PheromoneShape {
	return t.shape
}

// Initial returns the value unvisited pairs decay toward.
func (t *Table) Initial() float64 {
	return t.initial
}

// Len returns the number of pairs holding a value other than the lazy default.
func (t *Table) Len() int {
	return len(t.trails)
}

func (t *Table) key(a, b string) pair {
	if t.shape == domain.ShapeVMVM && b < a {
		return pair{b, a}
	}
	return pair{a, b}
}

// Initialize resets every pair to the initial value, then inherits the trail
// of warm pairs that were colocated last session. vms are the VMs of this
// call; hosts are only used by the VM x Host shape.
func (t *Table) Initialize(vms, hosts []string, warm *domain.OptimizerState) int {
	t.trails = make(map[pair]float64)
	if warm.IsEmpty() || warm.Shape != t.shape {
		return 0
	}

	known := domain.NewVMSet(vms...)
	if t.shape == domain.ShapeVMHost {
		for _, h := range hosts {
			known[h] = struct{}{}
		}
	}

	inherited := 0
	for k, v := range warm.Trails {
		a, b, ok := domain.SplitPairKey(k)
		if !ok || a == b || !known.Has(a) || !known.Has(b) {
			continue
		}
		if !warm.Colocated(a, b) {
			continue
		}
		t.trails[t.key(a, b)] = clamp(v, t.initial)
		inherited++
	}
	return inherited
}

// Get returns the trail between two entities. Self pairs read as the initial
// value and are never stored.
func (t *Table) Get(a, b string) float64 {
	if a == b {
		return t.initial
	}
	if v, ok := t.trails[t.key(a, b)]; ok {
		return v
	}
	return t.initial
}

// Snapshot returns a deep copy for a generation's read-only use.
func (t *Table) Snapshot() *Table {
	c := &Table{
		shape:   t.shape,
		initial: t.initial,
		trails:  make(map[pair]float64, len(t.trails)),
	}
	for k, v := range t.trails {
		c.trails[k] = v
	}
	return c
}

// LocalUpdate decays every pair colocated under sol toward the initial value:
// trail = (1-rate)*trail + rate*initial.
func (t *Table) LocalUpdate(sol domain.Solution, occ map[string]*domain.Occupancy, rate float64) {
	t.update(sol, occ, rate, t.initial)
}

// GlobalUpdate reinforces every pair colocated under sol:
// trail = (1-rate)*trail + rate*reinforcement.
func (t *Table) GlobalUpdate(sol domain.Solution, occ map[string]*domain.Occupancy, rate, reinforcement float64) {
	t.update(sol, occ, rate, reinforcement)
}

func (t *Table) update(sol domain.Solution, occ map[string]*domain.Occupancy, rate, target float64) {
	for _, p := range t.colocatedPairs(sol, occ) {
		k := t.key(p.a, p.b)
		v, ok := t.trails[k]
		if !ok {
			v = t.initial
		}
		t.trails[k] = clamp((1-rate)*v+rate*target, t.initial)
	}
}

// colocatedPairs lists the pairs sol puts together, in a stable order. For the
// VM x VM shape a pair needs at least one VM the solution assigns; residents
// that merely stay in place do not reinforce each other.
func (t *Table) colocatedPairs(sol domain.Solution, occ map[string]*domain.Occupancy) []pair {
	var out []pair
	if t.shape == domain.ShapeVMHost {
		for _, vm := range sol.VMIDs() {
			out = append(out, pair{vm, sol[vm]})
		}
		return out
	}

	hostIDs := make([]string, 0, len(occ))
	for id := range occ {
		hostIDs = append(hostIDs, id)
	}
	sort.Strings(hostIDs)
	for _, hostID := range hostIDs {
		ids := append([]string(nil), occ[hostID].VMIDs...)
		sort.Strings(ids)
		for i := 0; i < len(ids); i++ {
			_, iAssigned := sol[ids[i]]
			for j := i + 1; j < len(ids); j++ {
				if _, jAssigned := sol[ids[j]]; !iAssigned && !jAssigned {
					continue
				}
				out = append(out, pair{ids[i], ids[j]})
			}
		}
	}
	return out
}

// Export captures the table and the session's final placement as warm-start
// state for the next call.
func (t *Table) Export(datacenterID, variant string, placement map[string]string, previous *domain.OptimizerState) *domain.OptimizerState {
	st := domain.NewOptimizerState(datacenterID)
	st.Variant = variant
	st.Shape = t.shape
	for k, v := range t.trails {
		st.Trails[domain.PairKey(k.a, k.b)] = v
	}
	for vm, host := range placement {
		st.Placement[vm] = host
	}
	if previous != nil && previous.CompatibleWith(variant, t.shape) {
		st.Sessions = previous.Sessions
	}
	st.Sessions++
	st.UpdatedAt = time.Now()
	return st
}

// LiuReinforcement is the global reward of the Liu family:
// 1/hostsUsed + 1/(wastage+1).
func LiuReinforcement(hostsUsed int, wastage float64) float64 {
	if hostsUsed <= 0 {
		return OurAcsReinforcement(wastage)
	}
	return 1/float64(hostsUsed) + OurAcsReinforcement(wastage)
}

// OurAcsReinforcement is the global reward of the OurAcs family: 1/(wastage+1).
func OurAcsReinforcement(wastage float64) float64 {
	return 1 / (wastage + 1)
}

// clamp keeps trails in (0,1].
func clamp(v, floor float64) float64 {
	if v > 1 {
		return 1
	}
	if v <= 0 {
		return floor
	}
	return v
}
