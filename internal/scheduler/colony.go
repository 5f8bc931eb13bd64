package scheduler

import (
	"math"

	"golang.org/x/exp/rand"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/pheromone"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/resource"
)

// colony is the read-only context every ant of one call shares.
type colony struct {
	config Config
	policy Policy
	model  *resource.Model
	snap   *domain.Snapshot

	batch    []*domain.VM
	batchSet domain.VMSet
	hosts    []*domain.Host
	allowed  map[string]bool
	// base holds the residents that are not part of the batch.
	base map[string]*domain.Occupancy
}

// candidate is one ant's (or one repair's) solution with its score.
type candidate struct {
	sol      domain.Solution
	occ      map[string]*domain.Occupancy
	unplaced []string

	complete   bool
	feasible   bool
	overloaded int
	hostsUsed  int
	// budgetHosts counts used hosts among the allowed ones.
	budgetHosts int
	wastage     float64
}

func cloneOccupancy(occ map[string]*domain.Occupancy) map[string]*domain.Occupancy {
	out := make(map[string]*domain.Occupancy, len(occ))
	for id, o := range occ {
		out[id] = o.Clone()
	}
	return out
}

// construct builds one ant's solution against a read-only table.
func (c *colony) construct(table *pheromone.Table, budget int, rng *rand.Rand) (*candidate, error) {
	occ := cloneOccupancy(c.base)
	sol := make(domain.Solution, len(c.batch))

	open := 0
	for _, h := range c.hosts {
		if !occ[h.ID].IsEmpty() {
			open++
		}
	}

	order := append([]*domain.VM(nil), c.batch...)
	if c.policy.ShuffleOrder {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	var unplaced []string
	for _, vm := range order {
		h, err := c.pick(table, occ, vm, open >= budget, rng)
		if err != nil {
			return nil, err
		}
		if h == nil {
			unplaced = append(unplaced, vm.ID)
			continue
		}
		if occ[h.ID].IsEmpty() {
			open++
		}
		occ[h.ID].Add(vm)
		sol[vm.ID] = h.ID
	}

	return c.evaluate(sol, occ, unplaced)
}

// pick chooses a host for vm, or nil when the policy leaves it unplaced.
func (c *colony) pick(table *pheromone.Table, occ map[string]*domain.Occupancy, vm *domain.VM, atBudget bool, rng *rand.Rand) (*domain.Host, error) {
	var suitable, capped []*domain.Host
	for _, h := range c.hosts {
		fits, err := c.model.Fits(h, occ[h.ID].Load.Add(vm.Demand))
		if err != nil {
			return nil, err
		}
		if !fits {
			continue
		}
		suitable = append(suitable, h)
		if !atBudget || !occ[h.ID].IsEmpty() {
			capped = append(capped, h)
		}
	}

	candidates := capped
	if len(candidates) == 0 {
		switch c.policy.Fallback {
		case FallbackOverload:
			return c.pickLeastOverloaded(occ, vm, atBudget, rng), nil
		case FallbackWiden:
			candidates = suitable
		case FallbackSkip:
			return nil, nil
		}
		if len(candidates) == 0 {
			return nil, nil
		}
	}

	scores := make([]float64, len(candidates))
	for i, h := range candidates {
		s, err := c.desirability(table, occ[h.ID], h, vm)
		if err != nil {
			return nil, err
		}
		scores[i] = s
	}
	return candidates[choose(rng, c.config.Q0, scores)], nil
}

// pickLeastOverloaded applies the construction rule with 1/(1+overload) as the
// score, letting the ant break feasibility temporarily.
func (c *colony) pickLeastOverloaded(occ map[string]*domain.Occupancy, vm *domain.VM, atBudget bool, rng *rand.Rand) *domain.Host {
	var pool []*domain.Host
	for _, h := range c.hosts {
		if !atBudget || !occ[h.ID].IsEmpty() {
			pool = append(pool, h)
		}
	}
	if len(pool) == 0 {
		pool = c.hosts
	}

	scores := make([]float64, len(pool))
	for i, h := range pool {
		scores[i] = 1 / (1 + c.model.Overload(h, occ[h.ID].Load.Add(vm.Demand)))
	}
	return pool[choose(rng, c.config.Q0, scores)]
}

// desirability is preference x heuristic^beta for placing vm on h.
func (c *colony) desirability(table *pheromone.Table, o *domain.Occupancy, h *domain.Host, vm *domain.VM) (float64, error) {
	cpuW, ramW, err := c.model.Wastage(h, o.Load.Add(vm.Demand))
	if err != nil {
		return 0, err
	}
	eta := c.policy.Heuristic(cpuW, ramW)
	return c.preference(table, o, h, vm) * math.Pow(eta, c.config.Beta), nil
}

// preference is the direct VM-Host trail, or the mean VM-VM trail between vm
// and the host's occupants. Empty hosts read as the initial value.
func (c *colony) preference(table *pheromone.Table, o *domain.Occupancy, h *domain.Host, vm *domain.VM) float64 {
	if o.IsEmpty() {
		return table.Initial()
	}
	if c.policy.Shape == domain.ShapeVMHost {
		return table.Get(vm.ID, h.ID)
	}
	sum := 0.0
	for _, other := range o.VMIDs {
		sum += table.Get(vm.ID, other)
	}
	return sum / float64(len(o.VMIDs))
}

// evaluate scores a solution and its occupancy.
func (c *colony) evaluate(sol domain.Solution, occ map[string]*domain.Occupancy, unplaced []string) (*candidate, error) {
	cand := &candidate{sol: sol, occ: occ, unplaced: unplaced}
	cand.complete = len(unplaced) == 0 && sol.IsComplete(c.batchSet)

	for _, h := range c.snap.Hosts() {
		o := occ[h.ID]
		if o.IsEmpty() {
			continue
		}
		cand.hostsUsed++
		if c.allowed[h.ID] {
			cand.budgetHosts++
		}
		over, err := c.model.IsOverloaded(h, o.Load)
		if err != nil {
			return nil, err
		}
		if over {
			cand.overloaded++
			continue
		}
		cpuW, ramW, err := c.model.Wastage(h, o.Load)
		if err != nil {
			return nil, err
		}
		cand.wastage += cpuW + ramW
	}
	cand.feasible = cand.complete && cand.overloaded == 0
	return cand, nil
}

// evaluateSolution scores a solution built outside an ant, such as a repair.
func (c *colony) evaluateSolution(sol domain.Solution) (*candidate, error) {
	var unplaced []string
	for _, vm := range c.batch {
		if _, ok := sol[vm.ID]; !ok {
			unplaced = append(unplaced, vm.ID)
		}
	}
	return c.evaluate(sol, c.snap.Occupancy(sol, c.batchSet), unplaced)
}

// placement returns where every VM of the snapshot ends up under sol. A nil
// sol keeps every VM where it runs.
func (c *colony) placement(sol domain.Solution) map[string]string {
	out := make(map[string]string)
	if sol == nil {
		for _, vm := range c.snap.VMs() {
			if h := c.snap.CurrentHost(vm.ID); h != "" {
				out[vm.ID] = h
			}
		}
		return out
	}
	for hostID, o := range c.snap.Occupancy(sol, c.batchSet) {
		for _, vmID := range o.VMIDs {
			out[vmID] = hostID
		}
	}
	return out
}

func tier(c *candidate) int {
	switch {
	case c.feasible:
		return 0
	case c.complete:
		return 1
	default:
		return 2
	}
}

// better reports whether a strictly beats b: feasibility first, then fewer
// hosts used, then lower wastage.
func better(a, b *candidate) bool {
	if ta, tb := tier(a), tier(b); ta != tb {
		return ta < tb
	}
	if len(a.unplaced) != len(b.unplaced) {
		return len(a.unplaced) < len(b.unplaced)
	}
	if a.overloaded != b.overloaded {
		return a.overloaded < b.overloaded
	}
	if a.hostsUsed != b.hostsUsed {
		return a.hostsUsed < b.hostsUsed
	}
	return a.wastage < b.wastage
}
