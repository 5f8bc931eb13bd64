// Package migration orders a raw migration map into a capacity-safe plan and
// resolves circular dependencies between migrations.
package migration

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/resource"
)

// Phase is the state of a sequencing run.
type Phase string

const (
	PhaseCollecting Phase = "COLLECTING"
	PhaseOrdering   Phase = "ORDERING"
	PhaseResolving  Phase = "RESOLVING"
	PhaseFinalized  Phase = "FINALIZED"
)

// Sequencer turns migration maps into ordered plans.
type Sequencer struct {
	model  *resource.Model
	logger *zap.Logger
}

// New creates a sequencer.
func New(model *resource.Model, logger *zap.Logger) *Sequencer {
	return &Sequencer{
		model:  model,
		logger: logger.With(zap.String("component", "migration-sequencer")),
	}
}

type entry struct {
	vm     *domain.VM
	source string
	target string
}

// placement is a VM that is not running yet and lands after the last step.
type placement struct {
	vm     *domain.VM
	target string
}

func (e *entry) edge() domain.MigrationEdge {
	return domain.MigrationEdge{VMID: e.vm.ID, SourceHostID: e.source, TargetHostID: e.target}
}

// run is the mutable state of one Sequence call.
type run struct {
	snap    *domain.Snapshot
	phase   Phase
	occ     map[string]*domain.Occupancy
	pending []*entry
	// placements are admitted against the occupancy left by the steps.
	placements []*placement
	// reserved is the demand of placements per target host; reroutes must
	// leave room for it.
	reserved map[string]domain.Resources
	plan     *domain.MigrationPlan
	// maxCapacity normalizes VM footprints across hosts.
	maxCapacity domain.Resources
}

// Sequence orders migrations (VM ID to target host) against the real
// occupancy of the snapshot and admits placements of VMs that are not running
// yet. Every step of the returned plan fits its target at the moment it runs,
// and the placements fit the occupancy the steps leave behind, since executors
// apply them after the last step. Entries that cannot be scheduled are listed
// in Unresolved and appear in neither Steps nor Placements.
func (s *Sequencer) Sequence(snap *domain.Snapshot, migrations, placements domain.Solution) (*domain.MigrationPlan, error) {
	r := &run{
		snap:     snap,
		phase:    PhaseCollecting,
		occ:      snap.CurrentOccupancy(),
		reserved: make(map[string]domain.Resources),
		plan: &domain.MigrationPlan{
			ID:           uuid.NewString(),
			DatacenterID: snap.DatacenterID,
			Steps:        []domain.MigrationEdge{},
			CreatedAt:    time.Now(),
		},
	}
	for _, h := range snap.Hosts() {
		r.maxCapacity = maxResources(r.maxCapacity, h.Capacity)
	}

	if err := s.collect(r, migrations); err != nil {
		return nil, err
	}
	if err := s.collectPlacements(r, placements); err != nil {
		return nil, err
	}

	for {
		r.phase = PhaseOrdering
		if err := s.order(r); err != nil {
			return nil, err
		}
		if len(r.pending) == 0 {
			break
		}

		r.phase = PhaseResolving
		cycles := findCycles(r.pending)
		if len(cycles) == 0 {
			s.giveUp(r, r.pending, domain.UnresolvedBlocked, nil)
			break
		}

		for _, cycle := range cycles {
			ok, err := s.breakCycle(r, cycle)
			if err != nil {
				return nil, err
			}
			if ok {
				// Back to ordering with the rerouted entry.
				break
			}
			s.giveUp(r, entriesOn(r.pending, cycle), domain.UnresolvedLockInCycle, cycle)
		}
	}

	if err := s.admitPlacements(r); err != nil {
		return nil, err
	}

	r.phase = PhaseFinalized
	if len(r.plan.Unresolved) > 0 {
		s.logger.Warn("Migration plan has unresolved entries",
			zap.String("datacenter_id", snap.DatacenterID),
			zap.Int("unresolved", len(r.plan.Unresolved)),
		)
	}
	s.logger.Info("Migration plan sequenced",
		zap.String("plan_id", r.plan.ID),
		zap.String("datacenter_id", snap.DatacenterID),
		zap.Int("steps", len(r.plan.Steps)),
		zap.Int("placements", len(r.plan.Placements)),
		zap.Int("rerouted", len(r.plan.Rerouted)),
		zap.Int("unresolved", len(r.plan.Unresolved)),
	)
	return r.plan, nil
}

// collect validates the map and queues entries in VM ID order.
func (s *Sequencer) collect(r *run, migrations domain.Solution) error {
	for _, vmID := range migrations.VMIDs() {
		vm, ok := r.snap.VM(vmID)
		if !ok {
			return &domain.InfeasibleInput{Reason: fmt.Sprintf("unknown vm %q in migration map", vmID)}
		}
		source := r.snap.CurrentHost(vmID)
		if !vm.Created || source == "" {
			return &domain.InfeasibleInput{Reason: fmt.Sprintf("vm %q is not running and cannot migrate", vmID)}
		}
		target := migrations[vmID]
		if _, ok := r.snap.Host(target); !ok {
			return &domain.InfeasibleInput{Reason: fmt.Sprintf("unknown target host %q for vm %q", target, vmID)}
		}
		if target == source {
			continue
		}
		r.pending = append(r.pending, &entry{vm: vm, source: source, target: target})
	}
	return nil
}

// collectPlacements validates the placement map. Entries of VMs already on
// their target are kept as no-ops; entries of running VMs that would move
// belong in the migration map.
func (s *Sequencer) collectPlacements(r *run, placements domain.Solution) error {
	for _, vmID := range placements.VMIDs() {
		vm, ok := r.snap.VM(vmID)
		if !ok {
			return &domain.InfeasibleInput{Reason: fmt.Sprintf("unknown vm %q in placement map", vmID)}
		}
		target := placements[vmID]
		if _, ok := r.snap.Host(target); !ok {
			return &domain.InfeasibleInput{Reason: fmt.Sprintf("unknown target host %q for vm %q", target, vmID)}
		}
		current := r.snap.CurrentHost(vmID)
		if current == target {
			r.addPlacement(vmID, target)
			continue
		}
		if vm.Created && current != "" {
			return &domain.InfeasibleInput{Reason: fmt.Sprintf("vm %q runs on %q and must migrate, not be placed", vmID, current)}
		}
		r.placements = append(r.placements, &placement{vm: vm, target: target})
		r.reserved[target] = r.reserved[target].Add(vm.Demand)
	}
	return nil
}

// admitPlacements keeps the placements that fit after every committed step,
// in VM ID order, and reports the rest.
func (s *Sequencer) admitPlacements(r *run) error {
	for _, p := range r.placements {
		ok, err := s.fits(r, p.target, p.vm)
		if err != nil {
			return err
		}
		if !ok {
			r.plan.Unresolved = append(r.plan.Unresolved, domain.UnresolvedMigration{
				Edge:   domain.MigrationEdge{VMID: p.vm.ID, TargetHostID: p.target},
				Reason: domain.UnresolvedPlacementBlocked,
			})
			continue
		}
		r.occ[p.target].Add(p.vm)
		r.addPlacement(p.vm.ID, p.target)
	}
	r.placements = nil
	return nil
}

func (r *run) addPlacement(vmID, target string) {
	if r.plan.Placements == nil {
		r.plan.Placements = make(map[string]string)
	}
	r.plan.Placements[vmID] = target
}

// order commits pending entries whose target fits until a full scan commits
// nothing.
func (s *Sequencer) order(r *run) error {
	for {
		committed := false
		remaining := r.pending[:0]
		for _, e := range r.pending {
			ok, err := s.fits(r, e.target, e.vm)
			if err != nil {
				return err
			}
			if !ok {
				remaining = append(remaining, e)
				continue
			}
			r.occ[e.target].Add(e.vm)
			r.occ[e.source].Remove(e.vm)
			r.plan.Steps = append(r.plan.Steps, e.edge())
			committed = true
		}
		r.pending = remaining
		if !committed || len(r.pending) == 0 {
			return nil
		}
	}
}

func (s *Sequencer) fits(r *run, hostID string, vm *domain.VM) (bool, error) {
	h, _ := r.snap.Host(hostID)
	return s.model.Fits(h, r.occ[hostID].Load.Add(vm.Demand))
}

// fitsReserved also counts the placements still waiting for hostID.
func (s *Sequencer) fitsReserved(r *run, hostID string, vm *domain.VM) (bool, error) {
	h, _ := r.snap.Host(hostID)
	return s.model.Fits(h, r.occ[hostID].Load.Add(r.reserved[hostID]).Add(vm.Demand))
}

// breakCycle reroutes the smallest VM of the loop that can go elsewhere.
func (s *Sequencer) breakCycle(r *run, cycle []string) (bool, error) {
	inLoop := make(map[string]bool, len(cycle))
	for _, h := range cycle {
		inLoop[h] = true
	}

	members := entriesOn(r.pending, cycle)
	sort.SliceStable(members, func(i, j int) bool {
		fi, fj := footprint(members[i].vm, r.maxCapacity), footprint(members[j].vm, r.maxCapacity)
		if fi != fj {
			return fi < fj
		}
		return members[i].vm.ID < members[j].vm.ID
	})

	targets, err := s.rerouteTargets(r, inLoop)
	if err != nil {
		return false, err
	}
	for _, e := range members {
		for _, h := range targets {
			ok, err := s.fitsReserved(r, h.ID, e.vm)
			if err != nil {
				return false, err
			}
			if !ok {
				continue
			}
			r.plan.Rerouted = append(r.plan.Rerouted, domain.Reroute{
				VMID:             e.vm.ID,
				OriginalTargetID: e.target,
				TargetHostID:     h.ID,
			})
			s.logger.Debug("Rerouted migration to break lock-in",
				zap.String("vm_id", e.vm.ID),
				zap.String("original_target", e.target),
				zap.String("target", h.ID),
				zap.Strings("cycle", cycle),
			)
			e.target = h.ID
			return true, nil
		}
	}
	return false, nil
}

// rerouteTargets lists hosts outside the loop: active hosts already running
// VMs by ascending CPU utilization, then unused hosts.
func (s *Sequencer) rerouteTargets(r *run, inLoop map[string]bool) ([]*domain.Host, error) {
	type scored struct {
		host *domain.Host
		util float64
	}
	var busy []scored
	var unused []*domain.Host
	for _, h := range r.snap.Hosts() {
		if inLoop[h.ID] {
			continue
		}
		o := r.occ[h.ID]
		if !h.Active || o.IsEmpty() {
			unused = append(unused, h)
			continue
		}
		if h.Capacity.Sub(o.Load).IsNegative() {
			continue
		}
		u, err := s.model.CPUUtilization(h, o.Load)
		if err != nil {
			return nil, err
		}
		busy = append(busy, scored{h, u})
	}
	sort.SliceStable(busy, func(i, j int) bool { return busy[i].util < busy[j].util })

	out := make([]*domain.Host, 0, len(busy)+len(unused))
	for _, b := range busy {
		out = append(out, b.host)
	}
	return append(out, unused...), nil
}

// giveUp moves entries from pending to the unresolved list.
func (s *Sequencer) giveUp(r *run, entries []*entry, reason domain.UnresolvedReason, cycle []string) {
	drop := make(map[*entry]bool, len(entries))
	for _, e := range entries {
		drop[e] = true
		r.plan.Unresolved = append(r.plan.Unresolved, domain.UnresolvedMigration{
			Edge:   e.edge(),
			Reason: reason,
			Cycle:  append([]string(nil), cycle...),
		})
	}
	remaining := r.pending[:0]
	for _, e := range r.pending {
		if !drop[e] {
			remaining = append(remaining, e)
		}
	}
	r.pending = remaining
}

// footprint is the VM's demand as a fraction of the largest host capacity,
// summed over pes, MIPS and RAM.
func footprint(vm *domain.VM, max domain.Resources) float64 {
	f := 0.0
	if max.Pes > 0 {
		f += float64(vm.Demand.Pes) / float64(max.Pes)
	}
	if max.Mips > 0 {
		f += vm.Demand.Mips / max.Mips
	}
	if max.RAM > 0 {
		f += vm.Demand.RAM / max.RAM
	}
	return f
}

func maxResources(a, b domain.Resources) domain.Resources {
	if b.Pes > a.Pes {
		a.Pes = b.Pes
	}
	if b.Mips > a.Mips {
		a.Mips = b.Mips
	}
	if b.RAM > a.RAM {
		a.RAM = b.RAM
	}
	if b.Storage > a.Storage {
		a.Storage = b.Storage
	}
	if b.Bandwidth > a.Bandwidth {
		a.Bandwidth = b.Bandwidth
	}
	return a
}
