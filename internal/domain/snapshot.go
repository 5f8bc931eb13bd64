package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Snapshot is the consistent view of one datacenter captured before an
// optimization call. The algorithm never re-reads live inventory mid-run.
type Snapshot struct {
	DatacenterID string
	CapturedAt   time.Time

	hosts     []*Host
	hostIndex map[string]*Host
	vms       map[string]*VM
	residence map[string]string
}

// NewSnapshot deep-copies hosts and VMs into an immutable snapshot. Host
// membership wins over the VM back-reference when the two disagree.
func NewSnapshot(datacenterID string, hosts []*Host, vms []*VM) (*Snapshot, error) {
	s := &Snapshot{
		DatacenterID: datacenterID,
		CapturedAt:   time.Now(),
		hostIndex:    make(map[string]*Host, len(hosts)),
		vms:          make(map[string]*VM, len(vms)),
		residence:    make(map[string]string),
	}

	for _, vm := range vms {
		if vm.ID == "" {
			return nil, &InfeasibleInput{Reason: "vm with empty id"}
		}
		if strings.Contains(vm.ID, pairSeparator) {
			return nil, &InfeasibleInput{Reason: fmt.Sprintf("vm id %q contains %q", vm.ID, pairSeparator)}
		}
		if _, dup := s.vms[vm.ID]; dup {
			return nil, &InfeasibleInput{Reason: fmt.Sprintf("duplicate vm %q", vm.ID)}
		}
		s.vms[vm.ID] = vm.Clone()
	}

	for _, h := range hosts {
		if h.ID == "" {
			return nil, &InfeasibleInput{Reason: "host with empty id"}
		}
		if strings.Contains(h.ID, pairSeparator) {
			return nil, &InfeasibleInput{Reason: fmt.Sprintf("host id %q contains %q", h.ID, pairSeparator)}
		}
		if _, dup := s.hostIndex[h.ID]; dup {
			return nil, &InfeasibleInput{Reason: fmt.Sprintf("duplicate host %q", h.ID)}
		}
		c := h.Clone()
		for _, vmID := range c.VMIDs {
			if _, ok := s.vms[vmID]; !ok {
				return nil, &InfeasibleInput{Reason: fmt.Sprintf("host %q lists unknown vm %q", h.ID, vmID)}
			}
			if other, taken := s.residence[vmID]; taken {
				return nil, &InfeasibleInput{Reason: fmt.Sprintf("vm %q resident on both %q and %q", vmID, other, h.ID)}
			}
			s.residence[vmID] = c.ID
		}
		s.hosts = append(s.hosts, c)
		s.hostIndex[c.ID] = c
	}
	sort.Slice(s.hosts, func(i, j int) bool { return s.hosts[i].ID < s.hosts[j].ID })

	// VMs that only carry a back-reference still count as resident there.
	for _, vm := range s.vms {
		if _, ok := s.residence[vm.ID]; ok || vm.HostID == "" {
			continue
		}
		h, ok := s.hostIndex[vm.HostID]
		if !ok {
			continue
		}
		h.VMIDs = append(h.VMIDs, vm.ID)
		s.residence[vm.ID] = h.ID
	}
	for vmID, hostID := range s.residence {
		s.vms[vmID].HostID = hostID
	}

	return s, nil
}

// Hosts returns the hosts ordered by ID.
func (s *Snapshot) Hosts() []*Host {
	return s.hosts
}

// Host looks up a host by ID.
func (s *Snapshot) Host(id string) (*Host, bool) {
	h, ok := s.hostIndex[id]
	return h, ok
}

// VM looks up a VM by ID.
func (s *Snapshot) VM(id string) (*VM, bool) {
	vm, ok := s.vms[id]
	return vm, ok
}

// VMs returns every VM ordered by ID.
func (s *Snapshot) VMs() []*VM {
	out := make([]*VM, 0, len(s.vms))
	for _, vm := range s.vms {
		out = append(out, vm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CurrentHost returns the host a VM runs on, or "" when it has none.
func (s *Snapshot) CurrentHost(vmID string) string {
	return s.residence[vmID]
}

// Residents returns the VMs currently resident on a host ordered by ID.
func (s *Snapshot) Residents(hostID string) []*VM {
	h, ok := s.hostIndex[hostID]
	if !ok {
		return nil
	}
	ids := append([]string(nil), h.VMIDs...)
	sort.Strings(ids)
	out := make([]*VM, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.vms[id])
	}
	return out
}

// Occupancy is the tentative set of VMs on a host and their summed demand.
type Occupancy struct {
	VMIDs []string
	Load  Resources
}

// Add places a VM on the occupancy.
func (o *Occupancy) Add(vm *VM) {
	o.VMIDs = append(o.VMIDs, vm.ID)
	o.Load = o.Load.Add(vm.Demand)
}

// Remove takes a VM off the occupancy. It is a no-op for absent VMs.
func (o *Occupancy) Remove(vm *VM) {
	for i, id := range o.VMIDs {
		if id == vm.ID {
			o.VMIDs = append(o.VMIDs[:i], o.VMIDs[i+1:]...)
			o.Load = o.Load.Sub(vm.Demand)
			return
		}
	}
}

// Has reports whether the VM is part of the occupancy.
func (o *Occupancy) Has(vmID string) bool {
	for _, id := range o.VMIDs {
		if id == vmID {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no VM occupies the host.
func (o *Occupancy) IsEmpty() bool {
	return len(o.VMIDs) == 0
}

// Clone returns a copy of the occupancy.
func (o *Occupancy) Clone() *Occupancy {
	return &Occupancy{VMIDs: append([]string(nil), o.VMIDs...), Load: o.Load}
}

// Occupancy computes the tentative occupancy of every host under sol. VMs in
// batch are detached from their current host and count only where sol puts
// them; other residents stay unless sol moves them too.
func (s *Snapshot) Occupancy(sol Solution, batch VMSet) map[string]*Occupancy {
	occ := make(map[string]*Occupancy, len(s.hosts))
	for _, h := range s.hosts {
		occ[h.ID] = &Occupancy{}
	}
	for _, h := range s.hosts {
		for _, vm := range s.Residents(h.ID) {
			if batch.Has(vm.ID) {
				continue
			}
			if _, moved := sol[vm.ID]; moved {
				continue
			}
			occ[h.ID].Add(vm)
		}
	}
	for _, vmID := range sol.VMIDs() {
		o, ok := occ[sol[vmID]]
		if !ok {
			continue
		}
		if vm, known := s.vms[vmID]; known {
			o.Add(vm)
		}
	}
	return occ
}

// CurrentOccupancy returns the real occupancy of every host before any move.
func (s *Snapshot) CurrentOccupancy() map[string]*Occupancy {
	return s.Occupancy(nil, nil)
}
