// Package memory provides in-memory repository implementations for development and testing.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"sigs.k8s.io/yaml"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
)

// Ensure Inventory implements optimizer.Inventory and optimizer.PlanExecutor
var (
	_ optimizer.Inventory    = (*Inventory)(nil)
	_ optimizer.PlanExecutor = (*Inventory)(nil)
)

// InventoryFile is the on-disk layout of an inventory snapshot.
type InventoryFile struct {
	Datacenters []DatacenterSpec `json:"datacenters"`
}

// DatacenterSpec lists the hosts and VMs of one datacenter.
type DatacenterSpec struct {
	ID    string         `json:"id"`
	Hosts []*domain.Host `json:"hosts"`
	VMs   []*domain.VM   `json:"vms"`
}

type datacenter struct {
	hosts map[string]*domain.Host
	vms   map[string]*domain.VM
}

// Inventory is an in-memory inventory. Executing a plan against it applies
// the moves, which makes it usable as a simulated datacenter.
type Inventory struct {
	mu   sync.RWMutex
	data map[string]*datacenter
}

// NewInventory creates an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{data: make(map[string]*datacenter)}
}

// LoadInventory reads a YAML inventory snapshot.
func LoadInventory(path string) (*Inventory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	return ParseInventory(raw)
}

// ParseInventory decodes a YAML (or JSON) inventory snapshot.
func ParseInventory(raw []byte) (*Inventory, error) {
	var f InventoryFile
	if err := yaml.UnmarshalStrict(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}
	inv := NewInventory()
	for _, dc := range f.Datacenters {
		if err := inv.Put(dc); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// Put replaces a datacenter. Host membership is authoritative; VM
// back-references are derived from it.
func (inv *Inventory) Put(spec DatacenterSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("datacenter id is required: %w", domain.ErrInvalidArgument)
	}
	// Reuse snapshot validation for duplicate and dangling IDs.
	if _, err := domain.NewSnapshot(spec.ID, spec.Hosts, spec.VMs); err != nil {
		return fmt.Errorf("datacenter %s: %w", spec.ID, err)
	}

	dc := &datacenter{
		hosts: make(map[string]*domain.Host, len(spec.Hosts)),
		vms:   make(map[string]*domain.VM, len(spec.VMs)),
	}
	for _, vm := range spec.VMs {
		dc.vms[vm.ID] = vm.Clone()
	}
	for _, h := range spec.Hosts {
		c := h.Clone()
		dc.hosts[c.ID] = c
		for _, vmID := range c.VMIDs {
			dc.vms[vmID].HostID = c.ID
			dc.vms[vmID].Created = true
		}
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.data[spec.ID] = dc
	return nil
}

// Datacenters returns the known datacenter IDs.
func (inv *Inventory) Datacenters() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	ids := make([]string, 0, len(inv.data))
	for id := range inv.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListHosts returns copies of the hosts of a datacenter ordered by ID.
func (inv *Inventory) ListHosts(ctx context.Context, datacenterID string) ([]*domain.Host, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	dc, ok := inv.data[datacenterID]
	if !ok {
		return nil, nil
	}
	out := make([]*domain.Host, 0, len(dc.hosts))
	for _, h := range dc.hosts {
		out = append(out, h.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListVMs returns copies of the VMs of a datacenter ordered by ID.
func (inv *Inventory) ListVMs(ctx context.Context, datacenterID string) ([]*domain.VM, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	dc, ok := inv.data[datacenterID]
	if !ok {
		return nil, nil
	}
	out := make([]*domain.VM, 0, len(dc.vms))
	for _, vm := range dc.vms {
		out = append(out, vm.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Execute applies the steps of a plan in order, then its placements. Steps
// whose VM is no longer on the recorded source are rejected.
func (inv *Inventory) Execute(ctx context.Context, plan *domain.MigrationPlan) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	dc, ok := inv.data[plan.DatacenterID]
	if !ok {
		return fmt.Errorf("datacenter %s: %w", plan.DatacenterID, domain.ErrNotFound)
	}

	for _, step := range plan.Steps {
		vm, ok := dc.vms[step.VMID]
		if !ok || vm.HostID != step.SourceHostID {
			return fmt.Errorf("vm %s is not on %s: %w", step.VMID, step.SourceHostID, domain.ErrInvalidArgument)
		}
		if err := dc.move(vm, step.TargetHostID); err != nil {
			return err
		}
	}

	vmIDs := make([]string, 0, len(plan.Placements))
	for vmID := range plan.Placements {
		vmIDs = append(vmIDs, vmID)
	}
	sort.Strings(vmIDs)
	for _, vmID := range vmIDs {
		vm, ok := dc.vms[vmID]
		if !ok {
			return fmt.Errorf("vm %s is not registered: %w", vmID, domain.ErrNotFound)
		}
		if err := dc.move(vm, plan.Placements[vmID]); err != nil {
			return err
		}
		vm.Created = true
	}
	return nil
}

// AddVM registers a pending VM. Placements only apply to registered VMs.
func (inv *Inventory) AddVM(datacenterID string, vm *domain.VM) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	dc, ok := inv.data[datacenterID]
	if !ok {
		return fmt.Errorf("datacenter %s: %w", datacenterID, domain.ErrNotFound)
	}
	if _, exists := dc.vms[vm.ID]; exists {
		return domain.ErrAlreadyExists
	}
	c := vm.Clone()
	c.Created = false
	c.HostID = ""
	dc.vms[c.ID] = c
	return nil
}

func (dc *datacenter) move(vm *domain.VM, targetID string) error {
	target, ok := dc.hosts[targetID]
	if !ok {
		return fmt.Errorf("host %s: %w", targetID, domain.ErrNotFound)
	}
	if vm.HostID == targetID {
		return nil
	}
	if source, ok := dc.hosts[vm.HostID]; ok {
		for i, id := range source.VMIDs {
			if id == vm.ID {
				source.VMIDs = append(source.VMIDs[:i], source.VMIDs[i+1:]...)
				break
			}
		}
	}
	target.VMIDs = append(target.VMIDs, vm.ID)
	target.Active = true
	vm.HostID = targetID
	return nil
}
