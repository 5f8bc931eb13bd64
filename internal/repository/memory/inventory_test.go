package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/migration"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/resource"
)

const inventoryYAML = `
datacenters:
  - id: dc-1
    hosts:
      - id: h1
        active: true
        capacity: {pes: 4, mips: 4000, ram_mib: 4096}
        vm_ids: [a, b]
      - id: h2
        active: false
        capacity: {pes: 4, mips: 4000, ram_mib: 4096}
    vms:
      - id: a
        demand: {pes: 1, mips: 1000, ram_mib: 1024}
      - id: b
        demand: {pes: 2, mips: 2000, ram_mib: 1024}
`

func TestParseInventory(t *testing.T) {
	inv, err := ParseInventory([]byte(inventoryYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"dc-1"}, inv.Datacenters())

	ctx := context.Background()
	hosts, err := inv.ListHosts(ctx, "dc-1")
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, []string{"a", "b"}, hosts[0].VMIDs)
	assert.False(t, hosts[1].Active)

	vms, err := inv.ListVMs(ctx, "dc-1")
	require.NoError(t, err)
	require.Len(t, vms, 2)
	assert.Equal(t, "h1", vms[0].HostID, "back-reference comes from host membership")
	assert.True(t, vms[0].Created)

	hosts[0].VMIDs = nil
	again, _ := inv.ListHosts(ctx, "dc-1")
	assert.Len(t, again[0].VMIDs, 2, "ListHosts must return copies")
}

func TestParseInventory_Invalid(t *testing.T) {
	_, err := ParseInventory([]byte(`datacenters: [{id: dc-1, hosts: [{id: h1, vm_ids: [ghost]}]}]`))
	var infeasible *domain.InfeasibleInput
	assert.True(t, errors.As(err, &infeasible))

	_, err = ParseInventory([]byte(`datacenters: [{hosts: []}]`))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = ParseInventory([]byte(`datacenters: [{id: dc-1, unknown: 1}]`))
	assert.Error(t, err)
}

func TestInventory_UnknownDatacenter(t *testing.T) {
	inv := NewInventory()
	hosts, err := inv.ListHosts(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, hosts)
}

func TestInventory_Execute(t *testing.T) {
	inv, err := ParseInventory([]byte(inventoryYAML))
	require.NoError(t, err)
	require.NoError(t, inv.AddVM("dc-1", &domain.VM{ID: "new", Demand: domain.Resources{Pes: 1, Mips: 500, RAM: 512}}))
	assert.ErrorIs(t, inv.AddVM("dc-1", &domain.VM{ID: "a"}), domain.ErrAlreadyExists)

	ctx := context.Background()
	plan := &domain.MigrationPlan{
		DatacenterID: "dc-1",
		Steps:        []domain.MigrationEdge{{VMID: "b", SourceHostID: "h1", TargetHostID: "h2"}},
		Placements:   map[string]string{"new": "h1"},
	}
	require.NoError(t, inv.Execute(ctx, plan))

	hosts, _ := inv.ListHosts(ctx, "dc-1")
	assert.ElementsMatch(t, []string{"a", "new"}, hosts[0].VMIDs)
	assert.Equal(t, []string{"b"}, hosts[1].VMIDs)
	assert.True(t, hosts[1].Active, "receiving a VM switches the host on")

	vms, _ := inv.ListVMs(ctx, "dc-1")
	for _, vm := range vms {
		if vm.ID == "new" {
			assert.True(t, vm.Created)
			assert.Equal(t, "h1", vm.HostID)
		}
	}

	// Replaying the step no longer matches the source.
	err = inv.Execute(ctx, plan)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestInventory_ExecuteUnregistered(t *testing.T) {
	inv, err := ParseInventory([]byte(inventoryYAML))
	require.NoError(t, err)

	err = inv.Execute(context.Background(), &domain.MigrationPlan{
		DatacenterID: "dc-1",
		Placements:   map[string]string{"ghost": "h1"},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = inv.Execute(context.Background(), &domain.MigrationPlan{DatacenterID: "dc-9"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func demand(pes int) domain.Resources {
	return domain.Resources{Pes: pes, Mips: float64(pes) * 1000, RAM: float64(pes) * 1024}
}

// swapInventory holds x(a3, fx1) and y(b1, fy1), 4-core hosts where a and b
// want to trade places, plus any extra hosts and resident VMs.
func swapInventory(t *testing.T, extraHosts []*domain.Host, extraVMs []*domain.VM) *Inventory {
	t.Helper()
	capacity := domain.Resources{Pes: 4, Mips: 4000, RAM: 4096}
	hosts := append([]*domain.Host{
		{ID: "x", Active: true, Capacity: capacity, VMIDs: []string{"a", "fx"}},
		{ID: "y", Active: true, Capacity: capacity, VMIDs: []string{"b", "fy"}},
	}, extraHosts...)
	vms := append([]*domain.VM{
		{ID: "a", Demand: demand(3)},
		{ID: "b", Demand: demand(1)},
		{ID: "fx", Demand: demand(1)},
		{ID: "fy", Demand: demand(1)},
	}, extraVMs...)

	inv := NewInventory()
	require.NoError(t, inv.Put(DatacenterSpec{ID: "dc-1", Hosts: hosts, VMs: vms}))
	return inv
}

// sequenceAndExecute sequences sol against the inventory and applies the
// resulting plan to it.
func sequenceAndExecute(t *testing.T, inv *Inventory, model *resource.Model, sol domain.Solution) *domain.MigrationPlan {
	t.Helper()
	ctx := context.Background()
	hosts, err := inv.ListHosts(ctx, "dc-1")
	require.NoError(t, err)
	vms, err := inv.ListVMs(ctx, "dc-1")
	require.NoError(t, err)
	snap, err := domain.NewSnapshot("dc-1", hosts, vms)
	require.NoError(t, err)

	migrations, placements := sol.Split(snap)
	plan, err := migration.New(model, zap.NewNop()).Sequence(snap, migrations, placements)
	require.NoError(t, err)
	require.NoError(t, inv.Execute(ctx, plan))
	return plan
}

func assertNoOverload(t *testing.T, inv *Inventory, model *resource.Model) {
	t.Helper()
	ctx := context.Background()
	hosts, err := inv.ListHosts(ctx, "dc-1")
	require.NoError(t, err)
	vms, err := inv.ListVMs(ctx, "dc-1")
	require.NoError(t, err)
	byID := make(map[string]*domain.VM, len(vms))
	for _, vm := range vms {
		byID[vm.ID] = vm
	}
	for _, h := range hosts {
		var residents []*domain.VM
		for _, id := range h.VMIDs {
			residents = append(residents, byID[id])
		}
		load := resource.Load(residents)
		over, err := model.IsOverloaded(h, load)
		require.NoError(t, err)
		assert.False(t, over, "host %s overloaded with %+v", h.ID, load)
	}
}

func vmHost(t *testing.T, inv *Inventory, vmID string) string {
	t.Helper()
	vms, err := inv.ListVMs(context.Background(), "dc-1")
	require.NoError(t, err)
	for _, vm := range vms {
		if vm.ID == vmID {
			return vm.HostID
		}
	}
	t.Fatalf("vm %s not found", vmID)
	return ""
}

func TestInventory_Execute_UnresolvedLockInKeepsHostsSafe(t *testing.T) {
	model := resource.NewModel(resource.Thresholds{Over: 1, Under: 0.1})
	inv := swapInventory(t, nil, nil)
	require.NoError(t, inv.AddVM("dc-1", &domain.VM{ID: "p", Demand: demand(2)}))

	// Feasible as a whole, but p only fits x after a leaves.
	plan := sequenceAndExecute(t, inv, model, domain.Solution{"a": "y", "b": "x", "p": "x"})

	assert.Empty(t, plan.Steps)
	assert.NotContains(t, plan.Placements, "p")
	assert.Len(t, plan.Unresolved, 3)
	assert.Equal(t, "x", vmHost(t, inv, "a"))
	assert.Empty(t, vmHost(t, inv, "p"), "held-back VM stays pending")
	assertNoOverload(t, inv, model)
}

func TestInventory_Execute_RerouteKeepsHostsSafe(t *testing.T) {
	model := resource.NewModel(resource.Thresholds{Over: 1, Under: 0.1})
	capacity := domain.Resources{Pes: 4, Mips: 4000, RAM: 4096}
	inv := swapInventory(t,
		[]*domain.Host{
			{ID: "w", Active: true, Capacity: capacity, VMIDs: []string{"fw"}},
			{ID: "idle", Capacity: capacity},
		},
		[]*domain.VM{{ID: "fw", Demand: demand(2)}},
	)
	require.NoError(t, inv.AddVM("dc-1", &domain.VM{ID: "p", Demand: demand(2)}))
	require.NoError(t, inv.AddVM("dc-1", &domain.VM{ID: "q", Demand: demand(2)}))

	plan := sequenceAndExecute(t, inv, model, domain.Solution{"a": "y", "b": "x", "p": "x", "q": "w"})

	require.Len(t, plan.Rerouted, 1)
	assert.Equal(t, "idle", plan.Rerouted[0].TargetHostID, "w's spare room belongs to q")
	assert.Empty(t, plan.Unresolved)
	assert.Equal(t, "y", vmHost(t, inv, "a"))
	assert.Equal(t, "idle", vmHost(t, inv, "b"))
	assert.Equal(t, "x", vmHost(t, inv, "p"))
	assert.Equal(t, "w", vmHost(t, inv, "q"))
	assertNoOverload(t, inv, model)
}
