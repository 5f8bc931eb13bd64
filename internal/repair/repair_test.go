package repair

import (
	"testing"

	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/resource"
)

func host(id string, residents ...string) *domain.Host {
	return &domain.Host{
		ID:       id,
		Active:   true,
		Capacity: domain.Resources{Pes: 4, Mips: 4000, RAM: 4096},
		VMIDs:    residents,
	}
}

func vm(id string, pes int, ramMiB float64) *domain.VM {
	return &domain.VM{
		ID:      id,
		Created: true,
		Demand:  domain.Resources{Pes: pes, Mips: float64(pes) * 1000, RAM: ramMiB},
	}
}

func problem(t *testing.T, hosts []*domain.Host, vms []*domain.VM, batch ...string) Problem {
	t.Helper()
	snap, err := domain.NewSnapshot("dc-1", hosts, vms)
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	return Problem{Snapshot: snap, Batch: domain.NewVMSet(batch...), Hosts: snap.Hosts()}
}

func feasible(t *testing.T, m *resource.Model, p Problem, sol domain.Solution) bool {
	t.Helper()
	occ := p.Snapshot.Occupancy(sol, p.Batch)
	for _, h := range p.Hosts {
		over, err := m.IsOverloaded(h, occ[h.ID].Load)
		if err != nil {
			t.Fatalf("IsOverloaded failed: %v", err)
		}
		if over {
			return false
		}
	}
	return true
}

// =============================================================================
// Tests
// =============================================================================

func TestRepairer_Repair_Move(t *testing.T) {
	m := resource.NewModel(resource.Thresholds{Over: 1, Under: 0.1})
	p := problem(t,
		[]*domain.Host{host("h1"), host("h2")},
		[]*domain.VM{vm("a", 3, 1024), vm("b", 2, 1024)},
		"a", "b",
	)
	r := New(m, zap.NewNop())

	sol := domain.Solution{"a": "h1", "b": "h1"}
	if feasible(t, m, p, sol) {
		t.Fatal("Test setup should start infeasible")
	}

	repaired, err := r.Repair(p, sol)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if !feasible(t, m, p, repaired) {
		t.Errorf("Expected repaired solution to be feasible, got %v", repaired)
	}
	if repaired["a"] == repaired["b"] {
		t.Errorf("Expected VMs split across hosts, got %v", repaired)
	}
	if sol["a"] != "h1" || sol["b"] != "h1" {
		t.Error("Repair must not mutate its input")
	}
}

func TestRepairer_Repair_Swap(t *testing.T) {
	m := resource.NewModel(resource.Thresholds{Over: 1, Under: 0.1})
	p := problem(t,
		[]*domain.Host{host("h1"), host("h2", "y", "z")},
		[]*domain.VM{vm("big", 3, 1024), vm("x", 2, 1024), vm("y", 2, 1024), vm("z", 1, 1024)},
		"big", "x",
	)
	r := New(m, zap.NewNop())

	repaired, err := r.Repair(p, domain.Solution{"big": "h1", "x": "h1"})
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if !feasible(t, m, p, repaired) {
		t.Fatalf("Expected feasible result, got %v", repaired)
	}
	if repaired["big"] != "h2" || repaired["y"] != "h1" {
		t.Errorf("Expected big<->y swap, got %v", repaired)
	}

	cleaned, err := r.Clean(p, repaired)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if _, ok := cleaned["y"]; !ok {
		t.Error("Helper move of y is still needed and must survive Clean")
	}
}

func TestRepairer_Repair_BestEffort(t *testing.T) {
	m := resource.NewModel(resource.Thresholds{Over: 1, Under: 0.1})
	p := problem(t,
		[]*domain.Host{host("h1")},
		[]*domain.VM{vm("a", 3, 1024), vm("b", 3, 1024)},
		"a", "b",
	)
	r := New(m, zap.NewNop())

	repaired, err := r.Repair(p, domain.Solution{"a": "h1", "b": "h1"})
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if feasible(t, m, p, repaired) {
		t.Error("Nothing can fix a single host; result must stay infeasible")
	}
	if len(repaired) != 2 {
		t.Errorf("Expected best-effort solution with both entries, got %v", repaired)
	}
}

func TestRepairer_Clean(t *testing.T) {
	m := resource.NewModel(resource.Thresholds{Over: 1, Under: 0.1})
	p := problem(t,
		[]*domain.Host{host("h1", "r1", "r2"), host("h2", "s1")},
		[]*domain.VM{vm("r1", 1, 512), vm("r2", 1, 512), vm("s1", 1, 512), vm("new", 1, 512)},
		"new", "s1",
	)
	r := New(m, zap.NewNop())

	sol := domain.Solution{
		"new": "h1",
		"s1":  "h2", // batch VM staying home keeps its entry
		"r1":  "h1", // non-batch VM mapped to its own host
		"r2":  "h2", // helper move h1 no longer needs
	}
	cleaned, err := r.Clean(p, sol)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}

	want := domain.Solution{"new": "h1", "s1": "h2"}
	if !cleaned.Equal(want) {
		t.Errorf("Expected %v, got %v", want, cleaned)
	}
}
