// Package scheduler provides tests for the construction engine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/objective"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/pheromone"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/resource"
)

var variants = []Variant{VariantLiu2016, VariantLiu2017, VariantOurAcs}

func testConfig(v Variant) Config {
	cfg := DefaultConfig()
	cfg.Variant = string(v)
	cfg.Generations = 15
	cfg.Ants = 8
	return cfg
}

func newEngine(t *testing.T, cfg Config, over float64) *Engine {
	t.Helper()
	model := resource.NewModel(resource.Thresholds{Over: over, Under: 0.1})
	e, err := New(cfg, model, objective.DefaultLinearPowerModel(), zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

// scenarioA is three pending VMs (1, 2 and 4 cores / 1, 2 and 2 GB) and two
// 4-core 4 GB hosts.
func scenarioA(t *testing.T) (*domain.Snapshot, []string) {
	t.Helper()
	hosts := []*domain.Host{
		{ID: "h1", Active: true, Capacity: domain.Resources{Pes: 4, Mips: 4000, RAM: 4096}},
		{ID: "h2", Active: true, Capacity: domain.Resources{Pes: 4, Mips: 4000, RAM: 4096}},
	}
	vms := []*domain.VM{
		{ID: "vm-1", Demand: domain.Resources{Pes: 1, Mips: 800, RAM: 1024}},
		{ID: "vm-2", Demand: domain.Resources{Pes: 2, Mips: 1600, RAM: 2048}},
		{ID: "vm-4", Demand: domain.Resources{Pes: 4, Mips: 3200, RAM: 2048}},
	}
	snap, err := domain.NewSnapshot("dc-a", hosts, vms)
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	return snap, []string{"vm-1", "vm-2", "vm-4"}
}

// randomInstance builds a pending batch and idle hosts with ample capacity.
func randomInstance(t *testing.T, seed uint64, nVMs, nHosts int) (*domain.Snapshot, []string) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	var hosts []*domain.Host
	for i := 0; i < nHosts; i++ {
		hosts = append(hosts, &domain.Host{
			ID:       fmt.Sprintf("host-%02d", i),
			Active:   i%2 == 0,
			Capacity: domain.Resources{Pes: 8, Mips: 8000, RAM: 16384, Storage: 500, Bandwidth: 10000},
		})
	}
	var vms []*domain.VM
	var batch []string
	for i := 0; i < nVMs; i++ {
		id := fmt.Sprintf("vm-%02d", i)
		pes := 1 + rng.Intn(2)
		vms = append(vms, &domain.VM{
			ID: id,
			Demand: domain.Resources{
				Pes:       pes,
				Mips:      float64(pes) * float64(500+rng.Intn(500)),
				RAM:       float64(512 * (1 + rng.Intn(4))),
				Storage:   10,
				Bandwidth: 100,
			},
		})
		batch = append(batch, id)
	}
	snap, err := domain.NewSnapshot("dc-r", hosts, vms)
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	return snap, batch
}

// assertFeasible checks capacity and threshold on every host under sol.
func assertFeasible(t *testing.T, snap *domain.Snapshot, batch []string, sol domain.Solution, over float64) {
	t.Helper()
	set := domain.NewVMSet(batch...)
	if !sol.IsComplete(set) {
		t.Fatalf("Solution %v is not complete", sol)
	}
	for _, h := range snap.Hosts() {
		var load domain.Resources
		for vmID, hostID := range sol {
			if hostID == h.ID {
				vm, _ := snap.VM(vmID)
				load = load.Add(vm.Demand)
			}
		}
		if h.Capacity.Sub(load).IsNegative() {
			t.Errorf("Host %s over capacity: load %+v capacity %+v", h.ID, load, h.Capacity)
		}
		if h.Capacity.Mips > 0 && resource.Round(load.Mips/h.Capacity.Mips) > over {
			t.Errorf("Host %s CPU utilization above %v", h.ID, over)
		}
		if h.Capacity.RAM > 0 && resource.Round(load.RAM/h.Capacity.RAM) > over {
			t.Errorf("Host %s RAM utilization above %v", h.ID, over)
		}
	}
}

func hostsUsed(sol domain.Solution) int {
	used := make(map[string]struct{})
	for _, h := range sol {
		used[h] = struct{}{}
	}
	return len(used)
}

// =============================================================================
// Tests
// =============================================================================

func TestEngine_Run_ScenarioA(t *testing.T) {
	for _, v := range variants {
		t.Run(string(v), func(t *testing.T) {
			snap, batch := scenarioA(t)
			e := newEngine(t, testConfig(v), 0.9)

			res, err := e.Run(context.Background(), Input{
				Snapshot: snap,
				Batch:    batch,
				RNG:      rand.New(rand.NewSource(1)),
			})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Best == nil {
				t.Fatal("Expected a feasible solution")
			}
			if n := hostsUsed(res.Best); n > 2 {
				t.Errorf("Expected at most 2 hosts, got %d", n)
			}
			assertFeasible(t, snap, batch, res.Best, 0.9)
			if res.Best["vm-4"] == res.Best["vm-1"] || res.Best["vm-4"] == res.Best["vm-2"] {
				t.Errorf("4-core VM must run alone, got %v", res.Best)
			}
		})
	}
}

func TestEngine_Run_FeasibilityInvariant(t *testing.T) {
	for _, v := range variants {
		t.Run(string(v), func(t *testing.T) {
			snap, batch := randomInstance(t, 11, 24, 10)
			e := newEngine(t, testConfig(v), 0.8)

			res, err := e.Run(context.Background(), Input{Snapshot: snap, Batch: batch, RNG: rand.New(rand.NewSource(3))})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Best == nil {
				t.Fatal("Expected a feasible solution on an ample instance")
			}
			assertFeasible(t, snap, batch, res.Best, 0.8)
			for _, entry := range res.Archive {
				assertFeasible(t, snap, batch, entry.Solution, 0.8)
			}
			if e.Policy().UseArchive && len(res.Archive) == 0 {
				t.Error("Expected archived solutions")
			}
		})
	}
}

func TestEngine_Run_Deterministic(t *testing.T) {
	for _, v := range variants {
		t.Run(string(v), func(t *testing.T) {
			snap, batch := randomInstance(t, 5, 16, 8)

			run := func(parallel bool) *Result {
				cfg := testConfig(v)
				cfg.Parallel = parallel
				res, err := newEngine(t, cfg, 0.9).Run(context.Background(), Input{
					Snapshot: snap,
					Batch:    batch,
					RNG:      rand.New(rand.NewSource(99)),
				})
				if err != nil {
					t.Fatalf("Run failed: %v", err)
				}
				return res
			}

			seq, par := run(false), run(true)
			if diff := cmp.Diff(seq.Best, par.Best); diff != "" {
				t.Errorf("Parallel run differs from sequential (-seq +par):\n%s", diff)
			}
			if diff := cmp.Diff(seq.Archive, par.Archive); diff != "" {
				t.Errorf("Archives differ (-seq +par):\n%s", diff)
			}
		})
	}
}

func TestEngine_Run_DeadlineStopsEarly(t *testing.T) {
	snap, batch := scenarioA(t)
	e := newEngine(t, testConfig(VariantOurAcs), 0.9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Run(ctx, Input{Snapshot: snap, Batch: batch, RNG: rand.New(rand.NewSource(1))})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Stop != StopDeadline || res.Generations != 0 {
		t.Errorf("Expected immediate deadline stop, got %s after %d generations", res.Stop, res.Generations)
	}
	if res.Best != nil {
		t.Error("Expected empty result when no generation ran")
	}
}

func TestEngine_Run_NoFeasibleSolution(t *testing.T) {
	for _, v := range variants {
		t.Run(string(v), func(t *testing.T) {
			hosts := []*domain.Host{{ID: "h1", Active: true, Capacity: domain.Resources{Pes: 2, Mips: 2000, RAM: 2048}}}
			vms := []*domain.VM{{ID: "huge", Demand: domain.Resources{Pes: 4, Mips: 4000, RAM: 4096}}}
			snap, err := domain.NewSnapshot("dc-x", hosts, vms)
			if err != nil {
				t.Fatalf("NewSnapshot failed: %v", err)
			}

			res, err := newEngine(t, testConfig(v), 0.9).Run(context.Background(), Input{
				Snapshot: snap,
				Batch:    []string{"huge"},
				RNG:      rand.New(rand.NewSource(1)),
			})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Best != nil {
				t.Errorf("Expected no solution, got %v", res.Best)
			}
			if res.State == nil {
				t.Error("Expected exported state even without a solution")
			}
		})
	}
}

func TestEngine_Run_InvalidInput(t *testing.T) {
	snap, _ := scenarioA(t)
	e := newEngine(t, testConfig(VariantLiu2017), 0.9)

	tests := []struct {
		name string
		in   Input
	}{
		{"empty batch", Input{Snapshot: snap}},
		{"unknown vm", Input{Snapshot: snap, Batch: []string{"nope"}}},
		{"duplicate vm", Input{Snapshot: snap, Batch: []string{"vm-1", "vm-1"}}},
		{"unknown host", Input{Snapshot: snap, Batch: []string{"vm-1"}, Hosts: []string{"h9"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Run(context.Background(), tt.in)
			var infeasible *domain.InfeasibleInput
			if !errors.As(err, &infeasible) {
				t.Errorf("Expected InfeasibleInput, got %v", err)
			}
		})
	}
}

func TestEngine_Run_WarmStart(t *testing.T) {
	for _, v := range variants {
		t.Run(string(v), func(t *testing.T) {
			snap, batch := scenarioA(t)
			e := newEngine(t, testConfig(v), 0.9)

			first, err := e.Run(context.Background(), Input{Snapshot: snap, Batch: batch, RNG: rand.New(rand.NewSource(1))})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if first.Inherited != 0 {
				t.Errorf("Cold start inherited %d trails", first.Inherited)
			}
			if first.State.Sessions != 1 || first.State.Variant != string(v) {
				t.Fatalf("Unexpected exported state %+v", first.State)
			}

			second, err := e.Run(context.Background(), Input{Snapshot: snap, Batch: batch, State: first.State, RNG: rand.New(rand.NewSource(2))})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if second.Inherited == 0 {
				t.Error("Expected warm start to inherit colocated trails")
			}
			if second.State.Sessions != 2 {
				t.Errorf("Expected session 2, got %d", second.State.Sessions)
			}
		})
	}
}

func TestResult_StateFor(t *testing.T) {
	snap, batch := scenarioA(t)
	e := newEngine(t, testConfig(VariantOurAcs), 0.9)

	res, err := e.Run(context.Background(), Input{Snapshot: snap, Batch: batch, RNG: rand.New(rand.NewSource(3))})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Best == nil {
		t.Fatal("Expected a feasible best solution")
	}

	// The mirrored assignment is just as feasible; a selector may prefer it.
	mirror := map[string]string{"h1": "h2", "h2": "h1"}
	chosen := domain.Solution{}
	for vmID, hostID := range res.Best {
		chosen[vmID] = mirror[hostID]
	}

	st := res.StateFor(chosen)
	if diff := cmp.Diff(map[string]string(chosen), st.Placement); diff != "" {
		t.Errorf("State placement is not the chosen solution (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(res.State.Trails, st.Trails); diff != "" {
		t.Errorf("Trails must not depend on the chosen solution (-want +got):\n%s", diff)
	}
	if st.Sessions != 1 {
		t.Errorf("Expected session 1, got %d", st.Sessions)
	}

	if placed := res.StateFor(nil).Placement; len(placed) != 0 {
		t.Errorf("Pending VMs have no residence to record, got %v", placed)
	}
}

func TestEngine_Run_PhaseSequence(t *testing.T) {
	snap, batch := scenarioA(t)
	cfg := testConfig(VariantOurAcs)
	cfg.Generations = 2
	cfg.Ants = 2
	e := newEngine(t, cfg, 0.9)

	var phases []Phase
	_, err := e.Run(context.Background(), Input{
		Snapshot: snap,
		Batch:    batch,
		RNG:      rand.New(rand.NewSource(1)),
		Observer: func(p Progress) { phases = append(phases, p.Phase) },
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []Phase{
		PhaseIdle,
		PhaseIterating, PhaseAntConstructing, PhaseAntConstructing, PhaseScoring, PhaseGenerationDone,
		PhaseIterating, PhaseAntConstructing, PhaseAntConstructing, PhaseScoring, PhaseGenerationDone,
		PhaseTerminal,
	}
	if diff := cmp.Diff(want, phases); diff != "" {
		t.Errorf("Unexpected phase sequence (-want +got):\n%s", diff)
	}
}

func TestColony_Pick_Fallbacks(t *testing.T) {
	hosts := []*domain.Host{
		{ID: "h1", Active: true, Capacity: domain.Resources{Pes: 4, Mips: 4000, RAM: 4096}, VMIDs: []string{"r1"}},
		{ID: "h2", Active: true, Capacity: domain.Resources{Pes: 4, Mips: 4000, RAM: 4096}},
	}
	vms := []*domain.VM{
		{ID: "r1", Created: true, Demand: domain.Resources{Pes: 3, Mips: 3000, RAM: 1024}},
		{ID: "new", Demand: domain.Resources{Pes: 2, Mips: 2000, RAM: 1024}},
	}
	snap, err := domain.NewSnapshot("dc-f", hosts, vms)
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	model := resource.NewModel(resource.Thresholds{Over: 0.9, Under: 0.1})
	newVM, _ := snap.VM("new")

	for _, tt := range []struct {
		variant Variant
		want    string
	}{
		{VariantLiu2016, "h1"}, // overloads the only open host
		{VariantLiu2017, "h2"}, // widens past the budget
		{VariantOurAcs, ""},    // leaves the VM unplaced
	} {
		t.Run(string(tt.variant), func(t *testing.T) {
			policy, _ := PolicyFor(tt.variant)
			cfg := testConfig(tt.variant)
			cfg.Q0 = 1
			col := &colony{
				config:   cfg,
				policy:   policy,
				model:    model,
				snap:     snap,
				batchSet: domain.NewVMSet("new"),
				hosts:    snap.Hosts(),
				allowed:  map[string]bool{"h1": true, "h2": true},
			}
			col.base = snap.Occupancy(nil, col.batchSet)
			table, _ := pheromone.New(policy.Shape, 2)

			// Budget of one host, already used by h1.
			h, err := col.pick(table, cloneOccupancy(col.base), newVM, true, rand.New(rand.NewSource(1)))
			if err != nil {
				t.Fatalf("pick failed: %v", err)
			}
			got := ""
			if h != nil {
				got = h.ID
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestChoose(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	scores := []float64{0.1, 0.7, 0.2}

	for i := 0; i < 20; i++ {
		if got := choose(rng, 1, scores); got != 1 {
			t.Fatalf("Exploitation must pick the argmax, got %d", got)
		}
	}

	counts := make([]int, len(scores))
	for i := 0; i < 5000; i++ {
		counts[choose(rng, 0, scores)]++
	}
	if !(counts[1] > counts[2] && counts[2] > counts[0]) {
		t.Errorf("Roulette frequencies %v do not follow the scores", counts)
	}

	if got := choose(rng, 0.5, nil); got != -1 {
		t.Errorf("Expected -1 for no candidates, got %d", got)
	}
	if got := roulette(rng, []float64{0, 0}); got < 0 || got > 1 {
		t.Errorf("Degenerate roulette returned %d", got)
	}
}

func TestShrink(t *testing.T) {
	tests := []struct{ budget, used, want int }{
		{10, 4, 3},
		{3, 5, 2},
		{1, 1, 1},
		{2, 1, 1},
	}
	for _, tt := range tests {
		if got := shrink(tt.budget, tt.used); got != tt.want {
			t.Errorf("shrink(%d, %d) = %d, want %d", tt.budget, tt.used, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	mutate := func(f func(*Config)) Config {
		c := DefaultConfig()
		f(&c)
		return c
	}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown variant", mutate(func(c *Config) { c.Variant = "nsga2" })},
		{"zero generations", mutate(func(c *Config) { c.Generations = 0 })},
		{"zero ants", mutate(func(c *Config) { c.Ants = 0 })},
		{"q0 above one", mutate(func(c *Config) { c.Q0 = 1.5 })},
		{"non-positive beta", mutate(func(c *Config) { c.Beta = 0 })},
		{"local decay of one", mutate(func(c *Config) { c.LocalDecay = 1 })},
		{"global decay of zero", mutate(func(c *Config) { c.GlobalDecay = 0 })},
		{"archive required", mutate(func(c *Config) { c.ArchiveSize = 0 })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfgErr *domain.ConfigError
			if err := tt.cfg.Validate(); !errors.As(err, &cfgErr) {
				t.Errorf("Expected ConfigError, got %v", err)
			}
		})
	}

	liu := mutate(func(c *Config) { c.Variant = string(VariantLiu2016); c.ArchiveSize = 0 })
	if err := liu.Validate(); err != nil {
		t.Errorf("liu2016 does not need an archive: %v", err)
	}
}
