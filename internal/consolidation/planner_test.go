package consolidation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/resource"
)

func host(id string, residents ...string) *domain.Host {
	return &domain.Host{
		ID:       id,
		Active:   true,
		Capacity: domain.Resources{Pes: 4, Mips: 4000, RAM: 8192},
		VMIDs:    residents,
	}
}

func vm(id string, mips float64) *domain.VM {
	return &domain.VM{
		ID:      id,
		Created: true,
		Demand:  domain.Resources{Pes: 1, Mips: mips, RAM: 1024},
	}
}

func datacenter(t *testing.T) *domain.Snapshot {
	t.Helper()
	hosts := []*domain.Host{
		host("busy", "big", "mid", "small"), // 3800 of 4000 MIPS
		host("quiet", "tiny"),               // 200 of 4000 MIPS
		host("quieter", "speck"),            // 100 of 4000 MIPS
		host("normal", "a", "b"),            // 2000 of 4000 MIPS
		host("empty"),
	}
	vms := []*domain.VM{
		vm("big", 2000), vm("mid", 1200), vm("small", 600),
		vm("tiny", 200), vm("speck", 100),
		vm("a", 1000), vm("b", 1000),
	}
	snap, err := domain.NewSnapshot("dc-1", hosts, vms)
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	return snap
}

func TestPlanner_Analyze(t *testing.T) {
	p := NewPlanner(DefaultConfig(), resource.NewModel(resource.DefaultThresholds()), zap.NewNop())

	r, err := p.Analyze(datacenter(t))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if diff := cmp.Diff([]string{"busy"}, r.Overloaded); diff != "" {
		t.Errorf("overloaded mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"quiet", "quieter"}, r.Underloaded); diff != "" {
		t.Errorf("underloaded mismatch (-want +got):\n%s", diff)
	}
	if len(r.Hosts) != 5 {
		t.Fatalf("expected 5 host reports, got %d", len(r.Hosts))
	}
	// Mean over the four non-empty hosts: (0.95 + 0.05 + 0.025 + 0.5) / 4.
	if got, want := r.MeanCPU, 0.38125; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("MeanCPU = %v, want %v", got, want)
	}
	if r.StdDevCPU <= 0 {
		t.Errorf("expected positive StdDevCPU, got %v", r.StdDevCPU)
	}
}

func TestPlanner_Batch(t *testing.T) {
	model := resource.NewModel(resource.DefaultThresholds())

	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{"overloaded and underloaded", DefaultConfig(), []string{"big", "speck", "tiny"}},
		{"overloaded only", Config{EvacuateUnderloaded: false}, []string{"big"}},
		{"bounded evacuation", Config{EvacuateUnderloaded: true, MaxEvacuatedHosts: 1}, []string{"big", "speck"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlanner(tt.cfg, model, zap.NewNop())
			got, report, err := p.Batch(datacenter(t))
			if err != nil {
				t.Fatalf("Batch failed: %v", err)
			}
			if report == nil {
				t.Fatal("expected a report")
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("batch mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlanner_Batch_BalancedDatacenter(t *testing.T) {
	snap, err := domain.NewSnapshot("dc-1",
		[]*domain.Host{host("h1", "a"), host("h2", "b")},
		[]*domain.VM{vm("a", 2000), vm("b", 2400)},
	)
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	p := NewPlanner(DefaultConfig(), resource.NewModel(resource.DefaultThresholds()), zap.NewNop())

	got, _, err := p.Batch(snap)
	if err != nil {
		t.Fatalf("Batch failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty batch, got %v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
	if err := (Config{MaxEvacuatedHosts: -1}).Validate(); err == nil {
		t.Error("expected error for negative max_evacuated_hosts")
	}
}
