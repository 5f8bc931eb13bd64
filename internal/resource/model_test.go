package resource

import (
	"errors"
	"testing"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
)

func newHost(id string, pes int, mips, ram float64) *domain.Host {
	return &domain.Host{
		ID:       id,
		Active:   true,
		Capacity: domain.Resources{Pes: pes, Mips: mips, RAM: ram, Storage: 1000, Bandwidth: 10000},
	}
}

func newVM(id string, pes int, mips, ram float64) *domain.VM {
	return &domain.VM{ID: id, Created: true, Demand: domain.Resources{Pes: pes, Mips: mips, RAM: ram, Storage: 10, Bandwidth: 100}}
}

// =============================================================================
// Tests
// =============================================================================

func TestModel_IsOverloaded(t *testing.T) {
	m := NewModel(Thresholds{Over: 0.9, Under: 0.2})
	h := newHost("h1", 4, 4000, 4096)

	tests := []struct {
		name string
		load domain.Resources
		want bool
	}{
		{"empty", domain.Resources{}, false},
		{"at threshold", domain.Resources{Pes: 3, Mips: 3600, RAM: 1024}, false},
		{"rounding noise below threshold", domain.Resources{Pes: 3, Mips: 3600.01, RAM: 1024}, false},
		{"cpu above threshold", domain.Resources{Pes: 3, Mips: 3700, RAM: 1024}, true},
		{"ram above threshold", domain.Resources{Pes: 1, Mips: 100, RAM: 4000}, true},
		{"pes oversubscribed", domain.Resources{Pes: 5, Mips: 100, RAM: 100}, true},
		{"mips oversubscribed", domain.Resources{Pes: 1, Mips: 5000, RAM: 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.IsOverloaded(h, tt.load)
			if err != nil {
				t.Fatalf("IsOverloaded failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestModel_Utilization_InvariantViolation(t *testing.T) {
	m := NewModel(DefaultThresholds())
	h := newHost("h1", 4, 4000, 4096)

	_, _, err := m.Utilization(h, domain.Resources{Mips: 8000, RAM: 100})
	var iv *domain.InvariantViolation
	if !errors.As(err, &iv) {
		t.Fatalf("Expected InvariantViolation, got %v", err)
	}

	_, _, err = m.Wastage(h, domain.Resources{Mips: 100, RAM: 9000})
	if !errors.As(err, &iv) {
		t.Fatalf("Expected InvariantViolation from wastage, got %v", err)
	}
}

func TestModel_Wastage(t *testing.T) {
	m := NewModel(DefaultThresholds())
	h := newHost("h1", 4, 4000, 4096)

	cpu, ram, err := m.Wastage(h, domain.Resources{Pes: 1, Mips: 1000, RAM: 3072})
	if err != nil {
		t.Fatalf("Wastage failed: %v", err)
	}
	if cpu != 0.75 || ram != 0.25 {
		t.Errorf("Expected (0.75, 0.25), got (%v, %v)", cpu, ram)
	}
}

func TestModel_Available(t *testing.T) {
	m := NewModel(DefaultThresholds())
	h := newHost("h1", 4, 4000, 4096)
	load := Load([]*domain.VM{newVM("a", 2, 2000, 1024), newVM("b", 3, 1000, 1024)})

	if got := m.AvailablePes(h, load); got != -1 {
		t.Errorf("Expected -1 pes, got %d", got)
	}
	if got := m.AvailableMips(h, load); got != 1000 {
		t.Errorf("Expected 1000 mips, got %v", got)
	}
	if got := m.AvailableRAM(h, load); got != 2048 {
		t.Errorf("Expected 2048 ram, got %v", got)
	}
	if got := m.AvailableStorage(h, load); got != 980 {
		t.Errorf("Expected 980 storage, got %v", got)
	}
	if got := m.AvailableBandwidth(h, load); got != 9800 {
		t.Errorf("Expected 9800 bandwidth, got %v", got)
	}
}

func TestModel_IsUnderloaded(t *testing.T) {
	m := NewModel(Thresholds{Over: 0.9, Under: 0.2})
	h := newHost("h1", 4, 4000, 4096)

	if under, _ := m.IsUnderloaded(h, domain.Resources{}); under {
		t.Error("Empty host should not be underloaded")
	}
	if under, _ := m.IsUnderloaded(h, domain.Resources{Pes: 1, Mips: 400, RAM: 512}); !under {
		t.Error("Expected host at 10% CPU to be underloaded")
	}
	if under, _ := m.IsUnderloaded(h, domain.Resources{Pes: 2, Mips: 2000, RAM: 512}); under {
		t.Error("Expected host at 50% CPU not to be underloaded")
	}
}

func TestModel_Overload(t *testing.T) {
	m := NewModel(Thresholds{Over: 0.9, Under: 0.2})
	h := newHost("h1", 4, 4000, 4096)

	if got := m.Overload(h, domain.Resources{Pes: 1, Mips: 1000, RAM: 1024}); got != 0 {
		t.Errorf("Expected no overload, got %v", got)
	}
	small := m.Overload(h, domain.Resources{Pes: 4, Mips: 3800, RAM: 1024})
	large := m.Overload(h, domain.Resources{Pes: 6, Mips: 6000, RAM: 1024})
	if small <= 0 || large <= small {
		t.Errorf("Expected 0 < %v < %v", small, large)
	}
}

func TestModel_VMsToMigrateFromOverloadedHost(t *testing.T) {
	m := NewModel(Thresholds{Over: 0.9, Under: 0.2})
	h := newHost("h1", 4, 4000, 8192)
	big := newVM("big", 2, 2000, 1024) // half of the host's cores
	residents := []*domain.VM{
		newVM("small", 1, 800, 1024),
		big,
		newVM("mid", 1, 1000, 1024),
	}

	selected, err := m.VMsToMigrateFromOverloadedHost(h, residents)
	if err != nil {
		t.Fatalf("VMsToMigrateFromOverloadedHost failed: %v", err)
	}
	if len(selected) != 1 || selected[0].ID != "big" {
		t.Fatalf("Expected [big], got %v", selected)
	}

	remaining := Load([]*domain.VM{residents[0], residents[2]})
	cpu, err := m.CPUUtilization(h, remaining)
	if err != nil {
		t.Fatalf("CPUUtilization failed: %v", err)
	}
	if cpu > 0.9 {
		t.Errorf("Expected utilization <= 0.9 after removal, got %v", cpu)
	}
}

func TestModel_VMsToMigrateFromOverloadedHost_NotOverloaded(t *testing.T) {
	m := NewModel(Thresholds{Over: 0.9, Under: 0.2})
	h := newHost("h1", 4, 4000, 8192)

	selected, err := m.VMsToMigrateFromOverloadedHost(h, []*domain.VM{newVM("a", 1, 1000, 1024)})
	if err != nil {
		t.Fatalf("VMsToMigrateFromOverloadedHost failed: %v", err)
	}
	if len(selected) != 0 {
		t.Errorf("Expected no selection, got %v", selected)
	}
}

func TestThresholds_Validate(t *testing.T) {
	if err := (Thresholds{Over: 1.2}).Validate(); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected config error for over > 1, got %v", err)
	}
	if err := (Thresholds{Over: 0.8, Under: 0.9}).Validate(); err == nil {
		t.Error("Expected config error for under >= over")
	}
	if err := DefaultThresholds().Validate(); err != nil {
		t.Errorf("Default thresholds rejected: %v", err)
	}
}
