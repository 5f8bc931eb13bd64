// Package resource computes host availability, utilization, wastage and
// overload for a tentative VM load.
package resource

import (
	"fmt"
	"math"
	"sort"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
)

// Precision is the number of decimal places utilization is rounded to before
// any threshold comparison.
const Precision = 4

// Thresholds are the shared utilization limits of a datacenter.
type Thresholds struct {
	// Over is the over-utilization threshold in (0,1].
	Over float64 `mapstructure:"over_utilization"`
	// Under is the under-utilization threshold in [0,Over).
	Under float64 `mapstructure:"under_utilization"`
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{Over: 0.9, Under: 0.2}
}

// Validate rejects thresholds outside their ranges.
func (t Thresholds) Validate() error {
	if t.Over <= 0 || t.Over > 1 {
		return &domain.ConfigError{Field: "over_utilization", Reason: fmt.Sprintf("must be in (0,1], got %v", t.Over)}
	}
	if t.Under < 0 || t.Under >= t.Over {
		return &domain.ConfigError{Field: "under_utilization", Reason: fmt.Sprintf("must be in [0,%v), got %v", t.Over, t.Under)}
	}
	return nil
}

// Model evaluates hosts against a load. It holds no state besides the
// thresholds and is safe for concurrent use.
type Model struct {
	thresholds Thresholds
}

// NewModel creates a resource model.
func NewModel(t Thresholds) *Model {
	return &Model{thresholds: t}
}

// Thresholds returns the configured thresholds.
func (m *Model) Thresholds() Thresholds {
	return m.thresholds
}

// Load sums the demand of a VM set.
func Load(vms []*domain.VM) domain.Resources {
	var r domain.Resources
	for _, vm := range vms {
		r = r.Add(vm.Demand)
	}
	return r
}

// Round rounds v to Precision decimal places.
func Round(v float64) float64 {
	p := math.Pow10(Precision)
	return math.Round(v*p) / p
}

// Available returns the signed free amount of every resource.
func (m *Model) Available(h *domain.Host, load domain.Resources) domain.Resources {
	return h.Capacity.Sub(load)
}

// AvailablePes returns the signed number of free processing elements.
func (m *Model) AvailablePes(h *domain.Host, load domain.Resources) int {
	return h.Capacity.Pes - load.Pes
}

// AvailableMips returns the signed free MIPS.
func (m *Model) AvailableMips(h *domain.Host, load domain.Resources) float64 {
	return h.Capacity.Mips - load.Mips
}

// AvailableRAM returns the signed free RAM in MiB.
func (m *Model) AvailableRAM(h *domain.Host, load domain.Resources) float64 {
	return h.Capacity.RAM - load.RAM
}

// AvailableStorage returns the signed free storage in GiB.
func (m *Model) AvailableStorage(h *domain.Host, load domain.Resources) float64 {
	return h.Capacity.Storage - load.Storage
}

// AvailableBandwidth returns the signed free bandwidth in Mbps.
func (m *Model) AvailableBandwidth(h *domain.Host, load domain.Resources) float64 {
	return h.Capacity.Bandwidth - load.Bandwidth
}

// Utilization returns CPU and RAM utilization rounded to Precision. A value
// outside [0,1] is an invariant violation.
func (m *Model) Utilization(h *domain.Host, load domain.Resources) (cpu, ram float64, err error) {
	cpu, err = fraction("cpu utilization of "+h.ID, load.Mips, h.Capacity.Mips)
	if err != nil {
		return 0, 0, err
	}
	ram, err = fraction("ram utilization of "+h.ID, load.RAM, h.Capacity.RAM)
	if err != nil {
		return 0, 0, err
	}
	return cpu, ram, nil
}

// CPUUtilization returns only the CPU part of Utilization.
func (m *Model) CPUUtilization(h *domain.Host, load domain.Resources) (float64, error) {
	return fraction("cpu utilization of "+h.ID, load.Mips, h.Capacity.Mips)
}

// IsOverloaded reports whether any resource is oversubscribed or CPU/RAM
// utilization exceeds the over-utilization threshold.
func (m *Model) IsOverloaded(h *domain.Host, load domain.Resources) (bool, error) {
	if m.Available(h, load).IsNegative() {
		return true, nil
	}
	cpu, ram, err := m.Utilization(h, load)
	if err != nil {
		return false, err
	}
	return cpu > m.thresholds.Over || ram > m.thresholds.Over, nil
}

// Fits is the negation of IsOverloaded.
func (m *Model) Fits(h *domain.Host, load domain.Resources) (bool, error) {
	over, err := m.IsOverloaded(h, load)
	return !over, err
}

// IsUnderloaded reports whether a non-empty host runs below the
// under-utilization threshold on CPU.
func (m *Model) IsUnderloaded(h *domain.Host, load domain.Resources) (bool, error) {
	if load.Pes == 0 && load.Mips == 0 {
		return false, nil
	}
	if m.Available(h, load).IsNegative() {
		return false, nil
	}
	cpu, err := m.CPUUtilization(h, load)
	if err != nil {
		return false, err
	}
	return cpu < m.thresholds.Under, nil
}

// Wastage returns the unused fraction of CPU and RAM, (capacity-used)/capacity.
// Callers must not ask for the wastage of an oversubscribed host.
func (m *Model) Wastage(h *domain.Host, load domain.Resources) (cpu, ram float64, err error) {
	cpuUsed, ramUsed, err := m.Utilization(h, load)
	if err != nil {
		return 0, 0, err
	}
	cpu, ram = Round(1-cpuUsed), Round(1-ramUsed)
	if cpu < 0 || cpu > 1 || ram < 0 || ram > 1 {
		return 0, 0, &domain.InvariantViolation{What: "wastage of " + h.ID, Value: math.Min(cpu, ram)}
	}
	return cpu, ram, nil
}

// Overload measures by how much a host is oversubscribed: the relative excess
// of every resource over capacity plus the excess of CPU and RAM utilization
// over the threshold. It is zero for hosts that fit.
func (m *Model) Overload(h *domain.Host, load domain.Resources) float64 {
	excess := func(used, capacity float64) float64 {
		if capacity <= 0 {
			if used > 0 {
				return used
			}
			return 0
		}
		return math.Max(0, used-capacity) / capacity
	}
	over := excess(float64(load.Pes), float64(h.Capacity.Pes)) +
		excess(load.Mips, h.Capacity.Mips) +
		excess(load.RAM, h.Capacity.RAM) +
		excess(load.Storage, h.Capacity.Storage) +
		excess(load.Bandwidth, h.Capacity.Bandwidth)
	if h.Capacity.Mips > 0 {
		over += math.Max(0, Round(load.Mips/h.Capacity.Mips)-m.thresholds.Over)
	}
	if h.Capacity.RAM > 0 {
		over += math.Max(0, Round(load.RAM/h.Capacity.RAM)-m.thresholds.Over)
	}
	return over
}

// VMsToMigrateFromOverloadedHost picks residents to move off an overloaded
// host, highest CPU demand first, until the remaining load fits. It returns
// nil when the host is not overloaded or when no removal suffices.
func (m *Model) VMsToMigrateFromOverloadedHost(h *domain.Host, residents []*domain.VM) ([]*domain.VM, error) {
	load := Load(residents)
	over, err := m.IsOverloaded(h, load)
	if err != nil || !over {
		return nil, err
	}

	candidates := append([]*domain.VM(nil), residents...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Demand.Mips > candidates[j].Demand.Mips
	})

	var selected []*domain.VM
	for _, vm := range candidates {
		selected = append(selected, vm)
		load = load.Sub(vm.Demand)
		over, err = m.IsOverloaded(h, load)
		if err != nil {
			return nil, err
		}
		if !over {
			return selected, nil
		}
	}
	return nil, nil
}

func fraction(what string, used, capacity float64) (float64, error) {
	if capacity <= 0 {
		if used == 0 {
			return 0, nil
		}
		return 0, &domain.InvariantViolation{What: what + " (zero capacity)", Value: used}
	}
	u := Round(used / capacity)
	if math.IsNaN(u) || u < 0 || u > 1 {
		return 0, &domain.InvariantViolation{What: what, Value: u}
	}
	return u, nil
}
