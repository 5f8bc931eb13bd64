package objective

import (
	"fmt"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
)

// LinearPowerModel draws idle power plus a share of the dynamic range
// proportional to CPU utilization. Hosts with a PowerProfile override the
// datacenter defaults.
type LinearPowerModel struct {
	IdleWatts float64 `mapstructure:"idle_watts"`
	MaxWatts  float64 `mapstructure:"max_watts"`
	// CarbonIntensity in gCO2 per kWh.
	CarbonIntensity float64 `mapstructure:"carbon_intensity"`
	// EnergyPrice per kWh.
	EnergyPrice float64 `mapstructure:"energy_price"`
}

// DefaultLinearPowerModel returns a typical dual-socket server profile.
func DefaultLinearPowerModel() LinearPowerModel {
	return LinearPowerModel{
		IdleWatts:       86,
		MaxWatts:        117,
		CarbonIntensity: 400,
		EnergyPrice:     0.12,
	}
}

// Validate rejects inconsistent power settings.
func (m LinearPowerModel) Validate() error {
	if m.IdleWatts < 0 || m.MaxWatts < m.IdleWatts {
		return &domain.ConfigError{Field: "power", Reason: fmt.Sprintf("need 0 <= idle_watts <= max_watts, got %v/%v", m.IdleWatts, m.MaxWatts)}
	}
	if m.CarbonIntensity < 0 || m.EnergyPrice < 0 {
		return &domain.ConfigError{Field: "power", Reason: "carbon_intensity and energy_price must not be negative"}
	}
	return nil
}

// Score implements HostScorer. Carbon and cost are per hour of operation.
func (m LinearPowerModel) Score(host *domain.Host, cpuUtilization float64) (HostScore, error) {
	if cpuUtilization < 0 || cpuUtilization > 1 {
		return HostScore{}, &domain.InvariantViolation{What: "projected utilization of " + host.ID, Value: cpuUtilization}
	}
	idle, peak := m.IdleWatts, m.MaxWatts
	if host.Power != nil {
		idle, peak = host.Power.IdleWatts, host.Power.MaxWatts
	}
	power := idle + (peak-idle)*cpuUtilization
	kwh := power / 1000
	return HostScore{
		Power:  power,
		Carbon: kwh * m.CarbonIntensity,
		Cost:   kwh * m.EnergyPrice,
	}, nil
}
