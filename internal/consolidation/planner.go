// Package consolidation decides which running VMs enter a consolidation
// batch: VMs relieving overloaded hosts and VMs evacuating underloaded ones.
package consolidation

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/resource"
)

// Config controls batch construction.
type Config struct {
	// EvacuateUnderloaded adds every resident of an underloaded host.
	EvacuateUnderloaded bool `mapstructure:"evacuate_underloaded"`
	// MaxEvacuatedHosts bounds how many underloaded hosts are evacuated per
	// call, least utilized first. Zero means no bound.
	MaxEvacuatedHosts int `mapstructure:"max_evacuated_hosts"`
}

// DefaultConfig returns the default consolidation configuration.
func DefaultConfig() Config {
	return Config{EvacuateUnderloaded: true, MaxEvacuatedHosts: 0}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxEvacuatedHosts < 0 {
		return &domain.ConfigError{Field: "consolidation.max_evacuated_hosts", Reason: "must not be negative"}
	}
	return nil
}

// HostReport is the utilization of one host.
type HostReport struct {
	HostID      string  `json:"host_id"`
	CPU         float64 `json:"cpu_utilization"`
	RAM         float64 `json:"ram_utilization"`
	VMs         int     `json:"vms"`
	Overloaded  bool    `json:"overloaded"`
	Underloaded bool    `json:"underloaded"`
}

// Report summarizes the datacenter utilization.
type Report struct {
	Hosts       []HostReport `json:"hosts"`
	Overloaded  []string     `json:"overloaded"`
	Underloaded []string     `json:"underloaded"`
	// MeanCPU and StdDevCPU cover active hosts with at least one VM.
	MeanCPU   float64 `json:"mean_cpu_utilization"`
	StdDevCPU float64 `json:"stddev_cpu_utilization"`
}

// Planner builds consolidation batches.
type Planner struct {
	config Config
	model  *resource.Model
	logger *zap.Logger
}

// NewPlanner creates a planner.
func NewPlanner(cfg Config, model *resource.Model, logger *zap.Logger) *Planner {
	return &Planner{
		config: cfg,
		model:  model,
		logger: logger.With(zap.String("component", "consolidation")),
	}
}

// Analyze reports the utilization of every host in the snapshot.
func (p *Planner) Analyze(snap *domain.Snapshot) (*Report, error) {
	r := &Report{}
	var cpus []float64
	for _, h := range snap.Hosts() {
		load := resource.Load(snap.Residents(h.ID))
		hr := HostReport{HostID: h.ID, VMs: len(h.VMIDs)}

		over, err := p.model.IsOverloaded(h, load)
		if err != nil {
			return nil, err
		}
		hr.Overloaded = over
		if !p.model.Available(h, load).IsNegative() {
			if hr.CPU, hr.RAM, err = p.model.Utilization(h, load); err != nil {
				return nil, err
			}
			if hr.Underloaded, err = p.model.IsUnderloaded(h, load); err != nil {
				return nil, err
			}
		} else if h.Capacity.Mips > 0 {
			// Oversubscribed hosts report their raw ratio.
			hr.CPU = resource.Round(load.Mips / h.Capacity.Mips)
			if h.Capacity.RAM > 0 {
				hr.RAM = resource.Round(load.RAM / h.Capacity.RAM)
			}
		}

		if hr.Overloaded {
			r.Overloaded = append(r.Overloaded, h.ID)
		}
		if hr.Underloaded {
			r.Underloaded = append(r.Underloaded, h.ID)
		}
		if h.Active && hr.VMs > 0 {
			cpus = append(cpus, hr.CPU)
		}
		r.Hosts = append(r.Hosts, hr)
	}
	if len(cpus) > 0 {
		r.MeanCPU, r.StdDevCPU = stat.MeanStdDev(cpus, nil)
		if len(cpus) == 1 {
			r.StdDevCPU = 0
		}
	}
	return r, nil
}

// Batch returns the IDs of the VMs to re-place, sorted, together with the
// report they were derived from. An empty batch means nothing to do.
func (p *Planner) Batch(snap *domain.Snapshot) ([]string, *Report, error) {
	report, err := p.Analyze(snap)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to analyze datacenter: %w", err)
	}

	batch := domain.NewVMSet()
	for _, hostID := range report.Overloaded {
		h, _ := snap.Host(hostID)
		selected, err := p.model.VMsToMigrateFromOverloadedHost(h, snap.Residents(hostID))
		if err != nil {
			return nil, nil, err
		}
		if selected == nil {
			p.logger.Warn("No VM selection relieves overloaded host", zap.String("host_id", hostID))
			continue
		}
		for _, vm := range selected {
			batch[vm.ID] = struct{}{}
		}
	}

	if p.config.EvacuateUnderloaded {
		for _, hostID := range p.evacuationOrder(report) {
			for _, vm := range snap.Residents(hostID) {
				batch[vm.ID] = struct{}{}
			}
		}
	}

	ids := batch.Sorted()
	p.logger.Debug("Consolidation batch built",
		zap.String("datacenter_id", snap.DatacenterID),
		zap.Int("overloaded_hosts", len(report.Overloaded)),
		zap.Int("underloaded_hosts", len(report.Underloaded)),
		zap.Int("vms", len(ids)),
	)
	return ids, report, nil
}

// evacuationOrder picks underloaded hosts least utilized first.
func (p *Planner) evacuationOrder(r *Report) []string {
	var under []HostReport
	for _, hr := range r.Hosts {
		if hr.Underloaded {
			under = append(under, hr)
		}
	}
	sort.SliceStable(under, func(i, j int) bool { return under[i].CPU < under[j].CPU })
	if n := p.config.MaxEvacuatedHosts; n > 0 && len(under) > n {
		under = under[:n]
	}
	out := make([]string, 0, len(under))
	for _, hr := range under {
		out = append(out, hr.HostID)
	}
	return out
}
