package domain

// Resources is an amount of each resource a host offers or a VM requests.
type Resources struct {
	// Pes is the number of processing elements (cores).
	Pes int `json:"pes"`
	// Mips is the total MIPS across all processing elements.
	Mips float64 `json:"mips"`
	// RAM in MiB.
	RAM float64 `json:"ram_mib"`
	// Storage in GiB.
	Storage float64 `json:"storage_gib"`
	// Bandwidth in Mbps.
	Bandwidth float64 `json:"bandwidth_mbps"`
}

// Add returns the element-wise sum of r and o.
func (r Resources) Add(o Resources) Resources {
	return Resources{
		Pes:       r.Pes + o.Pes,
		Mips:      r.Mips + o.Mips,
		RAM:       r.RAM + o.RAM,
		Storage:   r.Storage + o.Storage,
		Bandwidth: r.Bandwidth + o.Bandwidth,
	}
}

// Sub returns the element-wise difference r - o. Results may be negative.
func (r Resources) Sub(o Resources) Resources {
	return Resources{
		Pes:       r.Pes - o.Pes,
		Mips:      r.Mips - o.Mips,
		RAM:       r.RAM - o.RAM,
		Storage:   r.Storage - o.Storage,
		Bandwidth: r.Bandwidth - o.Bandwidth,
	}
}

// IsNegative reports whether any amount is below zero.
func (r Resources) IsNegative() bool {
	return r.Pes < 0 || r.Mips < 0 || r.RAM < 0 || r.Storage < 0 || r.Bandwidth < 0
}

// PowerProfile overrides the datacenter power model for a single host.
type PowerProfile struct {
	IdleWatts float64 `json:"idle_watts"`
	MaxWatts  float64 `json:"max_watts"`
}

// Host represents a physical machine that can run VMs.
type Host struct {
	ID       string    `json:"id"`
	Capacity Resources `json:"capacity"`
	// Active is false for hosts that are switched off or in sleep mode.
	Active bool `json:"active"`
	// VMIDs is the resident VM set. The host owns this membership; VMs only
	// carry a back-reference.
	VMIDs  []string          `json:"vm_ids,omitempty"`
	Power  *PowerProfile     `json:"power,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

// HasVM reports whether the VM is resident on the host.
func (h *Host) HasVM(vmID string) bool {
	for _, id := range h.VMIDs {
		if id == vmID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the host.
func (h *Host) Clone() *Host {
	c := *h
	c.VMIDs = append([]string(nil), h.VMIDs...)
	if h.Power != nil {
		p := *h.Power
		c.Power = &p
	}
	if h.Labels != nil {
		c.Labels = make(map[string]string, len(h.Labels))
		for k, v := range h.Labels {
			c.Labels[k] = v
		}
	}
	return &c
}
