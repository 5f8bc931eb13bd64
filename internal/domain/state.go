package domain

import (
	"strings"
	"time"
)

// PheromoneShape is the pairing a pheromone table uses.
type PheromoneShape string

const (
	// ShapeVMVM pairs VMs with VMs.
	ShapeVMVM PheromoneShape = "VM_VM"
	// ShapeVMHost pairs VMs with hosts.
	ShapeVMHost PheromoneShape = "VM_HOST"
)

// pairSeparator joins the two IDs of a pair key. Snapshots reject IDs that
// contain it.
const pairSeparator = "|"

// PairKey returns the serialized key for a pheromone pair.
func PairKey(a, b string) string {
	return a + pairSeparator + b
}

// SplitPairKey reverses PairKey.
func SplitPairKey(key string) (a, b string, ok bool) {
	a, b, ok = strings.Cut(key, pairSeparator)
	return a, b, ok
}

// OptimizerState is what a datacenter carries from one optimization call to
// the next. It is created empty, warm-starts the pheromone table of the next
// call, and can be reset to forget all history.
type OptimizerState struct {
	DatacenterID string             `json:"datacenter_id"`
	Variant      string             `json:"variant"`
	Shape        PheromoneShape     `json:"shape"`
	Trails       map[string]float64 `json:"trails"`
	// Placement is the VM to host mapping at the end of the last session;
	// trails are only inherited for pairs colocated there.
	Placement map[string]string `json:"placement"`
	Sessions  int               `json:"sessions"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewOptimizerState creates an empty state for a datacenter.
func NewOptimizerState(datacenterID string) *OptimizerState {
	return &OptimizerState{
		DatacenterID: datacenterID,
		Trails:       make(map[string]float64),
		Placement:    make(map[string]string),
	}
}

// IsEmpty reports whether the state carries no warm-start data.
func (s *OptimizerState) IsEmpty() bool {
	return s == nil || len(s.Trails) == 0
}

// CompatibleWith reports whether the state can warm-start a table of the
// given variant and shape.
func (s *OptimizerState) CompatibleWith(variant string, shape PheromoneShape) bool {
	return !s.IsEmpty() && s.Variant == variant && s.Shape == shape
}

// Reset forgets all history while keeping the datacenter binding.
func (s *OptimizerState) Reset() {
	s.Variant = ""
	s.Shape = ""
	s.Trails = make(map[string]float64)
	s.Placement = make(map[string]string)
	s.Sessions = 0
	s.UpdatedAt = time.Now()
}

// Colocated reports whether two entities shared a host last session. For the
// VM x Host shape b is a host ID and the check is direct residence.
func (s *OptimizerState) Colocated(a, b string) bool {
	if s == nil {
		return false
	}
	ha, ok := s.Placement[a]
	if !ok {
		return false
	}
	if s.Shape == ShapeVMHost {
		return ha == b
	}
	hb, ok := s.Placement[b]
	return ok && ha == hb
}
