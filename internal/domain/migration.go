package domain

import "time"

// MigrationEdge moves an already created VM from its current host to a target.
type MigrationEdge struct {
	VMID         string `json:"vm_id"`
	SourceHostID string `json:"source_host_id"`
	TargetHostID string `json:"target_host_id"`
}

// Reroute records a lock-in broken by sending a VM somewhere other than the
// host the solution chose.
type Reroute struct {
	VMID             string `json:"vm_id"`
	OriginalTargetID string `json:"original_target_id"`
	TargetHostID     string `json:"target_host_id"`
}

// UnresolvedReason explains why a migration was left out of a plan.
type UnresolvedReason string

const (
	// UnresolvedLockInCycle marks members of a cycle no reroute could break.
	UnresolvedLockInCycle UnresolvedReason = "LOCK_IN_CYCLE"
	// UnresolvedBlocked marks entries whose target never freed up.
	UnresolvedBlocked UnresolvedReason = "BLOCKED"
	// UnresolvedPlacementBlocked marks new VMs whose target does not fit them
	// after the committed steps. The edge has no source host.
	UnresolvedPlacementBlocked UnresolvedReason = "PLACEMENT_BLOCKED"
)

// UnresolvedMigration is a migration excluded from the committed plan.
type UnresolvedMigration struct {
	Edge   MigrationEdge    `json:"edge"`
	Reason UnresolvedReason `json:"reason"`
	// Cycle lists the hosts of the loop for lock-in entries.
	Cycle []string `json:"cycle,omitempty"`
}

// MigrationPlan is the ordered, capacity-safe migration list for one call.
type MigrationPlan struct {
	ID           string                `json:"id"`
	DatacenterID string                `json:"datacenter_id"`
	SessionID    string                `json:"session_id,omitempty"`
	Steps        []MigrationEdge       `json:"steps"`
	Placements   map[string]string     `json:"placements,omitempty"`
	Rerouted     []Reroute             `json:"rerouted,omitempty"`
	Unresolved   []UnresolvedMigration `json:"unresolved,omitempty"`
	Objectives   *ObjectiveVector      `json:"objectives,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Err returns an *UnresolvedLockIn when the plan left entries out.
func (p *MigrationPlan) Err() error {
	if len(p.Unresolved) == 0 {
		return nil
	}
	return &UnresolvedLockIn{Entries: p.Unresolved}
}
