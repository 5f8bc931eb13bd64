package domain

import (
	"sort"
	"strings"
)

// VMSet is a set of VM IDs.
type VMSet map[string]struct{}

// NewVMSet builds a set from the given IDs.
func NewVMSet(ids ...string) VMSet {
	s := make(VMSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s VMSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s VMSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Solution maps VM IDs to host IDs. A solution is complete for a batch when
// every batch VM appears exactly once; during search it may be partial.
type Solution map[string]string

// Clone returns a copy of the solution.
func (s Solution) Clone() Solution {
	c := make(Solution, len(s))
	for vm, host := range s {
		c[vm] = host
	}
	return c
}

// Equal reports whether both solutions hold the same assignments.
func (s Solution) Equal(o Solution) bool {
	if len(s) != len(o) {
		return false
	}
	for vm, host := range s {
		if oh, ok := o[vm]; !ok || oh != host {
			return false
		}
	}
	return true
}

// VMIDs returns the assigned VM IDs in ascending order.
func (s Solution) VMIDs() []string {
	ids := make([]string, 0, len(s))
	for vm := range s {
		ids = append(ids, vm)
	}
	sort.Strings(ids)
	return ids
}

// Key returns a canonical string usable to detect duplicate solutions.
func (s Solution) Key() string {
	var b strings.Builder
	for _, vm := range s.VMIDs() {
		b.WriteString(vm)
		b.WriteByte('=')
		b.WriteString(s[vm])
		b.WriteByte(';')
	}
	return b.String()
}

// IsComplete reports whether every batch VM is assigned.
func (s Solution) IsComplete(batch VMSet) bool {
	for id := range batch {
		if _, ok := s[id]; !ok {
			return false
		}
	}
	return true
}

// Split divides the solution into a migration map (created VMs whose target
// differs from their current host) and a placement map (everything else).
// The two maps are disjoint and their union is the solution.
func (s Solution) Split(snap *Snapshot) (migrations, placements Solution) {
	migrations = make(Solution)
	placements = make(Solution)
	for vmID, target := range s {
		current := snap.CurrentHost(vmID)
		vm, ok := snap.VM(vmID)
		if ok && vm.Created && current != "" && current != target {
			migrations[vmID] = target
			continue
		}
		placements[vmID] = target
	}
	return migrations, placements
}

// Edges returns the migration edges of the solution ordered by VM ID.
func (s Solution) Edges(snap *Snapshot) []MigrationEdge {
	migrations, _ := s.Split(snap)
	edges := make([]MigrationEdge, 0, len(migrations))
	for _, vmID := range migrations.VMIDs() {
		edges = append(edges, MigrationEdge{
			VMID:         vmID,
			SourceHostID: snap.CurrentHost(vmID),
			TargetHostID: migrations[vmID],
		})
	}
	return edges
}
