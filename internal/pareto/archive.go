// Package pareto provides dominance checks, single-front extraction and the
// bounded external archive kept across generations.
package pareto

import (
	"golang.org/x/exp/rand"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
)

// Entry pairs a solution with its objectives. Values is the vector dominance
// is checked on (5 objectives, or 2 for the Liu family).
type Entry struct {
	Solution   domain.Solution
	Objectives domain.ObjectiveVector
	Values     []float64
}

// NewEntry builds an entry comparing on n objectives.
func NewEntry(sol domain.Solution, obj domain.ObjectiveVector, n int) Entry {
	return Entry{Solution: sol, Objectives: obj, Values: obj.Values(n)}
}

// Dominates reports whether a is no worse than b in every objective and
// strictly better in at least one. All objectives are minimized.
func Dominates(a, b []float64) bool {
	better := false
	for i := range a {
		if a[i] > b[i] {
			return false
		}
		if a[i] < b[i] {
			better = true
		}
	}
	return better
}

// NonDominatedFront returns the candidates no other candidate dominates,
// preserving their order.
func NonDominatedFront(candidates []Entry) []Entry {
	var front []Entry
	for i, c := range candidates {
		dominated := false
		for j, o := range candidates {
			if i != j && Dominates(o.Values, c.Values) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, c)
		}
	}
	return front
}

// Archive is the bounded set of non-dominated solutions of one session.
type Archive struct {
	limit   int
	entries []Entry
}

// NewArchive creates an empty archive holding at most limit entries after
// pruning.
func NewArchive(limit int) *Archive {
	return &Archive{limit: limit}
}

// Len returns the number of archived entries.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Limit returns the configured bound.
func (a *Archive) Limit() int {
	return a.limit
}

// Entries returns a copy of the archived entries in insertion order.
func (a *Archive) Entries() []Entry {
	return append([]Entry(nil), a.entries...)
}

// Merge unions a new front into the archive and keeps only the non-dominated
// part of the union. Solutions already archived are not added twice.
func (a *Archive) Merge(front []Entry) {
	seen := make(map[string]struct{}, len(a.entries))
	union := make([]Entry, 0, len(a.entries)+len(front))
	for _, e := range append(a.entries, front...) {
		k := e.Solution.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		union = append(union, e)
	}
	a.entries = NonDominatedFront(union)
}

// Prune shrinks the archive to its limit by removing random entries. Entries
// that are the sole minimum of some objective are never removed; when they
// alone meet or exceed the limit nothing is pruned. It returns the number of
// removed entries.
func (a *Archive) Prune(rng *rand.Rand) int {
	if a.limit <= 0 || len(a.entries) <= a.limit {
		return 0
	}
	keep := Extremes(a.entries)
	if len(keep) >= a.limit {
		return 0
	}

	var removable []int
	for i := range a.entries {
		if _, ok := keep[i]; !ok {
			removable = append(removable, i)
		}
	}
	drop := make(map[int]struct{})
	for len(a.entries)-len(drop) > a.limit {
		k := rng.Intn(len(removable))
		drop[removable[k]] = struct{}{}
		removable = append(removable[:k], removable[k+1:]...)
	}

	kept := make([]Entry, 0, a.limit)
	for i, e := range a.entries {
		if _, ok := drop[i]; !ok {
			kept = append(kept, e)
		}
	}
	a.entries = kept
	return len(drop)
}

// Extremes returns the indices of entries that are uniquely minimal in at
// least one objective.
func Extremes(entries []Entry) map[int]struct{} {
	out := make(map[int]struct{})
	if len(entries) == 0 {
		return out
	}
	for obj := range entries[0].Values {
		best, count := 0, 1
		for i := 1; i < len(entries); i++ {
			switch v := entries[i].Values[obj]; {
			case v < entries[best].Values[obj]:
				best, count = i, 1
			case v == entries[best].Values[obj]:
				count++
			}
		}
		if count == 1 {
			out[best] = struct{}{}
		}
	}
	return out
}
