package migration

import "sort"

const (
	white = iota
	gray
	black
)

// findCycles treats hosts as nodes and every pending migration as an edge
// from its source to its target, then returns each cycle found by a DFS with
// white/gray/black coloring. A cycle lists its hosts in edge order starting
// from the lowest host ID reached first.
func findCycles(pending []*entry) [][]string {
	adj := make(map[string][]string)
	for _, e := range pending {
		adj[e.source] = append(adj[e.source], e.target)
		if _, ok := adj[e.target]; !ok {
			adj[e.target] = nil
		}
	}
	nodes := make([]string, 0, len(adj))
	for n, next := range adj {
		nodes = append(nodes, n)
		sort.Strings(next)
	}
	sort.Strings(nodes)

	color := make(map[string]int, len(nodes))
	var stack []string
	var cycles [][]string
	seen := make(map[string]bool)

	var visit func(n string)
	visit = func(n string) {
		color[n] = gray
		stack = append(stack, n)
		for _, m := range adj[n] {
			switch color[m] {
			case white:
				visit(m)
			case gray:
				start := len(stack) - 1
				for stack[start] != m {
					start--
				}
				cycle := append([]string(nil), stack[start:]...)
				if k := cycleKey(cycle); !seen[k] {
					seen[k] = true
					cycles = append(cycles, cycle)
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	for _, n := range nodes {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}

func cycleKey(cycle []string) string {
	sorted := append([]string(nil), cycle...)
	sort.Strings(sorted)
	k := ""
	for _, h := range sorted {
		k += h + ","
	}
	return k
}

// entriesOn returns the pending entries along the edges of a cycle.
func entriesOn(pending []*entry, cycle []string) []*entry {
	next := make(map[string]string, len(cycle))
	for i, h := range cycle {
		next[h] = cycle[(i+1)%len(cycle)]
	}
	var out []*entry
	for _, e := range pending {
		if to, ok := next[e.source]; ok && to == e.target {
			out = append(out, e)
		}
	}
	return out
}
