package bulkmap

import "sort"

// deduplicate keeps one mapping per destination offset: the one whose leaf is
// shallowest, Required before Optional, earliest discovered on ties. The
// result is ordered by offset.
func deduplicate(ms []*mapping, diags *diagnostics) []*mapping {
	groups := make(map[int][]*mapping, len(ms))
	offsets := make([]int, 0, len(ms))
	for _, m := range ms {
		if !m.resolved() {
			continue
		}
		if _, seen := groups[m.offset]; !seen {
			offsets = append(offsets, m.offset)
		}
		groups[m.offset] = append(groups[m.offset], m)
	}
	sort.Ints(offsets)

	out := make([]*mapping, 0, len(offsets))
	for _, off := range offsets {
		group := groups[off]
		winner := group[0]
		for _, m := range group[1:] {
			if beats(m, winner) {
				winner = m
			}
		}
		for _, m := range group {
			if m == winner {
				continue
			}
			diags.add(DuplicateDiscarded, m.leaf.path.String(), off,
				"column %q already mapped from %s", winner.name, winner.leaf.path)
		}
		out = append(out, winner)
	}
	return out
}

func conflictScore(m *mapping) int {
	return m.leaf.depth*10 + m.optionality.rank()
}

func beats(a, b *mapping) bool {
	sa, sb := conflictScore(a), conflictScore(b)
	if sa != sb {
		return sa < sb
	}
	return a.seq < b.seq
}
