package cluster

import "sort"

// Labels holds one cluster label per input point, aligned by position.
type Labels []int

// Counts returns the number of distinct clusters and of noise points.
func (l Labels) Counts() (clusters, noise int) {
	return len(l.IDs()), l.NoiseCount()
}

// NoiseCount returns the number of noise points.
func (l Labels) NoiseCount() int {
	var n int
	for _, v := range l {
		if v == Noise {
			n++
		}
	}
	return n
}

// IDs returns the distinct non-noise labels in ascending order.
func (l Labels) IDs() []int {
	seen := make(map[int]bool)
	var ids []int
	for _, v := range l {
		if v == Noise || seen[v] {
			continue
		}
		seen[v] = true
		ids = append(ids, v)
	}
	sort.Ints(ids)
	return ids
}

// Values returns the labels as table cells.
func (l Labels) Values() []any {
	out := make([]any, len(l))
	for i, v := range l {
		out[i] = v
	}
	return out
}
