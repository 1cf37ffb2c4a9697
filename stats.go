package taproot

import (
	"cmp"
	"sort"
)

// FrequencyDistribution counts how often each value occurs. The finder and
// stitcher use it to report path length and similar-path bucket
// distributions; quantiles summarize the shape without keeping every sample.
type FrequencyDistribution[T cmp.Ordered] struct {
	values map[T]int
	total  int
}

// Record notes one occurrence of value.
func (d *FrequencyDistribution[T]) Record(value T) {
	if d.values == nil {
		d.values = make(map[T]int)
	}
	d.values[value]++
	d.total++
}

// Count returns the total number of recorded values.
func (d *FrequencyDistribution[T]) Count() int { return d.total }

// Unique returns the number of distinct recorded values.
func (d *FrequencyDistribution[T]) Unique() int { return len(d.values) }

// Quantiles returns n+1 cut points over the recorded values, from minimum to
// maximum. Quantiles(4) gives quartiles; Quantiles(2) gives min, median,
// max. The result is nil when nothing was recorded.
func (d *FrequencyDistribution[T]) Quantiles(n int) []T {
	if d.total == 0 || n <= 0 {
		return nil
	}
	keys := make([]T, 0, len(d.values))
	for k := range d.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]T, 0, n+1)
	rank, ki, seen := 0, 0, 0
	for q := 0; q <= n; q++ {
		rank = q * (d.total - 1) / n
		for seen+d.values[keys[ki]] <= rank {
			seen += d.values[keys[ki]]
			ki++
		}
		out = append(out, keys[ki])
	}
	return out
}

// Merge adds all of other's counts into d.
func (d *FrequencyDistribution[T]) Merge(other *FrequencyDistribution[T]) {
	for k, c := range other.values {
		if d.values == nil {
			d.values = make(map[T]int)
		}
		d.values[k] += c
		d.total += c
	}
}

// IndexStats summarizes one indexing run.
type IndexStats struct {
	// PathLengths is the distribution of edge counts over the computed
	// partial paths.
	PathLengths FrequencyDistribution[int]
	// PathCount is the number of partial paths stored.
	PathCount int
}
