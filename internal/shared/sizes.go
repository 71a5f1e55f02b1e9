package shared

import "sort"

// SizeDist maps a garment-size label to a piece count. A size absent
// from the map counts as zero everywhere in the ledger.
type SizeDist map[string]int

// Get returns the count for a size, zero when absent.
func (d SizeDist) Get(size string) int {
	return d[size]
}

// Total sums all piece counts.
func (d SizeDist) Total() int {
	total := 0
	for _, n := range d {
		total += n
	}
	return total
}

// Clone returns an independent copy; nil stays nil.
func (d SizeDist) Clone() SizeDist {
	if d == nil {
		return nil
	}
	out := make(SizeDist, len(d))
	for s, n := range d {
		out[s] = n
	}
	return out
}

// Add returns a new distribution with per-size sums over the union of keys.
func (d SizeDist) Add(other SizeDist) SizeDist {
	out := make(SizeDist, len(d)+len(other))
	for s, n := range d {
		out[s] = n
	}
	for s, n := range other {
		out[s] += n
	}
	return out
}

// Sub returns a new distribution with per-size differences over the
// union of keys. Results may be negative; callers check HasNegative.
func (d SizeDist) Sub(other SizeDist) SizeDist {
	out := make(SizeDist, len(d)+len(other))
	for s, n := range d {
		out[s] = n
	}
	for s, n := range other {
		out[s] -= n
	}
	return out
}

// HasNegative reports whether any size holds a negative count.
func (d SizeDist) HasNegative() bool {
	for _, n := range d {
		if n < 0 {
			return true
		}
	}
	return false
}

// IsZero reports whether every count is zero (or the map is empty).
func (d SizeDist) IsZero() bool {
	for _, n := range d {
		if n != 0 {
			return false
		}
	}
	return true
}

// Sizes returns the size labels in sorted order.
func (d SizeDist) Sizes() []string {
	keys := make([]string, 0, len(d))
	for s := range d {
		keys = append(keys, s)
	}
	sort.Strings(keys)
	return keys
}

// Compact drops zero-count sizes, returning a new distribution.
func (d SizeDist) Compact() SizeDist {
	out := make(SizeDist, len(d))
	for s, n := range d {
		if n != 0 {
			out[s] = n
		}
	}
	return out
}

// UnionSizes returns the sorted union of size labels across distributions.
func UnionSizes(dists ...SizeDist) []string {
	seen := map[string]struct{}{}
	for _, d := range dists {
		for s := range d {
			seen[s] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for s := range seen {
		keys = append(keys, s)
	}
	sort.Strings(keys)
	return keys
}

// SumDists adds any number of distributions.
func SumDists(dists ...SizeDist) SizeDist {
	out := SizeDist{}
	for _, d := range dists {
		for s, n := range d {
			out[s] += n
		}
	}
	return out
}
