package taproot

// Cycle handling. Complete cycle detection is equivalent to the halting
// problem — path finding mimics runtime recursion — so everything here is a
// heuristic: bound the work, keep the useful paths, and accept that deeply
// recursive bindings may be cut off.

// pathKey groups paths that can only differ by how many times they have gone
// around a loop: same endpoints, same condition lengths.
type pathKey struct {
	startNode    NodeHandle
	endNode      NodeHandle
	symPreLen    int
	symPostLen   int
	scopePreLen  int
	scopePostLen int
}

func keyForPath(p PartialPath) pathKey {
	return pathKey{
		startNode:    p.StartNode,
		endNode:      p.EndNode,
		symPreLen:    p.SymbolPre.Len(),
		symPostLen:   p.SymbolPost.Len(),
		scopePreLen:  p.ScopePre.Len(),
		scopePostLen: p.ScopePost.Len(),
	}
}

// defaultSimilarPathLimit caps how many distinct paths with the same key are
// processed before the rest are treated as cyclic noise.
const defaultSimilarPathLimit = 4

// similarPathDetector limits similar paths during a search run. Paths with
// the same key are bucketed; a path identical in conditions to a bucketed
// one (but no shorter) is redundant, and a full bucket stops accepting new
// variants.
type similarPathDetector struct {
	limit   int
	buckets map[pathKey][]PartialPath

	// stats, when non-nil, records bucket growth for Status reporting.
	stats *FrequencyDistribution[int]
}

func newSimilarPathDetector(limit int) *similarPathDetector {
	if limit <= 0 {
		limit = defaultSimilarPathLimit
	}
	return &similarPathDetector{
		limit:   limit,
		buckets: make(map[pathKey][]PartialPath),
	}
}

// shouldSkip reports whether the path is similar enough to already-processed
// paths that searching through it cannot reach new bindings.
func (d *similarPathDetector) shouldSkip(p PartialPath) bool {
	key := keyForPath(p)
	bucket := d.buckets[key]
	for _, other := range bucket {
		if samePathConditions(p, other) && len(p.Edges) >= len(other.Edges) {
			return true
		}
	}
	if len(bucket) >= d.limit {
		return true
	}
	d.buckets[key] = append(bucket, p)
	if d.stats != nil {
		d.stats.Record(len(bucket) + 1)
	}
	return false
}

func samePathConditions(a, b PartialPath) bool {
	return a.SymbolPre.equal(b.SymbolPre) &&
		a.SymbolPost.equal(b.SymbolPost) &&
		a.ScopePre.equal(b.ScopePre) &&
		a.ScopePost.equal(b.ScopePost)
}

// branchHistory tracks the signatures seen along one search branch. Each
// extension copies the history, so sibling branches stay independent.
type branchHistory []uint64

func (h branchHistory) contains(sig uint64) bool {
	for _, s := range h {
		if s == sig {
			return true
		}
	}
	return false
}

func (h branchHistory) extend(sig uint64) branchHistory {
	out := make(branchHistory, 0, len(h)+1)
	out = append(out, h...)
	out = append(out, sig)
	return out
}
