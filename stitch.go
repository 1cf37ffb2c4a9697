package taproot

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// IncompletePathsError reports that the search frontier touched files whose
// partial paths are not in the database. It is not fatal: the bindings found
// so far are still returned, and the caller decides whether to treat the
// affected files as unanalyzed or to abort.
type IncompletePathsError struct {
	Files []string
}

func (e *IncompletePathsError) Error() string {
	return fmt.Sprintf("partial paths unavailable for %d file(s): %s",
		len(e.Files), strings.Join(e.Files, ", "))
}

// Direction selects which way the stitcher grows paths.
type Direction int

const (
	// Forward extends a reference's path toward definitions.
	Forward Direction = iota
	// Backward extends a definition's path toward references.
	Backward
)

// Database is an in-memory collection of partial paths indexed for
// stitching: by start node for forward extension and by end node for
// backward extension. It is append-only and never consulted for anything but
// reads during a search, so concurrent searches over one Database are safe
// once loading is done.
type Database struct {
	graph *StackGraph
	paths []PartialPath

	byStart map[NodeHandle][]int
	byEnd   map[NodeHandle][]int

	// jumpParked holds paths that ended at the jump-to node with an open
	// scope stack; their landing scope is only known at stitch time.
	jumpParked []int

	seen map[uint64]bool
}

// NewDatabase creates an empty database for paths over g.
func NewDatabase(g *StackGraph) *Database {
	return &Database{
		graph:   g,
		byStart: make(map[NodeHandle][]int),
		byEnd:   make(map[NodeHandle][]int),
		seen:    make(map[uint64]bool),
	}
}

// AddPartialPath indexes p. Re-adding an identical path is a no-op.
func (db *Database) AddPartialPath(p PartialPath) {
	id := xxhash.Sum64String(fmt.Sprintf("%d|%s", p.StartNode, p.Display(db.graph)))
	if db.seen[id] {
		return
	}
	db.seen[id] = true

	idx := len(db.paths)
	db.paths = append(db.paths, p)
	db.byStart[p.StartNode] = append(db.byStart[p.StartNode], idx)
	if p.EndNode == db.graph.JumpTo() {
		db.jumpParked = append(db.jumpParked, idx)
	} else {
		db.byEnd[p.EndNode] = append(db.byEnd[p.EndNode], idx)
	}
}

// Len returns the number of stored paths.
func (db *Database) Len() int { return len(db.paths) }

// CandidatesFrom returns the stored paths starting at node, in insertion
// order.
func (db *Database) CandidatesFrom(node NodeHandle) []PartialPath {
	idxs := db.byStart[node]
	out := make([]PartialPath, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, db.paths[i])
	}
	return out
}

// CandidatesInto returns the stored paths ending at node. Paths parked at
// the jump-to node are included when they can be made to land at node: the
// open scope stack is hypothesized to hold node on top, and the jump is
// resolved against that hypothesis.
func (db *Database) CandidatesInto(node NodeHandle) []PartialPath {
	idxs := db.byEnd[node]
	out := make([]PartialPath, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, db.paths[i])
	}
	if db.graph.Node(node).IsExported {
		for _, i := range db.jumpParked {
			if r, err := resolveJumpTo(db.graph, db.paths[i], node); err == nil {
				out = append(out, r)
			}
		}
	}
	return out
}

// resolveJumpTo binds a jump-parked path's open scope stack so that its jump
// lands at scope.
func resolveJumpTo(g *StackGraph, p PartialPath, scope NodeHandle) (PartialPath, error) {
	b := newStackBindings()
	fresh := p.freshScopeVariable()
	target := ScopeStackWithVariable(fresh).PushFront(scope)
	if err := unifyScopeStacks(p.ScopePost, target, b); err != nil {
		return PartialPath{}, err
	}
	p.SymbolPre = applySymbolBindings(p.SymbolPre, b)
	p.SymbolPost = applySymbolBindings(p.SymbolPost, b)
	p.ScopePre = applyScopeBindings(p.ScopePre, b)
	p.ScopePost = applyScopeBindings(p.ScopePost, b)
	return p.resolveJump(g)
}

// Stitcher composes partial paths from a Database into complete name
// bindings. It only ever reads the database, so stitching queries can run
// concurrently with each other and with partial path computation for other
// files.
type Stitcher struct {
	Graph *StackGraph
	DB    *Database

	// Load, when set, is invoked before candidates for a junction node
	// are taken, giving the caller a chance to pull that node's paths
	// from external storage into DB. Load failures abort the search.
	Load func(node NodeHandle, dir Direction) error

	// SimilarPathLimit caps similar paths per bucket; zero means the
	// default.
	SimilarPathLimit int
}

type stitchEntry struct {
	path    PartialPath
	history branchHistory
}

// FindCompletePaths runs the frontier search from start and passes every
// complete path found to visit, in deterministic frontier order. The search
// ends when the frontier is exhausted or cancel trips; a cancellation is
// returned after the results found so far have been delivered.
func (s *Stitcher) FindCompletePaths(start NodeHandle, dir Direction, cancel CancellationFlag, visit func(PartialPath)) error {
	seed, err := s.seed(start, dir)
	if err != nil {
		return err
	}
	detector := newSimilarPathDetector(s.SimilarPathLimit)
	frontier := []stitchEntry{{path: seed, history: branchHistory{seed.signatureHash(s.Graph)}}}

	for len(frontier) > 0 {
		if err := cancel.Check("stitcher"); err != nil {
			return err
		}
		e := frontier[0]
		frontier = frontier[1:]

		if dir == Forward && e.path.IsComplete(s.Graph) {
			visit(e.path)
		}
		if dir == Backward {
			if full, ok := s.finalizeBackward(e.path); ok {
				visit(full)
			}
		}

		junction := e.path.EndNode
		if dir == Backward {
			junction = e.path.StartNode
		}
		if s.Load != nil {
			if err := s.Load(junction, dir); err != nil {
				return err
			}
		}

		var candidates []PartialPath
		if dir == Forward {
			candidates = s.DB.CandidatesFrom(junction)
		} else {
			candidates = s.DB.CandidatesInto(junction)
		}
		for _, q := range candidates {
			var r PartialPath
			var err error
			if dir == Forward {
				r, err = Concatenate(s.Graph, e.path, q)
			} else {
				r, err = Concatenate(s.Graph, q, e.path)
			}
			if err != nil {
				continue // unification failed: pruned candidate
			}
			sig := r.signatureHash(s.Graph)
			if e.history.contains(sig) {
				continue
			}
			if detector.shouldSkip(r) {
				continue
			}
			frontier = append(frontier, stitchEntry{path: r, history: e.history.extend(sig)})
		}
	}
	return nil
}

// seed builds the zero-length starting path. Forward seeds apply the start
// node's own effect (a reference's push); backward seeds are pure identity
// with known-empty stacks, since the definition's pop is applied by whatever
// fragment arrives at it.
func (s *Stitcher) seed(start NodeHandle, dir Direction) (PartialPath, error) {
	if dir == Forward {
		return seedPath(s.Graph, start)
	}
	return PartialPath{
		StartNode:  start,
		EndNode:    start,
		SymbolPre:  EmptySymbolStack(),
		SymbolPost: EmptySymbolStack(),
		ScopePre:   EmptyScopeStack(),
		ScopePost:  EmptyScopeStack(),
	}, nil
}

// finalizeBackward checks whether a backward-grown path has reached a
// reference whose own push completes the binding.
func (s *Stitcher) finalizeBackward(p PartialPath) (PartialPath, bool) {
	if !s.Graph.Node(p.StartNode).IsReference {
		return PartialPath{}, false
	}
	head, err := seedPath(s.Graph, p.StartNode)
	if err != nil {
		return PartialPath{}, false
	}
	full, err := Concatenate(s.Graph, head, p)
	if err != nil || !full.IsComplete(s.Graph) {
		return PartialPath{}, false
	}
	return full, true
}
