package taproot

import "fmt"

// The partial path finder: for one file, enumerate every partial path from
// the interesting start nodes, with symbolic stack conditions inferred
// purely from the file's own nodes. Dead ends and failed matches are pruned
// silently; the only surfaced outcome besides success is cancellation.

// maxBranchNodeVisits bounds how many times one node may appear on a single
// DFS branch. Identical revisits are pruned by signature; this cap cuts off
// productive cycles (ones that keep growing a condition) after a few laps.
const maxBranchNodeVisits = 3

// finder carries the per-run state of one file's partial path search.
type finder struct {
	graph  *StackGraph
	file   FileHandle
	cancel CancellationFlag
	visit  func(PartialPath)

	// visits counts node occurrences along the current DFS branch.
	visits map[NodeHandle]int
}

// FindPartialPathsInFile enumerates the partial paths of one file and passes
// each to visit. Fragments start at the file's references and exported
// scopes, and at the root for edges leading into the file; they end at the
// root, at exported scopes, at the jump-to node, at file boundaries, and at
// dead ends, and are also emitted at every definition along the way.
//
// Runs for different files share no mutable state and may run in parallel.
func FindPartialPathsInFile(g *StackGraph, file FileHandle, cancel CancellationFlag, visit func(PartialPath)) error {
	f := &finder{graph: g, file: file, cancel: cancel, visit: visit, visits: make(map[NodeHandle]int)}
	for _, start := range f.startNodes() {
		if err := f.explore(PartialPathFromNode(start), branchHistory{}); err != nil {
			return err
		}
	}
	return nil
}

// FindPartialPathsFromNode enumerates partial paths from one start node,
// bounded to the file containing it. The singleton root and jump-to nodes
// belong to no file and are not valid starts; use FindPartialPathsInFile
// for a file's root-seeded fragments. The algorithm is the same as the
// per-file variant; this entry point serves callers that want fragments
// for one node only.
func FindPartialPathsFromNode(g *StackGraph, start NodeHandle, cancel CancellationFlag, visit func(PartialPath)) error {
	n := g.Node(start)
	if n.Kind == NodeRoot || n.Kind == NodeJumpTo {
		return fmt.Errorf("find paths from %s: node belongs to no file", g.nodeDisplay(start))
	}
	f := &finder{graph: g, file: n.ID.File, cancel: cancel, visit: visit, visits: make(map[NodeHandle]int)}
	return f.explore(PartialPathFromNode(start), branchHistory{})
}

// startNodes returns the junction nodes fragments must start at for
// stitching to find them: references, exported scopes, and the root.
func (f *finder) startNodes() []NodeHandle {
	starts := []NodeHandle{f.graph.Root()}
	for _, h := range f.graph.NodesInFile(f.file) {
		n := f.graph.Node(h)
		if n.IsReference || (n.Kind == NodeScope && n.IsExported) {
			starts = append(starts, h)
		}
	}
	return starts
}

// isTerminal reports whether an arrival at node ends the fragment: the
// fragment has left the file's own territory, or parked at the jump-to node.
func (f *finder) isTerminal(node NodeHandle) bool {
	if node == f.graph.Root() || node == f.graph.JumpTo() {
		return true
	}
	n := f.graph.Node(node)
	if n.ID.File != f.file {
		return true
	}
	return n.Kind == NodeScope && n.IsExported
}

func (f *finder) explore(p PartialPath, history branchHistory) error {
	if err := f.cancel.Check("partial path finder"); err != nil {
		return err
	}

	arrived := len(p.Edges) > 0
	if arrived {
		n := f.graph.Node(p.EndNode)
		if n.IsDefinition {
			f.visit(p)
		}
		if f.isTerminal(p.EndNode) {
			if !n.IsDefinition {
				f.visit(p)
			}
			return nil
		}
	}

	edges := f.graph.OutgoingEdges(p.EndNode)
	if len(edges) == 0 {
		if arrived && !f.graph.Node(p.EndNode).IsDefinition {
			f.visit(p)
		}
		return nil
	}

	for _, edge := range edges {
		// The root fans out to every file; when seeding from it, only
		// the edges into this file belong to this file's fragments.
		if p.EndNode == f.graph.Root() && f.graph.Node(edge.Sink).ID.File != f.file {
			continue
		}
		np, err := p.Append(f.graph, edge)
		if err != nil {
			continue // pruned branch, not an error
		}
		// A jump with an open scope stack parks at the jump-to node;
		// a resolved jump may land outside the file. Both are
		// terminal arrivals handled by the recursive call.
		sig := np.signatureHash(f.graph)
		if history.contains(sig) {
			continue
		}
		if f.visits[np.EndNode] >= maxBranchNodeVisits {
			continue
		}
		f.visits[np.EndNode]++
		err = f.explore(np, history.extend(sig))
		f.visits[np.EndNode]--
		if err != nil {
			return err
		}
	}
	return nil
}
