package taproot

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// PartialPathEdge records one traversal step. The sink is implicit: it is
// the source of the following edge, or the path's end node for the last
// edge.
type PartialPathEdge struct {
	Source     NodeHandle
	Precedence int
}

// PartialPath is a self-contained path fragment with symbolic pre- and
// postconditions on both automaton stacks. The preconditions say what the
// stacks must hold on entry; the postconditions say what they hold on exit.
// An open variable at the tail of a condition stands for the unknown
// remainder supplied by whoever extends the path.
//
// A node's stack effect is applied on arrival: it belongs to the fragment
// whose edge reaches the node. A fragment therefore never applies its own
// start node's effect, which is what makes two fragments meeting at a
// junction compose without double-counting.
type PartialPath struct {
	StartNode NodeHandle
	EndNode   NodeHandle

	SymbolPre  PartialSymbolStack
	SymbolPost PartialSymbolStack
	ScopePre   PartialScopeStack
	ScopePost  PartialScopeStack

	Edges []PartialPathEdge
}

// initialVariable is the variable naming the unknown entry stacks of a fresh
// fragment. Pre- and postcondition share it: an untouched stack exits
// exactly as it entered.
const initialVariable = 1

// PartialPathFromNode returns the zero-length identity fragment at node.
// Both stacks are fully symbolic: the fragment works for any entry stacks
// and passes them through unchanged.
func PartialPathFromNode(node NodeHandle) PartialPath {
	return PartialPath{
		StartNode:  node,
		EndNode:    node,
		SymbolPre:  SymbolStackWithVariable(initialVariable),
		SymbolPost: SymbolStackWithVariable(initialVariable),
		ScopePre:   ScopeStackWithVariable(initialVariable),
		ScopePost:  ScopeStackWithVariable(initialVariable),
	}
}

// seedPath returns the zero-length query seed at node: known-empty stacks,
// with the node's own effect applied. The seed stands in for "arriving" at
// the journey's first node, whose effect no fragment carries.
func seedPath(g *StackGraph, node NodeHandle) (PartialPath, error) {
	p := PartialPath{
		StartNode:  node,
		EndNode:    node,
		SymbolPre:  EmptySymbolStack(),
		SymbolPost: EmptySymbolStack(),
		ScopePre:   EmptyScopeStack(),
		ScopePost:  EmptyScopeStack(),
	}
	return p.applyNodeEffect(g, node)
}

// largestSymbolVariable returns the largest symbol stack variable named
// anywhere in the path's conditions.
func (p PartialPath) largestSymbolVariable() SymbolStackVariable {
	max := p.SymbolPre.largestSymbolVariable()
	if v := p.SymbolPost.largestSymbolVariable(); v > max {
		max = v
	}
	return max
}

// largestScopeVariable returns the largest scope stack variable named
// anywhere in the path's conditions, including attached scope stacks.
func (p PartialPath) largestScopeVariable() ScopeStackVariable {
	max := p.ScopePre.largestVariable()
	for _, s := range []PartialScopeStack{p.ScopePost} {
		if v := s.largestVariable(); v > max {
			max = v
		}
	}
	for _, s := range []PartialSymbolStack{p.SymbolPre, p.SymbolPost} {
		if v := s.largestScopeVariable(); v > max {
			max = v
		}
	}
	return max
}

// withOffsetVariables renames every variable in the path so that none
// collides with a path whose largest variables are the given offsets.
func (p PartialPath) withOffsetVariables(symOffset SymbolStackVariable, scopeOffset ScopeStackVariable) PartialPath {
	p.SymbolPre = p.SymbolPre.withOffset(symOffset, scopeOffset)
	p.SymbolPost = p.SymbolPost.withOffset(symOffset, scopeOffset)
	p.ScopePre = p.ScopePre.withOffset(scopeOffset)
	p.ScopePost = p.ScopePost.withOffset(scopeOffset)
	return p
}

// freshScopeVariable returns a scope stack variable unused by the path.
func (p PartialPath) freshScopeVariable() ScopeStackVariable {
	return p.largestScopeVariable() + 1
}

// applyNodeEffect applies node's automaton instruction to the path's
// postconditions, extending the preconditions when an instruction consumes
// from the unknown remainder. A failed match returns a prune error.
func (p PartialPath) applyNodeEffect(g *StackGraph, node NodeHandle) (PartialPath, error) {
	n := g.Node(node)
	switch n.Kind {
	case NodeRoot, NodeJumpTo, NodeScope:
		// No stack effect.

	case NodePushSymbol:
		p.SymbolPost = p.SymbolPost.PushFront(ScopedSymbol{Symbol: n.Symbol})

	case NodePushScopedSymbol:
		attached := p.ScopePost.PushFront(n.AttachedScope)
		p.SymbolPost = p.SymbolPost.PushFront(ScopedSymbol{Symbol: n.Symbol, Scopes: &attached})

	case NodePopSymbol:
		if entry, rest, ok := p.SymbolPost.PopFront(); ok {
			if entry.Symbol != n.Symbol {
				return p, errIncorrectPoppedSymbol
			}
			if entry.Scopes != nil {
				return p, errUnexpectedAttachedScopes
			}
			p.SymbolPost = rest
		} else if p.SymbolPost.HasVariable() {
			// The symbol must have been supplied by the caller:
			// the requirement moves into the precondition.
			p.SymbolPre = p.SymbolPre.PushBack(ScopedSymbol{Symbol: n.Symbol})
		} else {
			return p, errEmptySymbolStack
		}

	case NodePopScopedSymbol:
		if entry, rest, ok := p.SymbolPost.PopFront(); ok {
			if entry.Symbol != n.Symbol {
				return p, errIncorrectPoppedSymbol
			}
			if entry.Scopes == nil {
				return p, errMissingAttachedScopes
			}
			p.SymbolPost = rest
			p.ScopePost = *entry.Scopes
		} else if p.SymbolPost.HasVariable() {
			// Require a scoped entry from the caller; its attached
			// scopes, whatever they turn out to be, become our
			// scope stack.
			v := p.freshScopeVariable()
			attached := ScopeStackWithVariable(v)
			p.SymbolPre = p.SymbolPre.PushBack(ScopedSymbol{Symbol: n.Symbol, Scopes: &attached})
			p.ScopePost = ScopeStackWithVariable(v)
		} else {
			return p, errEmptySymbolStack
		}

	case NodeDropScopes:
		p.ScopePost = EmptyScopeStack()
	}
	return p, nil
}

// Append extends the path along edge, applying the sink node's effect. When
// the sink is the jump-to node and the target scope is already concrete, the
// implicit jump edge is appended immediately; otherwise the path ends at the
// jump-to node until stitching supplies the scope.
func (p PartialPath) Append(g *StackGraph, edge Edge) (PartialPath, error) {
	if edge.Source != p.EndNode {
		return p, errIncorrectSourceNode
	}
	edges := make([]PartialPathEdge, 0, len(p.Edges)+1)
	edges = append(edges, p.Edges...)
	edges = append(edges, PartialPathEdge{Source: edge.Source, Precedence: edge.Precedence})
	p.Edges = edges
	p.EndNode = edge.Sink

	np, err := p.applyNodeEffect(g, edge.Sink)
	if err != nil {
		return p, err
	}
	if edge.Sink == g.JumpTo() {
		return np.resolveJump(g)
	}
	return np, nil
}

// resolveJump completes a jump-to arrival once the scope stack's top is
// concrete: pop the scope and resume traversal there via the implicit jump
// edge. With an open scope stack the path stays parked at jump-to.
func (p PartialPath) resolveJump(g *StackGraph) (PartialPath, error) {
	if p.EndNode != g.JumpTo() {
		return p, nil
	}
	scope, rest, ok := p.ScopePost.PopFront()
	if !ok {
		if p.ScopePost.HasVariable() {
			return p, nil
		}
		return p, errEmptyScopeStack
	}
	p.ScopePost = rest
	edges := make([]PartialPathEdge, 0, len(p.Edges)+1)
	edges = append(edges, p.Edges...)
	edges = append(edges, PartialPathEdge{Source: g.JumpTo(), Precedence: 0})
	p.Edges = edges
	p.EndNode = scope
	return p, nil
}

// Concatenate composes two fragments meeting at a junction: p's end node
// must be q's start node. q's variables are renamed apart, p's postcondition
// is unified with q's precondition, and the bindings rewrite the surviving
// conditions. A failed unification is a prune, not an error to surface.
func Concatenate(g *StackGraph, p, q PartialPath) (PartialPath, error) {
	if p.EndNode != q.StartNode {
		return PartialPath{}, errIncorrectSourceNode
	}
	q = q.withOffsetVariables(p.largestSymbolVariable(), p.largestScopeVariable())

	b := newStackBindings()
	if err := unifySymbolStacks(p.SymbolPost, q.SymbolPre, b); err != nil {
		return PartialPath{}, err
	}
	if err := unifyScopeStacks(p.ScopePost, q.ScopePre, b); err != nil {
		return PartialPath{}, err
	}

	edges := make([]PartialPathEdge, 0, len(p.Edges)+len(q.Edges))
	edges = append(edges, p.Edges...)
	edges = append(edges, q.Edges...)

	r := PartialPath{
		StartNode:  p.StartNode,
		EndNode:    q.EndNode,
		SymbolPre:  applySymbolBindings(p.SymbolPre, b),
		SymbolPost: applySymbolBindings(q.SymbolPost, b),
		ScopePre:   applyScopeBindings(p.ScopePre, b),
		ScopePost:  applyScopeBindings(q.ScopePost, b),
		Edges:      edges,
	}
	return r.resolveJump(g)
}

// IsComplete reports whether the path is a complete name binding: it runs
// from a reference to a definition and all four stack conditions are exactly
// empty.
func (p PartialPath) IsComplete(g *StackGraph) bool {
	return g.Node(p.StartNode).IsReference &&
		g.Node(p.EndNode).IsDefinition &&
		p.SymbolPre.IsEmpty() && p.SymbolPost.IsEmpty() &&
		p.ScopePre.IsEmpty() && p.ScopePost.IsEmpty()
}

// signatureHash fingerprints the path's endpoints and symbolic stack states.
// Repeating a signature along one search branch means the continuation can
// only retread old ground, so the branch is pruned.
func (p PartialPath) signatureHash(g *StackGraph) uint64 {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d|%d|", p.StartNode, p.EndNode)
	sb.WriteString(p.SymbolPre.display(g))
	sb.WriteString(p.SymbolPost.display(g))
	sb.WriteString(p.ScopePre.display(g))
	sb.WriteString(p.ScopePost.display(g))
	return xxhash.Sum64String(sb.String())
}

// Display renders the path for diagnostics and text output.
func (p PartialPath) Display(g *StackGraph) string {
	var sb strings.Builder
	sb.WriteString(p.SymbolPre.display(g))
	sb.WriteString(p.ScopePre.display(g))
	sb.WriteString(" ")
	sb.WriteString(g.nodeDisplay(p.StartNode))
	for i := 1; i < len(p.Edges); i++ {
		sb.WriteString(" -> ")
		sb.WriteString(g.nodeDisplay(p.Edges[i].Source))
	}
	if len(p.Edges) > 0 {
		sb.WriteString(" -> ")
		sb.WriteString(g.nodeDisplay(p.EndNode))
	}
	sb.WriteString(" ")
	sb.WriteString(p.SymbolPost.display(g))
	sb.WriteString(p.ScopePost.display(g))
	return sb.String()
}

// compareBindings orders complete paths for deterministic reporting: by the
// precedence sequence of their edges (lower first), then by length, then by
// end node. Running the same query twice yields the same first result.
func compareBindings(a, b PartialPath) int {
	n := len(a.Edges)
	if len(b.Edges) < n {
		n = len(b.Edges)
	}
	for i := 0; i < n; i++ {
		if d := a.Edges[i].Precedence - b.Edges[i].Precedence; d != 0 {
			return d
		}
	}
	if d := len(a.Edges) - len(b.Edges); d != 0 {
		return d
	}
	return int(a.EndNode) - int(b.EndNode)
}
