package taproot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testGraph wraps a StackGraph with fail-fast node constructors.
type testGraph struct {
	t *testing.T
	g *StackGraph
	f FileHandle
}

func newTestGraph(t *testing.T, file string) *testGraph {
	t.Helper()
	g := NewStackGraph()
	return &testGraph{t: t, g: g, f: g.AddFile(file)}
}

func (tg *testGraph) id(local uint32) NodeID {
	return NodeID{File: tg.f, Local: local}
}

func (tg *testGraph) scope(local uint32, exported bool) NodeHandle {
	tg.t.Helper()
	h, err := tg.g.AddScopeNode(tg.id(local), exported)
	require.NoError(tg.t, err)
	return h
}

func (tg *testGraph) push(local uint32, symbol string, ref bool) NodeHandle {
	tg.t.Helper()
	h, err := tg.g.AddPushSymbolNode(tg.id(local), tg.g.AddSymbol(symbol), ref, Span{StartLine: int(local)})
	require.NoError(tg.t, err)
	return h
}

func (tg *testGraph) pop(local uint32, symbol string, def bool) NodeHandle {
	tg.t.Helper()
	h, err := tg.g.AddPopSymbolNode(tg.id(local), tg.g.AddSymbol(symbol), def, Span{StartLine: int(local)})
	require.NoError(tg.t, err)
	return h
}

func (tg *testGraph) pushScoped(local uint32, symbol string, scope NodeHandle) NodeHandle {
	tg.t.Helper()
	h, err := tg.g.AddPushScopedSymbolNode(tg.id(local), tg.g.AddSymbol(symbol), scope, false, Span{})
	require.NoError(tg.t, err)
	return h
}

func (tg *testGraph) popScoped(local uint32, symbol string, def bool) NodeHandle {
	tg.t.Helper()
	h, err := tg.g.AddPopScopedSymbolNode(tg.id(local), tg.g.AddSymbol(symbol), def, Span{})
	require.NoError(tg.t, err)
	return h
}

func (tg *testGraph) drop(local uint32) NodeHandle {
	tg.t.Helper()
	h, err := tg.g.AddDropScopesNode(tg.id(local))
	require.NoError(tg.t, err)
	return h
}

func (tg *testGraph) edge(source, sink NodeHandle) {
	tg.g.AddEdge(source, sink, 0)
}

func mustAppend(t *testing.T, g *StackGraph, p PartialPath, source, sink NodeHandle) PartialPath {
	t.Helper()
	np, err := p.Append(g, Edge{Source: source, Sink: sink})
	require.NoError(t, err)
	return np
}

func TestSeedPath_AppliesStartNodeEffect(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	ref := tg.push(3, "greet", true)

	p, err := seedPath(tg.g, ref)
	require.NoError(t, err)

	require.Equal(t, 1, p.SymbolPost.Len())
	assert.Equal(t, tg.g.AddSymbol("greet"), p.SymbolPost.Entries()[0].Symbol)
	assert.True(t, p.SymbolPre.IsEmpty())
	assert.True(t, p.ScopePost.IsEmpty())
}

func TestPartialPathFromNode_Identity(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	ref := tg.push(3, "greet", true)

	p := PartialPathFromNode(ref)
	assert.Equal(t, p.SymbolPre.Variable(), p.SymbolPost.Variable())
	assert.True(t, p.SymbolPost.HasVariable())
	assert.Equal(t, 0, p.SymbolPost.Len())
}

func TestAppend_PopMatchesPush(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	ref := tg.push(3, "x", true)
	def := tg.pop(4, "x", true)
	tg.edge(ref, def)

	p, err := seedPath(tg.g, ref)
	require.NoError(t, err)
	p = mustAppend(t, tg.g, p, ref, def)

	assert.True(t, p.IsComplete(tg.g))
}

func TestAppend_PopMismatchPrunes(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	ref := tg.push(3, "x", true)
	def := tg.pop(4, "y", true)
	tg.edge(ref, def)

	p, err := seedPath(tg.g, ref)
	require.NoError(t, err)
	_, err = p.Append(tg.g, Edge{Source: ref, Sink: def})
	require.ErrorIs(t, err, errIncorrectPoppedSymbol)
}

func TestAppend_PopOnEmptyClosedStackPrunes(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	scope := tg.scope(3, false)
	def := tg.pop(4, "x", true)
	tg.edge(scope, def)

	p, err := seedPath(tg.g, scope)
	require.NoError(t, err)
	_, err = p.Append(tg.g, Edge{Source: scope, Sink: def})
	require.ErrorIs(t, err, errEmptySymbolStack)
}

func TestAppend_PopOnVariableExtendsPrecondition(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	scope := tg.scope(3, true)
	def := tg.pop(4, "x", true)
	tg.edge(scope, def)

	p := PartialPathFromNode(scope)
	p = mustAppend(t, tg.g, p, scope, def)

	require.Equal(t, 1, p.SymbolPre.Len())
	assert.Equal(t, tg.g.AddSymbol("x"), p.SymbolPre.Entries()[0].Symbol)
	assert.True(t, p.SymbolPre.HasVariable())
	assert.Equal(t, 0, p.SymbolPost.Len())
	assert.True(t, p.SymbolPost.HasVariable())
}

func TestAppend_WrongSourceNode(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	a := tg.scope(3, false)
	b := tg.scope(4, false)

	p, err := seedPath(tg.g, a)
	require.NoError(t, err)
	_, err = p.Append(tg.g, Edge{Source: b, Sink: a})
	require.ErrorIs(t, err, errIncorrectSourceNode)
}

func TestPushScopedThenPopScoped_InstallsScopes(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	exported := tg.scope(3, true)
	push := tg.pushScoped(4, "call", exported)
	pop := tg.popScoped(5, "call", false)
	tg.edge(push, pop)

	p, err := seedPath(tg.g, push)
	require.NoError(t, err)
	require.Equal(t, 1, p.SymbolPost.Len())
	require.NotNil(t, p.SymbolPost.Entries()[0].Scopes)

	p = mustAppend(t, tg.g, p, push, pop)
	scope, _, ok := p.ScopePost.PopFront()
	require.True(t, ok)
	assert.Equal(t, exported, scope)
	assert.Equal(t, 0, p.SymbolPost.Len())
}

func TestPopScopedOnVariable_SharesFreshScopeVariable(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	scope := tg.scope(3, true)
	pop := tg.popScoped(4, "call", false)
	tg.edge(scope, pop)

	p := PartialPathFromNode(scope)
	p = mustAppend(t, tg.g, p, scope, pop)

	require.Equal(t, 1, p.SymbolPre.Len())
	entry := p.SymbolPre.Entries()[0]
	require.NotNil(t, entry.Scopes)
	// Whatever scopes the caller attaches become our scope stack.
	assert.Equal(t, entry.Scopes.Variable(), p.ScopePost.Variable())
	assert.Equal(t, 0, p.ScopePost.Len())
}

func TestDropScopes_ClosesScopeStack(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	scope := tg.scope(3, true)
	drop := tg.drop(4)
	tg.edge(scope, drop)

	p := PartialPathFromNode(scope)
	require.True(t, p.ScopePost.HasVariable())
	p = mustAppend(t, tg.g, p, scope, drop)
	assert.True(t, p.ScopePost.IsEmpty())
}

func TestJump_ResolvesConcreteScope(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	exported := tg.scope(3, true)
	push := tg.pushScoped(4, "call", exported)
	pop := tg.popScoped(5, "call", false)
	tg.edge(push, pop)
	tg.edge(pop, tg.g.JumpTo())

	p, err := seedPath(tg.g, push)
	require.NoError(t, err)
	p = mustAppend(t, tg.g, p, push, pop)
	p = mustAppend(t, tg.g, p, pop, tg.g.JumpTo())

	// The jump popped the attached scope and landed there.
	assert.Equal(t, exported, p.EndNode)
	assert.True(t, p.ScopePost.IsEmpty())
}

func TestJump_ParksOnOpenScopeStack(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	scope := tg.scope(3, true)
	tg.edge(scope, tg.g.JumpTo())

	p := PartialPathFromNode(scope)
	p = mustAppend(t, tg.g, p, scope, tg.g.JumpTo())

	assert.Equal(t, tg.g.JumpTo(), p.EndNode)
	assert.True(t, p.ScopePost.HasVariable())
}

func TestJump_EmptyClosedScopeStackPrunes(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	scope := tg.scope(3, true)
	drop := tg.drop(4)
	tg.edge(scope, drop)
	tg.edge(drop, tg.g.JumpTo())

	p := PartialPathFromNode(scope)
	p = mustAppend(t, tg.g, p, scope, drop)
	_, err := p.Append(tg.g, Edge{Source: drop, Sink: tg.g.JumpTo()})
	require.ErrorIs(t, err, errEmptyScopeStack)
}

func TestConcatenate_ComposesFragments(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	ref := tg.push(3, "x", true)
	mid := tg.scope(4, false)
	def := tg.pop(5, "x", true)
	tg.edge(ref, mid)
	tg.edge(mid, def)

	front, err := seedPath(tg.g, ref)
	require.NoError(t, err)
	front = mustAppend(t, tg.g, front, ref, mid)

	back := PartialPathFromNode(mid)
	back = mustAppend(t, tg.g, back, mid, def)

	full, err := Concatenate(tg.g, front, back)
	require.NoError(t, err)
	assert.Equal(t, ref, full.StartNode)
	assert.Equal(t, def, full.EndNode)
	assert.True(t, full.IsComplete(tg.g))
	assert.Len(t, full.Edges, 2)
}

func TestConcatenate_MismatchedJunction(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	a := tg.scope(3, false)
	b := tg.scope(4, false)

	_, err := Concatenate(tg.g, PartialPathFromNode(a), PartialPathFromNode(b))
	require.ErrorIs(t, err, errIncorrectSourceNode)
}

func TestConcatenate_UnificationPrune(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	ref := tg.push(3, "x", true)
	mid := tg.scope(4, false)
	def := tg.pop(5, "y", true)
	tg.edge(ref, mid)
	tg.edge(mid, def)

	front, err := seedPath(tg.g, ref)
	require.NoError(t, err)
	front = mustAppend(t, tg.g, front, ref, mid)

	back := PartialPathFromNode(mid)
	back = mustAppend(t, tg.g, back, mid, def)

	_, err = Concatenate(tg.g, front, back)
	require.ErrorIs(t, err, errStackUnsatisfied)
}

func TestSignatureHash_DistinguishesStackStates(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	scope := tg.scope(3, true)
	push := tg.push(4, "x", false)
	tg.edge(scope, push)
	tg.edge(push, scope)

	p := PartialPathFromNode(scope)
	lap1 := mustAppend(t, tg.g, p, scope, push)
	lap1 = mustAppend(t, tg.g, lap1, push, scope)
	lap2 := mustAppend(t, tg.g, lap1, scope, push)
	lap2 = mustAppend(t, tg.g, lap2, push, scope)

	// Each lap grows the postcondition, so signatures differ; the
	// identity path differs from both.
	assert.NotEqual(t, p.signatureHash(tg.g), lap1.signatureHash(tg.g))
	assert.NotEqual(t, lap1.signatureHash(tg.g), lap2.signatureHash(tg.g))
}

func TestDisplay_RendersEndpointsAndConditions(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	ref := tg.push(3, "x", true)
	def := tg.pop(4, "x", true)
	tg.edge(ref, def)

	p, err := seedPath(tg.g, ref)
	require.NoError(t, err)
	p = mustAppend(t, tg.g, p, ref, def)

	out := p.Display(tg.g)
	assert.Contains(t, out, "a.py#3")
	assert.Contains(t, out, "a.py#4")

	// The zero-length identity path renders without panicking.
	assert.NotEmpty(t, PartialPathFromNode(ref).Display(tg.g))
}

func TestCompareBindings_LowerPrecedenceFirst(t *testing.T) {
	a := PartialPath{Edges: []PartialPathEdge{{Precedence: 5}}, EndNode: 9}
	b := PartialPath{Edges: []PartialPathEdge{{Precedence: 10}}, EndNode: 8}
	assert.Negative(t, compareBindings(a, b))
	assert.Positive(t, compareBindings(b, a))

	// Equal precedence sequences: shorter first, then end node.
	c := PartialPath{Edges: []PartialPathEdge{{Precedence: 5}, {Precedence: 0}}, EndNode: 8}
	assert.Negative(t, compareBindings(a, c))
	assert.Zero(t, compareBindings(a, a))
}
