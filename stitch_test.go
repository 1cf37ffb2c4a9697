package taproot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTwoFileGraph builds the classic cross-file shape in one graph:
// a.py exports a module scope defining "greet"; b.py references it.
func buildTwoFileGraph(t *testing.T) (g *StackGraph, ref, def NodeHandle, files []FileHandle) {
	t.Helper()
	g = NewStackGraph()
	a := g.AddFile("a.py")
	b := g.AddFile("b.py")

	module, err := g.AddScopeNode(NodeID{File: a, Local: 3}, true)
	require.NoError(t, err)
	def, err = g.AddPopSymbolNode(NodeID{File: a, Local: 4}, g.AddSymbol("greet"), true, Span{StartLine: 1})
	require.NoError(t, err)
	g.AddEdge(g.Root(), module, 0)
	g.AddEdge(module, def, 0)

	ref, err = g.AddPushSymbolNode(NodeID{File: b, Local: 3}, g.AddSymbol("greet"), true, Span{StartLine: 7})
	require.NoError(t, err)
	g.AddEdge(ref, g.Root(), 0)

	return g, ref, def, []FileHandle{a, b}
}

func loadDatabase(t *testing.T, g *StackGraph, files []FileHandle) *Database {
	t.Helper()
	db := NewDatabase(g)
	for _, f := range files {
		require.NoError(t, FindPartialPathsInFile(g, f, NoCancellation{}, db.AddPartialPath))
	}
	return db
}

func stitch(t *testing.T, g *StackGraph, db *Database, start NodeHandle, dir Direction) []PartialPath {
	t.Helper()
	s := &Stitcher{Graph: g, DB: db}
	var complete []PartialPath
	require.NoError(t, s.FindCompletePaths(start, dir, NoCancellation{}, func(p PartialPath) {
		complete = append(complete, p)
	}))
	return complete
}

func TestStitcher_ForwardCrossFile(t *testing.T) {
	g, ref, def, files := buildTwoFileGraph(t)
	db := loadDatabase(t, g, files)

	complete := stitch(t, g, db, ref, Forward)
	require.Len(t, complete, 1)
	assert.Equal(t, ref, complete[0].StartNode)
	assert.Equal(t, def, complete[0].EndNode)
	assert.True(t, complete[0].IsComplete(g))
}

func TestStitcher_BackwardCrossFile(t *testing.T) {
	g, ref, def, files := buildTwoFileGraph(t)
	db := loadDatabase(t, g, files)

	complete := stitch(t, g, db, def, Backward)
	require.Len(t, complete, 1)
	assert.Equal(t, ref, complete[0].StartNode)
	assert.Equal(t, def, complete[0].EndNode)
}

// buildScopedTwoFileGraph builds the scoped-symbol (member access) shape:
// b.py's reference pushes "ret" carrying a landing scope; a.py pops it
// scoped, pushes "done", and jumps back into the caller's landing scope,
// where "done" is defined.
func buildScopedTwoFileGraph(t *testing.T) (g *StackGraph, ref, def NodeHandle, files []FileHandle) {
	t.Helper()
	g = NewStackGraph()
	a := g.AddFile("a.py")
	b := g.AddFile("b.py")

	land, err := g.AddScopeNode(NodeID{File: b, Local: 3}, true)
	require.NoError(t, err)
	def, err = g.AddPopSymbolNode(NodeID{File: b, Local: 4}, g.AddSymbol("done"), true, Span{StartLine: 9})
	require.NoError(t, err)
	g.AddEdge(land, def, 0)
	ref, err = g.AddPushScopedSymbolNode(NodeID{File: b, Local: 5}, g.AddSymbol("ret"), land, true, Span{StartLine: 2})
	require.NoError(t, err)
	g.AddEdge(ref, g.Root(), 0)

	popRet, err := g.AddPopScopedSymbolNode(NodeID{File: a, Local: 3}, g.AddSymbol("ret"), false, Span{})
	require.NoError(t, err)
	pushDone, err := g.AddPushSymbolNode(NodeID{File: a, Local: 4}, g.AddSymbol("done"), false, Span{})
	require.NoError(t, err)
	g.AddEdge(g.Root(), popRet, 0)
	g.AddEdge(popRet, pushDone, 0)
	g.AddEdge(pushDone, g.JumpTo(), 0)

	return g, ref, def, []FileHandle{a, b}
}

func TestStitcher_ForwardScopedSymbolFlow(t *testing.T) {
	g, ref, def, files := buildScopedTwoFileGraph(t)
	db := loadDatabase(t, g, files)

	// a.py's fragment parks at the jump-to node; concatenating it onto
	// the reference's path makes the landing scope concrete, and the
	// jump must resolve there and continue to the definition.
	complete := stitch(t, g, db, ref, Forward)
	require.Len(t, complete, 1)
	assert.Equal(t, ref, complete[0].StartNode)
	assert.Equal(t, def, complete[0].EndNode)
	assert.True(t, complete[0].IsComplete(g))
}

func TestStitcher_BackwardScopedSymbolFlow(t *testing.T) {
	g, ref, def, files := buildScopedTwoFileGraph(t)
	db := loadDatabase(t, g, files)

	// Walking backward from the definition crosses the landing scope,
	// which only jump-parked paths reach; the database must offer them
	// with the jump resolved to land there.
	complete := stitch(t, g, db, def, Backward)
	require.Len(t, complete, 1)
	assert.Equal(t, ref, complete[0].StartNode)
	assert.Equal(t, def, complete[0].EndNode)
}

func TestStitcher_NoMatchIsEmptyNotError(t *testing.T) {
	g := NewStackGraph()
	b := g.AddFile("b.py")
	ref, err := g.AddPushSymbolNode(NodeID{File: b, Local: 3}, g.AddSymbol("missing"), true, Span{})
	require.NoError(t, err)
	g.AddEdge(ref, g.Root(), 0)

	db := loadDatabase(t, g, []FileHandle{b})
	complete := stitch(t, g, db, ref, Forward)
	assert.Empty(t, complete)
}

func TestStitcher_PrecedenceDeterminesFirstResult(t *testing.T) {
	g := NewStackGraph()
	a := g.AddFile("a.py")
	ref, err := g.AddPushSymbolNode(NodeID{File: a, Local: 3}, g.AddSymbol("x"), true, Span{})
	require.NoError(t, err)
	preferred, err := g.AddPopSymbolNode(NodeID{File: a, Local: 4}, g.AddSymbol("x"), true, Span{})
	require.NoError(t, err)
	shadowed, err := g.AddPopSymbolNode(NodeID{File: a, Local: 5}, g.AddSymbol("x"), true, Span{})
	require.NoError(t, err)
	// Inserted in reverse order to prove precedence wins over insertion.
	g.AddEdge(ref, shadowed, 10)
	g.AddEdge(ref, preferred, 5)

	db := loadDatabase(t, g, []FileHandle{a})
	complete := stitch(t, g, db, ref, Forward)
	require.Len(t, complete, 2)

	best := complete[0]
	for _, p := range complete[1:] {
		if compareBindings(p, best) < 0 {
			best = p
		}
	}
	assert.Equal(t, preferred, best.EndNode)
}

func TestStitcher_Cancellation(t *testing.T) {
	g, ref, _, files := buildTwoFileGraph(t)
	db := loadDatabase(t, g, files)

	s := &Stitcher{Graph: g, DB: db}
	err := s.FindCompletePaths(ref, Forward, NewCancelAfterDuration(0), func(PartialPath) {})
	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
}

func TestStitcher_LoadCallbackSeesJunctions(t *testing.T) {
	g, ref, _, files := buildTwoFileGraph(t)
	db := loadDatabase(t, g, files)

	var junctions []NodeHandle
	s := &Stitcher{
		Graph: g,
		DB:    db,
		Load: func(node NodeHandle, dir Direction) error {
			junctions = append(junctions, node)
			return nil
		},
	}
	require.NoError(t, s.FindCompletePaths(ref, Forward, NoCancellation{}, func(PartialPath) {}))

	assert.Contains(t, junctions, ref)
	assert.Contains(t, junctions, g.Root())
}

func TestDatabase_DedupesIdenticalPaths(t *testing.T) {
	g, _, _, files := buildTwoFileGraph(t)
	db := loadDatabase(t, g, files)

	before := db.Len()
	for _, f := range files {
		require.NoError(t, FindPartialPathsInFile(g, f, NoCancellation{}, db.AddPartialPath))
	}
	assert.Equal(t, before, db.Len())
}

func TestDatabase_CandidatesIntoIncludesResolvedJumps(t *testing.T) {
	// a.py: exported scope --PopScopedSymbol(call)--> jump-to. The
	// fragment parks; a backward search into an exported scope must see
	// it with the jump resolved to land there.
	tg := newTestGraph(t, "a.py")
	entry := tg.scope(3, true)
	pop := tg.popScoped(4, "call", false)
	target := tg.scope(5, true)
	tg.edge(entry, pop)
	tg.edge(pop, tg.g.JumpTo())

	db := NewDatabase(tg.g)
	require.NoError(t, FindPartialPathsInFile(tg.g, tg.f, NoCancellation{}, db.AddPartialPath))

	candidates := db.CandidatesInto(target)
	require.NotEmpty(t, candidates)
	found := false
	for _, p := range candidates {
		if p.StartNode == entry && p.EndNode == target {
			found = true
		}
	}
	assert.True(t, found, "jump-parked path not resolved to the exported scope")
}

func TestResolveJumpTo_BindsLandingScope(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	scope := tg.scope(3, true)
	target := tg.scope(4, true)
	tg.edge(scope, tg.g.JumpTo())

	parked := PartialPathFromNode(scope)
	parked = mustAppend(t, tg.g, parked, scope, tg.g.JumpTo())
	require.Equal(t, tg.g.JumpTo(), parked.EndNode)

	landed, err := resolveJumpTo(tg.g, parked, target)
	require.NoError(t, err)
	assert.Equal(t, target, landed.EndNode)
}

func TestSimilarPathDetector_CapsBuckets(t *testing.T) {
	tg := newTestGraph(t, "a.py")
	a := tg.scope(3, false)
	b := tg.scope(4, false)

	d := newSimilarPathDetector(2)
	mk := func(n int) PartialPath {
		p := PartialPath{StartNode: a, EndNode: b}
		for i := 0; i < n; i++ {
			p.Edges = append(p.Edges, PartialPathEdge{Source: a, Precedence: i})
		}
		return p
	}

	assert.False(t, d.shouldSkip(mk(1)))
	// Identical conditions, same or greater length: redundant.
	assert.True(t, d.shouldSkip(mk(2)))
	// A shorter variant still fits in the bucket.
	assert.False(t, d.shouldSkip(mk(0)))
}

func TestIncompletePathsError_ListsFiles(t *testing.T) {
	err := &IncompletePathsError{Files: []string{"a.py", "b.py"}}
	assert.Contains(t, err.Error(), "2 file(s)")
	assert.Contains(t, err.Error(), "a.py")
}
