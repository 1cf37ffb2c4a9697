package taproot

import (
	"errors"
	"fmt"
	"sort"
)

// Construction errors. Traversal dead ends are never errors; these only
// surface caller misuse of the builder API.
var (
	// ErrUnknownFile is returned when adding a node to a file that was
	// never registered with the graph.
	ErrUnknownFile = errors.New("unknown file")

	// ErrDuplicateNode is returned when a node ID is added twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrUnknownNode is returned when a query names a node ID that does
	// not exist in the graph.
	ErrUnknownNode = errors.New("unknown node")
)

// SymbolHandle identifies an interned symbol. Handles are scoped to the
// StackGraph instance that issued them and are never invalidated.
type SymbolHandle uint32

// FileHandle identifies an interned file. The zero handle means "no file"
// and is used by the singleton root and jump-to nodes.
type FileHandle uint32

// NodeHandle identifies a node in a StackGraph's arena.
type NodeHandle uint32

const (
	invalidNode NodeHandle = 0

	// rootNode and jumpToNode are reserved handles, created once per graph.
	rootNode   NodeHandle = 1
	jumpToNode NodeHandle = 2
)

// Reserved local IDs for the singleton nodes, used in stable node IDs.
const (
	rootLocalID   uint32 = 1
	jumpToLocalID uint32 = 2
)

// NodeID is the stable, file-scoped identity of a node. Unlike a NodeHandle
// it survives serialization and is valid across graph instances.
type NodeID struct {
	File  FileHandle
	Local uint32
}

// NodeKind discriminates the automaton instruction a node performs.
type NodeKind uint8

const (
	// NodeRoot is the sole cross-file junction. Exactly one per graph.
	NodeRoot NodeKind = iota
	// NodeJumpTo pops a scope off the scope stack and resumes traversal
	// as if arriving at that scope node. Singleton, like the root.
	NodeJumpTo
	// NodeScope is a lexical scope; exported scopes are reachable through
	// the root and visible to other files.
	NodeScope
	// NodePushSymbol pushes a symbol onto the symbol stack.
	NodePushSymbol
	// NodePopSymbol requires the top of the symbol stack to equal its
	// symbol, then removes it.
	NodePopSymbol
	// NodePushScopedSymbol pushes a symbol paired with an exported scope
	// onto the symbol stack atomically.
	NodePushScopedSymbol
	// NodePopScopedSymbol pops a matching symbol and installs its attached
	// scopes as the new scope stack.
	NodePopScopedSymbol
	// NodeDropScopes clears the scope stack.
	NodeDropScopes
)

func (k NodeKind) String() string {
	switch k {
	case NodeRoot:
		return "root"
	case NodeJumpTo:
		return "jump_to"
	case NodeScope:
		return "scope"
	case NodePushSymbol:
		return "push_symbol"
	case NodePopSymbol:
		return "pop_symbol"
	case NodePushScopedSymbol:
		return "push_scoped_symbol"
	case NodePopScopedSymbol:
		return "pop_scoped_symbol"
	case NodeDropScopes:
		return "drop_scopes"
	}
	return fmt.Sprintf("node_kind(%d)", uint8(k))
}

// Span is a source range attached to reference and definition nodes for
// tooling. Lines and columns are 0-based.
type Span struct {
	StartLine int `json:"start_line"`
	StartCol  int `json:"start_col"`
	EndLine   int `json:"end_line"`
	EndCol    int `json:"end_col"`
}

// Node is one automaton instruction. Nodes are created through the AddXxxNode
// methods and never mutated afterward.
type Node struct {
	Kind NodeKind
	ID   NodeID

	// Symbol is set for push and pop variants.
	Symbol SymbolHandle

	// AttachedScope is the exported scope a push-scoped-symbol node pairs
	// with its symbol.
	AttachedScope NodeHandle

	IsExported   bool
	IsReference  bool
	IsDefinition bool
	Span         Span
}

// Edge connects two nodes. Precedence orders candidate exploration: lower
// values are explored first, ties broken by insertion order.
type Edge struct {
	Source     NodeHandle
	Sink       NodeHandle
	Precedence int
}

// StackGraph owns all graph entities behind stable handles. The graph is
// append-only: nodes and edges, once created, are never deleted or mutated.
// Rebuilding a file means building a fresh graph for it and discarding the
// old one; there is no removal API.
type StackGraph struct {
	symbols     []string
	symbolIndex map[string]SymbolHandle

	files     []string
	fileIndex map[string]FileHandle

	nodes     []Node // index 0 unused; 1 = root, 2 = jump-to
	nodeIndex map[NodeID]NodeHandle
	fileNodes map[FileHandle][]NodeHandle

	outgoing map[NodeHandle][]Edge
}

// NewStackGraph creates an empty graph containing only the singleton root
// and jump-to nodes.
func NewStackGraph() *StackGraph {
	g := &StackGraph{
		symbolIndex: make(map[string]SymbolHandle),
		fileIndex:   make(map[string]FileHandle),
		nodes:       make([]Node, 1, 16),
		nodeIndex:   make(map[NodeID]NodeHandle),
		fileNodes:   make(map[FileHandle][]NodeHandle),
		outgoing:    make(map[NodeHandle][]Edge),
	}
	g.nodes = append(g.nodes, Node{Kind: NodeRoot, ID: NodeID{Local: rootLocalID}})
	g.nodes = append(g.nodes, Node{Kind: NodeJumpTo, ID: NodeID{Local: jumpToLocalID}})
	g.nodeIndex[NodeID{Local: rootLocalID}] = rootNode
	g.nodeIndex[NodeID{Local: jumpToLocalID}] = jumpToNode
	return g
}

// Root returns the singleton root node, the sole cross-file junction.
func (g *StackGraph) Root() NodeHandle { return rootNode }

// JumpTo returns the singleton jump-to node.
func (g *StackGraph) JumpTo() NodeHandle { return jumpToNode }

// AddSymbol interns name and returns its handle. Interning the same name
// twice returns the same handle.
func (g *StackGraph) AddSymbol(name string) SymbolHandle {
	if h, ok := g.symbolIndex[name]; ok {
		return h
	}
	g.symbols = append(g.symbols, name)
	h := SymbolHandle(len(g.symbols))
	g.symbolIndex[name] = h
	return h
}

// SymbolName returns the interned string for h.
func (g *StackGraph) SymbolName(h SymbolHandle) string {
	return g.symbols[int(h)-1]
}

// AddFile registers path and returns its handle, interning duplicates.
func (g *StackGraph) AddFile(path string) FileHandle {
	if h, ok := g.fileIndex[path]; ok {
		return h
	}
	g.files = append(g.files, path)
	h := FileHandle(len(g.files))
	g.fileIndex[path] = h
	return h
}

// FileHandleFor looks up an already-registered file.
func (g *StackGraph) FileHandleFor(path string) (FileHandle, bool) {
	h, ok := g.fileIndex[path]
	return h, ok
}

// FilePath returns the path a file handle was registered under. The zero
// handle (no file) maps to the empty string.
func (g *StackGraph) FilePath(h FileHandle) string {
	if h == 0 {
		return ""
	}
	return g.files[int(h)-1]
}

// Files returns the registered file paths in registration order.
func (g *StackGraph) Files() []string {
	out := make([]string, len(g.files))
	copy(out, g.files)
	return out
}

// Node returns the node record for h. The returned pointer must be treated
// as read-only.
func (g *StackGraph) Node(h NodeHandle) *Node {
	return &g.nodes[h]
}

// NodeForID looks up the handle for a stable node ID.
func (g *StackGraph) NodeForID(id NodeID) (NodeHandle, bool) {
	h, ok := g.nodeIndex[id]
	return h, ok
}

func (g *StackGraph) addNode(n Node) (NodeHandle, error) {
	if n.ID.File == 0 || int(n.ID.File) > len(g.files) {
		return invalidNode, fmt.Errorf("add node %d: %w", n.ID.Local, ErrUnknownFile)
	}
	if _, ok := g.nodeIndex[n.ID]; ok {
		return invalidNode, fmt.Errorf("add node %s#%d: %w", g.FilePath(n.ID.File), n.ID.Local, ErrDuplicateNode)
	}
	g.nodes = append(g.nodes, n)
	h := NodeHandle(len(g.nodes) - 1)
	g.nodeIndex[n.ID] = h
	g.fileNodes[n.ID.File] = append(g.fileNodes[n.ID.File], h)
	return h, nil
}

// AddScopeNode adds a lexical scope node. Exported scopes may be attached to
// push-scoped-symbol nodes and are junction points for stitching.
func (g *StackGraph) AddScopeNode(id NodeID, exported bool) (NodeHandle, error) {
	return g.addNode(Node{Kind: NodeScope, ID: id, IsExported: exported})
}

// AddPushSymbolNode adds a node that pushes symbol onto the symbol stack.
// Reference nodes carry a source span for tooling.
func (g *StackGraph) AddPushSymbolNode(id NodeID, symbol SymbolHandle, isReference bool, span Span) (NodeHandle, error) {
	return g.addNode(Node{Kind: NodePushSymbol, ID: id, Symbol: symbol, IsReference: isReference, Span: span})
}

// AddPopSymbolNode adds a node that pops symbol from the symbol stack.
func (g *StackGraph) AddPopSymbolNode(id NodeID, symbol SymbolHandle, isDefinition bool, span Span) (NodeHandle, error) {
	return g.addNode(Node{Kind: NodePopSymbol, ID: id, Symbol: symbol, IsDefinition: isDefinition, Span: span})
}

// AddPushScopedSymbolNode adds a node that pushes symbol paired with the
// exported scope node onto the symbol stack.
func (g *StackGraph) AddPushScopedSymbolNode(id NodeID, symbol SymbolHandle, scope NodeHandle, isReference bool, span Span) (NodeHandle, error) {
	if !g.nodes[scope].IsExported {
		return invalidNode, fmt.Errorf("push scoped symbol %s#%d: attached scope is not exported", g.FilePath(id.File), id.Local)
	}
	return g.addNode(Node{Kind: NodePushScopedSymbol, ID: id, Symbol: symbol, AttachedScope: scope, IsReference: isReference, Span: span})
}

// AddPopScopedSymbolNode adds a node that pops a scoped symbol and installs
// its attached scopes as the new scope stack.
func (g *StackGraph) AddPopScopedSymbolNode(id NodeID, symbol SymbolHandle, isDefinition bool, span Span) (NodeHandle, error) {
	return g.addNode(Node{Kind: NodePopScopedSymbol, ID: id, Symbol: symbol, IsDefinition: isDefinition, Span: span})
}

// AddDropScopesNode adds a node that clears the scope stack.
func (g *StackGraph) AddDropScopesNode(id NodeID) (NodeHandle, error) {
	return g.addNode(Node{Kind: NodeDropScopes, ID: id})
}

// AddEdge connects source to sink with the given precedence. Adding the same
// edge twice is a no-op, not an error.
func (g *StackGraph) AddEdge(source, sink NodeHandle, precedence int) {
	for _, e := range g.outgoing[source] {
		if e.Sink == sink && e.Precedence == precedence {
			return
		}
	}
	g.outgoing[source] = append(g.outgoing[source], Edge{Source: source, Sink: sink, Precedence: precedence})
}

// OutgoingEdges returns source's edges ordered by ascending precedence, ties
// broken by insertion order. This ordering makes "first matching definition"
// reproducible.
func (g *StackGraph) OutgoingEdges(source NodeHandle) []Edge {
	edges := g.outgoing[source]
	if len(edges) == 0 {
		return nil
	}
	out := make([]Edge, len(edges))
	copy(out, edges)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Precedence < out[j].Precedence })
	return out
}

// NodesInFile returns the file's node handles in insertion order. The slice
// is a copy; iterating it is finite and restartable.
func (g *StackGraph) NodesInFile(file FileHandle) []NodeHandle {
	handles := g.fileNodes[file]
	out := make([]NodeHandle, len(handles))
	copy(out, handles)
	return out
}

// nodeDisplay renders a node for error messages and text output.
func (g *StackGraph) nodeDisplay(h NodeHandle) string {
	n := &g.nodes[h]
	switch n.Kind {
	case NodeRoot:
		return "[root]"
	case NodeJumpTo:
		return "[jump-to]"
	}
	return fmt.Sprintf("%s#%d(%s)", g.FilePath(n.ID.File), n.ID.Local, n.Kind)
}
