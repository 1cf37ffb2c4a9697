package taproot

import (
	"encoding/json"
	"fmt"
)

// FileGraph is the serialized description of one file's stack graph
// fragment: the output of a language frontend and the input to indexing.
// Node local ids are file-scoped and must be >= 3; 1 and 2 are reserved for
// the root and jump-to singletons, which edges reference by name.
type FileGraph struct {
	File  string          `json:"file"`
	Nodes []FileGraphNode `json:"nodes"`
	Edges []FileGraphEdge `json:"edges"`
}

// FileGraphNode describes one node of a file's fragment.
type FileGraphNode struct {
	LocalID uint32 `json:"id"`
	Kind    string `json:"kind"`
	Symbol  string `json:"symbol,omitempty"`

	// Scope is the local id of the exported scope a push_scoped_symbol
	// node attaches.
	Scope uint32 `json:"scope,omitempty"`

	IsExported   bool  `json:"is_exported,omitempty"`
	IsReference  bool  `json:"is_reference,omitempty"`
	IsDefinition bool  `json:"is_definition,omitempty"`
	Span         *Span `json:"span,omitempty"`
}

// FileGraphEdge connects two fragment nodes. Endpoints are local ids, or the
// strings "root" and "jump_to" for the singletons.
type FileGraphEdge struct {
	Source     EdgeEnd `json:"source"`
	Sink       EdgeEnd `json:"sink"`
	Precedence int     `json:"precedence,omitempty"`
}

// EdgeEnd is a FileGraphEdge endpoint: a node local id, or one of the
// reserved names "root" and "jump_to".
type EdgeEnd struct {
	Local uint32
}

// MarshalJSON renders reserved endpoints as their names and everything else
// as a bare number.
func (e EdgeEnd) MarshalJSON() ([]byte, error) {
	switch e.Local {
	case rootLocalID:
		return json.Marshal("root")
	case jumpToLocalID:
		return json.Marshal("jump_to")
	}
	return json.Marshal(e.Local)
}

func (e *EdgeEnd) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		switch name {
		case "root":
			e.Local = rootLocalID
		case "jump_to":
			e.Local = jumpToLocalID
		default:
			return fmt.Errorf("edge endpoint %q: want \"root\", \"jump_to\", or a node id", name)
		}
		return nil
	}
	var id uint32
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("edge endpoint: %w", err)
	}
	if id == rootLocalID || id == jumpToLocalID {
		return fmt.Errorf("edge endpoint %d: reserved id, use \"root\" or \"jump_to\"", id)
	}
	e.Local = id
	return nil
}

// ParseFileGraph decodes a JSON fragment description.
func ParseFileGraph(data []byte) (FileGraph, error) {
	var fg FileGraph
	if err := json.Unmarshal(data, &fg); err != nil {
		return FileGraph{}, fmt.Errorf("parse file graph: %w", err)
	}
	if fg.File == "" {
		return FileGraph{}, fmt.Errorf("parse file graph: missing file path")
	}
	return fg, nil
}

// LoadInto materializes the fragment in g, registering the file and interning
// its symbols. Nodes are added in two passes so push_scoped_symbol nodes can
// attach scopes declared later in the list.
func (fg FileGraph) LoadInto(g *StackGraph) (FileHandle, error) {
	file := g.AddFile(fg.File)

	// First pass: everything except push_scoped_symbol.
	for _, n := range fg.Nodes {
		if n.LocalID < 3 {
			return 0, fmt.Errorf("file %s: node id %d is reserved", fg.File, n.LocalID)
		}
		id := NodeID{File: file, Local: n.LocalID}
		span := Span{}
		if n.Span != nil {
			span = *n.Span
		}
		var err error
		switch n.Kind {
		case "scope":
			_, err = g.AddScopeNode(id, n.IsExported)
		case "push_symbol":
			_, err = g.AddPushSymbolNode(id, g.AddSymbol(n.Symbol), n.IsReference, span)
		case "pop_symbol":
			_, err = g.AddPopSymbolNode(id, g.AddSymbol(n.Symbol), n.IsDefinition, span)
		case "pop_scoped_symbol":
			_, err = g.AddPopScopedSymbolNode(id, g.AddSymbol(n.Symbol), n.IsDefinition, span)
		case "drop_scopes":
			_, err = g.AddDropScopesNode(id)
		case "push_scoped_symbol":
			// second pass
		default:
			return 0, fmt.Errorf("file %s: node %d: unknown kind %q", fg.File, n.LocalID, n.Kind)
		}
		if err != nil {
			return 0, err
		}
	}

	for _, n := range fg.Nodes {
		if n.Kind != "push_scoped_symbol" {
			continue
		}
		scope, ok := g.NodeForID(NodeID{File: file, Local: n.Scope})
		if !ok {
			return 0, fmt.Errorf("file %s: node %d: attached scope %d not found", fg.File, n.LocalID, n.Scope)
		}
		span := Span{}
		if n.Span != nil {
			span = *n.Span
		}
		id := NodeID{File: file, Local: n.LocalID}
		if _, err := g.AddPushScopedSymbolNode(id, g.AddSymbol(n.Symbol), scope, n.IsReference, span); err != nil {
			return 0, err
		}
	}

	for _, e := range fg.Edges {
		src, err := fg.endpointHandle(g, file, e.Source)
		if err != nil {
			return 0, err
		}
		sink, err := fg.endpointHandle(g, file, e.Sink)
		if err != nil {
			return 0, err
		}
		g.AddEdge(src, sink, e.Precedence)
	}
	return file, nil
}

func (fg FileGraph) endpointHandle(g *StackGraph, file FileHandle, end EdgeEnd) (NodeHandle, error) {
	switch end.Local {
	case rootLocalID:
		return g.Root(), nil
	case jumpToLocalID:
		return g.JumpTo(), nil
	}
	h, ok := g.NodeForID(NodeID{File: file, Local: end.Local})
	if !ok {
		return 0, fmt.Errorf("file %s: edge endpoint %d: %w", fg.File, end.Local, ErrUnknownNode)
	}
	return h, nil
}
