package taproot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jward/taproot/internal/store"
)

// Stable node keys tie stored rows to graph nodes across process runs:
// "path#local" for file nodes, "#1" for root, "#2" for jump-to. Handles are
// per-graph and never serialized.

func nodeKey(g *StackGraph, h NodeHandle) string {
	n := g.Node(h)
	return fmt.Sprintf("%s#%d", g.FilePath(n.ID.File), n.ID.Local)
}

// graphLoader resolves stored node keys against a graph, pulling in missing
// files' fragments through ensure when set. Stored rows may name nodes in
// files other than their own (a resolved jump lands wherever its scope
// lives), so decoding is what drives lazy graph loading.
type graphLoader struct {
	g      *StackGraph
	ensure func(path string) error
}

func (l graphLoader) nodeForKey(key string) (NodeHandle, error) {
	i := strings.LastIndexByte(key, '#')
	if i < 0 {
		return invalidNode, fmt.Errorf("node key %q: %w", key, ErrUnknownNode)
	}
	local, err := strconv.ParseUint(key[i+1:], 10, 32)
	if err != nil {
		return invalidNode, fmt.Errorf("node key %q: %w", key, ErrUnknownNode)
	}
	id := NodeID{Local: uint32(local)}
	if path := key[:i]; path != "" {
		file, ok := l.g.FileHandleFor(path)
		if !ok {
			if l.ensure == nil {
				return invalidNode, fmt.Errorf("node key %q: %w", key, ErrUnknownFile)
			}
			if err := l.ensure(path); err != nil {
				return invalidNode, err
			}
			if file, ok = l.g.FileHandleFor(path); !ok {
				return invalidNode, fmt.Errorf("node key %q: %w", key, ErrUnknownFile)
			}
		}
		id.File = file
	}
	h, ok := l.g.NodeForID(id)
	if !ok {
		return invalidNode, fmt.Errorf("node key %q: %w", key, ErrUnknownNode)
	}
	return h, nil
}

// JSON shapes for the stored stack conditions and edge lists.

type scopeStackJSON struct {
	Scopes []string `json:"scopes,omitempty"`
	Var    uint32   `json:"var,omitempty"`
}

type symbolEntryJSON struct {
	Symbol string          `json:"symbol"`
	Scopes *scopeStackJSON `json:"scopes,omitempty"`
}

type symbolStackJSON struct {
	Symbols []symbolEntryJSON `json:"symbols,omitempty"`
	Var     uint32            `json:"var,omitempty"`
}

type pathEdgeJSON struct {
	Source     string `json:"source"`
	Precedence int    `json:"precedence,omitempty"`
}

func encodeScopeStack(g *StackGraph, s PartialScopeStack) scopeStackJSON {
	out := scopeStackJSON{Var: uint32(s.Variable())}
	for _, scope := range s.Scopes() {
		out.Scopes = append(out.Scopes, nodeKey(g, scope))
	}
	return out
}

func decodeScopeStack(l graphLoader, in scopeStackJSON) (PartialScopeStack, error) {
	s := ScopeStackWithVariable(ScopeStackVariable(in.Var))
	for i := len(in.Scopes) - 1; i >= 0; i-- {
		h, err := l.nodeForKey(in.Scopes[i])
		if err != nil {
			return PartialScopeStack{}, err
		}
		s = s.PushFront(h)
	}
	return s, nil
}

func encodeSymbolStack(g *StackGraph, s PartialSymbolStack) symbolStackJSON {
	out := symbolStackJSON{Var: uint32(s.Variable())}
	for _, e := range s.Entries() {
		je := symbolEntryJSON{Symbol: g.SymbolName(e.Symbol)}
		if e.Scopes != nil {
			scopes := encodeScopeStack(g, *e.Scopes)
			je.Scopes = &scopes
		}
		out.Symbols = append(out.Symbols, je)
	}
	return out
}

func decodeSymbolStack(l graphLoader, in symbolStackJSON) (PartialSymbolStack, error) {
	s := SymbolStackWithVariable(SymbolStackVariable(in.Var))
	for i := len(in.Symbols) - 1; i >= 0; i-- {
		je := in.Symbols[i]
		entry := ScopedSymbol{Symbol: l.g.AddSymbol(je.Symbol)}
		if je.Scopes != nil {
			scopes, err := decodeScopeStack(l, *je.Scopes)
			if err != nil {
				return PartialSymbolStack{}, err
			}
			entry.Scopes = &scopes
		}
		s = s.PushFront(entry)
	}
	return s, nil
}

// encodePartialPath renders p as a storable row. FileID is left for the
// store to fill.
func encodePartialPath(g *StackGraph, p PartialPath) (*store.PartialPathRow, error) {
	marshal := func(v any) (string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode partial path: %w", err)
		}
		return string(data), nil
	}
	row := &store.PartialPathRow{
		StartNode: nodeKey(g, p.StartNode),
		EndNode:   nodeKey(g, p.EndNode),
		Length:    len(p.Edges),
	}
	var err error
	if row.SymbolPre, err = marshal(encodeSymbolStack(g, p.SymbolPre)); err != nil {
		return nil, err
	}
	if row.SymbolPost, err = marshal(encodeSymbolStack(g, p.SymbolPost)); err != nil {
		return nil, err
	}
	if row.ScopePre, err = marshal(encodeScopeStack(g, p.ScopePre)); err != nil {
		return nil, err
	}
	if row.ScopePost, err = marshal(encodeScopeStack(g, p.ScopePost)); err != nil {
		return nil, err
	}
	edges := make([]pathEdgeJSON, 0, len(p.Edges))
	for _, e := range p.Edges {
		edges = append(edges, pathEdgeJSON{Source: nodeKey(g, e.Source), Precedence: e.Precedence})
	}
	if row.Edges, err = marshal(edges); err != nil {
		return nil, err
	}
	return row, nil
}

// decodePartialPath rebuilds a path from a stored row. Nodes the row names
// in files not yet present in the graph are pulled in through the loader.
func decodePartialPath(l graphLoader, row *store.PartialPathRow) (PartialPath, error) {
	var p PartialPath
	var err error
	if p.StartNode, err = l.nodeForKey(row.StartNode); err != nil {
		return PartialPath{}, err
	}
	if p.EndNode, err = l.nodeForKey(row.EndNode); err != nil {
		return PartialPath{}, err
	}

	var symPre, symPost symbolStackJSON
	var scopePre, scopePost scopeStackJSON
	var edges []pathEdgeJSON
	for _, field := range []struct {
		data string
		into any
	}{
		{row.SymbolPre, &symPre},
		{row.SymbolPost, &symPost},
		{row.ScopePre, &scopePre},
		{row.ScopePost, &scopePost},
		{row.Edges, &edges},
	} {
		if err := json.Unmarshal([]byte(field.data), field.into); err != nil {
			return PartialPath{}, fmt.Errorf("decode partial path %d: %w", row.ID, err)
		}
	}

	if p.SymbolPre, err = decodeSymbolStack(l, symPre); err != nil {
		return PartialPath{}, err
	}
	if p.SymbolPost, err = decodeSymbolStack(l, symPost); err != nil {
		return PartialPath{}, err
	}
	if p.ScopePre, err = decodeScopeStack(l, scopePre); err != nil {
		return PartialPath{}, err
	}
	if p.ScopePost, err = decodeScopeStack(l, scopePost); err != nil {
		return PartialPath{}, err
	}
	p.Edges = make([]PartialPathEdge, 0, len(edges))
	for _, e := range edges {
		src, err := l.nodeForKey(e.Source)
		if err != nil {
			return PartialPath{}, err
		}
		p.Edges = append(p.Edges, PartialPathEdge{Source: src, Precedence: e.Precedence})
	}
	return p, nil
}
