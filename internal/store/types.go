package store

import "time"

// File is one indexed source file: its content hash, its serialized graph
// fragment, and whether its partial paths are current. AnalyzedAt is nil
// when the file has been invalidated but not yet reindexed.
type File struct {
	ID          int64
	Path        string
	Hash        string
	Graph       []byte
	AnalyzedAt  *time.Time
	LastIndexed time.Time
}

// PartialPathRow is one stored partial path. Node columns hold stable
// "path#local" keys; the stack conditions and edge list are JSON. FilePath
// is joined in on reads and ignored on writes.
type PartialPathRow struct {
	ID         int64
	FileID     int64
	FilePath   string
	StartNode  string
	EndNode    string
	SymbolPre  string
	SymbolPost string
	ScopePre   string
	ScopePost  string
	Edges      string
	Length     int
}
