// Package taproot performs incremental, cross-file name resolution over stack
// graphs: append-only graphs whose nodes encode a two-stack automaton (a
// symbol stack of names being resolved and a scope stack of places to look
// for them). Name bindings are paths through the graph from a reference to a
// definition that leave both stacks empty at both ends.
//
// # Pipeline
//
// Taproot operates in two phases:
//
//  1. Index: For each source file, an external extraction layer describes the
//     file's graph fragment (nodes, edges, exports). Taproot computes every
//     partial path in the fragment — a self-contained path with symbolic
//     pre- and postconditions on both stacks — and persists them to SQLite.
//
//  2. Resolve: At query time, partial paths from different files are stitched
//     together: one path's postcondition is unified with another's
//     precondition until complete, empty-stack-to-empty-stack bindings fall
//     out. Files the search never touches are never read, so analyzing one
//     file never invalidates another file's cached results.
//
// # Usage
//
// Create an Engine, index per-file graph fragments, and query:
//
//	e, err := taproot.New("taproot.db")
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	err = e.IndexGraphs(ctx, fragments)
//
//	bindings, err := e.FindDefinitions(ctx, "lib.py", 12)
//
// # Incremental updates
//
// [Engine.IndexGraph] detects unchanged fragments via content hashing and
// skips them. Reindexing a file replaces exactly that file's partial paths in
// one transaction; no other file's rows are read or written. A stitching
// query that reaches a file whose paths were invalidated reports the affected
// files via [IncompletePathsError] instead of silently returning fewer
// bindings.
//
// # Lower layers
//
// The [StackGraph], [FindPartialPathsInFile], [Stitcher], and [Database]
// types are exported for callers that manage their own storage. Handles
// issued by a StackGraph are only valid against the graph instance that
// issued them.
package taproot
