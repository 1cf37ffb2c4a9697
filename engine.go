package taproot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jward/taproot/internal/store"
)

// Engine orchestrates the pipeline: per-file graph construction, partial
// path computation, persistence, and cross-file queries over the stored
// paths.
type Engine struct {
	store *store.Store

	// writeMu serializes store writes; path computation itself runs in
	// parallel.
	writeMu sync.Mutex

	useParallel      bool
	similarPathLimit int

	statsMu     sync.Mutex
	pathLengths FrequencyDistribution[int]
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallel controls parallel indexing. When true (default), IndexGraphs
// computes files' partial paths on a worker pool with store writes
// serialized. Set to false for serial mode.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.useParallel = parallel
	}
}

// WithSimilarPathLimit caps how many similar paths a query processes per
// endpoint/stack-shape bucket before treating further variants as cyclic
// noise. Zero keeps the default.
func WithSimilarPathLimit(limit int) Option {
	return func(e *Engine) {
		e.similarPathLimit = limit
	}
}

// New creates an Engine backed by a SQLite database at dbPath.
func New(dbPath string, opts ...Option) (*Engine, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("taproot: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("taproot: migrate: %w", err)
	}
	e := &Engine{store: s, useParallel: true}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// --- Indexing ---

// IndexGraph indexes one file's graph fragment: computes its partial paths
// and atomically replaces the file's stored blob and rows. Unchanged
// fragments (same content hash as the stored row) are skipped.
func (e *Engine) IndexGraph(ctx context.Context, source FileGraph) error {
	blob, err := json.Marshal(source)
	if err != nil {
		return fmt.Errorf("index %s: %w", source.File, err)
	}
	hash := fmt.Sprintf("%016x", xxhash.Sum64(blob))

	existing, err := e.store.FileByPath(source.File)
	if err != nil {
		return err
	}
	if existing != nil && existing.Hash == hash && existing.AnalyzedAt != nil {
		return nil
	}

	rows, err := e.computePaths(ctx, source)
	if err != nil {
		return err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.store.ReplaceFile(source.File, hash, blob, rows)
}

// IndexGraphs indexes a batch of fragments. Path computation runs on a
// worker pool when parallel mode is on; each file's write is its own
// transaction, so a failed file doesn't roll back the others.
func (e *Engine) IndexGraphs(ctx context.Context, sources []FileGraph) error {
	workers := 1
	if e.useParallel {
		workers = min(runtime.NumCPU(), len(sources))
		if workers < 1 {
			workers = 1
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, source := range sources {
		source := source
		g.Go(func() error {
			return e.IndexGraph(ctx, source)
		})
	}
	return g.Wait()
}

// computePaths builds a fresh graph for the fragment and runs the finder.
// Each file gets its own graph instance, so files never share handles and
// indexing runs are independent.
func (e *Engine) computePaths(ctx context.Context, source FileGraph) ([]*store.PartialPathRow, error) {
	g := NewStackGraph()
	file, err := source.LoadInto(g)
	if err != nil {
		return nil, err
	}

	var rows []*store.PartialPathRow
	var encodeErr error
	cancel := ContextCancellation{Ctx: ctx}
	err = FindPartialPathsInFile(g, file, cancel, func(p PartialPath) {
		if encodeErr != nil {
			return
		}
		row, err := encodePartialPath(g, p)
		if err != nil {
			encodeErr = err
			return
		}
		rows = append(rows, row)
		e.statsMu.Lock()
		e.pathLengths.Record(len(p.Edges))
		e.statsMu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	if encodeErr != nil {
		return nil, encodeErr
	}
	return rows, nil
}

// Invalidate drops a file's partial paths, marking it unanalyzed. Queries
// that would need the file report it through IncompletePathsError until it
// is reindexed.
func (e *Engine) Invalidate(file string) error {
	f, err := e.store.FileByPath(file)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("invalidate %s: %w", file, ErrUnknownFile)
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.store.InvalidateFile(file)
}

// Remove deletes a file and its partial paths from the database entirely.
func (e *Engine) Remove(file string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.store.DeleteFile(file)
}

// --- Queries ---

// Site locates a reference or definition in its source file.
type Site struct {
	File    string `json:"file"`
	LocalID uint32 `json:"id"`
	Span    Span   `json:"span"`
}

// Binding is one resolved name binding: a reference and the definition it
// binds to.
type Binding struct {
	Symbol     string `json:"symbol"`
	Reference  Site   `json:"reference"`
	Definition Site   `json:"definition"`
}

// FindDefinitions resolves the reference node (file, localID) to the
// definitions it binds to, best candidate first. When the search needed
// files whose paths are not current, the bindings found are returned
// together with an IncompletePathsError naming those files. A cancelled
// context likewise returns the bindings found before the abort alongside
// the CancelledError.
func (e *Engine) FindDefinitions(ctx context.Context, file string, localID uint32) ([]Binding, error) {
	q, start, err := e.newQuery(file, localID)
	if err != nil {
		return nil, err
	}
	if !q.graph.Node(start).IsReference {
		return nil, fmt.Errorf("find definitions: %s is not a reference", q.graph.nodeDisplay(start))
	}
	return q.run(ctx, start, Forward)
}

// FindReferences resolves the definition node (file, localID) to the
// references that bind to it. The incomplete-paths contract matches
// FindDefinitions.
func (e *Engine) FindReferences(ctx context.Context, file string, localID uint32) ([]Binding, error) {
	q, start, err := e.newQuery(file, localID)
	if err != nil {
		return nil, err
	}
	if !q.graph.Node(start).IsDefinition {
		return nil, fmt.Errorf("find references: %s is not a definition", q.graph.nodeDisplay(start))
	}
	return q.run(ctx, start, Backward)
}

// errMissingGraph marks a row referencing a file with no stored graph. The
// row is skipped and the file reported, never silently dropped.
var errMissingGraph = errors.New("graph fragment not stored")

// query is the per-call state of one stitching search: a private graph
// rebuilt from stored fragments, a path database filled lazily as the
// frontier reaches new junctions, and the bookkeeping for the
// incomplete-paths report.
type query struct {
	e     *Engine
	graph *StackGraph
	db    *Database

	loadedGraphs map[string]bool
	loadedFiles  map[string]bool
	loadedEnds   map[string]bool
	rootLoaded   bool
	jumpLoaded   bool

	rootTouched bool
	missing     map[string]bool
}

func (e *Engine) newQuery(file string, localID uint32) (*query, NodeHandle, error) {
	q := &query{
		e:            e,
		graph:        NewStackGraph(),
		loadedGraphs: make(map[string]bool),
		loadedFiles:  make(map[string]bool),
		loadedEnds:   make(map[string]bool),
		missing:      make(map[string]bool),
	}
	q.db = NewDatabase(q.graph)
	if err := q.ensureGraph(file); err != nil {
		if errors.Is(err, errMissingGraph) {
			return nil, invalidNode, fmt.Errorf("query %s: %w", file, ErrUnknownFile)
		}
		return nil, invalidNode, err
	}
	fh, _ := q.graph.FileHandleFor(file)
	start, ok := q.graph.NodeForID(NodeID{File: fh, Local: localID})
	if !ok {
		return nil, invalidNode, fmt.Errorf("query %s#%d: %w", file, localID, ErrUnknownNode)
	}
	return q, start, nil
}

// ensureGraph loads a file's stored fragment into the query graph. Stale
// files (invalidated, not reindexed) still contribute their graph but are
// recorded for the incomplete-paths report.
func (q *query) ensureGraph(path string) error {
	if q.loadedGraphs[path] {
		return nil
	}
	f, err := q.e.store.FileByPath(path)
	if err != nil {
		return err
	}
	if f == nil || len(f.Graph) == 0 {
		q.missing[path] = true
		return fmt.Errorf("%s: %w", path, errMissingGraph)
	}
	fg, err := ParseFileGraph(f.Graph)
	if err != nil {
		return err
	}
	if _, err := fg.LoadInto(q.graph); err != nil {
		return err
	}
	q.loadedGraphs[path] = true
	if f.AnalyzedAt == nil {
		q.missing[path] = true
	}
	return nil
}

// addRows decodes stored rows into the query database. Rows touching files
// with no stored graph are skipped after recording the file.
func (q *query) addRows(rows []*store.PartialPathRow) error {
	l := graphLoader{g: q.graph, ensure: q.ensureGraph}
	for _, row := range rows {
		p, err := decodePartialPath(l, row)
		if errors.Is(err, errMissingGraph) {
			continue
		}
		if err != nil {
			return err
		}
		q.db.AddPartialPath(p)
	}
	return nil
}

// load is the Stitcher's lazy loading callback: pull from the store
// whatever paths the frontier may need at this junction.
func (q *query) load(node NodeHandle, dir Direction) error {
	if node == q.graph.Root() {
		q.rootTouched = true
	}
	if dir == Forward {
		if node == q.graph.Root() {
			if q.rootLoaded {
				return nil
			}
			q.rootLoaded = true
			rows, err := q.e.store.PathsStartingAt(storedRootKey)
			if err != nil {
				return err
			}
			return q.addRows(rows)
		}
		path := q.graph.FilePath(q.graph.Node(node).ID.File)
		if path == "" || q.loadedFiles[path] {
			return nil
		}
		q.loadedFiles[path] = true
		rows, err := q.e.store.PathsByFile(path)
		if err != nil {
			return err
		}
		return q.addRows(rows)
	}

	// Backward: paths ending at this node, plus the jump-parked paths,
	// whose landing scope is only decided during stitching.
	if !q.jumpLoaded {
		q.jumpLoaded = true
		rows, err := q.e.store.PathsEndingAt(storedJumpToKey)
		if err != nil {
			return err
		}
		if err := q.addRows(rows); err != nil {
			return err
		}
	}
	key := nodeKey(q.graph, node)
	if q.loadedEnds[key] {
		return nil
	}
	q.loadedEnds[key] = true
	rows, err := q.e.store.PathsEndingAt(key)
	if err != nil {
		return err
	}
	return q.addRows(rows)
}

// Stored keys of the singleton nodes.
const (
	storedRootKey   = "#1"
	storedJumpToKey = "#2"
)

func (q *query) run(ctx context.Context, start NodeHandle, dir Direction) ([]Binding, error) {
	s := &Stitcher{
		Graph:            q.graph,
		DB:               q.db,
		Load:             q.load,
		SimilarPathLimit: q.e.similarPathLimit,
	}
	var complete []PartialPath
	err := s.FindCompletePaths(start, dir, ContextCancellation{Ctx: ctx}, func(p PartialPath) {
		complete = append(complete, p)
	})
	var cancelled *CancelledError
	if err != nil && !errors.As(err, &cancelled) {
		return nil, err
	}

	sort.SliceStable(complete, func(i, j int) bool {
		return compareBindings(complete[i], complete[j]) < 0
	})
	seen := make(map[[2]NodeHandle]bool)
	bindings := make([]Binding, 0, len(complete))
	for _, p := range complete {
		ends := [2]NodeHandle{p.StartNode, p.EndNode}
		if seen[ends] {
			continue
		}
		seen[ends] = true
		ref := q.graph.Node(p.StartNode)
		def := q.graph.Node(p.EndNode)
		bindings = append(bindings, Binding{
			Symbol:     q.graph.SymbolName(ref.Symbol),
			Reference:  q.site(ref),
			Definition: q.site(def),
		})
	}

	// An aborted search still surfaces what it found before the abort.
	if cancelled != nil {
		return bindings, err
	}
	if files := q.incompleteFiles(); len(files) > 0 {
		return bindings, &IncompletePathsError{Files: files}
	}
	return bindings, nil
}

func (q *query) site(n *Node) Site {
	return Site{File: q.graph.FilePath(n.ID.File), LocalID: n.ID.Local, Span: n.Span}
}

// incompleteFiles collects the files the search could not fully consult:
// those whose rows were skipped, and — once the frontier crossed the root —
// every stale file, since any of them could contribute a cross-file path.
func (q *query) incompleteFiles() []string {
	files := make(map[string]bool, len(q.missing))
	for f := range q.missing {
		files[f] = true
	}
	if q.rootTouched {
		stale, err := q.e.store.StaleFiles()
		if err == nil {
			for _, f := range stale {
				files[f] = true
			}
		}
	}
	if len(files) == 0 {
		return nil
	}
	out := make([]string, 0, len(files))
	for f := range files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// --- Status ---

// Status summarizes the database and the work done by this Engine instance.
type Status struct {
	Files        int      `json:"files"`
	PartialPaths int      `json:"partial_paths"`
	StaleFiles   []string `json:"stale_files,omitempty"`

	// PathLengthQuartiles summarizes the edge counts of partial paths
	// computed by this process; empty when nothing was indexed.
	PathLengthQuartiles []int `json:"path_length_quartiles,omitempty"`
}

// Status reports database counts and stale files.
func (e *Engine) Status() (*Status, error) {
	files, err := e.store.CountFiles()
	if err != nil {
		return nil, err
	}
	paths, err := e.store.CountPaths()
	if err != nil {
		return nil, err
	}
	stale, err := e.store.StaleFiles()
	if err != nil {
		return nil, err
	}
	e.statsMu.Lock()
	quartiles := e.pathLengths.Quantiles(4)
	e.statsMu.Unlock()
	return &Status{
		Files:               files,
		PartialPaths:        paths,
		StaleFiles:          stale,
		PathLengthQuartiles: quartiles,
	}, nil
}
