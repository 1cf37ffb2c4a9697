package store

import (
	"database/sql"
	"fmt"
	"time"
)

// --- File operations ---

func (s *Store) scanFile(scanner interface{ Scan(...any) error }) (*File, error) {
	f := &File{}
	if err := scanner.Scan(&f.ID, &f.Path, &f.Hash, &f.Graph, &f.AnalyzedAt, &f.LastIndexed); err != nil {
		return nil, err
	}
	return f, nil
}

const fileCols = "id, path, hash, graph, analyzed_at, last_indexed"

// FileByPath returns the file row for path, or nil when absent.
func (s *Store) FileByPath(path string) (*File, error) {
	f, err := s.scanFile(s.db.QueryRow(
		"SELECT "+fileCols+" FROM files WHERE path = ?", path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	return f, nil
}

// Files returns all file rows ordered by path. Graph blobs are not loaded.
func (s *Store) Files() ([]*File, error) {
	rows, err := s.db.Query(
		"SELECT id, path, hash, analyzed_at, last_indexed FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f := &File{}
		if err := rows.Scan(&f.ID, &f.Path, &f.Hash, &f.AnalyzedAt, &f.LastIndexed); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// StaleFiles returns the paths of files whose partial paths have been
// invalidated and not recomputed.
func (s *Store) StaleFiles() ([]string, error) {
	rows, err := s.db.Query("SELECT path FROM files WHERE analyzed_at IS NULL ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("stale files: %w", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan stale file: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ReplaceFile atomically replaces one file's row and all of its partial
// paths. No other file's rows are touched.
func (s *Store) ReplaceFile(path, hash string, graph []byte, paths []*PartialPathRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace file: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM files WHERE path = ?", path); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	now := time.Now().UTC()
	res, err := tx.Exec(
		"INSERT INTO files (path, hash, graph, analyzed_at, last_indexed) VALUES (?, ?, ?, ?, ?)",
		path, hash, graph, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO partial_paths (file_id, start_node, end_node, symbol_pre, symbol_post,
			scope_pre, scope_post, edges, length)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert path: %w", err)
	}
	defer stmt.Close()
	for _, p := range paths {
		if _, err := stmt.Exec(
			fileID, p.StartNode, p.EndNode, p.SymbolPre, p.SymbolPost,
			p.ScopePre, p.ScopePost, p.Edges, p.Length,
		); err != nil {
			return fmt.Errorf("insert path: %w", err)
		}
	}
	return tx.Commit()
}

// InvalidateFile drops a file's partial paths and marks it unanalyzed. The
// graph blob stays so queries can still name the file as incomplete.
func (s *Store) InvalidateFile(path string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin invalidate: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(
		"DELETE FROM partial_paths WHERE file_id IN (SELECT id FROM files WHERE path = ?)", path,
	); err != nil {
		return fmt.Errorf("delete paths: %w", err)
	}
	if _, err := tx.Exec("UPDATE files SET analyzed_at = NULL WHERE path = ?", path); err != nil {
		return fmt.Errorf("mark unanalyzed: %w", err)
	}
	return tx.Commit()
}

// DeleteFile removes a file and its paths entirely.
func (s *Store) DeleteFile(path string) error {
	if _, err := s.db.Exec("DELETE FROM files WHERE path = ?", path); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// --- Partial path operations ---

const pathCols = `p.id, p.file_id, f.path, p.start_node, p.end_node,
	p.symbol_pre, p.symbol_post, p.scope_pre, p.scope_post, p.edges, p.length`

func (s *Store) queryPaths(query string, args ...any) ([]*PartialPathRow, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query paths: %w", err)
	}
	defer rows.Close()
	var paths []*PartialPathRow
	for rows.Next() {
		p := &PartialPathRow{}
		if err := rows.Scan(
			&p.ID, &p.FileID, &p.FilePath, &p.StartNode, &p.EndNode,
			&p.SymbolPre, &p.SymbolPost, &p.ScopePre, &p.ScopePost, &p.Edges, &p.Length,
		); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// PathsByFile returns every partial path owned by the file at path.
func (s *Store) PathsByFile(path string) ([]*PartialPathRow, error) {
	return s.queryPaths(
		"SELECT "+pathCols+" FROM partial_paths p JOIN files f ON f.id = p.file_id WHERE f.path = ? ORDER BY p.id",
		path)
}

// PathsStartingAt returns every partial path whose start node key matches,
// across all files.
func (s *Store) PathsStartingAt(nodeKey string) ([]*PartialPathRow, error) {
	return s.queryPaths(
		"SELECT "+pathCols+" FROM partial_paths p JOIN files f ON f.id = p.file_id WHERE p.start_node = ? ORDER BY p.id",
		nodeKey)
}

// PathsEndingAt returns every partial path whose end node key matches,
// across all files.
func (s *Store) PathsEndingAt(nodeKey string) ([]*PartialPathRow, error) {
	return s.queryPaths(
		"SELECT "+pathCols+" FROM partial_paths p JOIN files f ON f.id = p.file_id WHERE p.end_node = ? ORDER BY p.id",
		nodeKey)
}

// --- Stats ---

func (s *Store) CountFiles() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&n); err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return n, nil
}

func (s *Store) CountPaths() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM partial_paths").Scan(&n); err != nil {
		return 0, fmt.Errorf("count paths: %w", err)
	}
	return n, nil
}
