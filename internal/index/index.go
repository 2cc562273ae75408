// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotIndexed    = errors.New("documents not indexed")
	ErrIndexing      = errors.New("indexing in progress")
	ErrDatabaseError = errors.New("database error")
	ErrInvalidPath   = errors.New("invalid path")
)

// =============================================================================
// CONFIG
// =============================================================================

// Config holds store configuration.
type Config struct {
	// Source is a documents directory or a single document.
	Source string

	// DatabasePath is where to store the SQLite database
	DatabasePath string

	// ChunkSize is the passage size in runes
	ChunkSize int

	// MaxFileSize is the maximum file size to index (bytes)
	MaxFileSize int64

	// IgnorePatterns are glob patterns matched against base names
	IgnorePatterns []string

	// WatchDebounce is the debounce duration for file change events
	WatchDebounce time.Duration
}

// DefaultConfig returns default configuration for source.
func DefaultConfig(source string) Config {
	return Config{
		Source:       source,
		DatabasePath: filepath.Join(filepath.Dir(filepath.Clean(source)), ".manthan-index.db"),
		ChunkSize:    DefaultChunkSize,
		MaxFileSize:  10 * 1024 * 1024, // 10MB
		IgnorePatterns: []string{
			".git", ".svn", ".hg",
			"node_modules", ".venv", "venv",
			".idea", ".vscode",
			".*.swp", "*~",
		},
		WatchDebounce: 500 * time.Millisecond,
	}
}

// =============================================================================
// STORE
// =============================================================================

// Store holds document passages for retrieval.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
	mu     sync.RWMutex

	// Indexing state
	indexing    bool
	indexingMu  sync.Mutex
	lastIndexed time.Time
	docCount    int
	passages    int
	skipped     []Skipped
}

// Skipped is a file that was seen but not indexed.
type Skipped struct {
	Path   string
	Reason string
}

// BuildReport summarizes a rebuild.
type BuildReport struct {
	Documents int
	Passages  int
	Skipped   []Skipped
	Elapsed   time.Duration
}

// Open opens or creates the store database.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidPath)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultConfig(cfg.Source).MaxFileSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, cfg: cfg, logger: logger.With("component", "index")}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.loadStats(); err != nil {
		s.logger.Debug("no previous index statistics", "error", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return err
	}
	if _, err := s.db.Exec(InitMetadata); err != nil {
		return err
	}

	// A database built from another source is stale.
	var source string
	if err := s.db.QueryRow("SELECT value FROM metadata WHERE key = 'source_path'").Scan(&source); err != nil {
		return err
	}
	if source != "" && source != s.cfg.Source {
		s.logger.Info("index source changed, clearing", "old", source, "new", s.cfg.Source)
		if _, err := s.db.Exec("DELETE FROM documents; UPDATE metadata SET value = '0' WHERE key = 'last_full_index'"); err != nil {
			return err
		}
	}
	_, err := s.db.Exec("UPDATE metadata SET value = ? WHERE key = 'source_path'", s.cfg.Source)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// INDEXING
// =============================================================================

// Rebuild clears the store and indexes the source again.
func (s *Store) Rebuild(ctx context.Context) (*BuildReport, error) {
	s.indexingMu.Lock()
	if s.indexing {
		s.indexingMu.Unlock()
		return nil, ErrIndexing
	}
	s.indexing = true
	s.indexingMu.Unlock()

	defer func() {
		s.indexingMu.Lock()
		s.indexing = false
		s.indexingMu.Unlock()
	}()

	info, err := os.Stat(s.cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	start := time.Now()
	report := &BuildReport{}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM documents"); err != nil {
		return nil, fmt.Errorf("failed to clear documents: %w", err)
	}

	var files []*candidate
	visit := func(path string, info fs.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		reason := s.skipReason(path, info)
		if reason != skipSilently {
			files = append(files, &candidate{path: path, info: info, reason: reason})
		}
		return nil
	}

	if info.IsDir() {
		err = filepath.Walk(s.cfg.Source, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() {
				if path != s.cfg.Source && s.shouldIgnore(filepath.Base(path)) {
					return filepath.SkipDir
				}
				return nil
			}
			return visit(path, info)
		})
	} else {
		err = visit(s.cfg.Source, info)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to walk documents: %w", err)
	}

	if err := extract(ctx, files); err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.reason == "" && f.err != nil {
			s.logger.Warn("failed to read document", "path", f.path, "error", f.err)
			f.reason = f.err.Error()
		}
		if f.reason != "" {
			report.Skipped = append(report.Skipped, Skipped{Path: s.relPath(f.path), Reason: f.reason})
			continue
		}
		n, err := s.insertDocument(tx, f.path, f.info, f.text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		report.Documents++
		report.Passages += n
	}

	if _, err := tx.Exec("UPDATE metadata SET value = ? WHERE key = 'last_full_index'", start.Unix()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.lastIndexed = start
	s.docCount = report.Documents
	s.passages = report.Passages
	s.skipped = report.Skipped

	report.Elapsed = time.Since(start)
	s.logger.Info("index rebuilt",
		"documents", report.Documents,
		"passages", report.Passages,
		"skipped", len(report.Skipped),
		"elapsed", report.Elapsed)
	return report, nil
}

const skipSilently = "-"

// skipReason returns why path is not indexed, or "" when it is.
func (s *Store) skipReason(path string, info fs.FileInfo) string {
	if s.shouldIgnore(filepath.Base(path)) {
		return skipSilently
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown", ".pdf":
	default:
		return skipSilently
	}
	if info.Size() > s.cfg.MaxFileSize {
		return fmt.Sprintf("larger than %d bytes", s.cfg.MaxFileSize)
	}
	return ""
}

// candidate is a file found by a rebuild walk. A non-empty reason marks a
// file that is reported but not read.
type candidate struct {
	path   string
	info   fs.FileInfo
	reason string

	text string
	err  error
}

// extract reads the candidates concurrently. Read failures stay on their
// candidate; only cancellation fails the whole extraction.
func extract(ctx context.Context, files []*candidate) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, f := range files {
		if f.reason != "" {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f.text, f.err = readDocument(f.path)
			return nil
		})
	}
	return g.Wait()
}

// indexFile reads one document and stores its passages.
func (s *Store) indexFile(tx *sql.Tx, path string, info fs.FileInfo) (int, error) {
	content, err := readDocument(path)
	if err != nil {
		return 0, err
	}
	return s.insertDocument(tx, path, info, content)
}

// insertDocument stores the passages of one document and returns their count.
func (s *Store) insertDocument(tx *sql.Tx, path string, info fs.FileInfo, content string) (int, error) {
	chunks := Chunk(Normalize(content), s.cfg.ChunkSize)

	result, err := tx.Exec(`
		INSERT INTO documents (path, mod_time, size, indexed_at)
		VALUES (?, ?, ?, ?)
	`, s.relPath(path), info.ModTime().Unix(), info.Size(), time.Now().Unix())
	if err != nil {
		return 0, err
	}
	docID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, text := range chunks {
		if _, err := tx.Exec(
			"INSERT INTO passages (document_id, ordinal, text) VALUES (?, ?, ?)",
			docID, i, text,
		); err != nil {
			return 0, err
		}
	}
	return len(chunks), nil
}

// relPath returns path relative to the source directory. A single-file
// source is stored by its base name.
func (s *Store) relPath(path string) string {
	root := s.cfg.Source
	if path == root {
		return filepath.Base(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (s *Store) shouldIgnore(name string) bool {
	for _, pattern := range s.cfg.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

func (s *Store) loadStats() error {
	var lastIndexed int64
	if err := s.db.QueryRow("SELECT value FROM metadata WHERE key = 'last_full_index'").Scan(&lastIndexed); err != nil {
		return err
	}
	if lastIndexed > 0 {
		s.lastIndexed = time.Unix(lastIndexed, 0)
	}
	return s.countLocked()
}

func (s *Store) countLocked() error {
	if err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&s.docCount); err != nil {
		return err
	}
	return s.db.QueryRow("SELECT COUNT(*) FROM passages").Scan(&s.passages)
}

// =============================================================================
// STATUS
// =============================================================================

// Status describes the store.
type Status struct {
	Loaded       bool
	Path         string
	IsDir        bool
	Exists       bool
	Documents    int
	Passages     int
	Skipped      []Skipped
	LastIndexed  time.Time
	IsIndexing   bool
	DatabasePath string
	DatabaseSize int64
}

// IsReady reports whether the store was built and holds passages.
func (s *Store) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.lastIndexed.IsZero() && s.passages > 0
}

// Status returns the current store status.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.indexingMu.Lock()
	indexing := s.indexing
	s.indexingMu.Unlock()

	st := Status{
		Loaded:       !s.lastIndexed.IsZero() && s.passages > 0,
		Path:         s.cfg.Source,
		Documents:    s.docCount,
		Passages:     s.passages,
		Skipped:      append([]Skipped(nil), s.skipped...),
		LastIndexed:  s.lastIndexed,
		IsIndexing:   indexing,
		DatabasePath: s.cfg.DatabasePath,
	}
	if info, err := os.Stat(s.cfg.Source); err == nil {
		st.Exists = true
		st.IsDir = info.IsDir()
	}
	if info, err := os.Stat(s.cfg.DatabasePath); err == nil {
		st.DatabaseSize = info.Size()
	}
	return st
}
