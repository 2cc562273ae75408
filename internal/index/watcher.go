// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// Watcher applies document changes to the store incrementally.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]time.Time // File path -> last change time

	// Applied receives the path of every applied change. Tests use it;
	// nil disables it.
	applied chan string

	wg sync.WaitGroup
}

// Watch starts watching the store's source until ctx is done.
func (s *Store) Watch(ctx context.Context) (*Watcher, error) {
	return s.watch(ctx, nil)
}

func (s *Store) watch(ctx context.Context, applied chan string) (*Watcher, error) {
	info, err := os.Stat(s.cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	debounce := s.cfg.WatchDebounce
	if debounce <= 0 {
		debounce = DefaultConfig(s.cfg.Source).WatchDebounce
	}

	w := &Watcher{
		store:    s,
		watcher:  fsw,
		debounce: debounce,
		pending:  make(map[string]time.Time),
		applied:  applied,
	}

	if info.IsDir() {
		w.addRecursive(s.cfg.Source)
	} else if err := fsw.Add(filepath.Dir(s.cfg.Source)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.cfg.Source, err)
	}

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.processPending(ctx)
	return w, nil
}

// Wait blocks until the watcher has stopped.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

// addRecursive adds a directory and all its subdirectories to the watch list
func (w *Watcher) addRecursive(dir string) {
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		if path != dir && w.store.shouldIgnore(filepath.Base(path)) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.store.logger.Debug("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	defer w.watcher.Close()
	defer func() {
		if r := recover(); r != nil {
			w.store.logger.Error("index watcher panic", "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.store.logger.Warn("index watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.store.shouldIgnore(filepath.Base(event.Name)) && w.store.inSource(event.Name) {
				w.addRecursive(event.Name)
			}
			return
		}
	}
	if !w.store.inSource(event.Name) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// processPending applies changes once a path has been quiet for the debounce.
func (w *Watcher) processPending(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(max(w.debounce/4, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()

			w.mu.Lock()
			var ready []string
			for path, changed := range w.pending {
				if now.Sub(changed) >= w.debounce {
					ready = append(ready, path)
					delete(w.pending, path)
				}
			}
			w.mu.Unlock()

			for _, path := range ready {
				if err := w.store.Update(ctx, path); err != nil {
					w.store.logger.Warn("failed to update document", "path", path, "error", err)
					continue
				}
				if w.applied != nil {
					select {
					case w.applied <- path:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}
}

// =============================================================================
// INCREMENTAL UPDATES
// =============================================================================

// Update re-indexes one document, or removes it when it no longer exists
// or is no longer indexable.
func (s *Store) Update(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM documents WHERE path = ?", s.relPath(path)); err != nil {
		return err
	}

	if info, err := os.Stat(path); err == nil && !info.IsDir() && s.skipReason(path, info) == "" {
		if _, err := s.indexFile(tx, path, info); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s.countLocked()
}

// inSource reports whether path is the source file or lies under the
// source directory.
func (s *Store) inSource(path string) bool {
	path = filepath.Clean(path)
	root := filepath.Clean(s.cfg.Source)
	if path == root {
		return true
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
