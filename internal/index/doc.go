// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package index provides the retrieval store used to augment prompts.
//
// Documents under a directory (or a single file) are normalized, split into
// passages and stored in a SQLite database with an FTS5 table for ranked
// full-text search.
//
// # Key Types
//
//   - Store: SQLite-backed passage store
//   - Status: Load state, source path and counts
//   - BuildReport: Result of a rebuild, including skipped files
//   - Watcher: File system watcher for incremental updates
//
// # Supported Documents
//
//   - Plain text (.txt)
//   - Markdown (.md, .markdown)
//
// PDF files are listed as skipped; there is no text extractor for them.
//
// # Usage
//
// Open the store and build it:
//
//	store, err := index.Open(index.DefaultConfig(dir), logger)
//	report, err := store.Rebuild(ctx)
//
// Search it:
//
//	passages, err := store.Search(ctx, "quarterly revenue", 4)
//
// Keep it current while documents change:
//
//	w, err := store.Watch(ctx)
package index
