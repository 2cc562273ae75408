// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/jeranaias/manthan/internal/model"
)

// DefaultSearchLimit is used when Search is called with a non-positive limit.
const DefaultSearchLimit = 4

// Search returns the passages that best match query, best first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]model.Passage, error) {
	if !s.IsReady() {
		return nil, ErrNotIndexed
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return []model.Passage{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// bm25 ranks lower-is-better.
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.path, p.ordinal, p.text, bm25(passages_fts) AS score
		FROM passages_fts
		JOIN passages p ON p.id = passages_fts.rowid
		JOIN documents d ON d.id = p.document_id
		WHERE passages_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	passages := []model.Passage{}
	for rows.Next() {
		var p model.Passage
		var score float64
		if err := rows.Scan(&p.Source, &p.Ordinal, &p.Text, &score); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		p.Score = -score
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return passages, nil
}

// Documents returns the indexed document paths.
func (s *Store) Documents(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT path FROM documents ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return paths, nil
}

// buildFTSQuery turns free text into an FTS5 query. Every word becomes a
// quoted term and terms are OR-ed, so punctuation in the prompt can never
// reach the FTS5 syntax.
func buildFTSQuery(query string) string {
	words := strings.FieldsFunc(Normalize(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		if len([]rune(w)) < 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "do": true, "does": true, "for": true, "from": true,
	"how": true, "in": true, "is": true, "it": true, "me": true, "my": true,
	"of": true, "on": true, "or": true, "the": true, "this": true, "to": true,
	"was": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "why": true, "with": true, "you": true,
}
