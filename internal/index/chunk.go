// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultChunkSize is the passage size in runes.
const DefaultChunkSize = 800

// minChunkSize keeps tiny settings from producing one passage per word.
const minChunkSize = 64

// Normalize applies NFKC, unifies line endings and collapses runs of
// horizontal whitespace. Blank lines survive as paragraph breaks.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.FieldsFunc(line, isHorizontalSpace), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isHorizontalSpace(r rune) bool {
	return r != '\n' && unicode.IsSpace(r)
}

// Chunk splits normalized text into passages of at most size runes.
// Paragraphs are kept together when they fit; longer paragraphs are split
// on word boundaries, and words longer than size are cut.
func Chunk(text string, size int) []string {
	if size < minChunkSize {
		size = minChunkSize
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	add := func(piece, sep string) {
		n := utf8.RuneCountInString(piece)
		if curLen > 0 && curLen+len(sep)+n > size {
			flush()
		}
		if curLen > 0 {
			cur.WriteString(sep)
			curLen += len(sep)
		}
		cur.WriteString(piece)
		curLen += n
	}

	for _, para := range paragraphs(text) {
		if utf8.RuneCountInString(para) <= size {
			add(para, "\n\n")
			continue
		}
		flush()
		for _, word := range strings.Fields(para) {
			for _, piece := range splitRunes(word, size) {
				add(piece, " ")
			}
		}
		flush()
	}
	flush()
	return chunks
}

// paragraphs returns the blank-line separated blocks of text with inner
// line breaks folded to spaces.
func paragraphs(text string) []string {
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(strings.ReplaceAll(block, "\n", " "))
		if block != "" {
			out = append(out, block)
		}
	}
	return out
}

func splitRunes(s string, size int) []string {
	runes := []rune(s)
	if len(runes) <= size {
		return []string{s}
	}
	var out []string
	for len(runes) > size {
		out = append(out, string(runes[:size]))
		runes = runes[size:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
