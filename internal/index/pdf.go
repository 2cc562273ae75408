// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/sourcegraph/conc/panics"
)

// ErrNoText is returned for documents with nothing to index, such as
// scanned PDFs without a text layer.
var ErrNoText = errors.New("no extractable text")

// readDocument returns the text of a supported document.
func readDocument(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return readPDF(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// readPDF extracts the plain text of every page, one page per paragraph.
// The parser panics on some malformed files; those become errors.
func readPDF(path string) (text string, err error) {
	rec := panics.Try(func() {
		text, err = extractPDF(path)
	})
	if rec != nil {
		return "", fmt.Errorf("malformed pdf: %v", rec.Value)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}
