// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdown renders finished answers. Renderers are kept per wrap width and
// results per message, so a redraw does not re-render unchanged text.
// It is only used from the Bubble Tea loop.
type markdown struct {
	style     string
	renderers map[int]*glamour.TermRenderer
	cache     map[string]string
}

func newMarkdown(style string) *markdown {
	return &markdown{
		style:     style,
		renderers: make(map[int]*glamour.TermRenderer),
		cache:     make(map[string]string),
	}
}

// Render returns text rendered for width. id identifies the message the
// text belongs to; an empty id disables caching.
func (m *markdown) Render(id, text string, width int) string {
	if width < 10 {
		return text
	}
	key := fmt.Sprintf("%s/%d/%d", id, width, len(text))
	if id != "" {
		if out, ok := m.cache[key]; ok {
			return out
		}
	}

	r, ok := m.renderers[width]
	if !ok {
		var err error
		r, err = glamour.NewTermRenderer(
			glamour.WithStandardStyle(m.style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return text
		}
		m.renderers[width] = r
	}

	out, err := r.Render(text)
	if err != nil {
		return text
	}
	out = strings.Trim(out, "\n")
	if id != "" {
		m.cache[key] = out
	}
	return out
}

// Reset drops cached renderings, e.g. after a theme change.
func (m *markdown) Reset(style string) {
	m.style = style
	m.renderers = make(map[int]*glamour.TermRenderer)
	m.cache = make(map[string]string)
}
