// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sink

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/muesli/termenv"

	"github.com/jeranaias/manthan/internal/model"
)

var prefixColors = []termenv.ANSIColor{
	termenv.ANSICyan,
	termenv.ANSIMagenta,
	termenv.ANSIYellow,
	termenv.ANSIBlue,
	termenv.ANSIGreen,
	termenv.ANSIBrightRed,
}

// Writer prints increments as complete lines prefixed with the model key.
// Partial lines are held per model until a newline or the outcome arrives,
// so concurrent models interleave line by line.
type Writer struct {
	mu      sync.Mutex
	out     io.Writer
	profile termenv.Profile

	width   int
	colors  map[string]termenv.ANSIColor
	partial map[string]*strings.Builder
}

// NewWriter creates a line-prefixed writer. keys fixes prefix alignment and
// color order; unknown keys are accepted as they appear.
func NewWriter(out io.Writer, profile termenv.Profile, keys []string) *Writer {
	w := &Writer{
		out:     out,
		profile: profile,
		colors:  make(map[string]termenv.ANSIColor),
		partial: make(map[string]*strings.Builder),
	}
	for _, k := range keys {
		w.register(k)
	}
	return w
}

func (w *Writer) register(key string) {
	if _, ok := w.colors[key]; ok {
		return
	}
	w.colors[key] = prefixColors[len(w.colors)%len(prefixColors)]
	if len(key) > w.width {
		w.width = len(key)
	}
}

func (w *Writer) prefix(key string) string {
	label := fmt.Sprintf("%-*s │ ", w.width, key)
	return w.profile.String(label).Foreground(w.colors[key]).String()
}

func (w *Writer) OnIncrement(key, delta string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.register(key)

	buf, ok := w.partial[key]
	if !ok {
		buf = &strings.Builder{}
		w.partial[key] = buf
	}
	buf.WriteString(delta)

	text := buf.String()
	idx := strings.LastIndexByte(text, '\n')
	if idx < 0 {
		return
	}
	for _, line := range strings.Split(text[:idx], "\n") {
		fmt.Fprintf(w.out, "%s%s\n", w.prefix(key), line)
	}
	buf.Reset()
	buf.WriteString(text[idx+1:])
}

func (w *Writer) OnOutcome(key string, outcome model.StreamOutcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.register(key)

	if buf, ok := w.partial[key]; ok && buf.Len() > 0 {
		fmt.Fprintf(w.out, "%s%s\n", w.prefix(key), buf.String())
		buf.Reset()
	}

	status := w.profile.String(outcome.Summary())
	if outcome.OK() {
		status = status.Faint()
	} else {
		status = status.Foreground(termenv.ANSIRed).Bold()
	}
	fmt.Fprintf(w.out, "%s%s\n", w.prefix(key), status.String())
}
