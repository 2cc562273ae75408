// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"sync"

	"github.com/jeranaias/manthan/internal/model"
)

// Memory is the transcript a retained handle remembers across turns.
type Memory struct {
	mu       sync.Mutex
	messages []model.Message
}

// Remember appends one completed exchange.
func (m *Memory) Remember(prompt, answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages,
		model.Message{Role: model.RoleUser, Content: prompt},
		model.Message{Role: model.RoleAssistant, Content: answer},
	)
}

// ResetMemory forgets every remembered exchange.
func (m *Memory) ResetMemory() {
	m.mu.Lock()
	m.messages = nil
	m.mu.Unlock()
}

// Recent drops all but the last pairs exchanges and returns a copy of
// what is left.
func (m *Memory) Recent(pairs int) []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pairs <= 0 {
		m.messages = nil
		return []model.Message{}
	}
	if keep := 2 * pairs; len(m.messages) > keep {
		m.messages = append([]model.Message(nil), m.messages[len(m.messages)-keep:]...)
	}
	return model.CloneMessages(m.messages)
}

// Len returns the number of remembered messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// transcript returns the messages to send for spec. Retained handles
// substitute their own memory, cut to spec.HistoryDepth pairs, for the
// invocation's history.
func transcript(opts Options, mem *Memory, spec model.InvocationSpec) []model.Message {
	if opts.RetainMemory {
		spec.History = mem.Recent(spec.HistoryDepth)
	}
	return spec.Transcript()
}

// rememberer returns the completion hook for a stream: retained handles
// record the exchange once the model finishes.
func rememberer(opts Options, mem *Memory, prompt string) func(string) {
	if !opts.RetainMemory {
		return nil
	}
	return func(answer string) {
		mem.Remember(prompt, answer)
	}
}
