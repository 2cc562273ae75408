// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// Passage is one retrieved document chunk.
type Passage struct {
	Source  string  `json:"source"`
	Ordinal int     `json:"ordinal"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// InvocationSpec is the complete, per-model input of one turn.
// Specs are built fresh for each model; History and Augmentation are never
// shared with another model's spec.
type InvocationSpec struct {
	Descriptor   ModelDescriptor
	Prompt       string
	History      []Message
	Augmentation []Passage

	// HistoryDepth caps the pairs a handle with retained memory may send.
	// Zero means no history.
	HistoryDepth int

	// SystemPrompt comes from the agent parameters and may be empty.
	SystemPrompt string
}

// PromptWithContext returns the user prompt with any augmentation passages
// prepended as a numbered context block.
func (s InvocationSpec) PromptWithContext() string {
	if len(s.Augmentation) == 0 {
		return s.Prompt
	}

	var b strings.Builder
	b.WriteString("Use the following context to answer the question.\n\n")
	for i, p := range s.Augmentation {
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, p.Source, strings.TrimSpace(p.Text))
	}
	b.WriteString("Question: ")
	b.WriteString(s.Prompt)
	return b.String()
}

// Transcript returns the message sequence a chat backend should receive:
// optional system prompt, history, then the augmented user prompt.
func (s InvocationSpec) Transcript() []Message {
	out := make([]Message, 0, len(s.History)+2)
	if s.SystemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: s.SystemPrompt})
	}
	for _, m := range s.History {
		if m.Pending {
			continue
		}
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	out = append(out, Message{Role: RoleUser, Content: s.PromptWithContext()})
	return out
}
