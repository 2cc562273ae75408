// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
	"time"
)

// =============================================================================
// DESCRIPTOR TESTS
// =============================================================================

func TestModelDescriptor_Key(t *testing.T) {
	d := ModelDescriptor{ProviderID: "openai", ModelID: "gpt-4o"}
	if got := d.Key(); got != "openai/gpt-4o" {
		t.Errorf("Key() = %q, want %q", got, "openai/gpt-4o")
	}
}

func TestModelDescriptor_Title(t *testing.T) {
	tests := []struct {
		name string
		desc ModelDescriptor
		want string
	}{
		{"display name", ModelDescriptor{ProviderID: "openai", ModelID: "gpt-4o", DisplayName: "GPT-4o"}, "GPT-4o (Openai)"},
		{"falls back to model id", ModelDescriptor{ProviderID: "ollama", ModelID: "llama3"}, "llama3 (Ollama)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.desc.Title(); got != tc.want {
				t.Errorf("Title() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestModelDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		desc    ModelDescriptor
		wantErr string
	}{
		{"valid", ModelDescriptor{ProviderID: "p", ModelID: "m"}, ""},
		{"missing provider", ModelDescriptor{ModelID: "m"}, "provider id"},
		{"missing model", ModelDescriptor{ProviderID: "p"}, "model id"},
		{"bad temperature", ModelDescriptor{ProviderID: "p", ModelID: "m", Parameters: Parameters{Temperature: 3}}, "temperature"},
		{"bad top_p", ModelDescriptor{ProviderID: "p", ModelID: "m", Parameters: Parameters{TopP: 1.5}}, "top_p"},
		{"negative max tokens", ModelDescriptor{ProviderID: "p", ModelID: "m", Parameters: Parameters{MaxTokens: -1}}, "max_tokens"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.desc.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

// =============================================================================
// INVOCATION SPEC TESTS
// =============================================================================

func TestInvocationSpec_Transcript(t *testing.T) {
	spec := InvocationSpec{
		Prompt:       "ping",
		SystemPrompt: "be brief",
		History: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
			{Role: RoleAssistant, Pending: true},
		},
	}

	got := spec.Transcript()
	if len(got) != 4 {
		t.Fatalf("Transcript() len = %d, want 4", len(got))
	}
	if got[0].Role != RoleSystem || got[3].Content != "ping" {
		t.Errorf("Transcript() = %+v", got)
	}
}

func TestInvocationSpec_PromptWithContext(t *testing.T) {
	spec := InvocationSpec{
		Prompt:       "what is x?",
		Augmentation: []Passage{{Source: "notes.md", Text: "x is 42"}},
	}
	got := spec.PromptWithContext()
	if !strings.Contains(got, "[1] (notes.md)") || !strings.HasSuffix(got, "Question: what is x?") {
		t.Errorf("PromptWithContext() = %q", got)
	}

	spec.Augmentation = nil
	if spec.PromptWithContext() != "what is x?" {
		t.Error("PromptWithContext() without passages should return the bare prompt")
	}
}

// =============================================================================
// OUTCOME TESTS
// =============================================================================

func TestStreamOutcome_DisplayText(t *testing.T) {
	tests := []struct {
		name    string
		outcome StreamOutcome
		want    string
	}{
		{"ok", StreamOutcome{Status: StatusOK, FinalText: "Hi"}, "Hi"},
		{"error without text", StreamOutcome{Status: StatusError, ErrorDetail: "rate limited"}, "Error: rate limited"},
		{"partial", StreamOutcome{Status: StatusError, FinalText: "AB", ErrorDetail: "boom"}, "AB\n\nError during streaming: boom"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.outcome.DisplayText(); got != tc.want {
				t.Errorf("DisplayText() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStreamOutcome_Summary(t *testing.T) {
	o := StreamOutcome{Status: StatusError, Elapsed: 1500 * time.Millisecond, ErrorDetail: DetailTimeout}
	if got := o.Summary(); got != "error 1.5s: timeout" {
		t.Errorf("Summary() = %q", got)
	}
}

func TestCloneMessages_Independent(t *testing.T) {
	src := []Message{NewUserMessage("a")}
	dst := CloneMessages(src)
	dst[0].Content = "b"
	if src[0].Content != "a" {
		t.Error("CloneMessages() shares backing array")
	}
	if got := CloneMessages(nil); got == nil || len(got) != 0 {
		t.Error("CloneMessages(nil) should return an empty non-nil slice")
	}
}

func TestNewPlaceholder(t *testing.T) {
	m := NewPlaceholder()
	if m.Role != RoleAssistant || !m.Pending || m.Content != "" || !strings.HasPrefix(m.ID, "msg_") {
		t.Errorf("NewPlaceholder() = %+v", m)
	}
}
