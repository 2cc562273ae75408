// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// MODEL DESCRIPTOR
// =============================================================================

// Parameters are the sampling knobs forwarded to a backend.
// Zero values mean "provider default" and are omitted from requests.
type Parameters struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
}

// ModelDescriptor identifies one enabled model and how to reach it.
// Descriptors are resolved at turn start and treated as immutable afterwards.
type ModelDescriptor struct {
	// ProviderID is the configuration key of the provider (e.g. "openai", "work-ollama").
	ProviderID string
	// Kind selects the backend constructor (ollama, openai, openrouter, anthropic, google).
	Kind string
	// ModelID is the identifier sent to the provider API.
	ModelID string
	// DisplayName is shown in panel titles.
	DisplayName string

	Enabled    bool
	Parameters Parameters

	// CredentialEnv names the environment variable holding the API key.
	// Empty means the provider needs no credential.
	CredentialEnv string
	BaseURL       string

	// Timeout bounds the whole stream; zero means no per-model limit.
	Timeout time.Duration
}

// Key returns the stable identity "provider/model".
func (d ModelDescriptor) Key() string {
	return d.ProviderID + "/" + d.ModelID
}

// Title returns the panel title, e.g. "GPT-4o (Openai)".
func (d ModelDescriptor) Title() string {
	name := d.DisplayName
	if name == "" {
		name = d.ModelID
	}
	return fmt.Sprintf("%s (%s)", name, capitalize(d.ProviderID))
}

// Validate reports descriptor fields that make the model unusable.
func (d ModelDescriptor) Validate() error {
	switch {
	case strings.TrimSpace(d.ProviderID) == "":
		return fmt.Errorf("provider id is empty")
	case strings.TrimSpace(d.ModelID) == "":
		return fmt.Errorf("model id is empty")
	case strings.Contains(d.ModelID, "\n"):
		return fmt.Errorf("model id contains a newline")
	case d.Parameters.Temperature < 0 || d.Parameters.Temperature > 2:
		return fmt.Errorf("temperature %.2f out of range [0,2]", d.Parameters.Temperature)
	case d.Parameters.MaxTokens < 0:
		return fmt.Errorf("max_tokens must not be negative")
	case d.Parameters.TopP < 0 || d.Parameters.TopP > 1:
		return fmt.Errorf("top_p %.2f out of range [0,1]", d.Parameters.TopP)
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
