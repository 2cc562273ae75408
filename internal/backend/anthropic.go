// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/jeranaias/manthan/internal/model"
)

const (
	AnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"

	// anthropicDefaultMaxTokens is sent when the model has no max_tokens;
	// the messages API requires the field.
	anthropicDefaultMaxTokens = 1024
)

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicBackend struct {
	Memory

	opts     Options
	provider string
	baseURL  string
}

// NewAnthropic builds a backend for the Anthropic messages API.
func NewAnthropic(opts Options) (Backend, error) {
	return &anthropicBackend{
		opts:     opts,
		provider: opts.Descriptor.ProviderID,
		baseURL:  strings.TrimRight(opts.baseURL(AnthropicBaseURL), "/"),
	}, nil
}

func (a *anthropicBackend) OpenStream(ctx context.Context, spec model.InvocationSpec) (Stream, error) {
	params := spec.Descriptor.Parameters
	req := anthropicRequest{
		Model:       spec.Descriptor.ModelID,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Stream:      true,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = anthropicDefaultMaxTokens
	}
	// The system prompt is a top-level field, not a message.
	for _, m := range transcript(a.opts, &a.Memory, spec) {
		if m.Role == model.RoleSystem {
			req.System = m.Content
			continue
		}
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	headers := map[string]string{
		"x-api-key":         a.opts.APIKey,
		"anthropic-version": anthropicVersion,
		"Accept":            "text/event-stream",
	}

	resp, err := postStream(ctx, a.opts, a.provider, a.baseURL+"/v1/messages", headers, req)
	if err != nil {
		return nil, err
	}

	reader := NewSSEReader(resp.Body)
	decode := func() (string, error) {
		eventType, data, err := reader.ReadEvent()
		if err != nil {
			return "", err
		}
		var ev anthropicEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return "", protocolError(a.provider, "invalid %s event: %v", eventType, err)
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" || ev.Delta.Type == "" {
				return ev.Delta.Text, nil
			}
		case "message_stop":
			return "", io.EOF
		case "error":
			kind := KindUnknown
			switch ev.Error.Type {
			case "overloaded_error", "api_error":
				kind = KindUnavailable
			case "rate_limit_error":
				kind = KindRateLimited
			}
			return "", &BackendError{Provider: a.provider, Kind: kind, Message: ev.Error.Message}
		}
		// message_start, content_block_start/stop, message_delta, ping
		return "", nil
	}

	return newHTTPStream(resp.Body, decode, rememberer(a.opts, &a.Memory, spec.Prompt)), nil
}
