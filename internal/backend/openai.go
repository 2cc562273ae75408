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
	OpenAIBaseURL     = "https://api.openai.com/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	openRouterReferer = "https://github.com/jeranaias/manthan"
	openRouterTitle   = "manthan"
)

// chatMessage is a message in the OpenAI chat format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream"`
}

// streamChunk is a single chunk of a chat completions stream.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *streamChunk) content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// chatCompletions speaks the OpenAI chat completions SSE protocol.
// OpenRouter uses the same wire with extra attribution headers.
type chatCompletions struct {
	Memory

	opts     Options
	provider string
	baseURL  string
	headers  map[string]string
}

// NewOpenAI builds a backend for the OpenAI API.
func NewOpenAI(opts Options) (Backend, error) {
	return &chatCompletions{
		opts:     opts,
		provider: opts.Descriptor.ProviderID,
		baseURL:  strings.TrimRight(opts.baseURL(OpenAIBaseURL), "/"),
		headers: map[string]string{
			"Authorization": "Bearer " + opts.APIKey,
		},
	}, nil
}

// NewOpenRouter builds a backend for OpenRouter.
func NewOpenRouter(opts Options) (Backend, error) {
	return &chatCompletions{
		opts:     opts,
		provider: opts.Descriptor.ProviderID,
		baseURL:  strings.TrimRight(opts.baseURL(OpenRouterBaseURL), "/"),
		headers: map[string]string{
			"Authorization": "Bearer " + opts.APIKey,
			"HTTP-Referer":  openRouterReferer,
			"X-Title":       openRouterTitle,
		},
	}, nil
}

func (c *chatCompletions) OpenStream(ctx context.Context, spec model.InvocationSpec) (Stream, error) {
	msgs := transcript(c.opts, &c.Memory, spec)
	req := chatRequest{
		Model:       spec.Descriptor.ModelID,
		Messages:    make([]chatMessage, 0, len(msgs)),
		Temperature: spec.Descriptor.Parameters.Temperature,
		MaxTokens:   spec.Descriptor.Parameters.MaxTokens,
		TopP:        spec.Descriptor.Parameters.TopP,
		Stream:      true,
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	headers := map[string]string{
		"Accept":        "text/event-stream",
		"Cache-Control": "no-cache",
	}
	for k, v := range c.headers {
		headers[k] = v
	}

	resp, err := postStream(ctx, c.opts, c.provider, c.baseURL+"/chat/completions", headers, req)
	if err != nil {
		return nil, err
	}

	reader := NewSSEReader(resp.Body)
	decode := func() (string, error) {
		_, data, err := reader.ReadEvent()
		if err != nil {
			return "", err
		}
		if string(data) == "[DONE]" {
			return "", io.EOF
		}
		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return "", protocolError(c.provider, "invalid chunk: %v", err)
		}
		if chunk.Error != nil {
			return "", &BackendError{Provider: c.provider, Kind: KindUnknown, Message: chunk.Error.Message}
		}
		return chunk.content(), nil
	}

	return newHTTPStream(resp.Body, decode, rememberer(c.opts, &c.Memory, spec.Prompt)), nil
}
