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

// OllamaBaseURL is the default local Ollama server.
const OllamaBaseURL = "http://127.0.0.1:11434"

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

// ollamaChunk is one NDJSON line of /api/chat.
type ollamaChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

type ollamaBackend struct {
	Memory

	opts     Options
	provider string
	baseURL  string
}

// NewOllama builds a backend for a local Ollama server. No credential is needed.
func NewOllama(opts Options) (Backend, error) {
	return &ollamaBackend{
		opts:     opts,
		provider: opts.Descriptor.ProviderID,
		baseURL:  strings.TrimRight(opts.baseURL(OllamaBaseURL), "/"),
	}, nil
}

func (o *ollamaBackend) OpenStream(ctx context.Context, spec model.InvocationSpec) (Stream, error) {
	params := spec.Descriptor.Parameters
	req := ollamaRequest{
		Model:  spec.Descriptor.ModelID,
		Stream: true,
		Options: ollamaOptions{
			Temperature: params.Temperature,
			NumPredict:  params.MaxTokens,
			TopP:        params.TopP,
		},
	}
	for _, m := range transcript(o.opts, &o.Memory, spec) {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	resp, err := postStream(ctx, o.opts, o.provider, o.baseURL+"/api/chat", nil, req)
	if err != nil {
		return nil, err
	}

	lines := newLineReader(resp.Body)
	decode := func() (string, error) {
		line, err := lines.next()
		if err != nil {
			return "", err
		}
		var chunk ollamaChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			o.opts.logger().Debug("skipping malformed ollama line", "error", err)
			return "", nil
		}
		if chunk.Error != "" {
			kind := KindUnknown
			if strings.Contains(chunk.Error, "not found") {
				kind = KindNotFound
			}
			return "", &BackendError{Provider: o.provider, Kind: kind, Message: chunk.Error}
		}
		if chunk.Done {
			return chunk.Message.Content, io.EOF
		}
		return chunk.Message.Content, nil
	}

	return newHTTPStream(resp.Body, decode, rememberer(o.opts, &o.Memory, spec.Prompt)), nil
}
