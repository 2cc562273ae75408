// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/jeranaias/manthan/internal/model"
)

const GoogleBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiChunk struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type googleBackend struct {
	Memory

	opts     Options
	provider string
	baseURL  string
}

// NewGoogle builds a backend for the Gemini API.
func NewGoogle(opts Options) (Backend, error) {
	return &googleBackend{
		opts:     opts,
		provider: opts.Descriptor.ProviderID,
		baseURL:  strings.TrimRight(opts.baseURL(GoogleBaseURL), "/"),
	}, nil
}

func (g *googleBackend) OpenStream(ctx context.Context, spec model.InvocationSpec) (Stream, error) {
	params := spec.Descriptor.Parameters
	req := geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			Temperature:     params.Temperature,
			MaxOutputTokens: params.MaxTokens,
			TopP:            params.TopP,
		},
	}
	for _, m := range transcript(g.opts, &g.Memory, spec) {
		part := []geminiPart{{Text: m.Content}}
		switch m.Role {
		case model.RoleSystem:
			req.SystemInstruction = &geminiContent{Parts: part}
		case model.RoleAssistant:
			req.Contents = append(req.Contents, geminiContent{Role: "model", Parts: part})
		default:
			req.Contents = append(req.Contents, geminiContent{Role: "user", Parts: part})
		}
	}

	endpoint := g.baseURL + "/models/" + url.PathEscape(spec.Descriptor.ModelID) + ":streamGenerateContent?alt=sse"
	headers := map[string]string{
		"x-goog-api-key": g.opts.APIKey,
		"Accept":         "text/event-stream",
	}

	resp, err := postStream(ctx, g.opts, g.provider, endpoint, headers, req)
	if err != nil {
		return nil, err
	}

	reader := NewSSEReader(resp.Body)
	decode := func() (string, error) {
		_, data, err := reader.ReadEvent()
		if err != nil {
			return "", err
		}
		var chunk geminiChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return "", protocolError(g.provider, "invalid chunk: %v", err)
		}
		if chunk.Error != nil {
			return "", classifyStatus(g.provider, chunk.Error.Code, []byte(chunk.Error.Message))
		}
		var b strings.Builder
		for _, c := range chunk.Candidates {
			for _, p := range c.Content.Parts {
				b.WriteString(p.Text)
			}
		}
		return b.String(), nil
	}

	return newHTTPStream(resp.Body, decode, rememberer(g.opts, &g.Memory, spec.Prompt)), nil
}
