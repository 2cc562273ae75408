// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jeranaias/manthan/internal/model"
)

// =============================================================================
// HELPERS
// =============================================================================

func testSpec(providerID, baseURL string) model.InvocationSpec {
	return model.InvocationSpec{
		Descriptor: model.ModelDescriptor{
			ProviderID: providerID,
			ModelID:    "test-model",
			BaseURL:    baseURL,
			Parameters: model.Parameters{Temperature: 0.3, MaxTokens: 64},
		},
		Prompt: "ping",
		History: []model.Message{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, Content: "hello"},
		},
		SystemPrompt: "be brief",
	}
}

// drain reads a stream to the end and returns the increments.
func drain(t *testing.T, s Stream) ([]string, error) {
	t.Helper()
	defer s.Close()
	var parts []string
	for {
		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil {
			return parts, err
		}
		parts = append(parts, delta)
	}
}

func sse(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, ev := range events {
		fmt.Fprint(w, ev)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// =============================================================================
// OPENAI / OPENROUTER
// =============================================================================

func TestOpenAI_StreamsIncrements(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		sse(w,
			"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n",
			"data: {\"choices\":[{\"delta\":{\"content\":\"po\"}}]}\n\n",
			": keep-alive\n\n",
			"data: {\"choices\":[{\"delta\":{\"content\":\"ng\"}}]}\n\n",
			"data: [DONE]\n\n",
		)
	}))
	defer srv.Close()

	b, err := NewOpenAI(Options{Descriptor: testSpec("openai", srv.URL).Descriptor, APIKey: "sk-test"})
	require.NoError(t, err)

	stream, err := b.OpenStream(context.Background(), testSpec("openai", srv.URL))
	require.NoError(t, err)

	parts, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"po", "ng"}, parts)

	srv.Close()
	assert.True(t, got.Stream)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hi", got.Messages[1].Content)
	assert.Equal(t, "ping", got.Messages[3].Content)
}

func TestOpenRouter_SendsAttributionHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, openRouterTitle, r.Header.Get("X-Title"))
		assert.NotEmpty(t, r.Header.Get("HTTP-Referer"))
		sse(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n", "data: [DONE]\n\n")
	}))
	defer srv.Close()

	spec := testSpec("openrouter", srv.URL)
	b, err := NewOpenRouter(Options{Descriptor: spec.Descriptor, APIKey: "or-key"})
	require.NoError(t, err)
	stream, err := b.OpenStream(context.Background(), spec)
	require.NoError(t, err)
	parts, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, parts)
}

func TestOpenAI_MidStreamErrorKeepsEarlierIncrements(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w,
			"data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n\n",
			"data: {\"choices\":[{\"delta\":{\"content\":\"B\"}}]}\n\n",
			"data: {\"error\":{\"message\":\"upstream reset\"}}\n\n",
		)
	}))
	defer srv.Close()

	spec := testSpec("openai", srv.URL)
	b, _ := NewOpenAI(Options{Descriptor: spec.Descriptor, APIKey: "k"})
	stream, err := b.OpenStream(context.Background(), spec)
	require.NoError(t, err)

	parts, err := drain(t, stream)
	assert.Equal(t, []string{"A", "B"}, parts)

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Error(), "upstream reset")
}

// =============================================================================
// ANTHROPIC
// =============================================================================

func TestAnthropic_StreamsTextDeltas(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		sse(w,
			"event: message_start\ndata: {\"type\":\"message_start\"}\n\n",
			"event: content_block_start\ndata: {\"type\":\"content_block_start\"}\n\n",
			"event: ping\ndata: {\"type\":\"ping\"}\n\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n",
			"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
		)
	}))
	defer srv.Close()

	spec := testSpec("anthropic", srv.URL)
	b, _ := NewAnthropic(Options{Descriptor: spec.Descriptor, APIKey: "ak"})
	stream, err := b.OpenStream(context.Background(), spec)
	require.NoError(t, err)

	parts, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", strings.Join(parts, ""))

	srv.Close()
	assert.Equal(t, "be brief", got.System)
	require.Len(t, got.Messages, 3, "system prompt is not a message")
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, 64, got.MaxTokens)
}

func TestAnthropic_OverloadedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w,
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"par\"}}\n\n",
			"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n",
		)
	}))
	defer srv.Close()

	spec := testSpec("anthropic", srv.URL)
	b, _ := NewAnthropic(Options{Descriptor: spec.Descriptor, APIKey: "ak"})
	stream, err := b.OpenStream(context.Background(), spec)
	require.NoError(t, err)

	parts, err := drain(t, stream)
	assert.Equal(t, []string{"par"}, parts)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

// =============================================================================
// GOOGLE
// =============================================================================

func TestGoogle_StreamsCandidates(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/test-model:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.Empty(t, r.URL.Query().Get("key"))
		assert.Equal(t, "gk", r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		sse(w,
			"data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"Bon\"}]}}]}\n\n",
			"data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"jour\"}]}}]}\n\n",
		)
	}))
	defer srv.Close()

	spec := testSpec("google", srv.URL)
	b, _ := NewGoogle(Options{Descriptor: spec.Descriptor, APIKey: "gk"})
	stream, err := b.OpenStream(context.Background(), spec)
	require.NoError(t, err)

	parts, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bon", "jour"}, parts)

	srv.Close()
	require.NotNil(t, got.SystemInstruction)
	require.Len(t, got.Contents, 3)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, 64, got.GenerationConfig.MaxOutputTokens)
}

// =============================================================================
// OLLAMA
// =============================================================================

func TestOllama_StreamsNDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"pi"},"done":false}`)
		fmt.Fprintln(w, `not json`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"ng"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	spec := testSpec("ollama", srv.URL)
	b, _ := NewOllama(Options{Descriptor: spec.Descriptor})
	stream, err := b.OpenStream(context.Background(), spec)
	require.NoError(t, err)

	parts, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"pi", "ng"}, parts)
}

func TestOllama_ErrorLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model 'test-model' not found, try pulling it first"}`)
	}))
	defer srv.Close()

	spec := testSpec("ollama", srv.URL)
	b, _ := NewOllama(Options{Descriptor: spec.Descriptor})
	stream, err := b.OpenStream(context.Background(), spec)
	require.NoError(t, err)

	_, err = drain(t, stream)
	assert.Equal(t, KindNotFound, KindOf(err))
}

// =============================================================================
// ERRORS
// =============================================================================

func TestOpenStream_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		body   string
		kind   ErrorKind
		msg    string
	}{
		{401, `{"error":{"message":"Invalid API key"}}`, KindAuth, "Invalid API key"},
		{402, `{"error":{"message":"Insufficient credits"}}`, KindAuth, "Insufficient credits"},
		{404, `{"error":"model not found"}`, KindNotFound, "model not found"},
		{429, `slow down`, KindRateLimited, "slow down"},
		{503, ``, KindUnavailable, ""},
		{400, `{"error":{"message":"bad request"}}`, KindUnknown, "bad request"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			spec := testSpec("openai", srv.URL)
			b, _ := NewOpenAI(Options{Descriptor: spec.Descriptor, APIKey: "k"})
			_, err := b.OpenStream(context.Background(), spec)

			var be *BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.kind, be.Kind)
			assert.Equal(t, tt.status, be.Status)
			assert.Equal(t, tt.msg, be.Message)
			assert.Equal(t, "openai", be.Provider)
		})
	}
}

func TestOpenStream_ZeroTemperatureUsesProviderDefault(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func(Options) (Backend, error)
		section string
	}{
		{"openai", NewOpenAI, ""},
		{"anthropic", NewAnthropic, ""},
		{"google", NewGoogle, "generationConfig"},
		{"ollama", NewOllama, "options"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer srv.Close()

			spec := testSpec(tt.name, srv.URL)
			spec.Descriptor.Parameters.Temperature = 0
			b, err := tt.newFn(Options{Descriptor: spec.Descriptor, APIKey: "k"})
			require.NoError(t, err)
			_, err = b.OpenStream(context.Background(), spec)
			require.Error(t, err)

			params := body
			if tt.section != "" {
				var ok bool
				params, ok = body[tt.section].(map[string]any)
				require.True(t, ok, "missing %s", tt.section)
			}
			assert.NotContains(t, params, "temperature")
		})
	}
}

func TestOpenStream_LongErrorBodyKeepsRunesWhole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, strings.Repeat("é", 300))
	}))
	defer srv.Close()

	spec := testSpec("openai", srv.URL)
	b, _ := NewOpenAI(Options{Descriptor: spec.Descriptor, APIKey: "k"})
	_, err := b.OpenStream(context.Background(), spec)

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.True(t, utf8.ValidString(be.Message))
	assert.Equal(t, 200, utf8.RuneCountInString(be.Message))
	assert.True(t, strings.HasSuffix(be.Message, "…"))
}

func TestOpenStream_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	spec := testSpec("ollama", url)
	b, _ := NewOllama(Options{Descriptor: spec.Descriptor})
	_, err := b.OpenStream(context.Background(), spec)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestOpenStream_LimiterHonoursContext(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(1.0/60), 1)
	require.True(t, limiter.Allow(), "consume the only token")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	spec := testSpec("openai", "http://127.0.0.1:1")
	b, _ := NewOpenAI(Options{Descriptor: spec.Descriptor, APIKey: "k", Limiter: limiter})
	_, err := b.OpenStream(ctx, spec)
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// MEMORY
// =============================================================================

func TestRetainedMemory_ReplacesSpecHistory(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []chatRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		requests = append(requests, req)
		n := len(requests)
		mu.Unlock()
		sse(w, fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":\"answer %d\"}}]}\n\n", n), "data: [DONE]\n\n")
	}))
	defer srv.Close()

	spec := testSpec("openai", srv.URL)
	spec.SystemPrompt = ""
	spec.HistoryDepth = 3
	b, _ := NewOpenAI(Options{Descriptor: spec.Descriptor, APIKey: "k", RetainMemory: true})

	for i := 0; i < 2; i++ {
		stream, err := b.OpenStream(context.Background(), spec)
		require.NoError(t, err)
		_, err = drain(t, stream)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requests, 2)
	assert.Len(t, requests[0].Messages, 1, "fresh memory ignores spec history")
	require.Len(t, requests[1].Messages, 3)
	assert.Equal(t, "answer 1", requests[1].Messages[1].Content)

	resetter, ok := b.(MemoryResetter)
	require.True(t, ok)
	resetter.ResetMemory()
	assert.Equal(t, 0, b.(*chatCompletions).Len())
}

func TestRetainedMemory_HonoursHistoryDepth(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []chatRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()
		sse(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n", "data: [DONE]\n\n")
	}))
	defer srv.Close()

	spec := testSpec("openai", srv.URL)
	spec.SystemPrompt = ""
	spec.HistoryDepth = 2
	b, _ := NewOpenAI(Options{Descriptor: spec.Descriptor, APIKey: "k", RetainMemory: true})
	mem := &b.(*chatCompletions).Memory
	for i := 0; i < 6; i++ {
		mem.Remember(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	stream, err := b.OpenStream(context.Background(), spec)
	require.NoError(t, err)
	_, err = drain(t, stream)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requests, 1)
	msgs := requests[0].Messages
	require.Len(t, msgs, 5, "two remembered pairs plus the prompt")
	assert.Equal(t, "q4", msgs[0].Content)
	assert.Equal(t, "a5", msgs[3].Content)
	assert.Equal(t, "ping", msgs[4].Content)

	// Older exchanges are dropped, not just hidden.
	assert.Equal(t, 6, mem.Len())
}

func TestMemory_Recent(t *testing.T) {
	var m Memory
	for i := 0; i < 4; i++ {
		m.Remember(fmt.Sprintf("q%d", i), "a")
	}
	got := m.Recent(1)
	require.Len(t, got, 2)
	assert.Equal(t, "q3", got[0].Content)
	assert.Equal(t, 2, m.Len())

	assert.Empty(t, m.Recent(0))
	assert.Equal(t, 0, m.Len())
}

func TestMemory_NotRecordedOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w, "data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n\n", "data: {broken\n\n")
	}))
	defer srv.Close()

	spec := testSpec("openai", srv.URL)
	b, _ := NewOpenAI(Options{Descriptor: spec.Descriptor, APIKey: "k", RetainMemory: true})
	stream, err := b.OpenStream(context.Background(), spec)
	require.NoError(t, err)
	_, err = drain(t, stream)
	assert.Equal(t, KindProtocol, KindOf(err))
	assert.Equal(t, 0, b.(*chatCompletions).Len())
}

// =============================================================================
// SSE READER
// =============================================================================

func TestSSEReader(t *testing.T) {
	input := ": comment\n" +
		"event: delta\n" +
		"data: line one\n" +
		"data: line two\n" +
		"id: 7\n" +
		"\n" +
		"data:{\"x\":1}\r\n" +
		"\r\n" +
		"data: trailing"

	r := NewSSEReader(strings.NewReader(input))

	ev, data, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "delta", ev)
	assert.Equal(t, "line one\nline two", string(data))

	ev, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Empty(t, ev)
	assert.Equal(t, `{"x":1}`, string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "trailing", string(data))

	_, _, err = r.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEReader_OversizedEvent(t *testing.T) {
	big := "data: " + strings.Repeat("x", MaxChunkSize+1) + "\n\n"
	_, _, err := NewSSEReader(strings.NewReader(big)).ReadEvent()
	assert.Error(t, err)
}
