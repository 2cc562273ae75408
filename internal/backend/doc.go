// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend implements the streaming model backends manthan talks to.
//
// Every backend opens one HTTP stream per invocation and exposes it as a
// Stream of text increments. Recv returns io.EOF once the model has finished.
//
// # Key Types
//
//   - Backend: Opens a Stream for an InvocationSpec
//   - Stream: Pull-based increments, closed by the caller
//   - BackendError: Classified provider failure (auth, rate_limited, ...)
//   - Memory: Transcript a handle remembers across turns when retention is on
//
// # Wire Formats
//
//   - ollama: NDJSON from /api/chat
//   - openai, openrouter: SSE from /chat/completions
//   - anthropic: SSE from /v1/messages (content_block_delta events)
//   - google: SSE from :streamGenerateContent?alt=sse
package backend
