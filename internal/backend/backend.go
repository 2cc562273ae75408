// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/jeranaias/manthan/internal/model"
)

// Backend is a ready-to-invoke model handle.
type Backend interface {
	// OpenStream starts a streaming completion for spec. The stream is bound
	// to ctx; cancelling ctx makes Recv fail.
	OpenStream(ctx context.Context, spec model.InvocationSpec) (Stream, error)
}

// Stream yields text increments in generation order.
type Stream interface {
	// Recv returns the next non-empty increment, or io.EOF when the model
	// has finished. Any other error ends the stream.
	Recv() (string, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// MemoryResetter is implemented by backends that remember earlier turns.
type MemoryResetter interface {
	ResetMemory()
}

// Options carries everything a constructor needs to build a handle.
type Options struct {
	Descriptor model.ModelDescriptor
	// APIKey is the resolved credential; empty for keyless kinds.
	APIKey string
	// RetainMemory makes the handle send its own transcript instead of the
	// history in the invocation, and remember each completed exchange.
	RetainMemory bool

	HTTPClient *http.Client
	// Limiter throttles stream opens for the whole provider. May be nil.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// Constructor builds a backend handle from options.
type Constructor func(Options) (Backend, error)

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return sharedStreamingClient
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) baseURL(def string) string {
	if o.Descriptor.BaseURL != "" {
		return o.Descriptor.BaseURL
	}
	return def
}
