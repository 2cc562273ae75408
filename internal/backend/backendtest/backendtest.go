// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backendtest provides scripted backends for tests.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jeranaias/manthan/internal/backend"
	"github.com/jeranaias/manthan/internal/model"
)

// ErrClosed is returned by Recv after the stream was closed.
var ErrClosed = errors.New("stream closed")

// Step is one scripted Recv result.
type Step struct {
	Delta string
	// Delay is waited before the step resolves.
	Delay time.Duration
	Err   error
	Panic any
}

// Text returns steps delivering each delta in turn.
func Text(deltas ...string) []Step {
	steps := make([]Step, len(deltas))
	for i, d := range deltas {
		steps[i] = Step{Delta: d}
	}
	return steps
}

// Hang returns a step that never resolves on its own.
func Hang() Step {
	return Step{Delay: 24 * time.Hour}
}

// Backend replays Steps for every stream it opens.
type Backend struct {
	backend.Memory

	Steps   []Step
	OpenErr error
	// IgnoreContext makes delays wait only for Close, like a transport that
	// does not watch the context.
	IgnoreContext bool
	// Retain records completed exchanges in Memory.
	Retain bool

	mu    sync.Mutex
	specs []model.InvocationSpec
	open  int
}

// OpenStream records spec and returns a scripted stream.
func (b *Backend) OpenStream(ctx context.Context, spec model.InvocationSpec) (backend.Stream, error) {
	b.mu.Lock()
	b.specs = append(b.specs, spec)
	b.mu.Unlock()

	if b.OpenErr != nil {
		return nil, b.OpenErr
	}

	b.mu.Lock()
	b.open++
	b.mu.Unlock()

	s := &stream{
		ctx:    ctx,
		steps:  b.Steps,
		closed: make(chan struct{}),
		owner:  b,
		prompt: spec.Prompt,
	}
	if b.IgnoreContext {
		s.ctx = context.Background()
	}
	return s, nil
}

// Specs returns every spec passed to OpenStream.
func (b *Backend) Specs() []model.InvocationSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.InvocationSpec(nil), b.specs...)
}

// LastSpec returns the most recent spec.
func (b *Backend) LastSpec() model.InvocationSpec {
	specs := b.Specs()
	if len(specs) == 0 {
		return model.InvocationSpec{}
	}
	return specs[len(specs)-1]
}

// OpenStreams returns the number of streams opened and not yet closed.
func (b *Backend) OpenStreams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

type stream struct {
	ctx    context.Context
	steps  []Step
	i      int
	text   string
	owner  *Backend
	prompt string

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *stream) Recv() (string, error) {
	for s.i < len(s.steps) {
		step := s.steps[s.i]
		s.i++

		if step.Delay > 0 {
			timer := time.NewTimer(step.Delay)
			select {
			case <-timer.C:
			case <-s.ctx.Done():
				timer.Stop()
				return "", s.ctx.Err()
			case <-s.closed:
				timer.Stop()
				return "", ErrClosed
			}
		}
		if step.Panic != nil {
			panic(step.Panic)
		}
		if step.Err != nil {
			return "", step.Err
		}
		if step.Delta != "" {
			s.text += step.Delta
			return step.Delta, nil
		}
	}

	if s.owner.Retain {
		s.owner.Remember(s.prompt, s.text)
	}
	return "", io.EOF
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.owner.mu.Lock()
		s.owner.open--
		s.owner.mu.Unlock()
	})
	return nil
}

// Kind returns a constructor that hands out backends by model id.
// Unknown model ids fail construction.
func Kind(byModel map[string]*Backend) backend.Constructor {
	return func(opts backend.Options) (backend.Backend, error) {
		b, ok := byModel[opts.Descriptor.ModelID]
		if !ok {
			return nil, fmt.Errorf("no scripted backend for %s", opts.Descriptor.ModelID)
		}
		return b, nil
	}
}
