// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sink routes stream increments and outcomes to their destinations.
//
// Sinks are called from one goroutine per model. Every implementation here
// is safe under any interleaving; shared surfaces take their lock once per
// delta so increments from different models never tear each other.
package sink

import (
	"github.com/jeranaias/manthan/internal/model"
)

// Sink receives the increments and the outcome of every model in a turn.
// For a given model, OnOutcome is called exactly once, after its last
// OnIncrement.
type Sink interface {
	OnIncrement(key, delta string)
	OnOutcome(key string, outcome model.StreamOutcome)
}

// StreamState is a model's position in the dispatch state machine.
type StreamState string

const (
	StatePending   StreamState = "pending"
	StateStarting  StreamState = "starting"
	StateStreaming StreamState = "streaming"
	StateCompleted StreamState = "completed"
	StateFailed    StreamState = "failed"
)

// Terminal reports whether s is a final state.
func (s StreamState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// StateObserver is implemented by sinks that track state transitions.
type StateObserver interface {
	OnState(key string, state StreamState)
}

// Multi fans every call out to each sink in order.
type Multi []Sink

func (m Multi) OnIncrement(key, delta string) {
	for _, s := range m {
		s.OnIncrement(key, delta)
	}
}

func (m Multi) OnOutcome(key string, outcome model.StreamOutcome) {
	for _, s := range m {
		s.OnOutcome(key, outcome)
	}
}

// OnState forwards transitions to the members that observe them.
func (m Multi) OnState(key string, state StreamState) {
	for _, s := range m {
		if o, ok := s.(StateObserver); ok {
			o.OnState(key, state)
		}
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) OnIncrement(string, string)              {}
func (Discard) OnOutcome(string, model.StreamOutcome) {}
