// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sink

import (
	"strings"
	"sync"

	"github.com/jeranaias/manthan/internal/model"
)

// EventKind distinguishes captured events.
type EventKind int

const (
	EventIncrement EventKind = iota
	EventOutcome
	EventState
)

// Event is one captured sink call.
type Event struct {
	Kind    EventKind
	Key     string
	Delta   string
	Outcome model.StreamOutcome
	State   StreamState
}

// Capture records every call in arrival order. It backs non-interactive
// callers and tests.
type Capture struct {
	mu     sync.Mutex
	events []Event
}

// NewCapture creates an empty capture sink.
func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) OnIncrement(key, delta string) {
	c.mu.Lock()
	c.events = append(c.events, Event{Kind: EventIncrement, Key: key, Delta: delta})
	c.mu.Unlock()
}

func (c *Capture) OnOutcome(key string, outcome model.StreamOutcome) {
	c.mu.Lock()
	c.events = append(c.events, Event{Kind: EventOutcome, Key: key, Outcome: outcome})
	c.mu.Unlock()
}

func (c *Capture) OnState(key string, state StreamState) {
	c.mu.Lock()
	c.events = append(c.events, Event{Kind: EventState, Key: key, State: state})
	c.mu.Unlock()
}

// Events returns a copy of every captured event.
func (c *Capture) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Increments returns the deltas delivered for key, in order.
func (c *Capture) Increments(key string) []string {
	var out []string
	for _, ev := range c.Events() {
		if ev.Kind == EventIncrement && ev.Key == key {
			out = append(out, ev.Delta)
		}
	}
	return out
}

// Text returns the concatenated increments for key.
func (c *Capture) Text(key string) string {
	return strings.Join(c.Increments(key), "")
}

// Outcome returns the outcome delivered for key.
func (c *Capture) Outcome(key string) (model.StreamOutcome, bool) {
	for _, ev := range c.Events() {
		if ev.Kind == EventOutcome && ev.Key == key {
			return ev.Outcome, true
		}
	}
	return model.StreamOutcome{}, false
}

// States returns the state transitions reported for key.
func (c *Capture) States(key string) []StreamState {
	var out []StreamState
	for _, ev := range c.Events() {
		if ev.Kind == EventState && ev.Key == key {
			out = append(out, ev.State)
		}
	}
	return out
}

// Reset drops all captured events.
func (c *Capture) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}
