// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/manthan/internal/model"
	"github.com/jeranaias/manthan/internal/sink"
)

// ProgramSink forwards dispatch events to a Bubble Tea program.
type ProgramSink struct {
	send func(tea.Msg)

	mu      sync.Mutex
	buffers map[string]*StreamingBuffer
}

var (
	_ sink.Sink          = (*ProgramSink)(nil)
	_ sink.StateObserver = (*ProgramSink)(nil)
)

// NewProgramSink creates a sink that delivers messages with send,
// typically tea.Program.Send.
func NewProgramSink(send func(tea.Msg)) *ProgramSink {
	return &ProgramSink{send: send, buffers: make(map[string]*StreamingBuffer)}
}

func (s *ProgramSink) buffer(key string) *StreamingBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[key]
	if !ok {
		b = NewStreamingBuffer()
		s.buffers[key] = b
	}
	return b
}

// OnIncrement buffers delta until the next tick.
func (s *ProgramSink) OnIncrement(key, delta string) {
	s.buffer(key).Write(delta)
}

// OnState sends the transition to the program.
func (s *ProgramSink) OnState(key string, state sink.StreamState) {
	s.send(streamStateMsg{Key: key, State: state})
}

// OnOutcome sends the outcome to the program.
func (s *ProgramSink) OnOutcome(key string, outcome model.StreamOutcome) {
	s.send(streamOutcomeMsg{Key: key, Outcome: outcome})
}

// Flush returns the buffered text for key once a threshold is reached.
func (s *ProgramSink) Flush(key string) (string, bool) {
	return s.buffer(key).Flush()
}

// Drain returns everything buffered for key.
func (s *ProgramSink) Drain(key string) (string, bool) {
	return s.buffer(key).ForceFlush()
}

// Reset discards all buffered text.
func (s *ProgramSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buffers {
		b.Reset()
	}
}
