// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/manthan/internal/model"
)

// =============================================================================
// STREAMING BUFFER TESTS
// =============================================================================

func TestStreamingBufferFlushBySize(t *testing.T) {
	sb := NewStreamingBufferWithConfig(3, 1) // Batch size 3, 1fps

	sb.Write("A")
	sb.Write("B")
	if _, ok := sb.Flush(); ok {
		t.Error("Should not flush before reaching batch size")
	}

	sb.Write("C")
	content, ok := sb.Flush()
	if !ok || content != "ABC" {
		t.Errorf("Flush() = %q, %v; want ABC, true", content, ok)
	}
	if pending := sb.Pending(); pending != 0 {
		t.Errorf("Expected 0 pending after flush, got %d", pending)
	}
}

func TestStreamingBufferFlushByTime(t *testing.T) {
	sb := NewStreamingBufferWithConfig(100, 60)
	sb.Write("slow")

	time.Sleep(25 * time.Millisecond)
	content, ok := sb.Flush()
	if !ok || content != "slow" {
		t.Errorf("Flush() = %q, %v; want slow, true", content, ok)
	}
}

func TestStreamingBufferForceFlush(t *testing.T) {
	sb := NewStreamingBufferWithConfig(100, 1)
	if _, ok := sb.ForceFlush(); ok {
		t.Error("empty buffer should not flush")
	}
	sb.Write("x")
	if content, ok := sb.ForceFlush(); !ok || content != "x" {
		t.Errorf("ForceFlush() = %q, %v", content, ok)
	}
}

func TestStreamingBufferReset(t *testing.T) {
	sb := NewStreamingBuffer()
	sb.Write("discard me")
	sb.Reset()
	if _, ok := sb.ForceFlush(); ok {
		t.Error("Reset should drop buffered content")
	}
}

// =============================================================================
// PROGRAM SINK TESTS
// =============================================================================

func TestProgramSink_BuffersIncrementsAndSendsOutcome(t *testing.T) {
	var sent []tea.Msg
	s := NewProgramSink(func(msg tea.Msg) { sent = append(sent, msg) })

	s.OnIncrement("a", "Hel")
	s.OnIncrement("a", "lo")
	s.OnIncrement("b", "other")
	s.OnOutcome("a", model.StreamOutcome{ModelKey: "a", Status: model.StatusOK, FinalText: "Hello"})

	if len(sent) != 1 {
		t.Fatalf("expected only the outcome to be sent, got %d messages", len(sent))
	}
	if _, ok := sent[0].(streamOutcomeMsg); !ok {
		t.Errorf("sent %T, want streamOutcomeMsg", sent[0])
	}

	if text, _ := s.Drain("a"); text != "Hello" {
		t.Errorf("Drain(a) = %q", text)
	}
	if text, _ := s.Drain("b"); text != "other" {
		t.Errorf("Drain(b) = %q", text)
	}
}
