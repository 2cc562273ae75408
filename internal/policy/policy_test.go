// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package policy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/manthan/internal/backend"
	"github.com/jeranaias/manthan/internal/config"
	"github.com/jeranaias/manthan/internal/logging"
	"github.com/jeranaias/manthan/internal/model"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeStore struct {
	ready    bool
	err      error
	passages []model.Passage
	calls    atomic.Int32
}

func (f *fakeStore) IsReady() bool { return f.ready }

func (f *fakeStore) Search(_ context.Context, _ string, limit int) ([]model.Passage, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.passages) {
		return f.passages[:limit], nil
	}
	return f.passages, nil
}

type memoryHandle struct {
	backend.Memory
}

func (*memoryHandle) OpenStream(context.Context, model.InvocationSpec) (backend.Stream, error) {
	return nil, errors.New("not used")
}

func conversation(pairs int) []model.Message {
	var log []model.Message
	for i := 1; i <= pairs; i++ {
		log = append(log,
			model.NewUserMessage(fmt.Sprintf("q%d", i)),
			model.NewMessage(model.RoleAssistant, fmt.Sprintf("a%d", i)),
		)
	}
	return log
}

var desc = model.ModelDescriptor{ProviderID: "openai", ModelID: "gpt-4o"}

// =============================================================================
// HISTORY
// =============================================================================

func TestRecentPairs(t *testing.T) {
	log := conversation(4)
	got := RecentPairs(log, 2)
	require.Len(t, got, 4)
	assert.Equal(t, "q3", got[0].Content)
	assert.Equal(t, "a3", got[1].Content)
	assert.Equal(t, "a4", got[3].Content)

	assert.Len(t, RecentPairs(log, 10), 8)
	assert.Empty(t, RecentPairs(log, 0))
	assert.Empty(t, RecentPairs(nil, 3))
}

func TestRecentPairs_SkipsPendingAndEmpty(t *testing.T) {
	log := conversation(1)
	log = append(log,
		model.NewUserMessage("failed question"),
		model.NewMessage(model.RoleAssistant, ""),
		model.NewUserMessage("in flight"),
		model.NewPlaceholder(),
	)

	got := RecentPairs(log, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "q1", got[0].Content)
}

func TestBuildSpec_HistoryOn(t *testing.T) {
	a := NewApplier(nil, "sys", logging.Discard())
	log := conversation(3)

	spec := a.BuildSpec(context.Background(), desc, "next", log, Policy{IncludeHistory: true, HistoryDepth: 2}, nil)

	assert.Equal(t, "next", spec.Prompt)
	assert.Equal(t, "sys", spec.SystemPrompt)
	require.Len(t, spec.History, 4)
	assert.Equal(t, "q2", spec.History[0].Content)
	assert.Equal(t, 2, spec.HistoryDepth)

	// The invocation owns its history.
	spec.History[0].Content = "mutated"
	assert.Equal(t, "q2", log[2].Content)
}

func TestBuildSpec_HistoryOffResetsMemory(t *testing.T) {
	a := NewApplier(nil, "", logging.Discard())
	h := &memoryHandle{}
	h.Remember("old q", "old a")

	p := Policy{IncludeHistory: false}
	first := a.BuildSpec(context.Background(), desc, "hello", conversation(2), p, h)
	assert.Empty(t, first.History)
	assert.NotNil(t, first.History)
	assert.Equal(t, 0, h.Len())

	h.Remember("again", "again")
	second := a.BuildSpec(context.Background(), desc, "hello", conversation(2), p, h)
	assert.Equal(t, first.History, second.History)
	assert.Equal(t, 0, h.Len(), "toggle off resets every time")
}

// =============================================================================
// RETRIEVAL
// =============================================================================

func TestBuildSpec_Retrieval(t *testing.T) {
	store := &fakeStore{ready: true, passages: []model.Passage{
		{Source: "a.md", Ordinal: 0, Text: "alpha"},
		{Source: "b.md", Ordinal: 1, Text: "beta"},
		{Source: "c.md", Ordinal: 2, Text: "gamma"},
	}}
	a := NewApplier(store, "", logging.Discard())
	p := Policy{UseRetrieval: true, RetrievalLimit: 2}

	s1 := a.BuildSpec(context.Background(), desc, "q", nil, p, nil)
	s2 := a.BuildSpec(context.Background(), model.ModelDescriptor{ProviderID: "x", ModelID: "y"}, "q", nil, p, nil)

	require.Len(t, s1.Augmentation, 2)
	assert.Equal(t, int32(1), store.calls.Load(), "one search per query per turn")

	s1.Augmentation[0].Text = "changed"
	assert.Equal(t, "alpha", s2.Augmentation[0].Text, "specs never share passages")
}

func TestBuildSpec_RetrievalUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		store Retriever
	}{
		{"no store", nil},
		{"not ready", &fakeStore{ready: false}},
		{"search fails", &fakeStore{ready: true, err: errors.New("disk gone")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewApplier(tt.store, "", logging.Discard())
			spec := a.BuildSpec(context.Background(), desc, "q", conversation(1),
				Policy{IncludeHistory: true, HistoryDepth: 2, UseRetrieval: true, RetrievalLimit: 3}, nil)

			assert.NotNil(t, spec.Augmentation)
			assert.Empty(t, spec.Augmentation)
			assert.Len(t, spec.History, 2, "the turn continues with history")
		})
	}
}

// =============================================================================
// POLICY
// =============================================================================

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, Policy{IncludeHistory: true, HistoryDepth: 2}.Validate())
	assert.NoError(t, Policy{IncludeHistory: false, HistoryDepth: 0}.Validate())
	assert.Error(t, Policy{IncludeHistory: true, HistoryDepth: 1}.Validate())
	assert.Error(t, Policy{UseRetrieval: true, RetrievalLimit: 0}.Validate())
}

func TestFromConfig_Overrides(t *testing.T) {
	cfg := config.Default()
	off, on := false, true
	cfg.Providers[0].Models[0].IncludeHistory = &off
	cfg.Providers[0].Models[0].UseRetrieval = &on

	p := FromConfig(cfg, "openai/gpt-4o")
	assert.False(t, p.IncludeHistory)
	assert.True(t, p.UseRetrieval)
	assert.Equal(t, cfg.Policy.RetrievalLimit, p.RetrievalLimit)

	p = FromConfig(cfg, "openai/gpt-4o-mini")
	assert.Equal(t, cfg.Policy.IncludeHistory, p.IncludeHistory)
	assert.NoError(t, p.Validate())
}
