// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package policy decides, per model and per turn, which context accompanies a prompt.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jeranaias/manthan/internal/backend"
	"github.com/jeranaias/manthan/internal/config"
	"github.com/jeranaias/manthan/internal/model"
)

// MinHistoryDepth is the smallest history depth accepted while history is on.
const MinHistoryDepth = 2

// Policy is the context policy of one model.
type Policy struct {
	IncludeHistory bool
	// HistoryDepth is the number of completed user/assistant pairs sent.
	HistoryDepth   int
	UseRetrieval   bool
	RetrievalLimit int
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	var errs []error
	if p.IncludeHistory && p.HistoryDepth < MinHistoryDepth {
		errs = append(errs, fmt.Errorf("history depth must be at least %d, got %d", MinHistoryDepth, p.HistoryDepth))
	}
	if p.UseRetrieval && p.RetrievalLimit < 1 {
		errs = append(errs, fmt.Errorf("retrieval limit must be positive, got %d", p.RetrievalLimit))
	}
	return errors.Join(errs...)
}

// FromConfig returns the policy for the model with key, applying its overrides.
func FromConfig(cfg *config.Config, key string) Policy {
	p := Policy{
		IncludeHistory: cfg.Policy.IncludeHistory,
		HistoryDepth:   cfg.Policy.HistoryDepth,
		UseRetrieval:   cfg.Policy.UseRetrieval,
		RetrievalLimit: cfg.Policy.RetrievalLimit,
	}
	hist, retr := cfg.ModelOverrides(key)
	if hist != nil {
		p.IncludeHistory = *hist
	}
	if retr != nil {
		p.UseRetrieval = *retr
	}
	if p.IncludeHistory && p.HistoryDepth < MinHistoryDepth {
		p.HistoryDepth = MinHistoryDepth
	}
	return p
}

// Retriever is the read side of the retrieval store.
type Retriever interface {
	IsReady() bool
	Search(ctx context.Context, query string, limit int) ([]model.Passage, error)
}

// Applier builds invocation specs. One Applier serves one turn: retrieval
// results for the same query and limit are shared between models.
type Applier struct {
	store        Retriever
	systemPrompt string
	logger       *slog.Logger

	mu       sync.Mutex
	searches map[searchKey][]model.Passage
}

type searchKey struct {
	query string
	limit int
}

// NewApplier creates an applier. store may be nil when retrieval is not configured.
func NewApplier(store Retriever, systemPrompt string, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		store:        store,
		systemPrompt: systemPrompt,
		logger:       logger,
		searches:     make(map[searchKey][]model.Passage),
	}
}

// BuildSpec assembles the invocation spec for one model.
//
// With history off the invocation carries no history and the handle's retained
// memory, if any, is reset. With history on the last HistoryDepth completed
// pairs of log are attached, oldest first. Retrieval failures leave the
// augmentation empty.
func (a *Applier) BuildSpec(ctx context.Context, desc model.ModelDescriptor, prompt string, log []model.Message, p Policy, handle backend.Backend) model.InvocationSpec {
	spec := model.InvocationSpec{
		Descriptor:   desc,
		Prompt:       prompt,
		History:      []model.Message{},
		Augmentation: []model.Passage{},
		SystemPrompt: a.systemPrompt,
	}

	if p.IncludeHistory {
		spec.History = RecentPairs(log, p.HistoryDepth)
		spec.HistoryDepth = p.HistoryDepth
	} else if r, ok := handle.(backend.MemoryResetter); ok {
		r.ResetMemory()
	}

	if p.UseRetrieval {
		spec.Augmentation = a.augment(ctx, desc.Key(), prompt, p.RetrievalLimit)
	}
	return spec
}

func (a *Applier) augment(ctx context.Context, key, prompt string, limit int) []model.Passage {
	if a.store == nil || !a.store.IsReady() {
		a.logger.Info("retrieval store not ready, continuing without context", "model", key)
		return []model.Passage{}
	}

	sk := searchKey{query: prompt, limit: limit}
	a.mu.Lock()
	defer a.mu.Unlock()

	passages, ok := a.searches[sk]
	if !ok {
		var err error
		passages, err = a.store.Search(ctx, prompt, limit)
		if err != nil {
			a.logger.Warn("retrieval search failed, continuing without context", "model", key, "error", err)
			return []model.Passage{}
		}
		a.searches[sk] = passages
	}

	out := make([]model.Passage, len(passages))
	copy(out, passages)
	return out
}

// RecentPairs returns the last depth completed user/assistant pairs of log,
// oldest first. Pending and system messages are skipped, as are exchanges
// whose answer is empty (a model that failed before producing text).
func RecentPairs(log []model.Message, depth int) []model.Message {
	if depth <= 0 {
		return []model.Message{}
	}

	var pairs [][2]model.Message
	var user *model.Message
	for i := range log {
		m := log[i]
		if m.Pending {
			continue
		}
		switch m.Role {
		case model.RoleUser:
			user = &log[i]
		case model.RoleAssistant:
			if user != nil && m.Content != "" {
				pairs = append(pairs, [2]model.Message{*user, m})
			}
			user = nil
		}
	}

	if len(pairs) > depth {
		pairs = pairs[len(pairs)-depth:]
	}
	out := make([]model.Message, 0, len(pairs)*2)
	for _, pr := range pairs {
		out = append(out, pr[0], pr[1])
	}
	return out
}
