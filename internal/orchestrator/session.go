// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator runs chat turns across every enabled model.
//
// A Session owns the configuration, the model registry, the conversation
// state and the retrieval store of one user session. Nothing is global:
// every front end builds its own Session and passes it around.
//
// # Turn Flow
//
//	registry.ResolveEnabled -> registry.Handle -> policy.BuildSpec
//	  -> conversation.AppendUser/AppendPlaceholderAssistant
//	  -> dispatch.Dispatch (increments to the sink)
//	  -> conversation.FinalizeAssistant
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/manthan/internal/config"
	"github.com/jeranaias/manthan/internal/conversation"
	"github.com/jeranaias/manthan/internal/dispatch"
	"github.com/jeranaias/manthan/internal/model"
	"github.com/jeranaias/manthan/internal/policy"
	"github.com/jeranaias/manthan/internal/registry"
	"github.com/jeranaias/manthan/internal/sink"
)

var (
	// ErrEmptyPrompt is returned for a blank prompt; nothing is dispatched.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrNoModels is returned when no model is enabled.
	ErrNoModels = errors.New("no models enabled")
)

// TurnResult is the outcome of one turn.
type TurnResult struct {
	ID       string
	Prompt   string
	Started  time.Time
	Elapsed  time.Duration
	Outcomes []model.StreamOutcome
}

// Outcome returns the outcome of the model with key.
func (r *TurnResult) Outcome(key string) (model.StreamOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.ModelKey == key {
			return o, true
		}
	}
	return model.StreamOutcome{}, false
}

// Failed returns the number of models that ended in error.
func (r *TurnResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.OK() {
			n++
		}
	}
	return n
}

// Session is the explicit context of one chat session.
type Session struct {
	// turn serializes turns and configuration swaps.
	turn sync.Mutex

	// mu guards cfg so readers never wait for a running turn.
	mu       sync.RWMutex
	cfg      *config.Config
	registry *registry.Registry
	state    *conversation.State
	store    policy.Retriever
	logger   *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithRegistry sets the model registry. The default is registry.New(cfg).
func WithRegistry(r *registry.Registry) Option {
	return func(s *Session) { s.registry = r }
}

// WithStore sets the retrieval store used for augmentation.
func WithStore(store policy.Retriever) Option {
	return func(s *Session) { s.store = store }
}

// WithState sets the conversation state.
func WithState(st *conversation.State) Option {
	return func(s *Session) { s.state = st }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New creates a session over cfg.
func New(cfg *config.Config, opts ...Option) *Session {
	s := &Session{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = registry.New(cfg, registry.WithLogger(s.logger))
	}
	if s.state == nil {
		s.state = conversation.New()
	}
	return s
}

// RunTurn sends prompt to every enabled model and streams their answers to
// out. Model failures are reported in the outcomes; an error is returned
// only for an empty prompt, no enabled models, or a broken conversation log.
func (s *Session) RunTurn(ctx context.Context, prompt string, out sink.Sink) (*TurnResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	s.turn.Lock()
	defer s.turn.Unlock()

	cfg := s.Config()
	descs := s.registry.ResolveEnabled()
	if len(descs) == 0 {
		return nil, ErrNoModels
	}

	result := &TurnResult{
		ID:      uuid.NewString(),
		Prompt:  prompt,
		Started: time.Now(),
	}
	log := s.logger.With("turn", result.ID)
	log.Info("turn started", "models", len(descs))

	applier := policy.NewApplier(s.store, cfg.SystemPrompt(), log)
	jobs := make([]dispatch.Job, 0, len(descs))
	for _, desc := range descs {
		key := desc.Key()
		handle, herr := s.registry.Handle(desc)

		pol := policy.FromConfig(cfg, key)
		if err := pol.Validate(); err != nil && herr == nil {
			herr = &registry.ConfigurationError{Model: key, Reason: "invalid context policy", Err: err}
			handle = nil
		}

		spec := applier.BuildSpec(ctx, desc, prompt, s.state.Log(key), pol, handle)
		jobs = append(jobs, dispatch.Job{Spec: spec, Handle: handle, HandleErr: herr})
	}

	for _, j := range jobs {
		if _, err := s.state.AppendUser(j.Key(), prompt); err != nil {
			return nil, err
		}
		if _, err := s.state.AppendPlaceholderAssistant(j.Key()); err != nil {
			return nil, err
		}
	}

	d := dispatch.New(out, dispatch.WithTimeout(cfg.Dispatch.Timeout), dispatch.WithLogger(log))
	outcomes, err := d.Dispatch(ctx, jobs)
	if err != nil {
		return nil, err
	}
	result.Outcomes = outcomes

	for _, o := range outcomes {
		if err := s.state.FinalizeAssistant(o.ModelKey, o.FinalText); err != nil {
			return result, err
		}
	}

	result.Elapsed = time.Since(result.Started)
	log.Info("turn finished", "elapsed", result.Elapsed, "failed", result.Failed())
	return result, nil
}

// Models returns the models the next turn will use.
func (s *Session) Models() []model.ModelDescriptor {
	return s.registry.ResolveEnabled()
}

// Log returns the conversation log of the model with key.
func (s *Session) Log(key string) []model.Message {
	return s.state.Log(key)
}

// ClearHistory empties the logs of the given models, or of every model when
// no key is given. Retained backend memory is discarded with it.
func (s *Session) ClearHistory(keys ...string) {
	s.turn.Lock()
	defer s.turn.Unlock()

	if len(keys) == 0 {
		keys = s.state.Keys()
	}
	for _, key := range keys {
		s.state.Clear(key)
		s.registry.Forget(key)
	}
}

// Config returns the active configuration. Treat it as read-only.
func (s *Session) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Session) setConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.registry.Reconfigure(cfg)
}

// Reconfigure swaps in cfg. It waits for a running turn to finish, so the
// configuration never changes mid-turn.
func (s *Session) Reconfigure(cfg *config.Config) {
	s.turn.Lock()
	defer s.turn.Unlock()
	s.setConfig(cfg)
	s.logger.Info("configuration applied", "models", len(cfg.EnabledModels()))
}

// Update applies fn to a copy of the active configuration and swaps the
// result in when fn succeeds.
func (s *Session) Update(fn func(*config.Config) error) (*config.Config, error) {
	s.turn.Lock()
	defer s.turn.Unlock()

	next := s.Config().Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	s.setConfig(next)
	return next, nil
}

// CredentialStatus reports key availability per enabled provider.
func (s *Session) CredentialStatus() []registry.CredentialState {
	return s.registry.CredentialStatus()
}

// Store returns the retrieval store, which may be nil.
func (s *Session) Store() policy.Retriever {
	return s.store
}
