// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry resolves enabled model descriptors into backend handles.
//
// Provider kinds map to backend constructors through a capability table that
// is filled from a static list at construction. Tests and embedders add
// kinds with WithKind.
package registry

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/manthan/internal/backend"
	"github.com/jeranaias/manthan/internal/config"
	"github.com/jeranaias/manthan/internal/model"
)

// ConfigurationError reports a model that cannot be invoked as configured.
// It is scoped to one model; the dispatcher turns it into that model's outcome.
type ConfigurationError struct {
	Model  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error for %s: %s: %v", e.Model, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error for %s: %s", e.Model, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// builtinKinds is the static capability table.
var builtinKinds = map[string]backend.Constructor{
	"ollama":     backend.NewOllama,
	"openai":     backend.NewOpenAI,
	"openrouter": backend.NewOpenRouter,
	"anthropic":  backend.NewAnthropic,
	"google":     backend.NewGoogle,
}

type cachedHandle struct {
	desc    model.ModelDescriptor
	backend backend.Backend
}

// Registry builds and, when memory retention is on, caches backend handles.
type Registry struct {
	mu sync.Mutex

	cfg      *config.Config
	kinds    map[string]backend.Constructor
	limiters map[string]*rate.Limiter
	cache    map[string]cachedHandle

	lookupEnv  func(string) (string, bool)
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithKind registers or replaces the constructor for a provider kind.
func WithKind(kind string, ctor backend.Constructor) Option {
	return func(r *Registry) { r.kinds[kind] = ctor }
}

// WithHTTPClient sets the HTTP client handed to every backend.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.httpClient = c }
}

// WithLogger sets the logger handed to every backend.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithLookupEnv replaces os.LookupEnv for credential resolution.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Registry) { r.lookupEnv = fn }
}

// New creates a registry over cfg. cfg must not be mutated while a turn runs;
// use Reconfigure between turns.
func New(cfg *config.Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:       cfg,
		kinds:     make(map[string]backend.Constructor, len(builtinKinds)),
		limiters:  make(map[string]*rate.Limiter),
		cache:     make(map[string]cachedHandle),
		lookupEnv: os.LookupEnv,
		logger:    slog.Default(),
	}
	for kind, ctor := range builtinKinds {
		r.kinds[kind] = ctor
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Kinds returns the registered provider kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Config returns the configuration the registry currently resolves against.
func (r *Registry) Config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// ResolveEnabled returns the enabled models in declaration order.
func (r *Registry) ResolveEnabled() []model.ModelDescriptor {
	return r.Config().EnabledModels()
}

// Handle returns a ready-to-invoke backend for desc. Failures are
// *ConfigurationError values scoped to desc.
func (r *Registry) Handle(desc model.ModelDescriptor) (backend.Backend, error) {
	key := desc.Key()

	if err := desc.Validate(); err != nil {
		return nil, &ConfigurationError{Model: key, Reason: "malformed model entry", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ctor, ok := r.kinds[desc.Kind]
	if !ok {
		return nil, &ConfigurationError{Model: key, Reason: fmt.Sprintf("unknown provider kind %q", desc.Kind)}
	}

	var apiKey string
	if desc.CredentialEnv != "" {
		v, present := r.lookupEnv(desc.CredentialEnv)
		if !present || v == "" {
			return nil, &ConfigurationError{Model: key, Reason: fmt.Sprintf("missing credential: set %s", desc.CredentialEnv)}
		}
		apiKey = v
	}

	retain := r.cfg.Dispatch.RetainBackendMemory
	if retain {
		if c, ok := r.cache[key]; ok && c.desc == desc {
			return c.backend, nil
		}
	}

	b, err := ctor(backend.Options{
		Descriptor:   desc,
		APIKey:       apiKey,
		RetainMemory: retain,
		HTTPClient:   r.httpClient,
		Limiter:      r.limiterLocked(desc.ProviderID),
		Logger:       r.logger.With("model", key),
	})
	if err != nil {
		return nil, &ConfigurationError{Model: key, Reason: "backend construction failed", Err: err}
	}

	if retain {
		r.cache[key] = cachedHandle{desc: desc, backend: b}
	}
	return b, nil
}

// limiterLocked returns the shared limiter of a provider, or nil when the
// provider is unthrottled. Caller holds r.mu.
func (r *Registry) limiterLocked(providerID string) *rate.Limiter {
	if l, ok := r.limiters[providerID]; ok {
		return l
	}
	p, ok := r.cfg.Provider(providerID)
	if !ok || p.RequestsPerMinute <= 0 {
		return nil
	}
	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(p.RequestsPerMinute)), 1)
	r.limiters[providerID] = l
	return l
}

// Forget drops the cached handle for key, discarding its memory.
func (r *Registry) Forget(key string) {
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
}

// Cached reports whether a handle for key is cached.
func (r *Registry) Cached(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cache[key]
	return ok
}

// Reconfigure swaps in a new configuration between turns. Cached handles of
// models that are no longer enabled are dropped, as are all handles when
// retention was switched off. Limiters are rebuilt.
func (r *Registry) Reconfigure(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg = cfg
	r.limiters = make(map[string]*rate.Limiter)

	if !cfg.Dispatch.RetainBackendMemory {
		r.cache = make(map[string]cachedHandle)
		return
	}
	enabled := make(map[string]bool)
	for _, d := range cfg.EnabledModels() {
		enabled[d.Key()] = true
	}
	for key := range r.cache {
		if !enabled[key] {
			delete(r.cache, key)
		}
	}
}

// CredentialState is the key availability of one enabled provider.
type CredentialState struct {
	ProviderID string
	EnvVar     string
	Present    bool
}

// CredentialStatus reports, per enabled provider, whether its key is present.
func (r *Registry) CredentialStatus() []CredentialState {
	cfg := r.Config()
	var out []CredentialState
	for _, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		present := true
		if p.APIKeyEnv != "" {
			v, ok := r.lookupEnv(p.APIKeyEnv)
			present = ok && v != ""
		}
		out = append(out, CredentialState{ProviderID: p.ID, EnvVar: p.APIKeyEnv, Present: present})
	}
	return out
}
