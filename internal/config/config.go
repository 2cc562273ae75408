// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/subosito/gotenv"

	"github.com/jeranaias/manthan/internal/model"
	"github.com/jeranaias/manthan/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete manthan configuration.
type Config struct {
	Version string `toml:"version"`

	UI        UIConfig        `toml:"ui"`
	Agent     AgentConfig     `toml:"agent"`
	Policy    PolicyConfig    `toml:"policy"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Logging   LoggingConfig   `toml:"logging"`

	// Providers keep their declaration order; panel order follows it.
	Providers []ProviderConfig `toml:"providers"`
}

// UIConfig contains panel layout settings.
type UIConfig struct {
	// ModelsPerRow is the number of panels per grid row (1-4).
	ModelsPerRow int `toml:"models_per_row"`
	// Theme is "dark" or "light".
	Theme string `toml:"theme"`
	// MaxChatHistory caps the messages rendered per panel (0 = all).
	MaxChatHistory int `toml:"max_chat_history"`
}

// AgentConfig holds parameters applied to every model invocation.
type AgentConfig struct {
	// Markdown asks models to answer in Markdown and enables rendering.
	Markdown     bool   `toml:"markdown"`
	SystemPrompt string `toml:"system_prompt"`
}

// PolicyConfig is the default context policy for every model.
type PolicyConfig struct {
	IncludeHistory bool `toml:"include_history"`
	// HistoryDepth is the number of user/assistant pairs sent (>= 2 when history is on).
	HistoryDepth   int  `toml:"history_depth"`
	UseRetrieval   bool `toml:"use_retrieval"`
	RetrievalLimit int  `toml:"retrieval_limit"`
}

// DispatchConfig controls the streaming dispatcher.
type DispatchConfig struct {
	// Timeout bounds each model's stream (0 = no limit).
	Timeout time.Duration `toml:"timeout"`
	// RetainBackendMemory keeps backend handles, and the transcript they
	// remember, alive across turns while history is enabled.
	RetainBackendMemory bool `toml:"retain_backend_memory"`
}

// RetrievalConfig configures the document retrieval store.
type RetrievalConfig struct {
	Enabled      bool   `toml:"enabled"`
	DocumentsDir string `toml:"documents_dir"`
	DatabasePath string `toml:"database_path"`
	// ChunkSize is the target passage length in characters.
	ChunkSize int `toml:"chunk_size"`
	// Watch re-indexes documents when files change.
	Watch bool `toml:"watch"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `toml:"level"`
	// File receives logs in TUI mode (empty = ~/.manthan/manthan.log).
	File string `toml:"file"`
}

// ProviderConfig is one configured provider account.
type ProviderConfig struct {
	// ID is the unique key of the provider entry.
	ID string `toml:"id"`
	// Kind selects the backend implementation; defaults to ID.
	Kind    string `toml:"kind"`
	Enabled bool   `toml:"enabled"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `toml:"api_key_env"`
	BaseURL   string `toml:"base_url"`
	// RequestsPerMinute throttles stream opens (0 = unlimited).
	RequestsPerMinute int           `toml:"requests_per_minute"`
	Models            []ModelConfig `toml:"models"`
}

// ModelConfig is one model entry of a provider.
type ModelConfig struct {
	Name        string        `toml:"name"`
	DisplayName string        `toml:"display_name"`
	Enabled     bool          `toml:"enabled"`
	Temperature float64       `toml:"temperature"`
	MaxTokens   int           `toml:"max_tokens"`
	TopP        float64       `toml:"top_p,omitempty"`
	Timeout     time.Duration `toml:"timeout,omitempty"`

	// Per-model policy overrides; nil inherits [policy].
	IncludeHistory *bool `toml:"include_history,omitempty"`
	UseRetrieval   *bool `toml:"use_retrieval,omitempty"`
}

// KnownKinds lists the backend kinds built into the capability registry.
var KnownKinds = []string{"ollama", "openai", "openrouter", "anthropic", "google"}

// ConfigVersion is the current config file version.
const ConfigVersion = "1"

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration: OpenAI enabled, the other
// providers present but disabled until a key is configured.
func Default() *Config {
	home := defaultDir()
	return &Config{
		Version: ConfigVersion,
		UI: UIConfig{
			ModelsPerRow:   2,
			Theme:          "dark",
			MaxChatHistory: 10,
		},
		Agent: AgentConfig{
			Markdown: true,
		},
		Policy: PolicyConfig{
			IncludeHistory: true,
			HistoryDepth:   5,
			UseRetrieval:   false,
			RetrievalLimit: 4,
		},
		Dispatch: DispatchConfig{
			Timeout: 2 * time.Minute,
		},
		Retrieval: RetrievalConfig{
			Enabled:      false,
			DocumentsDir: filepath.Join(home, "documents"),
			DatabasePath: filepath.Join(home, "retrieval.db"),
			ChunkSize:    800,
			Watch:        true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Providers: []ProviderConfig{
			{
				ID:        "openai",
				Kind:      "openai",
				Enabled:   true,
				APIKeyEnv: "OPENAI_API_KEY",
				Models: []ModelConfig{
					{Name: "gpt-4o", DisplayName: "GPT-4o", Enabled: true, Temperature: 0.7, MaxTokens: 1000},
					{Name: "gpt-4o-mini", DisplayName: "GPT-4o mini", Enabled: false, Temperature: 0.7, MaxTokens: 1000},
				},
			},
			{
				ID:        "anthropic",
				Kind:      "anthropic",
				Enabled:   false,
				APIKeyEnv: "ANTHROPIC_API_KEY",
				Models: []ModelConfig{
					{Name: "claude-3-5-sonnet-latest", DisplayName: "Claude 3.5 Sonnet", Enabled: true, Temperature: 0.7, MaxTokens: 1024},
				},
			},
			{
				ID:        "google",
				Kind:      "google",
				Enabled:   false,
				APIKeyEnv: "GOOGLE_API_KEY",
				Models: []ModelConfig{
					{Name: "gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash", Enabled: true, Temperature: 0.7, MaxTokens: 1024},
				},
			},
			{
				ID:        "openrouter",
				Kind:      "openrouter",
				Enabled:   false,
				APIKeyEnv: "OPENROUTER_API_KEY",
				Models: []ModelConfig{
					{Name: "openrouter/auto", DisplayName: "OpenRouter Auto", Enabled: true, Temperature: 0.7, MaxTokens: 1024},
				},
			},
			{
				ID:      "ollama",
				Kind:    "ollama",
				Enabled: false,
				BaseURL: "http://127.0.0.1:11434",
				Models: []ModelConfig{
					{Name: "llama3.2", DisplayName: "Llama 3.2", Enabled: true, Temperature: 0.7},
				},
			},
		},
	}
}

// fillDefaults fills in missing scalar values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.UI.ModelsPerRow == 0 {
		cfg.UI.ModelsPerRow = defaults.UI.ModelsPerRow
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}
	if cfg.Policy.HistoryDepth == 0 {
		cfg.Policy.HistoryDepth = defaults.Policy.HistoryDepth
	}
	if cfg.Policy.RetrievalLimit == 0 {
		cfg.Policy.RetrievalLimit = defaults.Policy.RetrievalLimit
	}
	if cfg.Retrieval.DocumentsDir == "" {
		cfg.Retrieval.DocumentsDir = defaults.Retrieval.DocumentsDir
	}
	if cfg.Retrieval.DatabasePath == "" {
		cfg.Retrieval.DatabasePath = defaults.Retrieval.DatabasePath
	}
	if cfg.Retrieval.ChunkSize == 0 {
		cfg.Retrieval.ChunkSize = defaults.Retrieval.ChunkSize
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Kind == "" {
			p.Kind = strings.ToLower(p.ID)
		}
		if p.Kind == "ollama" && p.BaseURL == "" {
			p.BaseURL = "http://127.0.0.1:11434"
		}
	}
	if cfg.Providers == nil {
		cfg.Providers = defaults.Providers
	}
}

// =============================================================================
// PATHS
// =============================================================================

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".manthan"
	}
	return filepath.Join(home, ".manthan")
}

// ConfigDir returns the manthan configuration directory.
func ConfigDir() string {
	if dir := os.Getenv("MANTHAN_HOME"); dir != "" {
		return dir
	}
	return defaultDir()
}

// ConfigPath returns the path of the TOML config file.
func ConfigPath() string {
	if p := os.Getenv("MANTHAN_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.toml")
}

// LogPath returns the log file used in TUI mode.
func (c *Config) LogPath() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(ConfigDir(), "manthan.log")
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from ConfigPath, falling back to defaults when the
// file does not exist.
func Load() (*Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile loads configuration from path, falling back to defaults when the
// file does not exist. A .env file next to the config or in the working
// directory is loaded first so credential checks see its keys.
func LoadFile(path string) (*Config, error) {
	LoadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config: %w", err)
		}
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg and fills defaults.
// Keys that do not map to any field are rejected.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		var errs ValidateErrors
		for _, key := range undecoded {
			errs = append(errs, ValidationError{Field: key.String(), Message: "unknown key"})
		}
		return errs
	}

	fillDefaults(cfg)
	return nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment.
// Existing variables win; missing files are skipped.
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = gotenv.Load(p)
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to ConfigPath.
func Save(cfg *Config) error {
	return SaveTOML(cfg, ConfigPath())
}

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# manthan configuration file\n")
	b.WriteString("# API keys are read from the environment variables named by api_key_env.\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.WriteFileAtomic(path, []byte(b.String()), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Version != ConfigVersion {
		add("version", "unsupported version %q (supported: %s)", c.Version, ConfigVersion)
	}

	if c.UI.ModelsPerRow < 1 || c.UI.ModelsPerRow > 4 {
		add("ui.models_per_row", "must be between 1 and 4, got %d", c.UI.ModelsPerRow)
	}
	if c.UI.Theme != "dark" && c.UI.Theme != "light" {
		add("ui.theme", "invalid theme '%s', must be one of: dark, light", c.UI.Theme)
	}
	if c.UI.MaxChatHistory < 0 {
		add("ui.max_chat_history", "must not be negative")
	}

	if c.Policy.IncludeHistory && c.Policy.HistoryDepth < 2 {
		add("policy.history_depth", "must be at least 2 when include_history is on, got %d", c.Policy.HistoryDepth)
	}
	if c.Policy.RetrievalLimit < 1 || c.Policy.RetrievalLimit > 50 {
		add("policy.retrieval_limit", "must be between 1 and 50, got %d", c.Policy.RetrievalLimit)
	}

	if c.Dispatch.Timeout < 0 {
		add("dispatch.timeout", "must not be negative")
	}

	if c.Retrieval.ChunkSize < 100 || c.Retrieval.ChunkSize > 8000 {
		add("retrieval.chunk_size", "must be between 100 and 8000, got %d", c.Retrieval.ChunkSize)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	seenProviders := make(map[string]bool)
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			add(field+".id", "must not be empty")
		} else if seenProviders[p.ID] {
			add(field+".id", "duplicate provider id '%s'", p.ID)
		}
		seenProviders[p.ID] = true

		if !isKnownKind(p.Kind) {
			add(field+".kind", "unknown kind '%s', must be one of: %s", p.Kind, strings.Join(KnownKinds, ", "))
		}
		if p.Kind != "ollama" && p.APIKeyEnv == "" {
			add(field+".api_key_env", "required for kind '%s'", p.Kind)
		}
		if p.RequestsPerMinute < 0 {
			add(field+".requests_per_minute", "must not be negative")
		}
		if p.BaseURL != "" && !strings.HasPrefix(p.BaseURL, "http://") && !strings.HasPrefix(p.BaseURL, "https://") {
			add(field+".base_url", "must start with http:// or https://")
		}

		seenModels := make(map[string]bool)
		for j, m := range p.Models {
			mfield := fmt.Sprintf("%s.models[%d]", field, j)
			if seenModels[m.Name] {
				add(mfield+".name", "duplicate model '%s'", m.Name)
			}
			seenModels[m.Name] = true

			desc := descriptorFor(p, m)
			if err := desc.Validate(); err != nil {
				add(mfield, "%v", err)
			}
			if m.Timeout < 0 {
				add(mfield+".timeout", "must not be negative")
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func isKnownKind(kind string) bool {
	for _, k := range KnownKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the configuration.
//
// Supported environment variables:
//   - MANTHAN_LOG_LEVEL: overrides logging.level
//   - MANTHAN_HISTORY: overrides policy.include_history (1/true/0/false)
//   - MANTHAN_RETRIEVAL: overrides policy.use_retrieval
//   - MANTHAN_TIMEOUT: overrides dispatch.timeout (Go duration)
//   - MANTHAN_OLLAMA_URL: overrides base_url of every ollama provider
func (c *Config) ApplyEnvOverrides() {
	if level := os.Getenv("MANTHAN_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if v := os.Getenv("MANTHAN_HISTORY"); v != "" {
		c.Policy.IncludeHistory = parseBool(v)
	}
	if v := os.Getenv("MANTHAN_RETRIEVAL"); v != "" {
		c.Policy.UseRetrieval = parseBool(v)
	}
	if v := os.Getenv("MANTHAN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Dispatch.Timeout = d
		}
	}
	if url := os.Getenv("MANTHAN_OLLAMA_URL"); url != "" {
		for i := range c.Providers {
			if c.Providers[i].Kind == "ollama" {
				c.Providers[i].BaseURL = url
			}
		}
	}
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

// =============================================================================
// CONFIGURATION STORE ACCESSORS
// =============================================================================

// EnabledModels returns descriptors for every model whose provider and model
// entry are both enabled, in declaration order.
func (c *Config) EnabledModels() []model.ModelDescriptor {
	var out []model.ModelDescriptor
	for _, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		for _, m := range p.Models {
			if m.Enabled {
				out = append(out, descriptorFor(p, m))
			}
		}
	}
	return out
}

// AgentParameters returns the parameters applied to every invocation.
func (c *Config) AgentParameters() map[string]any {
	return map[string]any{
		"markdown":      c.Agent.Markdown,
		"system_prompt": c.Agent.SystemPrompt,
	}
}

// SystemPrompt returns the effective system prompt for an invocation.
func (c *Config) SystemPrompt() string {
	prompt := strings.TrimSpace(c.Agent.SystemPrompt)
	if c.Agent.Markdown {
		if prompt != "" {
			prompt += "\n"
		}
		prompt += "Format your answer in Markdown."
	}
	return prompt
}

// ModelOverrides returns the per-model policy overrides for key, if any.
func (c *Config) ModelOverrides(key string) (includeHistory, useRetrieval *bool) {
	for _, p := range c.Providers {
		for _, m := range p.Models {
			if p.ID+"/"+m.Name == key {
				return m.IncludeHistory, m.UseRetrieval
			}
		}
	}
	return nil, nil
}

// Provider returns the provider entry with the given id.
func (c *Config) Provider(id string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

func descriptorFor(p ProviderConfig, m ModelConfig) model.ModelDescriptor {
	return model.ModelDescriptor{
		ProviderID:  p.ID,
		Kind:        p.Kind,
		ModelID:     m.Name,
		DisplayName: m.DisplayName,
		Enabled:     p.Enabled && m.Enabled,
		Parameters: model.Parameters{
			Temperature: m.Temperature,
			MaxTokens:   m.MaxTokens,
			TopP:        m.TopP,
		},
		CredentialEnv: p.APIKeyEnv,
		BaseURL:       p.BaseURL,
		Timeout:       m.Timeout,
	}
}

// =============================================================================
// CLONE
// =============================================================================

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		p.Models = append([]ModelConfig(nil), p.Models...)
		for j := range p.Models {
			if v := p.Models[j].IncludeHistory; v != nil {
				b := *v
				p.Models[j].IncludeHistory = &b
			}
			if v := p.Models[j].UseRetrieval; v != nil {
				b := *v
				p.Models[j].UseRetrieval = &b
			}
		}
		out.Providers[i] = p
	}
	return &out
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return fmt.Sprintf("<config encode error: %v>", err)
	}
	return b.String()
}
