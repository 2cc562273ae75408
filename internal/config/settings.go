// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SETTINGS MUTATIONS
// =============================================================================

// Settings mutations run between turns only; callers persist with Save.

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrModelNotFound    = errors.New("model not found")
	ErrDuplicate        = errors.New("already exists")
)

// ToggleProvider enables or disables a provider.
func (c *Config) ToggleProvider(id string, enabled bool) error {
	p, ok := c.Provider(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	p.Enabled = enabled
	return nil
}

// ToggleModel enables or disables one model of a provider.
func (c *Config) ToggleModel(providerID, name string, enabled bool) error {
	m, err := c.findModel(providerID, name)
	if err != nil {
		return err
	}
	m.Enabled = enabled
	return nil
}

// UpdateModelParameters sets temperature and max tokens of a model.
func (c *Config) UpdateModelParameters(providerID, name string, temperature float64, maxTokens int) error {
	m, err := c.findModel(providerID, name)
	if err != nil {
		return err
	}
	if temperature < 0 || temperature > 2 {
		return fmt.Errorf("temperature %.2f out of range [0,2]", temperature)
	}
	if maxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	m.Temperature = temperature
	m.MaxTokens = maxTokens
	return nil
}

// UpdateAPIKeyEnv changes the environment variable a provider reads its key from.
func (c *Config) UpdateAPIKeyEnv(providerID, env string) error {
	p, ok := c.Provider(providerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	env = strings.TrimSpace(env)
	if env == "" {
		return fmt.Errorf("api_key_env must not be empty")
	}
	p.APIKeyEnv = env
	return nil
}

// UpdateUISettings sets the panel layout knobs.
func (c *Config) UpdateUISettings(modelsPerRow int, theme string) error {
	if modelsPerRow < 1 || modelsPerRow > 4 {
		return fmt.Errorf("models_per_row must be between 1 and 4")
	}
	if theme != "dark" && theme != "light" {
		return fmt.Errorf("theme must be dark or light")
	}
	c.UI.ModelsPerRow = modelsPerRow
	c.UI.Theme = theme
	return nil
}

// AddModel appends a new enabled model to an existing provider.
func (c *Config) AddModel(providerID string, m ModelConfig) error {
	p, ok := c.Provider(providerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	for _, existing := range p.Models {
		if existing.Name == m.Name {
			return fmt.Errorf("model %s/%s %w", providerID, m.Name, ErrDuplicate)
		}
	}
	if err := descriptorFor(*p, m).Validate(); err != nil {
		return err
	}
	m.Enabled = true
	p.Models = append(p.Models, m)
	return nil
}

// AddProvider adds a provider entry. New providers start disabled until
// their key is verified.
func (c *Config) AddProvider(p ProviderConfig) error {
	if p.ID == "" {
		return fmt.Errorf("provider id must not be empty")
	}
	if _, ok := c.Provider(p.ID); ok {
		return fmt.Errorf("provider %s %w", p.ID, ErrDuplicate)
	}
	if p.Kind == "" {
		p.Kind = p.ID
	}
	if !isKnownKind(p.Kind) {
		return fmt.Errorf("unknown kind '%s', must be one of: %s", p.Kind, strings.Join(KnownKinds, ", "))
	}
	p.Enabled = false
	c.Providers = append(c.Providers, p)
	return nil
}

func (c *Config) findModel(providerID, name string) (*ModelConfig, error) {
	p, ok := c.Provider(providerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	for i := range p.Models {
		if p.Models[i].Name == name {
			return &p.Models[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrModelNotFound, providerID, name)
}
