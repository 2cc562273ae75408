// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/manthan/internal/config"
)

// ConfigCmd groups the configuration subcommands.
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" help:"Print the effective configuration as TOML"`
	Validate ConfigValidateCmd `cmd:"" help:"Check the config file without contacting any backend"`
	Init     ConfigInitCmd     `cmd:"" help:"Write the default configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Print the config file path"`

	Toggle      ConfigToggleCmd      `cmd:"" help:"Enable or disable a provider or provider/model"`
	AddModel    ConfigAddModelCmd    `cmd:"" name:"add-model" help:"Add a model to a provider"`
	AddProvider ConfigAddProviderCmd `cmd:"" name:"add-provider" help:"Add a provider account (starts disabled)"`
	SetParams   ConfigSetParamsCmd   `cmd:"" name:"set-params" help:"Set temperature and max tokens of a model"`
	SetKeyEnv   ConfigSetKeyEnvCmd   `cmd:"" name:"set-key-env" help:"Set the environment variable a provider reads its key from"`
	UI          ConfigUICmd          `cmd:"" name:"ui" help:"Set panel layout and theme"`
}

// =============================================================================
// READ-ONLY
// =============================================================================

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(app *App) error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	fmt.Fprint(app.Stdout, cfg.String())
	return nil
}

type ConfigValidateCmd struct{}

func (c *ConfigValidateCmd) Run(app *App) error {
	path := app.configPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no config file at %s (run manthan config init)", path)
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Stdout, "%s is valid: %d providers, %d enabled models\n", path, len(cfg.Providers), len(cfg.EnabledModels()))
	return nil
}

type ConfigInitCmd struct {
	Force bool `short:"f" help:"Overwrite an existing file"`
}

func (c *ConfigInitCmd) Run(app *App) error {
	path := app.configPath()
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return err
	}
	fmt.Fprintf(app.Stdout, "wrote %s\n", path)
	return nil
}

type ConfigPathCmd struct{}

func (c *ConfigPathCmd) Run(app *App) error {
	fmt.Fprintln(app.Stdout, app.configPath())
	return nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// mutateConfig loads the config file (or defaults), applies fn, validates
// and saves the result.
func (a *App) mutateConfig(fn func(*config.Config) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	path := a.configPath()
	if err := config.SaveTOML(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "saved %s\n", path)
	return nil
}

type ConfigToggleCmd struct {
	Target string `arg:"" help:"provider or provider/model"`
	State  string `arg:"" enum:"on,off" help:"on or off"`
}

func (c *ConfigToggleCmd) Run(app *App) error {
	on := c.State == "on"
	providerID, name := splitTarget(c.Target)
	return app.mutateConfig(func(cfg *config.Config) error {
		if name == "" {
			return cfg.ToggleProvider(providerID, on)
		}
		if err := cfg.ToggleModel(providerID, name, on); err != nil {
			return err
		}
		if on {
			return cfg.ToggleProvider(providerID, true)
		}
		return nil
	})
}

type ConfigAddModelCmd struct {
	Provider    string  `arg:"" help:"Provider id"`
	Name        string  `arg:"" help:"Model id sent to the provider API"`
	DisplayName string  `help:"Panel title"`
	Temperature float64 `default:"0.7" help:"Sampling temperature [0,2]"`
	MaxTokens   int     `default:"1000" help:"Maximum tokens per answer"`
}

func (c *ConfigAddModelCmd) Run(app *App) error {
	return app.mutateConfig(func(cfg *config.Config) error {
		return cfg.AddModel(c.Provider, config.ModelConfig{
			Name:        c.Name,
			DisplayName: c.DisplayName,
			Temperature: c.Temperature,
			MaxTokens:   c.MaxTokens,
		})
	})
}

type ConfigAddProviderCmd struct {
	ID      string `arg:"" help:"Provider id, e.g. work-openai"`
	Kind    string `help:"Backend kind (ollama, openai, openrouter, anthropic, google); defaults to the id"`
	KeyEnv  string `name:"key-env" help:"Environment variable holding the API key"`
	BaseURL string `name:"base-url" help:"API base URL"`
}

func (c *ConfigAddProviderCmd) Run(app *App) error {
	return app.mutateConfig(func(cfg *config.Config) error {
		return cfg.AddProvider(config.ProviderConfig{
			ID:        c.ID,
			Kind:      c.Kind,
			APIKeyEnv: c.KeyEnv,
			BaseURL:   c.BaseURL,
		})
	})
}

type ConfigSetParamsCmd struct {
	Target      string  `arg:"" help:"provider/model"`
	Temperature float64 `default:"-1" help:"Sampling temperature [0,2]; unchanged when omitted"`
	MaxTokens   int     `default:"-1" help:"Maximum tokens per answer; unchanged when omitted"`
}

func (c *ConfigSetParamsCmd) Run(app *App) error {
	providerID, name := splitTarget(c.Target)
	if name == "" {
		return fmt.Errorf("target must be provider/model, got %q", c.Target)
	}
	return app.mutateConfig(func(cfg *config.Config) error {
		p, ok := cfg.Provider(providerID)
		if !ok {
			return fmt.Errorf("%w: %s", config.ErrProviderNotFound, providerID)
		}
		temperature, maxTokens := -1.0, -1
		for _, m := range p.Models {
			if m.Name == name {
				temperature, maxTokens = m.Temperature, m.MaxTokens
			}
		}
		if c.Temperature >= 0 {
			temperature = c.Temperature
		}
		if c.MaxTokens >= 0 {
			maxTokens = c.MaxTokens
		}
		return cfg.UpdateModelParameters(providerID, name, temperature, maxTokens)
	})
}

type ConfigSetKeyEnvCmd struct {
	Provider string `arg:"" help:"Provider id"`
	Env      string `arg:"" help:"Environment variable name"`
}

func (c *ConfigSetKeyEnvCmd) Run(app *App) error {
	return app.mutateConfig(func(cfg *config.Config) error {
		return cfg.UpdateAPIKeyEnv(c.Provider, c.Env)
	})
}

type ConfigUICmd struct {
	PerRow int    `name:"per-row" help:"Panels per row (1-4)"`
	Theme  string `help:"dark or light"`
}

func (c *ConfigUICmd) Run(app *App) error {
	return app.mutateConfig(func(cfg *config.Config) error {
		perRow, theme := cfg.UI.ModelsPerRow, cfg.UI.Theme
		if c.PerRow != 0 {
			perRow = c.PerRow
		}
		if c.Theme != "" {
			theme = c.Theme
		}
		return cfg.UpdateUISettings(perRow, theme)
	})
}
