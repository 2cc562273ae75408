// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/jeranaias/manthan/internal/config"
	"github.com/jeranaias/manthan/internal/index"
	"github.com/jeranaias/manthan/internal/logging"
	"github.com/jeranaias/manthan/internal/orchestrator"
	"github.com/jeranaias/manthan/internal/registry"
)

// =============================================================================
// COMMAND TREE
// =============================================================================

// Globals are flags shared by every command.
type Globals struct {
	ConfigFile string `name:"config" short:"c" help:"Path to config file (default $MANTHAN_CONFIG or ~/.manthan/config.toml)" type:"path"`
	LogLevel   string `name:"log-level" help:"Override logging.level (debug, info, warn, error)"`
	Verbose    bool   `short:"v" help:"Verbose output"`
}

// CLI is the root command structure for manthan.
type CLI struct {
	Globals

	TUI     TUICmd     `cmd:"" name:"tui" default:"1" help:"Open the side-by-side panel UI (default)"`
	Ask     AskCmd     `cmd:"" help:"Send one prompt to every enabled model and print the answers"`
	Chat    ChatCmd    `cmd:"" help:"Line-based chat with every enabled model"`
	Models  ModelsCmd  `cmd:"" help:"List models and credential status"`
	Config  ConfigCmd  `cmd:"" help:"Show, validate and edit the configuration"`
	Index   IndexCmd   `cmd:"" help:"Manage the retrieval index"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// =============================================================================
// APP
// =============================================================================

// BuildInfo is set by main at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// App carries the process dependencies every command runs with.
type App struct {
	Context context.Context
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	Build   BuildInfo

	// RegistryOptions are appended whenever a command builds a registry.
	RegistryOptions []registry.Option

	globals Globals
}

// NewApp returns an App bound to the process streams.
func NewApp(build BuildInfo) *App {
	return &App{
		Context: context.Background(),
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Build:   build,
	}
}

type exitCode int

// Execute parses args, runs the selected command and returns the process
// exit code. Command errors print "Error: ..." and exit 1; usage errors exit 2.
func Execute(app *App, args []string) (code int) {
	var cli CLI

	defer func() {
		if r := recover(); r != nil {
			c, ok := r.(exitCode)
			if !ok {
				panic(r)
			}
			code = int(c)
		}
	}()

	parser, err := kong.New(&cli,
		kong.Name("manthan"),
		kong.Description("Ask several language models the same question and compare the answers side by side"),
		kong.UsageOnError(),
		kong.Writers(app.Stdout, app.Stderr),
		kong.Exit(func(c int) { panic(exitCode(c)) }),
	)
	if err != nil {
		fmt.Fprintf(app.Stderr, "Error: failed to create parser: %v\n", err)
		return 1
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(app.Stderr, "Error: %v\n", err)
		var perr *kong.ParseError
		if errors.As(err, &perr) && perr.Context != nil {
			_ = perr.Context.PrintUsage(true)
		}
		return 2
	}

	app.globals = cli.Globals
	if err := ctx.Run(app); err != nil {
		fmt.Fprintf(app.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func (a *App) context() context.Context {
	if a.Context == nil {
		return context.Background()
	}
	return a.Context
}

// configPath returns the config file the command reads and writes.
func (a *App) configPath() string {
	if a.globals.ConfigFile != "" {
		return a.globals.ConfigFile
	}
	return config.ConfigPath()
}

func (a *App) loadConfig() (*config.Config, error) {
	return config.LoadFile(a.configPath())
}

// logLevel resolves the level for a command. Line commands default to warn
// so info records do not interleave with answers.
func (a *App) logLevel(fallback string) string {
	switch {
	case a.globals.LogLevel != "":
		return a.globals.LogLevel
	case a.globals.Verbose:
		return "debug"
	default:
		return fallback
	}
}

// stderrLogger returns the logger used by commands that print to stdout.
func (a *App) stderrLogger() *slog.Logger {
	return logging.New(a.logLevel("warn"), a.Stderr)
}

func (a *App) newSession(cfg *config.Config, logger *slog.Logger, opts ...orchestrator.Option) *orchestrator.Session {
	regOpts := append([]registry.Option{registry.WithLogger(logger)}, a.RegistryOptions...)
	opts = append([]orchestrator.Option{
		orchestrator.WithRegistry(registry.New(cfg, regOpts...)),
		orchestrator.WithLogger(logger),
	}, opts...)
	return orchestrator.New(cfg, opts...)
}

// indexConfig maps the retrieval section onto store settings.
func indexConfig(cfg *config.Config) index.Config {
	ic := index.DefaultConfig(cfg.Retrieval.DocumentsDir)
	if cfg.Retrieval.DatabasePath != "" {
		ic.DatabasePath = cfg.Retrieval.DatabasePath
	}
	if cfg.Retrieval.ChunkSize > 0 {
		ic.ChunkSize = cfg.Retrieval.ChunkSize
	}
	return ic
}

// openStore opens the retrieval store when retrieval is enabled. A store
// that fails to open is logged and skipped; turns run without augmentation.
func openStore(cfg *config.Config, logger *slog.Logger) *index.Store {
	if !cfg.Retrieval.Enabled {
		return nil
	}
	store, err := index.Open(indexConfig(cfg), logger)
	if err != nil {
		logger.Warn("retrieval store unavailable", "error", err)
		return nil
	}
	return store
}

// restrictModels enables exactly the models named by keys ("provider/model")
// and disables every other model.
func restrictModels(cfg *config.Config, keys []string) error {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[strings.TrimSpace(k)] = true
	}

	found := make(map[string]bool, len(keys))
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		enabled := false
		for j := range p.Models {
			key := p.ID + "/" + p.Models[j].Name
			p.Models[j].Enabled = want[key]
			if want[key] {
				found[key] = true
				enabled = true
			}
		}
		p.Enabled = enabled
	}

	for k := range want {
		if !found[k] {
			return fmt.Errorf("%w: %s", config.ErrModelNotFound, k)
		}
	}
	return nil
}

// splitTarget splits "provider" or "provider/model". Model names may
// themselves contain slashes, so only the first one separates.
func splitTarget(target string) (providerID, model string) {
	providerID, model, _ = strings.Cut(strings.TrimSpace(target), "/")
	return providerID, model
}

func parseOnOff(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "1":
		return true, true
	case "off", "false", "no", "0":
		return false, true
	}
	return false, false
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
