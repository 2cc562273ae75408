// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/manthan/internal/config"
	"github.com/jeranaias/manthan/internal/index"
	"github.com/jeranaias/manthan/internal/logging"
	"github.com/jeranaias/manthan/internal/orchestrator"
	"github.com/jeranaias/manthan/internal/ui/panel"
)

// TUICmd opens the panel grid.
type TUICmd struct {
	NoWatch bool `help:"Do not reload the config file when it changes"`
}

func (c *TUICmd) Run(app *App) error {
	path := app.configPath()
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}

	// The terminal belongs to the UI, so logs go to a file.
	logger, closer, err := logging.Setup(app.logLevel(cfg.Logging.Level), cfg.LogPath())
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.Info("starting", "version", app.Build.Version, "config", path, "models", len(cfg.EnabledModels()))

	ctx, cancel := context.WithCancel(app.context())
	defer cancel()

	var (
		wg   sync.WaitGroup
		opts []orchestrator.Option
	)
	store := openStore(cfg, logger)
	if store != nil {
		opts = append(opts, orchestrator.WithStore(store))
		wg.Add(1)
		go func() {
			defer wg.Done()
			prepareStore(ctx, store, cfg.Retrieval.Watch, logger)
		}()
	}

	session := app.newSession(cfg, logger, opts...)
	m := panel.New(ctx, session, panel.WithConfigPath(path), panel.WithVersion(app.Build.Version))
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.Attach(p.Send)

	if !c.NoWatch {
		if _, err := os.Stat(path); err == nil {
			w, err := config.Watch(ctx, path, config.DefaultDebounce, logger)
			if err != nil {
				logger.Warn("config watch disabled", "error", err)
			} else {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for next := range w.Updates() {
						p.Send(panel.ConfigReloadedMsg{Config: next})
					}
				}()
			}
		}
	}

	_, runErr := p.Run()
	cancel()
	wg.Wait()
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close retrieval store", "error", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal UI failed: %w", runErr)
	}
	logger.Info("exiting")
	return nil
}

// prepareStore builds the index when it is empty and then keeps it in sync
// with the documents directory until ctx is done.
func prepareStore(ctx context.Context, store *index.Store, watch bool, logger *slog.Logger) {
	if !store.IsReady() {
		if _, err := store.Rebuild(ctx); err != nil {
			logger.Warn("initial index build failed", "error", err)
		}
	}
	if !watch {
		return
	}
	w, err := store.Watch(ctx)
	if err != nil {
		logger.Warn("document watch disabled", "error", err)
		return
	}
	w.Wait()
}
