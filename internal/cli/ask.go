// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/muesli/termenv"

	"github.com/jeranaias/manthan/internal/model"
	"github.com/jeranaias/manthan/internal/orchestrator"
	"github.com/jeranaias/manthan/internal/sink"
)

// AskCmd sends one prompt to every enabled model.
//
// Examples:
//
//	manthan ask "Explain CRDTs in two sentences"
//	manthan ask -m openai/gpt-4o -m anthropic/claude-3-5-sonnet-latest "hi"
//	git diff | manthan ask -
type AskCmd struct {
	Prompt  []string      `arg:"" optional:"" help:"Prompt text; read from stdin when omitted or -"`
	Model   []string      `short:"m" help:"Ask only these provider/model keys (repeatable)"`
	Timeout time.Duration `help:"Per-model timeout, overriding dispatch.timeout"`
	Quiet   bool          `short:"q" help:"Skip the turn summary"`
}

func (c *AskCmd) Run(app *App) error {
	prompt, err := readPrompt(c.Prompt, app.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read prompt: %w", err)
	}

	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	if len(c.Model) > 0 {
		if err := restrictModels(cfg, c.Model); err != nil {
			return err
		}
	}
	if c.Timeout > 0 {
		cfg.Dispatch.Timeout = c.Timeout
	}

	logger := app.stderrLogger()
	var opts []orchestrator.Option
	if store := openStore(cfg, logger); store != nil {
		defer store.Close()
		opts = append(opts, orchestrator.WithStore(store))
	}
	session := app.newSession(cfg, logger, opts...)

	ctx, stop := signal.NotifyContext(app.context(), os.Interrupt)
	defer stop()

	out := sink.NewWriter(app.Stdout, colorProfile(app.Stdout), modelKeys(session.Models()))
	result, err := session.RunTurn(ctx, prompt, out)
	if err != nil {
		return err
	}

	if !c.Quiet {
		printSummary(app.Stdout, colorProfile(app.Stdout), result)
	}
	if n := len(result.Outcomes); n > 0 && result.Failed() == n {
		return fmt.Errorf("all %d models failed", n)
	}
	return nil
}

func modelKeys(descs []model.ModelDescriptor) []string {
	keys := make([]string, len(descs))
	for i, d := range descs {
		keys[i] = d.Key()
	}
	return keys
}

// printSummary writes "2/3 models answered (4.1s)" after a turn.
func printSummary(w io.Writer, profile termenv.Profile, result *orchestrator.TurnResult) {
	total := len(result.Outcomes)
	ok := total - result.Failed()
	line := fmt.Sprintf("%d/%d models answered (%.1fs)", ok, total, result.Elapsed.Seconds())

	styled := profile.String(line).Faint()
	if ok < total {
		styled = profile.String(line).Foreground(termenv.ANSIYellow)
	}
	fmt.Fprintf(w, "\n%s\n", styled.String())
}
