// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/muesli/termenv"
	"github.com/peterh/liner"

	"github.com/jeranaias/manthan/internal/config"
	"github.com/jeranaias/manthan/internal/orchestrator"
	"github.com/jeranaias/manthan/internal/sink"
)

// ChatCmd runs a line REPL. Every line is one turn across all enabled
// models; slash commands change the session between turns.
type ChatCmd struct {
	Model     []string `short:"m" help:"Chat only with these provider/model keys (repeatable)"`
	NoHistory bool     `help:"Do not read or write the input history file"`
}

const chatHelp = `Commands:
  /help             Show this help
  /models           List the models answering each turn
  /clear            Clear every model's conversation
  /history on|off   Send earlier turns with each prompt
  /retrieval on|off Augment prompts with indexed passages
  /quit             Exit (also Ctrl+D)
Ctrl+C cancels the running turn.`

func (c *ChatCmd) Run(app *App) error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	if len(c.Model) > 0 {
		if err := restrictModels(cfg, c.Model); err != nil {
			return err
		}
	}

	logger := app.stderrLogger()
	var opts []orchestrator.Option
	if store := openStore(cfg, logger); store != nil {
		defer store.Close()
		opts = append(opts, orchestrator.WithStore(store))
	}

	repl := &chatREPL{
		session: app.newSession(cfg, logger, opts...),
		out:     app.Stdout,
		profile: colorProfile(app.Stdout),
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := filepath.Join(config.ConfigDir(), "chat_history")
	if !c.NoHistory {
		if f, err := os.Open(historyFile); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
		defer saveHistory(line, historyFile)
	}

	repl.banner()
	for {
		input, err := line.Prompt("› ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(app.Stdout)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if repl.handle(app.context(), input) {
			return nil
		}
	}
}

// saveHistory persists the input history with owner-only permissions.
func saveHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}

// chatREPL executes chat lines against a session.
type chatREPL struct {
	session *orchestrator.Session
	out     io.Writer
	profile termenv.Profile
}

func (r *chatREPL) banner() {
	keys := modelKeys(r.session.Models())
	title := r.profile.String("manthan chat").Foreground(termenv.ANSIMagenta).Bold()
	fmt.Fprintf(r.out, "%s · %d models · /help for commands\n", title, len(keys))
}

func (r *chatREPL) notice(format string, args ...any) {
	fmt.Fprintln(r.out, r.profile.String(fmt.Sprintf(format, args...)).Faint().String())
}

func (r *chatREPL) errorf(format string, args ...any) {
	msg := "Error: " + fmt.Sprintf(format, args...)
	fmt.Fprintln(r.out, r.profile.String(msg).Foreground(termenv.ANSIRed).String())
}

// handle runs one input line and reports whether the REPL should exit.
func (r *chatREPL) handle(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}
	if strings.HasPrefix(input, "/") {
		return r.command(input)
	}

	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	out := sink.NewWriter(r.out, r.profile, modelKeys(r.session.Models()))
	result, err := r.session.RunTurn(turnCtx, input, out)
	if err != nil {
		r.errorf("%v", err)
		return false
	}
	printSummary(r.out, r.profile, result)
	return false
}

func (r *chatREPL) command(input string) bool {
	fields := strings.Fields(input)
	name, args := fields[0], fields[1:]

	switch name {
	case "/quit", "/exit", "/q":
		return true

	case "/help", "/h":
		fmt.Fprintln(r.out, chatHelp)

	case "/models":
		for _, d := range r.session.Models() {
			fmt.Fprintf(r.out, "  %s  %s\n", d.Key(), d.Title())
		}

	case "/clear", "/c":
		r.session.ClearHistory()
		r.notice("conversation cleared")

	case "/history":
		r.toggle(args, "history", func(c *config.Config) *bool { return &c.Policy.IncludeHistory })

	case "/retrieval":
		r.toggle(args, "retrieval", func(c *config.Config) *bool { return &c.Policy.UseRetrieval })
		if store := r.session.Store(); r.session.Config().Policy.UseRetrieval && (store == nil || !store.IsReady()) {
			r.notice("retrieval store not ready; run manthan index build")
		}

	default:
		r.errorf("unknown command %s (try /help)", name)
	}
	return false
}

// toggle flips or sets one policy switch for the rest of the session.
func (r *chatREPL) toggle(args []string, label string, field func(*config.Config) *bool) {
	on := !*field(r.session.Config())
	if len(args) > 0 {
		v, ok := parseOnOff(args[0])
		if !ok {
			r.errorf("usage: /%s on|off", label)
			return
		}
		on = v
	}
	if _, err := r.session.Update(func(c *config.Config) error {
		*field(c) = on
		return nil
	}); err != nil {
		r.errorf("%v", err)
		return
	}
	r.notice("%s %s", label, onOff(on))
}
