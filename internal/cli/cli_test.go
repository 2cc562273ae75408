// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/manthan/internal/backend/backendtest"
	"github.com/jeranaias/manthan/internal/config"
	"github.com/jeranaias/manthan/internal/logging"
	"github.com/jeranaias/manthan/internal/registry"
)

// =============================================================================
// HARNESS
// =============================================================================

const testTOML = `version = "1"

[retrieval]
documents_dir = %q
database_path = %q

[[providers]]
id = "p"
kind = "openai"
enabled = true
api_key_env = "P_KEY"

  [[providers.models]]
  name = "a"
  enabled = true
  max_tokens = 100

  [[providers.models]]
  name = "b"
  enabled = true
  max_tokens = 100
`

type harness struct {
	t        *testing.T
	dir      string
	path     string
	stdin    string
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	backends map[string]*backendtest.Backend
}

func newHarness(t *testing.T, backends map[string]*backendtest.Backend) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MANTHAN_HOME", dir)
	t.Setenv("NO_COLOR", "1")

	path := filepath.Join(dir, "config.toml")
	body := fmt.Sprintf(testTOML, filepath.Join(dir, "docs"), filepath.Join(dir, "retrieval.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	return &harness{t: t, dir: dir, path: path, backends: backends}
}

func (h *harness) app() *App {
	return &App{
		Context: context.Background(),
		Stdin:   strings.NewReader(h.stdin),
		Stdout:  &h.stdout,
		Stderr:  &h.stderr,
		Build:   BuildInfo{Version: "1.2.3", Commit: "abc123", Date: "2025-01-01"},
		RegistryOptions: []registry.Option{
			registry.WithKind("openai", backendtest.Kind(h.backends)),
			registry.WithLookupEnv(func(key string) (string, bool) {
				if key == "P_KEY" {
					return "secret", true
				}
				return "", false
			}),
		},
		globals: Globals{ConfigFile: h.path},
	}
}

func (h *harness) run(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	return Execute(h.app(), append([]string{"--config", h.path}, args...))
}

func (h *harness) config() *config.Config {
	cfg, err := config.LoadFromPath(h.path)
	require.NoError(h.t, err)
	return cfg
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk_PrintsPrefixedAnswers(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{
		"a": {Steps: backendtest.Text("Hello", " world\n", "second line")},
		"b": {Steps: backendtest.Text("Hi")},
	})

	code := h.run("ask", "ping")
	require.Equal(t, 0, code, h.stderr.String())

	out := h.stdout.String()
	assert.Contains(t, out, "p/a │ Hello world\n")
	assert.Contains(t, out, "p/a │ second line\n")
	assert.Contains(t, out, "p/b │ Hi\n")
	assert.Contains(t, out, "2/2 models answered")
	assert.Equal(t, "ping", h.backends["a"].LastSpec().Prompt)
}

func TestAsk_PartialFailureStillSucceeds(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{
		"a": {Steps: backendtest.Text("fine")},
		"b": {Steps: []backendtest.Step{{Delta: "par"}, {Err: errors.New("boom")}}},
	})

	code := h.run("ask", "ping")
	require.Equal(t, 0, code, h.stderr.String())

	out := h.stdout.String()
	assert.Contains(t, out, "p/b │ par\n")
	assert.Contains(t, out, "p/b │ error")
	assert.Contains(t, out, "1/2 models answered")
}

func TestAsk_AllFailed(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{
		"a": {OpenErr: errors.New("down")},
		"b": {OpenErr: errors.New("down")},
	})

	assert.Equal(t, 1, h.run("ask", "ping"))
	assert.Contains(t, h.stderr.String(), "Error: all 2 models failed")
}

func TestAsk_ModelFilter(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{
		"a": {Steps: backendtest.Text("A")},
		"b": {Steps: backendtest.Text("B")},
	})

	require.Equal(t, 0, h.run("ask", "-m", "p/b", "--quiet", "ping"), h.stderr.String())
	assert.Empty(t, h.backends["a"].Specs())
	assert.Len(t, h.backends["b"].Specs(), 1)
	assert.NotContains(t, h.stdout.String(), "models answered")

	assert.Equal(t, 1, h.run("ask", "-m", "p/zzz", "ping"))
	assert.Contains(t, h.stderr.String(), "model not found")
}

func TestAsk_PromptFromStdin(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{
		"a": {Steps: backendtest.Text("A")},
		"b": {Steps: backendtest.Text("B")},
	})
	h.stdin = "from stdin\n"

	require.Equal(t, 0, h.run("ask"), h.stderr.String())
	assert.Equal(t, "from stdin", h.backends["a"].LastSpec().Prompt)
}

func TestAsk_EmptyPrompt(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{})

	assert.Equal(t, 1, h.run("ask", "-"))
	assert.Contains(t, h.stderr.String(), "prompt is empty")
}

// =============================================================================
// CHAT
// =============================================================================

func TestChatREPL(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{
		"a": {Steps: backendtest.Text("Hi")},
		"b": {Steps: backendtest.Text("Hey")},
	})
	app := h.app()
	cfg, err := app.loadConfig()
	require.NoError(t, err)

	var out bytes.Buffer
	repl := &chatREPL{
		session: app.newSession(cfg, logging.Discard()),
		out:     &out,
		profile: termenv.Ascii,
	}
	ctx := context.Background()

	assert.False(t, repl.handle(ctx, "hello"))
	assert.Contains(t, out.String(), "p/a │ Hi")
	assert.Contains(t, out.String(), "2/2 models answered")
	assert.Len(t, repl.session.Log("p/a"), 2)

	out.Reset()
	repl.handle(ctx, "/history off")
	assert.False(t, repl.session.Config().Policy.IncludeHistory)
	assert.Contains(t, out.String(), "history off")

	repl.handle(ctx, "/history")
	assert.True(t, repl.session.Config().Policy.IncludeHistory)

	out.Reset()
	repl.handle(ctx, "/history maybe")
	assert.Contains(t, out.String(), "usage: /history on|off")

	out.Reset()
	repl.handle(ctx, "/retrieval on")
	assert.Contains(t, out.String(), "not ready")

	repl.handle(ctx, "/clear")
	assert.Empty(t, repl.session.Log("p/a"))

	out.Reset()
	repl.handle(ctx, "/bogus")
	assert.Contains(t, out.String(), "unknown command /bogus")

	assert.False(t, repl.handle(ctx, "   "))
	assert.True(t, repl.handle(ctx, "/quit"))
}

// =============================================================================
// MODELS
// =============================================================================

func TestModels(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{})

	require.Equal(t, 0, h.run("models"), h.stderr.String())
	out := h.stdout.String()
	assert.Contains(t, out, "p/a")
	assert.Contains(t, out, "[OK] P_KEY")

	require.Equal(t, 0, h.run("config", "set-key-env", "p", "OTHER_KEY"))
	require.Equal(t, 0, h.run("models"))
	assert.Contains(t, h.stdout.String(), "[X] missing: set OTHER_KEY")
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfig_ReadOnlyCommands(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{})

	require.Equal(t, 0, h.run("config", "path"))
	assert.Equal(t, h.path+"\n", h.stdout.String())

	require.Equal(t, 0, h.run("config", "validate"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "is valid: 1 providers, 2 enabled models")

	require.Equal(t, 0, h.run("config", "show"))
	assert.Contains(t, h.stdout.String(), `api_key_env = "P_KEY"`)
}

func TestConfig_ValidateRejectsBadFile(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{})
	require.NoError(t, os.WriteFile(h.path, []byte("version = \"1\"\n[ui]\nmodels_per_row = 9\n"), 0600))

	assert.Equal(t, 1, h.run("config", "validate"))
	assert.Contains(t, h.stderr.String(), "models_per_row")

	h.path = filepath.Join(h.dir, "absent.toml")
	assert.Equal(t, 1, h.run("config", "validate"))
	assert.Contains(t, h.stderr.String(), "config init")
}

func TestConfig_Init(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{})
	h.path = filepath.Join(h.dir, "fresh", "config.toml")

	require.Equal(t, 0, h.run("config", "init"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "wrote")

	assert.Equal(t, 1, h.run("config", "init"))
	assert.Contains(t, h.stderr.String(), "already exists")

	require.Equal(t, 0, h.run("config", "init", "--force"))
	require.Equal(t, 0, h.run("config", "validate"))
	assert.Len(t, h.config().Providers, len(config.Default().Providers))
}

func TestConfig_Toggle(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{})

	require.Equal(t, 0, h.run("config", "toggle", "p/b", "off"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "saved")
	assert.Len(t, h.config().EnabledModels(), 1)

	require.Equal(t, 0, h.run("models"))
	assert.NotContains(t, h.stdout.String(), "p/b")
	require.Equal(t, 0, h.run("models", "--all"))
	assert.Contains(t, h.stdout.String(), "p/b")

	require.Equal(t, 0, h.run("config", "toggle", "p", "off"))
	assert.Empty(t, h.config().EnabledModels())

	// Enabling a model re-enables its provider, and with it the models
	// that were never switched off.
	require.Equal(t, 0, h.run("config", "toggle", "p/b", "on"))
	assert.Len(t, h.config().EnabledModels(), 2)

	assert.Equal(t, 1, h.run("config", "toggle", "p/zz", "on"))
	assert.Contains(t, h.stderr.String(), "model not found")

	assert.Equal(t, 2, h.run("config", "toggle", "p/a", "maybe"))
}

func TestConfig_Mutations(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{})

	require.Equal(t, 0, h.run("config", "set-params", "p/a", "--temperature", "1.5"), h.stderr.String())
	p, _ := h.config().Provider("p")
	assert.Equal(t, 1.5, p.Models[0].Temperature)
	assert.Equal(t, 100, p.Models[0].MaxTokens)

	assert.Equal(t, 1, h.run("config", "set-params", "p/a", "--temperature", "3"))
	assert.Equal(t, 1, h.run("config", "set-params", "p"))

	require.Equal(t, 0, h.run("config", "ui", "--per-row", "3"))
	assert.Equal(t, 3, h.config().UI.ModelsPerRow)
	assert.Equal(t, 1, h.run("config", "ui", "--per-row", "9"))

	require.Equal(t, 0, h.run("config", "add-provider", "work", "--kind", "openai", "--key-env", "WORK_KEY"), h.stderr.String())
	work, ok := h.config().Provider("work")
	require.True(t, ok)
	assert.False(t, work.Enabled)

	require.Equal(t, 0, h.run("config", "add-model", "p", "c", "--display-name", "Model C"))
	assert.Len(t, h.config().EnabledModels(), 3)
	assert.Equal(t, 1, h.run("config", "add-model", "p", "c"))
	assert.Contains(t, h.stderr.String(), "already exists")
}

// =============================================================================
// INDEX
// =============================================================================

func TestIndexCommands(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{})
	docs := filepath.Join(h.dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "notes.md"),
		[]byte("Quarterly revenue grew by twelve percent in the northern region."), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "scan.pdf"), []byte("%PDF-1.4"), 0644))

	require.Equal(t, 0, h.run("index", "status"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "Loaded:     no")
	assert.Contains(t, h.stdout.String(), "(directory)")

	assert.Equal(t, 1, h.run("index", "search", "revenue"))
	assert.Contains(t, h.stderr.String(), "index build")

	require.Equal(t, 0, h.run("index", "build"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "indexed 1 documents, 1 passages")
	assert.Contains(t, h.stdout.String(), "skipped scan.pdf")

	require.Equal(t, 0, h.run("index", "search", "northern", "revenue"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "notes.md")
	assert.Contains(t, h.stdout.String(), "twelve percent")

	require.Equal(t, 0, h.run("index", "search", "the"))
	assert.Contains(t, h.stdout.String(), "no matching passages")

	require.Equal(t, 0, h.run("index", "status"))
	assert.Contains(t, h.stdout.String(), "Loaded:     yes")
	assert.Contains(t, h.stdout.String(), "Passages:   1")
}

// =============================================================================
// MISC
// =============================================================================

func TestVersion(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{})

	require.Equal(t, 0, h.run("version"))
	assert.Contains(t, h.stdout.String(), "manthan 1.2.3")
	assert.Contains(t, h.stdout.String(), "abc123")
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, map[string]*backendtest.Backend{})

	assert.Equal(t, 2, h.run("frobnicate"))
	assert.Contains(t, h.stderr.String(), "Error:")
}

func TestRestrictModels(t *testing.T) {
	cfg := config.Default()

	require.NoError(t, restrictModels(cfg, []string{"anthropic/claude-3-5-sonnet-latest"}))
	models := cfg.EnabledModels()
	require.Len(t, models, 1)
	assert.Equal(t, "anthropic/claude-3-5-sonnet-latest", models[0].Key())

	err := restrictModels(config.Default(), []string{"openai/nope"})
	assert.ErrorIs(t, err, config.ErrModelNotFound)
}

func TestSplitTarget(t *testing.T) {
	tests := []struct {
		in, provider, model string
	}{
		{"openai", "openai", ""},
		{"openai/gpt-4o", "openai", "gpt-4o"},
		{"openrouter/openrouter/auto", "openrouter", "openrouter/auto"},
		{" ollama/llama3.2 ", "ollama", "llama3.2"},
	}
	for _, tt := range tests {
		p, m := splitTarget(tt.in)
		assert.Equal(t, tt.provider, p, tt.in)
		assert.Equal(t, tt.model, m, tt.in)
	}
}

func TestReadPrompt(t *testing.T) {
	got, err := readPrompt([]string{"hello", "there"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "hello there", got)

	got, err = readPrompt([]string{"-"}, strings.NewReader("  piped\n"))
	require.NoError(t, err)
	assert.Equal(t, "piped", got)

	got, err = readPrompt(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
