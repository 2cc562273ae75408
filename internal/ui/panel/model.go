// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/manthan/internal/config"
	"github.com/jeranaias/manthan/internal/orchestrator"
	"github.com/jeranaias/manthan/internal/ui/styles"
)

// Model is the Bubble Tea model of the panel grid.
type Model struct {
	ctx     context.Context
	session *orchestrator.Session

	theme *styles.Theme
	md    *markdown
	sink  *ProgramSink

	panels []*Panel
	byKey  map[string]*Panel

	input   textinput.Model
	spinner spinner.Model

	width  int
	height int

	running bool
	cancel  context.CancelFunc
	// reload is a configuration that arrived during a turn.
	reload *config.Config

	notice    string
	noticeErr bool

	configPath string
	version    string
}

// Option configures a Model.
type Option func(*Model)

// WithConfigPath makes settings commands persist the configuration to path.
func WithConfigPath(path string) Option {
	return func(m *Model) { m.configPath = path }
}

// WithVersion sets the version shown in the header.
func WithVersion(v string) Option {
	return func(m *Model) { m.version = v }
}

// New creates the panel grid for session. Call Attach before running it.
func New(ctx context.Context, session *orchestrator.Session, opts ...Option) *Model {
	cfg := session.Config()

	ti := textinput.New()
	ti.Placeholder = "Ask every model… (/help for commands)"
	ti.Prompt = "› "
	ti.CharLimit = 8000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &Model{
		ctx:     ctx,
		session: session,
		theme:   styles.NewTheme(cfg.UI.Theme),
		byKey:   make(map[string]*Panel),
		input:   ti,
		spinner: sp,
		sink:    NewProgramSink(func(tea.Msg) {}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.md = newMarkdown(m.theme.Name)
	m.input.PromptStyle = m.theme.InputPrompt
	m.rebuildPanels()
	return m
}

// Attach sets the function that delivers stream events to the running
// program, normally tea.Program.Send.
func (m *Model) Attach(send func(tea.Msg)) {
	m.sink = NewProgramSink(send)
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refreshAll()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case streamTickMsg:
		for _, p := range m.panels {
			if chunk, ok := m.sink.Flush(p.Desc.Key()); ok {
				p.append(chunk)
			}
		}
		m.refreshAll()
		if m.running {
			return m, streamTickCmd()
		}
		return m, nil

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case streamStateMsg:
		if p, ok := m.byKey[msg.Key]; ok && !msg.State.Terminal() {
			p.State = msg.State
			m.refresh(p)
		}
		return m, nil

	case streamOutcomeMsg:
		if p, ok := m.byKey[msg.Key]; ok {
			if chunk, ok := m.sink.Drain(msg.Key); ok {
				p.append(chunk)
			}
			p.finish(msg.Outcome)
			m.refresh(p)
		}
		return m, nil

	case turnDoneMsg:
		return m, m.finishTurn(msg)

	case ConfigReloadedMsg:
		if m.running {
			m.reload = msg.Config
			return m, nil
		}
		m.applyConfig(msg.Config)
		m.setNotice("configuration reloaded", false)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.running {
			m.cancel()
			m.setNotice("canceling turn…", false)
			return m, nil
		}
		return m, tea.Quit

	case "esc":
		if m.running {
			m.cancel()
			m.setNotice("canceling turn…", false)
		}
		return m, nil

	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmds []tea.Cmd
		for _, p := range m.panels {
			var cmd tea.Cmd
			p.viewport, cmd = p.viewport.Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case "enter":
		line := strings.TrimSpace(m.input.Value())
		if line == "" {
			return m, nil
		}
		if m.running {
			m.setNotice("wait for the current turn to finish (esc cancels it)", true)
			return m, nil
		}
		m.input.Reset()
		if strings.HasPrefix(line, "/") {
			return m, m.runCommand(line)
		}
		return m, m.submit(line)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit starts a turn. The turn runs in a command goroutine; its events
// come back through the sink.
func (m *Model) submit(prompt string) tea.Cmd {
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.running = true
	m.notice = ""

	m.sink.Reset()
	for _, p := range m.panels {
		p.begin()
	}

	session, out := m.session, m.sink
	run := func() tea.Msg {
		defer cancel()
		result, err := session.RunTurn(ctx, prompt, out)
		return turnDoneMsg{Result: result, Err: err}
	}
	return tea.Batch(run, streamTickCmd(), m.spinner.Tick)
}

func (m *Model) finishTurn(msg turnDoneMsg) tea.Cmd {
	m.running = false
	m.cancel = nil

	// Stragglers after the last tick.
	for _, p := range m.panels {
		if chunk, ok := m.sink.Drain(p.Desc.Key()); ok {
			p.append(chunk)
		}
	}

	switch {
	case errors.Is(msg.Err, orchestrator.ErrNoModels):
		m.setNotice("no models enabled; use /toggle provider/model", true)
	case msg.Err != nil:
		m.setNotice(msg.Err.Error(), true)
	case msg.Result != nil:
		n := len(msg.Result.Outcomes)
		if failed := msg.Result.Failed(); failed > 0 {
			m.setNotice(fmt.Sprintf("%d of %d models failed (%.1fs)", failed, n, msg.Result.Elapsed.Seconds()), true)
		} else {
			m.setNotice(fmt.Sprintf("%d models answered (%.1fs)", n, msg.Result.Elapsed.Seconds()), false)
		}
	}

	if m.reload != nil {
		m.applyConfig(m.reload)
		m.reload = nil
	}
	m.refreshAll()
	return nil
}

// applyConfig swaps in cfg and rebuilds the grid.
func (m *Model) applyConfig(cfg *config.Config) {
	m.session.Reconfigure(cfg)
	if cfg.UI.Theme != m.theme.Name {
		m.theme = styles.NewTheme(cfg.UI.Theme)
		m.md.Reset(m.theme.Name)
		m.input.PromptStyle = m.theme.InputPrompt
	}
	m.rebuildPanels()
}

// rebuildPanels matches the panels to the enabled models, keeping the
// panels of models that stay enabled.
func (m *Model) rebuildPanels() {
	descs := m.session.Models()
	panels := make([]*Panel, 0, len(descs))
	byKey := make(map[string]*Panel, len(descs))
	for _, d := range descs {
		p, ok := m.byKey[d.Key()]
		if !ok {
			p = newPanel(d)
		}
		p.Desc = d
		panels = append(panels, p)
		byKey[d.Key()] = p
	}
	m.panels, m.byKey = panels, byKey
	m.layout()
	m.refreshAll()
}

// =============================================================================
// LAYOUT
// =============================================================================

const (
	headerHeight = 1
	inputHeight  = 2
	footerHeight = 1
)

func (m *Model) columns() int {
	cols := m.session.Config().UI.ModelsPerRow
	if cols < 1 {
		cols = 1
	}
	if n := len(m.panels); n > 0 && n < cols {
		cols = n
	}
	return cols
}

func (m *Model) layout() {
	if m.width == 0 || len(m.panels) == 0 {
		return
	}
	cols := m.columns()
	rows := (len(m.panels) + cols - 1) / cols

	gridHeight := max(m.height-headerHeight-inputHeight-footerHeight, 3*rows)
	panelHeight := gridHeight / rows
	for i, p := range m.panels {
		w := m.width / cols
		if i%cols == cols-1 {
			w = m.width - w*(cols-1)
		}
		p.setSize(w, panelHeight)
	}
	m.input.Width = max(m.width-6, 10)
}

func (m *Model) refresh(p *Panel) {
	p.refresh(m.session.Log(p.Desc.Key()), m.theme, m.md)
}

func (m *Model) refreshAll() {
	for _, p := range m.panels {
		m.refresh(p)
	}
}

func (m *Model) setNotice(text string, isErr bool) {
	m.notice, m.noticeErr = text, isErr
}

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 {
		return "loading…"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.headerView(),
		m.gridView(),
		m.footerView(),
		m.theme.InputContainer.Width(m.width).Render(m.input.View()),
	)
}

func (m *Model) headerView() string {
	parts := []string{m.theme.HeaderBrand.Render("manthan")}
	if m.version != "" {
		parts = append(parts, m.theme.HeaderMuted.Render(m.version))
	}
	for _, c := range m.session.CredentialStatus() {
		parts = append(parts, m.theme.RenderStatus(c.Present, c.ProviderID))
	}
	return m.theme.Header.Width(m.width).Render(strings.Join(parts, "  "))
}

func (m *Model) gridView() string {
	if len(m.panels) == 0 {
		return m.theme.Notice.Render("No models enabled. Use /toggle provider/model or edit the config file.")
	}
	spin := m.spinner.View()
	cols := m.columns()

	var rows []string
	for start := 0; start < len(m.panels); start += cols {
		end := min(start+cols, len(m.panels))
		views := make([]string, 0, end-start)
		for _, p := range m.panels[start:end] {
			views = append(views, p.View(m.theme, spin))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, views...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m *Model) footerView() string {
	if m.notice != "" {
		style := m.theme.Notice
		if m.noticeErr {
			style = m.theme.NoticeError
		}
		return m.theme.Footer.Render(style.Render(m.notice))
	}

	pol := m.session.Config().Policy
	retrieval := onOff(pol.UseRetrieval)
	if pol.UseRetrieval && !m.storeReady() {
		retrieval = "unavailable"
	}
	return m.theme.Footer.Render(fmt.Sprintf("history %s · retrieval %s · /help", onOff(pol.IncludeHistory), retrieval))
}

func (m *Model) storeReady() bool {
	store := m.session.Store()
	return store != nil && store.IsReady()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
