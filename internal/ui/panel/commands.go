// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/manthan/internal/config"
)

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const helpText = "/history [on|off]  /retrieval [on|off]  /toggle provider/model  /clear  /quit"

// runCommand executes a slash command between turns.
func (m *Model) runCommand(line string) tea.Cmd {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "/quit", "/exit", "/q":
		return tea.Quit

	case "/help", "/?":
		m.setNotice(helpText, false)

	case "/clear":
		m.session.ClearHistory()
		for _, p := range m.panels {
			p.begin()
			p.State = ""
		}
		m.md.Reset(m.theme.Name)
		m.refreshAll()
		m.setNotice("conversation cleared", false)

	case "/history":
		m.togglePolicy("history", args, func(c *config.Config) *bool { return &c.Policy.IncludeHistory })

	case "/retrieval":
		m.togglePolicy("retrieval", args, func(c *config.Config) *bool { return &c.Policy.UseRetrieval })
		if m.session.Config().Policy.UseRetrieval && !m.storeReady() {
			m.setNotice("retrieval on, but the store is not ready; run `manthan index build`", true)
		}

	case "/toggle":
		if len(args) != 1 || !strings.Contains(args[0], "/") {
			m.setNotice("usage: /toggle provider/model", true)
			return nil
		}
		providerID, name, _ := strings.Cut(args[0], "/")
		enabled, err := modelEnabled(m.session.Config(), providerID, name)
		if err != nil {
			m.setNotice(err.Error(), true)
			return nil
		}
		if !m.update(func(c *config.Config) error {
			if err := c.ToggleModel(providerID, name, !enabled); err != nil {
				return err
			}
			if !enabled {
				return c.ToggleProvider(providerID, true)
			}
			return nil
		}) {
			return nil
		}
		m.rebuildPanels()
		verb := "enabled"
		if enabled {
			verb = "disabled"
		}
		m.setNotice(fmt.Sprintf("%s/%s %s", providerID, name, verb), false)

	default:
		m.setNotice(fmt.Sprintf("unknown command %s (try /help)", name), true)
	}
	return nil
}

// togglePolicy flips or sets a policy flag.
func (m *Model) togglePolicy(label string, args []string, field func(*config.Config) *bool) {
	current := *field(m.session.Config())
	next := !current
	if len(args) > 0 {
		v, ok := parseOnOff(args[0])
		if !ok {
			m.setNotice(fmt.Sprintf("usage: /%s [on|off]", label), true)
			return
		}
		next = v
	}
	if m.update(func(c *config.Config) error {
		*field(c) = next
		return nil
	}) {
		m.setNotice(fmt.Sprintf("%s %s", label, onOff(next)), false)
	}
}

// update applies fn through the session and persists the result when a
// config path is set. It reports whether the change was applied.
func (m *Model) update(fn func(*config.Config) error) bool {
	next, err := m.session.Update(fn)
	if err != nil {
		m.setNotice(err.Error(), true)
		return false
	}
	if m.configPath != "" {
		if err := config.SaveTOML(next, m.configPath); err != nil {
			m.setNotice(fmt.Sprintf("applied, but not saved: %v", err), true)
			return true
		}
	}
	return true
}

func modelEnabled(cfg *config.Config, providerID, name string) (bool, error) {
	p, ok := cfg.Provider(providerID)
	if !ok {
		return false, fmt.Errorf("%w: %s", config.ErrProviderNotFound, providerID)
	}
	for _, mc := range p.Models {
		if mc.Name == name {
			return p.Enabled && mc.Enabled, nil
		}
	}
	return false, fmt.Errorf("%w: %s/%s", config.ErrModelNotFound, providerID, name)
}

func parseOnOff(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, true
	case "off", "false", "no", "0":
		return false, true
	}
	return false, false
}
