// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds all the styled components of the panel grid.
type Theme struct {
	// Name is "dark" or "light"; it also selects the markdown style.
	Name         string
	IsDark       bool
	ColorProfile termenv.Profile

	// ==========================================================================
	// HEADER STYLES
	// ==========================================================================

	Header      lipgloss.Style
	HeaderBrand lipgloss.Style
	HeaderMuted lipgloss.Style
	CredOK      lipgloss.Style
	CredMissing lipgloss.Style

	// ==========================================================================
	// PANEL STYLES
	// ==========================================================================

	Panel          lipgloss.Style
	PanelStreaming lipgloss.Style
	PanelError     lipgloss.Style
	PanelTitle     lipgloss.Style
	PanelStatus    lipgloss.Style
	PanelStatusErr lipgloss.Style
	UserLine       lipgloss.Style
	AssistantText  lipgloss.Style
	ErrorText      lipgloss.Style
	Cursor         lipgloss.Style

	// ==========================================================================
	// INPUT AND FOOTER STYLES
	// ==========================================================================

	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style
	Footer         lipgloss.Style
	Notice         lipgloss.Style
	NoticeError    lipgloss.Style
}

// NewTheme creates a theme. Any name other than "light" yields the dark theme.
func NewTheme(name string) *Theme {
	isDark := name != "light"
	if isDark {
		name = "dark"
	}
	lipgloss.SetHasDarkBackground(isDark)

	t := &Theme{
		Name:         name,
		IsDark:       isDark,
		ColorProfile: termenv.ColorProfile(),
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	// Header
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderBrand = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)
	t.HeaderMuted = lipgloss.NewStyle().
		Foreground(TextMuted)
	t.CredOK = lipgloss.NewStyle().
		Foreground(Emerald)
	t.CredMissing = lipgloss.NewStyle().
		Foreground(Rose)

	// Panels
	border := lipgloss.RoundedBorder()
	t.Panel = lipgloss.NewStyle().
		BorderStyle(border).
		BorderForeground(OverlayDim).
		Padding(0, 1)
	t.PanelStreaming = t.Panel.
		BorderForeground(Cyan)
	t.PanelError = t.Panel.
		BorderForeground(Rose)
	t.PanelTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)
	t.PanelStatus = lipgloss.NewStyle().
		Foreground(TextMuted)
	t.PanelStatusErr = lipgloss.NewStyle().
		Foreground(Rose)
	t.UserLine = lipgloss.NewStyle().
		Foreground(UserText).
		Bold(true)
	t.AssistantText = lipgloss.NewStyle().
		Foreground(TextPrimary)
	t.ErrorText = lipgloss.NewStyle().
		Foreground(Rose).
		Bold(true)
	t.Cursor = lipgloss.NewStyle().
		Foreground(Cyan)

	// Input and footer
	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.InputPrompt = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)
	t.Footer = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Padding(0, 1)
	t.Notice = lipgloss.NewStyle().
		Foreground(Amber)
	t.NoticeError = lipgloss.NewStyle().
		Foreground(Rose).
		Bold(true)
}

// RenderStatus renders a status word with its indicator.
func (t *Theme) RenderStatus(success bool, message string) string {
	if success {
		return t.CredOK.Render(StatusIndicators.Success + " " + message)
	}
	return t.CredMissing.Render(StatusIndicators.Error + " " + message)
}
