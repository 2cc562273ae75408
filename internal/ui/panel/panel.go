// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/manthan/internal/model"
	"github.com/jeranaias/manthan/internal/sink"
	"github.com/jeranaias/manthan/internal/ui/styles"
	"github.com/jeranaias/manthan/internal/util"
)

// Panel shows one model's conversation.
type Panel struct {
	Desc  model.ModelDescriptor
	State sink.StreamState

	// live holds the current turn's streamed text until the log is finalized.
	live    strings.Builder
	outcome *model.StreamOutcome

	viewport viewport.Model
	width    int
	height   int
}

func newPanel(desc model.ModelDescriptor) *Panel {
	return &Panel{
		Desc:     desc,
		viewport: viewport.New(20, 5),
	}
}

// begin resets the panel for a new turn.
func (p *Panel) begin() {
	p.State = sink.StatePending
	p.live.Reset()
	p.outcome = nil
}

func (p *Panel) append(delta string) {
	p.live.WriteString(delta)
}

func (p *Panel) finish(o model.StreamOutcome) {
	p.outcome = &o
	if o.OK() {
		p.State = sink.StateCompleted
	} else {
		p.State = sink.StateFailed
	}
}

// Failed reports whether the last turn ended in error.
func (p *Panel) Failed() bool {
	return p.outcome != nil && !p.outcome.OK()
}

// setSize sets the outer size of the panel, borders included.
func (p *Panel) setSize(width, height int) {
	p.width, p.height = width, height
	// border (2) + padding (2) horizontally; border (2) + title (1) vertically
	p.viewport.Width = max(width-4, 1)
	p.viewport.Height = max(height-3, 1)
}

// refresh rebuilds the viewport content from the model's log.
func (p *Panel) refresh(log []model.Message, theme *styles.Theme, md *markdown) {
	atBottom := p.viewport.AtBottom()
	p.viewport.SetContent(p.content(log, theme, md))
	if atBottom || p.State == sink.StateStreaming {
		p.viewport.GotoBottom()
	}
}

func (p *Panel) content(log []model.Message, theme *styles.Theme, md *markdown) string {
	width := p.viewport.Width
	wrap := lipgloss.NewStyle().Width(width)

	var blocks []string
	for i, msg := range log {
		switch msg.Role {
		case model.RoleUser:
			blocks = append(blocks, wrap.Render(theme.UserLine.Render("› "+msg.Content)))

		case model.RoleAssistant:
			if msg.Pending {
				text := p.live.String()
				if p.State == sink.StateStreaming || p.State == sink.StateStarting || p.State == sink.StatePending {
					text += theme.Cursor.Render(styles.StreamCursor)
				}
				blocks = append(blocks, wrap.Render(theme.AssistantText.Render(text)))
				continue
			}
			if msg.Content != "" {
				blocks = append(blocks, md.Render(msg.ID, msg.Content, width))
			}
			if i == len(log)-1 && p.Failed() {
				blocks = append(blocks, wrap.Render(theme.ErrorText.Render(errorLine(*p.outcome))))
			}
		}
	}
	return strings.Join(blocks, "\n\n")
}

// errorLine is the part of DisplayText that follows the final text.
func errorLine(o model.StreamOutcome) string {
	if o.FinalText == "" {
		return "Error: " + o.ErrorDetail
	}
	return "Error during streaming: " + o.ErrorDetail
}

// title returns the panel header line, truncated to width.
func (p *Panel) title(theme *styles.Theme, spinner string) string {
	width := max(p.width-4, 1)

	status := string(p.State)
	switch {
	case p.outcome != nil:
		status = p.outcome.Summary()
		if p.Failed() {
			// The detail is shown in the body.
			status = styles.StatusIndicators.Error + " " + strings.SplitN(status, ":", 2)[0]
		}
	case p.State == sink.StateStreaming || p.State == sink.StateStarting:
		status = spinner + " " + status
	case p.State == "":
		status = ""
	}

	statusWidth := runewidth.StringWidth(status)
	nameWidth := width - statusWidth - 1
	if nameWidth < 4 {
		return util.Truncate(p.Desc.Title(), width)
	}
	name := util.Truncate(p.Desc.Title(), nameWidth)
	gap := strings.Repeat(" ", max(width-runewidth.StringWidth(name)-statusWidth, 1))

	statusStyle := theme.PanelStatus
	if p.Failed() {
		statusStyle = theme.PanelStatusErr
	}
	return theme.PanelTitle.Render(name) + gap + statusStyle.Render(status)
}

// View renders the bordered panel.
func (p *Panel) View(theme *styles.Theme, spinner string) string {
	style := theme.Panel
	switch {
	case p.Failed():
		style = theme.PanelError
	case p.State == sink.StateStreaming || p.State == sink.StateStarting:
		style = theme.PanelStreaming
	}
	body := lipgloss.JoinVertical(lipgloss.Left, p.title(theme, spinner), p.viewport.View())
	return style.
		Width(max(p.width-2, 1)).
		Height(max(p.height-2, 1)).
		Render(body)
}
