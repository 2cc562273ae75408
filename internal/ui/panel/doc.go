// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package panel provides the interactive multi-model chat view.

Every enabled model gets its own panel in a grid (ui.models_per_row wide).
A single prompt input sends each turn to all of them at once; the panels
fill in concurrently as increments arrive.

# Streaming

ProgramSink receives increments from the dispatch goroutines and batches
them per model in a StreamingBuffer. A 30fps tick flushes the buffers into
the panels, so a fast stream never floods the Bubble Tea loop. State and
outcome events are sent to the program directly; an outcome drains the
model's buffer before it is applied.

While a panel streams, its text ends with the "▌" cursor. Finished answers
are rendered as Markdown with glamour. A failed stream keeps its partial
text and shows the error below it.

# Commands

	/history [on|off]    Include conversation history in prompts
	/retrieval [on|off]  Augment prompts from the retrieval store
	/toggle p/model      Enable or disable a model
	/clear               Clear every conversation log
	/help                Show the command list
	/quit                Exit

# Usage

	m := panel.New(ctx, session, panel.WithConfigPath(path))
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.Attach(p.Send)
	_, err := p.Run()
*/
package panel
