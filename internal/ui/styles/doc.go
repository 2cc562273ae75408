// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the manthan TUI.

All colors use Lip Gloss AdaptiveColor; the configured theme ("dark" or
"light") decides which side of each pair is used.

# Color System (colors.go)

  - Purple - Panel titles
  - Cyan - Brand color and streaming panel borders
  - Emerald - Success states and present credentials
  - Amber - Notices
  - Rose - Errors, failed panels and missing credentials

# Theme System (theme.go)

	theme := styles.NewTheme(cfg.UI.Theme)
	border := theme.PanelStreaming.Width(40).Render(body)

# Status Indicators

ASCII indicators keep state readable without color:

	StatusIndicators.Success - [OK]
	StatusIndicators.Error   - [X]
*/
package styles
