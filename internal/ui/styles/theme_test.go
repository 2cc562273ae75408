// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"
)

func TestNewTheme_Names(t *testing.T) {
	tests := []struct {
		in     string
		name   string
		isDark bool
	}{
		{"dark", "dark", true},
		{"light", "light", false},
		{"", "dark", true},
		{"neon", "dark", true},
	}
	for _, tt := range tests {
		th := NewTheme(tt.in)
		if th.Name != tt.name || th.IsDark != tt.isDark {
			t.Errorf("NewTheme(%q) = %s/%v, want %s/%v", tt.in, th.Name, th.IsDark, tt.name, tt.isDark)
		}
	}
}

func TestRenderStatus_IncludesIndicator(t *testing.T) {
	th := NewTheme("dark")
	if got := th.RenderStatus(true, "openai"); !strings.Contains(got, StatusIndicators.Success) {
		t.Errorf("missing success indicator: %q", got)
	}
	if got := th.RenderStatus(false, "google"); !strings.Contains(got, StatusIndicators.Error) {
		t.Errorf("missing error indicator: %q", got)
	}
}
