// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import (
	"time"

	"github.com/jeranaias/manthan/internal/config"
	"github.com/jeranaias/manthan/internal/model"
	"github.com/jeranaias/manthan/internal/orchestrator"
	"github.com/jeranaias/manthan/internal/sink"
)

// streamTickMsg flushes the streaming buffers into the panels.
type streamTickMsg struct {
	Time time.Time
}

// streamStateMsg reports a model's state transition.
type streamStateMsg struct {
	Key   string
	State sink.StreamState
}

// streamOutcomeMsg delivers a model's terminal outcome.
type streamOutcomeMsg struct {
	Key     string
	Outcome model.StreamOutcome
}

// turnDoneMsg signals that RunTurn returned.
type turnDoneMsg struct {
	Result *orchestrator.TurnResult
	Err    error
}

// ConfigReloadedMsg carries a configuration reloaded from disk. It is
// applied between turns.
type ConfigReloadedMsg struct {
	Config *config.Config
}
