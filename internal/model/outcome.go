// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"
)

// Status is the terminal status of a model's stream.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Well-known error details.
const (
	DetailTimeout  = "timeout"
	DetailCanceled = "canceled"
)

// StreamOutcome is the terminal record of one model's stream in one turn.
// It is created exactly once, after every increment was delivered.
type StreamOutcome struct {
	ModelKey    string        `json:"model"`
	FinalText   string        `json:"final_text"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Status      Status        `json:"status"`
	ErrorDetail string        `json:"error_detail,omitempty"`

	// Increments counts the non-empty deltas forwarded to the sink.
	Increments int `json:"increments"`
}

// OK reports whether the stream completed without error.
func (o StreamOutcome) OK() bool {
	return o.Status == StatusOK
}

// ElapsedSeconds returns the elapsed time as float seconds.
func (o StreamOutcome) ElapsedSeconds() float64 {
	return o.Elapsed.Seconds()
}

// DisplayText returns the text a panel should show: the final text, followed
// by the error detail for failed streams.
func (o StreamOutcome) DisplayText() string {
	if o.OK() || o.ErrorDetail == "" {
		return o.FinalText
	}
	if o.FinalText == "" {
		return "Error: " + o.ErrorDetail
	}
	return o.FinalText + "\n\nError during streaming: " + o.ErrorDetail
}

// Summary returns a one-line status such as "ok 1.2s" or "error 0.3s: timeout".
func (o StreamOutcome) Summary() string {
	s := fmt.Sprintf("%s %.1fs", o.Status, o.ElapsedSeconds())
	if o.ErrorDetail != "" {
		s += ": " + o.ErrorDetail
	}
	return s
}
