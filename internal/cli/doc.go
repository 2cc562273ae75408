// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the manthan command line.
//
// Commands are declared as a kong struct tree in cli.go. Each command builds
// its own orchestrator.Session from the loaded configuration; nothing is
// shared between invocations.
//
// # Commands
//
//	manthan [tui]                       Side-by-side panel UI (default)
//	manthan ask PROMPT...               One turn, answers prefixed per model
//	manthan chat                        Line REPL with input history
//	manthan models [--all]              Models and credential status
//	manthan config show|validate|init|path
//	manthan config toggle|add-model|add-provider|set-params|set-key-env|ui
//	manthan index build|search|status   Retrieval index
//	manthan version
//
// Errors print "Error: ..." to stderr and exit 1.
package cli
