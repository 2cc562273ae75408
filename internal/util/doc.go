// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the config, UI and CLI packages.
//
//   - WriteFileAtomic: crash-safe replacement of the config file
//   - Truncate: display-width truncation for panel titles and previews
package util
