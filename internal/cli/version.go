// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"runtime"
)

// VersionCmd prints build information.
type VersionCmd struct{}

func (c *VersionCmd) Run(app *App) error {
	fmt.Fprintf(app.Stdout, "manthan %s\n", app.Build.Version)
	fmt.Fprintf(app.Stdout, "  Commit:     %s\n", app.Build.Commit)
	fmt.Fprintf(app.Stdout, "  Built:      %s\n", app.Build.Date)
	fmt.Fprintf(app.Stdout, "  Go version: %s\n", runtime.Version())
	fmt.Fprintf(app.Stdout, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}
