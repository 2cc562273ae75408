// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/jeranaias/manthan/internal/registry"
	"github.com/jeranaias/manthan/internal/ui/styles"
)

// ModelsCmd lists models with the credential status of their provider.
type ModelsCmd struct {
	All bool `short:"a" help:"Include disabled providers and models"`
}

func (c *ModelsCmd) Run(app *App) error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}

	reg := registry.New(cfg, append([]registry.Option{registry.WithLogger(app.stderrLogger())}, app.RegistryOptions...)...)
	creds := make(map[string]registry.CredentialState)
	for _, cs := range reg.CredentialStatus() {
		creds[cs.ProviderID] = cs
	}

	tw := tabwriter.NewWriter(app.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tNAME\tENABLED\tCREDENTIAL")

	shown := 0
	for _, p := range cfg.Providers {
		for _, m := range p.Models {
			enabled := p.Enabled && m.Enabled
			if !enabled && !c.All {
				continue
			}
			name := m.DisplayName
			if name == "" {
				name = m.Name
			}
			fmt.Fprintf(tw, "%s/%s\t%s\t%s\t%s\n", p.ID, m.Name, name, yesNo(enabled), credentialLabel(p.APIKeyEnv, creds, p.ID))
			shown++
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if shown == 0 {
		fmt.Fprintln(app.Stdout, "\nno models enabled; run manthan config toggle provider/model on")
	}
	return nil
}

func credentialLabel(env string, creds map[string]registry.CredentialState, providerID string) string {
	if env == "" {
		return styles.StatusIndicators.Success + " not required"
	}
	cs, ok := creds[providerID]
	switch {
	case !ok:
		return styles.StatusIndicators.Pending + " " + env
	case cs.Present:
		return styles.StatusIndicators.Success + " " + env
	default:
		return styles.StatusIndicators.Error + " missing: set " + env
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
