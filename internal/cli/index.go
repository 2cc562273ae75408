// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jeranaias/manthan/internal/index"
	"github.com/jeranaias/manthan/internal/util"
)

// IndexCmd manages the retrieval index over the documents directory.
type IndexCmd struct {
	Build  IndexBuildCmd  `cmd:"" help:"Rebuild the index from the documents directory"`
	Search IndexSearchCmd `cmd:"" help:"Show the passages a prompt would retrieve"`
	Status IndexStatusCmd `cmd:"" help:"Show index status"`
}

// openIndex opens the store described by the config, with an optional
// source override.
func (a *App) openIndex(source string) (*index.Store, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	ic := indexConfig(cfg)
	if source != "" {
		ic.Source = source
	}
	return index.Open(ic, a.stderrLogger())
}

type IndexBuildCmd struct {
	Source string `type:"path" help:"Documents directory or file, overriding retrieval.documents_dir"`
}

func (c *IndexBuildCmd) Run(app *App) error {
	store, err := app.openIndex(c.Source)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := store.Rebuild(app.context())
	if err != nil {
		return err
	}

	fmt.Fprintf(app.Stdout, "indexed %d documents, %d passages in %.1fs\n",
		report.Documents, report.Passages, report.Elapsed.Seconds())
	for _, s := range report.Skipped {
		fmt.Fprintf(app.Stdout, "  skipped %s: %s\n", s.Path, s.Reason)
	}
	return nil
}

type IndexSearchCmd struct {
	Query []string `arg:"" help:"Search text"`
	Limit int      `short:"n" default:"4" help:"Maximum passages"`
}

func (c *IndexSearchCmd) Run(app *App) error {
	store, err := app.openIndex("")
	if err != nil {
		return err
	}
	defer store.Close()

	passages, err := store.Search(app.context(), strings.Join(c.Query, " "), c.Limit)
	if errors.Is(err, index.ErrNotIndexed) {
		return fmt.Errorf("%w (run manthan index build)", err)
	}
	if err != nil {
		return err
	}
	if len(passages) == 0 {
		fmt.Fprintln(app.Stdout, "no matching passages")
		return nil
	}
	for i, p := range passages {
		fmt.Fprintf(app.Stdout, "[%d] %s #%d (score %.2f)\n%s\n\n", i+1, p.Source, p.Ordinal, p.Score, util.TruncateRunes(p.Text, 400))
	}
	return nil
}

type IndexStatusCmd struct{}

func (c *IndexStatusCmd) Run(app *App) error {
	store, err := app.openIndex("")
	if err != nil {
		return err
	}
	defer store.Close()

	st := store.Status()
	kind := "file"
	if st.IsDir {
		kind = "directory"
	}
	if !st.Exists {
		kind = "missing"
	}
	last := "never"
	if !st.LastIndexed.IsZero() {
		last = humanize.Time(st.LastIndexed)
	}

	fmt.Fprintf(app.Stdout, "Source:     %s (%s)\n", st.Path, kind)
	fmt.Fprintf(app.Stdout, "Loaded:     %s\n", yesNo(st.Loaded))
	fmt.Fprintf(app.Stdout, "Documents:  %d\n", st.Documents)
	fmt.Fprintf(app.Stdout, "Passages:   %d\n", st.Passages)
	fmt.Fprintf(app.Stdout, "Indexed:    %s\n", last)
	fmt.Fprintf(app.Stdout, "Database:   %s (%s)\n", st.DatabasePath, humanize.Bytes(uint64(st.DatabaseSize)))
	return nil
}
