package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MrWong99/parrot/internal/app"
	"github.com/MrWong99/parrot/internal/config"
	"github.com/MrWong99/parrot/internal/scrape"
	"github.com/MrWong99/parrot/pkg/dialogue"
	"github.com/MrWong99/parrot/pkg/dialogue/memstore"
)

func newIngestCmd(c *cli) *cobra.Command {
	var character string

	cmd := &cobra.Command{
		Use:   "ingest --character NAME SOURCE...",
		Short: "Import a character's lines from screenplays",
		Long: `Import a character's dialogue from screenplay pages into the lexical store.

Each SOURCE is either an http(s) URL of a screenplay page or a local HTML
file. The line following every cue naming the character is stored as a
corpus record without a trigger message.

Examples:
  parrot ingest --character "The Joker" https://imsdb.com/scripts/Dark-Knight,-The.html
  parrot ingest -C "Iron Man" ./scripts/iron-man.html ./scripts/iron-man-2.html`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ingest(cmd, character, args)
		},
	}
	cmd.Flags().StringVarP(&character, "character", "C", "", "character whose lines are imported (required)")
	_ = cmd.MarkFlagRequired("character")
	return cmd
}

func (c *cli) ingest(cmd *cobra.Command, character string, sources []string) error {
	if strings.TrimSpace(character) == "" {
		return errors.New("--character must not be blank")
	}
	if c.cfg.Stores.Lexical == config.BackendMemory {
		return errors.New("ingest needs a persistent lexical store; set stores.lexical to postgres or mongo")
	}
	ctx := cmd.Context()

	// Only the lexical store is written; keep the vector side in memory so a
	// mongo setup does not need postgres.
	stores, err := app.OpenStores(ctx, c.cfg.Stores, nil, memstore.NewVector())
	if err != nil {
		return err
	}
	defer stores.Close()

	out := cmd.ErrOrStderr()
	bar := progressbar.NewOptions(len(sources),
		progressbar.OptionSetWriter(out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(out)
		}),
	)

	sc := scrape.New()
	total := 0
	for _, src := range sources {
		recs, err := loadSource(ctx, sc, character, src)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", src, err)
		}
		if len(recs) > 0 {
			if err := stores.Lexical.InsertMany(ctx, recs); err != nil {
				return fmt.Errorf("ingest %s: %w", src, err)
			}
		}
		slog.Debug("source ingested", "source", src, "lines", len(recs))
		total += len(recs)
		_ = bar.Add(1)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d lines for %s from %d source(s)\n", total, character, len(sources))
	return nil
}

// loadSource fetches src over HTTP when it looks like a URL and reads it from
// disk otherwise.
func loadSource(ctx context.Context, sc *scrape.Scraper, character, src string) ([]dialogue.Record, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return sc.Scrape(ctx, character, src)
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scrape.ExtractDialogues(character, f)
}
