package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tractwise/hotspot-cli/internal/fetcher"
	"github.com/tractwise/hotspot-cli/internal/shapes"
)

var shapesCmd = &cobra.Command{
	Use:   "shapes",
	Short: "Manage cached Census boundary files",
	Long:  "Commands for prefetching boundary archives and inspecting the local cache.",
}

// -- shapes load --

var shapesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Prefetch boundary files into the local cache",
	Long: `Downloads the cartographic boundary (or TIGER/Line) archives for a
layer, extracts them, and parses the shapefiles once to verify them.

Examples:
  hotspot shapes load --layer tract --states 01,13
  hotspot shapes load --layer county
  hotspot shapes load --layer zcta --tiger`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		layerName, _ := cmd.Flags().GetString("layer")
		statesStr, _ := cmd.Flags().GetString("states")
		year, _ := cmd.Flags().GetInt("year")
		tiger, _ := cmd.Flags().GetBool("tiger")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		layer, ok := shapes.LayerByName(layerName)
		if !ok {
			return eris.Errorf("shapes load: unknown layer %q", layerName)
		}

		states := splitAndTrim(statesStr)
		if layer.PerState && len(states) == 0 {
			return eris.Errorf("shapes load: layer %q is per-state, pass --states", layer.Name)
		}

		// Flags override config.
		opts := shapes.Options{
			CacheDir:    cfg.Shapes.CacheDir,
			Year:        cfg.Shapes.Year,
			Resolution:  cfg.Shapes.Resolution,
			TIGER:       cfg.Shapes.TIGER || tiger,
			Concurrency: cfg.Shapes.Concurrency,
		}
		if year > 0 {
			opts.Year = year
		}
		if concurrency > 0 {
			opts.Concurrency = concurrency
		}
		if cfg.Shapes.UseFTP {
			opts.Mirror = fetcher.NewFTPFetcher(fetcher.FTPOptions{})
		}
		dl := shapes.NewDownloader(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent: cfg.Census.UserAgent,
		}), opts)

		zap.L().Info("prefetching boundaries",
			zap.String("layer", layer.Name),
			zap.Strings("states", states),
			zap.Bool("tiger", opts.TIGER),
		)

		units, err := dl.Units(ctx, layer, states)
		if err != nil {
			return eris.Wrap(err, "shapes load")
		}

		fmt.Printf("Cached %d %s boundaries\n", len(units), layer.Name)
		return nil
	},
}

// -- shapes status --

var shapesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cached boundary archives",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}
		dl := initDownloader()

		remote, _ := cmd.Flags().GetBool("remote")
		if remote {
			layerName, _ := cmd.Flags().GetString("layer")
			statesStr, _ := cmd.Flags().GetString("states")
			return checkRemote(ctx, dl, layerName, splitAndTrim(statesStr))
		}

		entries, err := dl.Status()
		if err != nil {
			return eris.Wrap(err, "shapes status")
		}
		if len(entries) == 0 {
			fmt.Println("No boundary archives cached yet")
			return nil
		}

		formatCacheStatus(os.Stdout, entries)
		return nil
	},
}

func init() {
	shapesLoadCmd.Flags().String("layer", "tract", "boundary layer (state, county, tract, bg, place, zcta)")
	shapesLoadCmd.Flags().String("states", "", "comma-separated state FIPS codes for per-state layers")
	shapesLoadCmd.Flags().Int("year", 0, "boundary vintage (default: from config)")
	shapesLoadCmd.Flags().Bool("tiger", false, "fetch full TIGER/Line geometry instead of cartographic")
	shapesLoadCmd.Flags().Int("concurrency", 0, "parallel state downloads (default: from config or 3)")

	shapesStatusCmd.Flags().Bool("remote", false, "revalidate cached archives against the Census server")
	shapesStatusCmd.Flags().String("layer", "tract", "layer to revalidate with --remote")
	shapesStatusCmd.Flags().String("states", "", "states to revalidate with --remote")

	shapesCmd.AddCommand(shapesLoadCmd)
	shapesCmd.AddCommand(shapesStatusCmd)
	rootCmd.AddCommand(shapesCmd)
}

// checkRemote reports whether cached archives are stale upstream.
func checkRemote(ctx context.Context, dl *shapes.Downloader, layerName string, states []string) error {
	layer, ok := shapes.LayerByName(layerName)
	if !ok {
		return eris.Errorf("shapes status: unknown layer %q", layerName)
	}
	if !layer.PerState {
		states = []string{""}
	} else if len(states) == 0 {
		return eris.Errorf("shapes status: layer %q is per-state, pass --states", layer.Name)
	}

	for _, st := range states {
		changed, err := dl.CheckRemote(ctx, layer, st)
		if err != nil {
			return eris.Wrapf(err, "shapes status: check %s %s", layer.Name, st)
		}
		name := layer.Name
		if st != "" {
			name += " " + st
		}
		if changed {
			fmt.Printf("%-12s stale (upstream archive changed or not cached)\n", name)
		} else {
			fmt.Printf("%-12s current\n", name)
		}
	}
	return nil
}

// formatCacheStatus writes a tabular cache listing to w.
func formatCacheStatus(out io.Writer, entries []shapes.CacheEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ARCHIVE\tSIZE\tEXTRACTED\tFETCHED\tETAG")
	_, _ = fmt.Fprintln(w, "-------\t----\t---------\t-------\t----")

	for _, e := range entries {
		extracted := "no"
		if e.Extracted {
			extracted = "yes"
		}
		etag := e.ETag
		if etag == "" {
			etag = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Archive, humanBytes(e.SizeBytes), extracted,
			e.FetchedAt.Format("2006-01-02 15:04"), etag)
	}
	_ = w.Flush()
}

// humanBytes formats a byte count for display.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// splitAndTrim splits a comma-separated flag value, dropping empties.
func splitAndTrim(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
