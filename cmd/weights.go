package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tractwise/hotspot-cli/internal/analysis"
	"github.com/tractwise/hotspot-cli/internal/geoframe"
	"github.com/tractwise/hotspot-cli/internal/model"
	"github.com/tractwise/hotspot-cli/internal/shapes"
	"github.com/tractwise/hotspot-cli/internal/weights"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Build spatial weights for a region and print a summary",
	Long: `Loads (or downloads) the boundaries for a region, builds the spatial
weights matrix, and prints its neighbor statistics: degree histogram,
islands, and the moment sums the global tests use.

Useful for checking a weights specification before spending a full
analysis on it.

Examples:
  hotspot weights --state 01 --county 073
  hotspot weights --state 01 --rule knn --k 6 --style binary`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		levelName, _ := cmd.Flags().GetString("level")
		state, _ := cmd.Flags().GetString("state")
		county, _ := cmd.Flags().GetString("county")
		rule, _ := cmd.Flags().GetString("rule")
		k, _ := cmd.Flags().GetInt("k")
		thresholdM, _ := cmd.Flags().GetFloat64("threshold-m")
		styleStr, _ := cmd.Flags().GetString("style")
		allowIslands, _ := cmd.Flags().GetBool("allow-islands")

		layer, ok := shapes.LayerByName(levelName)
		if !ok {
			return eris.Errorf("weights: unknown level %q", levelName)
		}
		if layer.PerState && state == "" {
			return eris.Errorf("weights: level %q requires --state", layer.Name)
		}
		if county != "" && layer.Name != "tract" && layer.Name != "bg" {
			return eris.Errorf("weights: county filter only applies to tract and bg, not %q", layer.Name)
		}

		finder, err := analysis.FinderFor(model.RunParams{Weights: rule, K: k, ThresholdM: thresholdM})
		if err != nil {
			return err
		}
		style, err := weights.ParseStyle(styleStr)
		if err != nil {
			return err
		}

		var states []string
		if state != "" {
			states = []string{state}
		}
		dl := initDownloader()
		units, err := dl.Units(ctx, layer, states)
		if err != nil {
			return eris.Wrap(err, "weights: load boundaries")
		}
		if county != "" {
			prefix := state + county
			kept := units[:0]
			for _, u := range units {
				if strings.HasPrefix(u.GEOID, prefix) {
					kept = append(kept, u)
				}
			}
			units = kept
		}

		frame, err := geoframe.FromValues(units, make([]float64, len(units)))
		if err != nil {
			return eris.Wrap(err, "weights")
		}
		neighbors, err := finder.Find(frame)
		if err != nil {
			return err
		}
		w, err := weights.New(frame.GEOIDs(), neighbors, weights.Options{
			Style:        style,
			AllowIslands: allowIslands,
		})
		if err != nil {
			return err
		}

		fmt.Print(formatWeightsSummary(w))
		return nil
	},
}

func init() {
	weightsCmd.Flags().String("level", "tract", "geography level (state, county, tract, bg, place, zcta)")
	weightsCmd.Flags().String("state", "", "state FIPS code")
	weightsCmd.Flags().String("county", "", "county FIPS code within --state")
	weightsCmd.Flags().String("rule", "queen", "neighbor rule: queen, rook, knn or distance")
	weightsCmd.Flags().Int("k", 4, "neighbor count for --rule knn")
	weightsCmd.Flags().Float64("threshold-m", 0, "band in meters for --rule distance")
	weightsCmd.Flags().String("style", "row", "weight style: row or binary")
	weightsCmd.Flags().Bool("allow-islands", false, "zero-weight units with no neighbors instead of failing")
	rootCmd.AddCommand(weightsCmd)
}

// formatWeightsSummary renders neighbor statistics for display.
func formatWeightsSummary(w *weights.W) string {
	p := message.NewPrinter(language.English)
	s := w.Summarize()

	var b strings.Builder
	p.Fprintf(&b, "Units: %d\n", s.N)
	styleName := "row-standardized (W)"
	if s.Style == weights.StyleBinary {
		styleName = "binary (B)"
	}
	fmt.Fprintf(&b, "Style: %s\n", styleName)
	fmt.Fprintf(&b, "Neighbors: min %d, mean %.2f, max %d\n",
		s.MinNeighbors, s.MeanNeighbors, s.MaxNeighbors)
	fmt.Fprintf(&b, "Nonzero links: %.2f%%\n", s.PctNonZero)
	fmt.Fprintf(&b, "S0 = %.4f, S1 = %.4f, S2 = %.4f\n", s.S0, s.S1, s.S2)

	counts := make(map[int]int)
	maxDeg := 0
	for i := 0; i < w.N(); i++ {
		d := len(w.Neighbors(i))
		counts[d]++
		if d > maxDeg {
			maxDeg = d
		}
	}
	b.WriteString("\nNeighbor histogram:\n")
	for d := 0; d <= maxDeg; d++ {
		if counts[d] == 0 {
			continue
		}
		p.Fprintf(&b, "  %2d neighbors: %d unit(s)\n", d, counts[d])
	}

	if s.Style == weights.StyleRow {
		bad := 0
		for i := 0; i < w.N(); i++ {
			if len(w.Neighbors(i)) == 0 {
				continue
			}
			if diff := w.RowSum(i) - 1; diff > 1e-9 || diff < -1e-9 {
				bad++
			}
		}
		if bad == 0 {
			b.WriteString("\nRow sums: 1.0 for every connected unit\n")
		} else {
			p.Fprintf(&b, "\nRow sums: %d unit(s) do not sum to 1\n", bad)
		}
	}

	if len(s.Islands) > 0 {
		sample := s.Islands
		suffix := ""
		if len(sample) > 5 {
			sample = sample[:5]
			suffix = ", ..."
		}
		p.Fprintf(&b, "\nIslands (%d): %s%s\n", len(s.Islands), strings.Join(sample, ", "), suffix)
	}
	return b.String()
}
