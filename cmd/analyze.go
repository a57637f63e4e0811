package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tractwise/hotspot-cli/internal/analysis"
	"github.com/tractwise/hotspot-cli/internal/model"
	"github.com/tractwise/hotspot-cli/internal/render"
)

var (
	analyzeMetric       string
	analyzeLevel        string
	analyzeState        string
	analyzeCounty       string
	analyzeYear         int
	analyzeDataset      string
	analyzeWeights      string
	analyzeK            int
	analyzeThresholdM   float64
	analyzeStyle        string
	analyzeAllowIslands bool
	analyzeDropInvalid  bool
	analyzePermutations int
	analyzeSeed         int64
	analyzeAlternative  string
	analyzeOut          string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a hotspot analysis for one metric and region",
	Long: `Fetches the metric's ACS estimates and the matching boundary files,
joins them, builds spatial weights, and computes global (Moran's I,
General G) and local (Local Moran) statistics with cluster labels.

The run and its per-unit results are persisted for later rendering.

Examples:
  # Unemployment clusters across Alabama tracts
  hotspot analyze --metric unemployment --state 01

  # Poverty in one county, k-nearest-neighbor weights, map artifact
  hotspot analyze --metric poverty --state 01 --county 073 \
    --weights knn --k 6 --out poverty.html`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		params := analyzeParams()
		zap.L().Info("starting analysis",
			zap.String("metric", params.Metric),
			zap.String("level", params.Level),
			zap.String("state", params.State),
			zap.String("weights", params.Weights),
			zap.Int("permutations", params.Permutations),
		)

		res, err := env.Pipeline.Run(ctx, params)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		fmt.Print(analysis.FormatReport(res))

		if analyzeOut != "" {
			if err := writeArtifact(res, analyzeOut); err != nil {
				return eris.Wrap(err, "analyze: write artifact")
			}
			fmt.Printf("\nWrote %s\n", analyzeOut)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeMetric, "metric", "", "catalog metric to analyze (required)")
	analyzeCmd.Flags().StringVar(&analyzeLevel, "level", "tract", "geography level (state, county, tract, bg, place, zcta)")
	analyzeCmd.Flags().StringVar(&analyzeState, "state", "", "state FIPS code, e.g. 01")
	analyzeCmd.Flags().StringVar(&analyzeCounty, "county", "", "county FIPS code within --state, e.g. 073")
	analyzeCmd.Flags().IntVar(&analyzeYear, "year", 0, "ACS vintage (default: latest supported)")
	analyzeCmd.Flags().StringVar(&analyzeDataset, "dataset", "", "ACS dataset (default acs/acs5)")
	analyzeCmd.Flags().StringVar(&analyzeWeights, "weights", "queen", "neighbor rule: queen, rook, knn or distance")
	analyzeCmd.Flags().IntVar(&analyzeK, "k", 4, "neighbor count for --weights knn")
	analyzeCmd.Flags().Float64Var(&analyzeThresholdM, "threshold-m", 0, "band in meters for --weights distance")
	analyzeCmd.Flags().StringVar(&analyzeStyle, "style", "row", "weight style: row or binary")
	analyzeCmd.Flags().BoolVar(&analyzeAllowIslands, "allow-islands", false, "zero-weight units with no neighbors instead of failing")
	analyzeCmd.Flags().BoolVar(&analyzeDropInvalid, "drop-invalid", false, "drop units with invalid derived values instead of failing")
	analyzeCmd.Flags().IntVar(&analyzePermutations, "permutations", -1, "conditional permutations for local p-values (default: from config)")
	analyzeCmd.Flags().Int64Var(&analyzeSeed, "seed", 0, "permutation RNG seed (default: from config)")
	analyzeCmd.Flags().StringVar(&analyzeAlternative, "alternative", "greater", "alternative hypothesis: greater, less or two-sided")
	analyzeCmd.Flags().StringVar(&analyzeOut, "out", "", "optional artifact path; format from extension (.png .geojson .html .csv .xlsx)")
	_ = analyzeCmd.MarkFlagRequired("metric")
	rootCmd.AddCommand(analyzeCmd)
}

// analyzeParams assembles run parameters from flags, with config values
// backing the statistical knobs.
func analyzeParams() model.RunParams {
	permutations := analyzePermutations
	if permutations < 0 {
		permutations = cfg.Analysis.Permutations
	}
	seed := analyzeSeed
	if seed == 0 {
		seed = cfg.Analysis.Seed
	}
	return model.RunParams{
		Metric:       strings.TrimSpace(analyzeMetric),
		Year:         analyzeYear,
		Dataset:      strings.TrimSpace(analyzeDataset),
		Level:        strings.TrimSpace(analyzeLevel),
		State:        strings.TrimSpace(analyzeState),
		County:       strings.TrimSpace(analyzeCounty),
		Weights:      analyzeWeights,
		K:            analyzeK,
		ThresholdM:   analyzeThresholdM,
		Style:        analyzeStyle,
		AllowIslands: analyzeAllowIslands,
		DropInvalid:  analyzeDropInvalid,
		Permutations: permutations,
		Seed:         seed,
		Alternative:  analyzeAlternative,
	}
}

// writeArtifact renders the live result straight to a file without a
// second store round trip.
func writeArtifact(res *analysis.Result, outPath string) error {
	rend, err := render.For(formatFromPath(outPath), render.Options{
		Width:  cfg.Render.Width,
		Height: cfg.Render.Height,
	})
	if err != nil {
		return err
	}
	ds, err := render.FromFrame(res.Run, res.Units, res.Frame.Geometries())
	if err != nil {
		return err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return eris.Wrapf(err, "create %s", outPath)
	}
	defer f.Close() //nolint:errcheck

	return rend.Render(ds, f)
}

// formatFromPath maps a file extension to a renderer format name.
func formatFromPath(p string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
	if ext == "htm" {
		return "html"
	}
	return ext
}
