package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tractwise/hotspot-cli/internal/model"
	"github.com/tractwise/hotspot-cli/internal/render"
	"github.com/tractwise/hotspot-cli/internal/store"
)

var renderCmd = &cobra.Command{
	Use:   "render <run-id>",
	Short: "Render a stored run as a PNG, GeoJSON or HTML map",
	Long: `Reads a completed run's results and boundaries from the store and
writes a map artifact. No network access needed.

Examples:
  hotspot render 0b51a1e2 --format png --out clusters.png
  hotspot render 0b51a1e2 --format html --mode value --out rates.html`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		modeStr, _ := cmd.Flags().GetString("mode")
		width, _ := cmd.Flags().GetInt("width")
		height, _ := cmd.Flags().GetInt("height")
		title, _ := cmd.Flags().GetString("title")

		if format == "" && out != "" {
			format = formatFromPath(out)
		}
		if format == "" {
			format = "png"
		}
		switch format {
		case "png", "geojson", "json", "html", "map":
		default:
			return eris.Errorf("render: format %q not supported here (use the export command for tables)", format)
		}

		mode, err := render.ParseMode(modeStr)
		if err != nil {
			return err
		}
		if width == 0 {
			width = cfg.Render.Width
		}
		if height == 0 {
			height = cfg.Render.Height
		}

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		ds, err := storedDataset(ctx, st, args[0])
		if err != nil {
			return err
		}

		rend, err := render.For(format, render.Options{
			Mode:   mode,
			Width:  width,
			Height: height,
			Title:  title,
		})
		if err != nil {
			return err
		}

		if out == "" {
			out = filepath.Join(cfg.Render.OutDir, args[0]+"."+format)
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "render: create %s", out)
		}
		defer f.Close() //nolint:errcheck

		if err := rend.Render(ds, f); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", out)
		return nil
	},
}

func init() {
	renderCmd.Flags().String("format", "", "artifact format: png, geojson or html (default png, or from --out extension)")
	renderCmd.Flags().String("out", "", "output path (default <run-id>.<format> in render.out_dir)")
	renderCmd.Flags().String("mode", "", "coloring: cluster (default) or value")
	renderCmd.Flags().Int("width", 0, "PNG width in pixels (default from config)")
	renderCmd.Flags().Int("height", 0, "PNG height in pixels (default from config)")
	renderCmd.Flags().String("title", "", "HTML page title (default: metric name)")
	rootCmd.AddCommand(renderCmd)
}

// storedDataset loads a completed run's results and boundaries from the
// store and pairs them for rendering.
func storedDataset(ctx context.Context, st store.Store, runID string) (*render.Dataset, error) {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != model.RunStatusComplete {
		return nil, eris.Errorf("run %s is %s, not complete", run.ID, run.Status)
	}

	results, err := st.ListResults(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	geoms, err := st.GetGeometries(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return render.NewDataset(run, results, geoms)
}
