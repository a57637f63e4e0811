package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tractwise/hotspot-cli/internal/render"
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a stored run's per-unit results as CSV or XLSX",
	Long: `Writes one row per spatial unit: GEOID, name, value, local statistics,
p-values and the cluster label.

Examples:
  hotspot export 0b51a1e2 --format csv --out results.csv
  hotspot export 0b51a1e2 --format xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")

		if format == "" && out != "" {
			format = formatFromPath(out)
		}
		if format == "" {
			format = "csv"
		}
		switch format {
		case "csv", "xlsx":
		default:
			return eris.Errorf("export: format %q not supported here (use the render command for maps)", format)
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

		rend, err := render.For(format, render.Options{})
		if err != nil {
			return err
		}

		if out == "" {
			out = filepath.Join(cfg.Render.OutDir, args[0]+"."+format)
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "export: create %s", out)
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
	exportCmd.Flags().String("format", "", "table format: csv or xlsx (default csv, or from --out extension)")
	exportCmd.Flags().String("out", "", "output path (default <run-id>.<format> in render.out_dir)")
	rootCmd.AddCommand(exportCmd)
}
