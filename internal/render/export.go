package render

import (
	"encoding/csv"
	"io"
	"math"
	"sort"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/tractwise/hotspot-cli/internal/model"
)

// CSV streams the per-unit table with a header row. NaN statistics print
// as "NaN", which the usual numeric tooling reads back as missing.
type CSV struct{}

func (CSV) Render(ds *Dataset, w io.Writer) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	for i := range ds.Results {
		if err := enc.Encode(ds.Results[i]); err != nil {
			return eris.Wrapf(err, "render: encode csv row %s", ds.Results[i].GEOID)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "render: flush csv")
	}
	return nil
}

// XLSX writes a workbook: a Results sheet with the per-unit table and a
// Summary sheet with the run identity and label counts.
type XLSX struct{}

var xlsxHeader = []string{
	"geoid", "name", "value", "local_i", "z", "p", "p_sim",
	"quadrant", "label", "island",
}

func (XLSX) Render(ds *Dataset, w io.Writer) error {
	f := xlsx.NewFile()

	results, err := f.AddSheet("Results")
	if err != nil {
		return eris.Wrap(err, "render: add results sheet")
	}
	header := results.AddRow()
	for _, h := range xlsxHeader {
		header.AddCell().SetString(h)
	}
	for _, res := range ds.Results {
		row := results.AddRow()
		row.AddCell().SetString(res.GEOID)
		row.AddCell().SetString(res.Name)
		setFloatCell(row.AddCell(), res.Value)
		setFloatCell(row.AddCell(), res.LocalI)
		setFloatCell(row.AddCell(), res.Z)
		setFloatCell(row.AddCell(), res.P)
		setFloatCell(row.AddCell(), res.PSim)
		row.AddCell().SetString(res.Quadrant)
		row.AddCell().SetString(res.Label)
		row.AddCell().SetBool(res.Island)
	}

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "render: add summary sheet")
	}
	addPair := func(key, value string) {
		row := summary.AddRow()
		row.AddCell().SetString(key)
		row.AddCell().SetString(value)
	}
	addPair("run", ds.RunID)
	addPair("metric", ds.Metric)

	row := summary.AddRow()
	row.AddCell().SetString("units")
	row.AddCell().SetInt(len(ds.Results))

	counts := make(map[string]int)
	for _, res := range ds.Results {
		counts[res.Label]++
	}
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		row := summary.AddRow()
		row.AddCell().SetString(label)
		row.AddCell().SetInt(counts[label])
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "render: write xlsx")
	}
	return nil
}

// setFloatCell leaves the cell empty for non-finite values; the XLSX
// number format has no NaN literal.
func setFloatCell(cell *xlsx.Cell, v model.Float) {
	f := v.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		cell.SetString("")
		return
	}
	cell.SetFloat(f)
}
