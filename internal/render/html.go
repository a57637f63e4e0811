package render

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"math"

	"github.com/rotisserie/eris"
)

//go:embed map.html.tmpl
var mapTemplateText string

var mapTmpl = template.Must(template.New("map").Parse(mapTemplateText))

// HTML renders a self-contained Leaflet page: the GeoJSON payload is
// inlined, each unit pre-colored for the mode, with a matching legend and
// per-unit statistic popups.
type HTML struct {
	opts Options
}

type legendEntry struct {
	Color string
	Label string
}

type mapData struct {
	Title   string
	Metric  string
	RunID   string
	GeoJSON template.JS
	Legend  []legendEntry
}

func (r *HTML) Render(ds *Dataset, w io.Writer) error {
	fill := fillFunc(ds, r.opts.Mode)
	fc := featureCollection(ds, func(i int) map[string]interface{} {
		return map[string]interface{}{"fill": fill(i).Hex()}
	})
	payload, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrap(err, "render: marshal geojson")
	}

	title := r.opts.Title
	if title == "" {
		title = ds.Metric
	}

	data := mapData{
		Title:   title,
		Metric:  ds.Metric,
		RunID:   ds.RunID,
		GeoJSON: template.JS(payload), //nolint:gosec // payload is json.Marshal output, HTML-escaped
		Legend:  legendFor(ds, r.opts.Mode),
	}
	if err := mapTmpl.Execute(w, data); err != nil {
		return eris.Wrap(err, "render: execute map template")
	}
	return nil
}

func legendFor(ds *Dataset, mode Mode) []legendEntry {
	if mode == ModeValue {
		ramp := Spectral()
		lo, hi := valueRange(ds.Results)
		if math.IsInf(lo, 1) || hi <= lo {
			return []legendEntry{{Color: neutral.Hex(), Label: "no data"}}
		}
		entries := make([]legendEntry, 0, 5)
		for _, t := range []float64{0, 0.25, 0.5, 0.75, 1} {
			entries = append(entries, legendEntry{
				Color: ramp.Color(t).Hex(),
				Label: fmt.Sprintf("%.1f", lo+t*(hi-lo)),
			})
		}
		return entries
	}
	return []legendEntry{
		{Color: "#a50026", Label: "High-High (p < 0.001)"},
		{Color: "#d73027", Label: "High-High (p < 0.05)"},
		{Color: "#313695", Label: "Low-Low (p < 0.001)"},
		{Color: "#4575b4", Label: "Low-Low (p < 0.05)"},
		{Color: "#fdae61", Label: "High-Low outlier"},
		{Color: "#abd9e9", Label: "Low-High outlier"},
		{Color: neutral.Hex(), Label: "Not significant"},
	}
}
