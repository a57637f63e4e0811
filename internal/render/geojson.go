package render

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// GeoJSON writes the dataset as a FeatureCollection, one feature per unit
// with the statistics in its properties. Non-finite statistics serialize
// as null.
type GeoJSON struct{}

func (GeoJSON) Render(ds *Dataset, w io.Writer) error {
	data, err := json.Marshal(featureCollection(ds, nil))
	if err != nil {
		return eris.Wrap(err, "render: marshal geojson")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "render: write geojson")
	}
	return nil
}

// featureCollection builds the features; extra, when non-nil, contributes
// additional properties per unit.
func featureCollection(ds *Dataset, extra func(i int) map[string]interface{}) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{}
	for i, res := range ds.Results {
		props := map[string]interface{}{
			"geoid":    res.GEOID,
			"name":     res.Name,
			"value":    res.Value,
			"local_i":  res.LocalI,
			"z":        res.Z,
			"p":        res.P,
			"p_sim":    res.PSim,
			"quadrant": res.Quadrant,
			"label":    res.Label,
			"island":   res.Island,
		}
		if extra != nil {
			for k, v := range extra(i) {
				props[k] = v
			}
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         res.GEOID,
			Geometry:   ds.Geoms[i],
			Properties: props,
		})
	}
	return fc
}
