package shapes

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Units downloads (or reuses) the boundary archives for a layer and returns
// the parsed units sorted by GEOID.
//
// For per-state layers, states selects which archives to fetch and at least
// one is required. For national layers fetched as a single archive, states
// filters the result by GEOID prefix; that filter is rejected for layers
// whose GEOIDs are not state-prefixed (ZCTAs).
func (d *Downloader) Units(ctx context.Context, layer Layer, states []string) ([]Unit, error) {
	fipsList, err := resolveStates(states)
	if err != nil {
		return nil, err
	}

	var units []Unit
	if layer.PerState {
		if len(fipsList) == 0 {
			return nil, eris.Errorf("shapes: layer %q is published per state; at least one state is required", layer.Name)
		}
		units, err = d.perStateUnits(ctx, layer, fipsList)
	} else {
		units, err = d.nationalUnits(ctx, layer, fipsList)
	}
	if err != nil {
		return nil, err
	}

	if len(units) == 0 {
		return nil, eris.Errorf("shapes: no units parsed for layer %q", layer.Name)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].GEOID < units[j].GEOID })

	d.log.Info("boundary units loaded",
		zap.String("layer", layer.Name),
		zap.Int("states", len(fipsList)),
		zap.Int("units", len(units)),
	)
	return units, nil
}

func (d *Downloader) perStateUnits(ctx context.Context, layer Layer, fipsList []string) ([]Unit, error) {
	results := make([][]Unit, len(fipsList))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i, fips := range fipsList {
		g.Go(func() error {
			shpPath, err := d.Shapefile(gCtx, layer, fips)
			if err != nil {
				return err
			}
			parsed, err := ParseUnits(shpPath, layer)
			if err != nil {
				return err
			}
			results[i] = parsed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var units []Unit
	for _, r := range results {
		units = append(units, r...)
	}
	return units, nil
}

func (d *Downloader) nationalUnits(ctx context.Context, layer Layer, fipsList []string) ([]Unit, error) {
	if len(fipsList) > 0 && !layer.StatePrefixed {
		return nil, eris.Errorf("shapes: layer %q GEOIDs are not state-prefixed and cannot be filtered by state", layer.Name)
	}

	shpPath, err := d.Shapefile(ctx, layer, "us")
	if err != nil {
		return nil, err
	}
	units, err := ParseUnits(shpPath, layer)
	if err != nil {
		return nil, err
	}

	if len(fipsList) == 0 {
		return units, nil
	}

	keep := make(map[string]bool, len(fipsList))
	for _, fips := range fipsList {
		keep[fips] = true
	}
	filtered := units[:0]
	for _, u := range units {
		if len(u.GEOID) >= 2 && keep[u.GEOID[:2]] {
			filtered = append(filtered, u)
		}
	}
	return filtered, nil
}

// resolveStates maps state abbreviations or FIPS codes to FIPS codes,
// rejecting unknowns before any download starts.
func resolveStates(states []string) ([]string, error) {
	fipsList := make([]string, 0, len(states))
	for _, s := range states {
		fips, ok := StateFIPS(s)
		if !ok {
			return nil, eris.Errorf("shapes: unknown state %q", s)
		}
		fipsList = append(fipsList, fips)
	}
	return fipsList, nil
}
