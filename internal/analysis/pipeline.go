// Package analysis orchestrates a full hotspot run: acquire census
// estimates and boundary geometries, join them into a frame, build spatial
// weights, compute global and local statistics, classify each unit, and
// persist the outcome.
package analysis

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tractwise/hotspot-cli/internal/esda"
	"github.com/tractwise/hotspot-cli/internal/geoframe"
	"github.com/tractwise/hotspot-cli/internal/model"
	"github.com/tractwise/hotspot-cli/internal/shapes"
	"github.com/tractwise/hotspot-cli/internal/store"
	"github.com/tractwise/hotspot-cli/internal/weights"
	"github.com/tractwise/hotspot-cli/pkg/acs"
)

// UnitSource supplies boundary units for a layer and state selection.
// *shapes.Downloader satisfies it.
type UnitSource interface {
	Units(ctx context.Context, layer shapes.Layer, states []string) ([]shapes.Unit, error)
}

// Pipeline wires the acquisition clients, the store and the statistics
// stages into a single Run entry point. Runs are independent; a Pipeline
// may be shared across goroutines.
type Pipeline struct {
	table  acs.Client
	units  UnitSource
	store  store.Store
	finder NeighborFinder
}

// Option adjusts pipeline construction.
type Option func(*Pipeline)

// WithNeighborFinder overrides the parameter-driven neighbor rule with a
// fixed finder, mainly for custom graphs and tests.
func WithNeighborFinder(f NeighborFinder) Option {
	return func(p *Pipeline) { p.finder = f }
}

// New creates a Pipeline. A nil store runs analyses without persisting
// anything; run records are then synthesized in memory.
func New(table acs.Client, units UnitSource, st store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		table: table,
		units: units,
		store: st,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result carries everything a completed run produced.
type Result struct {
	Run     *model.Run
	Frame   *geoframe.Frame
	W       *weights.W
	Moran   *esda.MoranResult
	G       *esda.GResult
	Local   *esda.LocalResult
	Units   []model.UnitResult
	Summary model.RunSummary
}

// Run creates a run record for the parameters and executes it.
func (p *Pipeline) Run(ctx context.Context, params model.RunParams) (*Result, error) {
	run, err := p.createRun(ctx, params)
	if err != nil {
		return nil, err
	}
	return p.Execute(ctx, run)
}

func (p *Pipeline) createRun(ctx context.Context, params model.RunParams) (*model.Run, error) {
	if p.store == nil {
		now := time.Now().UTC()
		return &model.Run{
			ID:        uuid.New().String(),
			Params:    params,
			Status:    model.RunStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}
	run, err := p.store.CreateRun(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: create run")
	}
	return run, nil
}

// Execute runs the five analysis stages against an existing run record.
// Callers that need the run ID before any work starts (the HTTP API's
// async submit) create the run themselves and hand it over.
func (p *Pipeline) Execute(ctx context.Context, run *model.Run) (*Result, error) {
	log := zap.L().With(
		zap.String("run", run.ID),
		zap.String("metric", run.Params.Metric),
		zap.String("level", run.Params.Level),
	)
	log.Info("analysis: starting run")
	start := time.Now()

	fail := func(err error) (*Result, error) {
		run.Status = model.RunStatusFailed
		run.Error = err.Error()
		if p.store != nil {
			if ferr := p.store.FailRun(ctx, run.ID, err.Error()); ferr != nil {
				log.Warn("analysis: failed to mark run failed", zap.Error(ferr))
			}
		}
		return nil, err
	}

	pl, err := buildPlan(run.Params, p.finder)
	if err != nil {
		return fail(err)
	}

	if p.store != nil {
		if err := p.store.StartRun(ctx, run.ID); err != nil {
			log.Warn("analysis: failed to mark run running", zap.Error(err))
		}
	}
	run.Status = model.RunStatusRunning

	// Stage helper: time, log, propagate.
	stage := func(name string, fn func() error) error {
		s := time.Now()
		if err := fn(); err != nil {
			log.Error("analysis: stage failed",
				zap.String("stage", name),
				zap.Int64("duration_ms", time.Since(s).Milliseconds()),
				zap.Error(err),
			)
			return err
		}
		log.Info("analysis: stage complete",
			zap.String("stage", name),
			zap.Int64("duration_ms", time.Since(s).Milliseconds()),
		)
		return nil
	}

	// Stage 1: acquire attribute estimates and boundaries in parallel.
	// Either failure kills the run.
	var (
		estimates []acs.Estimate
		units     []shapes.Unit
	)
	err = stage("acquire", func() error {
		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			estimates, err = p.table.Estimates(gCtx, acs.Request{
				Year:    pl.params.Year,
				Dataset: pl.params.Dataset,
				Metric:  pl.metric,
				Geo:     pl.geo,
			})
			if err != nil {
				return eris.Wrap(err, "analysis: fetch estimates")
			}
			return nil
		})
		g.Go(func() error {
			var err error
			units, err = p.units.Units(gCtx, pl.layer, pl.states())
			if err != nil {
				return eris.Wrap(err, "analysis: fetch boundaries")
			}
			if prefix := pl.unitPrefix(); prefix != "" {
				units = filterUnits(units, prefix)
			}
			return nil
		})
		return g.Wait()
	})
	if err != nil {
		return fail(err)
	}

	// Stage 2: join on GEOID and derive the percent value per unit.
	var frame *geoframe.Frame
	err = stage("join", func() error {
		rows := make([]geoframe.Row, 0, len(estimates))
		for _, e := range estimates {
			rows = append(rows, geoframe.Row{
				GEOID:       e.GEOID,
				Numerator:   e.Numerator,
				Denominator: e.Denominator,
			})
		}
		var err error
		frame, err = geoframe.Build(units, rows, geoframe.Options{DropInvalid: pl.params.DropInvalid})
		return err
	})
	if err != nil {
		return fail(err)
	}

	// Stage 3: neighbor graph and weights matrix.
	var w *weights.W
	err = stage("weights", func() error {
		nbrs, err := pl.finder.Find(frame)
		if err != nil {
			return err
		}
		w, err = weights.New(frame.GEOIDs(), nbrs, weights.Options{
			Style:        pl.style,
			AllowIslands: pl.params.AllowIslands,
		})
		return err
	})
	if err != nil {
		return fail(err)
	}

	// Stage 4: global and local statistics.
	var (
		moran *esda.MoranResult
		gstat *esda.GResult
		local *esda.LocalResult
	)
	err = stage("statistics", func() error {
		x := frame.Values()
		var err error
		if moran, err = esda.GlobalMoran(x, w, pl.alt); err != nil {
			return err
		}
		if gstat, err = esda.GeneralG(x, w, pl.alt); err != nil {
			return err
		}
		local, err = esda.LocalMoran(x, w, esda.LocalOptions{
			Alternative:  pl.alt,
			Permutations: pl.params.Permutations,
			Seed:         pl.params.Seed,
		})
		return err
	})
	if err != nil {
		return fail(err)
	}

	// Stage 5: classify units and assemble per-unit results.
	var (
		unitResults []model.UnitResult
		labels      []esda.Label
	)
	err = stage("classify", func() error {
		labels = esda.ClassifyLocal(local)
		unitResults = buildUnitResults(run.ID, frame, local, labels, w.Islands())
		return nil
	})
	if err != nil {
		return fail(err)
	}

	summary := model.RunSummary{
		Units:   frame.N(),
		Dropped: len(frame.Dropped()),
		Islands: w.Islands(),
		Moran: &model.GlobalStat{
			Stat:        moran.I,
			Expected:    moran.EI,
			Variance:    moran.VarRand,
			Z:           moran.ZRand,
			P:           moran.PRand,
			Alternative: string(moran.Alternative),
		},
		GeneralG: &model.GlobalStat{
			Stat:        gstat.G,
			Expected:    gstat.EG,
			Variance:    gstat.Var,
			Z:           gstat.Z,
			P:           gstat.P,
			Alternative: string(gstat.Alternative),
		},
		LabelCounts: labelCounts(labels),
		DurationMS:  time.Since(start).Milliseconds(),
	}

	// Persist results, geometries and the summary. Unlike the status
	// updates above these are fatal: a run must never read back as
	// complete when its results are not.
	if p.store != nil {
		err = stage("persist", func() error {
			if err := p.store.SaveResults(ctx, run.ID, unitResults); err != nil {
				return err
			}
			geoms := make([]model.Geometry, 0, frame.N())
			for _, u := range frame.Units() {
				ewkb, err := shapes.EncodeEWKB(u.Geometry)
				if err != nil {
					return eris.Wrapf(err, "analysis: encode geometry %s", u.GEOID)
				}
				geoms = append(geoms, model.Geometry{GEOID: u.GEOID, EWKB: ewkb})
			}
			if err := p.store.SaveGeometries(ctx, run.ID, geoms); err != nil {
				return err
			}
			summary.DurationMS = time.Since(start).Milliseconds()
			return p.store.CompleteRun(ctx, run.ID, &summary)
		})
		if err != nil {
			return fail(err)
		}
	}

	run.Status = model.RunStatusComplete
	run.Summary = &summary
	run.UpdatedAt = time.Now().UTC()

	log.Info("analysis: run complete",
		zap.Int("units", frame.N()),
		zap.Int("islands", len(summary.Islands)),
		zap.Float64("moran_i", moran.I),
		zap.Int64("duration_ms", summary.DurationMS),
	)

	return &Result{
		Run:     run,
		Frame:   frame,
		W:       w,
		Moran:   moran,
		G:       gstat,
		Local:   local,
		Units:   unitResults,
		Summary: summary,
	}, nil
}

func filterUnits(units []shapes.Unit, prefix string) []shapes.Unit {
	kept := make([]shapes.Unit, 0, len(units))
	for _, u := range units {
		if strings.HasPrefix(u.GEOID, prefix) {
			kept = append(kept, u)
		}
	}
	return kept
}

func buildUnitResults(runID string, frame *geoframe.Frame, local *esda.LocalResult, labels []esda.Label, islands []string) []model.UnitResult {
	islandSet := make(map[string]bool, len(islands))
	for _, id := range islands {
		islandSet[id] = true
	}

	units := frame.Units()
	values := frame.Values()
	out := make([]model.UnitResult, len(local.Units))
	for i, lu := range local.Units {
		out[i] = model.UnitResult{
			RunID:    runID,
			GEOID:    lu.ID,
			Name:     units[i].Name,
			Value:    model.F(values[i]),
			LocalI:   model.F(lu.I),
			Z:        model.F(lu.Z),
			P:        model.F(lu.P),
			PSim:     model.F(lu.PSim),
			Quadrant: lu.Quadrant.String(),
			Label:    string(labels[i]),
			Island:   islandSet[lu.ID],
		}
	}
	return out
}

func labelCounts(labels []esda.Label) map[string]int {
	counts := make(map[string]int, 5)
	for _, l := range labels {
		counts[string(l)]++
	}
	return counts
}
