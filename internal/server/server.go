// Package server exposes stored runs and accepts new analysis requests
// over HTTP. Nothing heavy happens on a request goroutine: analyze
// requests are acknowledged with 202 and executed in the background,
// and every read endpoint serves from the store.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tractwise/hotspot-cli/internal/analysis"
	"github.com/tractwise/hotspot-cli/internal/model"
	"github.com/tractwise/hotspot-cli/internal/render"
	"github.com/tractwise/hotspot-cli/internal/store"
	"github.com/tractwise/hotspot-cli/pkg/acs"
)

// shutdownGrace bounds how long in-flight requests get once the serve
// context is cancelled.
const shutdownGrace = 5 * time.Second

// Runner executes an analysis for an already-created run record.
// *analysis.Pipeline satisfies it.
type Runner interface {
	Execute(ctx context.Context, run *model.Run) (*analysis.Result, error)
}

// Server routes API requests to the run store and the analysis
// pipeline. Both dependencies are optional: endpoints that need a
// missing one answer 503, which keeps /health meaningful while the
// rest of the stack comes up.
type Server struct {
	store  store.Store
	runner Runner
}

// New returns a Server backed by st and runner. Either may be nil.
func New(st store.Store, runner Runner) *Server {
	return &Server{store: st, runner: runner}
}

// Handler builds the route table. ctx outlives individual requests and
// bounds the background goroutines spawned by POST /api/analyze.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", handleHealth)
	r.Get("/api/metrics", handleMetrics)
	r.Post("/api/analyze", s.handleAnalyze(ctx))
	r.Get("/api/runs", s.handleListRuns)
	r.Get("/api/runs/{id}", s.handleGetRun)
	r.Get("/api/runs/{id}/results", s.handleResults)
	r.Get("/api/runs/{id}/geojson", s.handleGeoJSON)
	r.Get("/map/{id}", s.handleMap)

	return r
}

// ListenAndServe runs the HTTP service on addr until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(ctx),
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			zap.L().Warn("server: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("server: listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": acs.Metrics(),
	})
}

func (s *Server) handleAnalyze(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || s.runner == nil {
			writeErr(w, http.StatusServiceUnavailable, "analysis pipeline not configured")
			return
		}

		var params model.RunParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := analysis.Validate(params); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}

		run, err := s.store.CreateRun(r.Context(), params)
		if err != nil {
			zap.L().Error("server: create run", zap.Error(err))
			writeErr(w, http.StatusInternalServerError, "create run")
			return
		}

		// The request context dies with the response, so background
		// work runs on the server's lifetime context instead.
		go func() {
			res, err := s.runner.Execute(ctx, run)
			if err != nil {
				zap.L().Error("server: analysis failed",
					zap.String("run", run.ID),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("server: analysis complete",
				zap.String("run", run.ID),
				zap.Int("units", res.Summary.Units),
				zap.Float64("moran_i", res.Moran.I),
			)
		}()

		writeJSON(w, http.StatusAccepted, run)
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeErr(w, http.StatusServiceUnavailable, "no run store configured")
		return
	}

	filter := store.RunFilter{
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Metric: r.URL.Query().Get("metric"),
		Level:  r.URL.Query().Get("level"),
	}
	var err error
	if filter.Limit, err = intQuery(r, "limit"); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = intQuery(r, "offset"); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list runs", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	results, err := s.store.ListResults(r.Context(), run.ID)
	if err != nil {
		zap.L().Error("server: list results", zap.String("run", run.ID), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "list results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":     run.ID,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataset(w, r)
	if !ok {
		return
	}
	rend, err := render.For("geojson", render.Options{})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := rend.Render(ds, &buf); err != nil {
		zap.L().Error("server: render geojson", zap.String("run", ds.RunID), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "render geojson")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	mode, err := render.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	ds, ok := s.dataset(w, r)
	if !ok {
		return
	}
	rend, err := render.For("html", render.Options{
		Mode:  mode,
		Title: r.URL.Query().Get("title"),
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := rend.Render(ds, &buf); err != nil {
		zap.L().Error("server: render map", zap.String("run", ds.RunID), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "render map")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// lookupRun resolves {id} against the store, answering 404/500/503
// itself. The second return reports whether the caller should proceed.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	if s.store == nil {
		writeErr(w, http.StatusServiceUnavailable, "no run store configured")
		return nil, false
	}
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return nil, false
	}
	if err != nil {
		zap.L().Error("server: get run", zap.String("run", id), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "get run")
		return nil, false
	}
	return run, true
}

// dataset assembles the render input for a completed run. Incomplete
// runs answer 409 so map links fail loudly instead of drawing nothing.
func (s *Server) dataset(w http.ResponseWriter, r *http.Request) (*render.Dataset, bool) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return nil, false
	}
	if run.Status != model.RunStatusComplete {
		writeErr(w, http.StatusConflict, fmt.Sprintf("run %s is %s, not complete", run.ID, run.Status))
		return nil, false
	}

	results, err := s.store.ListResults(r.Context(), run.ID)
	if err != nil {
		zap.L().Error("server: list results", zap.String("run", run.ID), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "list results")
		return nil, false
	}
	geoms, err := s.store.GetGeometries(r.Context(), run.ID)
	if err != nil {
		zap.L().Error("server: get geometries", zap.String("run", run.ID), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "get geometries")
		return nil, false
	}

	ds, err := render.NewDataset(run, results, geoms)
	if err != nil {
		zap.L().Error("server: assemble dataset", zap.String("run", run.ID), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "assemble dataset")
		return nil, false
	}
	return ds, true
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
