package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/tractwise/hotspot-cli/internal/analysis"
	"github.com/tractwise/hotspot-cli/internal/fetcher"
	"github.com/tractwise/hotspot-cli/internal/shapes"
	"github.com/tractwise/hotspot-cli/internal/store"
	"github.com/tractwise/hotspot-cli/pkg/acs"
)

// initStore opens the configured store. Callers own Close and Migrate.
func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store)
}

// analysisEnv holds the initialized clients and the pipeline shared by
// the analyze and serve commands.
type analysisEnv struct {
	Store    store.Store
	Shapes   *shapes.Downloader
	Pipeline *analysis.Pipeline
}

// Close releases resources held by the environment.
func (e *analysisEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initPipeline sets up the store, the Census API client, the boundary
// downloader, and the analysis pipeline. Callers should defer
// env.Close().
func initPipeline(ctx context.Context, mode string) (*analysisEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	table := acs.NewClient(
		acs.WithAPIKey(cfg.Census.Key),
		acs.WithBaseURL(cfg.Census.BaseURL),
		acs.WithRateLimit(cfg.Census.RatePerSec),
		acs.WithMaxRetries(cfg.Census.MaxRetries),
		acs.WithUserAgent(cfg.Census.UserAgent),
	)

	dl := initDownloader()

	return &analysisEnv{
		Store:    st,
		Shapes:   dl,
		Pipeline: analysis.New(table, dl, st),
	}, nil
}

// initDownloader builds the boundary downloader from config, with the
// FTP mirror attached when enabled.
func initDownloader() *shapes.Downloader {
	opts := shapes.Options{
		CacheDir:    cfg.Shapes.CacheDir,
		Year:        cfg.Shapes.Year,
		Resolution:  cfg.Shapes.Resolution,
		TIGER:       cfg.Shapes.TIGER,
		Concurrency: cfg.Shapes.Concurrency,
	}
	if cfg.Shapes.UseFTP {
		opts.Mirror = fetcher.NewFTPFetcher(fetcher.FTPOptions{})
	}
	client := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Census.UserAgent,
	})
	return shapes.NewDownloader(client, opts)
}
