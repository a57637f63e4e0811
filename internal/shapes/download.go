package shapes

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tractwise/hotspot-cli/internal/fetcher"
)

// Mirror is the subset of fetcher capability the FTP mirror provides.
// ftp2.census.gov serves the same tree as www2.census.gov without ETags.
type Mirror interface {
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Options configure a Downloader.
type Options struct {
	CacheDir    string // archive cache directory (required)
	Year        int    // boundary vintage, default DefaultYear
	Resolution  string // cartographic resolution, default DefaultResolution
	TIGER       bool   // fetch full TIGER/Line geometry instead of cartographic
	BaseURL     string // override for tests; default https://www2.census.gov
	Mirror      Mirror // optional FTP fallback for cold downloads
	Concurrency int    // parallel per-state downloads, default 3
}

// Downloader fetches boundary archives into a local cache, revalidating
// cached archives by ETag, and extracts the shapefile for parsing.
type Downloader struct {
	client fetcher.Fetcher
	opts   Options
	log    *zap.Logger
}

// NewDownloader creates a Downloader over the given fetcher.
func NewDownloader(client fetcher.Fetcher, opts Options) *Downloader {
	if opts.Year == 0 {
		opts.Year = DefaultYear
	}
	if opts.Resolution == "" {
		opts.Resolution = DefaultResolution
	}
	if opts.BaseURL == "" {
		opts.BaseURL = httpBase
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	return &Downloader{
		client: client,
		opts:   opts,
		log:    zap.L().With(zap.String("component", "shapes.downloader")),
	}
}

// archivePath returns the server path for the layer/state archive under the
// configured product family.
func (d *Downloader) archivePath(layer Layer, stateFIPS string) string {
	if d.opts.TIGER {
		return TIGERPath(layer, d.opts.Year, stateFIPS)
	}
	return CartoPath(layer, d.opts.Year, stateFIPS, d.opts.Resolution)
}

// Shapefile ensures the archive for layer/state is cached and extracted,
// and returns the path of the extracted .shp file. stateFIPS is ignored
// for national layers.
func (d *Downloader) Shapefile(ctx context.Context, layer Layer, stateFIPS string) (string, error) {
	if err := os.MkdirAll(d.opts.CacheDir, 0o755); err != nil {
		return "", eris.Wrap(err, "shapes: create cache dir")
	}

	urlPath := d.archivePath(layer, stateFIPS)
	zipPath := filepath.Join(d.opts.CacheDir, path.Base(urlPath))

	fresh, err := d.fetchArchive(ctx, urlPath, zipPath)
	if err != nil {
		return "", err
	}

	extractDir := strings.TrimSuffix(zipPath, ".zip")
	if !fresh {
		if shpPath, findErr := fetcher.FindByExt(extractDir, ".shp"); findErr == nil {
			return shpPath, nil
		}
	}

	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "shapes: create extract dir")
	}
	if _, err := fetcher.ExtractZIP(zipPath, extractDir); err != nil {
		return "", eris.Wrapf(err, "shapes: extract %s", zipPath)
	}

	shpPath, err := fetcher.FindByExt(extractDir, ".shp")
	if err != nil {
		return "", eris.Wrapf(err, "shapes: locate shapefile in %s", extractDir)
	}
	return shpPath, nil
}

// fetchArchive downloads the archive if missing or changed upstream.
// Returns true when the on-disk archive was (re)written.
func (d *Downloader) fetchArchive(ctx context.Context, urlPath, zipPath string) (bool, error) {
	url := d.opts.BaseURL + urlPath
	log := d.log.With(zap.String("archive", path.Base(zipPath)))

	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		body, newETag, changed, err := d.client.DownloadIfChanged(ctx, url, readETag(zipPath))
		if err != nil {
			// The cached archive still serves offline runs.
			log.Warn("revalidation failed, using cached archive", zap.Error(err))
			return false, nil
		}
		if !changed {
			log.Debug("cached archive is current")
			return false, nil
		}
		defer body.Close() //nolint:errcheck
		if err := writeFile(zipPath, body); err != nil {
			return false, eris.Wrapf(err, "shapes: rewrite %s", zipPath)
		}
		writeETag(zipPath, newETag)
		log.Info("archive updated upstream, re-downloaded")
		return true, nil
	}

	log.Info("downloading boundary archive", zap.String("url", url))
	if _, err := d.client.DownloadToFile(ctx, url, zipPath); err != nil {
		if d.opts.Mirror == nil {
			return false, eris.Wrapf(err, "shapes: download %s", url)
		}
		mirrorURL := MirrorURL(urlPath)
		log.Warn("primary download failed, trying FTP mirror",
			zap.String("mirror", mirrorURL), zap.Error(err))
		if _, merr := d.opts.Mirror.DownloadToFile(ctx, mirrorURL, zipPath); merr != nil {
			return false, eris.Wrapf(err, "shapes: download %s (mirror: %v)", url, merr)
		}
		return true, nil
	}

	if etag, err := d.client.HeadETag(ctx, url); err == nil {
		writeETag(zipPath, etag)
	}
	return true, nil
}

// CacheEntry describes one cached boundary archive.
type CacheEntry struct {
	Archive   string
	SizeBytes int64
	ETag      string
	Extracted bool
	FetchedAt time.Time
}

// Status lists the cached boundary archives.
func (d *Downloader) Status() ([]CacheEntry, error) {
	entries, err := os.ReadDir(d.opts.CacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "shapes: read cache dir")
	}

	var out []CacheEntry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		zipPath := filepath.Join(d.opts.CacheDir, e.Name())
		extractDir := strings.TrimSuffix(zipPath, ".zip")
		_, findErr := fetcher.FindByExt(extractDir, ".shp")
		out = append(out, CacheEntry{
			Archive:   e.Name(),
			SizeBytes: info.Size(),
			ETag:      readETag(zipPath),
			Extracted: findErr == nil,
			FetchedAt: info.ModTime(),
		})
	}
	return out, nil
}

// CheckRemote reports whether the cached archive for layer/state is stale
// against the server's current ETag. An uncached archive is stale; a server
// that reports no ETag cannot be checked and reads as current.
func (d *Downloader) CheckRemote(ctx context.Context, layer Layer, stateFIPS string) (bool, error) {
	urlPath := d.archivePath(layer, stateFIPS)
	zipPath := filepath.Join(d.opts.CacheDir, path.Base(urlPath))

	cached := readETag(zipPath)
	if cached == "" {
		return true, nil
	}

	remote, err := d.client.HeadETag(ctx, d.opts.BaseURL+urlPath)
	if err != nil {
		return false, eris.Wrapf(err, "shapes: head %s", urlPath)
	}
	if remote == "" {
		return false, nil
	}
	return remote != cached, nil
}

func etagPath(zipPath string) string { return zipPath + ".etag" }

func readETag(zipPath string) string {
	data, err := os.ReadFile(etagPath(zipPath))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeETag(zipPath, etag string) {
	if etag == "" {
		return
	}
	if err := os.WriteFile(etagPath(zipPath), []byte(etag), 0o644); err != nil {
		zap.L().Debug("shapes: write etag sidecar", zap.Error(err))
	}
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck
	_, err = io.Copy(f, r)
	return err
}
