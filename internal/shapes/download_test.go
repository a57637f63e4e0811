package shapes

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tractwise/hotspot-cli/internal/fetcher"
)

// fakeArchive builds zip bytes holding placeholder shapefile members; the
// download path never parses them.
func fakeArchive(t *testing.T, base, content string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		fw, err := w.Create(base + ext)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestDownloader(t *testing.T, baseURL string, mirror Mirror) *Downloader {
	t.Helper()
	client := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    5 * time.Second,
		MaxRetries: 1,
	})
	return NewDownloader(client, Options{
		CacheDir: t.TempDir(),
		Year:     2023,
		BaseURL:  baseURL,
		Mirror:   mirror,
	})
}

type fakeMirror struct {
	data []byte
	fail bool
	url  string
}

func (m *fakeMirror) DownloadToFile(_ context.Context, url, path string) (int64, error) {
	m.url = url
	if m.fail {
		return 0, assert.AnError
	}
	if err := os.WriteFile(path, m.data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(m.data)), nil
}

func TestShapefile_ColdDownload(t *testing.T) {
	archive := fakeArchive(t, "cb_2023_01_tract_500k", "shape bytes")
	var gets, heads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		if r.Method == http.MethodHead {
			heads.Add(1)
			return
		}
		gets.Add(1)
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	d := newTestDownloader(t, srv.URL, nil)
	tract, _ := LayerByName("tract")

	shpPath, err := d.Shapefile(context.Background(), tract, "01")
	require.NoError(t, err)
	assert.Contains(t, shpPath, ".shp")
	assert.FileExists(t, shpPath)

	zipPath := filepath.Join(d.opts.CacheDir, "cb_2023_01_tract_500k.zip")
	assert.FileExists(t, zipPath)
	assert.Equal(t, `"v1"`, readETag(zipPath))
	assert.Equal(t, int32(1), gets.Load())
	assert.Equal(t, int32(1), heads.Load())
}

func TestShapefile_CachedCurrent(t *testing.T) {
	archive := fakeArchive(t, "cb_2023_01_tract_500k", "shape bytes")
	var fullGets, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		if r.Method == http.MethodHead {
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		fullGets.Add(1)
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	d := newTestDownloader(t, srv.URL, nil)
	tract, _ := LayerByName("tract")
	ctx := context.Background()

	first, err := d.Shapefile(ctx, tract, "01")
	require.NoError(t, err)

	second, err := d.Shapefile(ctx, tract, "01")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), fullGets.Load())
	assert.Equal(t, int32(1), notModified.Load())
}

func TestShapefile_RefetchOnChange(t *testing.T) {
	var version atomic.Int32
	version.Store(1)
	archives := map[int32][]byte{
		1: fakeArchive(t, "cb_2023_01_tract_500k", "version one"),
		2: fakeArchive(t, "cb_2023_01_tract_500k", "version two"),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := version.Load()
		etag := `"v1"`
		if v == 2 {
			etag = `"v2"`
		}
		w.Header().Set("ETag", etag)
		if r.Method == http.MethodHead {
			return
		}
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = w.Write(archives[v])
	}))
	defer srv.Close()

	d := newTestDownloader(t, srv.URL, nil)
	tract, _ := LayerByName("tract")
	ctx := context.Background()

	_, err := d.Shapefile(ctx, tract, "01")
	require.NoError(t, err)

	version.Store(2)
	shpPath, err := d.Shapefile(ctx, tract, "01")
	require.NoError(t, err)

	data, err := os.ReadFile(shpPath)
	require.NoError(t, err)
	assert.Equal(t, "version two", string(data))

	zipPath := filepath.Join(d.opts.CacheDir, "cb_2023_01_tract_500k.zip")
	assert.Equal(t, `"v2"`, readETag(zipPath))
}

func TestShapefile_OfflineUsesCache(t *testing.T) {
	archive := fakeArchive(t, "cb_2023_01_tract_500k", "shape bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(archive)
	}))

	d := newTestDownloader(t, srv.URL, nil)
	tract, _ := LayerByName("tract")
	ctx := context.Background()

	first, err := d.Shapefile(ctx, tract, "01")
	require.NoError(t, err)

	// Server gone: the cached archive still serves.
	srv.Close()
	second, err := d.Shapefile(ctx, tract, "01")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestShapefile_MirrorFallback(t *testing.T) {
	archive := fakeArchive(t, "cb_2023_01_tract_500k", "mirrored bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	mirror := &fakeMirror{data: archive}
	d := newTestDownloader(t, srv.URL, mirror)
	tract, _ := LayerByName("tract")

	shpPath, err := d.Shapefile(context.Background(), tract, "01")
	require.NoError(t, err)
	assert.FileExists(t, shpPath)
	assert.Equal(t, "ftp://ftp2.census.gov/geo/tiger/GENZ2023/shp/cb_2023_01_tract_500k.zip", mirror.url)
}

func TestShapefile_MirrorAlsoFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := newTestDownloader(t, srv.URL, &fakeMirror{fail: true})
	tract, _ := LayerByName("tract")

	_, err := d.Shapefile(context.Background(), tract, "01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror")
}

func TestShapefile_PrimaryFailsNoMirror(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := newTestDownloader(t, srv.URL, nil)
	tract, _ := LayerByName("tract")

	_, err := d.Shapefile(context.Background(), tract, "01")
	require.Error(t, err)
}

func TestStatus(t *testing.T) {
	archive := fakeArchive(t, "cb_2023_01_tract_500k", "shape bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	d := newTestDownloader(t, srv.URL, nil)
	tract, _ := LayerByName("tract")

	entries, err := d.Status()
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = d.Shapefile(context.Background(), tract, "01")
	require.NoError(t, err)

	entries, err = d.Status()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cb_2023_01_tract_500k.zip", entries[0].Archive)
	assert.Equal(t, `"v1"`, entries[0].ETag)
	assert.True(t, entries[0].Extracted)
	assert.Greater(t, entries[0].SizeBytes, int64(0))
	assert.False(t, entries[0].FetchedAt.IsZero())
}

func TestCheckRemote(t *testing.T) {
	archive := fakeArchive(t, "cb_2023_01_tract_500k", "shape bytes")
	var etag atomic.Value
	etag.Store(`"v1"`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", etag.Load().(string))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	d := newTestDownloader(t, srv.URL, nil)
	tract, _ := LayerByName("tract")
	ctx := context.Background()

	// Nothing cached yet.
	stale, err := d.CheckRemote(ctx, tract, "01")
	require.NoError(t, err)
	assert.True(t, stale)

	_, err = d.Shapefile(ctx, tract, "01")
	require.NoError(t, err)

	stale, err = d.CheckRemote(ctx, tract, "01")
	require.NoError(t, err)
	assert.False(t, stale)

	etag.Store(`"v2"`)
	stale, err = d.CheckRemote(ctx, tract, "01")
	require.NoError(t, err)
	assert.True(t, stale)
}
