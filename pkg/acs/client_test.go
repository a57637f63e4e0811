package acs

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tractResponse = `[
["NAME","B23025_005E","B23025_003E","state","county","tract"],
["Census Tract 202, Autauga County, Alabama","54","977","01","001","020200"],
["Census Tract 201, Autauga County, Alabama","89","1205","01","001","020100"]]`

func unemploymentMetric(t *testing.T) Metric {
	t.Helper()
	m, ok := MetricByName("unemployment")
	require.True(t, ok)
	return m
}

func newTestClient(srvURL string, opts ...Option) Client {
	base := []Option{WithBaseURL(srvURL), WithRateLimit(100)}
	return NewClient(append(base, opts...)...)
}

func TestEstimates(t *testing.T) {
	var gotPath string
	var gotQuery url.Values
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, tractResponse)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, WithAPIKey("secret"))
	got, err := c.Estimates(context.Background(), Request{
		Year:   2023,
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "tract", State: "01", County: "001"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "/2023/acs/acs5", gotPath)
	assert.Equal(t, "NAME,B23025_005E,B23025_003E", gotQuery.Get("get"))
	assert.Equal(t, "tract:*", gotQuery.Get("for"))
	assert.Equal(t, "state:01 county:001", gotQuery.Get("in"))
	assert.Equal(t, "secret", gotQuery.Get("key"))
	assert.Equal(t, "hotspot-cli/1.0", gotUA)

	// Response rows arrive unordered; output is sorted by GEOID.
	assert.Equal(t, "01001020100", got[0].GEOID)
	assert.Equal(t, "Census Tract 201, Autauga County, Alabama", got[0].Name)
	assert.InDelta(t, 89, got[0].Numerator, 1e-9)
	assert.InDelta(t, 1205, got[0].Denominator, 1e-9)
	assert.False(t, got[0].Missing())

	assert.Equal(t, "01001020200", got[1].GEOID)
	assert.InDelta(t, 54, got[1].Numerator, 1e-9)
}

func TestEstimates_DefaultsYearAndDataset(t *testing.T) {
	var gotPath string
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		_, _ = io.WriteString(w, tractResponse)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Estimates(context.Background(), Request{
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "tract", State: "01"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/2023/acs/acs5", gotPath)
	assert.Empty(t, gotQuery.Get("key"))
}

func TestEstimates_JamValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[
["NAME","B23025_005E","B23025_003E","state","county","tract"],
["Suppressed Tract","-666666666","1205","01","001","020100"],
["Fine Tract","10","100","01","001","020200"]]`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Estimates(context.Background(), Request{
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "tract", State: "01"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.True(t, math.IsNaN(got[0].Numerator))
	assert.InDelta(t, 1205, got[0].Denominator, 1e-9)
	assert.True(t, got[0].Missing())
	assert.False(t, got[1].Missing())
}

func TestEstimates_NullValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[
["NAME","B23025_005E","B23025_003E","state","county","tract"],
["Null Tract",null,"1205","01","001","020100"],
["Fine Tract","10","100","01","001","020200"]]`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Estimates(context.Background(), Request{
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "tract", State: "01"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Missing())
}

func TestEstimates_SummedNumerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[
["NAME","B15003_022E","B15003_023E","B15003_024E","B15003_025E","B15003_001E","state","county","tract"],
["Tract","100","50","25","10","1000","01","001","020100"]]`)
	}))
	defer srv.Close()

	m, ok := MetricByName("bachelors_or_higher")
	require.True(t, ok)

	c := newTestClient(srv.URL)
	got, err := c.Estimates(context.Background(), Request{
		Metric: m,
		Geo:    Geography{Level: "tract", State: "01"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 185, got[0].Numerator, 1e-9)
	assert.InDelta(t, 1000, got[0].Denominator, 1e-9)
}

func TestEstimates_ZCTA(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = io.WriteString(w, `[
["NAME","B23025_005E","B23025_003E","zip code tabulation area"],
["ZCTA5 35004","44","1900","35004"]]`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Estimates(context.Background(), Request{
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "zcta"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "zip code tabulation area:*", gotQuery.Get("for"))
	assert.Empty(t, gotQuery.Get("in"))
	assert.Equal(t, "35004", got[0].GEOID)
}

func TestEstimates_MalformedRecordSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[
["NAME","B23025_005E","B23025_003E","state","county","tract"],
["Missing tract code","1","10","01","001",""],
["Fine Tract","10","100","01","001","020200"]]`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Estimates(context.Background(), Request{
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "tract", State: "01"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "01001020200", got[0].GEOID)
}

func TestEstimates_MissingVariableColumn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[
["NAME","B23025_005E","state","county","tract"],
["Tract","89","01","001","020100"]]`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Estimates(context.Background(), Request{
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "tract", State: "01"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing variable column "B23025_003E"`)
}

func TestEstimates_HeaderOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[["NAME","B23025_005E","B23025_003E","state","county","tract"]]`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Estimates(context.Background(), Request{
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "tract", State: "01"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no estimates returned")
}

func TestEstimates_EmptyMetric(t *testing.T) {
	c := NewClient()
	_, err := c.Estimates(context.Background(), Request{
		Geo: Geography{Level: "tract", State: "01"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no numerator or denominator")
}

func TestEstimates_InvalidGeography(t *testing.T) {
	c := NewClient()
	_, err := c.Estimates(context.Background(), Request{
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "tract"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a state")
}

func TestEstimates_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Estimates(context.Background(), Request{
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "tract", State: "01"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}

func TestEstimates_RetryOn503(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, tractResponse)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Estimates(context.Background(), Request{
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "tract", State: "01"},
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEstimates_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, WithMaxRetries(1))
	_, err := c.Estimates(context.Background(), Request{
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "tract", State: "01"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all retries exhausted")
	assert.Equal(t, int32(1), calls.Load())
}

func TestEstimates_BadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "error: unknown variable 'B99999_001E'")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Estimates(context.Background(), Request{
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "tract", State: "01"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.Contains(t, err.Error(), "unknown variable")
	assert.Equal(t, int32(1), calls.Load())
}

func TestEstimates_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, tractResponse)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(srv.URL)
	_, err := c.Estimates(ctx, Request{
		Metric: unemploymentMetric(t),
		Geo:    Geography{Level: "tract", State: "01"},
	})
	require.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	c, ok := NewClient().(*client)
	require.True(t, ok)
	assert.Equal(t, defaultBaseURL, c.baseURL)
	assert.Equal(t, "hotspot-cli/1.0", c.userAgent)
	assert.Equal(t, 3, c.maxRetries)
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)
	assert.InDelta(t, 5.0, float64(c.limiter.Limit()), 0.01)
}

func TestParseEstimate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		missing bool
	}{
		{in: "1205", want: 1205},
		{in: " 3.5 ", want: 3.5},
		{in: "0", want: 0},
		{in: "-5", want: -5},
		{in: "", missing: true},
		{in: "-666666666", missing: true},
		{in: "-999999999", missing: true},
		{in: "-222222222", missing: true},
		{in: "(X)", missing: true},
		{in: "N", missing: true},
	}
	for _, tt := range tests {
		got := parseEstimate(tt.in)
		if tt.missing {
			assert.True(t, math.IsNaN(got), tt.in)
			continue
		}
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
}
