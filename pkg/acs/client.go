// Package acs fetches American Community Survey estimates from the
// Census Bureau Data API.
package acs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.census.gov/data"

	// DatasetACS5 is the 5-year American Community Survey, the default.
	// It is the only dataset published down to tract and block group.
	DatasetACS5 = "acs/acs5"
	// DatasetACS1 is the 1-year survey, available for geographies with
	// 65,000 or more people.
	DatasetACS1 = "acs/acs1"

	// DefaultYear is the most recent 5-year vintage.
	DefaultYear = 2023
)

// jamFloor is the largest of the ACS "jam" annotation values. Estimates at
// or below it (-222222222, -333333333, -666666666, -999999999, ...) encode
// suppression or unavailability, not data.
const jamFloor = -111111111

// Request identifies one estimates query.
type Request struct {
	Year    int    // survey vintage; DefaultYear when zero
	Dataset string // DatasetACS5 when empty
	Metric  Metric
	Geo     Geography
}

// Estimate holds one geographic unit's raw counts for a metric.
type Estimate struct {
	GEOID       string
	Name        string
	Numerator   float64
	Denominator float64
}

// Missing reports whether either count was suppressed or unpublished.
func (e Estimate) Missing() bool {
	return math.IsNaN(e.Numerator) || math.IsNaN(e.Denominator)
}

// Client fetches ACS estimates from the Census Data API.
type Client interface {
	// Estimates fetches the metric's variables for every unit the
	// geography selects, ordered by GEOID. Suppressed or unpublished
	// counts come back as NaN; the join layer decides whether those
	// units are dropped or fatal.
	Estimates(ctx context.Context, req Request) ([]Estimate, error)
}

// Option configures the client.
type Option func(*client)

// WithAPIKey sets the Census API key sent with every request. Anonymous
// use is limited to 500 queries per day.
func WithAPIKey(key string) Option {
	return func(c *client) {
		c.apiKey = key
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit for API calls.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *client) {
		c.userAgent = ua
	}
}

// WithMaxRetries sets the number of attempts for throttled or failing
// requests.
func WithMaxRetries(n int) Option {
	return func(c *client) {
		c.maxRetries = n
	}
}

type client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	userAgent  string
	maxRetries int
	limiter    *rate.Limiter
	log        *zap.Logger
}

// NewClient creates an ACS API client with the given options.
func NewClient(opts ...Option) Client {
	c := &client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		userAgent:  "hotspot-cli/1.0",
		maxRetries: 3,
		limiter:    rate.NewLimiter(5, 5), // safe rate for keyless access
		log:        zap.L().With(zap.String("component", "acs")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Estimates implements Client.
func (c *client) Estimates(ctx context.Context, req Request) ([]Estimate, error) {
	if req.Year == 0 {
		req.Year = DefaultYear
	}
	if req.Dataset == "" {
		req.Dataset = DatasetACS5
	}
	if len(req.Metric.Numerator) == 0 || len(req.Metric.Denominator) == 0 {
		return nil, eris.Errorf("acs: metric %q has no numerator or denominator variables", req.Metric.Name)
	}

	reqURL, err := c.tableURL(req)
	if err != nil {
		return nil, err
	}

	data, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	estimates, suppressed, err := parseTable(data, req.Metric, req.Geo)
	if err != nil {
		return nil, err
	}
	if len(estimates) == 0 {
		return nil, eris.Errorf("acs: no estimates returned for metric %q at %s level", req.Metric.Name, req.Geo.level())
	}

	sort.Slice(estimates, func(i, j int) bool { return estimates[i].GEOID < estimates[j].GEOID })

	c.log.Info("fetched ACS estimates",
		zap.String("metric", req.Metric.Name),
		zap.Int("year", req.Year),
		zap.String("level", req.Geo.level()),
		zap.Int("units", len(estimates)),
		zap.Int("suppressed", suppressed),
	)
	return estimates, nil
}

func (c *client) tableURL(req Request) (string, error) {
	forClause, inClause, err := req.Geo.clauses()
	if err != nil {
		return "", err
	}

	get := append([]string{"NAME"}, req.Metric.Variables()...)
	params := url.Values{}
	params.Set("get", strings.Join(get, ","))
	params.Set("for", forClause)
	if inClause != "" {
		params.Set("in", inClause)
	}
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}
	return fmt.Sprintf("%s/%d/%s?%s", c.baseURL, req.Year, req.Dataset, params.Encode()), nil
}

// get fetches the URL, retrying throttled and 5xx responses with jittered
// exponential backoff. The URL carries the API key, so errors and logs
// never include it.
func (c *client) get(ctx context.Context, reqURL string) ([]byte, error) {
	var lastErr error
	for attempt := range c.maxRetries {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "acs: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "acs: create request")
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.log.Warn("api request failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.backoff(ctx, attempt)
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = eris.Errorf("acs: http %d from api", resp.StatusCode)
			c.log.Warn("api throttled or failing, retrying",
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			c.backoff(ctx, attempt)
			continue
		case resp.StatusCode != http.StatusOK:
			// The API explains rejected queries in a plain-text body.
			return nil, eris.Errorf("acs: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		case readErr != nil:
			lastErr = eris.Wrap(readErr, "acs: read response")
			c.backoff(ctx, attempt)
			continue
		}
		return data, nil
	}
	return nil, eris.Wrap(lastErr, "acs: all retries exhausted")
}

func (c *client) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// parseTable decodes the API's array-of-arrays JSON into estimates. The
// first array is a header naming the requested variables plus the
// geography component columns; every following array is one unit.
func parseTable(data []byte, metric Metric, geo Geography) ([]Estimate, int, error) {
	var raw [][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, eris.Wrap(err, "acs: unmarshal response")
	}
	if len(raw) < 2 {
		return nil, 0, nil
	}

	header := raw[0]
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[col] = i
	}

	for _, v := range metric.Variables() {
		if _, ok := colIdx[v]; !ok {
			return nil, 0, eris.Errorf("acs: response missing variable column %q", v)
		}
	}
	components := geo.components()
	for _, comp := range components {
		if _, ok := colIdx[comp]; !ok {
			return nil, 0, eris.Errorf("acs: response missing geography column %q", comp)
		}
	}

	var (
		estimates  []Estimate
		suppressed int
	)
	for _, record := range raw[1:] {
		geoid := assembleGEOID(record, colIdx, components)
		if geoid == "" {
			continue
		}
		e := Estimate{
			GEOID:       geoid,
			Name:        column(record, colIdx, "NAME"),
			Numerator:   sumVariables(record, colIdx, metric.Numerator),
			Denominator: sumVariables(record, colIdx, metric.Denominator),
		}
		if e.Missing() {
			suppressed++
		}
		estimates = append(estimates, e)
	}
	return estimates, suppressed, nil
}

// assembleGEOID concatenates the geography component columns into the
// unit's GEOID (state+county+tract for tracts, and so on). Records with a
// blank component are malformed and yield "".
func assembleGEOID(record []string, colIdx map[string]int, components []string) string {
	var b strings.Builder
	for _, comp := range components {
		v := column(record, colIdx, comp)
		if v == "" {
			return ""
		}
		b.WriteString(v)
	}
	return b.String()
}

func sumVariables(record []string, colIdx map[string]int, vars []string) float64 {
	var total float64
	for _, v := range vars {
		total += parseEstimate(column(record, colIdx, v))
	}
	return total
}

// parseEstimate converts one API cell to a float. Blank cells (JSON null)
// and jam annotation values come back as NaN.
func parseEstimate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	if v <= jamFloor {
		return math.NaN()
	}
	return v
}

// column gets a value from a record by column name.
func column(record []string, colIdx map[string]int, name string) string {
	idx, ok := colIdx[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}
