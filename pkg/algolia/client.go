// Package algolia is a minimal read-only client for the hosted search API
// that backs many public directories. It speaks the query endpoint only:
// enough to page an index, discover facet values, and run substring queries
// with the credentials the site's own frontend uses.
package algolia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/directory-cli/internal/resilience"
)

// Client defines the query operations against a hosted search index.
type Client interface {
	Query(ctx context.Context, req QueryRequest) (*QueryResponse, error)
}

// QueryRequest is one page of an index query. All fields are rendered into
// the wire params verbatim: HitsPerPage of zero asks the index for counts
// and facets only, which is exactly what facet discovery wants.
type QueryRequest struct {
	Query        string
	Page         int
	HitsPerPage  int
	Facets       []string
	FacetFilters []string
}

func (r QueryRequest) params() string {
	v := url.Values{}
	v.Set("query", r.Query)
	v.Set("page", strconv.Itoa(r.Page))
	v.Set("hitsPerPage", strconv.Itoa(r.HitsPerPage))
	if len(r.Facets) > 0 {
		b, _ := json.Marshal(r.Facets)
		v.Set("facets", string(b))
	}
	if len(r.FacetFilters) > 0 {
		b, _ := json.Marshal(r.FacetFilters)
		v.Set("facetFilters", string(b))
	}
	return v.Encode()
}

// queryBody is the wire envelope: the API tunnels URL-encoded params inside
// a JSON POST body.
type queryBody struct {
	Params string `json:"params"`
}

// Hit is one raw index record. Field sets vary across deployments, so hits
// stay schemaless until the mapping layer picks names out.
type Hit map[string]any

// QueryResponse is the response from POST /1/indexes/{index}/query.
type QueryResponse struct {
	Hits        []Hit                     `json:"hits"`
	NbHits      int                       `json:"nbHits"`
	Page        int                       `json:"page"`
	NbPages     int                       `json:"nbPages"`
	HitsPerPage int                       `json:"hitsPerPage"`
	Facets      map[string]map[string]int `json:"facets"`
}

// APIError is returned when the index responds with a non-2xx status that
// retrying did not clear.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("algolia: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the app-derived base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit replaces the default request pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxAttempts sets the total attempts per query, including the first.
func WithMaxAttempts(n int) Option {
	return func(c *httpClient) {
		c.maxAttempts = n
	}
}

// httpClient implements Client using net/http with pacing and retry on
// rate-limit and server errors.
type httpClient struct {
	creds       Credentials
	baseURL     string
	http        *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	backoffBase time.Duration
}

// NewClient creates a client for one captured credential set. The base URL
// is derived from the application ID unless overridden.
func NewClient(creds Credentials, opts ...Option) Client {
	c := &httpClient{
		creds:       creds,
		baseURL:     fmt.Sprintf("https://%s-dsn.algolia.net", strings.ToLower(creds.AppID)),
		limiter:     rate.NewLimiter(8, 8),
		maxAttempts: 3,
		backoffBase: 500 * time.Millisecond,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query runs one page of a query against the credential's index.
func (c *httpClient) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if !c.creds.Valid() {
		return nil, eris.New("algolia: incomplete credentials")
	}

	path := fmt.Sprintf("/1/indexes/%s/query", url.PathEscape(c.creds.Index))
	var resp QueryResponse
	if err := c.post(ctx, path, queryBody{Params: req.params()}, &resp); err != nil {
		return nil, eris.Wrapf(err, "algolia: query %q page %d", req.Query, req.Page)
	}
	return &resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	var lastErr error
	for attempt := range c.maxAttempts {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
		if err != nil {
			return eris.Wrap(err, "create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Algolia-API-Key", c.creds.APIKey)
		req.Header.Set("X-Algolia-Application-Id", c.creds.AppID)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = resilience.NewTransientError(err, 0)
			if ctx.Err() != nil {
				return eris.Wrap(lastErr, "execute request")
			}
			zap.L().Warn("index request failed, retrying",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.backoff(ctx, attempt)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = eris.Wrap(err, "read response body")
			c.backoff(ctx, attempt)
			continue
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			lastErr = resilience.NewTransientError(&APIError{StatusCode: resp.StatusCode, Body: string(data)}, resp.StatusCode)
			zap.L().Warn("index throttled or erroring, backing off",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		}

		if err := json.Unmarshal(data, out); err != nil {
			return eris.Wrap(err, "decode response")
		}
		return nil
	}

	return eris.Wrap(lastErr, "retries exhausted")
}

func (c *httpClient) backoff(ctx context.Context, attempt int) {
	d := time.Duration(float64(c.backoffBase) * math.Pow(2, float64(attempt)))
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	d += time.Duration(rand.Int64N(int64(d)/2 + 1))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
