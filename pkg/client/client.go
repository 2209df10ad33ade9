// Package client talks to the attack pattern REST API and caches its
// read-only responses by tag.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
)

const (
	DefaultBaseURL = "http://localhost:8000/api/v1"
	DefaultTTL     = 5 * time.Minute

	DefaultListLimit = 50
)

// Cache tags. A pattern response is also tagged with PatternTag(id).
const (
	TagAttackPattern = "AttackPattern"
	TagStats         = "Stats"
)

func PatternTag(id string) string {
	return TagAttackPattern + ":" + id
}

// APIError is returned for every non-2xx response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Detail)
}

type Client struct {
	baseURL string
	http    *http.Client
	cache   Cache
	ttl     time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithCache replaces the default in-memory cache. Passing nil disables
// caching.
func WithCache(cache Cache) Option {
	return func(cl *Client) {
		cl.cache = cache
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(cl *Client) {
		cl.ttl = ttl
	}
}

// New creates a client for baseURL, e.g. "http://localhost:8000/api/v1".
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		cache:   NewMemoryCache(),
		ttl:     DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListPatterns returns one page of the catalog.
func (c *Client) ListPatterns(ctx context.Context, limit, offset int) (*attack.SearchResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var resp attack.SearchResponse
	err := c.cachedGet(ctx, "attack-patterns?"+q.Encode(), &resp, TagAttackPattern)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchPatterns is never cached.
func (c *Client) SearchPatterns(ctx context.Context, req attack.SearchRequest) (*attack.SearchResponse, error) {
	var resp attack.SearchResponse
	if err := c.do(ctx, http.MethodPost, "attack-patterns/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetPattern(ctx context.Context, id string) (*attack.AttackPattern, error) {
	var p attack.AttackPattern
	err := c.cachedGet(ctx, "attack-patterns/"+url.PathEscape(id), &p, TagAttackPattern, PatternTag(id))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Stats(ctx context.Context) (*attack.StatsResponse, error) {
	var s attack.StatsResponse
	if err := c.cachedGet(ctx, "stats", &s, TagStats); err != nil {
		return nil, err
	}
	return &s, nil
}

// DashboardData returns the whole catalog in one response.
func (c *Client) DashboardData(ctx context.Context) (*attack.SearchResponse, error) {
	var resp attack.SearchResponse
	if err := c.cachedGet(ctx, "dashboard-data", &resp, TagAttackPattern); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Health(ctx context.Context) (*attack.Health, error) {
	var h attack.Health
	if err := c.do(ctx, http.MethodGet, "health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Invalidate drops every cached response carrying one of the tags.
func (c *Client) Invalidate(ctx context.Context, tags ...string) error {
	if c.cache == nil {
		return nil
	}
	if err := c.cache.InvalidateTags(ctx, tags...); err != nil {
		return fmt.Errorf("failed to invalidate %v: %w", tags, err)
	}
	logger.Debug("[Client] Invalidated cache tags", "tags", tags)
	return nil
}

// cachedGet serves path from the cache when possible. Cache failures are
// logged and the request goes to the API.
func (c *Client) cachedGet(ctx context.Context, path string, out any, tags ...string) error {
	key := http.MethodGet + " " + path
	if c.cache != nil {
		data, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			logger.Warn("[Client] Cache read failed", "key", key, "error", err)
		} else if ok {
			if err := json.Unmarshal(data, out); err == nil {
				return nil
			}
			logger.Warn("[Client] Dropping undecodable cache entry", "key", key)
		}
	}

	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, data, c.ttl, tags...); err != nil {
			logger.Warn("[Client] Cache write failed", "key", key, "error", err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	data, err := c.request(ctx, method, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &APIError{Status: res.StatusCode, Detail: errorDetail(res.StatusCode, data)}
	}
	return data, nil
}

// errorDetail extracts the "detail" field of an error body. Validation errors
// carry a list there, which is returned as raw JSON.
func errorDetail(status int, data []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s
		}
		return string(body.Detail)
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return http.StatusText(status)
}
