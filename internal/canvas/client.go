package canvas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/httpkit"
)

// Cache stores raw Canvas list responses. Implementations must be safe
// for concurrent use and may drop entries at any time.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Client is a paginating Canvas REST client.
type Client struct {
	http     *http.Client
	logger   *slog.Logger
	perPage  int
	maxItems int
	cache    Cache
	cacheTTL time.Duration
}

// ClientConfig holds Client settings. Zero values take defaults.
type ClientConfig struct {
	PerPage  int
	MaxItems int
	Timeout  time.Duration
	Cache    Cache
	CacheTTL time.Duration
}

// NewClient builds a Client. cfg.Cache may be nil.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 50
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		http:     httpkit.NewClient(httpkit.WithTimeout(cfg.Timeout), httpkit.WithRetry(2, 500*time.Millisecond), httpkit.WithLogger(logger)),
		logger:   logger,
		perPage:  cfg.PerPage,
		maxItems: cfg.MaxItems,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
	}
}

type pageParams struct {
	PerPage int `url:"per_page,omitempty"`
}

// endpoint builds an absolute API URL for path with params encoded by
// go-querystring. params may be nil.
func (c *Client) endpoint(cred Credential, path string, params any) (string, error) {
	base := strings.TrimRight(cred.BaseURL, "/")
	if base == "" {
		return "", apperr.Validation("no Canvas host configured for provider %q", cred.Provider)
	}
	v := url.Values{}
	if params != nil {
		pv, err := query.Values(params)
		if err != nil {
			return "", fmt.Errorf("encode canvas params: %w", err)
		}
		v = pv
	}
	pp, _ := query.Values(pageParams{PerPage: c.perPage})
	for k, vals := range pp {
		v[k] = vals
	}
	return base + "/api/v1/" + strings.TrimLeft(path, "/") + "?" + v.Encode(), nil
}

func cacheKey(cred Credential, u string) string {
	sum := sha256.Sum256([]byte(cred.Token + "\x00" + u))
	return "canvas:" + hex.EncodeToString(sum[:])
}

// getList fetches every page of a list endpoint, up to the client's
// item cap, and decodes the items into T.
func getList[T any](ctx context.Context, c *Client, cred Credential, path string, params any) ([]T, error) {
	first, err := c.endpoint(cred, path, params)
	if err != nil {
		return nil, err
	}

	key := cacheKey(cred, first)
	if c.cache != nil {
		if data, ok := c.cache.Get(ctx, key); ok {
			var cached []T
			if err := json.Unmarshal(data, &cached); err == nil {
				c.logger.Debug("canvas cache hit", "path", path)
				return cached, nil
			}
		}
	}

	var (
		items []T
		next  = first
	)
	for next != "" && len(items) < c.maxItems {
		var page []T
		next, err = c.getPage(ctx, cred, next, &page)
		if err != nil {
			return nil, fmt.Errorf("canvas %s: %w", path, err)
		}
		items = append(items, page...)
	}
	if len(items) > c.maxItems {
		items = items[:c.maxItems]
	}

	if c.cache != nil {
		if data, err := json.Marshal(items); err == nil {
			c.cache.Set(ctx, key, data, c.cacheTTL)
		}
	}
	return items, nil
}

// getObject fetches a single (non-list) resource.
func getObject[T any](ctx context.Context, c *Client, cred Credential, path string) (*T, error) {
	u, err := c.endpoint(cred, path, nil)
	if err != nil {
		return nil, err
	}
	var out T
	if _, err := c.getPage(ctx, cred, u, &out); err != nil {
		return nil, fmt.Errorf("canvas %s: %w", path, err)
	}
	return &out, nil
}

// getPage performs one GET and decodes the body into out. It returns
// the next page URL from the Link header, or "".
func (c *Client) getPage(ctx context.Context, cred Credential, rawURL string, out any) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, err, "Canvas is unreachable")
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	c.logger.Debug("canvas request", "url", req.URL.Path, "status", resp.StatusCode, "elapsed", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", apperr.Unauthorized("Canvas rejected the current user's magic")
	case resp.StatusCode == http.StatusNotFound:
		return "", apperr.NotFound("Canvas resource not found")
	case resp.StatusCode >= 300:
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return "", apperr.Internal("Canvas returned %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}

	return nextLink(resp.Header.Get("Link"), req.URL), nil
}

// nextLink extracts the rel="next" URL from a Canvas Link header. Links
// to a different host than the current request are ignored so the
// access token is never sent elsewhere.
func nextLink(header string, current *url.URL) string {
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		isNext := false
		for _, attr := range segs[1:] {
			if strings.TrimSpace(attr) == `rel="next"` {
				isNext = true
				break
			}
		}
		if !isNext {
			continue
		}
		raw := strings.Trim(strings.TrimSpace(segs[0]), "<>")
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		if u.Host != "" && u.Host != current.Host {
			return ""
		}
		return current.ResolveReference(u).String()
	}
	return ""
}
