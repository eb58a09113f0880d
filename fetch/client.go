package fetch

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/poiesic/imgembed/cache"
	"github.com/poiesic/imgembed/core"
)

const (
	defaultUserAgent = "imgembed/1.0"

	// linkedEtagHeader carries the SHA-256 of LFS-backed files on Hugging Face hubs.
	linkedEtagHeader = "X-Linked-Etag"
)

// Client downloads files from a single hub source.
type Client struct {
	name      string
	base      *url.URL
	http      *http.Client
	retry     core.RetryPolicy
	sleep     SleepFunc
	logger    *slog.Logger
	userAgent string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. It takes precedence over WithProxy.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithProxy routes requests through the configured proxies.
func WithProxy(p *core.ProxyConfig) Option {
	return func(c *Client) {
		c.http = &http.Client{Transport: NewTransport(p)}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(policy core.RetryPolicy) Option {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep SleepFunc) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a client for the source called name at base.
func New(name string, base *url.URL, opts ...Option) (*Client, error) {
	if base == nil || base.Host == "" {
		return nil, ErrNoBaseURL
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("fetch: unsupported scheme %q", base.Scheme)
	}
	c := &Client{
		name:      name,
		base:      base,
		http:      &http.Client{Transport: NewTransport(nil)},
		retry:     core.DefaultRetryPolicy(),
		logger:    slog.Default(),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "fetch", "source", name)
	return c, nil
}

// Name returns the source name, e.g. "mirror" or "direct".
func (c *Client) Name() string {
	return c.name
}

// BaseURL returns the source base URL.
func (c *Client) BaseURL() *url.URL {
	return c.base
}

// FileURL returns the URL of one model file.
func (c *Client) FileURL(id core.ModelID, file string) string {
	rev := id.Revision
	if rev == "" {
		rev = core.DefaultRevision
	}
	return c.base.JoinPath(id.Namespace, id.Name, "resolve", rev, file).String()
}

// Fetch downloads one file into the staging area, retrying transient failures.
// Each attempt starts the file over.
func (c *Client) Fetch(ctx context.Context, id core.ModelID, file string, st *cache.Staging) (cache.FileInfo, error) {
	var info cache.FileInfo
	start := time.Now()
	err := RetryWithBackoff(ctx, func() error {
		var err error
		info, err = c.fetchOnce(ctx, id, file, st)
		if err != nil {
			c.logger.Debug("fetch attempt failed", "model", id.String(), "file", file, "error", err)
		}
		return err
	}, c.retry, c.sleep)
	if err != nil {
		return cache.FileInfo{}, err
	}
	c.logger.Debug("fetched file", "model", id.String(), "file", file,
		"bytes", info.Size, "duration", time.Since(start))
	return info, nil
}

func (c *Client) fetchOnce(ctx context.Context, id core.ModelID, file string, st *cache.Staging) (cache.FileInfo, error) {
	fileURL := c.FileURL(id, file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return cache.FileInfo{}, fmt.Errorf("%w: build request: %w", core.ErrPermanentFetch, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return cache.FileInfo{}, ctx.Err()
		}
		return cache.FileInfo{}, fmt.Errorf("%w: %w", core.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return cache.FileInfo{}, &StatusError{URL: fileURL, StatusCode: resp.StatusCode}
	}

	w, err := st.Create(file)
	if err != nil {
		return cache.FileInfo{}, err
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		w.Abort()
		if ctx.Err() != nil {
			return cache.FileInfo{}, ctx.Err()
		}
		return cache.FileInfo{}, fmt.Errorf("%w: read %s: %w", core.ErrNetworkFailure, fileURL, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		w.Abort()
		return cache.FileInfo{}, fmt.Errorf("%w: %s: got %d of %d bytes: %w",
			core.ErrNetworkFailure, fileURL, n, resp.ContentLength, io.ErrUnexpectedEOF)
	}
	if want := expectedDigest(resp.Header); want != "" && want != w.SHA256() {
		w.Abort()
		return cache.FileInfo{}, fmt.Errorf("%w: %w: %s", core.ErrNetworkFailure, ErrDigestMismatch, fileURL)
	}
	if err := w.Close(); err != nil {
		return cache.FileInfo{}, err
	}
	return cache.FileInfo{Name: file, Size: n, SHA256: w.SHA256()}, nil
}

// expectedDigest returns the lowercase SHA-256 advertised by the hub, if any.
func expectedDigest(h http.Header) string {
	v := strings.Trim(h.Get(linkedEtagHeader), `"`)
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	if len(v) != 64 {
		return ""
	}
	if _, err := hex.DecodeString(v); err != nil {
		return ""
	}
	return strings.ToLower(v)
}
