// Package dms is the typed adapter over the document management service's
// REST API. It owns nothing: documents and entities live in the DMS, and the
// adapter re-reads its endpoint and token on every call because both may
// change at runtime.
package dms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scribadev/scriba/pkg/httpclient"
)

// Config is the per-call connection configuration, usually sourced from the
// settings store.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// ConfigFunc supplies the current Config for each call.
type ConfigFunc func(ctx context.Context) (Config, error)

// StaticConfig returns a ConfigFunc that always yields the same Config.
// Tests and one-shot CLI invocations use it.
func StaticConfig(cfg Config) ConfigFunc {
	return func(context.Context) (Config, error) { return cfg, nil }
}

// Client talks to the DMS. All operations are stateless; nothing is cached.
type Client struct {
	http   *httpclient.Client
	config ConfigFunc
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying retrying client, e.g. to add TLS
// settings from file configuration.
func WithHTTPClient(hc *httpclient.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient builds a DMS adapter. Rate limits are honored via Retry-After;
// transport and server errors are never retried, the caller decides.
func NewClient(config ConfigFunc, opts ...Option) *Client {
	c := &Client{
		config: config,
		http: httpclient.New(
			httpclient.WithRetryStrategy(httpclient.RateLimitOnlyStrategy),
			httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeader),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint(cfg Config, path string, query url.Values) string {
	base := strings.TrimRight(cfg.BaseURL, "/")
	u := base + "/api/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do performs one request against an absolute URL and decodes the JSON
// response into out when non-nil.
func (c *Client) do(ctx context.Context, cfg Config, method, rawURL string, body, out any) error {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return &Error{Message: fmt.Sprintf("failed to marshal request: %v", err), Err: err}
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return &Error{Message: fmt.Sprintf("failed to create request: %v", err), Err: err}
	}
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Token "+cfg.Token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// The retrying client returns both a response and an error for non-2xx
	// statuses; classify by status whenever a response exists.
	resp, err := c.http.Do(req)
	if resp == nil {
		if err == nil {
			err = fmt.Errorf("no response received")
		}
		return &Error{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &Error{StatusCode: resp.StatusCode,
				Message: fmt.Sprintf("failed to decode response: %v", err), Err: err}
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, cfg Config, path string, query url.Values, out any) error {
	return c.do(ctx, cfg, http.MethodGet, c.endpoint(cfg, path, query), nil, out)
}

func (c *Client) post(ctx context.Context, cfg Config, path string, body, out any) error {
	return c.do(ctx, cfg, http.MethodPost, c.endpoint(cfg, path, nil), body, out)
}

func (c *Client) patch(ctx context.Context, cfg Config, path string, body, out any) error {
	return c.do(ctx, cfg, http.MethodPatch, c.endpoint(cfg, path, nil), body, out)
}

func (c *Client) delete(ctx context.Context, cfg Config, path string) error {
	return c.do(ctx, cfg, http.MethodDelete, c.endpoint(cfg, path, nil), nil, nil)
}

func (c *Client) currentConfig(ctx context.Context) (Config, error) {
	cfg, err := c.config(ctx)
	if err != nil {
		return Config{}, err
	}
	if cfg.BaseURL == "" {
		return Config{}, ErrNotConfigured
	}
	return cfg, nil
}

// download fetches raw bytes, used for original-file retrieval.
func (c *Client) download(ctx context.Context, cfg Config, path string) ([]byte, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(cfg, path, nil), nil)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("failed to create request: %v", err), Err: err}
	}
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Token "+cfg.Token)
	}

	resp, err := c.http.Do(req)
	if resp == nil {
		if err == nil {
			err = fmt.Errorf("no response received")
		}
		return nil, &Error{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		return nil, &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return io.ReadAll(resp.Body)
}

// fetchAll follows next links until the listing is exhausted. The page size
// is fixed at 100 to bound memory on large installations.
func fetchAll[T any](ctx context.Context, c *Client, cfg Config, path string, query url.Values) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("page_size", "100")

	var all []T
	next := c.endpoint(cfg, path, query)
	for next != "" {
		var p page[T]
		if err := c.do(ctx, cfg, http.MethodGet, next, nil, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Results...)
		if p.Next == nil {
			break
		}
		next = *p.Next
	}
	return all, nil
}
