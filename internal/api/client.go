// Package api is the REST client for the analysis backend. Every method maps
// to one endpoint; non-2xx responses come back as *Error.
package api

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

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL  = "http://localhost:8000"
	RequestIDHeader = "X-Request-ID"
	userAgent       = "vidsight"
)

type Options struct {
	BaseURL string
	// Token is sent as a bearer credential when non-empty.
	Token string
	// Timeout bounds whole requests, uploads included. Zero means none.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

type Client struct {
	base  string
	token string
	http  *http.Client
	log   *zap.SugaredLogger
}

func New(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(opts.Token),
		http:  hc,
		log:   log,
	}
}

func (c *Client) BaseURL() string { return c.base }

func (c *Client) endpoint(parts ...string) string {
	var b strings.Builder
	b.WriteString(c.base)
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON sends in (when non-nil) as JSON and decodes the response into out
// (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", target, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	req, err := c.newRequest(ctx, method, target, body, contentType)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.log.Debugw("api request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get(RequestIDHeader),
		"elapsed", time.Since(start).String(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newError(req, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
