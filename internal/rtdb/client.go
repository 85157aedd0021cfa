// Package rtdb reads a path of a realtime database over its REST interface
// (GET {base}/{path}.json).
package rtdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxSnapshotBytes caps a single response; the feed keeps a small collection.
const maxSnapshotBytes = 1 << 20

type Client struct {
	url    string
	h      *http.Client
	logger *slog.Logger
}

// New returns a client for base/path. timeout bounds every request and must
// be positive.
func New(base, path string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	path = strings.Trim(path, "/")
	if base == "" {
		return nil, errors.New("rtdb: empty base url")
	}
	if path == "" {
		return nil, errors.New("rtdb: empty path")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("rtdb: timeout must be > 0, got %s", timeout)
	}
	u, err := url.Parse(base + "/" + path + ".json")
	if err != nil {
		return nil, fmt.Errorf("rtdb: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("rtdb: unsupported scheme %q", u.Scheme)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    u.String(),
		h:      &http.Client{Timeout: timeout},
		logger: logger.With("component", "rtdb"),
	}, nil
}

// URL is the document the client reads.
func (c *Client) URL() string { return c.url }

// Snapshot fetches the current document. Any non-2xx status is an error.
func (c *Client) Snapshot(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.h.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rtdb get: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("rtdb read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("rtdb %s returned %d: %s", c.url, resp.StatusCode, truncate(body, 200))
	}
	if len(body) > maxSnapshotBytes {
		return nil, fmt.Errorf("rtdb %s: response exceeds %d bytes", c.url, maxSnapshotBytes)
	}

	c.logger.Debug("fetched snapshot",
		"status", resp.StatusCode,
		"size", len(body),
		"duration", time.Since(start),
	)
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
