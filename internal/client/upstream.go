// Package client provides the outbound HTTP client for upstream fetches.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"fetch-proxy-go/internal/config"
	"fetch-proxy-go/internal/metrics"
)

// Response is the raw upstream response. Request carries the final request
// actually sent, so its URL and Method reflect any followed redirects.
type Response struct {
	Request    *http.Request
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// UpstreamClient issues outbound requests with configurable redirect handling.
// It keeps two http.Clients over one shared transport: the default one follows
// redirect chains up to the stdlib limit, the other returns the redirect
// response itself. TLS verification is never disabled.
type UpstreamClient struct {
	follow   *http.Client
	noFollow *http.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and the
// configured per-request timeout. The timeout bounds the whole call including
// connection setup, TLS handshake, and body transfer.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second

	return &UpstreamClient{
		follow: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		noFollow: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do issues exactly one outbound request and returns the raw response.
// The caller is responsible for closing the response body. The provided
// context controls the lifetime of the upstream request: when it is canceled
// (e.g. the inbound client disconnects), the upstream request is canceled too.
func (c *UpstreamClient) Do(ctx context.Context, method, url string, header http.Header, body io.Reader, allowRedirects bool) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	c.logger.Debug("upstream request",
		"method", method,
		"url", url,
		"allow_redirects", allowRedirects,
	)

	hc := c.follow
	if !allowRedirects {
		hc = c.noFollow
	}

	start := time.Now()
	resp, err := hc.Do(req) //nolint:bodyclose // body ownership transfers to caller via Response
	duration := time.Since(start).Seconds()

	label := metrics.NormalizeMethod(method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(label).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(label).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(label, status).Inc()
	}

	return &Response{
		Request:    resp.Request,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
