// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// FetchRequest represents an inbound request to be replayed against a target URL.
type FetchRequest struct {
	Ctx       context.Context
	Method    string
	TargetURL string
	Query     url.Values
	Header    http.Header
	Body      io.ReadCloser
}

// FetchParams are the per-request settings negotiated from the control headers
// and the configured defaults.
type FetchParams struct {
	Method         string
	AllowRedirects bool
	Base64Encode   bool
	Header         http.Header
}

// UpstreamResult is the fully-read upstream response.
// URL and Method reflect the request actually sent, after any redirects.
type UpstreamResult struct {
	URL        string
	Method     string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Content modes reported in the envelope.
const (
	ContentModeText   = "text"
	ContentModeBase64 = "base64"
)

// Envelope is the JSON body returned to the caller on success. The proxy's own
// status is always 200; the upstream status is carried in StatusCode.
type Envelope struct {
	UpstreamURL    string            `json:"upstream_url"`
	UpstreamMethod string            `json:"upstream_method"`
	StatusCode     int               `json:"status_code"`
	Headers        map[string]string `json:"headers"`
	Content        string            `json:"content"`
	ContentMode    string            `json:"content_mode"`
}
