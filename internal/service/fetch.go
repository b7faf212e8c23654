// Package service implements the core fetch pipeline: per-request behavior
// negotiation, target validation, the single upstream invocation, and
// normalization of the upstream response into the JSON envelope.
package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"fetch-proxy-go/internal/client"
	"fetch-proxy-go/internal/config"
	"fetch-proxy-go/internal/model"
)

// bodyMethods are the negotiated methods for which the inbound body is forwarded.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// FetchService replays inbound requests against their embedded target URL.
type FetchService struct {
	client          *client.UpstreamClient
	cfg             *config.Config
	logger          *slog.Logger
	allowedSchemes  map[string]bool
	excludedHeaders map[string]bool
}

// NewFetchService creates a FetchService. The scheme and excluded-header sets
// are derived once here; config is read-only afterwards.
func NewFetchService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *FetchService {
	return &FetchService{
		client:          c,
		cfg:             cfg,
		logger:          logger.With("component", "fetch_service"),
		allowedSchemes:  cfg.Proxy.AllowedSchemeSet(),
		excludedHeaders: cfg.Proxy.ExcludedRequestHeaders(),
	}
}

// Fetch runs the full pipeline for one inbound request: validate the target,
// negotiate per-request parameters, issue exactly one upstream request, and
// normalize the response. Failures come back as *Error; anything else the
// handler downgrades to an internal error.
func (s *FetchService) Fetch(fr *model.FetchRequest) (*model.Envelope, error) {
	if err := s.validateTarget(fr.TargetURL); err != nil {
		return nil, err
	}

	params := s.negotiate(fr.Method, fr.Header)

	var body io.Reader
	if bodyMethods[params.Method] && fr.Body != nil {
		data, err := io.ReadAll(fr.Body)
		if err != nil {
			return nil, fmt.Errorf("read inbound body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	outboundURL, err := s.buildOutboundURL(fr.TargetURL, fr.Query, params.Method)
	if err != nil {
		return nil, fmt.Errorf("build outbound url: %w", err)
	}

	resp, err := s.client.Do(fr.Ctx, params.Method, outboundURL, params.Header, body, params.AllowRedirects)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	result := model.UpstreamResult{
		URL:        resp.Request.URL.String(),
		Method:     resp.Request.Method,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       raw,
	}

	s.logger.Info("fetched upstream",
		"url", result.URL,
		"method", result.Method,
		"status", result.StatusCode,
	)

	return buildEnvelope(result, params.Base64Encode), nil
}

// validateTarget fails fast before any network I/O.
func (s *FetchService) validateTarget(target string) *Error {
	if target == "" {
		return &Error{Kind: KindInvalidInput, Message: "URL parameter is required"}
	}

	u, err := url.Parse(target)
	if err != nil || !s.allowedSchemes[u.Scheme] {
		return &Error{
			Kind:    KindInvalidInput,
			Message: fmt.Sprintf("URL scheme must be one of: %s", strings.Join(s.cfg.Proxy.AllowedSchemes, ", ")),
		}
	}
	return nil
}

// negotiate derives the per-request parameters from the control headers and
// the configured defaults, and filters the inbound headers down to the
// forwardable set. Pure derivation, no side effects.
func (s *FetchService) negotiate(inboundMethod string, header http.Header) model.FetchParams {
	method := inboundMethod
	if v := header.Get(s.cfg.Proxy.HeaderRequestMethod); v != "" {
		method = v
	}

	return model.FetchParams{
		Method:         strings.ToUpper(method),
		AllowRedirects: boolHeader(header, s.cfg.Proxy.HeaderAllowRedirects, s.cfg.Proxy.AllowRedirects()),
		Base64Encode:   boolHeader(header, s.cfg.Proxy.HeaderBase64Encode, s.cfg.Proxy.Base64Encode()),
		Header:         s.filterRequestHeaders(header),
	}
}

// boolHeader parses a boolean control header: a present value is true only if
// it equals "true" case-insensitively; an absent header yields the default.
func boolHeader(header http.Header, name string, def bool) bool {
	v := header.Get(name)
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true")
}

// filterRequestHeaders copies every inbound header whose lower-cased name is
// not in the excluded set (hop-by-hop names plus the control headers).
func (s *FetchService) filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if s.excludedHeaders[strings.ToLower(key)] {
			continue
		}
		dst[key] = vals
	}
	return dst
}

// buildOutboundURL appends the inbound query parameters to the target URL for
// GET requests only. For every other method the inbound query is dropped; a
// query embedded in the target URL itself is always kept.
func (s *FetchService) buildOutboundURL(target string, query url.Values, method string) (string, error) {
	if method != http.MethodGet || len(query) == 0 {
		return target, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}

	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// classifyTransportError maps an outbound failure onto the error taxonomy:
// timeout expiry becomes KindUpstreamTimeout, everything else at the transport
// level becomes KindUpstreamUnavailable with the detail in the message.
func classifyTransportError(err error) *Error {
	if isTimeout(err) {
		return &Error{Kind: KindUpstreamTimeout, Message: "Request timed out"}
	}
	return &Error{Kind: KindUpstreamUnavailable, Message: fmt.Sprintf("Failed to fetch URL: %v", err)}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// buildEnvelope normalizes the fully-read upstream response. Content is base64
// when negotiated, otherwise UTF-8 text with a silent base64 fallback for
// bodies that are not valid UTF-8.
func buildEnvelope(res model.UpstreamResult, base64Encode bool) *model.Envelope {
	var content, mode string
	switch {
	case base64Encode:
		content = base64.StdEncoding.EncodeToString(res.Body)
		mode = model.ContentModeBase64
	case utf8.Valid(res.Body):
		content = string(res.Body)
		mode = model.ContentModeText
	default:
		content = base64.StdEncoding.EncodeToString(res.Body)
		mode = model.ContentModeBase64
	}

	return &model.Envelope{
		UpstreamURL:    res.URL,
		UpstreamMethod: res.Method,
		StatusCode:     res.StatusCode,
		Headers:        flattenHeader(res.Header),
		Content:        content,
		ContentMode:    mode,
	}
}

// flattenHeader collapses a multi-valued header into a single-valued map;
// duplicate names keep the last value.
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[len(vs)-1]
		}
	}
	return out
}
