package service

import "net/http"

// ErrorKind classifies a pipeline failure.
type ErrorKind int

const (
	// KindInvalidInput means the target URL was missing or its scheme disallowed.
	KindInvalidInput ErrorKind = iota
	// KindUpstreamUnavailable means the outbound request failed at the transport level.
	KindUpstreamUnavailable
	// KindUpstreamTimeout means the outbound request exceeded the configured timeout.
	KindUpstreamTimeout
	// KindInternal covers any unclassified failure.
	KindInternal
)

// Error is a classified pipeline failure. Message is caller-visible; it is the
// only detail that ever reaches the response body.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// StatusCode returns the proxy's own HTTP status for this error.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
