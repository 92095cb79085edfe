// SPDX-License-Identifier: MIT

package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrEmptyPayload is returned when an upstream answers 2xx with no body.
var ErrEmptyPayload = errors.New("fetch: empty playlist body")

// StatusError is a non-2xx upstream response with a body snippet for
// diagnosis.
type StatusError struct {
	Code    int
	Snippet string
}

func (e *StatusError) Error() string {
	return statusMessage(e.Code)
}

// Auth reports whether the status indicates rejected credentials. Some
// providers answer the non-standard 884 instead of 401.
func (e *StatusError) Auth() bool {
	switch e.Code {
	case 401, 403, 884:
		return true
	}
	return false
}

func statusMessage(code int) string {
	switch code {
	case 401:
		return "authentication required (401)"
	case 403:
		return "access forbidden (403)"
	case 404:
		return "playlist not found (404)"
	case 500:
		return "upstream server error (500)"
	case 884:
		return "authentication failed (884)"
	}
	return fmt.Sprintf("unexpected upstream status %d", code)
}

// ContentError marks a 2xx payload that is not a playlist.
type ContentError struct {
	Reason string
}

func (e *ContentError) Error() string {
	return "invalid playlist content: " + e.Reason
}

// IsTransient reports whether the error is a network-level failure worth a
// retry cycle. Status and content errors are terminal for the refresh.
func IsTransient(err error) bool {
	var statusErr *StatusError
	var contentErr *ContentError
	if errors.As(err, &statusErr) || errors.As(err, &contentErr) || errors.Is(err, ErrEmptyPayload) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// url.Error wrapping connect refusals and DNS failures lands here.
	return err != nil
}

// attemptOutcome maps an attempt error onto a metrics label.
func attemptOutcome(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return "status_error"
	}
	var contentErr *ContentError
	if errors.As(err, &contentErr) || errors.Is(err, ErrEmptyPayload) {
		return "content_invalid"
	}
	return "transient"
}
