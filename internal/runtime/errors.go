package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// HTTPError is a non-2xx response from either downstream API, carrying the
// raw body so callers can extract a structured error message (spec.md
// §4.4 build-error parsing / run-phase error formatting).
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, string(e.Body))
}

// TransportTimeoutError marks a downstream call that failed because of a
// read timeout — the only error class eligible for retry (spec.md §4.4
// "HTTP retry policy": "Only idempotency-tolerant transport timeouts ...
// are retried").
type TransportTimeoutError struct {
	Op  string
	Err error
}

func (e *TransportTimeoutError) Error() string {
	return fmt.Sprintf("transport timeout during %s: %v", e.Op, e.Err)
}

func (e *TransportTimeoutError) Unwrap() error { return e.Err }

type errorBody struct {
	Error []string `json:"error"`
}

// ParseBuildError implements spec.md §4.4 "_parse_build_error": an HTTP
// 4xx/5xx with a JSON body joins body.error[] with ", "; any other
// HTTPError falls back to "unexpected <e>: <body text>", and a non-HTTP
// error to "unexpected <e>".
func ParseBuildError(err error) string {
	if err == nil {
		return ""
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if msg, joined := joinErrorBody(httpErr.Body); joined {
			return msg
		}
		return fmt.Sprintf("unexpected %v: %s", err, string(httpErr.Body))
	}
	return fmt.Sprintf("unexpected %v", err)
}

// FormatRunError implements spec.md §4.4 step 3.f: on HTTPError, format
// "<base> (<status>): <joined>"; on any other error, the stringified error.
func FormatRunError(base string, err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if msg, joined := joinErrorBody(httpErr.Body); joined {
			return fmt.Sprintf("%s (%d): %s", base, httpErr.StatusCode, msg)
		}
		return fmt.Sprintf("%s (%d): %s", base, httpErr.StatusCode, string(httpErr.Body))
	}
	return err.Error()
}

func joinErrorBody(body []byte) (string, bool) {
	var parsed errorBody
	if json.Unmarshal(body, &parsed) != nil || len(parsed.Error) == 0 {
		return "", false
	}
	return strings.Join(parsed.Error, ", "), true
}
