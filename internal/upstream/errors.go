package upstream

import (
	"errors"
	"fmt"
	"net/http"

	"seedream-proxy/internal/logging"
)

// maxErrorBody bounds the body excerpt carried in Error() strings and logs.
const maxErrorBody = 300

// ErrAttemptTimeout marks a single attempt that exceeded the per-attempt timeout.
var ErrAttemptTimeout = errors.New("upstream attempt timed out")

// StatusError is a non-2xx upstream response. Body holds the full payload;
// Error() only carries a truncated excerpt.
type StatusError struct {
	Label      string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d, body: %s", e.Label, e.StatusCode, logging.Truncate(string(e.Body), maxErrorBody))
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return IsTransientStatus(e.StatusCode)
}

// RetryError is returned once the retry budget is spent on transient failures.
type RetryError struct {
	Label    string
	Attempts int
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Label, e.Attempts, e.Last)
}

func (e *RetryError) Unwrap() error {
	return e.Last
}

// IsTransientStatus reports whether an HTTP status is retried: 408, 429, 502, 503, 504.
func IsTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// AsStatusError unwraps err to a *StatusError, if there is one.
func AsStatusError(err error) (*StatusError, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}
