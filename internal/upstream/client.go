package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"go.uber.org/zap"
	"seedream-proxy/internal/logging"
)

// RequestSpec describes one outbound request. Body is replayed on every attempt.
type RequestSpec struct {
	Method string
	Header http.Header
	Body   []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Caller is the contract the prediction adapter and the upload verifier depend on.
type Caller interface {
	Call(ctx context.Context, url string, spec RequestSpec, label string) (*Response, error)
}

type Options struct {
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	HTTPClient  *http.Client
	Logger      *zap.Logger
	// Sleep replaces the context-aware wait between attempts. Tests use it to
	// record backoff delays without sleeping.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client wraps outbound calls with a per-attempt timeout and capped
// exponential backoff on transient failures.
type Client struct {
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

var _ Caller = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffCap < opts.BackoffBase {
		opts.BackoffCap = opts.BackoffBase
	}
	if opts.HTTPClient == nil {
		// The per-attempt context carries the deadline, so no client-level timeout.
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	return &Client{
		timeout:     opts.Timeout,
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		backoffCap:  opts.BackoffCap,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		sleep:       opts.Sleep,
	}
}

func (c *Client) Timeout() time.Duration { return c.timeout }

func (c *Client) MaxRetries() int { return c.maxRetries }

// Backoff returns the wait before retry number attempt (0-based):
// min(base * 2^attempt, cap).
func (c *Client) Backoff(attempt int) time.Duration {
	delay := c.backoffBase
	for i := 0; i < attempt; i++ {
		if delay >= c.backoffCap/2 {
			return c.backoffCap
		}
		delay *= 2
	}
	if delay > c.backoffCap {
		return c.backoffCap
	}
	return delay
}

// Call performs the request, retrying transient failures. Terminal failures
// are returned on the first occurrence as *StatusError (or a plain error for
// requests that could not be built); exhausted retries return *RetryError.
func (c *Client) Call(ctx context.Context, url string, spec RequestSpec, label string) (*Response, error) {
	for attempt := 0; ; attempt++ {
		resp, transient, err := c.attempt(ctx, url, spec, label)
		if err == nil {
			return resp, nil
		}
		if !transient {
			return nil, err
		}
		if attempt >= c.maxRetries {
			return nil, &RetryError{Label: label, Attempts: attempt + 1, Last: err}
		}

		delay := c.Backoff(attempt)
		fields := []zap.Field{
			zap.String("label", label),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", c.maxRetries),
			zap.Duration("delay", delay),
		}
		if statusErr, ok := AsStatusError(err); ok {
			fields = append(fields,
				zap.Int("status", statusErr.StatusCode),
				zap.String("body", logging.Truncate(string(statusErr.Body), maxErrorBody)),
			)
		} else {
			fields = append(fields, zap.Error(err))
		}
		c.logger.Warn("upstream call failed, retrying", fields...)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%s: retry wait interrupted: %w", label, err)
		}
	}
}

// attempt runs a single bounded request and classifies its failure.
func (c *Client) attempt(ctx context.Context, url string, spec RequestSpec, label string) (*Response, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if spec.Body != nil {
		body = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, url, body)
	if err != nil {
		return nil, false, fmt.Errorf("%s: failed to create request: %w", label, err)
	}
	if spec.Header != nil {
		req.Header = spec.Header.Clone()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transientTransport(ctx, attemptCtx, err), c.wrapTransportError(ctx, attemptCtx, label, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transientTransport(ctx, attemptCtx, err), c.wrapTransportError(ctx, attemptCtx, label, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Label: label, StatusCode: resp.StatusCode, Body: respBody}
		return nil, statusErr.Transient(), statusErr
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, false, nil
}

// transientTransport reports whether a failed exchange is worth another
// attempt. Nothing is retried once the caller's own context is done. Attempt
// timeouts and dropped or refused connections are retried; anything else,
// such as an unknown host or an untrusted certificate, is permanent.
func transientTransport(parent, attemptCtx context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	var (
		certErr      *tls.CertificateVerificationError
		unknownCA    x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		certInvalid  x509.CertificateInvalidError
		recordHeader tls.RecordHeaderError
	)
	if errors.As(err, &certErr) || errors.As(err, &unknownCA) || errors.As(err, &hostnameErr) ||
		errors.As(err, &certInvalid) || errors.As(err, &recordHeader) {
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func (c *Client) wrapTransportError(parent, attemptCtx context.Context, label string, err error) error {
	if parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w after %s", label, ErrAttemptTimeout, c.timeout)
	}
	return fmt.Errorf("%s: failed to execute request: %w", label, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
