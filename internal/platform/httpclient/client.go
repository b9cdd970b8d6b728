package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	stdhttp "net/http"
	"net/url"
	"os"
	"strconv"
	"syscall"
	"time"

	"graphpool/pkg/retry"
)

// Client wraps http.Client with logging and retries driven by pkg/retry.
// Idempotent methods are retried on network errors and on 408, 425, 429
// and 5xx responses. POST is retried only with an Idempotency-Key header.
type Client struct {
	hc            *stdhttp.Client
	log           *slog.Logger
	retry         retry.Config
	headers       map[string]string
	maxReplayBody int64
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetry replaces the retry policy. MaxAttempts 1 disables retries.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// WithMaxReplayBodySize limits the body buffered for retries.
func WithMaxReplayBodySize(n int64) Option {
	return func(c *Client) { c.maxReplayBody = n }
}

// ErrReplayBodyTooLarge indicates request body exceeds replay limit.
var ErrReplayBodyTooLarge = errors.New("http: body too large for replay")

// StatusError is returned for a retryable status when attempts remain.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// New creates configured Client. By default it makes 3 attempts.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConnsPerHost = 16
	tr.IdleConnTimeout = 90 * time.Second
	tr.ResponseHeaderTimeout = 10 * time.Second

	c := &Client{
		hc: &stdhttp.Client{
			Timeout:   15 * time.Second,
			Transport: tr,
		},
		log: slog.Default(),
		retry: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   200 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterStrategy: retry.JitterEqual,
		},
		headers:       make(map[string]string),
		maxReplayBody: 1 << 20,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do sends req with ctx. A response with a non-retryable status, or the
// response of the last attempt, is returned without error.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	if err := c.bufferBody(req); err != nil {
		return nil, err
	}

	cfg := c.retry
	if !retryableMethod(req) {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var (
		resp    *stdhttp.Response
		attempt int
	)
	err := retry.DoWithRetryable(ctx, cfg, func(ctx context.Context) error {
		attempt++
		r, err := c.send(ctx, req, attempt)
		if err != nil {
			return err
		}
		if attempt < cfg.MaxAttempts && retryableStatus(r.StatusCode) {
			drainAndClose(r.Body)
			return &StatusError{
				Method:     req.Method,
				URL:        req.URL.Redacted(),
				StatusCode: r.StatusCode,
				RetryAfter: retryAfter(r.Header.Get("Retry-After")),
			}
		}
		resp = r
		return nil
	}, isRetryable)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, req *stdhttp.Request, attempt int) (*stdhttp.Response, error) {
	r := req.Clone(ctx)
	for k, v := range c.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}

	start := time.Now()
	resp, err := c.hc.Do(r)
	log := c.log.With("method", r.Method, "url", r.URL.Redacted(), "attempt", attempt, "dur", time.Since(start))
	if err != nil {
		log.Warn("http request error", "error", err)
		return nil, err
	}
	log.Debug("http request", "status", resp.StatusCode)
	return resp, nil
}

func (c *Client) bufferBody(req *stdhttp.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}
	defer req.Body.Close()

	reader := io.Reader(req.Body)
	if c.maxReplayBody > 0 {
		reader = io.LimitReader(req.Body, c.maxReplayBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if c.maxReplayBody > 0 && int64(len(body)) > c.maxReplayBody {
		return ErrReplayBodyTooLarge
	}
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	req.Body, _ = req.GetBody()
	return nil
}

func retryableMethod(req *stdhttp.Request) bool {
	switch req.Method {
	case stdhttp.MethodGet, stdhttp.MethodHead, stdhttp.MethodOptions, stdhttp.MethodPut, stdhttp.MethodDelete:
		return true
	case stdhttp.MethodPost:
		return req.Header.Get("Idempotency-Key") != ""
	}
	return false
}

func retryableStatus(code int) bool {
	switch code {
	case stdhttp.StatusRequestTimeout, stdhttp.StatusTooEarly, stdhttp.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ue *url.Error
	if !errors.As(err, &ue) {
		return false
	}
	if ne, ok := ue.Err.(net.Error); ok && ne.Timeout() {
		return true
	}
	var sysErr *os.SyscallError
	if errors.As(ue.Err, &sysErr) {
		switch sysErr.Err {
		case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
			syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.EPIPE, syscall.ETIMEDOUT:
			return true
		}
	}
	var dnsErr *net.DNSError
	return errors.As(ue.Err, &dnsErr) && dnsErr.IsTemporary
}

// retryAfter parses Retry-After header value.
func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := stdhttp.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// drainAndClose drains up to 512KB from body and closes it.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}
