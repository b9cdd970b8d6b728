package httpclient_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	httpclient "graphpool/internal/platform/httpclient"
	"graphpool/pkg/retry"
)

func fastRetry(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func newClient(opts ...httpclient.Option) *httpclient.Client {
	base := []httpclient.Option{
		httpclient.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		httpclient.WithRetry(fastRetry(3)),
	}
	return httpclient.New(append(base, opts...)...)
}

func statusSequence(codes ...int) (*httptest.Server, *int32) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		if n > len(codes) {
			n = len(codes)
		}
		w.WriteHeader(codes[n-1])
	}))
	return srv, &calls
}

func TestClient_Do_RetriesRetryableStatus(t *testing.T) {
	tests := []struct {
		name string
		code int
	}{
		{"500", http.StatusInternalServerError},
		{"503", http.StatusServiceUnavailable},
		{"429", http.StatusTooManyRequests},
		{"408", http.StatusRequestTimeout},
		{"425", http.StatusTooEarly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := statusSequence(tt.code, http.StatusOK)
			defer srv.Close()

			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			require.NoError(t, err)

			resp, err := newClient().Do(context.Background(), req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, int32(2), atomic.LoadInt32(calls))
		})
	}
}

func TestClient_Do_LastAttemptReturnsResponse(t *testing.T) {
	srv, calls := statusSequence(http.StatusServiceUnavailable)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := newClient().Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestClient_Do_NoRetryOn4xx(t *testing.T) {
	srv, calls := statusSequence(http.StatusBadRequest, http.StatusOK)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := newClient().Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestClient_Do_PostRetriesOnlyWithIdempotencyKey(t *testing.T) {
	srv, calls := statusSequence(http.StatusBadGateway, http.StatusOK)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp, err := newClient().Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, int32(1), atomic.LoadInt32(calls))

	srv2, calls2 := statusSequence(http.StatusBadGateway, http.StatusOK)
	defer srv2.Close()

	req, err = http.NewRequest(http.MethodPost, srv2.URL, bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	req.Header.Set("Idempotency-Key", "k1")
	resp, err = newClient().Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(2), atomic.LoadInt32(calls2))
}

func TestClient_Do_ReplaysBody(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPut, srv.URL, bytes.NewBufferString("payload"))
	require.NoError(t, err)
	resp, err := newClient().Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, []string{"payload", "payload"}, bodies)
}

func TestClient_Do_BodyTooLarge(t *testing.T) {
	req, err := http.NewRequest(http.MethodPut, "http://127.0.0.1:1", bytes.NewBufferString("0123456789"))
	require.NoError(t, err)

	_, err = newClient(httpclient.WithMaxReplayBodySize(4)).Do(context.Background(), req)
	require.ErrorIs(t, err, httpclient.ErrReplayBodyTooLarge)
}

func TestClient_Do_Headers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen", r.Header.Get("X-Client")+"/"+r.Header.Get("Accept"))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/plain")

	c := newClient(httpclient.WithHeaders(map[string]string{"X-Client": "graphpool", "Accept": "application/json"}))
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "graphpool/text/plain", resp.Header.Get("X-Seen"), "request headers win over defaults")
}

func TestClient_Do_NetworkErrorExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	req, err := http.NewRequest(http.MethodGet, addr, nil)
	require.NoError(t, err)

	_, err = newClient().Do(context.Background(), req)
	var exceeded *retry.RetriesExceededError
	require.True(t, errors.As(err, &exceeded), "got %v", err)
	require.Equal(t, 3, exceeded.Attempts)
}

func TestClient_Do_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = newClient().Do(ctx, req)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestClient_WithTransport(t *testing.T) {
	var called bool
	rt := rtFunc(func(r *http.Request) (*http.Response, error) {
		called = true
		return &http.Response{StatusCode: http.StatusNoContent, Body: io.NopCloser(bytes.NewReader(nil)), Request: r}, nil
	})

	req, err := http.NewRequest(http.MethodGet, "http://graphpool.invalid/healthz", nil)
	require.NoError(t, err)
	resp, err := newClient(httpclient.WithTransport(rt)).Do(context.Background(), req)
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}
