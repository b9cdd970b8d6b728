package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"graphpool/internal/graphdb"
	"graphpool/internal/platform/httpclient"
	"graphpool/internal/platform/pool"
	"graphpool/internal/shared"
)

// APIError is a non-2xx answer of the admin API.
type APIError struct {
	Status   int
	Response ErrorResponse
}

func (e *APIError) Error() string {
	if e.Response.Message != "" {
		return fmt.Sprintf("admin api: %d %s: %s", e.Status, e.Response.Kind, e.Response.Message)
	}
	return fmt.Sprintf("admin api: %d %s", e.Status, http.StatusText(e.Status))
}

// Unwrap restores the error class reported by the server.
func (e *APIError) Unwrap() error {
	return shared.SentinelOf(shared.ParseKind(e.Response.Kind))
}

// Client talks to a running admin API.
type Client struct {
	base string
	hc   *httpclient.Client
}

// NewClient creates a client for baseURL such as http://127.0.0.1:8080.
func NewClient(baseURL string, hc *httpclient.Client) *Client {
	if hc == nil {
		hc = httpclient.New()
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), hc: hc}
}

// Health calls GET /healthz.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.call(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

// Stats calls GET /stats.
func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	var out StatsResponse
	err := c.call(ctx, http.MethodGet, "/stats", nil, &out)
	return out, err
}

// Query calls POST /query.
func (c *Client) Query(ctx context.Context, st graphdb.Statement) (*pool.Result, error) {
	var out QueryResponse
	if err := c.call(ctx, http.MethodPost, "/query", st, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// Tx calls POST /tx.
func (c *Client) Tx(ctx context.Context, statements []graphdb.Statement) ([]*pool.Result, error) {
	var out TxResponse
	if err := c.call(ctx, http.MethodPost, "/tx", TxRequest{Statements: statements}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(ctx, req)
	if err != nil {
		return shared.MarkKind(err, shared.KindUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr.Response)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
