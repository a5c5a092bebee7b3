package settler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls a remote Chain Settler.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient returns a Client. timeout must cover the settler's own submit
// retries and confirmation wait.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Settle asks the settler to write req on-chain. It makes exactly one call:
// a retried settle could submit twice.
func (c *Client) Settle(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal settle request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/settle-feed", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode == http.StatusServiceUnavailable {
			return Result{}, ErrNotReady
		}
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if !out.Success || resp.StatusCode >= 300 {
		sentinel := ErrorOf(out.Code)
		if out.Code == "" && resp.StatusCode == http.StatusServiceUnavailable {
			sentinel = ErrNotReady
		}
		return Result{}, fmt.Errorf("%w: %s", sentinel, out.Error)
	}

	tx := out.TxSignature
	if tx == "" {
		tx = out.Signature
	}
	if tx == "" {
		return Result{}, fmt.Errorf("%w: success without transaction id", ErrInternal)
	}
	return Result{TxSignature: tx, SettledValue: out.SettledValue}, nil
}
