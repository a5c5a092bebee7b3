// Package resolver queries the oracle simulation endpoint for the current
// value of a feed's job.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnavailable is returned for transport failures and non-2xx responses.
var ErrUnavailable = errors.New("resolver unavailable")

const maxBody = 1 << 20

// Client issues single simulation requests. Retries across endpoints belong
// to the caller.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewClient returns a Client. limiter may be nil.
func NewClient(timeout time.Duration, limiter *rate.Limiter, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		log:     log,
	}
}

// Resolve fetches <endpoint>/simulate/<jobHash> once. ok is false when the
// endpoint answered but reported no usable value.
func (c *Client) Resolve(ctx context.Context, endpoint, jobHash string) (value string, ok bool, err error) {
	if jobHash == "" {
		return "", false, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	u := strings.TrimSuffix(endpoint, "/") + "/simulate/" + url.PathEscape(jobHash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("%w: simulate %s: status %d", ErrUnavailable, jobHash, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", false, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	sim := decodeSimulation(body)
	value, ok = sim.first()
	c.log.Debug("simulation resolved",
		zap.String("job_hash", jobHash),
		zap.String("shape", sim.shape.String()),
		zap.Bool("has_value", ok),
	)
	return value, ok, nil
}
