// Package consensus fetches signed oracle updates from the consensus
// network's gateways.
package consensus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/0gfoundation/oracle-settler/internal/retry"
)

var (
	// ErrUnavailable is returned when no gateway produced an update.
	ErrUnavailable = errors.New("consensus gateways unavailable")
	// ErrMalformed is returned for a 2xx response without a usable payload.
	ErrMalformed = errors.New("malformed consensus update")
)

// Update is a signed oracle report ready for on-chain submission.
type Update struct {
	FeedHash string
	Payload  []byte
	// Value is the consensus result as reported by the gateway; may be empty.
	Value string
}

// Client fetches updates with gateway fallback.
type Client struct {
	http    *http.Client
	chainID int64
	policy  retry.Policy
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewClient returns a Client. policy.Endpoints lists the gateway base URLs in
// preference order; limiter may be nil.
func NewClient(chainID int64, policy retry.Policy, limiter *rate.Limiter, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		chainID: chainID,
		policy:  policy,
		limiter: limiter,
		log:     log,
	}
}

// FetchUpdate returns the latest signed update for feedHash.
func (c *Client) FetchUpdate(ctx context.Context, feedHash string) (Update, error) {
	var out Update
	err := c.policy.Do(ctx, func(ctx context.Context, gateway string) error {
		u, err := c.fetch(ctx, gateway, feedHash)
		if err != nil {
			c.log.Warn("consensus gateway failed",
				zap.String("gateway", gateway),
				zap.String("feed_hash", feedHash),
				zap.Error(err),
			)
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, gateway, feedHash string) (Update, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Update{}, retry.Permanent(err)
		}
	}
	u := fmt.Sprintf("%s/updates/evm/%d/%s", strings.TrimSuffix(gateway, "/"), c.chainID, feedHash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Update{}, retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Update{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Update{}, err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Update{}, fmt.Errorf("gateway status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		// The gateway does not know this feed; another gateway will agree.
		return Update{}, retry.Permanent(fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return parseUpdate(feedHash, body)
}

// parseUpdate reads {"encoded": "0x…", "results": [{"result": …}]}. Some
// gateways send encoded as a one-element array.
func parseUpdate(feedHash string, body []byte) (Update, error) {
	if !gjson.ValidBytes(body) {
		return Update{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	enc := gjson.GetBytes(body, "encoded")
	if enc.IsArray() {
		enc = enc.Get("0")
	}
	encoded := strings.TrimPrefix(enc.String(), "0x")
	if encoded == "" {
		return Update{}, fmt.Errorf("%w: missing encoded payload", ErrMalformed)
	}
	payload, err := hex.DecodeString(encoded)
	if err != nil {
		return Update{}, fmt.Errorf("%w: encoded payload: %v", ErrMalformed, err)
	}

	var value string
	if r := gjson.GetBytes(body, "results.0.result"); r.Exists() && r.Type != gjson.Null {
		value = r.String()
	} else if r := gjson.GetBytes(body, "results.0"); r.Exists() && (r.Type == gjson.Number || r.Type == gjson.String) {
		value = r.String()
	}
	return Update{FeedHash: feedHash, Payload: payload, Value: value}, nil
}
