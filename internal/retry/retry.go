// Package retry runs an operation against a list of redundant endpoints with
// bounded attempts and backoff between rounds.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how to retry one logical call.
//
// Each attempt walks Endpoints in order and stops at the first success; when
// every endpoint failed, the policy waits for the next backoff interval and
// starts another round, up to MaxAttempts rounds.
type Policy struct {
	MaxAttempts int
	Endpoints   []string
	// MaxCalls, when positive, caps the total number of op calls across all
	// rounds and endpoints.
	MaxCalls int
	// NewBackOff builds the wait schedule between rounds; nil means
	// Exponential(2*time.Second, 30*time.Second).
	NewBackOff func() backoff.BackOff
	// OnRetry, when set, is called before each wait.
	OnRetry func(err error, wait time.Duration)
}

// Exponential returns a schedule starting at initial and doubling up to max.
func Exponential(initial, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		b.Multiplier = 2
		b.RandomizationFactor = 0.1
		b.MaxElapsedTime = 0
		return b
	}
}

// Constant returns a fixed wait schedule.
func Constant(d time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff { return backoff.NewConstantBackOff(d) }
}

// Permanent marks err as not worth retrying on any endpoint.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// Do calls op until it succeeds, returns a permanent error, the attempts run
// out, or ctx is done. The last error is returned, unwrapped from Permanent.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, endpoint string) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	endpoints := p.Endpoints
	if len(endpoints) == 0 {
		endpoints = []string{""}
	}
	newBackOff := p.NewBackOff
	if newBackOff == nil {
		newBackOff = Exponential(2*time.Second, 30*time.Second)
	}

	var (
		calls int
		prev  error
	)
	round := func() error {
		var last error
		for _, ep := range endpoints {
			if err := ctx.Err(); err != nil {
				return backoff.Permanent(err)
			}
			if p.MaxCalls > 0 && calls >= p.MaxCalls {
				return backoff.Permanent(prev)
			}
			calls++
			err := op(ctx, ep)
			if err == nil {
				return nil
			}
			if IsPermanent(err) {
				return err
			}
			last, prev = err, err
		}
		return last
	}

	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(attempts-1)), ctx)
	if p.OnRetry != nil {
		return backoff.RetryNotify(round, b, p.OnRetry)
	}
	return backoff.Retry(round, b)
}
