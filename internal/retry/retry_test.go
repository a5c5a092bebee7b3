package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func zero() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestDo_FallsBackAcrossEndpoints(t *testing.T) {
	var calls []string
	p := Policy{MaxAttempts: 3, Endpoints: []string{"primary", "fallback"}, NewBackOff: zero}
	err := p.Do(context.Background(), func(_ context.Context, ep string) error {
		calls = append(calls, ep)
		if ep == "primary" {
			return errors.New("primary down")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(calls) != 2 || calls[0] != "primary" || calls[1] != "fallback" {
		t.Errorf("calls: %v", calls)
	}
}

func TestDo_BoundedAttempts(t *testing.T) {
	cases := []struct {
		name     string
		maxCalls int
		want     []string
	}{
		{"rounds only", 0, []string{"a", "b", "a", "b", "a", "b"}},
		{"total calls capped", 3, []string{"a", "b", "a"}},
		{"cap above rounds", 10, []string{"a", "b", "a", "b", "a", "b"}},
		{"single call", 1, []string{"a"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls []string
			sentinel := errors.New("down")
			p := Policy{MaxAttempts: 3, MaxCalls: tc.maxCalls, Endpoints: []string{"a", "b"}, NewBackOff: zero}
			err := p.Do(context.Background(), func(_ context.Context, ep string) error {
				calls = append(calls, ep)
				return sentinel
			})
			if !errors.Is(err, sentinel) || IsPermanent(err) {
				t.Errorf("got %v want unwrapped sentinel", err)
			}
			if len(calls) != len(tc.want) {
				t.Fatalf("calls: got %v want %v", calls, tc.want)
			}
			for i := range calls {
				if calls[i] != tc.want[i] {
					t.Errorf("call %d: got %s want %s", i, calls[i], tc.want[i])
				}
			}
		})
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	var calls int
	sentinel := errors.New("bad request")
	p := Policy{MaxAttempts: 5, Endpoints: []string{"a", "b"}, NewBackOff: zero}
	err := p.Do(context.Background(), func(context.Context, string) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("got %v want sentinel", err)
	}
	if IsPermanent(err) {
		t.Error("returned error should be unwrapped from Permanent")
	}
	if calls != 1 {
		t.Errorf("calls: got %d want 1", calls)
	}
}

func TestDo_ZeroAttemptsMeansOne(t *testing.T) {
	var calls int
	err := Policy{NewBackOff: zero}.Do(context.Background(), func(_ context.Context, ep string) error {
		calls++
		if ep != "" {
			t.Errorf("endpoint: got %q want empty", ep)
		}
		return errors.New("x")
	})
	if err == nil || calls != 1 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}

func TestDo_OnRetryAndContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var notified int
	p := Policy{
		MaxAttempts: 10,
		NewBackOff:  Constant(time.Millisecond),
		OnRetry: func(error, time.Duration) {
			notified++
			if notified == 2 {
				cancel()
			}
		},
	}
	err := p.Do(ctx, func(context.Context, string) error { return errors.New("down") })
	if err == nil {
		t.Fatal("expected error")
	}
	if notified > 3 {
		t.Errorf("retries continued after cancel: %d", notified)
	}
}
