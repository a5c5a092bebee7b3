// Package eligibility decides which feeds may be settled now.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/oracle-settler/internal/feed"
	"github.com/0gfoundation/oracle-settler/internal/store"
)

// Reason explains why a feed is not eligible for the sweep.
type Reason string

const (
	Eligible          Reason = ""
	NotPending        Reason = "not_pending"
	AlreadySettled    Reason = "already_settled"
	NoResolutionDate  Reason = "no_resolution_date"
	ResolutionPending Reason = "resolution_pending"
	EventNotFinished  Reason = "event_not_finished"
	InvalidConfig     Reason = "invalid_config"
)

// Verdict is the result of classifying one feed.
type Verdict struct {
	Category feed.Category
	Reason   Reason
}

// OK reports whether the feed may be swept.
func (v Verdict) OK() bool { return v.Reason == Eligible }

// Classify decides whether the automatic sweep may settle f at now.
func Classify(f feed.Feed, now time.Time) Verdict {
	v := Verdict{Category: f.Module.Category()}
	switch {
	case f.Status != feed.StatusPending:
		v.Reason = NotPending
		return v
	case f.Settled():
		v.Reason = AlreadySettled
		return v
	}

	switch v.Category {
	case feed.CategoryTimeBased:
		switch {
		case f.ResolutionDate == nil:
			v.Reason = NoResolutionDate
		case now.Before(*f.ResolutionDate):
			v.Reason = ResolutionPending
		}
	case feed.CategoryEventOutcome:
		cfg, err := f.EventConfig()
		switch {
		case err != nil:
			v.Reason = InvalidConfig
		case cfg.Status != feed.EventFinished:
			v.Reason = EventNotFinished
		}
	default:
		v.Reason = InvalidConfig
	}
	return v
}

// Classifier selects candidates from the store.
type Classifier struct {
	store store.Store
	now   func() time.Time
	log   *zap.Logger
}

func New(s store.Store, log *zap.Logger) *Classifier {
	return &Classifier{store: s, now: time.Now, log: log}
}

// WithClock replaces the time source.
func (c *Classifier) WithClock(now func() time.Time) *Classifier {
	c.now = now
	return c
}

// Batch returns every pending feed the sweep may settle now.
func (c *Classifier) Batch(ctx context.Context) ([]feed.Feed, error) {
	pending, err := c.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending feeds: %w", err)
	}
	now := c.now()
	var out []feed.Feed
	skipped := map[Reason]int{}
	for _, f := range pending {
		v := Classify(f, now)
		if !v.OK() {
			skipped[v.Reason]++
			if v.Reason == InvalidConfig {
				c.log.Warn("pending feed has invalid config", zap.String("feed", f.ID), zap.String("module", string(f.Module)))
			}
			continue
		}
		out = append(out, f)
	}
	c.log.Debug("eligibility",
		zap.Int("pending", len(pending)),
		zap.Int("eligible", len(out)),
		zap.Any("skipped", skipped),
	)
	return out, nil
}

// Single returns the feed unconditionally; a human trigger bypasses timing.
func (c *Classifier) Single(ctx context.Context, id string) (feed.Feed, error) {
	f, err := c.store.Get(ctx, id)
	if err != nil {
		return feed.Feed{}, fmt.Errorf("get feed %s: %w", id, err)
	}
	return f, nil
}
