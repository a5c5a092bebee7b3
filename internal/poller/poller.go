// Package poller refreshes event-outcome feeds from the results provider so
// the sweep can see which matches have concluded.
package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/oracle-settler/internal/feed"
	"github.com/0gfoundation/oracle-settler/internal/metrics"
	"github.com/0gfoundation/oracle-settler/internal/store"
)

// Matches looks up a match by provider id. Implemented by *PandaScore.
type Matches interface {
	Match(ctx context.Context, id feed.ProviderID) (Match, error)
}

// Summary reports one polling pass.
type Summary struct {
	Checked  int `json:"checked"`
	Updated  int `json:"updated"`
	Finished int `json:"finished"`
}

type Poller struct {
	store   store.Store
	matches Matches
	metrics *metrics.Metrics
	now     func() time.Time
	log     *zap.Logger
}

func New(st store.Store, matches Matches, m *metrics.Metrics, log *zap.Logger) *Poller {
	return &Poller{store: st, matches: matches, metrics: m, now: time.Now, log: log}
}

// WithClock replaces the time source.
func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Poll checks every open esports feed once. Per-feed provider and store
// errors are logged and skipped; only the listing error is returned.
func (p *Poller) Poll(ctx context.Context) (Summary, error) {
	feeds, err := p.store.ListByModule(ctx, feed.ModuleEsports, feed.StatusPending, feed.StatusManual)
	if err != nil {
		return Summary{}, fmt.Errorf("list esports feeds: %w", err)
	}

	sum := Summary{Checked: len(feeds)}
	now := p.now()
	for _, f := range feeds {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		log := p.log.With(zap.String("feed", f.ID))

		cfg, err := f.EventConfig()
		if err != nil {
			log.Warn("skip feed with invalid event config", zap.Error(err))
			continue
		}
		if cfg.Status.Done() {
			continue
		}
		if start, ok := cfg.Scheduled(); ok && start.After(now) {
			continue
		}
		if cfg.MatchID == "" {
			log.Debug("no match id")
			continue
		}

		m, err := p.matches.Match(ctx, cfg.MatchID)
		if err != nil {
			log.Warn("match lookup failed", zap.String("match", string(cfg.MatchID)), zap.Error(err))
			continue
		}
		if m.Status == feed.EventFinished {
			sum.Finished++
		}
		if m.Status == cfg.Status && !(m.Status == feed.EventFinished && m.WinnerID != "") {
			continue
		}

		merged, err := feed.MergeEventStatus(f.Config, m.Status, m.WinnerID)
		if err != nil {
			log.Warn("merge event status", zap.Error(err))
			continue
		}
		if err := p.store.UpdateConfig(ctx, f.ID, merged); err != nil {
			log.Error("update feed config", zap.Error(err))
			continue
		}
		sum.Updated++
		p.metrics.PollerUpdate(string(m.Status))
		log.Info("match status updated",
			zap.String("match", string(cfg.MatchID)),
			zap.String("status", string(m.Status)),
			zap.String("winner", string(m.WinnerID)),
		)
	}

	p.log.Info("poll finished",
		zap.Int("checked", sum.Checked),
		zap.Int("updated", sum.Updated),
		zap.Int("finished", sum.Finished),
	)
	return sum, nil
}
