// Package orchestrator drives feed settlement: value resolution, the
// best-effort on-chain write through the Chain Settler, and the single
// guarded store transition to settled or failed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/0gfoundation/oracle-settler/internal/feed"
	"github.com/0gfoundation/oracle-settler/internal/lease"
	"github.com/0gfoundation/oracle-settler/internal/metrics"
	"github.com/0gfoundation/oracle-settler/internal/retry"
	"github.com/0gfoundation/oracle-settler/internal/settler"
	"github.com/0gfoundation/oracle-settler/internal/store"
)

var (
	ErrAlreadySettled  = errors.New("feed already settled")
	ErrInProgress      = errors.New("feed settlement already in progress")
	ErrSettlerNotReady = errors.New("chain settler not initialized")
)

// Resolver returns the simulated value of a job. Implemented by *resolver.Client.
type Resolver interface {
	Resolve(ctx context.Context, endpoint, jobHash string) (string, bool, error)
}

// Settler writes a feed on-chain. Implemented by *settler.Client.
type Settler interface {
	Settle(ctx context.Context, req settler.Request) (settler.Result, error)
}

// Candidates selects feeds. Implemented by *eligibility.Classifier.
type Candidates interface {
	Batch(ctx context.Context) ([]feed.Feed, error)
	Single(ctx context.Context, id string) (feed.Feed, error)
}

// Claimer hands out per-feed leases. Implemented by *lease.Locker.
type Claimer interface {
	Acquire(ctx context.Context, key string) (*lease.Lease, error)
}

// Options tunes an Orchestrator.
type Options struct {
	// Workers bounds concurrent feeds within one sweep.
	Workers int
	// ResolverRetry lists the simulator endpoints and the retry schedule.
	ResolverRetry retry.Policy
	// FeedTimeout bounds one feed's resolution and on-chain step.
	FeedTimeout time.Duration
	// SweepTimeout bounds a whole sweep; feeds not started by then are skipped.
	SweepTimeout time.Duration
}

// Orchestrator settles feeds. settler and claimer may be nil: without a
// settler every feed settles off-chain, without a claimer no lease is taken.
type Orchestrator struct {
	candidates Candidates
	store      store.Store
	resolver   Resolver
	settler    Settler
	claimer    Claimer
	metrics    *metrics.Metrics
	opts       Options
	now        func() time.Time
	log        *zap.Logger
}

func New(
	candidates Candidates,
	st store.Store,
	res Resolver,
	stl Settler,
	claimer Claimer,
	m *metrics.Metrics,
	opts Options,
	log *zap.Logger,
) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Orchestrator{
		candidates: candidates,
		store:      st,
		resolver:   res,
		settler:    stl,
		claimer:    claimer,
		metrics:    m,
		opts:       opts,
		now:        time.Now,
		log:        log,
	}
}

// WithClock replaces the time source used for settled_at.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// mode selects how a settlement attempt treats its collaborators.
type mode int

const (
	modeSweep mode = iota
	modeSingle
	modeAdHoc
)

// ── sweep ─────────────────────────────────────────────────────────────────────

// Sweep settles every eligible feed. Only a failure to list candidates is
// returned as an error; per-feed failures are reported in the Report.
func (o *Orchestrator) Sweep(ctx context.Context) (Report, error) {
	start := time.Now()
	if o.opts.SweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.SweepTimeout)
		defer cancel()
	}

	feeds, err := o.candidates.Batch(ctx)
	if err != nil {
		return Report{}, err
	}

	results := make([]FeedResult, len(feeds))
	p := pool.New().WithMaxGoroutines(o.opts.Workers)
	for i, f := range feeds {
		p.Go(func() {
			if err := ctx.Err(); err != nil {
				results[i] = o.count(skipped(f, ReasonDeadline, err))
				return
			}
			results[i] = o.sweepOne(ctx, f)
		})
	}
	p.Wait()

	report := summarize(results)
	o.metrics.Sweep(len(feeds), time.Since(start))
	o.log.Info("sweep finished",
		zap.Int("eligible", len(feeds)),
		zap.Int("settled", report.Settled),
		zap.Int("on_chain", report.OnChain),
		zap.Int("failed", report.Failed),
		zap.Duration("took", time.Since(start)),
	)
	return report, nil
}

func (o *Orchestrator) sweepOne(ctx context.Context, f feed.Feed) FeedResult {
	release, err := o.claim(ctx, f.ID)
	switch {
	case errors.Is(err, lease.ErrHeld):
		o.log.Info("feed claimed by another worker", zap.String("feed", f.ID))
		return o.count(skipped(f, ReasonClaimed, err))
	case err != nil:
		o.log.Warn("feed lease unavailable", zap.String("feed", f.ID), zap.Error(err))
		return o.count(skipped(f, ReasonLeaseUnavailable, err))
	}
	defer release()

	// Another sweep may have finished this feed between listing and claiming.
	cur, err := o.store.Get(ctx, f.ID)
	if err != nil {
		o.log.Warn("re-read feed", zap.String("feed", f.ID), zap.Error(err))
		return o.count(skipped(f, ReasonStoreUnavailable, err))
	}
	if cur.Status != feed.StatusPending || cur.Settled() {
		return o.count(skipped(cur, ReasonConflict, store.ErrConflict))
	}
	return o.settle(ctx, cur, modeSweep)
}

// ── single feed ───────────────────────────────────────────────────────────────

// SettleOne settles a stored feed on request, bypassing timing checks.
// Pending, manual and failed feeds are accepted; a settled feed is not.
func (o *Orchestrator) SettleOne(ctx context.Context, id string) (FeedResult, error) {
	f, err := o.candidates.Single(ctx, id)
	if err != nil {
		return FeedResult{}, err
	}
	if f.Status == feed.StatusSettled || f.Settled() {
		return FeedResult{}, fmt.Errorf("%w: %s", ErrAlreadySettled, id)
	}

	release, err := o.claim(ctx, f.ID)
	if errors.Is(err, lease.ErrHeld) {
		return FeedResult{}, fmt.Errorf("%w: %s", ErrInProgress, id)
	}
	if err != nil {
		return FeedResult{}, fmt.Errorf("claim feed %s: %w", id, err)
	}
	defer release()

	return settledOrErr(o.settle(ctx, f, modeSingle), id)
}

// SettleAdHoc settles a feed described by the caller that has no stored
// record. Nothing is persisted and no lease is taken.
func (o *Orchestrator) SettleAdHoc(ctx context.Context, f feed.Feed) (FeedResult, error) {
	return settledOrErr(o.settle(ctx, f, modeAdHoc), f.Address)
}

func settledOrErr(res FeedResult, id string) (FeedResult, error) {
	switch res.Reason {
	case ReasonSettlerNotReady:
		return res, fmt.Errorf("%w: %v", ErrSettlerNotReady, res.SettlerError)
	case ReasonClaimed:
		return res, fmt.Errorf("%w: %s", ErrInProgress, id)
	}
	return res, nil
}

// Lookup returns a stored feed.
func (o *Orchestrator) Lookup(ctx context.Context, id string) (feed.Feed, error) {
	return o.candidates.Single(ctx, id)
}

// ── per-feed state machine ────────────────────────────────────────────────────

// settle runs value resolution, the on-chain attempt and persistence, in
// that order.
func (o *Orchestrator) settle(ctx context.Context, f feed.Feed, m mode) FeedResult {
	res := FeedResult{FeedID: f.ID, Status: f.Status}
	log := o.log.With(zap.String("feed", f.ID), zap.String("module", string(f.Module)))

	fctx := ctx
	if o.opts.FeedTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, o.opts.FeedTimeout)
		defer cancel()
	}

	// 1. value
	var (
		value   string
		haveVal bool
		event   *feed.EventConfig
	)
	switch f.Module.Category() {
	case feed.CategoryEventOutcome:
		cfg, err := f.EventConfig()
		if err != nil {
			log.Warn("event config unusable", zap.Error(err))
			res.Reason = ReasonInvalidConfig
			res.Error = err.Error()
			return o.persist(ctx, f, res, m, "", false, nil)
		}
		if cfg.WinnerID == "" {
			// A finished match without a winner has no outcome to publish.
			log.Warn("event has no winner")
			res.Reason = ReasonNoValue
			res.Error = "event finished without a winner"
			return o.persist(ctx, f, res, m, "", false, nil)
		}
		event = &cfg
		value, haveVal = string(feed.DeriveOutcome(cfg.WinnerID, cfg.Team1ID, cfg.Team2ID)), true
	default:
		if f.JobHash == "" {
			res.Reason = ReasonNoValue
			res.Error = "no job hash and no value"
			return o.persist(ctx, f, res, m, "", false, nil)
		}
		v, ok, err := o.resolve(fctx, f.JobHash)
		if err != nil {
			log.Warn("resolver unavailable", zap.Error(err))
			res.Reason = ReasonResolverUnavailable
			res.Error = err.Error()
		} else if !ok {
			log.Info("resolver returned no value")
		}
		value, haveVal = v, ok
	}

	// 2. best-effort on-chain write
	var tx *string
	if o.settler != nil && f.Address != "" && f.JobHash != "" {
		req := settler.Request{FeedPubkey: f.Address, FeedHash: f.JobHash, FeedID: f.ID, Module: f.Module}
		if event != nil {
			req.WinnerID, req.Team1ID, req.Team2ID = event.WinnerID, event.Team1ID, event.Team2ID
		}
		out, err := o.settler.Settle(fctx, req)
		switch {
		case err == nil:
			t := out.TxSignature
			tx = &t
			if out.SettledValue != "" {
				value, haveVal = out.SettledValue, true
			}
			log.Info("settled on-chain", zap.String("tx", t), zap.String("value", value))
		case m != modeSweep && errors.Is(err, settler.ErrNotReady):
			// A human asked for this one; report the broken settler rather
			// than quietly settling off-chain.
			res.SettlerError = err
			res.Reason = ReasonSettlerNotReady
			res.Error = err.Error()
			return res
		case errors.Is(err, settler.ErrInProgress):
			// Another caller is writing this feed on-chain and owns the outcome.
			log.Info("on-chain settlement already in progress")
			res.SettlerError = err
			res.Reason = ReasonClaimed
			res.Error = err.Error()
			if m == modeSweep {
				return o.count(res)
			}
			return res
		default:
			code, _ := settler.CodeOf(err)
			if errors.Is(err, settler.ErrUnavailable) {
				code = "unreachable"
			}
			o.metrics.SettlerFailure(string(code))
			res.SettlerError = err
			log.Warn("on-chain settlement failed, keeping off-chain value",
				zap.String("code", string(code)),
				zap.Bool("have_value", haveVal),
				zap.Error(err),
			)
		}
	}

	if !haveVal && ctx.Err() != nil {
		// Cut off by the sweep deadline, not a verdict on the feed.
		res.Reason = ReasonDeadline
		res.Error = ctx.Err().Error()
		return o.count(res)
	}
	if haveVal {
		res.Reason, res.Error = "", ""
	} else if res.Reason == "" {
		res.Reason = ReasonNoValue
		res.Error = "no value could be determined"
	}

	// 3. persist
	return o.persist(ctx, f, res, m, value, haveVal, tx)
}

func (o *Orchestrator) resolve(ctx context.Context, jobHash string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := o.opts.ResolverRetry.Do(ctx, func(ctx context.Context, endpoint string) error {
		v, found, err := o.resolver.Resolve(ctx, endpoint, jobHash)
		if err != nil {
			return err
		}
		value, ok = v, found
		return nil
	})
	return value, ok, err
}

// persist writes the terminal state. The write runs on a context detached
// from the sweep deadline so a confirmed on-chain value is never dropped.
func (o *Orchestrator) persist(ctx context.Context, f feed.Feed, res FeedResult, m mode, value string, haveVal bool, tx *string) FeedResult {
	if haveVal {
		res.Value = value
		res.Tx = tx
	}
	if m == modeAdHoc {
		res.Success = haveVal
		if haveVal {
			res.Status = feed.StatusSettled
		} else {
			res.Status = feed.StatusFailed
		}
		return o.count(res)
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	var err error
	if haveVal {
		err = o.store.MarkSettled(pctx, f.ID, f.Status, feed.Settlement{Value: value, Tx: tx, At: o.now().UTC()})
	} else {
		err = o.store.MarkFailed(pctx, f.ID, f.Status)
	}
	switch {
	case err == nil && haveVal:
		res.Success = true
		res.Status = feed.StatusSettled
	case err == nil:
		res.Status = feed.StatusFailed
	case errors.Is(err, store.ErrConflict):
		o.log.Warn("feed changed before persist", zap.String("feed", f.ID), zap.Error(err))
		res.Success = false
		res.Reason = ReasonConflict
		res.Error = err.Error()
	default:
		o.log.Error("persist settlement", zap.String("feed", f.ID), zap.Bool("have_value", haveVal), zap.Error(err))
		res.Success = false
		res.Reason = ReasonStoreUnavailable
		res.Error = err.Error()
	}
	return o.count(res)
}

func (o *Orchestrator) claim(ctx context.Context, id string) (func(), error) {
	if o.claimer == nil {
		return func() {}, nil
	}
	l, err := o.claimer.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			o.log.Warn("release feed lease", zap.String("feed", id), zap.Error(err))
		}
	}, nil
}

func (o *Orchestrator) count(r FeedResult) FeedResult {
	switch {
	case r.Success && r.Tx != nil:
		o.metrics.Feed("on_chain", "")
	case r.Success:
		o.metrics.Feed("settled", "")
	default:
		o.metrics.Feed("failed", string(r.Reason))
	}
	return r
}

func skipped(f feed.Feed, reason Reason, err error) FeedResult {
	return FeedResult{FeedID: f.ID, Status: f.Status, Reason: reason, Error: err.Error()}
}
