package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/statute-crawler/internal/metrics"
	"github.com/JakeFAU/statute-crawler/internal/statute"
)

var errNoTargets = errors.New("target enumeration failed")

// TokenSource hands out tokens and takes blame for failing ones.
type TokenSource interface {
	AcquireToken(ctx context.Context) (string, bool, error)
	EnsurePoolSize(ctx context.Context) (bool, error)
	ReportFailure(ctx context.Context, token string) error
}

// TargetLister enumerates the fetch targets of a window.
type TargetLister interface {
	ListTargets(ctx context.Context, window statute.Window) iter.Seq2[statute.FetchTarget, error]
}

// Indexer builds missing month indexes before a window is crawled.
type Indexer interface {
	HasIndex(window statute.Window) bool
	BuildWindow(ctx context.Context, token string, window statute.Window, force bool) (int, error)
}

// Config controls Scheduler behavior.
type Config struct {
	EvictionThreshold float64
	PassBackoffMin    time.Duration
	PassBackoffMax    time.Duration
	ErrorBackoff      time.Duration
	NoTokenPause      time.Duration
	// FetchRate is detail fetches per second across all windows. Zero or
	// less disables pacing.
	FetchRate   float64
	FetchBurst  int
	Concurrency int
	Force       bool
}

// DefaultConfig returns the scheduler settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		EvictionThreshold: 0.5,
		PassBackoffMin:    30 * time.Second,
		PassBackoffMax:    60 * time.Second,
		ErrorBackoff:      5 * time.Second,
		NoTokenPause:      5 * time.Second,
		FetchRate:         1,
		FetchBurst:        1,
		Concurrency:       1,
	}
}

// Scheduler runs crawl windows until each finishes or the context ends.
type Scheduler struct {
	tokens  TokenSource
	lister  TargetLister
	fetcher statute.DetailFetcher
	writer  statute.DocumentWriter
	clock   statute.Clock
	cfg     Config
	limiter *rate.Limiter
	indexer Indexer
	logger  *zap.Logger
	pause   func(lo, hi time.Duration) time.Duration
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithIndexer builds a window's index before crawling when it has none.
func WithIndexer(indexer Indexer) Option {
	return func(s *Scheduler) {
		s.indexer = indexer
	}
}

// New constructs a Scheduler.
func New(
	tokens TokenSource,
	lister TargetLister,
	fetcher statute.DetailFetcher,
	writer statute.DocumentWriter,
	clock statute.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Scheduler {
	if cfg.EvictionThreshold <= 0 || cfg.EvictionThreshold > 1 {
		cfg.EvictionThreshold = 0.5
	}
	if cfg.PassBackoffMax < cfg.PassBackoffMin {
		cfg.PassBackoffMax = cfg.PassBackoffMin
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	limit := rate.Inf
	if cfg.FetchRate > 0 {
		limit = rate.Limit(cfg.FetchRate)
	}
	burst := cfg.FetchBurst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		tokens:  tokens,
		lister:  lister,
		fetcher: fetcher,
		writer:  writer,
		clock:   clock,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("scheduler"),
		pause:   randomPause,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunAll crawls windows with at most Concurrency in flight. Windows already
// marked complete are skipped unless Force is set. It returns when every
// window is done or the context ends.
func (s *Scheduler) RunAll(ctx context.Context, windows []statute.Window) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, window := range windows {
		if !s.cfg.Force {
			done, err := s.writer.IsComplete(ctx, window)
			if err != nil {
				s.logger.Warn("completion check failed", zap.String("window", window.String()), zap.Error(err))
			} else if done {
				s.logger.Info("window already complete, skipping", zap.String("window", window.String()))
				continue
			}
		}
		g.Go(func() error {
			return s.RunWindow(gctx, window)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("run windows: %w", err)
	}
	return nil
}

// RunWindow loops over window until a pass finishes without failures. Only
// context cancellation ends it early; every other failure is retried after a
// backoff.
func (s *Scheduler) RunWindow(ctx context.Context, window statute.Window) error {
	metrics.IncActiveWindows()
	defer metrics.DecActiveWindows()

	r := &run{s: s, window: window, logger: s.logger.With(zap.String("window", window.String()))}
	r.logger.Info("window started")
	s.prepareIndex(ctx, r)

	for pass := 1; ; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		targets, err := s.materialize(ctx, r)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.logger.Warn("listing targets failed", zap.Error(err))
			if err := r.backoff(ctx, "error", s.cfg.ErrorBackoff); err != nil {
				return err
			}
			continue
		}
		if len(targets) == 0 {
			return r.finish(ctx)
		}

		r.enter(StateAcquiring)
		token, ok, err := s.tokens.AcquireToken(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.logger.Warn("token acquisition failed", zap.Error(err))
			if err := r.backoff(ctx, "error", s.cfg.ErrorBackoff); err != nil {
				return err
			}
			continue
		}
		if !ok {
			r.logger.Warn("no token available")
			if err := s.clock.Sleep(ctx, s.cfg.NoTokenPause); err != nil {
				return err
			}
			r.enter(StateReplenishing)
			if _, err := s.tokens.EnsurePoolSize(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.logger.Warn("replenishment failed", zap.Error(err))
			}
			continue
		}

		r.enter(StateFetching)
		outcome := s.fetchAll(ctx, r, token, targets)
		if err := ctx.Err(); err != nil {
			return err
		}

		r.enter(StateEvaluating)
		decision := Decide(outcome, s.cfg.EvictionThreshold)
		metrics.ObserveBatch(decision.String())
		r.logger.Info("pass evaluated",
			zap.Int("pass", pass),
			zap.Int("successes", outcome.Successes),
			zap.Int("failures", outcome.Failures),
			zap.Float64("failure_ratio", outcome.FailureRatio()),
			zap.Stringer("decision", decision),
		)

		switch decision {
		case DecisionDone:
			return r.finish(ctx)
		case DecisionEvict:
			if err := s.tokens.ReportFailure(ctx, token); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.logger.Warn("reporting failing token failed", zap.Error(err))
			}
		}
		if err := r.backoff(ctx, "pass", s.pause(s.cfg.PassBackoffMin, s.cfg.PassBackoffMax)); err != nil {
			return err
		}
	}
}

// materialize reads the targets of one pass. Per-month listing errors are
// logged; they only fail the pass when no target could be listed at all.
func (s *Scheduler) materialize(ctx context.Context, r *run) ([]statute.FetchTarget, error) {
	var (
		targets  []statute.FetchTarget
		firstErr error
	)
	for target, err := range s.lister.ListTargets(ctx, r.window) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.logger.Warn("skipping unreadable index", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		targets = append(targets, target)
	}
	if len(targets) == 0 && firstErr != nil {
		return nil, fmt.Errorf("%w: %w", errNoTargets, firstErr)
	}
	return targets, nil
}

func (s *Scheduler) fetchAll(ctx context.Context, r *run, token string, targets []statute.FetchTarget) statute.BatchOutcome {
	var outcome statute.BatchOutcome
	for _, target := range targets {
		if err := s.limiter.Wait(ctx); err != nil {
			return outcome
		}
		if err := s.fetchOne(ctx, token, target); err != nil {
			if ctx.Err() != nil {
				return outcome
			}
			outcome.Failures++
			metrics.ObserveTarget(target.Category.Slug(), "error")
			r.logger.Debug("fetch failed",
				zap.String("id", string(target.ID)),
				zap.String("title", target.Title),
				zap.Error(err),
			)
			continue
		}
		outcome.Successes++
		metrics.ObserveTarget(target.Category.Slug(), "ok")
	}
	return outcome
}

func (s *Scheduler) fetchOne(ctx context.Context, token string, target statute.FetchTarget) error {
	doc, err := s.fetcher.Fetch(ctx, token, target)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if doc.FetchedAt.IsZero() {
		doc.FetchedAt = s.clock.Now()
	}
	if err := s.writer.Write(ctx, target, doc); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// prepareIndex builds the month index of a window that has none. Failures
// are logged; the crawl then simply finds no targets for missing months.
func (s *Scheduler) prepareIndex(ctx context.Context, r *run) {
	if s.indexer == nil || s.indexer.HasIndex(r.window) {
		return
	}
	r.logger.Info("window has no index, building it")
	token, ok, err := s.tokens.AcquireToken(ctx)
	if err != nil || !ok {
		r.logger.Warn("no token for index build", zap.Error(err))
		return
	}
	n, err := s.indexer.BuildWindow(ctx, token, r.window, false)
	if err != nil {
		r.logger.Warn("index build failed", zap.Int("indexed", n), zap.Error(err))
		if errors.Is(err, statute.ErrPageMismatch) {
			if rerr := s.tokens.ReportFailure(ctx, token); rerr != nil {
				r.logger.Warn("evict token failed", zap.Error(rerr))
			}
		}
		return
	}
	r.logger.Info("index built", zap.Int("indexed", n))
}

// run is the per-window bookkeeping of one RunWindow call.
type run struct {
	s      *Scheduler
	window statute.Window
	state  State
	logger *zap.Logger
}

func (r *run) enter(next State) {
	if next == r.state {
		return
	}
	r.logger.Debug("state transition", zap.Stringer("from", r.state), zap.Stringer("to", next))
	r.state = next
}

func (r *run) backoff(ctx context.Context, kind string, d time.Duration) error {
	r.enter(StateBackoff)
	metrics.ObserveBackoff(kind, d)
	r.logger.Info("backing off", zap.String("kind", kind), zap.Duration("delay", d))
	return r.s.clock.Sleep(ctx, d)
}

func (r *run) finish(ctx context.Context) error {
	r.enter(StateDone)
	if err := r.s.writer.MarkComplete(ctx, r.window); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.logger.Warn("marking window complete failed", zap.Error(err))
	}
	r.logger.Info("window complete")
	return nil
}

func randomPause(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}
