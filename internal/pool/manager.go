// Package pool keeps a minimum number of healthy credentials in the shared
// token store and hands them out to crawl workers.
package pool

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/statute-crawler/internal/metrics"
	"github.com/JakeFAU/statute-crawler/internal/statute"
)

const replenishKey = "replenish"

// Config controls Manager behavior.
type Config struct {
	RequiredTokenCount  int
	TokenTTL            time.Duration
	MintPauseMin        time.Duration
	MintPauseMax        time.Duration
	PrimaryTTL          time.Duration
	PrimaryRefreshBelow time.Duration
}

// DefaultConfig returns the pool settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		RequiredTokenCount:  3,
		TokenTTL:            7200 * time.Second,
		MintPauseMin:        30 * time.Second,
		MintPauseMax:        60 * time.Second,
		PrimaryTTL:          7200 * time.Second,
		PrimaryRefreshBelow: 10 * time.Minute,
	}
}

// Record is a decoded view of one stored credential.
type Record struct {
	Raw        string
	Credential statute.Credential
	Valid      bool
	Expired    bool
}

// Status summarizes the pool for operators.
type Status struct {
	Count          int64         `json:"count"`
	Required       int           `json:"required"`
	PrimarySet     bool          `json:"primary_set"`
	PrimaryTTL     time.Duration `json:"primary_ttl"`
	PrimaryExpires bool          `json:"primary_expires"`
	Replenishing   bool          `json:"replenishing"`
}

// Manager coordinates probing, eviction and replenishment of the pool.
type Manager struct {
	store  statute.TokenStore
	prober statute.Prober
	login  statute.LoginProvider
	clock  statute.Clock
	cfg    Config
	logger *zap.Logger

	shuffle func([]string)
	pause   func(lo, hi time.Duration) time.Duration

	group        singleflight.Group
	replenishing atomic.Bool

	mu      sync.Mutex
	primary string
}

// New constructs a Manager.
func New(
	store statute.TokenStore,
	prober statute.Prober,
	login statute.LoginProvider,
	clock statute.Clock,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.RequiredTokenCount <= 0 {
		cfg.RequiredTokenCount = 1
	}
	if cfg.MintPauseMax < cfg.MintPauseMin {
		cfg.MintPauseMax = cfg.MintPauseMin
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		prober:  prober,
		login:   login,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("pool"),
		shuffle: shuffleRecords,
		pause:   randomPause,
	}
}

// GetHealthyToken walks the pool in random order and returns the first token
// that passes a probe. Expired, undecodable and unhealthy records are removed
// along the way. The boolean is false when no healthy token exists.
func (m *Manager) GetHealthyToken(ctx context.Context) (string, bool, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return "", false, fmt.Errorf("list tokens: %w", err)
	}
	m.shuffle(records)

	now := m.clock.Now()
	for _, raw := range records {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		cred, err := statute.DecodeRecord(raw)
		if err != nil {
			if err := m.evict(ctx, raw, "invalid"); err != nil {
				return "", false, err
			}
			continue
		}
		if cred.Expired(now) {
			if err := m.evict(ctx, raw, "expired"); err != nil {
				return "", false, err
			}
			continue
		}

		result := m.prober.Probe(ctx, cred.Token)
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		if !result.OK() {
			if err := m.evict(ctx, raw, "probe_"+result.Reason); err != nil {
				return "", false, err
			}
			continue
		}
		return cred.Token, true, nil
	}
	return "", false, nil
}

// EnsurePoolSize mints credentials until the pool holds RequiredTokenCount
// records. It reports false when a mint fails before the target is reached.
// Concurrent callers share a single in-flight replenishment.
func (m *Manager) EnsurePoolSize(ctx context.Context) (bool, error) {
	ch := m.group.DoChan(replenishKey, func() (any, error) {
		return m.replenish(ctx)
	})
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		ok, _ := res.Val.(bool)
		return ok, nil
	}
}

// Replenishing reports whether a replenishment is in flight in this process.
func (m *Manager) Replenishing() bool {
	return m.replenishing.Load()
}

func (m *Manager) replenish(ctx context.Context) (bool, error) {
	m.replenishing.Store(true)
	defer m.replenishing.Store(false)

	required := int64(m.cfg.RequiredTokenCount)
	for {
		count, err := m.store.Count(ctx)
		if err != nil {
			return false, fmt.Errorf("count tokens: %w", err)
		}
		metrics.SetPoolSize(count)
		if count >= required {
			return true, nil
		}

		m.logger.Info("pool below minimum, minting token",
			zap.Int64("count", count),
			zap.Int64("required", required),
		)
		cred, err := m.login.Login(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if err != nil {
			metrics.ObserveMint("error")
			m.logger.Warn("token mint failed", zap.Error(err))
			return false, nil
		}

		now := m.clock.Now()
		if cred.CreatedAt.IsZero() {
			cred.CreatedAt = now
		}
		if cred.ExpiresAt.IsZero() && m.cfg.TokenTTL > 0 {
			cred.ExpiresAt = now.Add(m.cfg.TokenTTL)
		}
		record, err := cred.EncodeRecord()
		if err != nil {
			metrics.ObserveMint("invalid")
			m.logger.Warn("login returned unusable credential", zap.Error(err))
			return false, nil
		}
		if err := m.store.Push(ctx, record); err != nil {
			return false, fmt.Errorf("push token: %w", err)
		}
		metrics.ObserveMint("ok")
		m.logger.Info("token minted",
			zap.String("token", cred.Masked()),
			zap.String("user", cred.UserLabel),
		)

		if count+1 < required {
			if err := m.clock.Sleep(ctx, m.pause(m.cfg.MintPauseMin, m.cfg.MintPauseMax)); err != nil {
				return false, err
			}
		}
	}
}

// AcquireToken returns a usable token, replenishing the pool when needed and
// falling back to the primary slot. The boolean is false when nothing is
// available; that case is never an error.
func (m *Manager) AcquireToken(ctx context.Context) (string, bool, error) {
	count, err := m.store.Count(ctx)
	if err != nil {
		return "", false, fmt.Errorf("count tokens: %w", err)
	}
	metrics.SetPoolSize(count)
	if count < int64(m.cfg.RequiredTokenCount) {
		if _, err := m.EnsurePoolSize(ctx); err != nil {
			return "", false, err
		}
	}

	token, ok, err := m.GetHealthyToken(ctx)
	if err != nil || ok {
		return token, ok, err
	}

	m.logger.Info("no healthy token in pool, replenishing")
	if _, err := m.EnsurePoolSize(ctx); err != nil {
		return "", false, err
	}
	token, ok, err = m.GetHealthyToken(ctx)
	if err != nil || ok {
		return token, ok, err
	}

	return m.Primary(ctx)
}

// ReportFailure removes every record carrying token, and the primary slot
// when it holds the same token.
func (m *Manager) ReportFailure(ctx context.Context, token string) error {
	removed, err := m.Remove(ctx, token)
	if err != nil {
		return err
	}

	primary, ok, err := m.store.GetPrimary(ctx)
	if err != nil {
		return fmt.Errorf("get primary: %w", err)
	}
	m.mu.Lock()
	mirrored := m.primary == token
	m.mu.Unlock()
	if (ok && primary == token) || mirrored {
		if err := m.ClearPrimary(ctx); err != nil {
			return err
		}
		removed++
	}
	m.logger.Warn("token reported as failing",
		zap.String("token", statute.MaskToken(token)),
		zap.Int64("removed", removed),
	)
	return nil
}

// Remove deletes every pool record whose token equals token.
func (m *Manager) Remove(ctx context.Context, token string) (int64, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tokens: %w", err)
	}
	var removed int64
	seen := make(map[string]struct{})
	for _, raw := range records {
		if _, dup := seen[raw]; dup {
			continue
		}
		cred, err := statute.DecodeRecord(raw)
		if err != nil || cred.Token != token {
			continue
		}
		seen[raw] = struct{}{}
		n, err := m.store.RemoveByValue(ctx, raw)
		if err != nil {
			return removed, fmt.Errorf("remove token: %w", err)
		}
		removed += n
	}
	if removed > 0 {
		metrics.ObserveEviction("reported")
	}
	return removed, nil
}

// Records returns decoded views of every stored record.
func (m *Manager) Records(ctx context.Context) ([]Record, error) {
	raws, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	now := m.clock.Now()
	out := make([]Record, 0, len(raws))
	for _, raw := range raws {
		rec := Record{Raw: raw}
		if cred, err := statute.DecodeRecord(raw); err == nil {
			rec.Credential = cred
			rec.Valid = true
			rec.Expired = cred.Expired(now)
		}
		out = append(out, rec)
	}
	return out, nil
}

// SetPrimary stores the fallback token. A non-positive ttl uses the
// configured PrimaryTTL.
func (m *Manager) SetPrimary(ctx context.Context, token string, ttl time.Duration) error {
	if token == "" {
		return fmt.Errorf("set primary: %w: empty token", statute.ErrInvalidRecord)
	}
	if ttl <= 0 {
		ttl = m.cfg.PrimaryTTL
	}
	if err := m.store.SetPrimary(ctx, token, ttl); err != nil {
		return fmt.Errorf("set primary: %w", err)
	}
	m.mu.Lock()
	m.primary = token
	m.mu.Unlock()
	return nil
}

// Primary returns the primary token, warning when it is close to expiry.
func (m *Manager) Primary(ctx context.Context) (string, bool, error) {
	token, ok, err := m.store.GetPrimary(ctx)
	if err != nil {
		return "", false, fmt.Errorf("get primary: %w", err)
	}
	m.mu.Lock()
	if ok {
		m.primary = token
	} else {
		m.primary = ""
	}
	m.mu.Unlock()
	if !ok {
		return "", false, nil
	}

	ttl, expires, err := m.store.PrimaryTTL(ctx)
	if err != nil {
		m.logger.Warn("primary ttl lookup failed", zap.Error(err))
	} else if expires && ttl < m.cfg.PrimaryRefreshBelow {
		m.logger.Warn("primary token expiring soon, refresh it",
			zap.Duration("ttl", ttl),
			zap.String("token", statute.MaskToken(token)),
		)
	}
	return token, true, nil
}

// ClearPrimary empties the primary slot.
func (m *Manager) ClearPrimary(ctx context.Context) error {
	if err := m.store.DeletePrimary(ctx); err != nil {
		return fmt.Errorf("delete primary: %w", err)
	}
	m.mu.Lock()
	m.primary = ""
	m.mu.Unlock()
	return nil
}

// Status reports pool size, primary slot and replenishment state.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	count, err := m.store.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count tokens: %w", err)
	}
	metrics.SetPoolSize(count)
	st := Status{
		Count:        count,
		Required:     m.cfg.RequiredTokenCount,
		Replenishing: m.Replenishing(),
	}
	_, ok, err := m.store.GetPrimary(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("get primary: %w", err)
	}
	st.PrimarySet = ok
	if ok {
		ttl, expires, err := m.store.PrimaryTTL(ctx)
		if err != nil {
			return Status{}, fmt.Errorf("primary ttl: %w", err)
		}
		st.PrimaryTTL = ttl
		st.PrimaryExpires = expires
	}
	return st, nil
}

// ProbeReport is the health of one stored record.
type ProbeReport struct {
	Token   string `json:"token"`
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason"`
	Evicted bool   `json:"evicted"`
}

// Sweep checks every record without replenishing. Expired and undecodable
// records are reported without a probe. With evict set, failing records are
// removed. Report tokens are masked.
func (m *Manager) Sweep(ctx context.Context, evict bool) ([]ProbeReport, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	now := m.clock.Now()
	reports := make([]ProbeReport, 0, len(records))
	for _, raw := range records {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report := ProbeReport{Token: statute.MaskToken(raw)}
		cred, err := statute.DecodeRecord(raw)
		switch {
		case err != nil:
			report.Reason = "invalid"
		case cred.Expired(now):
			report.Token = cred.Masked()
			report.Reason = "expired"
		default:
			report.Token = cred.Masked()
			result := m.prober.Probe(ctx, cred.Token)
			if err := ctx.Err(); err != nil {
				return reports, err
			}
			report.Healthy = result.OK()
			report.Reason = result.Reason
			if !report.Healthy {
				report.Reason = "probe_" + result.Reason
			}
		}
		if !report.Healthy && evict {
			if err := m.evict(ctx, raw, report.Reason); err != nil {
				return reports, err
			}
			report.Evicted = true
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Clear removes every pool record. The primary slot is left alone.
func (m *Manager) Clear(ctx context.Context) (int64, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tokens: %w", err)
	}
	var removed int64
	seen := make(map[string]struct{}, len(records))
	for _, raw := range records {
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		n, err := m.store.RemoveByValue(ctx, raw)
		if err != nil {
			return removed, fmt.Errorf("remove token: %w", err)
		}
		removed += n
	}
	if removed > 0 {
		metrics.ObserveEviction("cleared")
	}
	metrics.SetPoolSize(0)
	m.logger.Info("pool cleared", zap.Int64("removed", removed))
	return removed, nil
}

func (m *Manager) evict(ctx context.Context, raw, reason string) error {
	if _, err := m.store.RemoveByValue(ctx, raw); err != nil {
		return fmt.Errorf("evict token: %w", err)
	}
	metrics.ObserveEviction(reason)
	token := raw
	if cred, err := statute.DecodeRecord(raw); err == nil {
		token = cred.Token
	}
	m.logger.Info("token evicted",
		zap.String("token", statute.MaskToken(token)),
		zap.String("reason", reason),
	)
	return nil
}

func shuffleRecords(records []string) {
	rand.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
}

func randomPause(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}
