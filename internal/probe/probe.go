// Package probe classifies a credential by issuing one cheap search call.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/statute-crawler/internal/metrics"
	"github.com/JakeFAU/statute-crawler/internal/statute"
)

// Reasons attached to probe results.
const (
	ReasonOK        = "ok"
	ReasonTransport = "transport"
	ReasonTimeout   = "timeout"
	ReasonStatus    = "status"
	ReasonCode      = "code"
	ReasonQuota     = "quota"
	ReasonPageEcho  = "page_echo"
)

// DefaultQuotaMarkers are message fragments that indicate an exhausted quota.
var DefaultQuotaMarkers = []string{"次数", "上限", "quota", "limit exceeded", "频繁"}

// Policy tunes the classification of a probe response.
type Policy struct {
	QuotaMarkers  []string
	CheckPageEcho bool
}

// Config controls Prober behavior.
type Config struct {
	Page     int
	PageSize int
	Timeout  time.Duration
	Policy   Policy
}

// DefaultConfig returns the probe settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Page:     1,
		PageSize: 1,
		Timeout:  10 * time.Second,
		Policy: Policy{
			QuotaMarkers:  DefaultQuotaMarkers,
			CheckPageEcho: true,
		},
	}
}

// Prober implements statute.Prober on top of a Searcher.
type Prober struct {
	searcher statute.Searcher
	clock    statute.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Prober. A zero page is replaced by 1 because the API
// echoes page 0 for quota-limited tokens.
func New(searcher statute.Searcher, clock statute.Clock, cfg Config, logger *zap.Logger) *Prober {
	if cfg.Page <= 0 {
		cfg.Page = 1
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		searcher: searcher,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("probe"),
	}
}

// Probe issues one search call with token and classifies the response.
func (p *Prober) Probe(ctx context.Context, token string) statute.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	year := p.clock.Now().Year()
	req := statute.SearchRequest{
		Category:  statute.LegalRegulation,
		BeginDate: fmt.Sprintf("%d-01-01", year),
		EndDate:   fmt.Sprintf("%d-12-31", year),
		PageIndex: p.cfg.Page,
		PageSize:  p.cfg.PageSize,
	}
	resp, err := p.searcher.Search(ctx, token, req)
	result := Classify(p.cfg.Page, resp, err, p.cfg.Policy)

	metrics.ObserveProbe(result.Health.String(), result.Reason)
	if result.OK() {
		p.logger.Debug("token healthy", zap.String("token", statute.MaskToken(token)))
	} else {
		p.logger.Info("token unhealthy",
			zap.String("token", statute.MaskToken(token)),
			zap.String("reason", result.Reason),
			zap.Error(err),
		)
	}
	return result
}

// Classify maps a probe response onto a health value. It has no side effects.
func Classify(requestedPage int, resp statute.SearchResponse, err error, policy Policy) statute.ProbeResult {
	if err != nil {
		var statusErr *statute.StatusError
		var apiErr *statute.APIError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return unhealthy(ReasonTimeout)
		case errors.As(err, &statusErr):
			return unhealthy(ReasonStatus)
		case errors.As(err, &apiErr):
			if containsMarker(apiErr.Message, policy.QuotaMarkers) {
				return unhealthy(ReasonQuota)
			}
			return unhealthy(ReasonCode)
		default:
			return unhealthy(ReasonTransport)
		}
	}
	if resp.StatusCode != 0 && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return unhealthy(ReasonStatus)
	}
	if containsMarker(resp.Message, policy.QuotaMarkers) {
		return unhealthy(ReasonQuota)
	}
	if resp.Code != 0 {
		return unhealthy(ReasonCode)
	}
	if policy.CheckPageEcho && resp.PageIndex != requestedPage {
		return unhealthy(ReasonPageEcho)
	}
	return statute.ProbeResult{Health: statute.Healthy, Reason: ReasonOK}
}

func unhealthy(reason string) statute.ProbeResult {
	return statute.ProbeResult{Health: statute.Unhealthy, Reason: reason}
}

func containsMarker(message string, markers []string) bool {
	if message == "" {
		return false
	}
	lower := strings.ToLower(message)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
