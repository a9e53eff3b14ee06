package login

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/statute-crawler/internal/fsutil"
	"github.com/JakeFAU/statute-crawler/internal/statute"
)

// DefaultLoginURL is the scan-to-login page.
const DefaultLoginURL = "https://www.banklaw.com/login"

const storageDumpJS = `(() => {
	const dump = (s) => Object.keys(s).reduce((o, k) => { o[k] = s.getItem(k); return o; }, {});
	return Object.assign({}, dump(localStorage), dump(sessionStorage));
})()`

// Config controls the browser login flow.
type Config struct {
	LoginURL     string
	Headless     bool
	QRCodePath   string
	WaitTimeout  time.Duration
	PollInterval time.Duration
	SettleDelay  time.Duration
	UserAgent    string
}

// Chromedp mints tokens by waiting for an operator to scan the login QR code
// in a Chrome session.
type Chromedp struct {
	cfg         Config
	clock       statute.Clock
	reporter    *StatusReporter
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a browser login provider. reporter may be nil.
func NewChromedp(cfg Config, clock statute.Clock, reporter *StatusReporter, logger *zap.Logger) *Chromedp {
	cfg = withDefaults(cfg)
	if reporter == nil {
		reporter = NewStatusReporter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chromedp{
		cfg:         cfg,
		clock:       clock,
		reporter:    reporter,
		logger:      logger.Named("login"),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.LoginURL == "" {
		cfg.LoginURL = DefaultLoginURL
	}
	if cfg.QRCodePath == "" {
		cfg.QRCodePath = "qrcode.png"
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 300 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 3 * time.Second
	}
	return cfg
}

// Reporter exposes the status of the most recent attempt.
func (c *Chromedp) Reporter() *StatusReporter {
	return c.reporter
}

// Close shuts down the browser allocator.
func (c *Chromedp) Close() {
	c.allocCancel()
}

// Login opens the login page, saves a screenshot of the QR code and waits
// until the page navigates away, then reads the token from web storage.
func (c *Chromedp) Login(ctx context.Context) (statute.Credential, error) {
	attemptID := uuid.NewString()
	logger := c.logger.With(zap.String("attempt_id", attemptID))
	c.reporter.Begin(attemptID)

	cred, err := c.login(ctx, logger)
	c.reporter.Finish(err)
	if err != nil {
		logger.Warn("login attempt failed", zap.Error(err))
		return statute.Credential{}, err
	}
	logger.Info("login succeeded", zap.String("token", cred.Masked()))
	return cred, nil
}

func (c *Chromedp) login(ctx context.Context, logger *zap.Logger) (statute.Credential, error) {
	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	var shot []byte
	if err := chromedp.Run(taskCtx,
		c.setupAction(),
		chromedp.Navigate(c.cfg.LoginURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(c.cfg.SettleDelay),
		chromedp.FullScreenshot(&shot, 90),
	); err != nil {
		return statute.Credential{}, c.wrap(ctx, "open login page", err)
	}
	if err := fsutil.WriteFile(c.cfg.QRCodePath, shot, 0o644); err != nil {
		return statute.Credential{}, fmt.Errorf("save qr code: %w", err)
	}
	c.reporter.SetQRCode(c.cfg.QRCodePath)
	logger.Info("login qr code saved, waiting for scan", zap.String("path", c.cfg.QRCodePath))

	deadline := c.clock.Now().Add(c.cfg.WaitTimeout)
	for c.clock.Now().Before(deadline) {
		var location string
		if err := chromedp.Run(taskCtx, chromedp.Location(&location)); err != nil {
			return statute.Credential{}, c.wrap(ctx, "read location", err)
		}
		if loggedIn(location) {
			cred, ok, err := c.readCredential(taskCtx)
			if err != nil {
				return statute.Credential{}, c.wrap(ctx, "read storage", err)
			}
			if ok {
				return cred, nil
			}
			logger.Debug("left login page but no token in storage yet", zap.String("location", location))
		}
		if err := c.clock.Sleep(ctx, c.cfg.PollInterval); err != nil {
			return statute.Credential{}, err
		}
	}
	return statute.Credential{}, fmt.Errorf("wait for scan timed out after %s: %w", c.cfg.WaitTimeout, statute.ErrLoginFailed)
}

func (c *Chromedp) readCredential(ctx context.Context) (statute.Credential, bool, error) {
	storage := map[string]string{}
	if err := chromedp.Run(ctx, chromedp.Evaluate(storageDumpJS, &storage)); err != nil {
		return statute.Credential{}, false, fmt.Errorf("evaluate storage dump: %w", err)
	}
	token, key, ok := ExtractToken(storage)
	if !ok {
		return statute.Credential{}, false, nil
	}
	c.logger.Debug("token found in web storage", zap.String("key", key))
	return statute.Credential{
		Token:     token,
		UserLabel: ExtractUserLabel(storage),
		CreatedAt: c.clock.Now(),
	}, true, nil
}

func (c *Chromedp) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if c.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (c *Chromedp) wrap(ctx context.Context, step string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%s: %w: %v", step, statute.ErrLoginFailed, err)
}
