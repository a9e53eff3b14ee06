// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/statute-crawler/internal/archive/gcs"
	"github.com/JakeFAU/statute-crawler/internal/archive/local"
	"github.com/JakeFAU/statute-crawler/internal/banklaw"
	"github.com/JakeFAU/statute-crawler/internal/clock/system"
	"github.com/JakeFAU/statute-crawler/internal/config"
	"github.com/JakeFAU/statute-crawler/internal/index"
	"github.com/JakeFAU/statute-crawler/internal/login"
	"github.com/JakeFAU/statute-crawler/internal/pool"
	"github.com/JakeFAU/statute-crawler/internal/probe"
	"github.com/JakeFAU/statute-crawler/internal/scheduler"
	"github.com/JakeFAU/statute-crawler/internal/statute"
	"github.com/JakeFAU/statute-crawler/internal/tokenstore/memory"
	redisstore "github.com/JakeFAU/statute-crawler/internal/tokenstore/redis"
)

// App holds the shared services of one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  statute.Clock

	store    statute.TokenStore
	client   *banklaw.Client
	prober   *probe.Prober
	minter   statute.LoginProvider
	reporter *login.StatusReporter
	pool     *pool.Manager
	archive  statute.DocumentWriter
	builder  *index.Builder

	closers []func() error
}

// GCSClientFactory opens a storage client. Tests swap it for one pointed at a
// fake endpoint.
var GCSClientFactory = func(ctx context.Context) (*storage.Client, error) {
	return storage.NewClient(ctx)
}

// New wires every service from cfg. It fails fast when a backend cannot be
// reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}

	if err := a.initStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.client = banklaw.New(banklaw.Config{
		SearchURL: cfg.API.SearchURL,
		DetailURL: cfg.API.DetailURL,
		Origin:    cfg.API.Origin,
		UserAgent: cfg.API.UserAgent,
		Timeout:   cfg.API.Timeout(),
	})

	a.prober = probe.New(a.client, a.clock, probe.Config{
		Page:     cfg.Probe.Page,
		PageSize: cfg.Probe.PageSize,
		Timeout:  cfg.Probe.Timeout(),
		Policy: probe.Policy{
			QuotaMarkers:  cfg.Probe.QuotaMarkers,
			CheckPageEcho: cfg.Probe.CheckPageEcho,
		},
	}, logger)

	a.initLogin()

	a.pool = pool.New(a.store, a.prober, a.minter, a.clock, pool.Config{
		RequiredTokenCount:  cfg.Pool.RequiredTokenCount,
		TokenTTL:            cfg.Pool.TokenTTL(),
		MintPauseMin:        cfg.Pool.MintPauseMin(),
		MintPauseMax:        cfg.Pool.MintPauseMax(),
		PrimaryTTL:          cfg.Store.PrimaryTTL(),
		PrimaryRefreshBelow: cfg.Pool.PrimaryRefreshBelow(),
	}, logger)

	if err := a.initArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.builder = index.NewBuilder(a.client, a.clock, index.BuilderConfig{
		Dir:       cfg.Index.Dir,
		PageSize:  cfg.Index.PageSize,
		PageDelay: cfg.Index.PageDelay(),
		MaxPages:  cfg.Index.MaxPages,
	}, logger)

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Backend),
		zap.String("login", cfg.Login.Provider),
		zap.String("archive", cfg.Archive.Backend),
	)
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.BackendMemory:
		a.logger.Warn("using in-memory token store; tokens are lost on exit")
		a.store = memory.New()
	case config.BackendRedis:
		client, err := redisstore.NewClient(ctx, redisstore.ClientConfig{
			Address:  a.cfg.Redis.Address,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("init token store: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := newRedisStore(client, a.cfg.Store)
		if err != nil {
			return fmt.Errorf("init token store: %w", err)
		}
		a.store = store
	default:
		return fmt.Errorf("unknown store backend: %s", a.cfg.Store.Backend)
	}
	return nil
}

func newRedisStore(client goredis.Cmdable, cfg config.StoreConfig) (*redisstore.Store, error) {
	return redisstore.New(client, redisstore.Config{
		PoolKey:    cfg.PoolKey,
		PrimaryKey: cfg.PrimaryKey,
		PoolTTL:    cfg.PoolTTL(),
	})
}

func (a *App) initLogin() {
	switch a.cfg.Login.Provider {
	case config.ProviderStatic:
		a.minter = login.NewStatic(a.cfg.Login.StaticTokens)
	default:
		a.reporter = login.NewStatusReporter()
		browser := login.NewChromedp(login.Config{
			LoginURL:     a.cfg.Login.URL,
			Headless:     a.cfg.Login.Headless,
			QRCodePath:   a.cfg.Login.QRCodePath,
			WaitTimeout:  a.cfg.Login.WaitTimeout(),
			PollInterval: a.cfg.Login.PollInterval(),
			UserAgent:    a.cfg.API.UserAgent,
		}, a.clock, a.reporter, a.logger)
		a.closers = append(a.closers, func() error {
			browser.Close()
			return nil
		})
		a.minter = browser
	}
}

func (a *App) initArchive(ctx context.Context) error {
	switch a.cfg.Archive.Backend {
	case config.BackendGCS:
		client, err := GCSClientFactory(ctx)
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		w, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.Bucket, Prefix: a.cfg.Archive.Prefix})
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		a.archive = w
	case config.BackendLocal:
		w, err := local.New(local.Config{BaseDir: a.cfg.Archive.Dir})
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		a.archive = w
	default:
		return fmt.Errorf("unknown archive backend: %s", a.cfg.Archive.Backend)
	}
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Pool returns the credential pool manager.
func (a *App) Pool() *pool.Manager { return a.pool }

// Prober returns the token health prober.
func (a *App) Prober() *probe.Prober { return a.prober }

// Builder returns the month index builder.
func (a *App) Builder() *index.Builder { return a.builder }

// Archive returns the document writer.
func (a *App) Archive() statute.DocumentWriter { return a.archive }

// LoginStatus returns the QR login reporter, or nil for providers without one.
func (a *App) LoginStatus() *login.StatusReporter { return a.reporter }

// Enumerator lists targets from the index directory. With skip_archived set,
// targets already in the archive are left out.
func (a *App) Enumerator() *index.Enumerator {
	var skip index.SkipFunc
	if a.cfg.Scheduler.SkipArchived {
		skip = a.archive.Exists
	}
	return index.NewEnumerator(a.cfg.Index.Dir, skip, a.logger)
}

// Scheduler builds a crawl scheduler over the shared services.
func (a *App) Scheduler(force bool) *scheduler.Scheduler {
	lo, hi := a.cfg.Scheduler.PassBackoff()
	cfg := scheduler.Config{
		EvictionThreshold: a.cfg.Scheduler.EvictionThreshold,
		PassBackoffMin:    lo,
		PassBackoffMax:    hi,
		ErrorBackoff:      a.cfg.Scheduler.ErrorBackoff(),
		NoTokenPause:      a.cfg.Scheduler.NoTokenPause(),
		FetchRate:         a.cfg.API.FetchRate,
		FetchBurst:        a.cfg.API.FetchBurst,
		Concurrency:       a.cfg.Scheduler.Concurrency,
		Force:             force,
	}
	var opts []scheduler.Option
	if a.cfg.Index.BuildMissing {
		opts = append(opts, scheduler.WithIndexer(a.builder))
	}
	return scheduler.New(a.pool, a.Enumerator(), a.client, a.archive, a.clock, cfg, a.logger, opts...)
}

// Close releases backend connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	// Sync errors on stderr are expected and ignored.
	_ = a.logger.Sync()
}
