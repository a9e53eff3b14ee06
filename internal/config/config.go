// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/statute-crawler/internal/logging"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendLocal  = "local"
	BackendGCS    = "gcs"

	ProviderChromedp = "chromedp"
	ProviderStatic   = "static"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   logging.Config  `mapstructure:"logging"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Store     StoreConfig     `mapstructure:"store"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	API       APIConfig       `mapstructure:"api"`
	Login     LoginConfig     `mapstructure:"login"`
	Index     IndexConfig     `mapstructure:"index"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Server    ServerConfig    `mapstructure:"server"`
}

// RedisConfig locates the shared token store.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StoreConfig selects the token store backend and its keys.
type StoreConfig struct {
	Backend           string `mapstructure:"backend"`
	PoolKey           string `mapstructure:"pool_key"`
	PrimaryKey        string `mapstructure:"primary_key"`
	PoolTTLSeconds    int    `mapstructure:"pool_ttl_seconds"`
	PrimaryTTLSeconds int    `mapstructure:"primary_ttl_seconds"`
}

// PoolConfig governs replenishment of the token pool.
type PoolConfig struct {
	RequiredTokenCount         int `mapstructure:"required_token_count"`
	TokenTTLSeconds            int `mapstructure:"token_ttl_seconds"`
	MintPauseMinSeconds        int `mapstructure:"mint_pause_min_seconds"`
	MintPauseMaxSeconds        int `mapstructure:"mint_pause_max_seconds"`
	PrimaryRefreshBelowSeconds int `mapstructure:"primary_refresh_below_seconds"`
}

// ProbeConfig tunes token health probes.
type ProbeConfig struct {
	Page           int      `mapstructure:"page"`
	PageSize       int      `mapstructure:"page_size"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	QuotaMarkers   []string `mapstructure:"quota_markers"`
	CheckPageEcho  bool     `mapstructure:"check_page_echo"`
}

// SchedulerConfig governs the crawl loop.
type SchedulerConfig struct {
	EvictionThreshold     float64 `mapstructure:"eviction_threshold"`
	PassBackoffMinSeconds int     `mapstructure:"pass_backoff_min_seconds"`
	PassBackoffMaxSeconds int     `mapstructure:"pass_backoff_max_seconds"`
	ErrorBackoffSeconds   int     `mapstructure:"error_backoff_seconds"`
	NoTokenPauseSeconds   int     `mapstructure:"no_token_pause_seconds"`
	Concurrency           int     `mapstructure:"concurrency"`
	SkipArchived          bool    `mapstructure:"skip_archived"`
}

// APIConfig locates the statute API.
type APIConfig struct {
	SearchURL      string  `mapstructure:"search_url"`
	DetailURL      string  `mapstructure:"detail_url"`
	Origin         string  `mapstructure:"origin"`
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	FetchRate      float64 `mapstructure:"fetch_rate"`
	FetchBurst     int     `mapstructure:"fetch_burst"`
}

// LoginConfig selects and tunes the token minting flow.
type LoginConfig struct {
	Provider            string   `mapstructure:"provider"`
	URL                 string   `mapstructure:"url"`
	Headless            bool     `mapstructure:"headless"`
	QRCodePath          string   `mapstructure:"qrcode_path"`
	WaitTimeoutSeconds  int      `mapstructure:"wait_timeout_seconds"`
	PollIntervalSeconds int      `mapstructure:"poll_interval_seconds"`
	StaticTokens        []string `mapstructure:"static_tokens"`
}

// IndexConfig locates and builds month indexes.
type IndexConfig struct {
	Dir              string `mapstructure:"dir"`
	PageSize         int    `mapstructure:"page_size"`
	PageDelaySeconds int    `mapstructure:"page_delay_seconds"`
	MaxPages         int    `mapstructure:"max_pages"`
	BuildMissing     bool   `mapstructure:"build_missing"`
}

// ArchiveConfig selects where fetched documents go.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STATUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("store.backend", BackendRedis)
	v.SetDefault("store.pool_key", "banklaw:tokens")
	v.SetDefault("store.primary_key", "access_token")
	v.SetDefault("store.pool_ttl_seconds", 0)
	v.SetDefault("store.primary_ttl_seconds", 7200)
	v.SetDefault("pool.required_token_count", 3)
	v.SetDefault("pool.token_ttl_seconds", 7200)
	v.SetDefault("pool.mint_pause_min_seconds", 30)
	v.SetDefault("pool.mint_pause_max_seconds", 60)
	v.SetDefault("pool.primary_refresh_below_seconds", 600)
	v.SetDefault("probe.page", 1)
	v.SetDefault("probe.page_size", 1)
	v.SetDefault("probe.timeout_seconds", 10)
	v.SetDefault("probe.quota_markers", []string{"次数", "上限", "quota", "limit exceeded", "频繁"})
	v.SetDefault("probe.check_page_echo", true)
	v.SetDefault("scheduler.eviction_threshold", 0.5)
	v.SetDefault("scheduler.pass_backoff_min_seconds", 30)
	v.SetDefault("scheduler.pass_backoff_max_seconds", 60)
	v.SetDefault("scheduler.error_backoff_seconds", 5)
	v.SetDefault("scheduler.no_token_pause_seconds", 5)
	v.SetDefault("scheduler.concurrency", 1)
	v.SetDefault("scheduler.skip_archived", false)
	v.SetDefault("api.search_url", "https://api2.banklaw.com/search/v1/statutes/search")
	v.SetDefault("api.detail_url", "https://api2.banklaw.com/search/v1/statutes/{id}")
	v.SetDefault("api.origin", "https://www.banklaw.com")
	v.SetDefault("api.timeout_seconds", 15)
	v.SetDefault("api.fetch_rate", 1.0)
	v.SetDefault("api.fetch_burst", 1)
	v.SetDefault("login.provider", ProviderChromedp)
	v.SetDefault("login.url", "https://www.banklaw.com/login")
	v.SetDefault("login.headless", false)
	v.SetDefault("login.qrcode_path", "qrcode.png")
	v.SetDefault("login.wait_timeout_seconds", 300)
	v.SetDefault("login.poll_interval_seconds", 2)
	v.SetDefault("index.dir", "api_responses")
	v.SetDefault("index.page_size", 10)
	v.SetDefault("index.page_delay_seconds", 5)
	v.SetDefault("index.max_pages", 0)
	v.SetDefault("index.build_missing", false)
	v.SetDefault("archive.backend", BackendLocal)
	v.SetDefault("archive.dir", "downloaded_regulations")
	v.SetDefault("server.port", 5000)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.Redis.Address) == "" {
			return fmt.Errorf("redis.address is required for the redis store")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q", BackendMemory, BackendRedis)
	}
	if c.Store.PoolKey == "" || c.Store.PrimaryKey == "" {
		return fmt.Errorf("store.pool_key and store.primary_key must be set")
	}
	if c.Store.PoolKey == c.Store.PrimaryKey {
		return fmt.Errorf("store.pool_key and store.primary_key must differ")
	}
	if c.Pool.RequiredTokenCount < 1 {
		return fmt.Errorf("pool.required_token_count must be >= 1")
	}
	if c.Pool.MintPauseMinSeconds < 0 || c.Pool.MintPauseMaxSeconds < c.Pool.MintPauseMinSeconds {
		return fmt.Errorf("pool.mint_pause_min_seconds must be >= 0 and <= mint_pause_max_seconds")
	}
	if c.Probe.Page <= 0 {
		return fmt.Errorf("probe.page must be > 0")
	}
	if c.Probe.TimeoutSeconds <= 0 {
		return fmt.Errorf("probe.timeout_seconds must be > 0")
	}
	if c.Scheduler.EvictionThreshold <= 0 || c.Scheduler.EvictionThreshold > 1 {
		return fmt.Errorf("scheduler.eviction_threshold must be in (0, 1]")
	}
	if c.Scheduler.PassBackoffMinSeconds < 0 || c.Scheduler.PassBackoffMaxSeconds < c.Scheduler.PassBackoffMinSeconds {
		return fmt.Errorf("scheduler.pass_backoff_min_seconds must be >= 0 and <= pass_backoff_max_seconds")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if !strings.Contains(c.API.DetailURL, "{id}") {
		return fmt.Errorf("api.detail_url must contain the {id} placeholder")
	}
	switch c.Login.Provider {
	case ProviderChromedp:
	case ProviderStatic:
		if len(c.Login.StaticTokens) == 0 {
			return fmt.Errorf("login.static_tokens must be set for the static provider")
		}
	default:
		return fmt.Errorf("login.provider must be %q or %q", ProviderChromedp, ProviderStatic)
	}
	if c.Index.Dir == "" {
		return fmt.Errorf("index.dir must be set")
	}
	switch c.Archive.Backend {
	case BackendLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set for the local archive")
		}
	case BackendGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend must be %q or %q", BackendLocal, BackendGCS)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// TokenTTL is the lifetime stamped on minted credentials.
func (c PoolConfig) TokenTTL() time.Duration { return seconds(c.TokenTTLSeconds) }

// MintPauseMin is the shortest pause between two mints.
func (c PoolConfig) MintPauseMin() time.Duration { return seconds(c.MintPauseMinSeconds) }

// MintPauseMax is the longest pause between two mints.
func (c PoolConfig) MintPauseMax() time.Duration { return seconds(c.MintPauseMaxSeconds) }

// PrimaryRefreshBelow is the primary TTL under which a refresh is requested.
func (c PoolConfig) PrimaryRefreshBelow() time.Duration { return seconds(c.PrimaryRefreshBelowSeconds) }

// PoolTTL is the passive expiry of the pool list.
func (c StoreConfig) PoolTTL() time.Duration { return seconds(c.PoolTTLSeconds) }

// PrimaryTTL is the default lifetime of the primary slot.
func (c StoreConfig) PrimaryTTL() time.Duration { return seconds(c.PrimaryTTLSeconds) }

// Timeout bounds one probe call.
func (c ProbeConfig) Timeout() time.Duration { return seconds(c.TimeoutSeconds) }

// PassBackoff returns the bounds of the wait after a failed pass.
func (c SchedulerConfig) PassBackoff() (time.Duration, time.Duration) {
	return seconds(c.PassBackoffMinSeconds), seconds(c.PassBackoffMaxSeconds)
}

// ErrorBackoff is the wait after a hard error.
func (c SchedulerConfig) ErrorBackoff() time.Duration { return seconds(c.ErrorBackoffSeconds) }

// NoTokenPause is the wait before replenishing when no token is available.
func (c SchedulerConfig) NoTokenPause() time.Duration { return seconds(c.NoTokenPauseSeconds) }

// Timeout bounds one API call.
func (c APIConfig) Timeout() time.Duration { return seconds(c.TimeoutSeconds) }

// WaitTimeout bounds the wait for a QR scan.
func (c LoginConfig) WaitTimeout() time.Duration { return seconds(c.WaitTimeoutSeconds) }

// PollInterval is the delay between login state checks.
func (c LoginConfig) PollInterval() time.Duration { return seconds(c.PollIntervalSeconds) }

// PageDelay is the pause between two search pages.
func (c IndexConfig) PageDelay() time.Duration { return seconds(c.PageDelaySeconds) }
