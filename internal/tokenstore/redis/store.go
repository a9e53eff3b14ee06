// Package redisstore implements the shared token pool on Redis lists.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default key names match the keys used by earlier tooling.
const (
	DefaultPoolKey    = "banklaw:tokens"
	DefaultPrimaryKey = "access_token"
)

// connectionTimeout bounds the initial ping.
const connectionTimeout = 5 * time.Second

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// ClientConfig holds Redis connection configuration.
type ClientConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, cfg ClientConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Config names the keys used by the Store.
type Config struct {
	PoolKey    string
	PrimaryKey string
	// PoolTTL is refreshed on the pool list after every push. Zero disables it.
	PoolTTL time.Duration
}

// Store is a statute.TokenStore backed by a Redis list plus a string key for
// the primary token. Each method is a single atomic Redis command.
type Store struct {
	client     redis.Cmdable
	poolKey    string
	primaryKey string
	poolTTL    time.Duration
}

// New wraps an existing client.
func New(client redis.Cmdable, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.PoolKey == "" {
		cfg.PoolKey = DefaultPoolKey
	}
	if cfg.PrimaryKey == "" {
		cfg.PrimaryKey = DefaultPrimaryKey
	}
	if cfg.PoolKey == cfg.PrimaryKey {
		return nil, fmt.Errorf("pool key and primary key must differ")
	}
	return &Store{
		client:     client,
		poolKey:    cfg.PoolKey,
		primaryKey: cfg.PrimaryKey,
		poolTTL:    cfg.PoolTTL,
	}, nil
}

// Push appends a record; with a pool TTL the list expiry is refreshed in the
// same transaction.
func (s *Store) Push(ctx context.Context, record string) error {
	if s.poolTTL <= 0 {
		if err := s.client.RPush(ctx, s.poolKey, record).Err(); err != nil {
			return fmt.Errorf("rpush %s: %w", s.poolKey, err)
		}
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.poolKey, record)
		pipe.Expire(ctx, s.poolKey, s.poolTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rpush %s: %w", s.poolKey, err)
	}
	return nil
}

// List returns every record in the pool.
func (s *Store) List(ctx context.Context) ([]string, error) {
	records, err := s.client.LRange(ctx, s.poolKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", s.poolKey, err)
	}
	return records, nil
}

// RemoveByValue removes all occurrences of record.
func (s *Store) RemoveByValue(ctx context.Context, record string) (int64, error) {
	n, err := s.client.LRem(ctx, s.poolKey, 0, record).Result()
	if err != nil {
		return 0, fmt.Errorf("lrem %s: %w", s.poolKey, err)
	}
	return n, nil
}

// Count returns the pool length.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, s.poolKey).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", s.poolKey, err)
	}
	return n, nil
}

// SetPrimary writes the primary token with an expiry (SET ... EX).
func (s *Store) SetPrimary(ctx context.Context, token string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.primaryKey, token, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.primaryKey, err)
	}
	return nil
}

// GetPrimary reads the primary token.
func (s *Store) GetPrimary(ctx context.Context) (string, bool, error) {
	val, err := s.client.Get(ctx, s.primaryKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", s.primaryKey, err)
	}
	return val, val != "", nil
}

// PrimaryTTL returns the remaining lifetime of the primary key. It reports
// false when the key is missing or has no expiry.
func (s *Store) PrimaryTTL(ctx context.Context) (time.Duration, bool, error) {
	ttl, err := s.client.TTL(ctx, s.primaryKey).Result()
	if err != nil {
		return 0, false, fmt.Errorf("ttl %s: %w", s.primaryKey, err)
	}
	if ttl < 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

// DeletePrimary removes the primary key.
func (s *Store) DeletePrimary(ctx context.Context) error {
	if err := s.client.Del(ctx, s.primaryKey).Err(); err != nil {
		return fmt.Errorf("del %s: %w", s.primaryKey, err)
	}
	return nil
}
