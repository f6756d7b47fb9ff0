// Package cache provides the session cache: a fast, TTL-bounded projection of
// session id to access token used to keep the relational store off the
// request fast path. The cache is never authoritative. Absence does not
// imply the session does not exist, and entries are re-creatable
// artifacts repopulated from the store on miss.
//
// Redis keys are organized with prefixes to avoid collisions:
//   - session:cache:{sessionID} - cached session entries with TTL
//   - session:shop:{domain}     - most-recent session id pointer per shop
//
// All operations are context-aware. Token values are masked in logs.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/config"
	"github.com/teja230/storesight-sub006/internal/models"
)

const (
	entryKeyPrefix = "session:cache:"
	shopKeyPrefix  = "session:shop:"

	// MinTokenLengthForMasking is the minimum token length before masking is applied.
	MinTokenLengthForMasking = 8
)

// ErrCacheMiss is returned when a key does not exist in the cache.
// This is a sentinel error that callers can check to distinguish between
// a cache miss (expected) and an actual error (unexpected).
var ErrCacheMiss = errors.New("cache miss")

// Cache defines the session-cache operations shared by the Redis client and
// the in-memory fallback. Writers key entries by session identifier so
// concurrent writers never corrupt a different session's entry; writes are
// idempotent last-write-wins.
//
// Thread Safety: implementations must be safe for concurrent use.
type Cache interface {
	// Close gracefully closes the cache connection pool.
	Close() error

	// Ping verifies connectivity to the cache store.
	Ping(ctx context.Context) error

	// GetEntry retrieves a cached session entry by session ID.
	// Returns ErrCacheMiss if the entry is absent or its TTL elapsed.
	GetEntry(ctx context.Context, sessionID string) (*models.CacheEntry, error)

	// StoreEntry persists a session entry with the given TTL.
	// The entry automatically expires after the TTL elapses.
	StoreEntry(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) error

	// DeleteEntry removes a cached session entry.
	// Does not return an error if the entry doesn't exist.
	DeleteEntry(ctx context.Context, sessionID string) error

	// GetShopSessionID retrieves the most-recent session id pointer for a
	// shop domain. Returns ErrCacheMiss if absent.
	GetShopSessionID(ctx context.Context, shopDomain string) (string, error)

	// SetShopSessionID stores the most-recent session id pointer for a shop
	// domain with the given TTL.
	SetShopSessionID(ctx context.Context, shopDomain, sessionID string, ttl time.Duration) error

	// DeleteShopSessionID removes a shop's session id pointer.
	DeleteShopSessionID(ctx context.Context, shopDomain string) error
}

// Client is a Redis-backed Cache implementation. It provides thread-safe
// access with connection pooling and structured logging. All Redis errors
// are wrapped with contextual information.
type Client struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

// NewClient creates a new Redis cache client with the provided configuration.
// It establishes a connection pool, validates connectivity with an initial
// Ping, and returns a ready-to-use client.
func NewClient(cfg *config.RedisConfig, logger *logrus.Logger) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password // pragma: allowlist secret
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}

	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConn
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolTimeout = cfg.PoolTimeout
	opts.ConnMaxIdleTime = cfg.IdleTimeout

	rdb := redis.NewClient(opts)

	client := &Client{
		rdb:    rdb,
		logger: logger,
	}

	if pingErr := client.Ping(context.Background()); pingErr != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", pingErr)
	}

	logger.Info("Connected to Redis session cache")

	return client, nil
}

// Underlying exposes the raw Redis client for components that operate on the
// same connection pool, such as the rate-limiting middleware.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}

// Close gracefully shuts down the Redis client and closes all connections in the pool.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close Redis connection")
		return err
	}
	c.logger.Info("Redis connection closed")
	return nil
}

// Ping verifies connectivity to the Redis server.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// GetEntry retrieves a cached session entry by session ID.
func (c *Client) GetEntry(ctx context.Context, sessionID string) (*models.CacheEntry, error) {
	data, err := c.rdb.Get(ctx, entryKeyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get session entry: %w", err)
	}

	var entry models.CacheEntry
	if unmarshalErr := json.Unmarshal(data, &entry); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal session entry: %w", unmarshalErr)
	}

	c.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"shop":       entry.ShopDomain,
	}).Debug("Session cache hit")

	return &entry, nil
}

// StoreEntry persists a session entry with the given TTL.
func (c *Client) StoreEntry(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal session entry: %w", err)
	}

	if setErr := c.rdb.Set(ctx, entryKeyPrefix+entry.SessionID, data, ttl).Err(); setErr != nil {
		return fmt.Errorf("failed to store session entry: %w", setErr)
	}

	c.logger.WithFields(logrus.Fields{
		"session_id": entry.SessionID,
		"shop":       entry.ShopDomain,
		"token":      MaskToken(entry.AccessToken),
		"ttl":        ttl.String(),
	}).Debug("Session entry cached")

	return nil
}

// DeleteEntry removes a cached session entry.
func (c *Client) DeleteEntry(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, entryKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to delete session entry: %w", err)
	}
	return nil
}

// GetShopSessionID retrieves the most-recent session id pointer for a shop domain.
func (c *Client) GetShopSessionID(ctx context.Context, shopDomain string) (string, error) {
	id, err := c.rdb.Get(ctx, shopKeyPrefix+shopDomain).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("failed to get shop session pointer: %w", err)
	}
	return id, nil
}

// SetShopSessionID stores the most-recent session id pointer for a shop domain.
func (c *Client) SetShopSessionID(ctx context.Context, shopDomain, sessionID string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, shopKeyPrefix+shopDomain, sessionID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set shop session pointer: %w", err)
	}
	return nil
}

// DeleteShopSessionID removes a shop's session id pointer.
func (c *Client) DeleteShopSessionID(ctx context.Context, shopDomain string) error {
	if err := c.rdb.Del(ctx, shopKeyPrefix+shopDomain).Err(); err != nil {
		return fmt.Errorf("failed to delete shop session pointer: %w", err)
	}
	return nil
}

// MaskToken masks a token value for safe logging, keeping only the first and
// last two characters of sufficiently long tokens.
func MaskToken(token string) string {
	if len(token) < MinTokenLengthForMasking {
		return "****"
	}
	return token[:2] + "****" + token[len(token)-2:]
}
