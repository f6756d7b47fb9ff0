// Package cache provides storage implementations for the session cache.
// This file implements an in-memory store that implements the same Cache
// interface as the Redis client, allowing for local development without a
// Redis dependency.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/models"
)

const (
	// CleanupInterval is the interval between expired item cleanup runs.
	CleanupInterval = 5 * time.Minute
)

// MemoryStore is an in-memory implementation of the Cache interface.
// It provides the same functionality as the Redis cache but without
// persistence. All data is stored in memory with TTL support via a
// background cleanup goroutine.
type MemoryStore struct {
	entries      map[string]*expiringItem[*models.CacheEntry]
	shopPointers map[string]*expiringItem[string]
	logger       *logrus.Logger
	mu           sync.RWMutex
	stopCleanup  chan struct{}
	stopOnce     sync.Once
}

// expiringItem wraps data with expiration time for TTL support.
type expiringItem[T any] struct {
	Data      T
	ExpiresAt time.Time
}

// isExpired checks if the item has expired.
func (e *expiringItem[T]) isExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// NewMemoryStore creates a new in-memory cache with TTL cleanup.
func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	store := &MemoryStore{
		entries:      make(map[string]*expiringItem[*models.CacheEntry]),
		shopPointers: make(map[string]*expiringItem[string]),
		logger:       logger,
		stopCleanup:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go store.cleanupExpiredItems()

	logger.Info("In-memory session cache initialized with TTL cleanup")
	return store
}

// cleanupExpiredItems runs periodically to remove expired items.
func (m *MemoryStore) cleanupExpiredItems() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup removes all expired entries under the write lock.
func (m *MemoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, item := range m.entries {
		if item.isExpired() {
			delete(m.entries, key)
			removed++
		}
	}
	for key, item := range m.shopPointers {
		if item.isExpired() {
			delete(m.shopPointers, key)
			removed++
		}
	}

	if removed > 0 {
		m.logger.WithField("removed", removed).Debug("Cleaned up expired cache items")
	}
}

// Close stops the cleanup goroutine and releases all entries.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopCleanup)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*expiringItem[*models.CacheEntry])
	m.shopPointers = make(map[string]*expiringItem[string])

	m.logger.Info("In-memory session cache closed")
	return nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// GetEntry retrieves a cached session entry by session ID.
func (m *MemoryStore) GetEntry(_ context.Context, sessionID string) (*models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.entries[sessionID]
	if !ok || item.isExpired() {
		return nil, ErrCacheMiss
	}

	// Copy so callers never share the cached struct.
	entry := *item.Data
	return &entry, nil
}

// StoreEntry persists a session entry with the given TTL.
func (m *MemoryStore) StoreEntry(_ context.Context, entry *models.CacheEntry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *entry
	m.entries[entry.SessionID] = &expiringItem[*models.CacheEntry]{
		Data:      &clone,
		ExpiresAt: time.Now().Add(ttl),
	}
	return nil
}

// DeleteEntry removes a cached session entry.
func (m *MemoryStore) DeleteEntry(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, sessionID)
	return nil
}

// GetShopSessionID retrieves the most-recent session id pointer for a shop domain.
func (m *MemoryStore) GetShopSessionID(_ context.Context, shopDomain string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.shopPointers[shopDomain]
	if !ok || item.isExpired() {
		return "", ErrCacheMiss
	}
	return item.Data, nil
}

// SetShopSessionID stores the most-recent session id pointer for a shop domain.
func (m *MemoryStore) SetShopSessionID(_ context.Context, shopDomain, sessionID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shopPointers[shopDomain] = &expiringItem[string]{
		Data:      sessionID,
		ExpiresAt: time.Now().Add(ttl),
	}
	return nil
}

// DeleteShopSessionID removes a shop's session id pointer.
func (m *MemoryStore) DeleteShopSessionID(_ context.Context, shopDomain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.shopPointers, shopDomain)
	return nil
}
