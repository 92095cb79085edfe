// SPDX-License-Identifier: MIT

// Package locks provides cluster-wide mutual exclusion per
// (operation, resource-id) pair, backed by the shared key-value store.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Operations guarded by task locks.
const (
	OpRefreshSource = "refresh_single_source"
	OpRefreshGroups = "refresh_source_groups"
	OpRehashStreams = "rehash_streams"
)

// ErrContended is returned when another worker already holds the lock.
var ErrContended = errors.New("locks: lock held by another worker")

// Manager acquires and releases task locks.
type Manager struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewManager returns a lock manager. ttl bounds the expected upper duration
// of any guarded operation so crashed holders cannot wedge the cluster.
func NewManager(rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{rdb: rdb, ttl: ttl, logger: logger}
}

// Lock is a held task lock. Release it in a deferred call.
type Lock struct {
	mgr *Manager
	key string
}

func key(op string, resourceID int64) string {
	return fmt.Sprintf("lock:%s:%d", op, resourceID)
}

// Acquire attempts an atomic set-if-absent with TTL. It returns ErrContended
// without blocking when the lock is already held.
func (m *Manager) Acquire(ctx context.Context, op string, resourceID int64) (*Lock, error) {
	k := key(op, resourceID)
	ok, err := m.rdb.SetNX(ctx, k, time.Now().UTC().Format(time.RFC3339), m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("locks: acquire %s: %w", k, err)
	}
	if !ok {
		return nil, ErrContended
	}
	m.logger.Debug().Str("key", k).Msg("lock acquired")
	return &Lock{mgr: m, key: k}, nil
}

// Held reports whether any worker currently holds the lock.
func (m *Manager) Held(ctx context.Context, op string, resourceID int64) (bool, error) {
	n, err := m.rdb.Exists(ctx, key(op, resourceID)).Result()
	if err != nil {
		return false, fmt.Errorf("locks: exists: %w", err)
	}
	return n > 0, nil
}

// Release deletes the lock unconditionally.
func (l *Lock) Release(ctx context.Context) {
	if l == nil {
		return
	}
	if err := l.mgr.rdb.Del(ctx, l.key).Err(); err != nil {
		l.mgr.logger.Warn().Err(err).Str("key", l.key).Msg("lock release failed")
		return
	}
	l.mgr.logger.Debug().Str("key", l.key).Msg("lock released")
}

// ReleaseAll releases every lock in the slice, tolerating nil entries.
func ReleaseAll(ctx context.Context, held []*Lock) {
	for _, l := range held {
		l.Release(ctx)
	}
}
