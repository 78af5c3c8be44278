// Package lock provides advisory record locks shared between processes that
// reconcile the same ledger.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/service"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed holder can block a record.
const DefaultTTL = 30 * time.Second

const keyPrefix = "tally:lock:"

var (
	_ service.Locker = (*RedisLocker)(nil)
	_ service.Locker = NoopLocker{}
)

// obtainFunc acquires one key and returns the func that releases it.
type obtainFunc func(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)

// RedisLocker locks record keys in redis. Keys are acquired in sorted order
// and never retried: a key held elsewhere means another operator is working
// on the same record right now.
type RedisLocker struct {
	obtain obtainFunc
	ttl    time.Duration
}

// NewRedisLocker creates a locker on top of an existing redis client.
func NewRedisLocker(client redislock.RedisClient, ttl time.Duration) *RedisLocker {
	locker := redislock.New(client)
	return newLocker(func(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
		held, err := locker.Obtain(ctx, key, ttl, nil)
		if err != nil {
			return nil, err
		}
		return held.Release, nil
	}, ttl)
}

func newLocker(obtain obtainFunc, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{obtain: obtain, ttl: ttl}
}

// Dial connects to redis at addr and returns a locker with a close func for the client.
func Dial(ctx context.Context, addr string, ttl time.Duration) (*RedisLocker, func() error, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	slog.Debug("Connected to redis", "addr", addr)
	return NewRedisLocker(client, ttl), client.Close, nil
}

// Lock acquires every key or none.
func (l *RedisLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var releases []func(context.Context) error
	releaseAll := func() {
		// Release with a fresh context so a cancelled caller still frees its keys.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(releases) - 1; i >= 0; i-- {
			if err := releases[i](releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				slog.Warn("Failed to release record lock", "error", err)
			}
		}
	}

	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		release, err := l.obtain(ctx, keyPrefix+key, l.ttl)
		if err != nil {
			releaseAll()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, &common.ConflictError{RecordIDs: []string{recordID(key)}}
			}
			return nil, common.NewPersistenceError("obtain record lock", err)
		}
		releases = append(releases, release)
	}

	return releaseAll, nil
}

// recordID strips the kind prefix from a lock key.
func recordID(key string) string {
	if _, id, ok := strings.Cut(key, ":"); ok {
		return id
	}
	return key
}

// NoopLocker never blocks. It serves single-process setups where the
// store's own transactions are enough.
type NoopLocker struct{}

// Lock always succeeds.
func (NoopLocker) Lock(context.Context, []string) (func(), error) {
	return func() {}, nil
}
