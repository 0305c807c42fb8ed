package dialer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleetcall/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Guard keeps dispatch work single-flight across concurrent trigger
// invocations: one batch run at a time, one in-flight dial per
// recipient. It is an optimization on top of the store's conditional
// claim, which remains the correctness guarantee — so guard failures
// degrade open rather than blocking dispatch.
//
// Acquire returns the release paired with that acquisition. A caller
// admitted without actually holding the lock gets a no-op release, so
// it can never free a lock another invocation legitimately holds.
type Guard interface {
	AcquireRun(ctx context.Context) (release func(), ok bool)
	AcquireRecipient(ctx context.Context, id string) (release func(), ok bool)
}

// RedisGuard implements Guard on TTL-bounded redis locks, so locks
// leaked by a crashed process expire on their own.
type RedisGuard struct {
	rdb *redis.Client

	// RunTTL bounds a whole batch run; RecipientTTL bounds one dial.
	RunTTL       time.Duration
	RecipientTTL time.Duration

	acquire func(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error)
	release func(ctx context.Context, rdb *redis.Client, key string) error
}

func NewRedisGuard(rdb *redis.Client) *RedisGuard {
	return &RedisGuard{
		rdb:          rdb,
		RunTTL:       2 * time.Minute,
		RecipientTTL: 90 * time.Second,
		acquire:      utils.AcquireLock,
		release:      utils.ReleaseLock,
	}
}

const (
	runLockKey          = "dialer:run"
	recipientLockPrefix = "dialer:recipient:"
)

func noopRelease() {}

func (g *RedisGuard) AcquireRun(ctx context.Context) (func(), bool) {
	return g.lock(ctx, runLockKey, g.RunTTL, "dispatch run")
}

func (g *RedisGuard) AcquireRecipient(ctx context.Context, id string) (func(), bool) {
	return g.lock(ctx, recipientLockPrefix+id, g.RecipientTTL, "recipient dial")
}

func (g *RedisGuard) lock(ctx context.Context, key string, ttl time.Duration, what string) (func(), bool) {
	ok, err := g.acquire(ctx, g.rdb, key, ttl)
	if err != nil {
		// Degrade open, but the lock was never taken: the release must
		// not touch redis, or it would free another invocation's lock.
		slog.Warn(what+" lock unavailable, proceeding", "key", key, "err", err)
		return noopRelease, true
	}
	if !ok {
		return noopRelease, false
	}
	return func() {
		if err := g.release(ctx, g.rdb, key); err != nil {
			slog.Warn(what+" lock release failed", "key", key, "err", err)
		}
	}, true
}

// MemoryGuard is the single-process Guard used in tests and local runs
// without redis.
type MemoryGuard struct {
	mu         sync.Mutex
	run        bool
	recipients map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{recipients: map[string]struct{}{}}
}

func (g *MemoryGuard) AcquireRun(ctx context.Context) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.run {
		return noopRelease, false
	}
	g.run = true
	return func() {
		g.mu.Lock()
		g.run = false
		g.mu.Unlock()
	}, true
}

func (g *MemoryGuard) AcquireRecipient(ctx context.Context, id string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.recipients[id]; held {
		return noopRelease, false
	}
	g.recipients[id] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.recipients, id)
		g.mu.Unlock()
	}, true
}
