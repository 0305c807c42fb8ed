package dialer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryGuardRunIsExclusive(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	release, ok := g.AcquireRun(ctx)
	if !ok {
		t.Fatalf("first acquire failed")
	}
	if _, ok := g.AcquireRun(ctx); ok {
		t.Fatalf("second acquire should fail while held")
	}
	release()
	if _, ok := g.AcquireRun(ctx); !ok {
		t.Fatalf("acquire after release failed")
	}
}

func TestMemoryGuardRecipientLocksAreIndependent(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	release, ok := g.AcquireRecipient(ctx, "r1")
	if !ok {
		t.Fatalf("r1 acquire failed")
	}
	if _, ok := g.AcquireRecipient(ctx, "r1"); ok {
		t.Fatalf("r1 double acquire")
	}
	if _, ok := g.AcquireRecipient(ctx, "r2"); !ok {
		t.Fatalf("r2 should be independent of r1")
	}
	release()
	if _, ok := g.AcquireRecipient(ctx, "r1"); !ok {
		t.Fatalf("r1 acquire after release failed")
	}
}

// stubbedRedisGuard wires a RedisGuard to in-test lock functions so the
// degrade-open path can run without redis.
func stubbedRedisGuard(acquire func(key string) (bool, error), released *[]string) *RedisGuard {
	g := NewRedisGuard(nil)
	g.acquire = func(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
		return acquire(key)
	}
	g.release = func(ctx context.Context, rdb *redis.Client, key string) error {
		*released = append(*released, key)
		return nil
	}
	return g
}

func TestRedisGuardReleasesOnlyLocksItAcquired(t *testing.T) {
	ctx := context.Background()
	var released []string
	g := stubbedRedisGuard(func(string) (bool, error) { return true, nil }, &released)

	release, ok := g.AcquireRun(ctx)
	if !ok {
		t.Fatalf("acquire failed")
	}
	release()
	if len(released) != 1 || released[0] != runLockKey {
		t.Fatalf("released = %v, want [%s]", released, runLockKey)
	}

	released = released[:0]
	release, ok = g.AcquireRecipient(ctx, "r1")
	if !ok {
		t.Fatalf("recipient acquire failed")
	}
	release()
	if len(released) != 1 || released[0] != recipientLockPrefix+"r1" {
		t.Fatalf("released = %v, want [%s]", released, recipientLockPrefix+"r1")
	}
}

func TestRedisGuardDegradeOpenSkipsRelease(t *testing.T) {
	// A redis error admits the caller without the lock; its release must
	// not free a lock a concurrent invocation may hold.
	ctx := context.Background()
	var released []string
	g := stubbedRedisGuard(func(string) (bool, error) { return false, errors.New("redis down") }, &released)

	release, ok := g.AcquireRun(ctx)
	if !ok {
		t.Fatalf("degraded acquire should admit the caller")
	}
	release()

	release, ok = g.AcquireRecipient(ctx, "r1")
	if !ok {
		t.Fatalf("degraded recipient acquire should admit the caller")
	}
	release()

	if len(released) != 0 {
		t.Fatalf("released = %v, want none", released)
	}
}

func TestRedisGuardContendedSkipsRelease(t *testing.T) {
	ctx := context.Background()
	var released []string
	g := stubbedRedisGuard(func(string) (bool, error) { return false, nil }, &released)

	release, ok := g.AcquireRun(ctx)
	if ok {
		t.Fatalf("contended acquire should refuse the caller")
	}
	release()
	if len(released) != 0 {
		t.Fatalf("released = %v, want none", released)
	}
}
