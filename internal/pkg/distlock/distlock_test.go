package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "sqp-sync:weekly", 30*time.Second)

	ok, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !ok {
		t.Fatal("First Acquire() should succeed")
	}

	// A second holder must not acquire while we own the lock.
	other := NewRedisLock(client, "sqp-sync:weekly", 30*time.Second)
	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if ok {
		t.Error("Second holder acquired a held lock")
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
	if !ok {
		t.Error("Lock should be acquirable after release")
	}
}

func TestRedisLock_ReleaseOnlyIfOwned(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "sqp-sync:monthly", 30*time.Second)
	b := NewRedisLock(client, "sqp-sync:monthly", 30*time.Second)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("a should acquire")
	}

	// b never acquired; releasing must not free a's lock.
	if err := b.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	if ok, _ := b.Acquire(ctx); ok {
		t.Error("b acquired after releasing a lock it did not own")
	}
}

func TestRedisLock_Extend(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	lock := NewRedisLock(client, "sqp-sync:extend", 5*time.Second)
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}

	// Re-arm at the 3s mark; without it the lock would expire at 5s.
	mr.FastForward(3 * time.Second)
	if err := lock.Extend(ctx); err != nil {
		t.Fatalf("Extend() error: %v", err)
	}
	mr.FastForward(3 * time.Second)

	other := NewRedisLock(client, "sqp-sync:extend", 5*time.Second)
	if ok, _ := other.Acquire(ctx); ok {
		t.Error("extended lock should still be held past the original TTL")
	}

	// A non-owner Extend must not re-arm someone else's lock.
	if err := other.Extend(ctx); err != nil {
		t.Errorf("non-owner Extend() error: %v", err)
	}
	mr.FastForward(4 * time.Second)
	if ok, _ := other.Acquire(ctx); !ok {
		t.Error("lock should expire on the owner's schedule, not the stranger's")
	}
}

func TestNewLock_BackendSelection(t *testing.T) {
	client := setupRedis(t)

	if _, ok := NewLock(client, nil, "k", time.Second).(*RedisLock); !ok {
		t.Error("Expected Redis backend when a Redis client is configured")
	}
	if _, ok := NewLock(nil, nil, "k", time.Second).(*PGAdvisoryLock); !ok {
		t.Error("Expected PG advisory fallback without Redis")
	}
}

func TestPGAdvisoryLock_DeterministicID(t *testing.T) {
	a := NewPGAdvisoryLock(nil, "sqp-sync:weekly")
	b := NewPGAdvisoryLock(nil, "sqp-sync:weekly")
	c := NewPGAdvisoryLock(nil, "sqp-sync:monthly")

	if a.lockID != b.lockID {
		t.Error("Same key should produce the same advisory lock ID")
	}
	if a.lockID == c.lockID {
		t.Error("Different keys should produce different advisory lock IDs")
	}
}
