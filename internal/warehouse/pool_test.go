package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPool_AcquireRelease(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	pool := NewPool(db, 2, 0)
	ctx := context.Background()

	c1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	c2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire() error: %v", err)
	}

	// Pool at capacity: third checkout must block until release or timeout.
	blockCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(blockCtx); err == nil {
		t.Fatal("Acquire() beyond capacity should block until ctx expires")
	}

	pool.Release(c1)

	c3, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
	if c3 != c1 {
		t.Error("Released connection should be reused")
	}

	pool.Release(c2)
	pool.Release(c3)
}

func TestPool_Drain(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	pool := NewPool(db, 2, 0)
	ctx := context.Background()

	c1, _ := pool.Acquire(ctx)
	pool.Release(c1)

	if err := pool.Drain(ctx); err != nil {
		t.Fatalf("Drain() error: %v", err)
	}

	if _, err := pool.Acquire(ctx); err == nil {
		t.Error("Acquire() after Drain() should fail")
	}

	// Drain is idempotent.
	if err := pool.Drain(ctx); err != nil {
		t.Errorf("second Drain() error: %v", err)
	}
}

func TestPool_DrainWaitsForInFlight(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	pool := NewPool(db, 1, 0)
	ctx := context.Background()

	conn, _ := pool.Acquire(ctx)

	drainCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := pool.Drain(drainCtx); err == nil {
		t.Error("Drain() with a connection in flight should time out")
	}

	pool.Release(conn)
}

func TestPool_IdleEviction(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	pool := NewPool(db, 1, 20*time.Millisecond)
	ctx := context.Background()

	c1, _ := pool.Acquire(ctx)
	pool.Release(c1)

	time.Sleep(60 * time.Millisecond)

	// The stale idle connection was evicted; a fresh one is opened lazily.
	c2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() after eviction error: %v", err)
	}
	pool.Release(c2)
	pool.Drain(ctx)
}
