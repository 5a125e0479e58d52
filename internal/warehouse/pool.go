package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Pool manages a bounded set of checked-out warehouse connections on top of
// database/sql. Acquire blocks while the pool is at capacity; connections
// idle past the timeout are proactively closed and replaced lazily on the
// next Acquire. Connections are never shared by two callers at once.
type Pool struct {
	db          *sql.DB
	slots       chan struct{}
	idleTimeout time.Duration

	mu      sync.Mutex
	idle    []idleConn
	drained bool
	done    chan struct{}
}

type idleConn struct {
	conn  *sql.Conn
	since time.Time
}

// NewPool creates a pool over db with the given capacity and idle timeout.
func NewPool(db *sql.DB, maxConnections int, idleTimeout time.Duration) *Pool {
	if maxConnections <= 0 {
		maxConnections = 5
	}
	p := &Pool{
		db:          db,
		slots:       make(chan struct{}, maxConnections),
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
	}
	if idleTimeout > 0 {
		go p.evictLoop()
	}
	return p
}

// Acquire checks out a connection, blocking while the pool is at capacity
// or until ctx is done. A drained pool rejects the checkout immediately;
// Drain holds every slot, so blocking on one would never return.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, fmt.Errorf("pool is drained")
	}

	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		<-p.slots
		return nil, fmt.Errorf("pool is drained")
	}
	// Reuse the freshest idle connection; evict any that sat too long.
	for len(p.idle) > 0 {
		ic := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.idleTimeout > 0 && time.Since(ic.since) > p.idleTimeout {
			ic.conn.Close()
			continue
		}
		p.mu.Unlock()
		return ic.conn, nil
	}
	p.mu.Unlock()

	conn, err := p.db.Conn(ctx)
	if err != nil {
		<-p.slots
		return nil, fmt.Errorf("open warehouse connection: %w", err)
	}
	return conn, nil
}

// Release checks a connection back in. A nil conn only frees the slot.
func (p *Pool) Release(conn *sql.Conn) {
	p.mu.Lock()
	if conn != nil {
		if p.drained {
			conn.Close()
		} else {
			p.idle = append(p.idle, idleConn{conn: conn, since: time.Now()})
		}
	}
	p.mu.Unlock()
	<-p.slots
}

// Drain waits for in-flight checkouts to finish, then closes all idle
// connections. The pool rejects new Acquires afterwards.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		return nil
	}
	p.drained = true
	close(p.done)
	p.mu.Unlock()

	// Claim every slot so no checkout is still in flight.
	for i := 0; i < cap(p.slots); i++ {
		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("drain interrupted with connections in flight: %w", ctx.Err())
		}
	}

	p.mu.Lock()
	for _, ic := range p.idle {
		ic.conn.Close()
	}
	p.idle = nil
	p.mu.Unlock()
	return nil
}

func (p *Pool) evictLoop() {
	ticker := time.NewTicker(p.idleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.evictStale()
		}
	}
}

func (p *Pool) evictStale() {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.idle[:0]
	for _, ic := range p.idle {
		if time.Since(ic.since) > p.idleTimeout {
			ic.conn.Close()
			continue
		}
		kept = append(kept, ic)
	}
	p.idle = kept
}
