package core

// limiter.go bounds how many parses and commits run at once.
//
// Parses and commits share one pool of slots; each slot remembers which
// operation holds it so health checks can tell a burst of uploads from a
// backlog of confirms. When all slots are taken, callers wait up to maxWait
// and then fail with ErrTooManyImports.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyImports is returned when all import slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyImports = errors.New("too many imports in progress, please try again later")

// DefaultMaxConcurrentImports is the default limit for parallel imports.
const DefaultMaxConcurrentImports = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// ImportOp names the work a slot is held for.
type ImportOp string

const (
	OpParse  ImportOp = "parse"
	OpCommit ImportOp = "commit"
)

// ImportLimiter controls concurrent import processing using a semaphore.
type ImportLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu       sync.Mutex
	held     map[ImportOp]int
	waiting  int
	rejected int64
	drained  chan struct{} // closed while nothing is held
}

// NewImportLimiter creates a limiter that allows at most maxConcurrent
// simultaneous imports. Non-positive arguments fall back to the defaults.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	drained := make(chan struct{})
	close(drained)
	return &ImportLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		held:      make(map[ImportOp]int, 2),
		drained:   drained,
	}
}

// Acquire waits for a slot for op. The returned release func frees it and
// is safe to call more than once.
func (l *ImportLimiter) Acquire(ctx context.Context, op ImportOp) (func(), error) {
	if release, ok := l.TryAcquire(op); ok {
		return release, nil
	}

	l.mu.Lock()
	l.waiting++
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.waiting--
		l.mu.Unlock()
		return l.take(op), nil
	case <-waitCtx.Done():
		l.mu.Lock()
		l.waiting--
		if ctx.Err() == nil {
			l.rejected++
		}
		l.mu.Unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTooManyImports
	}
}

// TryAcquire takes a slot for op without blocking.
func (l *ImportLimiter) TryAcquire(op ImportOp) (func(), bool) {
	select {
	case l.semaphore <- struct{}{}:
		return l.take(op), true
	default:
		return nil, false
	}
}

// take records a slot already pushed onto the semaphore.
func (l *ImportLimiter) take(op ImportOp) func() {
	l.mu.Lock()
	if l.active() == 0 {
		l.drained = make(chan struct{})
	}
	l.held[op]++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.held[op]--
			if l.active() == 0 {
				close(l.drained)
			}
			l.mu.Unlock()
			<-l.semaphore
		})
	}
}

// active must be called with mu held.
func (l *ImportLimiter) active() int {
	n := 0
	for _, c := range l.held {
		n += c
	}
	return n
}

// WaitForDrain blocks until every held slot is released or ctx is done.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	drained := l.drained
	l.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LimiterStatus is a snapshot of the limiter's state.
type LimiterStatus struct {
	Active        int   `json:"active"`
	Parsing       int   `json:"parsing"`
	Committing    int   `json:"committing"`
	Waiting       int   `json:"waiting"`
	Available     int   `json:"available"`
	MaxConcurrent int   `json:"max_concurrent"`
	Rejected      int64 `json:"rejected"`
}

// Status returns the current limiter state for monitoring.
func (l *ImportLimiter) Status() LimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	active := l.active()
	return LimiterStatus{
		Active:        active,
		Parsing:       l.held[OpParse],
		Committing:    l.held[OpCommit],
		Waiting:       l.waiting,
		Available:     cap(l.semaphore) - active,
		MaxConcurrent: cap(l.semaphore),
		Rejected:      l.rejected,
	}
}
