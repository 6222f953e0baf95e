// Package ratelimit throttles repeated downloads of one attachment by one
// identity. Windows live in a bounded LRU arena and are dropped by a
// periodic sweep once idle for longer than the retention.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/attachkeeper/internal/logging"
	lru "github.com/hashicorp/golang-lru/v2"
)

type window struct {
	count      int
	lastAccess time.Time
}

// Limiter counts hits per identity and handle. A window admits max hits;
// further hits are denied until the window is swept. Denied hits do not
// refresh the window, so a throttled client regains access once retention
// has passed since its last admitted hit.
//
// The arena never evicts: while it is full, hits on keys without a window
// are denied until a sweep frees room, and existing windows keep counting.
type Limiter struct {
	mu        sync.Mutex
	windows   *lru.Cache[string, *window]
	capacity  int
	max       int
	retention time.Duration
	now       func() time.Time
	logger    logging.Logger
}

func New(max int, retention time.Duration, capacity int, logger logging.Logger) (*Limiter, error) {
	if max <= 0 {
		return nil, fmt.Errorf("max requests must be positive, got %d", max)
	}
	cache, err := lru.New[string, *window](capacity)
	if err != nil {
		return nil, fmt.Errorf("rate limit arena: %w", err)
	}

	return &Limiter{
		windows:   cache,
		capacity:  capacity,
		max:       max,
		retention: retention,
		now:       time.Now,
		logger:    logger.With("module", "ratelimit"),
	}, nil
}

func key(identity, handle string) string {
	return identity + "\x00" + handle
}

// Allow records a hit and reports whether it is admitted.
func (l *Limiter) Allow(identity, handle string) bool {
	now := l.now()
	k := key(identity, handle)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows.Get(k)
	if !ok {
		if l.windows.Len() >= l.capacity {
			return false
		}
		l.windows.Add(k, &window{count: 1, lastAccess: now})
		return true
	}

	if w.count < l.max {
		w.count++
		w.lastAccess = now
		return true
	}
	return false
}

// Sweep drops windows whose last admitted hit is older than now minus the
// retention and returns how many were dropped.
func (l *Limiter) Sweep(now time.Time) int {
	cutoff := now.Add(-l.retention)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, k := range l.windows.Keys() {
		w, ok := l.windows.Peek(k)
		if ok && w.lastAccess.Before(cutoff) {
			l.windows.Remove(k)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked windows.
func (l *Limiter) Size() int {
	return l.windows.Len()
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Sweep(l.now()); n > 0 {
				l.logger.Debug(ctx, "rate limit windows swept", "removed", n, "remaining", l.Size())
			}
		}
	}
}
