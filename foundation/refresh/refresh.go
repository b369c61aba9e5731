// Package refresh provides a snapshot cache that is reloaded in the background once its time to live expires.
package refresh

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Fetcher retrieves a complete new snapshot from an external source
type Fetcher[S any] func(ctx context.Context) (S, error)

// Observer receives the result of every refresh attempt, used for metrics
type Observer interface {
	ObserveRefresh(name string, err error)
}

// Config contains the configurable parameters of a Cache
type Config struct {
	Name    string
	TTL     time.Duration
	Timeout time.Duration
}

// Cache holds the last successfully fetched snapshot of S.
// Readers never block on the fetch, a stale Cache starts at most one background refresh at a time.
type Cache[S any] struct {
	cfg      Config
	fetch    Fetcher[S]
	log      *log.Logger
	observer Observer
	now      func() time.Time

	snapshot atomic.Pointer[S]
	// unix nanoseconds of the last refresh start, zero until the first refresh
	lastRefresh atomic.Int64
	running     atomic.Bool
	inFlight    sync.WaitGroup
}

// Option changes optional Cache behavior
type Option[S any] func(c *Cache[S])

// WithObserver reports refresh results to observer
func WithObserver[S any](observer Observer) Option[S] {
	return func(c *Cache[S]) {
		c.observer = observer
	}
}

// WithClock replaces time.Now as the Cache's clock
func WithClock[S any](now func() time.Time) Option[S] {
	return func(c *Cache[S]) {
		c.now = now
	}
}

// NewCache builds an empty Cache. The first Read triggers the first background refresh
func NewCache[S any](log *log.Logger, cfg Config, fetch Fetcher[S], options ...Option[S]) *Cache[S] {
	c := &Cache[S]{
		cfg:   cfg,
		fetch: fetch,
		log:   log,
		now:   time.Now,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Name of the cache, used in logs and metrics
func (c *Cache[S]) Name() string {
	return c.cfg.Name
}

// Read returns the last good snapshot, and false if no snapshot has been loaded yet.
func (c *Cache[S]) Read() (S, bool) {
	c.maybeRefresh()
	return c.current()
}

func (c *Cache[S]) current() (S, bool) {
	p := c.snapshot.Load()
	if p == nil {
		var empty S
		return empty, false
	}
	return *p, true
}

// LastRefreshed returns the time the last refresh was started, zero if never
func (c *Cache[S]) LastRefreshed() time.Time {
	nanos := c.lastRefresh.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// maybeRefresh starts a background refresh if the TTL has expired.
// The refresh timestamp is claimed with compare and swap before any work so concurrent callers
// cannot start a second refresh. A refresh still running when the TTL expires again holds off the next one.
func (c *Cache[S]) maybeRefresh() {
	now := c.now().UnixNano()
	last := c.lastRefresh.Load()
	if last != 0 && now-last < int64(c.cfg.TTL) {
		return
	}
	if c.running.Load() {
		return
	}
	if !c.lastRefresh.CompareAndSwap(last, now) {
		return
	}
	c.running.Store(true)
	c.inFlight.Add(1)
	go func() {
		defer c.inFlight.Done()
		defer c.running.Store(false)
		_ = c.refresh(context.Background())
	}()
}

// ForceRefresh fetches a snapshot on the calling goroutine, for warm up at startup.
// Unlike the background refresh the error is returned to the caller, the previous snapshot is kept on failure.
func (c *Cache[S]) ForceRefresh(ctx context.Context) error {
	c.lastRefresh.Store(c.now().UnixNano())
	return c.refresh(ctx)
}

// Wait blocks until all in flight background refreshes have returned
func (c *Cache[S]) Wait() {
	c.inFlight.Wait()
}

func (c *Cache[S]) refresh(ctx context.Context) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	fresh, err := c.fetch(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if c.observer != nil {
		c.observer.ObserveRefresh(c.cfg.Name, err)
	}
	if err != nil {
		c.log.Printf("refresh of %s cache failed after %v, keeping previous snapshot. error:%v",
			c.cfg.Name, time.Since(start), err)
		return fmt.Errorf("refreshing %s: %w", c.cfg.Name, err)
	}
	c.snapshot.Store(&fresh)
	return nil
}
