// Package rangecache memoizes per-range computations for a bounded time.
// Entries are keyed by owner, view and minute-floored range, and every
// entry of an owner can be purged at once.
package rangecache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/timeline/internal/clock"
	"github.com/dukerupert/timeline/internal/schederr"
)

const DefaultTTL = 5 * time.Minute

type Key struct {
	Owner string
	View  string
	Start time.Time
	End   time.Time
}

// NewKey floors both bounds to the minute in UTC so near-identical requests
// share an entry.
func NewKey(owner, view string, start, end time.Time) Key {
	return Key{
		Owner: owner,
		View:  view,
		Start: start.UTC().Truncate(time.Minute),
		End:   end.UTC().Truncate(time.Minute),
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%d|%d", k.Owner, k.View, k.Start.UnixNano(), k.End.UnixNano())
}

// Meta describes where a value came from.
type Meta struct {
	Cached    bool
	StoredAt  time.Time
	ExpiresAt time.Time
}

type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

type entry[V any] struct {
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

// Cache is safe for concurrent use. Concurrent misses on one key share a
// single computation.
type Cache[V any] struct {
	mu          sync.RWMutex
	entries     map[Key]entry[V]
	generations map[string]uint64
	hits        atomic.Int64
	misses      atomic.Int64

	ttl   time.Duration
	clock clock.Clock
	group singleflight.Group
}

func New[V any](ttl time.Duration, clk clock.Clock) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache[V]{
		entries:     make(map[Key]entry[V]),
		generations: make(map[string]uint64),
		ttl:         ttl,
		clock:       clk,
	}
}

func (c *Cache[V]) TTL() time.Duration { return c.ttl }

// Get returns the live entry for key. An expired entry is removed.
func (c *Cache[V]) Get(key Key) (V, Meta, bool) {
	now := c.clock.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && now.Before(e.expiresAt) {
		c.hits.Add(1)
		return e.value, Meta{Cached: true, StoredAt: e.storedAt, ExpiresAt: e.expiresAt}, true
	}

	c.misses.Add(1)
	if ok {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && !now.Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}

	var zero V
	return zero, Meta{}, false
}

// Lookup is Get with the miss reported as a KindCacheMiss error.
func (c *Cache[V]) Lookup(key Key) (V, Meta, error) {
	v, meta, ok := c.Get(key)
	if !ok {
		return v, meta, schederr.New(schederr.KindCacheMiss, "no live entry").WithIDs(key.String())
	}
	return v, meta, nil
}

// GetOrCompute returns the cached value for key or runs fn to produce it.
// A value computed while the owner was purged is returned to the caller
// but not stored. The computation outlives a caller that gives up waiting,
// since other callers may share it.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key Key, fn func(ctx context.Context) (V, error)) (V, Meta, error) {
	if v, meta, err := c.Lookup(key); err == nil {
		return v, meta, nil
	}

	// A purge starts a new generation, so later callers never join a
	// computation that began before it.
	gen := c.generation(key.Owner)
	flight := fmt.Sprintf("%s#%d", key.String(), gen)
	ch := c.group.DoChan(flight, func() (any, error) {
		v, err := fn(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		return c.store(key, v, gen), nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, Meta{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, Meta{}, res.Err
		}
		r := res.Val.(computed[V])
		return r.value, r.meta, nil
	}
}

type computed[V any] struct {
	value V
	meta  Meta
}

func (c *Cache[V]) store(key Key, v V, gen uint64) computed[V] {
	now := c.clock.Now()
	meta := Meta{StoredAt: now, ExpiresAt: now.Add(c.ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[key.Owner] == gen {
		c.entries[key] = entry[V]{value: v, storedAt: now, expiresAt: meta.ExpiresAt}
	}
	return computed[V]{value: v, meta: meta}
}

func (c *Cache[V]) generation(owner string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[owner]
}

// Purge drops every entry of owner and returns how many were removed.
func (c *Cache[V]) Purge(owner string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[owner]++
	n := 0
	for k := range c.entries {
		if k.Owner == owner {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: len(c.entries)}
}
