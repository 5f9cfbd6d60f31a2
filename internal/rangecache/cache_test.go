package rangecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukerupert/timeline/internal/clock"
	"github.com/dukerupert/timeline/internal/schederr"
)

var t0 = time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)

func value(v string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return v, nil }
}

func TestNewKeyFloorsToMinute(t *testing.T) {
	a := NewKey("alice", "day", t0.Add(30*time.Second), t0.Add(24*time.Hour+59*time.Second))
	b := NewKey("alice", "day", t0, t0.Add(24*time.Hour))
	if a != b {
		t.Errorf("keys differ: %v vs %v", a, b)
	}

	local := time.FixedZone("UTC+2", 2*3600)
	c := NewKey("alice", "day", t0.In(local), t0.Add(24*time.Hour).In(local))
	if c != b {
		t.Errorf("keys in other zones should match: %v vs %v", c, b)
	}
}

func TestGetOrComputeCachesUntilTTL(t *testing.T) {
	clk := clock.Fake(t0)
	c := New[string](5*time.Minute, clk)
	ctx := context.Background()
	key := NewKey("alice", "day", t0, t0.Add(time.Hour))

	v, meta, err := c.GetOrCompute(ctx, key, value("first"))
	if err != nil || v != "first" || meta.Cached {
		t.Fatalf("first call = %q, %+v, %v", v, meta, err)
	}
	if !meta.ExpiresAt.Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("expires at = %v", meta.ExpiresAt)
	}

	clk.Advance(4 * time.Minute)
	v, meta, _ = c.GetOrCompute(ctx, key, value("second"))
	if v != "first" || !meta.Cached {
		t.Errorf("within TTL = %q, cached=%v; want first, true", v, meta.Cached)
	}

	clk.Advance(time.Minute)
	v, meta, _ = c.GetOrCompute(ctx, key, value("third"))
	if v != "third" || meta.Cached {
		t.Errorf("after TTL = %q, cached=%v; want third, false", v, meta.Cached)
	}

	if s := c.Stats(); s.Hits != 1 || s.Misses != 2 || s.Entries != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestExpiredEntryRemovedOnRead(t *testing.T) {
	clk := clock.Fake(t0)
	c := New[string](time.Minute, clk)
	key := NewKey("alice", "week", t0, t0.Add(time.Hour))
	c.GetOrCompute(context.Background(), key, value("v"))

	clk.Advance(time.Minute)
	if _, _, ok := c.Get(key); ok {
		t.Error("expired entry must not be returned")
	}
	if n := c.Stats().Entries; n != 0 {
		t.Errorf("entries = %d, want 0", n)
	}
}

func TestKeysAreIsolated(t *testing.T) {
	c := New[string](0, clock.Fake(t0))
	ctx := context.Background()

	c.GetOrCompute(ctx, NewKey("alice", "day", t0, t0.Add(time.Hour)), value("alice"))
	v, meta, _ := c.GetOrCompute(ctx, NewKey("bob", "day", t0, t0.Add(time.Hour)), value("bob"))
	if v != "bob" || meta.Cached {
		t.Errorf("other owner got %q, cached=%v", v, meta.Cached)
	}
	v, _, _ = c.GetOrCompute(ctx, NewKey("alice", "week", t0, t0.Add(time.Hour)), value("week"))
	if v != "week" {
		t.Errorf("other view got %q", v)
	}
	if c.TTL() != DefaultTTL {
		t.Errorf("ttl = %v, want default", c.TTL())
	}
}

func TestPurgeOnlyAffectsOwner(t *testing.T) {
	c := New[string](0, clock.Fake(t0))
	ctx := context.Background()
	a1 := NewKey("alice", "day", t0, t0.Add(time.Hour))
	a2 := NewKey("alice", "week", t0, t0.Add(7*24*time.Hour))
	b := NewKey("bob", "day", t0, t0.Add(time.Hour))
	for _, k := range []Key{a1, a2, b} {
		c.GetOrCompute(ctx, k, value(k.Owner))
	}

	if n := c.Purge("alice"); n != 2 {
		t.Errorf("purged = %d, want 2", n)
	}
	if _, _, ok := c.Get(a1); ok {
		t.Error("alice entry survived purge")
	}
	if _, _, ok := c.Get(b); !ok {
		t.Error("bob entry should survive")
	}
}

func TestPurgeDuringComputeIsNotStored(t *testing.T) {
	c := New[string](0, clock.Fake(t0))
	ctx := context.Background()
	key := NewKey("alice", "day", t0, t0.Add(time.Hour))

	v, _, err := c.GetOrCompute(ctx, key, func(context.Context) (string, error) {
		c.Purge("alice") // a mutation lands mid-computation
		return "stale", nil
	})
	if err != nil || v != "stale" {
		t.Fatalf("got %q, %v", v, err)
	}
	if _, _, ok := c.Get(key); ok {
		t.Error("result computed across a purge must not be cached")
	}

	v, meta, _ := c.GetOrCompute(ctx, key, value("fresh"))
	if v != "fresh" || meta.Cached {
		t.Errorf("recompute = %q, cached=%v", v, meta.Cached)
	}
	if _, _, ok := c.Get(key); !ok {
		t.Error("fresh result should be cached")
	}
}

func TestCallAfterPurgeDoesNotJoinEarlierComputation(t *testing.T) {
	c := New[string](0, clock.Fake(t0))
	ctx := context.Background()
	key := NewKey("alice", "day", t0, t0.Add(time.Hour))

	started := make(chan struct{})
	release := make(chan struct{})
	stale := make(chan string, 1)
	go func() {
		v, _, _ := c.GetOrCompute(ctx, key, func(context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
		stale <- v
	}()
	<-started

	c.Purge("alice")
	v, _, err := c.GetOrCompute(ctx, key, value("fresh"))
	if err != nil || v != "fresh" {
		t.Errorf("after purge = %q, %v; want fresh", v, err)
	}

	close(release)
	if got := <-stale; got != "stale" {
		t.Errorf("earlier caller = %q, want stale", got)
	}
	if got, _, ok := c.Get(key); !ok || got != "fresh" {
		t.Errorf("cached = %q, %v; want fresh", got, ok)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	c := New[string](0, clock.Fake(t0))
	ctx := context.Background()
	key := NewKey("alice", "day", t0, t0.Add(time.Hour))
	boom := errors.New("store unavailable")

	_, _, err := c.GetOrCompute(ctx, key, func(context.Context) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	v, _, err := c.GetOrCompute(ctx, key, value("ok"))
	if err != nil || v != "ok" {
		t.Errorf("retry = %q, %v", v, err)
	}
}

func TestConcurrentMissesShareOneComputation(t *testing.T) {
	c := New[string](0, clock.Fake(t0))
	key := NewKey("alice", "day", t0, t0.Add(time.Hour))

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const n = 16
	var arrived, done sync.WaitGroup
	arrived.Add(n)
	done.Add(n)
	results := make([]string, n)
	for i := range n {
		go func() {
			defer done.Done()
			arrived.Done()
			v, _, err := c.GetOrCompute(context.Background(), key, fn)
			if err != nil {
				t.Errorf("goroutine %d: %v", i, err)
			}
			results[i] = v
		}()
	}
	arrived.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("computations = %d, want 1", got)
	}
	for i, v := range results {
		if v != "shared" {
			t.Errorf("result[%d] = %q", i, v)
		}
	}
}

func TestWaiterCanGiveUp(t *testing.T) {
	c := New[string](0, clock.Fake(t0))
	key := NewKey("alice", "day", t0, t0.Add(time.Hour))
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := c.GetOrCompute(ctx, key, func(context.Context) (string, error) {
		<-release
		return "late", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSweep(t *testing.T) {
	clk := clock.Fake(t0)
	c := New[string](time.Minute, clk)
	ctx := context.Background()
	c.GetOrCompute(ctx, NewKey("alice", "day", t0, t0.Add(time.Hour)), value("a"))
	clk.Advance(30 * time.Second)
	c.GetOrCompute(ctx, NewKey("bob", "day", t0, t0.Add(time.Hour)), value("b"))

	clk.Advance(30 * time.Second)
	if n := c.Sweep(); n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	if n := c.Stats().Entries; n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
}

func TestLookupReportsMiss(t *testing.T) {
	c := New[string](time.Minute, clock.Fake(t0))
	key := NewKey("alice", "day", t0, t0.Add(24*time.Hour))

	if _, _, err := c.Lookup(key); !schederr.Is(err, schederr.KindCacheMiss) {
		t.Fatalf("err = %v, want cache miss", err)
	}

	if _, _, err := c.GetOrCompute(context.Background(), key, value("v1")); err != nil {
		t.Fatalf("compute: %v", err)
	}
	v, meta, err := c.Lookup(key)
	if err != nil || v != "v1" || !meta.Cached {
		t.Errorf("Lookup = %q, %+v, %v", v, meta, err)
	}
}
