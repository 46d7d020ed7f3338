package gate

import (
	"testing"
	"time"

	"lostack/internal/registry"
)

// fakeClock 让 TTL 行为可以在没有真实等待的情况下测试
type fakeClock struct {
	current time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.current
}

func (f *fakeClock) Advance(d time.Duration) {
	f.current = f.current.Add(d)
}

func newTestCache(ttl time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCache(ttl)
	c.now = clock.Now
	return c, clock
}

func TestCacheTTL(t *testing.T) {
	c, clock := newTestCache(15 * time.Second)
	target := &registry.Target{Name: "app"}

	c.Set("app", Resolution{Found: true, Target: target})

	clock.Advance(14 * time.Second)
	res, ok := c.Get("app")
	if !ok {
		t.Fatal("expected hit inside TTL")
	}
	if !res.Found || res.Target.Name != "app" {
		t.Fatalf("unexpected resolution: %+v", res)
	}

	clock.Advance(2 * time.Second)
	if _, ok := c.Get("app"); ok {
		t.Fatal("expected miss after TTL elapsed")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not evicted on read, len=%d", c.Len())
	}
}

func TestCacheNegativeResult(t *testing.T) {
	c, _ := newTestCache(15 * time.Second)

	c.Set("ghost", Resolution{Found: false})

	res, ok := c.Get("ghost")
	if !ok {
		t.Fatal("negative result should be cached")
	}
	if res.Found {
		t.Fatal("negative result flipped to found")
	}
}

func TestCacheInvalidateAll(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("a", Resolution{Found: true, Target: &registry.Target{Name: "a"}})
	c.Set("b", Resolution{Found: false})
	c.InvalidateAll()

	if c.Len() != 0 {
		t.Fatalf("expected empty cache after invalidation, len=%d", c.Len())
	}
}

func TestCacheSweepExpired(t *testing.T) {
	c, clock := newTestCache(15 * time.Second)

	c.Set("old", Resolution{Found: true, Target: &registry.Target{Name: "old"}})
	clock.Advance(10 * time.Second)
	c.Set("fresh", Resolution{Found: true, Target: &registry.Target{Name: "fresh"}})
	clock.Advance(10 * time.Second)

	if n := c.SweepExpired(); n != 1 {
		t.Fatalf("SweepExpired removed %d entries, want 1", n)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatal("sweep removed an unexpired entry")
	}
}
