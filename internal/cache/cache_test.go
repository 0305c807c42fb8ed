package cache

import (
	"fmt"
	"testing"
	"time"
)

func newTestCache(capacity int) (*Cache, *time.Time) {
	c := New(capacity)
	now := time.Unix(1700000000, 0).UTC()
	c.now = func() time.Time { return now }
	return c, &now
}

func TestGetReturnsLiveValue(t *testing.T) {
	c, _ := newTestCache(10)
	c.Set("k", 42, time.Minute)

	v, ok := c.Get("k")
	if !ok {
		t.Fatalf("expected hit")
	}
	if v.(int) != 42 {
		t.Fatalf("unexpected value: %v", v)
	}
}

func TestExpiryIsLazy(t *testing.T) {
	c, now := newTestCache(10)
	c.Set("k", "v", 10*time.Second)

	*now = now.Add(10 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected hit at exactly ttl")
	}

	*now = now.Add(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected miss after ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry removed, len=%d", c.Len())
	}
}

func TestEvictionIsInsertionOrder(t *testing.T) {
	c, _ := newTestCache(3)
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("c", 3, time.Minute)

	// Reading "a" must not protect it; this is not LRU.
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected hit for a")
	}

	c.Set("d", 4, time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected oldest insertion evicted")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("expected %s to survive", k)
		}
	}
}

func TestOverwriteKeepsInsertionPosition(t *testing.T) {
	c, _ := newTestCache(2)
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("a", 10, time.Minute)

	// "a" is still the oldest insertion, so it goes first.
	c.Set("c", 3, time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected a evicted despite overwrite")
	}
	if v, ok := c.Get("b"); !ok || v.(int) != 2 {
		t.Fatalf("expected b intact, got %v ok=%v", v, ok)
	}
}

func TestOverwriteRefreshesTTL(t *testing.T) {
	c, now := newTestCache(10)
	c.Set("k", 1, 10*time.Second)

	*now = now.Add(8 * time.Second)
	c.Set("k", 2, 10*time.Second)

	*now = now.Add(8 * time.Second)
	v, ok := c.Get("k")
	if !ok || v.(int) != 2 {
		t.Fatalf("expected refreshed entry, got %v ok=%v", v, ok)
	}
}

func TestDeleteAndClear(t *testing.T) {
	c, _ := newTestCache(10)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Minute)
	}

	c.Delete("k2")
	if _, ok := c.Get("k2"); ok {
		t.Fatalf("expected k2 gone")
	}
	if c.Len() != 4 {
		t.Fatalf("len = %d, want 4", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("len after clear = %d", c.Len())
	}
}
