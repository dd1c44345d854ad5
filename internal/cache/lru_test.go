package cache

import (
	"testing"
	"time"
)

func TestLRUCache_Eviction(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok { // a becomes most recent
		t.Fatal("a should be cached")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("a = %v, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	c.Set("other", "v")
	now = now.Add(30 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired too early")
	}
	now = now.Add(time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should be expired")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired() = %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d after cleanup", c.Size())
	}
}

func TestLRUCache_OverwriteDeletePurge(t *testing.T) {
	c := NewLRUCache[int](3, time.Minute)
	c.Set("a", 1)
	c.Set("a", 2)
	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("overwrite: got %d", v)
	}
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted key still present")
	}
	c.Set("x", 1)
	c.Set("y", 2)
	c.Purge()
	if c.Size() != 0 {
		t.Errorf("Size() = %d after Purge", c.Size())
	}
	c.Set("z", 3)
	if v, ok := c.Get("z"); !ok || v != 3 {
		t.Error("cache unusable after Purge")
	}
}

func TestManager_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](10, time.Second)
	c.now = func() time.Time { return now }
	c.Set("a", 1)

	m := NewManager()
	m.Register(c)
	now = now.Add(2 * time.Second)
	if n := m.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}

func TestLRUCache_SetAtRefusesStaleGeneration(t *testing.T) {
	c := NewLRUCache[string](4, time.Minute)

	gen := c.Generation()
	c.Purge() // a ledger write lands while the aggregate is being computed
	if c.SetAt(gen, "stats:2026-03", "before write") {
		t.Fatal("SetAt accepted a value from a purged generation")
	}
	if _, ok := c.Get("stats:2026-03"); ok {
		t.Fatal("stale aggregate was cached")
	}

	gen = c.Generation()
	if !c.SetAt(gen, "stats:2026-03", "after write") {
		t.Fatal("SetAt refused the current generation")
	}
	if v, ok := c.Get("stats:2026-03"); !ok || v != "after write" {
		t.Errorf("Get() = %q, %v", v, ok)
	}

	st := c.Stats()
	if st.Stale != 1 || st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats() = %+v, want 1 stale, 1 hit, 1 miss", st)
	}
}

func TestLRUCache_EvictionCounted(t *testing.T) {
	c := NewLRUCache[int](1, time.Minute)
	c.Set("forecast:2026-03-10", 1)
	c.Set("health:2026-03-10", 2)
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("evictions = %d, want 1", got)
	}
}
