package cache

import (
	"testing"
	"time"
)

func TestGetSetRoundtrip(t *testing.T) {
	c := New[string](10, time.Hour)
	c.Set("a", "alpha")

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("expected hit for key a")
	}
	if got != "alpha" {
		t.Errorf("got %q, want %q", got, "alpha")
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	c := New[int](10, time.Hour).WithClock(now)
	c.Set("n", 42)

	clock = clock.Add(59 * time.Minute)
	if _, ok := c.Get("n"); !ok {
		t.Error("entry expired before its TTL")
	}

	clock = clock.Add(2 * time.Minute)
	if _, ok := c.Get("n"); ok {
		t.Error("entry survived past its TTL")
	}
}

func TestEvictOldest(t *testing.T) {
	clock := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	c := New[int](2, time.Hour).WithClock(now)
	c.Set("first", 1)
	clock = clock.Add(time.Minute)
	c.Set("second", 2)
	clock = clock.Add(time.Minute)
	c.Set("third", 3)

	if _, ok := c.Get("first"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("second"); !ok {
		t.Error("second entry should survive eviction")
	}
	if _, ok := c.Get("third"); !ok {
		t.Error("newest entry should survive eviction")
	}
	if got := c.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestSetExistingKeyDoesNotEvict(t *testing.T) {
	clock := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	c := New[int](2, time.Hour).WithClock(now)
	c.Set("a", 1)
	clock = clock.Add(time.Minute)
	c.Set("b", 2)
	clock = clock.Add(time.Minute)
	c.Set("a", 10)

	if _, ok := c.Get("b"); !ok {
		t.Error("overwriting an existing key must not evict another entry")
	}
	got, _ := c.Get("a")
	if got != 10 {
		t.Errorf("got %d, want 10", got)
	}
}

func TestClear(t *testing.T) {
	c := New[string](10, time.Hour)
	c.Set("a", "x")
	c.Set("b", "y")
	c.Clear()
	if got := c.Len(); got != 0 {
		t.Errorf("Len() after Clear = %d, want 0", got)
	}
}
