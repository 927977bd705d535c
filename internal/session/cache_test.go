package session

import "testing"

func TestPlacementCacheRoundTrip(t *testing.T) {
	c := NewPlacementCache()
	if _, ok := c.Get(100, "libc"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	want := Placement{SelfBase: 0x1000, TargetBase: 0x2000}
	c.Put(100, "libc", want)

	got, ok := c.Get(100, "libc")
	if !ok || got != want {
		t.Fatalf("got (%v, %v), want (%v, true)", got, ok, want)
	}
}

func TestPlacementCacheDistinguishesKeys(t *testing.T) {
	c := NewPlacementCache()
	c.Put(100, "libc", Placement{TargetBase: 0x2000})
	c.Put(100, "musl", Placement{TargetBase: 0x3000})
	c.Put(200, "libc", Placement{TargetBase: 0x4000})

	if p, ok := c.Get(100, "libc"); !ok || p.TargetBase != 0x2000 {
		t.Fatalf("got %v, %v", p, ok)
	}
	if p, ok := c.Get(100, "musl"); !ok || p.TargetBase != 0x3000 {
		t.Fatalf("got %v, %v", p, ok)
	}
	if p, ok := c.Get(200, "libc"); !ok || p.TargetBase != 0x4000 {
		t.Fatalf("got %v, %v", p, ok)
	}
}

func TestPlacementCacheEvict(t *testing.T) {
	c := NewPlacementCache()
	c.Put(100, "libc", Placement{TargetBase: 0x2000})
	c.Evict(100, "libc")
	if _, ok := c.Get(100, "libc"); ok {
		t.Fatalf("expected miss after evict")
	}
}
