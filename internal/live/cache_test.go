package live

import "testing"

func TestCacheReplaceAndGet(t *testing.T) {
	c := NewCache()
	if _, ok := c.Get("k"); ok {
		t.Fatal("empty cache returned a value")
	}
	c.Replace("k", 1)
	v, ok := c.Get("k")
	if !ok || v != 1 {
		t.Fatalf("Get = %v, %v", v, ok)
	}
}

func TestCacheStaleRefetchDiscarded(t *testing.T) {
	c := NewCache()
	c.Replace("k", "seed")

	gen := c.Begin("k")
	c.Replace("k", "optimistic")

	// A later mutation begins before the first one's refetch lands.
	c.Begin("k")
	if c.ReplaceIfCurrent("k", gen, "stale refetch") {
		t.Fatal("stale refetch was installed")
	}
	if v, _ := c.Get("k"); v != "optimistic" {
		t.Fatalf("value = %v, want optimistic", v)
	}
}

func TestCacheCurrentRefetchInstalled(t *testing.T) {
	c := NewCache()
	gen := c.Begin("k")
	if !c.ReplaceIfCurrent("k", gen, "settled") {
		t.Fatal("current refetch was rejected")
	}
	if v, _ := c.Get("k"); v != "settled" {
		t.Fatalf("value = %v, want settled", v)
	}
}

func TestCacheListeners(t *testing.T) {
	c := NewCache()
	var got []any
	cancel := c.Listen("k", func(v any) { got = append(got, v) })

	c.Replace("k", 1)
	c.Replace("k", 2)
	cancel()
	c.Replace("k", 3)

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("listener saw %v", got)
	}
}

func TestCacheDrop(t *testing.T) {
	c := NewCache()
	c.Replace("k", 1)
	c.Drop("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("dropped entry still readable")
	}
}
