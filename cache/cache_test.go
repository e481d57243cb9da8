package cache

import (
	"errors"
	"sync"
	"testing"
)

func TestCache_GetSet(t *testing.T) {
	c := New[string, int](3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)

	if v, ok := c.Get("a"); !ok || v != 10 {
		t.Errorf("Get(a) = %d, %v; want 10, true", v, ok)
	}
	if _, ok := c.Get("z"); ok {
		t.Error("Get(z) should miss")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestCache_GetOrLoad(t *testing.T) {
	c := New[string, string](4)
	calls := 0
	load := func() (string, error) {
		calls++
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad("k", load)
		if err != nil || v != "value" {
			t.Fatalf("GetOrLoad() = %q, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("load called %d times, want 1", calls)
	}

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		if _, err := c.GetOrLoad("bad", func() (string, error) { calls++; return "", boom }); !errors.Is(err, boom) {
			t.Fatalf("GetOrLoad(bad) error = %v", err)
		}
	}
	if calls != 3 {
		t.Errorf("failed loads should not be cached, calls = %d", calls)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCache_DeleteAndPurge(t *testing.T) {
	c := New[int, int](4)
	for i := 0; i < 4; i++ {
		c.Set(i, i)
	}
	c.Delete(0)
	c.Delete(99)
	if _, ok := c.Get(0); ok {
		t.Error("0 should be deleted")
	}
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len() after Purge = %d", c.Len())
	}
	c.Set(7, 7)
	if v, ok := c.Get(7); !ok || v != 7 {
		t.Errorf("Get(7) after Purge = %d, %v", v, ok)
	}
}

func TestCache_Stats(t *testing.T) {
	c := New[string, int](0)
	if s := c.Stats(); s.Capacity != DefaultCapacity || s.HitRate() != 0 {
		t.Errorf("Stats() = %+v", s)
	}
	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("b")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Size != 1 {
		t.Errorf("Stats() = %+v", s)
	}
	if got := s.HitRate(); got < 0.66 || got > 0.67 {
		t.Errorf("HitRate() = %f", got)
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int, int](50)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := i % 80
			if _, err := c.GetOrLoad(k, func() (int, error) { return k * 10, nil }); err != nil {
				t.Error(err)
			}
			c.Get(k)
		}(i)
	}
	wg.Wait()

	if c.Len() > 50 {
		t.Errorf("Len() = %d exceeds capacity", c.Len())
	}
	for i := 0; i < 80; i++ {
		if v, ok := c.Get(i); ok && v != i*10 {
			t.Errorf("Get(%d) = %d", i, v)
		}
	}
}

func BenchmarkCache_Get(b *testing.B) {
	c := New[int, int](1024)
	for i := 0; i < 1024; i++ {
		c.Set(i, i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(i & 1023)
	}
}
