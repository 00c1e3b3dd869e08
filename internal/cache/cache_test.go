package cache

import (
	"errors"
	"strconv"
	"sync"
	"testing"
)

func TestCacheGetSet(t *testing.T) {
	c := New[string, int](0)

	if _, ok := c.Get("a"); ok {
		t.Fatal("empty cache returned a value")
	}
	c.Set("a", 1)
	c.Set("a", 2)
	if v, ok := c.Get("a"); !ok || v != 2 {
		t.Errorf("Get(a) = %d, %v; want 2, true", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int, string](2)
	var evicted []int
	c.OnEvict(func(k int, _ string) { evicted = append(evicted, k) })

	c.Set(1, "one")
	c.Set(2, "two")
	c.Get(1) // 2 is now the oldest
	c.Set(3, "three")

	if _, ok := c.Get(2); ok {
		t.Error("key 2 survived eviction")
	}
	for _, k := range []int{1, 3} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("key %d evicted", k)
		}
	}
	if len(evicted) != 1 || evicted[0] != 2 {
		t.Errorf("evicted = %v, want [2]", evicted)
	}
	if s := c.Stats(); s.Evictions != 1 {
		t.Errorf("Stats().Evictions = %d, want 1", s.Evictions)
	}
}

func TestCacheGetOrCreate(t *testing.T) {
	c := New[string, int](0)
	calls := 0
	create := func() (int, error) {
		calls++
		return 7, nil
	}

	for range 3 {
		v, err := c.GetOrCreate("k", create)
		if err != nil || v != 7 {
			t.Fatalf("GetOrCreate = %d, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Stats() hits=%d misses=%d, want 2 and 1", s.Hits, s.Misses)
	}
}

func TestCacheGetOrCreateErrorIsNotStored(t *testing.T) {
	c := New[string, int](0)
	boom := errors.New("boom")

	if _, err := c.GetOrCreate("k", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Errorf("failed create stored an entry")
	}
}

func TestCacheDeleteAndClearRunCallback(t *testing.T) {
	c := New[string, int](0)
	released := map[string]bool{}
	c.OnEvict(func(k string, _ int) { released[k] = true })

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if !c.Delete("a") {
		t.Error("Delete(a) = false")
	}
	if c.Delete("a") {
		t.Error("second Delete(a) = true")
	}
	c.Clear()

	for _, k := range []string{"a", "b", "c"} {
		if !released[k] {
			t.Errorf("%s not released", k)
		}
	}
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
}

func TestCacheConcurrentGetOrCreate(t *testing.T) {
	c := New[int, int](0)
	var mu sync.Mutex
	created := map[int]int{}

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				k := (i + g) % 10
				_, _ = c.GetOrCreate(k, func() (int, error) {
					mu.Lock()
					created[k]++
					mu.Unlock()
					return k, nil
				})
			}
		}()
	}
	wg.Wait()

	for k, n := range created {
		if n != 1 {
			t.Errorf("key %d created %d times", k, n)
		}
	}
}

func BenchmarkCacheGet(b *testing.B) {
	c := New[string, int](1000)
	for i := range 100 {
		c.Set(strconv.Itoa(i), i)
	}

	b.ResetTimer()
	for range b.N {
		c.Get("50")
	}
}
