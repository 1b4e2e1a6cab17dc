package cache

import (
	"sync"
	"testing"
)

// =============================================================================
// NewLRU Tests
// =============================================================================

func TestNewLRU(t *testing.T) {
	t.Run("valid_parameters", func(t *testing.T) {
		c := NewLRU[int64, string](100)

		if c.maxSize != 100 {
			t.Errorf("maxSize = %d, want 100", c.maxSize)
		}
		if !c.enabled {
			t.Error("cache should be enabled by default")
		}
	})

	t.Run("non_positive_size_uses_default", func(t *testing.T) {
		for _, size := range []int{0, -10} {
			c := NewLRU[int64, string](size)
			if c.maxSize != DefaultMaxSize {
				t.Errorf("NewLRU(%d).maxSize = %d, want %d", size, c.maxSize, DefaultMaxSize)
			}
		}
	})
}

// =============================================================================
// Get/Put Tests
// =============================================================================

func TestLRU_GetPut(t *testing.T) {
	t.Run("put_and_get", func(t *testing.T) {
		c := NewLRU[int64, string](100)
		c.Put(1, "a")

		got, ok := c.Get(1)
		if !ok {
			t.Fatal("expected cache hit")
		}
		if got != "a" {
			t.Errorf("Get = %q, want %q", got, "a")
		}
	})

	t.Run("get_missing_key", func(t *testing.T) {
		c := NewLRU[int64, string](100)
		if _, ok := c.Get(999); ok {
			t.Error("expected cache miss")
		}
	})

	t.Run("update_existing_key", func(t *testing.T) {
		c := NewLRU[int64, string](100)
		c.Put(1, "a")
		c.Put(1, "b")

		got, _ := c.Get(1)
		if got != "b" {
			t.Errorf("Get = %q, want %q", got, "b")
		}
		if c.Len() != 1 {
			t.Errorf("Len = %d, want 1", c.Len())
		}
	})

	t.Run("update_only_touches_cached_keys", func(t *testing.T) {
		c := NewLRU[int64, string](100)
		c.Put(1, "a")

		if !c.Update(1, func(old string) string { return old + "!" }) {
			t.Error("Update(1) = false, want true")
		}
		if c.Update(2, func(string) string { return "x" }) {
			t.Error("Update(2) = true, want false")
		}
		if got, _ := c.Get(1); got != "a!" {
			t.Errorf("Get = %q, want %q", got, "a!")
		}
		if _, ok := c.Get(2); ok {
			t.Error("Update must not insert")
		}
	})
}

// =============================================================================
// LRU Eviction Tests
// =============================================================================

func TestLRU_Eviction(t *testing.T) {
	t.Run("evicts_oldest_when_full", func(t *testing.T) {
		c := NewLRU[int64, string](3)
		c.Put(1, "a")
		c.Put(2, "b")
		c.Put(3, "c")
		c.Put(4, "d")

		if _, ok := c.Get(1); ok {
			t.Error("oldest entry should have been evicted")
		}
		for _, k := range []int64{2, 3, 4} {
			if _, ok := c.Get(k); !ok {
				t.Errorf("entry %d should still be cached", k)
			}
		}
	})

	t.Run("access_promotes_entry", func(t *testing.T) {
		c := NewLRU[int64, string](3)
		c.Put(1, "a")
		c.Put(2, "b")
		c.Put(3, "c")

		c.Get(1)
		c.Put(4, "d")

		if _, ok := c.Get(1); !ok {
			t.Error("recently used entry should not be evicted")
		}
		if _, ok := c.Get(2); ok {
			t.Error("least recently used entry should be evicted")
		}
	})
}

func TestLRU_RemoveClear(t *testing.T) {
	c := NewLRU[int64, string](100)
	c.Put(1, "a")
	c.Put(2, "b")

	if !c.Remove(1) {
		t.Error("Remove(1) = false, want true")
	}
	if c.Remove(1) {
		t.Error("second Remove(1) = true, want false")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len = %d after clear, want 0", c.Len())
	}
}

// =============================================================================
// Statistics Tests
// =============================================================================

func TestLRU_Stats(t *testing.T) {
	c := NewLRU[int64, string](100)
	if c.Stats().HitRate != 0 {
		t.Errorf("HitRate = %.2f with no operations, want 0", c.Stats().HitRate)
	}

	c.Put(1, "a")
	c.Put(2, "b")
	c.Get(1)
	c.Get(2)
	c.Get(999)
	c.Get(888)

	stats := c.Stats()
	if stats.Size != 2 {
		t.Errorf("Size = %d, want 2", stats.Size)
	}
	if stats.MaxSize != 100 {
		t.Errorf("MaxSize = %d, want 100", stats.MaxSize)
	}
	if stats.Hits != 2 || stats.Misses != 2 {
		t.Errorf("Hits/Misses = %d/%d, want 2/2", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 50.0 {
		t.Errorf("HitRate = %.2f, want 50.00", stats.HitRate)
	}
}

func TestLRU_SetEnabled(t *testing.T) {
	c := NewLRU[int64, string](100)
	c.Put(1, "a")

	c.SetEnabled(false)
	if c.Len() != 0 {
		t.Errorf("disabled cache Len = %d, want 0", c.Len())
	}
	c.Put(2, "b")
	if _, ok := c.Get(2); ok {
		t.Error("disabled cache should return miss")
	}

	c.SetEnabled(true)
	c.Put(3, "c")
	if _, ok := c.Get(3); !ok {
		t.Error("re-enabled cache should work")
	}
}

// =============================================================================
// Concurrent Access Tests
// =============================================================================

func TestLRU_ConcurrentAccess(t *testing.T) {
	c := NewLRU[int64, int](50)

	const goroutines = 50
	const iterations = 200

	var wg sync.WaitGroup
	wg.Add(goroutines * 2)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				c.Put(int64((id*iterations+j)%100), j)
			}
		}(i)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				c.Get(int64((id + j) % 100))
				c.Update(int64(j%100), func(v int) int { return v + 1 })
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 50 {
		t.Errorf("Len = %d, exceeds maxSize 50", c.Len())
	}
}
