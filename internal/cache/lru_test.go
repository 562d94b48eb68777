package cache

import "testing"

func TestLRUCacheEvictsByCount(t *testing.T) {
	c := NewLRUCache[int](2, 0, nil)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a is now the most recent
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestLRUCacheEvictsBySize(t *testing.T) {
	c := NewLRUCache[string](10, 10, func(s string) int64 { return int64(len(s)) })
	c.Set("a", "1234")
	c.Set("b", "1234")
	c.Set("c", "1234")

	if _, ok := c.Get("a"); ok {
		t.Error("entry beyond the size budget survived")
	}
	if c.Size() != 8 {
		t.Errorf("Size = %d, want 8", c.Size())
	}

	c.Set("huge", "12345678901")
	if _, ok := c.Get("huge"); ok {
		t.Error("entry larger than the cache was stored")
	}

	c.Set("b", "123456")
	if c.Size() != 10 {
		t.Errorf("Size after update = %d, want 10", c.Size())
	}
}

func TestLRUCacheDeleteAndClear(t *testing.T) {
	c := NewLRUCache[int](4, 0, nil)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still present")
	}
	c.Delete("missing")

	c.Clear()
	if c.Len() != 0 || c.Size() != 0 {
		t.Errorf("after Clear: Len = %d, Size = %d", c.Len(), c.Size())
	}
}
