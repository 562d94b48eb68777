package cache

import (
	"container/list"
	"sync"
)

// LRUCache is a thread-safe LRU cache bounded by entry count and by the
// total size of its values as measured by sizeOf.
type LRUCache[V any] struct {
	capacity int
	size     int64
	maxSize  int64
	sizeOf   func(V) int64
	items    map[string]*list.Element
	order    *list.List
	mu       sync.Mutex
}

type cacheEntry[V any] struct {
	key   string
	value V
	size  int64
}

// NewLRUCache creates a cache holding at most capacity entries and maxSize
// units as reported by sizeOf. A nil sizeOf counts every entry as 1.
func NewLRUCache[V any](capacity int, maxSize int64, sizeOf func(V) int64) *LRUCache[V] {
	if sizeOf == nil {
		sizeOf = func(V) int64 { return 1 }
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &LRUCache[V]{
		capacity: capacity,
		maxSize:  maxSize,
		sizeOf:   sizeOf,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry[V]).value, true
	}
	var zero V
	return zero, false
}

func (c *LRUCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.sizeOf(value)

	// An entry larger than the whole cache is never kept.
	if c.maxSize > 0 && size > c.maxSize {
		return
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry[V])
		c.size += size - entry.size
		entry.value, entry.size = value, size
		c.order.MoveToFront(elem)
		c.evictLocked(0, false)
		return
	}

	c.evictLocked(size, true)

	elem := c.order.PushFront(&cacheEntry[V]{key: key, value: value, size: size})
	c.items[key] = elem
	c.size += size
}

func (c *LRUCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.size = 0
}

func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRUCache[V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// evictLocked drops the oldest entries until incoming more units, and one
// more entry when adding, fit.
func (c *LRUCache[V]) evictLocked(incoming int64, adding bool) {
	for c.order.Len() > 0 {
		full := adding && c.order.Len() >= c.capacity
		over := c.maxSize > 0 && c.size+incoming > c.maxSize
		if !full && !over {
			return
		}
		c.removeElement(c.order.Back())
	}
}

func (c *LRUCache[V]) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry[V])
	c.order.Remove(elem)
	delete(c.items, entry.key)
	c.size -= entry.size
}
