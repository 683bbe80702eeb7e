package cache

import (
	"container/list"
	"sync"

	"wmtscache/internal/metrics"
)

// DefaultMemoryEntries is the capacity used when none is configured.
const DefaultMemoryEntries = 64

type entry struct {
	key   string
	value []byte
}

// MemoryBackend is a fixed-capacity LRU. Reads and writes both promote the
// entry and both take the same mutex.
type MemoryBackend struct {
	mu         sync.Mutex
	maxEntries int
	items      map[string]*list.Element
	lruList    *list.List
	onEvict    func(key string)
}

type MemoryOption func(*MemoryBackend)

// WithEvictHook registers fn to be called with the key of every entry evicted
// for capacity. fn runs with the backend locked and must not call back into it.
func WithEvictHook(fn func(key string)) MemoryOption {
	return func(c *MemoryBackend) {
		c.onEvict = fn
	}
}

// NewMemoryBackend creates an LRU holding at most maxEntries tiles.
func NewMemoryBackend(maxEntries int, opts ...MemoryOption) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}

	c := &MemoryBackend{
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		lruList:    list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryBackend) Name() string {
	return "memory"
}

func (c *MemoryBackend) Read(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, ErrNotFound
	}

	c.lruList.MoveToFront(elem)
	return cloneBytes(elem.Value.(*entry).value), nil
}

// Write stores a copy of data; an existing entry is overwritten.
func (c *MemoryBackend) Write(key string, data []byte) error {
	value := cloneBytes(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry).value = value
		c.lruList.MoveToFront(elem)
		return nil
	}

	if c.lruList.Len() >= c.maxEntries {
		c.evictOldest()
	}

	elem := c.lruList.PushFront(&entry{key: key, value: value})
	c.items[key] = elem
	metrics.TileCacheEntries.Set(float64(c.lruList.Len()))
	return nil
}

func (c *MemoryBackend) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lruList.Remove(elem)
		delete(c.items, key)
		metrics.TileCacheEntries.Set(float64(c.lruList.Len()))
	}
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryBackend) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Keys returns cached keys from most to least recently used.
func (c *MemoryBackend) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.lruList.Len())
	for elem := c.lruList.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry).key)
	}
	return keys
}

// evictOldest must be called with mu held.
func (c *MemoryBackend) evictOldest() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}

	key := oldest.Value.(*entry).key
	c.lruList.Remove(oldest)
	delete(c.items, key)
	metrics.TileCacheEvictions.Inc()

	if c.onEvict != nil {
		c.onEvict(key)
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
