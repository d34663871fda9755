package contextmgr

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// PrefixCache is the shared, LRU-bounded cache of rendered pinned-prefix
// bytes keyed by template id, so that concurrent sessions opening with the
// same persona/system-prompt template don't each re-render and re-tokenize
// it. Concurrent misses for the same key are deduped with singleflight so
// only one render happens at a time.
type PrefixCache struct {
	mu       sync.Mutex
	cap      int
	ll       *list.List
	items    map[string]*list.Element
	group    singleflight.Group
}

type prefixEntry struct {
	key   string
	value string
}

// NewPrefixCache builds a cache holding at most capacity rendered prefixes.
func NewPrefixCache(capacity int) *PrefixCache {
	if capacity <= 0 {
		capacity = 32
	}
	return &PrefixCache{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

// Get returns the cached prefix for key, calling render to produce it on a
// miss. Concurrent Get calls for the same key share one render call.
func (c *PrefixCache) Get(ctx context.Context, key string, render func(ctx context.Context) (string, error)) (string, error) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		v := el.Value.(*prefixEntry).value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return render(ctx)
	})
	if err != nil {
		return "", err
	}
	value := v.(string)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*prefixEntry).value = value
		return value, nil
	}
	el := c.ll.PushFront(&prefixEntry{key: key, value: value})
	c.items[key] = el
	if c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*prefixEntry).key)
		}
	}
	return value, nil
}

// Len reports the number of cached prefixes, for tests and metrics.
func (c *PrefixCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
