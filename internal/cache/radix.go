package cache

import (
	"container/list"
	"sync"

	"github.com/derekparker/trie/v3"
)

// radixCache implements the radix-tree strategy: a
// compressed trie over string keys — well suited to the shared
// entity-name prefixes this engine's callers actually look up — with
// LRU eviction layered on top via an access-order list, since the trie
// itself tracks no recency.
type radixCache struct {
	mu sync.Mutex

	capacity int
	tr       *trie.Trie
	order    *list.List
	elems    map[string]*list.Element

	hits, misses int64
}

type radixEntry struct {
	key   string
	value any
}

func newRadixCache(capacity int) *radixCache {
	return &radixCache{
		capacity: capacity,
		tr:       trie.New(),
		order:    list.New(),
		elems:    make(map[string]*list.Element),
	}
}

func (c *radixCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.tr.Find(key)
	if !ok {
		c.misses++
		return nil, false
	}
	entry, ok := node.Meta().(*radixEntry)
	if !ok {
		c.misses++
		return nil, false
	}
	if el, ok := c.elems[key]; ok {
		c.order.MoveToFront(el)
	}
	c.hits++
	return entry.value, true
}

func (c *radixCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &radixEntry{key: key, value: value}
	if _, existed := c.tr.Find(key); existed {
		c.tr.Remove(key)
	}
	c.tr.Add(key, entry)

	if el, ok := c.elems[key]; ok {
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(key)
		c.elems[key] = el
	}

	for len(c.elems) > c.capacity {
		back := c.order.Back()
		if back == nil {
			return
		}
		oldestKey := back.Value.(string)
		c.order.Remove(back)
		delete(c.elems, oldestKey)
		c.tr.Remove(oldestKey)
	}
}

func (c *radixCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tr.Find(key)
	return ok
}

func (c *radixCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tr.Remove(key)
	if el, ok := c.elems[key]; ok {
		c.order.Remove(el)
		delete(c.elems, key)
	}
}

func (c *radixCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tr = trie.New()
	c.order.Init()
	c.elems = make(map[string]*list.Element)
	c.hits, c.misses = 0, 0
}

func (c *radixCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: len(c.elems), Capacity: c.capacity}
}

// PrefixKeys returns every key sharing the given prefix, exploiting
// the trie's natural compressed-prefix layout.
func (c *radixCache) PrefixKeys(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	nodes := c.tr.PrefixSearch(prefix)
	keys := make([]string, 0, len(nodes))
	keys = append(keys, nodes...)
	return keys
}
