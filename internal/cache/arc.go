package cache

import (
	"container/list"
	"sync"
)

// arcCache implements Megiddo & Modha's Adaptive Replacement Cache
//: two LRU lists T1 (recency) and T2 (frequency) holding
// live entries, backed by ghost lists B1/B2 (keys only) that let the
// cache adapt its target T1 size p based on which list is thrashing.
// Like the 2Q strategy, no ecosystem ARC implementation surfaced in
// the reference corpus (DESIGN.md); hand-rolled over container/list.
type arcCache struct {
	mu sync.Mutex

	capacity int
	p        int // adaptive target size for T1

	t1, t2, b1, b2             *list.List
	t1idx, t2idx, b1idx, b2idx map[string]*list.Element

	hits, misses int64
}

type arcEntry struct {
	key   string
	value any
}

func newARCCache(capacity int) *arcCache {
	return &arcCache{
		capacity: capacity,
		t1:       list.New(), t2: list.New(), b1: list.New(), b2: list.New(),
		t1idx: make(map[string]*list.Element),
		t2idx: make(map[string]*list.Element),
		b1idx: make(map[string]*list.Element),
		b2idx: make(map[string]*list.Element),
	}
}

func (c *arcCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.t1idx[key]; ok {
		entry := el.Value.(*arcEntry)
		c.t1.Remove(el)
		delete(c.t1idx, key)
		newEl := c.t2.PushFront(entry)
		c.t2idx[key] = newEl
		c.hits++
		return entry.value, true
	}
	if el, ok := c.t2idx[key]; ok {
		c.t2.MoveToFront(el)
		c.hits++
		return el.Value.(*arcEntry).value, true
	}
	c.misses++
	return nil, false
}

func (c *arcCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.t1idx[key]; ok {
		el.Value.(*arcEntry).value = value
		c.t1.Remove(el)
		newEl := c.t2.PushFront(el.Value)
		delete(c.t1idx, key)
		c.t2idx[key] = newEl
		return
	}
	if el, ok := c.t2idx[key]; ok {
		el.Value.(*arcEntry).value = value
		c.t2.MoveToFront(el)
		return
	}

	if el, ok := c.b1idx[key]; ok {
		ratio := 1
		if c.b1.Len() > 0 && c.b2.Len() > 0 {
			ratio = c.b2.Len() / c.b1.Len()
		}
		if ratio < 1 {
			ratio = 1
		}
		c.p = minInt(c.capacity, c.p+ratio)
		c.replace(key)
		c.b1.Remove(el)
		delete(c.b1idx, key)
		newEl := c.t2.PushFront(&arcEntry{key: key, value: value})
		c.t2idx[key] = newEl
		return
	}

	if el, ok := c.b2idx[key]; ok {
		ratio := 1
		if c.b1.Len() > 0 && c.b2.Len() > 0 {
			ratio = c.b1.Len() / c.b2.Len()
		}
		if ratio < 1 {
			ratio = 1
		}
		c.p = maxInt(0, c.p-ratio)
		c.replace(key)
		c.b2.Remove(el)
		delete(c.b2idx, key)
		newEl := c.t2.PushFront(&arcEntry{key: key, value: value})
		c.t2idx[key] = newEl
		return
	}

	// Brand new key.
	l1 := c.t1.Len() + c.b1.Len()
	if l1 == c.capacity {
		if c.t1.Len() < c.capacity {
			c.evictGhostLRU(c.b1, c.b1idx)
			c.replace(key)
		} else {
			c.evictRealLRU(c.t1, c.t1idx)
		}
	} else if l1 < c.capacity {
		total := c.t1.Len() + c.t2.Len() + c.b1.Len() + c.b2.Len()
		if total >= c.capacity {
			if total == 2*c.capacity {
				c.evictGhostLRU(c.b2, c.b2idx)
			}
			c.replace(key)
		}
	}

	newEl := c.t1.PushFront(&arcEntry{key: key, value: value})
	c.t1idx[key] = newEl
}

// replace implements ARC's core REPLACE(x) step: moves the LRU entry
// of T1 or T2 into its corresponding ghost list, dropping its value.
func (c *arcCache) replace(missedKey string) {
	_, inB2 := c.b2idx[missedKey]
	if c.t1.Len() >= 1 && ((inB2 && c.t1.Len() == c.p) || c.t1.Len() > c.p) {
		back := c.t1.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*arcEntry)
		c.t1.Remove(back)
		delete(c.t1idx, entry.key)
		ghostEl := c.b1.PushFront(entry.key)
		c.b1idx[entry.key] = ghostEl
		return
	}
	back := c.t2.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*arcEntry)
	c.t2.Remove(back)
	delete(c.t2idx, entry.key)
	ghostEl := c.b2.PushFront(entry.key)
	c.b2idx[entry.key] = ghostEl
}

func (c *arcCache) evictRealLRU(l *list.List, idx map[string]*list.Element) {
	back := l.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*arcEntry)
	l.Remove(back)
	delete(idx, entry.key)
}

func (c *arcCache) evictGhostLRU(l *list.List, idx map[string]*list.Element) {
	back := l.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	l.Remove(back)
	delete(idx, key)
}

func (c *arcCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, inT1 := c.t1idx[key]
	_, inT2 := c.t2idx[key]
	return inT1 || inT2
}

func (c *arcCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.t1idx[key]; ok {
		c.t1.Remove(el)
		delete(c.t1idx, key)
	}
	if el, ok := c.t2idx[key]; ok {
		c.t2.Remove(el)
		delete(c.t2idx, key)
	}
	if el, ok := c.b1idx[key]; ok {
		c.b1.Remove(el)
		delete(c.b1idx, key)
	}
	if el, ok := c.b2idx[key]; ok {
		c.b2.Remove(el)
		delete(c.b2idx, key)
	}
}

func (c *arcCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t1.Init()
	c.t2.Init()
	c.b1.Init()
	c.b2.Init()
	c.t1idx = make(map[string]*list.Element)
	c.t2idx = make(map[string]*list.Element)
	c.b1idx = make(map[string]*list.Element)
	c.b2idx = make(map[string]*list.Element)
	c.p = 0
	c.hits, c.misses = 0, 0
}

func (c *arcCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		Size:     c.t1.Len() + c.t2.Len(),
		Capacity: c.capacity,
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
