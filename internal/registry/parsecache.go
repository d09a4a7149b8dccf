package registry

import (
	"container/list"
	"sync"
	"time"

	"github.com/axonops/kafka-schema-registry/internal/schema"
)

// parseCache is a bounded LRU of parsed schemas keyed by (type, text,
// normalize). Registration and lookup both canonicalize the submitted text,
// and clients tend to resubmit the same schema, so parsing dominates without
// it.
type parseCache struct {
	mu      sync.Mutex
	size    int
	ttl     time.Duration
	order   *list.List
	entries map[string]*list.Element
}

type parseEntry struct {
	key    string
	parsed schema.ParsedSchema
	added  time.Time
}

func newParseCache(size int, ttl time.Duration) *parseCache {
	return &parseCache{
		size:    size,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *parseCache) get(key string) (schema.ParsedSchema, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := elem.Value.(*parseEntry)
	if c.ttl > 0 && time.Since(e.added) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return e.parsed, true
}

func (c *parseCache) put(key string, parsed schema.ParsedSchema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*parseEntry).parsed = parsed
		elem.Value.(*parseEntry).added = time.Now()
		return
	}
	c.entries[key] = c.order.PushFront(&parseEntry{key: key, parsed: parsed, added: time.Now()})
	for c.size > 0 && c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*parseEntry).key)
	}
}
