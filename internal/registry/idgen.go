package registry

import (
	"sync"

	"github.com/axonops/kafka-schema-registry/internal/storage"
)

// IDGenerator assigns schema ids on the leader. Ids are scoped per context.
type IDGenerator interface {
	// Init reseeds the generator from the store. Called after this node
	// becomes leader and has caught up with the log; before that no id may
	// be handed out.
	Init()
	// NextID returns the next candidate id for the given context.
	NextID(registryCtx string) int
}

// incrementalIDGenerator hands out max(observed)+1. The cache's MaxID never
// decreases, so ids assigned after a leader transition are strictly greater
// than anything the previous leader wrote.
type incrementalIDGenerator struct {
	mu    sync.Mutex
	cache storage.LookupCache
	next  map[string]int
}

// NewIncrementalIDGenerator builds the default generator over the given
// lookup cache.
func NewIncrementalIDGenerator(cache storage.LookupCache) IDGenerator {
	return &incrementalIDGenerator{cache: cache, next: make(map[string]int)}
}

func (g *incrementalIDGenerator) Init() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = make(map[string]int)
}

func (g *incrementalIDGenerator) NextID(registryCtx string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.next[registryCtx]
	if max := g.cache.MaxID(registryCtx); max >= next {
		next = max + 1
	}
	if next < 1 {
		next = 1
	}
	g.next[registryCtx] = next + 1
	return next
}
