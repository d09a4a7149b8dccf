package kafkastore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/axonops/kafka-schema-registry/internal/storage"
)

// MemStore implements storage.Store without Kafka: records are appended to
// an in-process log and applied to the cache synchronously. It backs the
// single-node mode and the registry tests; semantics (append, apply in
// order, replayable, leader-gated writes) mirror the Kafka-backed store.
type MemStore struct {
	mu    sync.Mutex
	cache storage.LookupCache
	log   []memRecord

	// writable mirrors the Kafka store's fenced writer: a resigned store
	// rejects writes with ErrNotLeader. Starts open for single-node use.
	writable atomic.Bool

	locksMu      sync.Mutex
	subjectLocks map[string]*sync.Mutex
}

type memRecord struct {
	key   storage.Key
	value storage.Value
}

// NewMemStore builds an in-process store over the given cache.
func NewMemStore(cache storage.LookupCache) *MemStore {
	s := &MemStore{
		cache:        cache,
		subjectLocks: make(map[string]*sync.Mutex),
	}
	s.writable.Store(true)
	return s
}

func (s *MemStore) Init(ctx context.Context) error { return nil }

func (s *MemStore) Put(ctx context.Context, key storage.Key, value storage.Value) error {
	if !s.writable.Load() {
		return storage.ErrNotLeader
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, memRecord{key, value})
	if key.KeyType() == storage.KeyTypeNoop {
		return nil
	}
	if value == nil {
		return s.cache.Delete(key)
	}
	return s.cache.Put(key, value)
}

func (s *MemStore) Delete(ctx context.Context, key storage.Key) error {
	return s.Put(ctx, key, nil)
}

func (s *MemStore) Get(key storage.Key) (storage.Value, error) {
	v := s.cache.Get(key)
	if v == nil {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (s *MemStore) GetAll(from, to storage.Key) (storage.CloseableIterator, error) {
	return s.cache.Range(from, to), nil
}

// WaitForReader is a no-op: the in-process log applies synchronously, so
// the cache is always caught up.
func (s *MemStore) WaitForReader(ctx context.Context, subj string) error { return nil }

func (s *MemStore) MarkLastWrittenOffsetInvalid() {}

func (s *MemStore) BecomeLeader(ctx context.Context) error {
	s.writable.Store(true)
	return nil
}

func (s *MemStore) ResignLeader() {
	s.writable.Store(false)
}

func (s *MemStore) LockFor(subject string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.subjectLocks[subject]
	if !ok {
		l = &sync.Mutex{}
		s.subjectLocks[subject] = l
	}
	return l
}

func (s *MemStore) Cache() storage.LookupCache { return s.cache }

func (s *MemStore) Close() error { return nil }

// Replay applies the recorded log to a fresh cache, in order. Tests use it
// to check that rebuilding from the log reproduces the live state.
func (s *MemStore) Replay(into storage.LookupCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.log {
		if rec.key.KeyType() == storage.KeyTypeNoop {
			continue
		}
		var err error
		if rec.value == nil {
			err = into.Delete(rec.key)
		} else {
			err = into.Put(rec.key, rec.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
