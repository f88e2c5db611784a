package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
)

// MemoryStore is a process-local Store: a set of LRU shards with per-entry
// TTL and size-based eviction. Keys are spread over shards by xxhash so
// concurrent readers of unrelated keys rarely share a lock.
type MemoryStore struct {
	shards []*shard
	mask   uint64
	clock  clockwork.Clock
}

type shard struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	lru     *list.List
}

type entry struct {
	key       string
	data      []byte
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	maxEntries int
	shards     int
	clock      clockwork.Clock
}

// WithMaxEntries bounds the number of entries held across all shards.
func WithMaxEntries(n int) MemoryOption {
	return func(o *memoryOptions) { o.maxEntries = n }
}

// WithShards sets the shard count, rounded up to a power of two.
func WithShards(n int) MemoryOption {
	return func(o *memoryOptions) { o.shards = n }
}

func WithClock(c clockwork.Clock) MemoryOption {
	return func(o *memoryOptions) { o.clock = c }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	o := memoryOptions{maxEntries: 10000, shards: 16, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	n := 1
	for n < o.shards {
		n <<= 1
	}
	perShard := o.maxEntries / n
	if perShard < 1 {
		perShard = 1
	}

	s := &MemoryStore{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
		clock:  o.clock,
	}
	for i := range s.shards {
		s.shards[i] = &shard{
			maxSize: perShard,
			items:   make(map[string]*list.Element),
			lru:     list.New(),
		}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

// Get returns a copy of the value held under key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	elem, exists := sh.items[key]
	if !exists {
		return nil, false, nil
	}

	e := elem.Value.(*entry)
	if !s.clock.Now().Before(e.expiresAt) {
		sh.removeElement(elem)
		return nil, false, nil
	}

	sh.lru.MoveToFront(elem)
	return append([]byte(nil), e.data...), true, nil
}

// Set stores a copy of value. A non-positive ttl stores nothing.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if ttl <= 0 {
		if elem, exists := sh.items[key]; exists {
			sh.removeElement(elem)
		}
		return nil
	}

	e := &entry{
		key:       key,
		data:      append([]byte(nil), value...),
		expiresAt: s.clock.Now().Add(ttl),
	}

	if elem, exists := sh.items[key]; exists {
		elem.Value = e
		sh.lru.MoveToFront(elem)
		return nil
	}

	sh.items[key] = sh.lru.PushFront(e)

	if sh.lru.Len() > sh.maxSize {
		if oldest := sh.lru.Back(); oldest != nil {
			sh.removeElement(oldest)
		}
	}
	return nil
}

// Delete removes keys; absent keys are ignored.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.Lock()
		if elem, exists := sh.items[key]; exists {
			sh.removeElement(elem)
		}
		sh.mu.Unlock()
	}
	return nil
}

// CleanExpired removes expired entries and returns how many were dropped.
func (s *MemoryStore) CleanExpired() int {
	now := s.clock.Now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		var expired []*list.Element
		for elem := sh.lru.Front(); elem != nil; elem = elem.Next() {
			if !now.Before(elem.Value.(*entry).expiresAt) {
				expired = append(expired, elem)
			}
		}
		for _, elem := range expired {
			sh.removeElement(elem)
		}
		removed += len(expired)
		sh.mu.Unlock()
	}
	return removed
}

// Size returns the number of entries held, expired or not.
func (s *MemoryStore) Size() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

func (sh *shard) removeElement(elem *list.Element) {
	delete(sh.items, elem.Value.(*entry).key)
	sh.lru.Remove(elem)
}
