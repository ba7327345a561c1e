package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// lruStore is a bounded in-process store with per-entry expiry. Expired
// entries are dropped lazily on access or evicted by size.
type lruStore struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front = most recently used
	now     func() time.Time
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

func newLRUStore(maxSize int) *lruStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &lruStore{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

func (s *lruStore) get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*lruEntry)
	if !s.now().Before(entry.expiresAt) {
		s.remove(elem)
		return nil, nil
	}
	s.order.MoveToFront(elem)
	return entry.value, nil
}

func (s *lruStore) set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(ttl)
	if elem, ok := s.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		s.order.MoveToFront(elem)
		return nil
	}

	s.items[key] = s.order.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	for s.order.Len() > s.maxSize {
		s.remove(s.order.Back())
	}
	return nil
}

func (s *lruStore) ping(context.Context) error { return nil }

func (s *lruStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*list.Element)
	s.order.Init()
	return nil
}

func (s *lruStore) stats() (size int, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len(), s.maxSize
}

func (s *lruStore) remove(elem *list.Element) {
	s.order.Remove(elem)
	delete(s.items, elem.Value.(*lruEntry).key)
}
