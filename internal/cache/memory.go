package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dyike/TradingAgentsGo/models"
)

// MemoryStore is the in-process hot tier, a bounded LRU.
type MemoryStore struct {
	lru *lru.Cache[string, *models.CacheEntry]
}

func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = 512
	}
	c, _ := lru.New[string, *models.CacheEntry](size)
	return &MemoryStore{lru: c}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return e, nil
}

// Put stores the entry pointer; entries are never mutated after creation.
func (m *MemoryStore) Put(_ context.Context, entry *models.CacheEntry) error {
	m.lru.Add(entry.Key, entry)
	return nil
}

func (m *MemoryStore) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	var n int64
	for _, k := range m.lru.Keys() {
		if e, ok := m.lru.Peek(k); ok && e.CreatedAt.Before(olderThan) {
			m.lru.Remove(k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Count(context.Context) (int64, error) {
	return int64(m.lru.Len()), nil
}
