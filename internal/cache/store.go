package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
	"github.com/Aniket17200/Profitfirst/internal/redisclient"
)

// Key identifies one cache entry. Ranges match exactly.
type Key struct {
	OwnerID  string
	DataType models.DataType
	Range    normalize.DateRange
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.OwnerID, k.DataType, k.Range.Key())
}

// Store persists cache entries. Get returns (nil, nil) when the key is absent.
type Store interface {
	Get(ctx context.Context, key Key) (*models.CacheEntry, error)
	Put(ctx context.Context, entry *models.CacheEntry) error
}

// Purger is implemented by stores that need explicit time-based cleanup.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}

// MemoryStore keeps entries in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]models.CacheEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.CacheEntry)}
}

func memoryKey(ownerID string, dataType models.DataType, start, end string) string {
	return ownerID + "|" + string(dataType) + "|" + start + "_" + end
}

// Get returns a copy of the stored entry
func (s *MemoryStore) Get(ctx context.Context, key Key) (*models.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[memoryKey(key.OwnerID, key.DataType, key.Range.StartDate(), key.Range.EndDate())]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Put overwrites the entry for the same owner, data type and range
func (s *MemoryStore) Put(ctx context.Context, entry *models.CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("nil cache entry")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[memoryKey(entry.OwnerID, entry.DataType, entry.StartDate, entry.EndDate)] = *entry
	return nil
}

// Purge removes entries last synced before olderThan
func (s *MemoryStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, entry := range s.entries {
		if entry.LastSyncedAt.Before(olderThan) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RedisStore keeps entries in Redis; retention is enforced by key expiry.
type RedisStore struct {
	client    *redisclient.Client
	retention time.Duration
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redisclient.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*models.CacheEntry, error) {
	return s.client.GetCacheEntry(ctx, key.OwnerID, key.DataType, key.Range.Key())
}

func (s *RedisStore) Put(ctx context.Context, entry *models.CacheEntry) error {
	return s.client.SetCacheEntry(ctx, entry, entry.StartDate+"_"+entry.EndDate, s.retention)
}
