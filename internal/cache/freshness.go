package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/util"
)

const asyncWriteTimeout = 5 * time.Second

// Freshness decides whether upstream data for an exact (owner, data type,
// range) key must be refetched. Store failures are treated as misses.
type Freshness struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
	wg     sync.WaitGroup
}

// Option configures a Freshness policy
type Option func(*Freshness)

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(f *Freshness) { f.now = now }
}

// NewFreshness creates a new freshness policy over store
func NewFreshness(store Store, opts ...Option) *Freshness {
	f := &Freshness{
		store:  store,
		now:    time.Now,
		logger: util.ComponentLogger("cache"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Store returns the underlying store
func (f *Freshness) Store() Store {
	return f.store
}

// Lookup reads the entry once. fresh is false for a miss, a store error or
// an entry older than ttl.
func (f *Freshness) Lookup(ctx context.Context, key Key, ttl time.Duration) (*models.CacheEntry, bool) {
	entry, err := f.store.Get(ctx, key)
	if err != nil {
		f.logger.Warn("Cache read failed, treating as miss",
			zap.String("key", key.String()),
			zap.Error(err))
		util.CacheLookupsTotal.WithLabelValues(string(key.DataType), "error").Inc()
		return nil, false
	}
	if entry == nil {
		util.CacheLookupsTotal.WithLabelValues(string(key.DataType), "miss").Inc()
		return nil, false
	}
	if f.now().Sub(entry.LastSyncedAt) > ttl {
		util.CacheLookupsTotal.WithLabelValues(string(key.DataType), "stale").Inc()
		return entry, false
	}
	util.CacheLookupsTotal.WithLabelValues(string(key.DataType), "hit").Inc()
	return entry, true
}

// ShouldRefresh reports whether the key is missing or older than ttl
func (f *Freshness) ShouldRefresh(ctx context.Context, key Key, ttl time.Duration) bool {
	_, fresh := f.Lookup(ctx, key, ttl)
	return !fresh
}

// Get decodes the cached payload into dst regardless of its age
func (f *Freshness) Get(ctx context.Context, key Key, dst interface{}) bool {
	entry, err := f.store.Get(ctx, key)
	if err != nil || entry == nil {
		return false
	}
	return Decode(entry, dst) == nil
}

// Decode unmarshals an entry's payload
func Decode(entry *models.CacheEntry, dst interface{}) error {
	if entry == nil || len(entry.Payload) == 0 {
		return fmt.Errorf("empty cache entry")
	}
	return json.Unmarshal(entry.Payload, dst)
}

// Set overwrites the entry for key with payload
func (f *Freshness) Set(ctx context.Context, key Key, payload interface{}, status models.SyncStatus) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}

	entry := &models.CacheEntry{
		OwnerID:      key.OwnerID,
		DataType:     key.DataType,
		StartDate:    key.Range.StartDate(),
		EndDate:      key.Range.EndDate(),
		Payload:      raw,
		LastSyncedAt: f.now(),
		Status:       status,
	}
	if err := f.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	return nil
}

// SetAsync writes in the background with its own timeout. Failures are
// logged and counted, never returned.
func (f *Freshness) SetAsync(key Key, payload interface{}, status models.SyncStatus) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()

		if err := f.Set(ctx, key, payload, status); err != nil {
			util.CacheWritesFailed.WithLabelValues(string(key.DataType)).Inc()
			f.logger.Error("Async cache write failed",
				zap.String("key", key.String()),
				zap.Error(err))
		}
	}()
}

// Flush blocks until pending async writes finish
func (f *Freshness) Flush() {
	f.wg.Wait()
}
