// Package cache holds resolved verdicts keyed by (token, transaction).
//
// Entries live until a reorg invalidates them. Every invalidation bumps an
// epoch; writers that started resolving before an invalidation use
// PutIfEpoch so a stale answer cannot be written back afterwards.
package cache

import (
	"sync"
	"sync/atomic"

	klog "github.com/ActorForth/ECash-SLPDB/internal/log"
	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
	"github.com/rs/zerolog"
)

// Cache is a concurrency-safe verdict cache with optional write-through
// persistence.
type Cache struct {
	mu      sync.RWMutex
	entries map[verdict.Key]verdict.Verdict
	epoch   uint64
	store   *Store

	hits   atomic.Uint64
	misses atomic.Uint64
	logger zerolog.Logger
}

// Info summarizes cache state.
type Info struct {
	Entries    int    `json:"entries"`
	Epoch      uint64 `json:"epoch"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Persistent bool   `json:"persistent"`
}

// New creates an empty cache. store may be nil.
func New(store *Store) *Cache {
	return &Cache{
		entries: make(map[verdict.Key]verdict.Verdict),
		store:   store,
		logger:  klog.Cache,
	}
}

// Load restores persisted verdicts. Restored entries report Source Cached
// and remember their original source in Origin.
func (c *Cache) Load() (int, error) {
	if c.store == nil {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	err := c.store.ForEach(func(v verdict.Verdict) error {
		if v.Outcome == verdict.Indeterminate {
			return nil
		}
		if v.Source != verdict.SourceCached {
			v.Origin = v.Source
			v.Source = verdict.SourceCached
		}
		if !v.Supported() {
			return nil
		}
		c.entries[v.Key()] = v
		n++
		return nil
	})
	return n, err
}

// Get returns the cached verdict for (tokenID, txID).
func (c *Cache) Get(tokenID types.TokenID, txID types.Hash) (verdict.Verdict, bool) {
	c.mu.RLock()
	v, ok := c.entries[verdict.Key{TokenID: tokenID, TxID: txID}]
	c.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return verdict.Verdict{}, false
	}
	c.hits.Add(1)
	return v.Clone(), true
}

// Put stores v unless it is Indeterminate or an unsupported Valid.
func (c *Cache) Put(v verdict.Verdict) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(v)
}

// PutIfEpoch stores v only if no invalidation happened since epoch was
// read.
func (c *Cache) PutIfEpoch(v verdict.Verdict, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	return c.putLocked(v)
}

func (c *Cache) putLocked(v verdict.Verdict) bool {
	if v.Outcome == verdict.Indeterminate || !v.Supported() {
		return false
	}
	v = v.Clone()
	c.entries[v.Key()] = v
	if c.store != nil {
		if err := c.store.Put(v); err != nil {
			c.logger.Warn().Err(err).Str("tx_id", v.TxID.String()).Msg("Persist verdict failed")
		}
	}
	return true
}

// InvalidateFrom removes verdicts observed at or above height. This is the
// reorg path: verdicts recorded on replaced blocks are dropped.
func (c *Cache) InvalidateFrom(height uint64) int {
	return c.invalidate(func(v verdict.Verdict) bool { return v.ObservedAt >= height })
}

// InvalidateAtOrBelow removes verdicts observed at or below height.
func (c *Cache) InvalidateAtOrBelow(height uint64) int {
	return c.invalidate(func(v verdict.Verdict) bool { return v.ObservedAt <= height })
}

// Clear removes every verdict.
func (c *Cache) Clear() int {
	return c.invalidate(func(verdict.Verdict) bool { return true })
}

func (c *Cache) invalidate(match func(verdict.Verdict) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	var removed []verdict.Key
	for k, v := range c.entries {
		if match(v) {
			delete(c.entries, k)
			removed = append(removed, k)
		}
	}
	if c.store != nil && len(removed) > 0 {
		if err := c.store.Delete(removed); err != nil {
			c.logger.Warn().Err(err).Int("entries", len(removed)).Msg("Delete persisted verdicts failed")
		}
	}
	if len(removed) > 0 {
		c.logger.Info().Int("entries", len(removed)).Uint64("epoch", c.epoch).Msg("Verdicts invalidated")
	}
	return len(removed)
}

// Epoch returns the invalidation counter.
func (c *Cache) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Len returns the number of cached verdicts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Info returns a snapshot of cache counters.
func (c *Cache) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Info{
		Entries:    len(c.entries),
		Epoch:      c.epoch,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Persistent: c.store != nil,
	}
}
