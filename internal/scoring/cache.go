package scoring

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// cacheEntry is owned exclusively by the cache and evicted on TTL
// expiry or explicit invalidation.
type cacheEntry struct {
	score      Score
	insertedAt time.Time
	ttl        time.Duration
}

// Cache is a TTL cache of scores keyed by (leadID, modelID). Expired
// entries are never returned even if the sweeper has not collected
// them yet.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	sweep   time.Duration
	now     func() time.Time
}

// NewCache creates a cache with the given default TTL and sweep cadence.
func NewCache(ttl, sweep time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		sweep:   sweep,
		now:     time.Now,
	}
}

func cacheKey(leadID, modelID string) string {
	return leadID + "|" + modelID
}

// Get returns the cached score if present and within TTL.
func (c *Cache) Get(leadID, modelID string) (Score, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[cacheKey(leadID, modelID)]
	if !ok || c.now().Sub(e.insertedAt) > e.ttl {
		return Score{}, false
	}
	return e.score, true
}

// Put stores a score under the current default TTL.
func (c *Cache) Put(s Score) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(s.LeadID, s.ModelID)] = cacheEntry{
		score:      s,
		insertedAt: c.now(),
		ttl:        c.ttl,
	}
}

// InvalidateLead drops all cached scores for a lead across models.
func (c *Cache) InvalidateLead(leadID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := leadID + "|"
	removed := 0
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Clear drops everything.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	return n
}

// SetTTL updates the default TTL for subsequent inserts. Existing
// entries keep the TTL they were stored with.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// TTL returns the current default TTL.
func (c *Cache) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttl
}

// Len returns the number of entries including not-yet-swept expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartSweeper evicts expired entries on a fixed cadence until ctx is
// canceled. Runs off the inference path.
func (c *Cache) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.evictExpired(); n > 0 {
					log.Debug().Int("evicted", n).Msg("score cache sweep")
				}
			}
		}
	}()
}

func (c *Cache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.insertedAt) > e.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
