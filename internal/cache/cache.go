// Package cache implements the per-user TTL key/value store shared by the
// categorization analyzers. Every key is namespaced with its owning user id
// so that no lookup can ever cross users.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"gmaildispatch/pkg/logger"
)

// DefaultTTL is the process-wide default entry lifetime when a caller does
// not specify one.
const DefaultTTL = time.Hour

type entry struct {
	payload  any
	inserted time.Time
	ttl      time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.inserted.Add(e.ttl))
}

// Cache is a shared, strictly-keyed in-memory store. All keys must begin
// with "user:{uid}:"; Set enforces this by construction via the key-builder
// helpers below, but also defends the invariant directly in Set.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	log     *zap.Logger

	sweepInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
}

// New constructs a Cache and starts its periodic expiry sweep. Call Close
// to stop the sweep goroutine.
func New(sweepInterval time.Duration) *Cache {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	c := &Cache{
		entries:       make(map[string]entry),
		log:           logger.L().Named("cache"),
		sweepInterval: sweepInterval,
		done:          make(chan struct{}),
	}
	c.wg.Add(1)
	go c.sweepLoop()
	return c
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n := c.CleanExpired()
			if n > 0 {
				c.log.Debug("swept expired cache entries", zap.Int("count", n))
			}
		case <-c.done:
			return
		}
	}
}

// Close stops the background sweep. Safe to call once.
func (c *Cache) Close() {
	close(c.done)
	c.wg.Wait()
}

// Get returns the payload stored under key if present and unexpired. A miss
// (absent or expired) returns ok=false; an expired entry is deleted as a
// side effect ("lazy eviction on read").
func (c *Cache) Get(key string) (payload any, ok bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()
	if !found {
		return nil, false
	}
	if e.expired(time.Now()) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.payload, true
}

// Set inserts or overwrites the entry under key, bound to userID. ttl<=0
// uses DefaultTTL. Panics in development would be too harsh for a bad
// caller; instead Set silently refuses to write unnamespaced keys, logging
// the attempt, since writing one would breach the cross-user isolation
// invariant.
func (c *Cache) Set(key, userID string, payload any, ttl time.Duration) {
	if !ownedBy(key, userID) {
		c.log.Error("refusing to write cache key not namespaced to its user",
			zap.String("key", key), zap.String("user_id", userID))
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{payload: payload, inserted: time.Now(), ttl: ttl}
	c.mu.Unlock()
}

// Delete removes a single key, if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeletePrefix removes every key beginning with prefix, used to flush a
// user's cache entries (or a single analyzer's namespace within a user)
// after categorization writes new enrichment.
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if hasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Flush clears every entry in the cache, across all users.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// CleanExpired removes all currently-expired entries and returns the count
// removed. Intended to be called periodically; also runs automatically on
// the sweep interval.
func (c *Cache) CleanExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func ownedBy(key, userID string) bool {
	prefix := "user:" + userID + ":"
	return hasPrefix(key, prefix)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Key-builder helpers. These are the only sanctioned way to produce a cache
// key; every one embeds the user id as the second colon-delimited segment.

// EmailListKey builds the key for a cached email-listing result, fingerprinting
// the query options via their canonical JSON encoding.
func EmailListKey(userID string, options any) string {
	return fmt.Sprintf("user:%s:email-list:%s", userID, canonicalFingerprint(options))
}

// SingleEmailKey builds the key for a single cached email record.
func SingleEmailKey(userID, emailID string) string {
	return fmt.Sprintf("user:%s:email:%s", userID, emailID)
}

// CategoryStatsKey builds the key for cached category-distribution stats.
func CategoryStatsKey(userID string) string {
	return fmt.Sprintf("user:%s:category-stats", userID)
}

// AnalyzerKey builds an analyzer-namespaced key, e.g. prefix "importance",
// "datesize", or "label".
func AnalyzerKey(prefix, userID, fingerprint string) string {
	return fmt.Sprintf("user:%s:%s:%s", userID, prefix, fingerprint)
}

// canonicalFingerprint produces a stable short hash of any JSON-marshalable
// value, independent of map key ordering (encoding/json already sorts map
// keys, but we additionally sort any string slices the caller may have
// embedded loosely via a pre-pass when the value is a map[string]any).
func canonicalFingerprint(v any) string {
	normalized := normalizeForFingerprint(v)
	b, err := json.Marshal(normalized)
	if err != nil {
		// Fall back to a fingerprint of the error text; this only occurs
		// for non-marshalable options, which is a caller bug, not a cache
		// failure that should propagate.
		b = []byte(fmt.Sprintf("unmarshalable:%v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

// normalizeForFingerprint sorts any []string fields it finds at the top
// level of a map, so that option bags built in different orders but with
// the same logical contents fingerprint identically.
func normalizeForFingerprint(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		if ss, ok := val.([]string); ok {
			cp := append([]string(nil), ss...)
			sort.Strings(cp)
			out[k] = cp
			continue
		}
		out[k] = val
	}
	return out
}
