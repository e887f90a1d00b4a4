// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"math"
	"sync"
	"time"

	"meridian/platform/shared/logger"
)

// CacheStats is the counter snapshot exposed through GetHealth. Corrupt
// counts stored fingerprints that could not be compared during lookups.
type CacheStats struct {
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Corrupt   int64   `json:"corrupt"`
	HitRate   float64 `json:"hit_rate"`
}

type cacheEntry struct {
	fingerprint []float64
	response    Response
	storedAt    time.Time
	lastUsedAt  time.Time
}

// ResponseCache matches requests by fingerprint similarity rather than
// exact text, so paraphrased repeats of a question still hit. Eviction
// is least-recently-used by entry count; expiry is checked lazily on
// lookup and eagerly during Trim.
type ResponseCache struct {
	maxSize   int
	ttl       time.Duration
	threshold float64
	log       *logger.Logger

	mu        sync.Mutex
	entries   map[string]*cacheEntry
	hits      int64
	misses    int64
	evictions int64
	corrupt   int64
	now       func() time.Time
}

// NewResponseCache creates a cache that answers lookups whose cosine
// similarity to a stored fingerprint is at least threshold.
func NewResponseCache(maxSize int, ttl time.Duration, threshold float64) *ResponseCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResponseCache{
		maxSize:   maxSize,
		ttl:       ttl,
		threshold: threshold,
		log:       logger.New("cache"),
		entries:   make(map[string]*cacheEntry),
		now:       time.Now,
	}
}

// Lookup scans for the most similar live entry. It returns the cached
// response and true only when the best similarity clears the threshold.
// Expired entries found during the scan are removed. Entries whose
// fingerprint cannot be compared with the probe (mismatched length, zero
// magnitude, NaN) are counted as corrupt, logged, and skipped rather
// than treated as errors.
func (c *ResponseCache) Lookup(fingerprint []float64) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var bestKey string
	var bestScore float64
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, key)
			c.evictions++
			continue
		}
		score, ok := cosineSimilarity(fingerprint, entry.fingerprint)
		if !ok {
			c.corrupt++
			cacheCorruptTotal.Inc()
			c.log.Warn("", "unusable fingerprint skipped during lookup", map[string]interface{}{
				"key":        key,
				"probe_len":  len(fingerprint),
				"stored_len": len(entry.fingerprint),
			})
			continue
		}
		// Ties go to the most recently inserted entry.
		if score > bestScore ||
			(bestKey != "" && score == bestScore && entry.storedAt.After(c.entries[bestKey].storedAt)) {
			bestScore = score
			bestKey = key
		}
	}

	if bestKey == "" || bestScore < c.threshold {
		c.misses++
		cacheMissesTotal.Inc()
		return Response{}, false
	}

	entry := c.entries[bestKey]
	entry.lastUsedAt = now
	c.hits++
	cacheHitsTotal.Inc()
	resp := entry.response
	resp.CacheHit = true
	return resp, true
}

// Store inserts a response under its request fingerprint, evicting the
// least recently used entry when the cache is full. Responses flagged
// as degraded are never stored.
func (c *ResponseCache) Store(key string, fingerprint []float64, resp Response) {
	if resp.Degraded || len(fingerprint) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = &cacheEntry{
		fingerprint: fingerprint,
		response:    resp,
		storedAt:    now,
		lastUsedAt:  now,
	}
}

// Trim drops expired entries and then evicts least-recently-used ones
// until at most target entries remain. It is the memory-pressure hook
// used by the resource monitor; Trim(0) empties the cache.
func (c *ResponseCache) Trim(target int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, key)
			c.evictions++
			evicted++
		}
	}
	for len(c.entries) > target {
		c.evictOldestLocked()
		evicted++
	}
	return evicted
}

// Stats returns a snapshot of the cache counters.
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Corrupt:   c.corrupt,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Len reports the current number of entries.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResponseCache) evictOldestLocked() {
	var oldestKey string
	var oldestUse time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.lastUsedAt.Before(oldestUse) {
			oldestKey = key
			oldestUse = entry.lastUsedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// cosineSimilarity computes dot(a,b)/(|a||b|). The second return is
// false for mismatched lengths, empty vectors, zero magnitude, or NaN
// components, so a corrupt stored fingerprint degrades to a non-match
// instead of an error.
func cosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 || math.IsNaN(dot) {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
