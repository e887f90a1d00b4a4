// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResponse(content string) Response {
	return Response{Content: content, Confidence: 0.9}
}

func TestCacheHitOnIdenticalFingerprint(t *testing.T) {
	c := NewResponseCache(10, time.Hour, 0.97)
	fp := []float64{0.1, 0.5, 0.8}

	c.Store("a", fp, testResponse("answer"))
	got, ok := c.Lookup(fp)
	require.True(t, ok)
	assert.Equal(t, "answer", got.Content)
	assert.True(t, got.CacheHit)
}

func TestCacheHitOnSimilarFingerprint(t *testing.T) {
	c := NewResponseCache(10, time.Hour, 0.97)

	c.Store("a", []float64{1, 0, 0.05}, testResponse("answer"))
	_, ok := c.Lookup([]float64{1, 0.01, 0.05})
	assert.True(t, ok)
}

func TestCacheMissBelowThreshold(t *testing.T) {
	c := NewResponseCache(10, time.Hour, 0.97)

	c.Store("a", []float64{1, 0, 0}, testResponse("answer"))
	_, ok := c.Lookup([]float64{0, 1, 0})
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.Hits)
}

func TestCacheLookupPicksMostSimilarEntry(t *testing.T) {
	c := NewResponseCache(10, time.Hour, 0.5)

	c.Store("far", []float64{1, 1, 0}, testResponse("far"))
	c.Store("near", []float64{1, 0, 0.1}, testResponse("near"))

	got, ok := c.Lookup([]float64{1, 0, 0.1})
	require.True(t, ok)
	assert.Equal(t, "near", got.Content)
}

func TestCacheSkipsMismatchedFingerprintLengths(t *testing.T) {
	c := NewResponseCache(10, time.Hour, 0.97)

	c.Store("short", []float64{1, 0}, testResponse("short"))
	c.Store("full", []float64{1, 0, 0}, testResponse("full"))

	got, ok := c.Lookup([]float64{1, 0, 0})
	require.True(t, ok)
	assert.Equal(t, "full", got.Content)
	assert.Equal(t, int64(1), c.Stats().Corrupt)
}

func TestCacheNaNFingerprintIsMiss(t *testing.T) {
	c := NewResponseCache(10, time.Hour, 0.97)
	fp := []float64{1, 0, 0}
	c.Store("a", fp, testResponse("answer"))

	// NaN probe never matches anything.
	_, ok := c.Lookup([]float64{math.NaN(), 0, 0})
	assert.False(t, ok)

	// A NaN component in a stored fingerprint is skipped as corrupt and
	// the healthy entry still answers.
	c.Store("bad", []float64{math.NaN(), 0, 0}, testResponse("bad"))
	got, ok := c.Lookup(fp)
	require.True(t, ok)
	assert.Equal(t, "answer", got.Content)
	assert.GreaterOrEqual(t, c.Stats().Corrupt, int64(2))
}

func TestCacheExpiresEntriesLazily(t *testing.T) {
	c := NewResponseCache(10, time.Minute, 0.97)
	now := time.Now()
	c.now = func() time.Time { return now }

	fp := []float64{1, 0, 0}
	c.Store("a", fp, testResponse("answer"))

	now = now.Add(2 * time.Minute)
	_, ok := c.Lookup(fp)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewResponseCache(2, time.Hour, 0.97)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Store("old", []float64{1, 0, 0}, testResponse("old"))
	now = now.Add(time.Second)
	c.Store("new", []float64{0, 1, 0}, testResponse("new"))

	// Touch "old" so "new" becomes the LRU entry.
	now = now.Add(time.Second)
	_, ok := c.Lookup([]float64{1, 0, 0})
	require.True(t, ok)

	now = now.Add(time.Second)
	c.Store("third", []float64{0, 0, 1}, testResponse("third"))

	assert.Equal(t, 2, c.Len())
	_, ok = c.Lookup([]float64{1, 0, 0})
	assert.True(t, ok, "recently used entry must survive")
	_, ok = c.Lookup([]float64{0, 1, 0})
	assert.False(t, ok, "LRU entry must be evicted")
}

func TestCacheNeverStoresDegradedResponses(t *testing.T) {
	c := NewResponseCache(10, time.Hour, 0.97)

	c.Store("a", []float64{1, 0, 0}, Response{Content: "sorry", Degraded: true})
	assert.Equal(t, 0, c.Len())
}

func TestCacheTrimHonorsTarget(t *testing.T) {
	c := NewResponseCache(100, time.Hour, 0.97)
	for i := 0; i < 20; i++ {
		c.Store(fmt.Sprintf("k%d", i), []float64{float64(i + 1), 1, 0}, testResponse("v"))
	}

	evicted := c.Trim(5)
	assert.Equal(t, 15, evicted)
	assert.Equal(t, 5, c.Len())

	evicted = c.Trim(0)
	assert.Equal(t, 5, evicted)
	assert.Equal(t, 0, c.Len())
}

func TestCacheTrimDropsExpiredFirst(t *testing.T) {
	c := NewResponseCache(100, time.Minute, 0.97)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Store("stale", []float64{1, 0, 0}, testResponse("stale"))
	now = now.Add(2 * time.Minute)
	c.Store("fresh", []float64{0, 1, 0}, testResponse("fresh"))

	evicted := c.Trim(10)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Lookup([]float64{0, 1, 0})
	assert.True(t, ok)
}

func TestCacheStatsHitRate(t *testing.T) {
	c := NewResponseCache(10, time.Hour, 0.97)
	fp := []float64{1, 0, 0}
	c.Store("a", fp, testResponse("answer"))

	c.Lookup(fp)
	c.Lookup(fp)
	c.Lookup([]float64{0, 1, 0})

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
	assert.Equal(t, 1, stats.Entries)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name   string
		a, b   []float64
		want   float64
		wantOK bool
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1.0, true},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.0, true},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1.0, true},
		{"length mismatch", []float64{1, 0}, []float64{1, 0, 0}, 0, false},
		{"empty", nil, nil, 0, false},
		{"zero magnitude", []float64{0, 0}, []float64{1, 1}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := cosineSimilarity(tt.a, tt.b)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}
