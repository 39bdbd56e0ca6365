package workload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CacheKey identifies one heatmap computation.
type CacheKey struct {
	Scope         string
	Date          string
	BucketMinutes int
	StartHour     int
	EndHour       int
}

func (k CacheKey) String() string {
	return fmt.Sprintf("heatmap:%s:%s:%d:%d:%d", k.Scope, k.Date, k.BucketMinutes, k.StartHour, k.EndHour)
}

func keyFor(req Request) CacheKey {
	scope := "clinic"
	if req.DoctorID != uuid.Nil {
		scope = req.DoctorID.String()
	}
	return CacheKey{
		Scope:         scope,
		Date:          req.Date.Format("2006-01-02"),
		BucketMinutes: req.BucketMinutes,
		StartHour:     req.StartHour,
		EndHour:       req.EndHour,
	}
}

// Cache stores computed heatmaps. Implementations treat backend failures as
// misses; the cache only saves recomputation. Get never hands out memory
// shared with the stored entry.
type Cache interface {
	Get(ctx context.Context, key CacheKey) (*Heatmap, bool)
	Set(ctx context.Context, key CacheKey, hm *Heatmap, ttl time.Duration)
}

type memoryEntry struct {
	heatmap   *Heatmap
	expiresAt time.Time
}

// clone deep-copies rows and buckets so a caller can never edit a cached entry.
func (h *Heatmap) clone() *Heatmap {
	out := *h
	if h.Rows == nil {
		return &out
	}
	out.Rows = make([]Row, len(h.Rows))
	for i, row := range h.Rows {
		row.Buckets = append([]Bucket(nil), row.Buckets...)
		if row.DoctorID != nil {
			id := *row.DoctorID
			row.DoctorID = &id
		}
		out.Rows[i] = row
	}
	return &out
}

// MemoryCache is a process-local TTL cache with an injectable clock. Get and
// Set copy the heatmap.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[CacheKey]memoryEntry
	now     func() time.Time
}

func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: make(map[CacheKey]memoryEntry), now: now}
}

func (c *MemoryCache) Get(_ context.Context, key CacheKey) (*Heatmap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.heatmap.clone(), true
}

func (c *MemoryCache) Set(_ context.Context, key CacheKey, hm *Heatmap, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = memoryEntry{heatmap: hm.clone(), expiresAt: now.Add(ttl)}
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
