// Package taskcache is the single in-memory store of task records. Every
// mutation of a record's lifecycle state or continuation gate goes through
// a Cache, which serializes them behind one mutex.
package taskcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"genflow/internal/async"
	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/metrics"
)

// DefaultTTL comfortably exceeds typical generation latency while still
// bounding memory held by abandoned tasks.
const DefaultTTL = 30 * time.Minute

// Options configures a Cache.
type Options struct {
	TTL     time.Duration
	Now     func() time.Time
	Logger  *infra.Logger
	Metrics *metrics.Recorder
}

// Stats is a point-in-time snapshot of the cache.
type Stats struct {
	Size         int                           `json:"size"`
	ByState      map[domain.LifecycleState]int `json:"by_state"`
	ExpiredCount int                           `json:"expired_count"`
}

// Cache stores task records keyed by task id with TTL expiry.
type Cache struct {
	ttl     time.Duration
	now     func() time.Time
	logger  *infra.Logger
	metrics *metrics.Recorder

	mu      sync.Mutex
	records map[string]*domain.TaskRecord

	sweepWG sync.WaitGroup
}

// New constructs an empty Cache.
func New(opts Options) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:     ttl,
		now:     now,
		logger:  infra.Component(opts.Logger, "taskcache"),
		metrics: opts.Metrics,
		records: make(map[string]*domain.TaskRecord),
	}
}

// TTL returns the configured record lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Create inserts record under taskID. It fails with domain.ErrAlreadyExists
// when a non-expired record is already present; an expired one is replaced.
func (c *Cache) Create(taskID string, record domain.TaskRecord) error {
	if taskID == "" {
		return fmt.Errorf("taskcache: task id is required")
	}
	now := c.now()

	defer c.publishSizes()
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.records[taskID]; ok && !existing.Expired(now) {
		return fmt.Errorf("taskcache: create %s: %w", taskID, domain.ErrAlreadyExists)
	}
	rec := record.Clone()
	rec.TaskID = taskID
	rec.ContinuationSent = false
	rec.State = domain.StateCreated
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(c.ttl)
	c.records[taskID] = &rec
	c.logger.Debug().Str("task_id", taskID).Time("expires_at", rec.ExpiresAt).Msg("taskcache: record created")
	return nil
}

// Get returns a snapshot of the record for taskID. Expired records are
// removed and reported absent. The first successful read moves a record from
// CREATED to ACTIVE.
func (c *Cache) Get(taskID string) (domain.TaskRecord, bool) {
	defer c.publishSizes()
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.liveLocked(taskID)
	if !ok {
		return domain.TaskRecord{}, false
	}
	if rec.State == domain.StateCreated {
		rec.State = domain.StateActive
	}
	return rec.Clone(), true
}

// MarkContinuationSent flips the continuation gate from false to true and
// reports whether this caller performed the flip. It is the only
// de-duplication point for continuations.
func (c *Cache) MarkContinuationSent(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.liveLocked(taskID)
	if !ok || rec.ContinuationSent {
		return false
	}
	rec.ContinuationSent = true
	return true
}

// ReleaseContinuation resets the gate after a failed continuation so a later
// poll may retry it.
func (c *Cache) ReleaseContinuation(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[taskID]; ok {
		rec.ContinuationSent = false
	}
}

// Complete marks the record COMPLETED and reports whether it existed.
func (c *Cache) Complete(taskID string) bool {
	defer c.publishSizes()
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.liveLocked(taskID)
	if !ok {
		return false
	}
	rec.State = domain.StateCompleted
	return true
}

// Cleanup removes the record and reports whether a live one existed. An
// expired record is removed too but reported absent, as Get would.
func (c *Cache) Cleanup(taskID string) bool {
	defer c.publishSizes()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.liveLocked(taskID); !ok {
		return false
	}
	delete(c.records, taskID)
	return true
}

// EvictExpired removes every expired record and returns how many were removed.
func (c *Cache) EvictExpired() int {
	now := c.now()
	c.mu.Lock()
	removed := 0
	for id, rec := range c.records {
		if rec.Expired(now) {
			delete(c.records, id)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("taskcache: evicted expired records")
	}
	c.metrics.ObserveEvictions(removed)
	c.publishSizes()
	return removed
}

// Stats summarizes the cache contents without evicting anything.
func (c *Cache) Stats() Stats {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{
		Size: len(c.records),
		ByState: map[domain.LifecycleState]int{
			domain.StateCreated:   0,
			domain.StateActive:    0,
			domain.StateCompleted: 0,
		},
	}
	for _, rec := range c.records {
		stats.ByState[rec.State]++
		if rec.Expired(now) {
			stats.ExpiredCount++
		}
	}
	return stats
}

// StartSweeper runs EvictExpired every interval until ctx is cancelled.
// Wait blocks until the sweeper has exited.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	async.Go(c.logger, &c.sweepWG, "taskcache-sweeper", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.EvictExpired()
			}
		}
	})
}

// Wait blocks until background sweepers have stopped.
func (c *Cache) Wait() {
	c.sweepWG.Wait()
}

// liveLocked returns the stored record, evicting it when expired. c.mu must be held.
func (c *Cache) liveLocked(taskID string) (*domain.TaskRecord, bool) {
	rec, ok := c.records[taskID]
	if !ok {
		return nil, false
	}
	if rec.Expired(c.now()) {
		delete(c.records, taskID)
		return nil, false
	}
	return rec, true
}

// publishSizes mirrors the per-state record counts into the cache gauge.
// c.mu must not be held.
func (c *Cache) publishSizes() {
	if c.metrics == nil {
		return
	}
	stats := c.Stats()
	for state, n := range stats.ByState {
		c.metrics.SetCacheEntries(string(state), n)
	}
}
