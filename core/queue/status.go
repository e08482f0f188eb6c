package queue

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// =============================================================================
// Status Cache
// =============================================================================
//
// StatusCache keeps recent message lifecycle transitions in a hot in-memory
// cache so the serve surface can answer "what happened to my turn's analysis"
// without touching the relational store. It is advisory: the analysis_jobs
// table is the durable record, this cache only shortcuts the common lookup.

const (
	defaultNumCounters = 1e5
	defaultMaxCost     = 1e7
	defaultBufferItems = 64
)

// StatusRecord is the cached view of one message's state.
type StatusRecord struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Status    Status    `json:"status"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// cost estimates the record's memory footprint for admission.
func (r StatusRecord) cost() int64 {
	return int64(120 + len(r.MessageID) + len(r.SessionID) + len(r.Error))
}

// StatusCache is a bounded hot cache of message status records.
type StatusCache struct {
	cache *ristretto.Cache
}

// NewStatusCache creates a status cache. maxCost of 0 uses the default.
func NewStatusCache(maxCost int64) (*StatusCache, error) {
	if maxCost <= 0 {
		maxCost = defaultMaxCost
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultNumCounters,
		MaxCost:     maxCost,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create status cache: %w", err)
	}
	return &StatusCache{cache: cache}, nil
}

// Record stores the latest state for a message.
func (c *StatusCache) Record(record StatusRecord) {
	c.cache.Set(record.MessageID, record, record.cost())
}

// Get returns the cached state for a message, if present.
func (c *StatusCache) Get(messageID string) (StatusRecord, bool) {
	v, ok := c.cache.Get(messageID)
	if !ok {
		return StatusRecord{}, false
	}
	record, ok := v.(StatusRecord)
	return record, ok
}

// Wait blocks until pending writes are visible. Intended for tests.
func (c *StatusCache) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *StatusCache) Close() {
	c.cache.Close()
}
