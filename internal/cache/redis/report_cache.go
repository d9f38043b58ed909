package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"alphafactory/internal/domain"
	"alphafactory/internal/report"
	"alphafactory/internal/store"
)

// DefaultReportTTL bounds how long a cached report lives.
const DefaultReportTTL = 24 * time.Hour

// ReportCache stores full reports as JSON strings.
//
// Key schema:
//
//	backtest:{id}  - JSON-encoded report.Report
type ReportCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewReportCache creates a ReportCache. A ttl <= 0 uses DefaultReportTTL.
func NewReportCache(c *Client, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = DefaultReportTTL
	}
	return &ReportCache{rdb: c.Underlying(), ttl: ttl}
}

func reportKey(id string) string { return "backtest:" + id }

// Set caches r under its ID.
func (rc *ReportCache) Set(ctx context.Context, r *report.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis: marshal report %s: %w", r.ID, err)
	}
	if err := rc.rdb.Set(ctx, reportKey(r.ID), data, rc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set report %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the cached report or domain.ErrNotFound.
func (rc *ReportCache) Get(ctx context.Context, id string) (*report.Report, error) {
	data, err := rc.rdb.Get(ctx, reportKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get report %s: %w", id, err)
	}
	var r report.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("redis: unmarshal report %s: %w", id, err)
	}
	return &r, nil
}

// Cache is the read-through interface CachedStore needs.
type Cache interface {
	Get(ctx context.Context, id string) (*report.Report, error)
	Set(ctx context.Context, r *report.Report) error
}

// CachedStore puts a Cache in front of a store.ResultStore. Cache failures
// never fail a call; they fall through to the store.
type CachedStore struct {
	store.ResultStore
	cache Cache
}

// Compile-time interface check.
var _ store.ResultStore = (*CachedStore)(nil)

// NewCachedStore wraps next with cache.
func NewCachedStore(next store.ResultStore, cache Cache) *CachedStore {
	return &CachedStore{ResultStore: next, cache: cache}
}

// SaveReport persists r, then caches it.
func (s *CachedStore) SaveReport(ctx context.Context, r *report.Report) error {
	if err := s.ResultStore.SaveReport(ctx, r); err != nil {
		return err
	}
	_ = s.cache.Set(ctx, r)
	return nil
}

// GetReport serves from the cache and fills it on a miss.
func (s *CachedStore) GetReport(ctx context.Context, id string) (*report.Report, error) {
	if r, err := s.cache.Get(ctx, id); err == nil {
		return r, nil
	}
	r, err := s.ResultStore.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	_ = s.cache.Set(ctx, r)
	return r, nil
}
