package redis

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"alphafactory/internal/domain"
	"alphafactory/internal/report"
)

func TestReportKey(t *testing.T) {
	if got := reportKey("abc"); got != "backtest:abc" {
		t.Errorf("reportKey = %q, want %q", got, "backtest:abc")
	}
}

type mapStore struct {
	mu      sync.Mutex
	reports map[string]*report.Report
	gets    int
}

func (m *mapStore) SaveReport(_ context.Context, r *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = r
	return nil
}

func (m *mapStore) GetReport(_ context.Context, id string) (*report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	r, ok := m.reports[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (m *mapStore) ListReports(context.Context, int) ([]report.Summary, error) {
	return nil, nil
}

type mapCache struct {
	reports map[string]*report.Report
	failSet bool
}

func (c *mapCache) Get(_ context.Context, id string) (*report.Report, error) {
	r, ok := c.reports[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (c *mapCache) Set(_ context.Context, r *report.Report) error {
	if c.failSet {
		return errors.New("redis: down")
	}
	c.reports[r.ID] = r
	return nil
}

func TestCachedStoreReadThrough(t *testing.T) {
	ctx := context.Background()
	backing := &mapStore{reports: map[string]*report.Report{"r1": {ID: "r1"}}}
	cache := &mapCache{reports: map[string]*report.Report{}}
	s := NewCachedStore(backing, cache)

	for i := 0; i < 3; i++ {
		r, err := s.GetReport(ctx, "r1")
		if err != nil || r.ID != "r1" {
			t.Fatalf("GetReport = %v, %v", r, err)
		}
	}
	if backing.gets != 1 {
		t.Errorf("backing store hit %d times, want 1", backing.gets)
	}

	if _, err := s.GetReport(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetReport(missing) = %v, want ErrNotFound", err)
	}
}

func TestCachedStoreIgnoresCacheFailure(t *testing.T) {
	ctx := context.Background()
	backing := &mapStore{reports: map[string]*report.Report{}}
	s := NewCachedStore(backing, &mapCache{reports: map[string]*report.Report{}, failSet: true})

	if err := s.SaveReport(ctx, &report.Report{ID: "r2"}); err != nil {
		t.Fatalf("SaveReport = %v, want nil despite cache failure", err)
	}
	if _, ok := backing.reports["r2"]; !ok {
		t.Error("report not persisted")
	}
}

// TestReportCacheLive needs a Redis server in AF_TEST_REDIS_ADDR.
func TestReportCacheLive(t *testing.T) {
	addr := os.Getenv("AF_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AF_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{Addr: addr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	rc := NewReportCache(c, time.Minute)
	r := &report.Report{ID: uuid.NewString(), Strategy: "sma_cross", NumTrades: 3}
	if err := rc.Set(ctx, r); err != nil {
		t.Fatalf("Set: %v", err)
	}
	t.Cleanup(func() { c.Underlying().Del(ctx, reportKey(r.ID)) })

	got, err := rc.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.NumTrades != 3 || got.Strategy != "sma_cross" {
		t.Errorf("Get = %+v, want the cached report", got)
	}
	if _, err := rc.Get(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}
