package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	monitors map[string]Monitor
	checks   []Check
	stats    map[string]MonitorStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		monitors: make(map[string]Monitor),
		checks:   make([]Check, 0, 128),
		stats:    make(map[string]MonitorStats),
	}
}

func cloneMonitor(m Monitor) Monitor {
	m.LastStatuses = append([]Status(nil), m.LastStatuses...)
	return m
}

func (s *MemoryStore) GetMonitors(ctx context.Context, filters MonitorFilters) ([]Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		if filters.Active != nil && m.IsActive != *filters.Active {
			continue
		}
		out = append(out, cloneMonitor(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetMonitor(ctx context.Context, id string) (*Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.monitors[id]
	if !ok {
		return nil, ErrMonitorNotFound
	}
	m = cloneMonitor(m)
	return &m, nil
}

func (s *MemoryStore) CreateMonitor(ctx context.Context, monitor *Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if monitor.ID == "" {
		monitor.ID = uuid.New().String()
	}
	now := time.Now()
	monitor.CreatedAt = now
	monitor.UpdatedAt = now
	s.monitors[monitor.ID] = cloneMonitor(*monitor)
	return nil
}

func (s *MemoryStore) UpdateMonitor(ctx context.Context, monitor *Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	monitor.UpdatedAt = time.Now()
	s.monitors[monitor.ID] = cloneMonitor(*monitor)
	return nil
}

func (s *MemoryStore) DeleteMonitor(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.monitors, id)
	return nil
}

func (s *MemoryStore) AppendCheck(ctx context.Context, check *Check) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if check.ID == "" {
		check.ID = uuid.New().String()
	}
	if check.CreatedAt.IsZero() {
		check.CreatedAt = time.Now()
	}
	s.checks = append(s.checks, *check)
	return nil
}

func (s *MemoryStore) GetChecks(ctx context.Context, filters CheckFilters) ([]Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Check
	for i := len(s.checks) - 1; i >= 0; i-- {
		c := s.checks[i]
		if filters.MonitorID != "" && c.MonitorID != filters.MonitorID {
			continue
		}
		if filters.Since != nil && c.CreatedAt.Before(*filters.Since) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteOrphanedChecks(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterChecks(func(c Check) bool {
		_, ok := s.monitors[c.MonitorID]
		return !ok
	}), nil
}

func (s *MemoryStore) DeleteChecksBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterChecks(func(c Check) bool { return c.CreatedAt.Before(cutoff) }), nil
}

// filterChecks drops every check matching drop. Caller holds s.mu.
func (s *MemoryStore) filterChecks(drop func(Check) bool) int {
	kept := s.checks[:0]
	deleted := 0
	for _, c := range s.checks {
		if drop(c) {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	s.checks = kept
	return deleted
}

func (s *MemoryStore) GetStats(ctx context.Context, monitorID string) (*MonitorStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[monitorID]
	if !ok {
		return nil, ErrStatsNotFound
	}
	return &st, nil
}

func (s *MemoryStore) UpdateStats(ctx context.Context, stats *MonitorStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if stats.CreatedAt.IsZero() {
		stats.CreatedAt = now
	}
	stats.UpdatedAt = now
	s.stats[stats.MonitorID] = *stats
	return nil
}

func (s *MemoryStore) DeleteStats(ctx context.Context, monitorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stats, monitorID)
	return nil
}

func (s *MemoryStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &DatabaseStats{
		TotalMonitors: len(s.monitors),
		TotalChecks:   len(s.checks),
		TotalStats:    len(s.stats),
	}
	for _, c := range s.checks {
		if stats.OldestCheck.IsZero() || c.CreatedAt.Before(stats.OldestCheck) {
			stats.OldestCheck = c.CreatedAt
		}
		if c.CreatedAt.After(stats.NewestCheck) {
			stats.NewestCheck = c.CreatedAt
		}
	}
	return stats, nil
}

func (s *MemoryStore) Close() error { return nil }
