package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// storeSuite runs the same behaviour checks against every backend.
func storeSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("MonitorCRUD", func(t *testing.T) { testMonitorCRUD(t, open(t)) })
	t.Run("ChecksNewestFirst", func(t *testing.T) { testChecksNewestFirst(t, open(t)) })
	t.Run("OrphanCleanup", func(t *testing.T) { testOrphanCleanup(t, open(t)) })
	t.Run("RetentionCleanup", func(t *testing.T) { testRetentionCleanup(t, open(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, open(t)) })
}

func newMonitor(id string, active bool) *Monitor {
	return &Monitor{
		ID:       id,
		Name:     "monitor " + id,
		URL:      "https://" + id + ".example.com",
		Type:     ProtocolHTTPS,
		Interval: time.Minute,
		IsActive: active,
		Status:   StatusInitializing,
		N:        3,
		M:        5,
	}
}

func testMonitorCRUD(t *testing.T, s Store) {
	ctx := context.Background()

	if _, err := s.GetMonitor(ctx, "missing"); !errors.Is(err, ErrMonitorNotFound) {
		t.Fatalf("GetMonitor(missing) err = %v", err)
	}

	m := newMonitor("", true)
	if err := s.CreateMonitor(ctx, m); err != nil {
		t.Fatal(err)
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Fatalf("create did not assign id/timestamps: %+v", m)
	}
	if err := s.CreateMonitor(ctx, newMonitor("paused", false)); err != nil {
		t.Fatal(err)
	}

	m.Status = StatusDown
	m.LastStatuses = []Status{StatusUp, StatusDown}
	m.LastCheckedAt = time.Now().UTC().Truncate(time.Microsecond)
	if err := s.UpdateMonitor(ctx, m); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMonitor(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusDown || len(got.LastStatuses) != 2 || got.LastStatuses[1] != StatusDown {
		t.Fatalf("updated monitor = %+v", got)
	}
	if got.Interval != time.Minute || got.N != 3 || got.M != 5 {
		t.Fatalf("debounce fields lost: %+v", got)
	}

	active := true
	list, err := s.GetMonitors(ctx, MonitorFilters{Active: &active})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != m.ID {
		t.Fatalf("active filter returned %+v", list)
	}
	all, _ := s.GetMonitors(ctx, MonitorFilters{})
	if len(all) != 2 {
		t.Fatalf("got %d monitors, want 2", len(all))
	}

	if err := s.DeleteMonitor(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetMonitor(ctx, m.ID); !errors.Is(err, ErrMonitorNotFound) {
		t.Fatalf("deleted monitor still present: %v", err)
	}
}

func appendAt(t *testing.T, s Store, monitorID string, at time.Time, status Status) {
	t.Helper()
	c := &Check{MonitorID: monitorID, Type: ProtocolHTTPS, Status: status, ResponseTime: 12.5, CreatedAt: at}
	if status == StatusUp {
		c.HTTPStatusCode = 200
	}
	if err := s.AppendCheck(context.Background(), c); err != nil {
		t.Fatal(err)
	}
}

func testChecksNewestFirst(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond).Add(-time.Hour)
	for i := 0; i < 5; i++ {
		appendAt(t, s, "a", base.Add(time.Duration(i)*time.Minute), StatusUp)
	}
	appendAt(t, s, "b", base, StatusDown)
	// Prefix of another monitor ID must not leak in.
	appendAt(t, s, "ab", base, StatusDown)

	checks, err := s.GetChecks(ctx, CheckFilters{MonitorID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(checks) != 5 {
		t.Fatalf("got %d checks, want 5", len(checks))
	}
	for i := 1; i < len(checks); i++ {
		if checks[i].CreatedAt.After(checks[i-1].CreatedAt) {
			t.Fatalf("checks not newest first at %d", i)
		}
	}
	if checks[0].HTTPStatusCode != 200 || checks[0].ID == "" {
		t.Fatalf("check fields = %+v", checks[0])
	}

	since := base.Add(3 * time.Minute)
	recent, _ := s.GetChecks(ctx, CheckFilters{MonitorID: "a", Since: &since})
	if len(recent) != 2 {
		t.Fatalf("since filter returned %d, want 2", len(recent))
	}
	limited, _ := s.GetChecks(ctx, CheckFilters{MonitorID: "a", Limit: 3})
	if len(limited) != 3 || !limited[0].CreatedAt.Equal(base.Add(4*time.Minute)) {
		t.Fatalf("limit returned %+v", limited)
	}

	everything, _ := s.GetChecks(ctx, CheckFilters{})
	if len(everything) != 7 {
		t.Fatalf("unfiltered returned %d, want 7", len(everything))
	}
}

func testOrphanCleanup(t *testing.T, s Store) {
	ctx := context.Background()
	keep := newMonitor("keep", true)
	gone := newMonitor("gone", true)
	for _, m := range []*Monitor{keep, gone} {
		if err := s.CreateMonitor(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now().UTC()
	appendAt(t, s, "keep", now, StatusUp)
	appendAt(t, s, "gone", now, StatusUp)
	appendAt(t, s, "gone", now.Add(time.Second), StatusDown)

	if n, _ := s.DeleteOrphanedChecks(ctx); n != 0 {
		t.Fatalf("deleted %d checks with no orphans", n)
	}

	if err := s.DeleteMonitor(ctx, "gone"); err != nil {
		t.Fatal(err)
	}
	n, err := s.DeleteOrphanedChecks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("deleted %d orphaned checks, want 2", n)
	}
	left, _ := s.GetChecks(ctx, CheckFilters{})
	if len(left) != 1 || left[0].MonitorID != "keep" {
		t.Fatalf("remaining checks = %+v", left)
	}
}

func testRetentionCleanup(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	appendAt(t, s, "a", now.Add(-72*time.Hour), StatusUp)
	appendAt(t, s, "a", now.Add(-25*time.Hour), StatusUp)
	appendAt(t, s, "a", now.Add(-time.Hour), StatusUp)

	n, err := s.DeleteChecksBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}

	stats, err := s.GetDatabaseStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalChecks != 1 || stats.OldestCheck.Before(now.Add(-2*time.Hour)) {
		t.Fatalf("database stats = %+v", stats)
	}
}

func testStats(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.GetStats(ctx, "x"); !errors.Is(err, ErrStatsNotFound) {
		t.Fatalf("GetStats(missing) err = %v", err)
	}

	st := &MonitorStats{MonitorID: "x", TotalChecks: 4, TotalUpChecks: 3, TotalDownChecks: 1, AvgResponseTime: 120, UptimePercentage: 0.75}
	if err := s.UpdateStats(ctx, st); err != nil {
		t.Fatal(err)
	}
	created := st.CreatedAt

	st.TotalChecks++
	st.TotalUpChecks++
	if err := s.UpdateStats(ctx, st); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetStats(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalChecks != 5 || got.TotalUpChecks != 4 || got.UptimePercentage != 0.75 {
		t.Fatalf("stats = %+v", got)
	}
	if got.CreatedAt.Sub(created).Abs() > time.Millisecond {
		t.Fatalf("created_at changed on update: %v -> %v", created, got.CreatedAt)
	}

	if err := s.DeleteStats(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetStats(ctx, "x"); !errors.Is(err, ErrStatsNotFound) {
		t.Fatalf("stats survived delete: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestBoltStore(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store {
		s, err := NewBoltStore(filepath.Join(t.TempDir(), "nested", "raven.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	storeSuite(t, func(t *testing.T) Store {
		ctx := context.Background()
		s, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.pool.Exec(ctx, `TRUNCATE monitors, checks, monitor_stats`); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBoltChecksReadFromNewestEnd(t *testing.T) {
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "raven.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond).Add(-time.Hour)
	// Out of order on purpose; "z" is the last monitor in key order.
	for _, i := range []int{3, 0, 4, 1, 2} {
		appendAt(t, s, "z", base.Add(time.Duration(i)*time.Minute), StatusUp)
	}
	appendAt(t, s, "y", base.Add(10*time.Minute), StatusDown)

	since := base.Add(time.Minute)
	checks, err := s.GetChecks(ctx, CheckFilters{MonitorID: "z", Since: &since, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(checks) != 2 || !checks[0].CreatedAt.Equal(base.Add(4*time.Minute)) || !checks[1].CreatedAt.Equal(base.Add(3*time.Minute)) {
		t.Fatalf("checks = %+v", checks)
	}

	all, _ := s.GetChecks(ctx, CheckFilters{MonitorID: "z", Since: &since})
	if len(all) != 4 {
		t.Fatalf("since returned %d, want 4", len(all))
	}
	for _, c := range all {
		if c.MonitorID != "z" {
			t.Fatalf("foreign check %+v", c)
		}
	}

	if none, _ := s.GetChecks(ctx, CheckFilters{MonitorID: "x"}); len(none) != 0 {
		t.Fatalf("unknown monitor returned %d checks", len(none))
	}
}

func TestParseCheckKey(t *testing.T) {
	at := time.Unix(0, 1_700_000_000_123_456_789)
	id, got, ok := parseCheckKey(checkKey("svc:eu", at, "abc"))
	if !ok || id != "svc:eu" || !got.Equal(at) {
		t.Fatalf("parseCheckKey = %q %v %v", id, got, ok)
	}
	if _, _, ok := parseCheckKey([]byte("garbage")); ok {
		t.Fatal("garbage key parsed")
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "memory", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("memory backend = %T", s)
	}

	s, err = Open(ctx, "", filepath.Join(t.TempDir(), "x.db"), "")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.(*BoltStore); !ok {
		t.Fatalf("default backend = %T", s)
	}

	if _, err := Open(ctx, "mongo", "", ""); err == nil {
		t.Fatal("unknown backend accepted")
	}
}
