package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/John-MustangGT/raven-uptime/internal/database"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordProbe("m", database.ProtocolHTTP, database.StatusUp, time.Second)
	c.UpdateMonitorStatus("m", database.StatusUp)
	c.RecordSkip("m")
	c.RecordJobFailure("store")
	c.SetScheduler(1, 1)
	if err := c.UpdateSystemMetrics(context.Background()); err != nil {
		t.Fatalf("nil collector returned error: %v", err)
	}
}

func TestRecordProbeCounts(t *testing.T) {
	c := NewCollector(nil)
	before := testutil.ToFloat64(ChecksTotal.WithLabelValues("probe-test", "https", "down"))
	c.RecordProbe("probe-test", database.ProtocolHTTPS, database.StatusDown, 120*time.Millisecond)
	c.RecordProbe("probe-test", database.ProtocolHTTPS, database.StatusDown, 80*time.Millisecond)
	after := testutil.ToFloat64(ChecksTotal.WithLabelValues("probe-test", "https", "down"))
	if after-before != 2 {
		t.Fatalf("checks_total delta = %v, want 2", after-before)
	}
}

func TestMonitorStatusGauge(t *testing.T) {
	c := NewCollector(nil)
	cases := []struct {
		status database.Status
		want   float64
	}{
		{database.StatusUp, 1},
		{database.StatusDown, 0},
		{database.StatusInitializing, -1},
		{database.StatusPaused, -1},
	}
	for _, tc := range cases {
		c.UpdateMonitorStatus("gauge-test", tc.status)
		if got := testutil.ToFloat64(MonitorStatus.WithLabelValues("gauge-test")); got != tc.want {
			t.Errorf("status %s: gauge = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestDatabaseOperationStatusLabel(t *testing.T) {
	c := NewCollector(nil)
	okBefore := testutil.ToFloat64(DatabaseOperations.WithLabelValues("op-test", "success"))
	errBefore := testutil.ToFloat64(DatabaseOperations.WithLabelValues("op-test", "error"))

	c.RecordDatabaseOperation("op-test", nil)
	c.RecordDatabaseOperation("op-test", errors.New("boom"))

	if d := testutil.ToFloat64(DatabaseOperations.WithLabelValues("op-test", "success")) - okBefore; d != 1 {
		t.Errorf("success delta = %v", d)
	}
	if d := testutil.ToFloat64(DatabaseOperations.WithLabelValues("op-test", "error")) - errBefore; d != 1 {
		t.Errorf("error delta = %v", d)
	}
}

func TestUpdateSystemMetricsCountsActive(t *testing.T) {
	store := database.NewMemoryStore()
	ctx := context.Background()
	for _, active := range []bool{true, true, false} {
		m := &database.Monitor{Name: "x", URL: "http://x", Type: database.ProtocolHTTP, IsActive: active, N: 1, M: 1}
		if err := store.CreateMonitor(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	if err := NewCollector(store).UpdateSystemMetrics(ctx); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(ActiveMonitors); got != 2 {
		t.Fatalf("active monitors = %v, want 2", got)
	}
}

func TestForgetMonitorDropsItsSeries(t *testing.T) {
	c := NewCollector(nil)
	for _, id := range []string{"forget-me", "keep-me"} {
		c.RecordProbe(id, database.ProtocolHTTP, database.StatusUp, time.Millisecond)
		c.UpdateMonitorStatus(id, database.StatusUp)
		c.RecordTransition(id, database.StatusInitializing, database.StatusUp)
		c.RecordSkip(id)
	}

	c.ForgetMonitor("forget-me")

	if ChecksTotal.DeleteLabelValues("forget-me", "http", "up") {
		t.Error("checks_total series survived")
	}
	if ProbeDuration.DeleteLabelValues("forget-me", "http", "up") {
		t.Error("probe_duration series survived")
	}
	if MonitorStatus.DeleteLabelValues("forget-me") {
		t.Error("monitor_status series survived")
	}
	if StatusTransitions.DeleteLabelValues("forget-me", "initializing", "up") {
		t.Error("transition series survived")
	}
	if SkippedTicks.DeleteLabelValues("forget-me") {
		t.Error("skipped_ticks series survived")
	}
	if got := testutil.ToFloat64(MonitorStatus.WithLabelValues("keep-me")); got != 1 {
		t.Errorf("other monitor gauge = %v, want 1", got)
	}
}
