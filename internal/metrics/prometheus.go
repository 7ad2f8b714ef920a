// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/John-MustangGT/raven-uptime/internal/database"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raven_uptime_probe_duration_seconds",
			Help:    "Total time of each probe, from request start to body drained",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"monitor_id", "protocol", "status"},
	)

	ChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raven_uptime_checks_total",
			Help: "Total number of probes recorded",
		},
		[]string{"monitor_id", "protocol", "status"},
	)

	MonitorStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raven_uptime_monitor_status",
			Help: "Published monitor status (1=up, 0=down, -1=initializing or paused)",
		},
		[]string{"monitor_id"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raven_uptime_status_transitions_total",
			Help: "Number of published status changes",
		},
		[]string{"monitor_id", "from", "to"},
	)

	ScheduledJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "raven_uptime_scheduled_jobs",
			Help: "Number of monitors currently scheduled",
		},
	)

	RunningJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "raven_uptime_running_jobs",
			Help: "Number of probe executions in flight",
		},
	)

	SkippedTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raven_uptime_skipped_ticks_total",
			Help: "Due ticks deferred because the previous probe was still running",
		},
		[]string{"monitor_id"},
	)

	JobFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raven_uptime_job_failures_total",
			Help: "Job executions that ended in an error",
		},
		[]string{"reason"},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raven_uptime_database_operations_total",
			Help: "Total database operations performed",
		},
		[]string{"operation", "status"},
	)

	MaintenanceDeletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raven_uptime_maintenance_deleted_checks_total",
			Help: "Checks removed by the maintenance job",
		},
		[]string{"kind"},
	)

	ActiveMonitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "raven_uptime_active_monitors",
			Help: "Number of active monitors in storage",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "raven_uptime_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

// Collector records into the package vectors. A nil *Collector is valid and
// records nothing.
type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordProbe(monitorID string, protocol database.Protocol, status database.Status, duration time.Duration) {
	if c == nil {
		return
	}
	ProbeDuration.WithLabelValues(monitorID, string(protocol), string(status)).Observe(duration.Seconds())
	ChecksTotal.WithLabelValues(monitorID, string(protocol), string(status)).Inc()
}

func (c *Collector) UpdateMonitorStatus(monitorID string, status database.Status) {
	if c == nil {
		return
	}
	MonitorStatus.WithLabelValues(monitorID).Set(statusValue(status))
}

func (c *Collector) RecordTransition(monitorID string, from, to database.Status) {
	if c == nil {
		return
	}
	StatusTransitions.WithLabelValues(monitorID, string(from), string(to)).Inc()
}

// ForgetMonitor drops every series labelled with the monitor's ID.
func (c *Collector) ForgetMonitor(monitorID string) {
	if c == nil {
		return
	}
	labels := prometheus.Labels{"monitor_id": monitorID}
	ProbeDuration.DeletePartialMatch(labels)
	ChecksTotal.DeletePartialMatch(labels)
	MonitorStatus.DeletePartialMatch(labels)
	StatusTransitions.DeletePartialMatch(labels)
	SkippedTicks.DeletePartialMatch(labels)
}

func (c *Collector) SetScheduler(scheduled, running int) {
	if c == nil {
		return
	}
	ScheduledJobs.Set(float64(scheduled))
	RunningJobs.Set(float64(running))
}

func (c *Collector) RecordSkip(monitorID string) {
	if c == nil {
		return
	}
	SkippedTicks.WithLabelValues(monitorID).Inc()
}

func (c *Collector) RecordJobFailure(reason string) {
	if c == nil {
		return
	}
	JobFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordDatabaseOperation(operation string, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperations.WithLabelValues(operation, status).Inc()
}

func (c *Collector) RecordMaintenance(kind string, deleted int) {
	if c == nil {
		return
	}
	MaintenanceDeletions.WithLabelValues(kind).Add(float64(deleted))
}

func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	if c == nil || c.store == nil {
		return nil
	}
	active := true
	monitors, err := c.store.GetMonitors(ctx, database.MonitorFilters{Active: &active})
	c.RecordDatabaseOperation("get_monitors", err)
	if err != nil {
		return err
	}
	ActiveMonitors.Set(float64(len(monitors)))
	return nil
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	if c == nil {
		return
	}
	WebSocketConnections.Add(float64(delta))
}

func statusValue(status database.Status) float64 {
	switch status {
	case database.StatusUp:
		return 1
	case database.StatusDown:
		return 0
	default:
		return -1
	}
}
