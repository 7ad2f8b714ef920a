// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/John-MustangGT/raven-uptime/internal/config"
	"github.com/John-MustangGT/raven-uptime/internal/database"
	"github.com/John-MustangGT/raven-uptime/internal/metrics"
	"github.com/sirupsen/logrus"
)

var ErrInvalidMonitor = errors.New("invalid monitor")

// MonitorUpdate lists the fields that may change after creation. Nil fields
// are left as they are.
type MonitorUpdate struct {
	Name     *string        `json:"name"`
	Interval *time.Duration `json:"interval"`
	IsActive *bool          `json:"is_active"`
	N        *int           `json:"n"`
	M        *int           `json:"m"`
}

// Engine owns the scheduler and keeps it in step with monitor CRUD.
type Engine struct {
	config     *config.Config
	store      database.Store
	metrics    *metrics.Collector
	pipeline   *Pipeline
	scheduler  *Scheduler
	maintainer *Maintainer
	mu         sync.Mutex
	running    bool
}

func NewEngine(cfg *config.Config, store database.Store, metricsCollector *metrics.Collector) (*Engine, error) {
	transport := NewHTTPTransport(cfg.Monitoring.UserAgent, cfg.Monitoring.MaxRedirects)
	return NewEngineWithProber(cfg, store, metricsCollector, NewProbeExecutor(transport, cfg.Monitoring.Timeout))
}

// NewEngineWithProber builds an engine around a caller-supplied prober.
func NewEngineWithProber(cfg *config.Config, store database.Store, metricsCollector *metrics.Collector, prober Prober) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	maintainer := NewMaintainer(store, cfg.Database.HistoryRetention, metricsCollector)
	pipeline := NewPipeline(store, prober, metricsCollector, cfg.Database.HistoryRetention)
	scheduler := NewScheduler(pipeline, SchedulerOptions{
		Workers:             cfg.Server.Workers,
		DefaultInterval:     cfg.Monitoring.DefaultInterval,
		Metrics:             metricsCollector,
		Maintenance:         maintainer,
		MaintenanceInterval: cfg.Database.CleanupInterval,
	})

	return &Engine{
		config:     cfg,
		store:      store,
		metrics:    metricsCollector,
		pipeline:   pipeline,
		scheduler:  scheduler,
		maintainer: maintainer,
	}, nil
}

// Start syncs configured monitors into storage, registers every active
// monitor, and starts the scheduler.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	logrus.Info("Starting monitoring engine")

	if err := e.syncConfig(ctx, e.currentConfig()); err != nil {
		logrus.WithError(err).Error("Failed to sync config")
		return err
	}

	active := true
	monitors, err := e.store.GetMonitors(ctx, database.MonitorFilters{Active: &active})
	if err != nil {
		return fmt.Errorf("failed to list monitors: %w", err)
	}
	for i := range monitors {
		e.scheduler.Register(&monitors[i])
	}
	logrus.WithField("monitors", len(monitors)).Info("Registered active monitors")

	if err := e.metrics.UpdateSystemMetrics(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to update system metrics")
	}

	return e.scheduler.Start(ctx)
}

// Stop drains the scheduler.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	logrus.Info("Stopping monitoring engine")
	return e.scheduler.Drain(ctx)
}

func (e *Engine) currentConfig() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

func (e *Engine) syncConfig(ctx context.Context, cfg *config.Config) error {
	for _, mc := range cfg.Monitors {
		existing, err := e.store.GetMonitor(ctx, mc.ID)
		if errors.Is(err, database.ErrMonitorNotFound) {
			mon := &database.Monitor{
				ID:       mc.ID,
				Name:     mc.Name,
				URL:      mc.URL,
				Type:     database.Protocol(mc.Type),
				Interval: mc.Interval,
				IsActive: mc.IsEnabled(),
				N:        mc.N,
				M:        mc.M,
			}
			applyDefaults(cfg, mon)
			if err := e.create(ctx, mon); err != nil {
				logrus.WithError(err).WithField("monitor", mc.ID).Error("Failed to create monitor")
				continue
			}
			logrus.WithField("monitor", mon.Name).Info("Created monitor")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load monitor %s: %w", mc.ID, err)
		}

		unlock := e.pipeline.locks.Lock(existing.ID)
		existing.Name = mc.Name
		existing.URL = mc.URL
		existing.Type = database.Protocol(mc.Type)
		existing.Interval = mc.Interval
		setDebounce(existing, mc.N, mc.M)
		setActive(existing, mc.IsEnabled())
		err = e.store.UpdateMonitor(ctx, existing)
		unlock()
		if err != nil {
			logrus.WithError(err).WithField("monitor", mc.ID).Error("Failed to update monitor")
		}
	}
	return nil
}

func applyDefaults(cfg *config.Config, mon *database.Monitor) {
	if mon.Interval <= 0 {
		mon.Interval = cfg.Monitoring.DefaultInterval
	}
	if mon.N == 0 {
		mon.N = cfg.Monitoring.DefaultThreshold
	}
	if mon.M == 0 {
		mon.M = max(cfg.Monitoring.DefaultWindow, mon.N)
	}
	if mon.Type == "" {
		mon.Type = database.ProtocolHTTPS
		if strings.HasPrefix(strings.ToLower(mon.URL), "http://") {
			mon.Type = database.ProtocolHTTP
		}
	}
	if mon.Name == "" {
		mon.Name = mon.URL
	}
}

func validateMonitor(mon *database.Monitor) error {
	switch {
	case strings.TrimSpace(mon.URL) == "":
		return fmt.Errorf("%w: url is required", ErrInvalidMonitor)
	case !mon.Type.Valid():
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidMonitor, mon.Type)
	case mon.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidMonitor)
	case mon.N < 1:
		return fmt.Errorf("%w: n must be at least 1", ErrInvalidMonitor)
	case mon.M < mon.N:
		return fmt.Errorf("%w: m must be >= n", ErrInvalidMonitor)
	case strings.Contains(mon.ID, ":"):
		return fmt.Errorf("%w: id must not contain ':'", ErrInvalidMonitor)
	}
	return nil
}

// setDebounce changes n and m, trimming the window when m shrinks.
func setDebounce(mon *database.Monitor, n, m int) {
	mon.N, mon.M = n, m
	if len(mon.LastStatuses) > m {
		mon.LastStatuses = append([]database.Status(nil), mon.LastStatuses[len(mon.LastStatuses)-m:]...)
	}
}

// setActive flips the active flag. A paused monitor publishes "paused" until
// its next probe after reactivation.
func setActive(mon *database.Monitor, active bool) {
	if mon.IsActive == active {
		return
	}
	mon.IsActive = active
	if !active {
		mon.Status = database.StatusPaused
	}
}

// CreateMonitor stores a new monitor with empty stats and schedules it.
func (e *Engine) CreateMonitor(ctx context.Context, mon *database.Monitor) error {
	applyDefaults(e.currentConfig(), mon)
	if err := validateMonitor(mon); err != nil {
		return err
	}
	return e.create(ctx, mon)
}

func (e *Engine) create(ctx context.Context, mon *database.Monitor) error {
	mon.Status = database.StatusInitializing
	if !mon.IsActive {
		mon.Status = database.StatusPaused
	}
	mon.LastStatuses = nil

	err := e.store.CreateMonitor(ctx, mon)
	e.metrics.RecordDatabaseOperation("create_monitor", err)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}
	err = e.store.UpdateStats(ctx, &database.MonitorStats{MonitorID: mon.ID})
	e.metrics.RecordDatabaseOperation("create_stats", err)
	if err != nil {
		return fmt.Errorf("failed to create monitor stats: %w", err)
	}

	e.scheduler.Register(mon)
	e.metrics.UpdateMonitorStatus(mon.ID, mon.Status)
	return nil
}

// UpdateMonitor applies an update and reschedules the monitor.
func (e *Engine) UpdateMonitor(ctx context.Context, id string, update MonitorUpdate) (*database.Monitor, error) {
	unlock := e.pipeline.locks.Lock(id)
	defer unlock()

	mon, err := e.store.GetMonitor(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		mon.Name = *update.Name
	}
	if update.Interval != nil {
		mon.Interval = *update.Interval
	}
	n, m := mon.N, mon.M
	if update.N != nil {
		n = *update.N
	}
	if update.M != nil {
		m = *update.M
	}
	setDebounce(mon, n, m)
	if update.IsActive != nil {
		setActive(mon, *update.IsActive)
	}

	if err := validateMonitor(mon); err != nil {
		return nil, err
	}

	err = e.store.UpdateMonitor(ctx, mon)
	e.metrics.RecordDatabaseOperation("update_monitor", err)
	if err != nil {
		return nil, fmt.Errorf("failed to update monitor: %w", err)
	}

	e.scheduler.Reschedule(mon)
	e.metrics.UpdateMonitorStatus(mon.ID, mon.Status)
	return mon, nil
}

// DeleteMonitor removes the monitor and its stats and stops scheduling it.
// Its check history is left for the orphan purge.
func (e *Engine) DeleteMonitor(ctx context.Context, id string) error {
	unlock := e.pipeline.locks.Lock(id)
	defer unlock()

	mon, err := e.store.GetMonitor(ctx, id)
	if err != nil {
		return err
	}

	e.scheduler.Unregister(id)

	err = e.store.DeleteMonitor(ctx, id)
	e.metrics.RecordDatabaseOperation("delete_monitor", err)
	if err != nil {
		return fmt.Errorf("failed to delete monitor: %w", err)
	}
	err = e.store.DeleteStats(ctx, id)
	e.metrics.RecordDatabaseOperation("delete_stats", err)
	if err != nil {
		return fmt.Errorf("failed to delete monitor stats: %w", err)
	}

	e.metrics.ForgetMonitor(id)
	logrus.WithField("monitor", mon.Name).Info("Deleted monitor")
	return nil
}

func (e *Engine) OnStatusChange(fn func(StatusChange)) {
	e.pipeline.OnStatusChange(fn)
}

func (e *Engine) SchedulerMetrics() SchedulerMetrics {
	return e.scheduler.Metrics()
}

func (e *Engine) SchedulerJobs() []JobInfo {
	return e.scheduler.Jobs()
}

// FlushScheduler drops every scheduled job without touching storage.
func (e *Engine) FlushScheduler() int {
	return e.scheduler.Flush()
}

func (e *Engine) Maintainer() *Maintainer {
	return e.maintainer
}

// RefreshConfig re-applies the seed monitors from a new configuration.
func (e *Engine) RefreshConfig(ctx context.Context, cfg *config.Config) error {
	logrus.Info("Refreshing configuration")
	e.mu.Lock()
	e.config = cfg
	e.mu.Unlock()

	if err := e.syncConfig(ctx, cfg); err != nil {
		return err
	}
	for _, mc := range cfg.Monitors {
		mon, err := e.store.GetMonitor(ctx, mc.ID)
		if err != nil {
			continue
		}
		e.scheduler.Reschedule(mon)
	}
	return nil
}
