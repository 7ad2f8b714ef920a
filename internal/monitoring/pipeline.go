package monitoring

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/John-MustangGT/raven-uptime/internal/database"
	"github.com/John-MustangGT/raven-uptime/internal/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultHistoryRetention matches the check expiry used by storage cleanup.
const DefaultHistoryRetention = 30 * 24 * time.Hour

var ErrMonitorInactive = errors.New("monitor is not active")

type Prober interface {
	Probe(ctx context.Context, mon *database.Monitor) (*Outcome, error)
}

// StatusChange is published whenever a monitor's status flips.
type StatusChange struct {
	MonitorID string          `json:"monitor_id"`
	Name      string          `json:"name"`
	From      database.Status `json:"from"`
	To        database.Status `json:"to"`
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	At        time.Time       `json:"at"`
}

// monitorLocks serializes writes to one monitor between the probe chain and
// CRUD updates.
type monitorLocks struct {
	stripes [64]sync.Mutex
}

func (l *monitorLocks) Lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	mu := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	mu.Lock()
	return mu.Unlock
}

// Pipeline runs probe, persist, transition and stats for one monitor.
type Pipeline struct {
	store       database.Store
	prober      Prober
	transitions TransitionEngine
	stats       StatsAggregator
	metrics     *metrics.Collector
	locks       *monitorLocks
	retention   time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	onChange []func(StatusChange)
}

func NewPipeline(store database.Store, prober Prober, collector *metrics.Collector, retention time.Duration) *Pipeline {
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	return &Pipeline{
		store:     store,
		prober:    prober,
		metrics:   collector,
		locks:     &monitorLocks{},
		retention: retention,
		now:       time.Now,
	}
}

func (p *Pipeline) OnStatusChange(fn func(StatusChange)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

func (p *Pipeline) Run(ctx context.Context, monitorID string) error {
	mon, err := p.store.GetMonitor(ctx, monitorID)
	if err != nil {
		return fmt.Errorf("load monitor %s: %w", monitorID, err)
	}
	if !mon.IsActive {
		return ErrMonitorInactive
	}

	start := time.Now()
	outcome, err := p.prober.Probe(ctx, mon)
	if err != nil {
		return fmt.Errorf("probe %s: %w", monitorID, err)
	}
	elapsed := time.Since(start)

	unlock := p.locks.Lock(monitorID)
	defer unlock()

	// Re-read under the lock so a concurrent edit is not overwritten.
	mon, err = p.store.GetMonitor(ctx, monitorID)
	if err != nil {
		return fmt.Errorf("reload monitor %s: %w", monitorID, err)
	}
	if !mon.IsActive {
		return ErrMonitorInactive
	}

	now := p.now()
	check := outcome.Check(now, p.retention)
	err = p.store.AppendCheck(ctx, check)
	p.metrics.RecordDatabaseOperation("append_check", err)
	if err != nil {
		return fmt.Errorf("append check: %w", err)
	}

	previous := mon.Status
	changed := p.transitions.Apply(mon, outcome.Status)
	mon.LastCheckedAt = now
	err = p.store.UpdateMonitor(ctx, mon)
	p.metrics.RecordDatabaseOperation("update_monitor", err)
	if err != nil {
		return fmt.Errorf("update monitor: %w", err)
	}

	stats, err := p.store.GetStats(ctx, monitorID)
	if errors.Is(err, database.ErrStatsNotFound) {
		stats = &database.MonitorStats{MonitorID: monitorID}
	} else if err != nil {
		p.metrics.RecordDatabaseOperation("get_stats", err)
		return fmt.Errorf("load stats: %w", err)
	}
	p.stats.Update(stats, outcome, now)
	err = p.store.UpdateStats(ctx, stats)
	p.metrics.RecordDatabaseOperation("update_stats", err)
	if err != nil {
		return fmt.Errorf("update stats: %w", err)
	}

	p.metrics.RecordProbe(mon.ID, mon.Type, outcome.Status, elapsed)
	p.metrics.UpdateMonitorStatus(mon.ID, mon.Status)

	logrus.WithFields(logrus.Fields{
		"monitor":       mon.Name,
		"outcome":       outcome.Status,
		"status":        mon.Status,
		"code":          outcome.Code,
		"response_time": outcome.ResponseTime,
	}).Debug("Check completed")

	if changed {
		p.metrics.RecordTransition(mon.ID, previous, mon.Status)
		logrus.WithFields(logrus.Fields{
			"monitor":    mon.Name,
			"old_status": previous,
			"new_status": mon.Status,
			"threshold":  mon.N,
			"window":     mon.M,
		}).Info("Monitor status changed")
		p.publish(StatusChange{
			MonitorID: mon.ID,
			Name:      mon.Name,
			From:      previous,
			To:        mon.Status,
			Code:      outcome.Code,
			Message:   outcome.Message,
			At:        now,
		})
	}
	return nil
}

func (p *Pipeline) publish(change StatusChange) {
	p.mu.RLock()
	handlers := append([]func(StatusChange){}, p.onChange...)
	p.mu.RUnlock()
	for _, fn := range handlers {
		fn(change)
	}
}
