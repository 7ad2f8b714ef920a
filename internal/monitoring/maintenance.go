// internal/monitoring/maintenance.go - history cleanup on a fixed cadence
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/John-MustangGT/raven-uptime/internal/database"
	"github.com/John-MustangGT/raven-uptime/internal/metrics"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Maintainer reclaims check history that no longer belongs to anything.
type Maintainer struct {
	store     database.Store
	retention time.Duration
	metrics   *metrics.Collector
	now       func() time.Time
}

type PurgeResult struct {
	OrphanedChecks int `json:"orphaned_checks"`
	ExpiredChecks  int `json:"expired_checks"`
}

func NewMaintainer(store database.Store, retention time.Duration, collector *metrics.Collector) *Maintainer {
	return &Maintainer{
		store:     store,
		retention: retention,
		metrics:   collector,
		now:       time.Now,
	}
}

// PurgeOrphanedChecks removes checks whose monitor has been deleted.
func (m *Maintainer) PurgeOrphanedChecks(ctx context.Context) (int, error) {
	deleted, err := m.store.DeleteOrphanedChecks(ctx)
	m.metrics.RecordDatabaseOperation("delete_orphaned_checks", err)
	if err != nil {
		return 0, fmt.Errorf("orphaned check purge failed: %w", err)
	}
	m.metrics.RecordMaintenance("orphaned", deleted)
	if deleted > 0 {
		logrus.WithField("purged_checks", deleted).Info("Orphaned check purge completed")
	}
	return deleted, nil
}

// PurgeExpiredChecks removes checks older than the retention window.
func (m *Maintainer) PurgeExpiredChecks(ctx context.Context) (int, error) {
	if m.retention <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-m.retention)
	deleted, err := m.store.DeleteChecksBefore(ctx, cutoff)
	m.metrics.RecordDatabaseOperation("delete_expired_checks", err)
	if err != nil {
		return 0, fmt.Errorf("expired check purge failed: %w", err)
	}
	m.metrics.RecordMaintenance("expired", deleted)
	if deleted > 0 {
		logrus.WithFields(logrus.Fields{
			"purged_checks": deleted,
			"cutoff":        cutoff,
		}).Info("Expired check purge completed")
	}
	return deleted, nil
}

// PurgeAll runs every purge step, continuing past failures.
func (m *Maintainer) PurgeAll(ctx context.Context) (PurgeResult, error) {
	var (
		result PurgeResult
		errs   error
		err    error
	)

	result.OrphanedChecks, err = m.PurgeOrphanedChecks(ctx)
	errs = multierr.Append(errs, err)

	result.ExpiredChecks, err = m.PurgeExpiredChecks(ctx)
	errs = multierr.Append(errs, err)

	return result, errs
}

// Run purges once, then on every tick until ctx is done.
func (m *Maintainer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	logrus.WithField("interval", interval).Info("Scheduled periodic history purge")

	if _, err := m.PurgeAll(ctx); err != nil {
		logrus.WithError(err).Error("Initial purge failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Debug("Stopping periodic purge")
			return
		case <-ticker.C:
			logrus.Debug("Running scheduled purge")
			if _, err := m.PurgeAll(ctx); err != nil {
				logrus.WithError(err).Error("Scheduled purge failed")
			}
		}
	}
}
