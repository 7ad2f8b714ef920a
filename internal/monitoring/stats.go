package monitoring

import (
	"time"

	"github.com/John-MustangGT/raven-uptime/internal/database"
)

// StatsAggregator folds one probe result into a monitor's all-time stats.
type StatsAggregator struct{}

func (StatsAggregator) Update(stats *database.MonitorStats, outcome *Outcome, now time.Time) {
	stats.TotalChecks++
	if outcome.Status == database.StatusUp {
		stats.TotalUpChecks++
	} else {
		stats.TotalDownChecks++
	}

	total := float64(stats.TotalChecks)
	stats.AvgResponseTime = (stats.AvgResponseTime*(total-1) + outcome.ResponseTime) / total
	stats.UptimePercentage = float64(stats.TotalUpChecks) / total

	stats.LastResponseTime = outcome.ResponseTime
	stats.LastCheckTimestamp = now
	if outcome.Status == database.StatusDown {
		stats.TimeOfLastFailure = now
	}
}
