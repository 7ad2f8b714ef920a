// internal/database/models.go
package database

import (
	"time"
)

// Status is the published state of a monitor, or the raw result of one check.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusUp           Status = "up"
	StatusDown         Status = "down"
	StatusPaused       Status = "paused"
)

// Protocol is the probe variant used for a monitor.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

func (p Protocol) Valid() bool {
	return p == ProtocolHTTP || p == ProtocolHTTPS
}

type Monitor struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	URL           string        `json:"url"`
	Type          Protocol      `json:"type"`
	Interval      time.Duration `json:"interval"`
	IsActive      bool          `json:"is_active"`
	Status        Status        `json:"status"`
	N             int           `json:"n"`
	M             int           `json:"m"`
	LastStatuses  []Status      `json:"last_statuses"`
	LastCheckedAt time.Time     `json:"last_checked_at"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Timings holds the phase breakdown of one probe, in milliseconds.
type Timings struct {
	Wait      float64 `json:"wait"`
	DNS       float64 `json:"dns"`
	TCP       float64 `json:"tcp"`
	TLS       float64 `json:"tls"`
	Request   float64 `json:"request"`
	FirstByte float64 `json:"first_byte"`
	Download  float64 `json:"download"`
	Total     float64 `json:"total"`
}

// Check is the immutable record of a single probe.
type Check struct {
	ID             string    `json:"id"`
	MonitorID      string    `json:"monitor_id"`
	Type           Protocol  `json:"type"`
	Status         Status    `json:"status"`
	ResponseTime   float64   `json:"response_time_ms"`
	HTTPStatusCode int       `json:"http_status_code,omitempty"`
	Message        string    `json:"message"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Timings        Timings   `json:"timings"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type MonitorStats struct {
	MonitorID          string    `json:"monitor_id"`
	TotalChecks        int64     `json:"total_checks"`
	TotalUpChecks      int64     `json:"total_up_checks"`
	TotalDownChecks    int64     `json:"total_down_checks"`
	AvgResponseTime    float64   `json:"avg_response_time_ms"`
	LastResponseTime   float64   `json:"last_response_time_ms"`
	UptimePercentage   float64   `json:"uptime_percentage"`
	LastCheckTimestamp time.Time `json:"last_check_timestamp"`
	TimeOfLastFailure  time.Time `json:"time_of_last_failure"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type MonitorFilters struct {
	Active *bool
}

type CheckFilters struct {
	MonitorID string
	Since     *time.Time
	Limit     int
}

// DatabaseStats provides information about database size and health
type DatabaseStats struct {
	TotalMonitors int       `json:"total_monitors"`
	TotalChecks   int       `json:"total_checks"`
	TotalStats    int       `json:"total_stats"`
	OldestCheck   time.Time `json:"oldest_check"`
	NewestCheck   time.Time `json:"newest_check"`
}
