// internal/database/store.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMonitorNotFound = errors.New("monitor not found")
	ErrStatsNotFound   = errors.New("monitor stats not found")
)

// Store defines the interface for database operations
type Store interface {
	// Monitor operations
	GetMonitors(ctx context.Context, filters MonitorFilters) ([]Monitor, error)
	GetMonitor(ctx context.Context, id string) (*Monitor, error)
	CreateMonitor(ctx context.Context, monitor *Monitor) error
	UpdateMonitor(ctx context.Context, monitor *Monitor) error
	DeleteMonitor(ctx context.Context, id string) error

	// Check history operations
	AppendCheck(ctx context.Context, check *Check) error
	GetChecks(ctx context.Context, filters CheckFilters) ([]Check, error)
	DeleteOrphanedChecks(ctx context.Context) (int, error)
	DeleteChecksBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Stats operations
	GetStats(ctx context.Context, monitorID string) (*MonitorStats, error)
	UpdateStats(ctx context.Context, stats *MonitorStats) error
	DeleteStats(ctx context.Context, monitorID string) error

	GetDatabaseStats(ctx context.Context) (*DatabaseStats, error)

	// Close the database connection
	Close() error
}

// Open returns the store backend selected by kind.
func Open(ctx context.Context, kind, path, dsn string) (Store, error) {
	switch kind {
	case "", "boltdb":
		store, err := NewBoltStore(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", kind)
	}
}
