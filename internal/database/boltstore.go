// internal/database/boltstore.go - BoltDB implementation
package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

var (
	MonitorsBucket = []byte("monitors")
	ChecksBucket   = []byte("checks")
	StatsBucket    = []byte("monitor_stats")
	MetaBucket     = []byte("meta")

	allBuckets = [][]byte{MonitorsBucket, ChecksBucket, StatsBucket, MetaBucket}
)

type BoltStore struct {
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) GetMonitors(ctx context.Context, filters MonitorFilters) ([]Monitor, error) {
	var monitors []Monitor

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MonitorsBucket)
		return b.ForEach(func(k, v []byte) error {
			var monitor Monitor
			if err := json.Unmarshal(v, &monitor); err != nil {
				return fmt.Errorf("failed to unmarshal monitor %s: %w", k, err)
			}

			if filters.Active != nil && monitor.IsActive != *filters.Active {
				return nil
			}

			monitors = append(monitors, monitor)
			return nil
		})
	})

	return monitors, err
}

func (s *BoltStore) GetMonitor(ctx context.Context, id string) (*Monitor, error) {
	var monitor Monitor

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(MonitorsBucket).Get([]byte(id))
		if v == nil {
			return ErrMonitorNotFound
		}
		return json.Unmarshal(v, &monitor)
	})

	if err != nil {
		return nil, err
	}
	return &monitor, nil
}

func (s *BoltStore) CreateMonitor(ctx context.Context, monitor *Monitor) error {
	if monitor.ID == "" {
		monitor.ID = uuid.New().String()
	}
	now := time.Now()
	monitor.CreatedAt = now
	monitor.UpdatedAt = now

	return s.putMonitor(monitor)
}

func (s *BoltStore) UpdateMonitor(ctx context.Context, monitor *Monitor) error {
	monitor.UpdatedAt = time.Now()
	return s.putMonitor(monitor)
}

func (s *BoltStore) putMonitor(monitor *Monitor) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(monitor)
		if err != nil {
			return fmt.Errorf("failed to marshal monitor: %w", err)
		}
		return tx.Bucket(MonitorsBucket).Put([]byte(monitor.ID), data)
	})
}

func (s *BoltStore) DeleteMonitor(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(MonitorsBucket).Delete([]byte(id))
	})
}

// checkKey orders history by monitor, then by creation time.
func checkKey(monitorID string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s:%020d:%s", monitorID, at.UnixNano(), id))
}

// parseCheckKey splits from the right so monitor IDs may contain ':'.
func parseCheckKey(k []byte) (monitorID string, at time.Time, ok bool) {
	parts := strings.Split(string(k), ":")
	if len(parts) < 3 {
		return "", time.Time{}, false
	}
	nanos, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return strings.Join(parts[:len(parts)-2], ":"), time.Unix(0, nanos), true
}

func (s *BoltStore) AppendCheck(ctx context.Context, check *Check) error {
	if check.ID == "" {
		check.ID = uuid.New().String()
	}
	if check.CreatedAt.IsZero() {
		check.CreatedAt = time.Now()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(check)
		if err != nil {
			return fmt.Errorf("failed to marshal check: %w", err)
		}
		return tx.Bucket(ChecksBucket).Put(checkKey(check.MonitorID, check.CreatedAt, check.ID), data)
	})
}

func (s *BoltStore) GetChecks(ctx context.Context, filters CheckFilters) ([]Check, error) {
	if filters.MonitorID == "" {
		return s.getAllChecks(filters)
	}

	var checks []Check
	prefix := []byte(filters.MonitorID + ":")
	// ';' sorts right after ':' so this seeks just past the monitor's keys.
	upper := []byte(filters.MonitorID + ";")

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(ChecksBucket).Cursor()

		k, v := c.Seek(upper)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			monitorID, at, ok := parseCheckKey(k)
			if !ok || monitorID != filters.MonitorID {
				continue
			}
			if filters.Since != nil && at.Before(*filters.Since) {
				break
			}

			var check Check
			if err := json.Unmarshal(v, &check); err != nil {
				continue // Skip malformed entries
			}
			checks = append(checks, check)
			if filters.Limit > 0 && len(checks) >= filters.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return checks, nil
}

// getAllChecks walks every monitor's history, so it has to sort afterwards.
func (s *BoltStore) getAllChecks(filters CheckFilters) ([]Check, error) {
	var checks []Check

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(ChecksBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			_, at, ok := parseCheckKey(k)
			if !ok {
				continue
			}
			if filters.Since != nil && at.Before(*filters.Since) {
				continue
			}

			var check Check
			if err := json.Unmarshal(v, &check); err != nil {
				continue
			}
			checks = append(checks, check)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Newest first
	sort.SliceStable(checks, func(i, j int) bool {
		return checks[i].CreatedAt.After(checks[j].CreatedAt)
	})
	if filters.Limit > 0 && len(checks) > filters.Limit {
		checks = checks[:filters.Limit]
	}
	return checks, nil
}

// DeleteOrphanedChecks removes history entries whose monitor no longer exists
func (s *BoltStore) DeleteOrphanedChecks(ctx context.Context) (int, error) {
	return s.deleteChecksWhere(func(tx *bbolt.Tx, monitorID string, _ time.Time) bool {
		return tx.Bucket(MonitorsBucket).Get([]byte(monitorID)) == nil
	})
}

// DeleteChecksBefore removes history entries older than cutoff
func (s *BoltStore) DeleteChecksBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.deleteChecksWhere(func(_ *bbolt.Tx, _ string, at time.Time) bool {
		return at.Before(cutoff)
	})
}

func (s *BoltStore) deleteChecksWhere(match func(tx *bbolt.Tx, monitorID string, at time.Time) bool) (int, error) {
	deletedCount := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ChecksBucket)

		// Collect keys first; deleting while iterating skips entries.
		var keysToDelete [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			monitorID, at, ok := parseCheckKey(k)
			if !ok {
				continue
			}
			if match(tx, monitorID, at) {
				keysToDelete = append(keysToDelete, copyBytes(k))
			}
		}

		for _, key := range keysToDelete {
			if err := b.Delete(key); err != nil {
				return fmt.Errorf("failed to delete check %s: %w", key, err)
			}
			deletedCount++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logrus.WithField("deleted_count", deletedCount).Debug("Deleted check history entries")
	return deletedCount, nil
}

func (s *BoltStore) GetStats(ctx context.Context, monitorID string) (*MonitorStats, error) {
	var stats MonitorStats

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(StatsBucket).Get([]byte(monitorID))
		if v == nil {
			return ErrStatsNotFound
		}
		return json.Unmarshal(v, &stats)
	})

	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *BoltStore) UpdateStats(ctx context.Context, stats *MonitorStats) error {
	now := time.Now()
	if stats.CreatedAt.IsZero() {
		stats.CreatedAt = now
	}
	stats.UpdatedAt = now

	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("failed to marshal stats: %w", err)
		}
		return tx.Bucket(StatsBucket).Put([]byte(stats.MonitorID), data)
	})
}

func (s *BoltStore) DeleteStats(ctx context.Context, monitorID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(StatsBucket).Delete([]byte(monitorID))
	})
}

// GetDatabaseStats returns information about database size and health
func (s *BoltStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		stats.TotalMonitors = tx.Bucket(MonitorsBucket).Stats().KeyN
		stats.TotalStats = tx.Bucket(StatsBucket).Stats().KeyN

		checks := tx.Bucket(ChecksBucket)
		return checks.ForEach(func(k, _ []byte) error {
			_, at, ok := parseCheckKey(k)
			if !ok {
				return nil
			}
			stats.TotalChecks++
			if stats.OldestCheck.IsZero() || at.Before(stats.OldestCheck) {
				stats.OldestCheck = at
			}
			if at.After(stats.NewestCheck) {
				stats.NewestCheck = at
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}

	return stats, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// copyBytes creates a copy of a byte slice
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}
