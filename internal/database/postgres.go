package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Checks have no foreign key to monitors: history of a deleted
// monitor stays until DeleteOrphanedChecks reclaims it.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS monitors (
  id              TEXT PRIMARY KEY,
  name            TEXT NOT NULL,
  url             TEXT NOT NULL,
  type            TEXT NOT NULL,
  interval_ns     BIGINT NOT NULL,
  is_active       BOOLEAN NOT NULL DEFAULT TRUE,
  status          TEXT NOT NULL DEFAULT 'initializing',
  n               INTEGER NOT NULL,
  m               INTEGER NOT NULL,
  last_statuses   TEXT[] NOT NULL DEFAULT '{}',
  last_checked_at TIMESTAMPTZ NULL,
  created_at      TIMESTAMPTZ NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS checks (
  id               TEXT PRIMARY KEY,
  monitor_id       TEXT NOT NULL,
  type             TEXT NOT NULL,
  status           TEXT NOT NULL,
  response_time_ms DOUBLE PRECISION NOT NULL,
  http_status_code INTEGER NULL,
  message          TEXT NOT NULL DEFAULT '',
  error_message    TEXT NOT NULL DEFAULT '',
  wait_ms          DOUBLE PRECISION NOT NULL DEFAULT 0,
  dns_ms           DOUBLE PRECISION NOT NULL DEFAULT 0,
  tcp_ms           DOUBLE PRECISION NOT NULL DEFAULT 0,
  tls_ms           DOUBLE PRECISION NOT NULL DEFAULT 0,
  request_ms       DOUBLE PRECISION NOT NULL DEFAULT 0,
  first_byte_ms    DOUBLE PRECISION NOT NULL DEFAULT 0,
  download_ms      DOUBLE PRECISION NOT NULL DEFAULT 0,
  total_ms         DOUBLE PRECISION NOT NULL DEFAULT 0,
  created_at       TIMESTAMPTZ NOT NULL,
  expires_at       TIMESTAMPTZ NULL
);

CREATE INDEX IF NOT EXISTS idx_checks_monitor_time ON checks (monitor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_checks_created_at ON checks (created_at);

CREATE TABLE IF NOT EXISTS monitor_stats (
  monitor_id            TEXT PRIMARY KEY,
  total_checks          BIGINT NOT NULL DEFAULT 0,
  total_up_checks       BIGINT NOT NULL DEFAULT 0,
  total_down_checks     BIGINT NOT NULL DEFAULT 0,
  avg_response_time_ms  DOUBLE PRECISION NOT NULL DEFAULT 0,
  last_response_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
  uptime_percentage     DOUBLE PRECISION NOT NULL DEFAULT 0,
  last_check_timestamp  TIMESTAMPTZ NULL,
  time_of_last_failure  TIMESTAMPTZ NULL,
  created_at            TIMESTAMPTZ NOT NULL,
  updated_at            TIMESTAMPTZ NOT NULL
);
`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func statusesToStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func stringsToStatuses(in []string) []Status {
	out := make([]Status, len(in))
	for i, s := range in {
		out[i] = Status(s)
	}
	return out
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

const monitorColumns = `id, name, url, type, interval_ns, is_active, status, n, m, last_statuses, last_checked_at, created_at, updated_at`

func scanMonitor(row pgx.Row) (*Monitor, error) {
	var (
		m          Monitor
		typ        string
		status     string
		intervalNS int64
		statuses   []string
		lastCheck  *time.Time
	)
	if err := row.Scan(&m.ID, &m.Name, &m.URL, &typ, &intervalNS, &m.IsActive, &status,
		&m.N, &m.M, &statuses, &lastCheck, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Type = Protocol(typ)
	m.Status = Status(status)
	m.Interval = time.Duration(intervalNS)
	m.LastStatuses = stringsToStatuses(statuses)
	m.LastCheckedAt = derefTime(lastCheck)
	return &m, nil
}

func (s *PostgresStore) GetMonitors(ctx context.Context, filters MonitorFilters) ([]Monitor, error) {
	q := `SELECT ` + monitorColumns + ` FROM monitors`
	args := []any{}
	if filters.Active != nil {
		q += ` WHERE is_active = $1`
		args = append(args, *filters.Active)
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	defer rows.Close()

	var out []Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan monitor: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetMonitor(ctx context.Context, id string) (*Monitor, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE id = $1`, id)
	m, err := scanMonitor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMonitorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get monitor: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) CreateMonitor(ctx context.Context, m *Monitor) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	return s.upsertMonitor(ctx, m)
}

func (s *PostgresStore) UpdateMonitor(ctx context.Context, m *Monitor) error {
	m.UpdatedAt = time.Now().UTC()
	return s.upsertMonitor(ctx, m)
}

func (s *PostgresStore) upsertMonitor(ctx context.Context, m *Monitor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitors (`+monitorColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
		  name=EXCLUDED.name, url=EXCLUDED.url, type=EXCLUDED.type,
		  interval_ns=EXCLUDED.interval_ns, is_active=EXCLUDED.is_active,
		  status=EXCLUDED.status, n=EXCLUDED.n, m=EXCLUDED.m,
		  last_statuses=EXCLUDED.last_statuses, last_checked_at=EXCLUDED.last_checked_at,
		  updated_at=EXCLUDED.updated_at`,
		m.ID, m.Name, m.URL, string(m.Type), int64(m.Interval), m.IsActive, string(m.Status),
		m.N, m.M, statusesToStrings(m.LastStatuses), nullTime(m.LastCheckedAt), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert monitor: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMonitor(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM monitors WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete monitor: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendCheck(ctx context.Context, c *Check) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	var statusPtr *int
	if c.HTTPStatusCode != 0 {
		statusPtr = &c.HTTPStatusCode
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checks
		  (id, monitor_id, type, status, response_time_ms, http_status_code, message, error_message,
		   wait_ms, dns_ms, tcp_ms, tls_ms, request_ms, first_byte_ms, download_ms, total_ms,
		   created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		c.ID, c.MonitorID, string(c.Type), string(c.Status), c.ResponseTime, statusPtr, c.Message, c.ErrorMessage,
		c.Timings.Wait, c.Timings.DNS, c.Timings.TCP, c.Timings.TLS, c.Timings.Request,
		c.Timings.FirstByte, c.Timings.Download, c.Timings.Total,
		c.CreatedAt, nullTime(c.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert check: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChecks(ctx context.Context, filters CheckFilters) ([]Check, error) {
	q := `SELECT id, monitor_id, type, status, response_time_ms, http_status_code, message, error_message,
	             wait_ms, dns_ms, tcp_ms, tls_ms, request_ms, first_byte_ms, download_ms, total_ms,
	             created_at, expires_at
	        FROM checks WHERE TRUE`
	args := []any{}
	if filters.MonitorID != "" {
		args = append(args, filters.MonitorID)
		q += fmt.Sprintf(` AND monitor_id = $%d`, len(args))
	}
	if filters.Since != nil {
		args = append(args, *filters.Since)
		q += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	q += ` ORDER BY created_at DESC`
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	defer rows.Close()

	var out []Check
	for rows.Next() {
		var (
			c         Check
			typ       string
			status    string
			httpCode  *int32
			expiresAt *time.Time
		)
		if err := rows.Scan(&c.ID, &c.MonitorID, &typ, &status, &c.ResponseTime, &httpCode, &c.Message, &c.ErrorMessage,
			&c.Timings.Wait, &c.Timings.DNS, &c.Timings.TCP, &c.Timings.TLS, &c.Timings.Request,
			&c.Timings.FirstByte, &c.Timings.Download, &c.Timings.Total,
			&c.CreatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		c.Type = Protocol(typ)
		c.Status = Status(status)
		if httpCode != nil {
			c.HTTPStatusCode = int(*httpCode)
		}
		c.ExpiresAt = derefTime(expiresAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteOrphanedChecks(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM checks c
		 WHERE NOT EXISTS (SELECT 1 FROM monitors m WHERE m.id = c.monitor_id)`)
	if err != nil {
		return 0, fmt.Errorf("delete orphaned checks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteChecksBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM checks WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired checks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetStats(ctx context.Context, monitorID string) (*MonitorStats, error) {
	var (
		st        MonitorStats
		lastCheck *time.Time
		lastFail  *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT monitor_id, total_checks, total_up_checks, total_down_checks, avg_response_time_ms,
		       last_response_time_ms, uptime_percentage, last_check_timestamp, time_of_last_failure,
		       created_at, updated_at
		  FROM monitor_stats WHERE monitor_id = $1`, monitorID).
		Scan(&st.MonitorID, &st.TotalChecks, &st.TotalUpChecks, &st.TotalDownChecks, &st.AvgResponseTime,
			&st.LastResponseTime, &st.UptimePercentage, &lastCheck, &lastFail, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStatsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	st.LastCheckTimestamp = derefTime(lastCheck)
	st.TimeOfLastFailure = derefTime(lastFail)
	return &st, nil
}

func (s *PostgresStore) UpdateStats(ctx context.Context, st *MonitorStats) error {
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitor_stats
		  (monitor_id, total_checks, total_up_checks, total_down_checks, avg_response_time_ms,
		   last_response_time_ms, uptime_percentage, last_check_timestamp, time_of_last_failure,
		   created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (monitor_id) DO UPDATE SET
		  total_checks=EXCLUDED.total_checks, total_up_checks=EXCLUDED.total_up_checks,
		  total_down_checks=EXCLUDED.total_down_checks, avg_response_time_ms=EXCLUDED.avg_response_time_ms,
		  last_response_time_ms=EXCLUDED.last_response_time_ms, uptime_percentage=EXCLUDED.uptime_percentage,
		  last_check_timestamp=EXCLUDED.last_check_timestamp, time_of_last_failure=EXCLUDED.time_of_last_failure,
		  updated_at=EXCLUDED.updated_at`,
		st.MonitorID, st.TotalChecks, st.TotalUpChecks, st.TotalDownChecks, st.AvgResponseTime,
		st.LastResponseTime, st.UptimePercentage, nullTime(st.LastCheckTimestamp), nullTime(st.TimeOfLastFailure),
		st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert stats: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteStats(ctx context.Context, monitorID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM monitor_stats WHERE monitor_id = $1`, monitorID); err != nil {
		return fmt.Errorf("delete stats: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	var (
		stats          DatabaseStats
		oldest, newest *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM monitors),
		       (SELECT COUNT(*) FROM checks),
		       (SELECT COUNT(*) FROM monitor_stats),
		       (SELECT MIN(created_at) FROM checks),
		       (SELECT MAX(created_at) FROM checks)`).
		Scan(&stats.TotalMonitors, &stats.TotalChecks, &stats.TotalStats, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("database stats: %w", err)
	}
	stats.OldestCheck = derefTime(oldest)
	stats.NewestCheck = derefTime(newest)
	return &stats, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
