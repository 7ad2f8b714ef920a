// internal/monitoring/probe.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/John-MustangGT/raven-uptime/internal/database"
)

// NetworkErrorCode is reported when no HTTP response was received.
const NetworkErrorCode = 5000

const DefaultProbeTimeout = 30 * time.Second

var (
	ErrMissingAddress      = errors.New("monitor has no address")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)

// Outcome is the normalized result of one probe.
type Outcome struct {
	MonitorID    string
	Type         database.Protocol
	Status       database.Status
	Code         int
	Message      string
	Error        string
	ResponseTime float64
	Timings      database.Timings
}

// Check converts the outcome into a history record.
func (o *Outcome) Check(now time.Time, retention time.Duration) *database.Check {
	c := &database.Check{
		MonitorID:    o.MonitorID,
		Type:         o.Type,
		Status:       o.Status,
		ResponseTime: o.ResponseTime,
		Message:      o.Message,
		ErrorMessage: o.Error,
		Timings:      o.Timings,
		CreatedAt:    now,
	}
	if o.Code != NetworkErrorCode {
		c.HTTPStatusCode = o.Code
	}
	if retention > 0 {
		c.ExpiresAt = now.Add(retention)
	}
	return c
}

type ProbeExecutor struct {
	transport Transport
	timeout   time.Duration
}

func NewProbeExecutor(transport Transport, timeout time.Duration) *ProbeExecutor {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &ProbeExecutor{transport: transport, timeout: timeout}
}

// target resolves the address to request. A URL without a scheme takes the
// monitor's protocol.
func target(mon *database.Monitor) (string, error) {
	raw := strings.TrimSpace(mon.URL)
	if raw == "" {
		return "", ErrMissingAddress
	}
	if !mon.Type.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProtocol, mon.Type)
	}
	if !strings.Contains(raw, "://") {
		raw = string(mon.Type) + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrMissingAddress, mon.URL)
	}
	if u.Scheme != string(database.ProtocolHTTP) && u.Scheme != string(database.ProtocolHTTPS) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProtocol, u.Scheme)
	}
	return u.String(), nil
}

// Probe performs one request for mon. Network failures and non-OK responses
// come back as a down Outcome; only configuration faults return an error.
func (p *ProbeExecutor) Probe(ctx context.Context, mon *database.Monitor) (*Outcome, error) {
	addr, err := target(mon)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	outcome := &Outcome{MonitorID: mon.ID, Type: mon.Type}
	resp, err := p.transport.Do(ctx, &TransportRequest{URL: addr})
	if resp == nil {
		resp = &TransportResponse{}
	}
	if err == nil && resp.StatusCode == 0 {
		err = errors.New("no response")
	}
	outcome.Timings = resp.Timings
	outcome.ResponseTime = resp.Timings.Total

	switch {
	case err != nil && resp.StatusCode == 0:
		outcome.Status = database.StatusDown
		outcome.Code = NetworkErrorCode
		outcome.Message = err.Error()
		outcome.Error = err.Error()
	case err != nil:
		outcome.Status = database.StatusDown
		outcome.Code = resp.StatusCode
		outcome.Message = resp.Status
		outcome.Error = err.Error()
	case resp.OK:
		outcome.Status = database.StatusUp
		outcome.Code = resp.StatusCode
		outcome.Message = resp.Status
	default:
		outcome.Status = database.StatusDown
		outcome.Code = resp.StatusCode
		outcome.Message = resp.Status
	}
	return outcome, nil
}
