// internal/monitoring/transport.go
package monitoring

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/John-MustangGT/raven-uptime/internal/database"
)

type TransportRequest struct {
	URL string
}

// TransportResponse describes what came back. Timings are filled in as far
// as the request got, also when Do returns an error.
type TransportResponse struct {
	StatusCode int
	Status     string
	OK         bool
	Timings    database.Timings
}

// Transport issues one timed request.
type Transport interface {
	Do(ctx context.Context, req *TransportRequest) (*TransportResponse, error)
}

type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

func NewHTTPTransport(userAgent string, maxRedirects int) *HTTPTransport {
	if maxRedirects < 0 {
		maxRedirects = 0
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	// Every probe measures a full connection setup.
	transport.DisableKeepAlives = true

	return &HTTPTransport{
		userAgent: userAgent,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// phaseClock collects httptrace timestamps. Dial callbacks may run on other
// goroutines, hence the lock.
type phaseClock struct {
	mu                     sync.Mutex
	start                  time.Time
	dnsStart, dnsDone      time.Time
	connectStart, connDone time.Time
	tlsStart, tlsDone      time.Time
	gotConn                time.Time
	wroteRequest           time.Time
	firstByte              time.Time
	end                    time.Time
}

func (p *phaseClock) mark(t *time.Time) {
	p.mu.Lock()
	*t = time.Now()
	p.mu.Unlock()
}

func (p *phaseClock) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart:             func(httptrace.DNSStartInfo) { p.mark(&p.dnsStart) },
		DNSDone:              func(httptrace.DNSDoneInfo) { p.mark(&p.dnsDone) },
		ConnectStart:         func(string, string) { p.mark(&p.connectStart) },
		ConnectDone:          func(string, string, error) { p.mark(&p.connDone) },
		TLSHandshakeStart:    func() { p.mark(&p.tlsStart) },
		TLSHandshakeDone:     func(tls.ConnectionState, error) { p.mark(&p.tlsDone) },
		GotConn:              func(httptrace.GotConnInfo) { p.mark(&p.gotConn) },
		WroteRequest:         func(httptrace.WroteRequestInfo) { p.mark(&p.wroteRequest) },
		GotFirstResponseByte: func() { p.mark(&p.firstByte) },
	}
}

func span(from, to time.Time) float64 {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return float64(to.Sub(from)) / float64(time.Millisecond)
}

func firstSet(ts ...time.Time) time.Time {
	for _, t := range ts {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

func (p *phaseClock) timings() database.Timings {
	p.mu.Lock()
	defer p.mu.Unlock()

	end := p.end
	if end.IsZero() {
		end = time.Now()
	}
	return database.Timings{
		Wait:      span(p.start, firstSet(p.dnsStart, p.connectStart, p.gotConn)),
		DNS:       span(p.dnsStart, p.dnsDone),
		TCP:       span(p.connectStart, p.connDone),
		TLS:       span(p.tlsStart, p.tlsDone),
		Request:   span(p.gotConn, p.wroteRequest),
		FirstByte: span(p.wroteRequest, p.firstByte),
		Download:  span(p.firstByte, p.end),
		Total:     span(p.start, end),
	}
}

func (t *HTTPTransport) Do(ctx context.Context, treq *TransportRequest) (*TransportResponse, error) {
	clock := &phaseClock{}
	out := &TransportResponse{}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, clock.trace()), http.MethodGet, treq.URL, nil)
	if err != nil {
		return out, err
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	clock.mark(&clock.start)
	resp, err := t.client.Do(req)
	if err != nil {
		out.Timings = clock.timings()
		return out, err
	}
	defer resp.Body.Close()

	_, copyErr := io.Copy(io.Discard, resp.Body)
	clock.mark(&clock.end)

	out.StatusCode = resp.StatusCode
	out.Status = http.StatusText(resp.StatusCode)
	if out.Status == "" {
		out.Status = resp.Status
	}
	out.OK = resp.StatusCode >= 200 && resp.StatusCode < 400
	out.Timings = clock.timings()
	if copyErr != nil {
		return out, fmt.Errorf("read body: %w", copyErr)
	}
	return out, nil
}
