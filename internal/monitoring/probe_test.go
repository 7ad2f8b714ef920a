package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/John-MustangGT/raven-uptime/internal/database"
)

func httpMonitor(url string) *database.Monitor {
	return &database.Monitor{ID: "m1", Name: "test", URL: url, Type: database.ProtocolHTTP, IsActive: true, N: 1, M: 1}
}

func newTestExecutor(timeout time.Duration) *ProbeExecutor {
	return NewProbeExecutor(NewHTTPTransport("raven-uptime-test", 3), timeout)
}

func TestProbeUp(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	out, err := newTestExecutor(time.Second).Probe(context.Background(), httpMonitor(srv.URL))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if out.Status != database.StatusUp || out.Code != http.StatusOK || out.Message != "OK" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.ResponseTime <= 0 || out.ResponseTime != out.Timings.Total {
		t.Fatalf("response time %v, total %v", out.ResponseTime, out.Timings.Total)
	}
	if out.Timings.TCP <= 0 {
		t.Errorf("tcp phase not captured: %+v", out.Timings)
	}
	if gotUA != "raven-uptime-test" {
		t.Errorf("user agent = %q", gotUA)
	}
}

func TestProbeErrorStatusIsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	out, err := newTestExecutor(time.Second).Probe(context.Background(), httpMonitor(srv.URL))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if out.Status != database.StatusDown || out.Code != http.StatusServiceUnavailable {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Message != "Service Unavailable" {
		t.Fatalf("message = %q", out.Message)
	}
}

func TestProbeRedirectToOKIsUp(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := newTestExecutor(time.Second).Probe(context.Background(), httpMonitor(srv.URL+"/old"))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if out.Status != database.StatusUp || out.Code != http.StatusOK {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestProbeRedirectLoopIsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
	}))
	defer srv.Close()

	out, err := newTestExecutor(time.Second).Probe(context.Background(), httpMonitor(srv.URL+"/loop"))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if out.Status != database.StatusDown || !strings.Contains(out.Error, "redirects") {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestProbeConnectionRefusedIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	out, err := newTestExecutor(time.Second).Probe(context.Background(), httpMonitor(url))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if out.Status != database.StatusDown || out.Code != NetworkErrorCode || out.Error == "" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestProbeTimeoutIsDown(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	out, err := newTestExecutor(50*time.Millisecond).Probe(context.Background(), httpMonitor(srv.URL))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("probe did not honour its timeout")
	}
	if out.Status != database.StatusDown || out.Code != NetworkErrorCode {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Timings.TCP <= 0 {
		t.Errorf("partial timings lost: %+v", out.Timings)
	}
}

func TestProbeUntrustedTLSIsDown(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	mon := httpMonitor(srv.URL)
	mon.Type = database.ProtocolHTTPS
	out, err := newTestExecutor(time.Second).Probe(context.Background(), mon)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if out.Status != database.StatusDown || out.Code != NetworkErrorCode {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestProbeConfigurationFaults(t *testing.T) {
	exec := newTestExecutor(time.Second)

	if _, err := exec.Probe(context.Background(), httpMonitor("")); !errors.Is(err, ErrMissingAddress) {
		t.Fatalf("empty url: err = %v", err)
	}

	mon := httpMonitor("example.com")
	mon.Type = "icmp"
	if _, err := exec.Probe(context.Background(), mon); !errors.Is(err, ErrUnsupportedProtocol) {
		t.Fatalf("bad type: err = %v", err)
	}

	if _, err := exec.Probe(context.Background(), httpMonitor("ftp://example.com")); !errors.Is(err, ErrUnsupportedProtocol) {
		t.Fatalf("ftp scheme: err = %v", err)
	}
}

type fakeTransport struct {
	resp *TransportResponse
	err  error
	req  *TransportRequest
}

func (f *fakeTransport) Do(ctx context.Context, req *TransportRequest) (*TransportResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestProbeKeepsPartialTimingsOnError(t *testing.T) {
	ft := &fakeTransport{
		resp: &TransportResponse{Timings: database.Timings{DNS: 3, TCP: 7, Total: 12}},
		err:  errors.New("connection reset by peer"),
	}
	out, err := NewProbeExecutor(ft, time.Second).Probe(context.Background(), httpMonitor("example.com"))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if ft.req.URL != "http://example.com" {
		t.Errorf("scheme not applied: %q", ft.req.URL)
	}
	if out.Status != database.StatusDown || out.Code != NetworkErrorCode || out.Message != "connection reset by peer" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Timings.TCP != 7 || out.ResponseTime != 12 {
		t.Fatalf("timings = %+v, response time %v", out.Timings, out.ResponseTime)
	}
}

func TestOutcomeCheckOmitsNetworkCode(t *testing.T) {
	now := time.Now()
	c := (&Outcome{MonitorID: "m1", Status: database.StatusDown, Code: NetworkErrorCode}).Check(now, time.Hour)
	if c.HTTPStatusCode != 0 {
		t.Fatalf("http status = %d, want absent", c.HTTPStatusCode)
	}
	if !c.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expires at = %v", c.ExpiresAt)
	}
}
