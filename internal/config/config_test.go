package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
monitors:
  - id: example
    url: https://example.com
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != ":8000" || cfg.Server.Workers != 4 {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Database.Type != "boltdb" || cfg.Database.CleanupInterval != time.Hour {
		t.Errorf("database defaults = %+v", cfg.Database)
	}
	if cfg.Database.HistoryRetention != 30*24*time.Hour {
		t.Errorf("history retention = %s", cfg.Database.HistoryRetention)
	}
	if cfg.Monitoring.Timeout != 30*time.Second {
		t.Errorf("probe timeout = %s", cfg.Monitoring.Timeout)
	}

	m := cfg.Monitors[0]
	if m.Name != "example" || m.Type != "https" {
		t.Errorf("monitor name/type = %q/%q", m.Name, m.Type)
	}
	if m.Interval != time.Minute || m.N != 3 || m.M != 5 {
		t.Errorf("monitor debounce defaults = interval %s n %d m %d", m.Interval, m.N, m.M)
	}
	if !m.IsEnabled() {
		t.Error("monitor without enabled flag should be enabled")
	}
}

func TestWindowDefaultGrowsWithThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
monitors:
  - id: strict
    url: http://example.com
    n: 7
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitors[0].M != 7 {
		t.Fatalf("m = %d, want 7", cfg.Monitors[0].M)
	}
}

func TestValidateRejectsBadMonitors(t *testing.T) {
	cases := map[string]string{
		"n greater than m": `
monitors:
  - id: a
    url: http://a
    n: 4
    m: 2
`,
		"duplicate id": `
monitors:
  - id: a
    url: http://a
  - id: a
    url: http://b
`,
		"missing url": `
monitors:
  - id: a
`,
		"unsupported type": `
monitors:
  - id: a
    url: ftp://a
`,
		"colon in id": `
monitors:
  - id: "a:b"
    url: http://a
`,
		"postgres without dsn": `
database:
  type: postgres
`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, body)
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestIncludesMergeMonitorsByID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
include:
  enabled: true
  directory: conf.d
logging:
  level: warn
  format: json
monitors:
  - id: api
    url: https://api.example.com
    interval: 30s
`)
	writeFile(t, filepath.Join(dir, "conf.d", "10-override.yaml"), `
monitors:
  - id: api
    url: https://api.example.com/health
    interval: 10s
`)
	writeFile(t, filepath.Join(dir, "conf.d", "20-extra.yml"), `
monitoring:
  default_threshold: 2
logging:
  level: debug
monitors:
  - id: web
    url: http://www.example.com
`)

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Monitors) != 2 {
		t.Fatalf("got %d monitors, want 2", len(cfg.Monitors))
	}
	api := cfg.Monitors[0]
	if !strings.HasSuffix(api.URL, "/health") || api.Interval != 10*time.Second {
		t.Errorf("api monitor not overridden: %+v", api)
	}
	web := cfg.Monitors[1]
	if web.Type != "http" || web.N != 2 {
		t.Errorf("web monitor = %+v", web)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging not overlaid: %+v", cfg.Logging)
	}
}

func TestMissingIncludeDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
include:
  enabled: true
  directory: nowhere
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing include directory")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := validate(Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
