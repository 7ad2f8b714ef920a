// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitors   []MonitorConfig  `yaml:"monitors"`
	Include    IncludeConfig    `yaml:"include"`
}

type IncludeConfig struct {
	Directory string `yaml:"directory"`
	Pattern   string `yaml:"pattern"`
	Enabled   bool   `yaml:"enabled"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Workers         int           `yaml:"workers"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Type             string        `yaml:"type"`
	Path             string        `yaml:"path"`
	DSN              string        `yaml:"dsn"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	HistoryRetention time.Duration `yaml:"history_retention"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type MonitoringConfig struct {
	DefaultInterval  time.Duration `yaml:"default_interval"`
	Timeout          time.Duration `yaml:"timeout"`
	DefaultThreshold int           `yaml:"default_threshold"`
	DefaultWindow    int           `yaml:"default_window"`
	UserAgent        string        `yaml:"user_agent"`
	MaxRedirects     int           `yaml:"max_redirects"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MonitorConfig seeds a monitor into storage on startup.
type MonitorConfig struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	URL      string        `yaml:"url"`
	Type     string        `yaml:"type"`
	Interval time.Duration `yaml:"interval"`
	Enabled  *bool         `yaml:"enabled"`
	N        int           `yaml:"n"`
	M        int           `yaml:"m"`
}

// IsEnabled treats an absent flag as enabled.
func (m *MonitorConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

func Load(filename string) (*Config, error) {
	config, err := loadConfigFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config file: %w", err)
	}

	if config.Include.Enabled && config.Include.Directory != "" {
		if err := loadIncludes(config, filepath.Dir(filename)); err != nil {
			return nil, fmt.Errorf("failed to load includes: %w", err)
		}
	}

	setDefaults(config)

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Default returns a configuration with every default applied and no monitors.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadConfigFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

func loadIncludes(config *Config, baseDir string) error {
	includeDir := config.Include.Directory
	if !filepath.IsAbs(includeDir) {
		includeDir = filepath.Join(baseDir, includeDir)
	}

	if _, err := os.Stat(includeDir); os.IsNotExist(err) {
		return fmt.Errorf("include directory does not exist: %s", includeDir)
	}

	pattern := config.Include.Pattern
	if pattern == "" {
		pattern = "*.yaml"
	}

	matches, err := filepath.Glob(filepath.Join(includeDir, pattern))
	if err != nil {
		return fmt.Errorf("failed to glob include pattern: %w", err)
	}

	if pattern == "*.yaml" {
		ymlMatches, err := filepath.Glob(filepath.Join(includeDir, "*.yml"))
		if err != nil {
			return fmt.Errorf("failed to glob .yml files: %w", err)
		}
		matches = append(matches, ymlMatches...)
	}

	sort.Slice(matches, func(i, j int) bool {
		return filepath.Base(matches[i]) < filepath.Base(matches[j])
	})

	for _, match := range matches {
		if err := loadAndMergeInclude(config, match); err != nil {
			return fmt.Errorf("failed to load include file %s: %w", match, err)
		}
	}

	return nil
}

// loadAndMergeInclude decodes an include file on top of the current config.
// Keys absent from the file keep their value; monitors are merged by ID
// instead of replacing the list.
func loadAndMergeInclude(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read include file: %w", err)
	}

	monitors, include := config.Monitors, config.Include
	config.Monitors = nil
	err = yaml.Unmarshal(data, config)
	added := config.Monitors
	config.Monitors, config.Include = monitors, include
	if err != nil {
		return fmt.Errorf("failed to parse include file YAML: %w", err)
	}

	mergeMonitors(config, added)
	return nil
}

// mergeMonitors replaces monitors with a matching ID and appends the rest.
func mergeMonitors(config *Config, monitors []MonitorConfig) {
	index := make(map[string]int, len(config.Monitors))
	for i, m := range config.Monitors {
		index[m.ID] = i
	}
	for _, m := range monitors {
		if i, ok := index[m.ID]; ok && m.ID != "" {
			config.Monitors[i] = m
			continue
		}
		config.Monitors = append(config.Monitors, m)
		index[m.ID] = len(config.Monitors) - 1
	}
}

func setDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	if cfg.Server.Workers == 0 {
		cfg.Server.Workers = 4
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	// Database defaults
	if cfg.Database.Type == "" {
		cfg.Database.Type = "boltdb"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/raven-uptime.db"
	}
	if cfg.Database.CleanupInterval == 0 {
		cfg.Database.CleanupInterval = time.Hour
	}
	if cfg.Database.HistoryRetention == 0 {
		cfg.Database.HistoryRetention = 30 * 24 * time.Hour
	}

	if cfg.Include.Pattern == "" {
		cfg.Include.Pattern = "*.yaml"
	}

	// Monitoring defaults
	if cfg.Monitoring.DefaultInterval == 0 {
		cfg.Monitoring.DefaultInterval = time.Minute
	}
	if cfg.Monitoring.Timeout == 0 {
		cfg.Monitoring.Timeout = 30 * time.Second
	}
	if cfg.Monitoring.DefaultThreshold == 0 {
		cfg.Monitoring.DefaultThreshold = 3
	}
	if cfg.Monitoring.DefaultWindow == 0 {
		cfg.Monitoring.DefaultWindow = 5
	}
	if cfg.Monitoring.UserAgent == "" {
		cfg.Monitoring.UserAgent = "raven-uptime/1.0"
	}
	if cfg.Monitoring.MaxRedirects == 0 {
		cfg.Monitoring.MaxRedirects = 10
	}

	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.File != "" {
		if cfg.Logging.MaxSizeMB == 0 {
			cfg.Logging.MaxSizeMB = 100
		}
		if cfg.Logging.MaxBackups == 0 {
			cfg.Logging.MaxBackups = 3
		}
		if cfg.Logging.MaxAgeDays == 0 {
			cfg.Logging.MaxAgeDays = 28
		}
	}

	// Per-monitor defaults come from the monitoring section
	for i := range cfg.Monitors {
		m := &cfg.Monitors[i]
		if m.Interval == 0 {
			m.Interval = cfg.Monitoring.DefaultInterval
		}
		if m.N == 0 {
			m.N = cfg.Monitoring.DefaultThreshold
		}
		if m.M == 0 {
			m.M = max(cfg.Monitoring.DefaultWindow, m.N)
		}
		if m.Type == "" {
			m.Type = schemeOf(m.URL)
		}
		if m.Name == "" {
			m.Name = m.ID
		}
	}
}

func schemeOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		return strings.ToLower(u.Scheme)
	}
	return "https"
}

func validate(cfg *Config) error {
	if cfg.Server.Workers < 1 {
		return fmt.Errorf("server.workers must be at least 1")
	}

	switch cfg.Database.Type {
	case "boltdb", "memory":
	case "postgres":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.type %q", cfg.Database.Type)
	}

	if cfg.Monitoring.DefaultThreshold < 1 {
		return fmt.Errorf("monitoring.default_threshold must be at least 1")
	}
	if cfg.Monitoring.DefaultWindow < cfg.Monitoring.DefaultThreshold {
		return fmt.Errorf("monitoring.default_window must be >= monitoring.default_threshold")
	}
	if cfg.Monitoring.DefaultInterval <= 0 {
		return fmt.Errorf("monitoring.default_interval must be positive")
	}
	if cfg.Monitoring.Timeout <= 0 {
		return fmt.Errorf("monitoring.timeout must be positive")
	}
	if cfg.Monitoring.MaxRedirects < 0 {
		return fmt.Errorf("monitoring.max_redirects cannot be negative")
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if cfg.Include.Enabled {
		if cfg.Include.Directory == "" {
			return fmt.Errorf("include.directory must be specified when include.enabled is true")
		}
		if cfg.Include.Pattern != "" && !isValidGlobPattern(cfg.Include.Pattern) {
			return fmt.Errorf("include.pattern contains invalid glob pattern: %s", cfg.Include.Pattern)
		}
	}

	ids := make(map[string]bool)
	for _, m := range cfg.Monitors {
		if m.ID == "" {
			return fmt.Errorf("monitor %q has no id", m.Name)
		}
		if strings.Contains(m.ID, ":") {
			return fmt.Errorf("monitor id %q must not contain ':'", m.ID)
		}
		if ids[m.ID] {
			return fmt.Errorf("duplicate monitor ID: %s", m.ID)
		}
		ids[m.ID] = true

		if m.URL == "" {
			return fmt.Errorf("monitor '%s' has no url", m.ID)
		}
		if m.Type != "http" && m.Type != "https" {
			return fmt.Errorf("monitor '%s' has unsupported type %q", m.ID, m.Type)
		}
		if m.Interval <= 0 {
			return fmt.Errorf("monitor '%s' has invalid interval %s", m.ID, m.Interval)
		}
		if m.N < 1 {
			return fmt.Errorf("monitor '%s' has invalid n: %d (must be >= 1)", m.ID, m.N)
		}
		if m.M < m.N {
			return fmt.Errorf("monitor '%s' has m=%d smaller than n=%d", m.ID, m.M, m.N)
		}
	}

	return nil
}

// isValidGlobPattern checks if a string is a valid glob pattern
func isValidGlobPattern(pattern string) bool {
	if strings.Contains(pattern, "/") || strings.Contains(pattern, "\\") {
		return false
	}
	_, err := filepath.Match(pattern, "test.yaml")
	return err == nil
}
