package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/John-MustangGT/raven-uptime/internal/config"
	"github.com/John-MustangGT/raven-uptime/internal/database"
	"github.com/John-MustangGT/raven-uptime/internal/logging"
	"github.com/John-MustangGT/raven-uptime/internal/metrics"
	"github.com/John-MustangGT/raven-uptime/internal/monitoring"
	"github.com/John-MustangGT/raven-uptime/internal/web"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		info := web.CurrentBuildInfo()
		fmt.Printf("Raven Uptime %s\nCommit: %s\nBuilt: %s\nGo: %s\n", info.Version, info.GitCommit, info.BuildTime, info.GoVersion)
		os.Exit(0)
	}

	cfg, configPath, err := loadConfig(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	logrus.WithFields(logrus.Fields{
		"config_file": configPath,
		"port":        cfg.Server.Port,
		"workers":     cfg.Server.Workers,
		"database":    cfg.Database.Type,
		"monitors":    len(cfg.Monitors),
	}).Info("Starting Raven uptime monitor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := database.Open(ctx, cfg.Database.Type, cfg.Database.Path, cfg.Database.DSN)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	metricsCollector := metrics.NewCollector(store)

	engine, err := monitoring.NewEngine(cfg, store, metricsCollector)
	if err != nil {
		logrus.Fatalf("Failed to initialize monitoring engine: %v", err)
	}

	webServer := web.NewServer(cfg, store, engine, metricsCollector)
	webServer.SetConfigPath(configPath)

	if err := engine.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start monitoring engine: %v", err)
	}
	if err := webServer.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start web server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig).Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := webServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Web server shutdown incomplete")
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Monitoring engine did not drain before the deadline")
	}
	cancel()

	logrus.Info("Shutdown complete")
}

// loadConfig reads the config file, falling back to built-in defaults when
// the file does not exist. The returned path is empty in that case.
func loadConfig(path string) (*config.Config, string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logrus.WithField("config_file", path).Warn("Config file not found, using defaults")
		return config.Default(), "", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}
