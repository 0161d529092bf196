// Package main provides the hubd daemon - the wallet integration hub.
package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/playware/integration-hub/internal/client"
	"github.com/playware/integration-hub/internal/config"
	"github.com/playware/integration-hub/internal/dispatch"
	"github.com/playware/integration-hub/internal/rpc"
	"github.com/playware/integration-hub/internal/storage"
	"github.com/playware/integration-hub/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir     = flag.String("data-dir", "~/.hub", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		listenAddr  = flag.String("listen", "", "API listen address, overrides config")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("hubd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Load or create config file
	var cfg *config.Config
	var err error

	if *configFile != "" {
		cfg, err = config.LoadConfig(filepath.Dir(*configFile))
	} else {
		cfg, err = config.LoadConfig(*dataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = *dataDir

	// Update logging with config level
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.ConfigPath(*dataDir))

	// Initialize storage
	store, err := storage.New(&storage.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "dir", cfg.Storage.DataDir)

	// Remote clients. Synchronous reads (reconciliation) share the retry
	// discipline with the dispatcher.
	operatorClient := client.NewOperatorClient(cfg.Operator.BaseURL, client.New(client.Config{
		MaxRetries:         cfg.Client.MaxRetries,
		RetryBackoff:       cfg.Client.RetryBackoff(),
		RateLimitPerMinute: cfg.Client.RateLimitPerMinute,
		Timeout:            cfg.Operator.Timeout,
	}))
	rgsClient := client.NewRGSClient(cfg.RGS.WebhookURL, client.New(client.Config{
		MaxRetries:         cfg.Client.MaxRetries,
		RetryBackoff:       cfg.Client.RetryBackoff(),
		RateLimitPerMinute: cfg.Client.RateLimitPerMinute,
		Timeout:            cfg.RGS.Timeout,
	}))

	// Start API server
	server := rpc.NewServer(cfg, store, operatorClient, rgsClient)
	if err := server.Start(cfg.Server.ListenAddr); err != nil {
		log.Fatal("Failed to start API server", "error", err)
	}

	// Start the outbox dispatcher. Its client carries the same retry
	// budget as the synchronous ones, so a transient 429 is absorbed
	// within the attempt. Failures that outlive the budget are
	// rescheduled through the outbox backoff.
	dispatcher := dispatch.New(store,
		client.New(client.Config{
			MaxRetries:         cfg.Client.MaxRetries,
			RetryBackoff:       cfg.Client.RetryBackoff(),
			RateLimitPerMinute: cfg.Client.RateLimitPerMinute,
			Timeout:            cfg.Operator.Timeout,
		}),
		dispatch.Config{PollInterval: cfg.Dispatch.PollInterval},
		server.WSHub(),
	)
	dispatcher.Start()

	printBanner(log, cfg)

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	dispatcher.Stop()
	if err := server.Stop(); err != nil {
		log.Error("Error stopping API server", "error", err)
	}

	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, cfg *config.Config) {
	log.Info("")
	log.Info("=================================================")
	log.Info("  Integration Hub")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", cfg.Server.ListenAddr)
	log.Infof("  WS:  ws://%s/ws", cfg.Server.ListenAddr)
	log.Info("")
	log.Infof("  Operator: %s", cfg.Operator.BaseURL)
	log.Infof("  RGS webhook: %s", cfg.RGS.WebhookURL)
	log.Infof("  Data dir: %s", cfg.Storage.DataDir)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
