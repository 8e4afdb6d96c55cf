package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mescon/InfinityStatus/internal/activity"
	"github.com/mescon/InfinityStatus/internal/api"
	"github.com/mescon/InfinityStatus/internal/clock"
	"github.com/mescon/InfinityStatus/internal/config"
	"github.com/mescon/InfinityStatus/internal/db"
	"github.com/mescon/InfinityStatus/internal/discovery"
	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/eventbus"
	"github.com/mescon/InfinityStatus/internal/homekit"
	"github.com/mescon/InfinityStatus/internal/logger"
	"github.com/mescon/InfinityStatus/internal/metrics"
	"github.com/mescon/InfinityStatus/internal/notifier"
	"github.com/mescon/InfinityStatus/internal/registry"
	"github.com/mescon/InfinityStatus/internal/services"
	"github.com/mescon/InfinityStatus/internal/syncstore"
)

func main() {
	// Define command line flags (these override environment variables)
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.BoolVar(showVersion, "v", false, "Print version and exit (shorthand)")

	// Configuration flags - all can also be set via environment variables (INFINITY_*)
	flagPort := flag.String("port", "", "HTTP server port (env: INFINITY_PORT, default: 3095)")
	flagBasePath := flag.String("base-path", "", "URL base path for reverse proxy (env: INFINITY_BASE_PATH, default: /)")
	flagLogLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (env: INFINITY_LOG_LEVEL, default: info)")
	flagPollInterval := flag.Duration("poll-interval", 0, "Viewer refresh interval, 50ms to 1s (env: INFINITY_POLL_INTERVAL, default: 250ms)")
	flagSyncMode := flag.String("sync-mode", "", "Timer sharing: local, sqlite or file (env: INFINITY_SYNC_MODE, default: local)")
	flagSyncFile := flag.String("sync-file", "", "Shared document for file sync mode (env: INFINITY_SYNC_FILE)")
	flagTimersFile := flag.String("timers-file", "", "YAML file with timer presets (env: INFINITY_TIMERS_FILE)")
	flagDatabaseDriver := flag.String("database-driver", "", "SQLite driver: sqlite (pure Go) or sqlite3 (CGo) (env: INFINITY_DB_DRIVER)")
	flagMDNS := flag.Bool("mdns", false, "Advertise the HTTP service over mDNS (env: INFINITY_MDNS)")
	flagHomeKit := flag.Bool("homekit", false, "Expose timers as HomeKit switches (env: INFINITY_HOMEKIT)")
	flagDataDir := flag.String("data-dir", "", "Data directory path (env: INFINITY_DATA_DIR)")
	flagDatabasePath := flag.String("database-path", "", "Database file path (env: INFINITY_DATABASE_PATH)")
	flagRetentionDays := flag.Int("retention-days", -1, "Days to keep old events, 0 to disable pruning (env: INFINITY_RETENTION_DAYS, default: 30)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("Infinity Status %s\n", config.Version)
		os.Exit(0)
	}

	// Load configuration from environment variables (initial load, refreshed after flags)
	config.Load()

	flagOverrides := config.FlagOverrides{
		Port:           flagPort,
		BasePath:       flagBasePath,
		LogLevel:       flagLogLevel,
		PollInterval:   flagPollInterval,
		SyncMode:       flagSyncMode,
		SyncFilePath:   flagSyncFile,
		TimersFile:     flagTimersFile,
		DatabaseDriver: flagDatabaseDriver,
		MDNSEnabled:    flagMDNS,
		HomeKitEnabled: flagHomeKit,
		DataDir:        flagDataDir,
		DatabasePath:   flagDatabasePath,
	}
	// Special handling for retention days: -1 means not set (use default), 0 means disable
	if *flagRetentionDays >= 0 {
		flagOverrides.RetentionDays = flagRetentionDays
	}
	config.ApplyFlags(flagOverrides)

	cfg := config.Get()

	logger.InitWithRotation(cfg.LogDir, logger.Rotation{
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	logger.SetLevel(cfg.LogLevel)

	logger.Infof("========================================")
	logger.Infof("Starting Infinity Status %s...", config.Version)
	logger.Infof("Shared repeating countdown timers")
	logger.Infof("========================================")

	logger.Infof("Configuration:")
	logger.Infof("  Port: %s", cfg.Port)
	logger.Infof("  Log Level: %s", cfg.LogLevel)
	logger.Infof("  Poll Interval: %s", cfg.PollInterval)
	logger.Infof("  Sync Mode: %s", cfg.SyncMode)
	logger.Infof("  Data Directory: %s", cfg.DataDir)
	logger.Infof("  Database: %s (driver: %s)", cfg.DatabasePath, cfg.DatabaseDriver)
	logger.Infof("  Log Directory: %s", cfg.LogDir)
	if cfg.RetentionDays > 0 {
		logger.Infof("  Event Retention: %d days", cfg.RetentionDays)
	} else {
		logger.Infof("  Event Retention: disabled (no automatic pruning)")
	}

	presets, err := config.LoadTimerPresets(cfg.TimersFile)
	if err != nil {
		logger.Errorf("Failed to load timer presets: %v", err)
		os.Exit(1)
	}

	// Initialize Database
	logger.Infof("Initializing database: %s", cfg.DatabasePath)
	repo, err := db.NewRepositoryWithDriver(cfg.DatabaseDriver, cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	logger.Infof("✓ Database initialized successfully (driver: %s)", repo.Driver())

	if backupPath, err := repo.Backup(cfg.DatabasePath); err != nil {
		logger.Errorf("Failed to create startup backup: %v", err)
	} else {
		logger.Infof("✓ Database backup created: %s", backupPath)
	}

	// Scheduled backup every 6 hours
	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := repo.Backup(cfg.DatabasePath); err != nil {
				logger.Errorf("Scheduled backup failed: %v", err)
			}
		}
	}()

	// Scheduled maintenance daily at 3 AM local time
	go func() {
		retentionDays := cfg.RetentionDays
		for {
			now := time.Now()
			next3AM := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
			if now.After(next3AM) {
				next3AM = next3AM.Add(24 * time.Hour)
			}
			sleepDuration := next3AM.Sub(now)
			logger.Debugf("Next database maintenance scheduled in %v", sleepDuration)

			time.Sleep(sleepDuration)

			if err := repo.RunMaintenance(retentionDays); err != nil {
				logger.Errorf("Scheduled maintenance failed: %v", err)
			}
		}
	}()

	stopCheckpoint := repo.StartPeriodicCheckpoint(5 * time.Minute)

	config.LoadBasePathFromDB(repo.DB)
	cfg = config.Get()
	logger.Infof("  Base Path: %s (source: %s)", cfg.BasePath, cfg.BasePathSource)

	logger.Infof("Initializing Event Bus...")
	eb := eventbus.NewEventBus(repo.DB)
	logger.Infof("✓ Event Bus initialized")

	// Timers
	logger.Infof("Initializing timers...")
	clk := clock.NewRealClock()
	store, err := openSyncStore(cfg, repo)
	if err != nil {
		logger.Errorf("Failed to open sync store: %v", err)
		os.Exit(1)
	}
	timerService := services.NewTimerService(registry.New(clk), store, eb, presets)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = timerService.Open(startCtx)
	startCancel()
	if err != nil {
		logger.Errorf("Failed to start timers: %v", err)
		os.Exit(1)
	}
	logger.Infof("✓ Timer Service (%d timers, store: %s)", len(timerService.Registry().IDs()), timerService.StoreName())

	board := activity.NewBoard(clk, repo)
	if err := board.Load(context.Background()); err != nil {
		logger.Errorf("Failed to load activity log: %v", err)
	} else {
		logger.Infof("✓ Activity Board (counter: %d)", board.Count())
	}

	logger.Infof("Initializing Metrics Service...")
	metricsService := metrics.NewMetricsService(eb)
	metricsService.Start()
	logger.Infof("✓ Metrics Service (Prometheus endpoint at /metrics)")

	logger.Infof("Initializing Notification Service...")
	notifierService := notifier.NewNotifier(eb, cfg.NotifyURLs, cfg.NotifyMinInterval)
	notifierService.Start()
	logger.Infof("✓ Notification Service (%d targets)", len(notifierService.Targets()))

	schedulerService := services.NewSchedulerService(repo.DB, timerService, eb)
	schedulerService.Start()
	logger.Infof("✓ Scheduler Service (%d cron jobs)", schedulerService.ActiveJobs())

	// Start API Server
	logger.Infof("Initializing REST API and WebSocket server...")
	apiServer := api.NewRESTServer(api.ServerDeps{
		Repo:      repo,
		EventBus:  eb,
		Timers:    timerService,
		Board:     board,
		Scheduler: schedulerService,
		Notifier:  notifierService,
		Metrics:   metricsService,
	})
	go func() {
		addr := ":" + cfg.Port
		if err := apiServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Failed to start API server: %v", err)
			os.Exit(1)
		}
	}()

	poller := services.NewPoller(timerService, apiServer.Hub(), cfg.PollInterval)
	poller.Observe = metricsService.ObserveReadings
	poller.Start()
	logger.Infof("✓ Poller (every %s)", cfg.PollInterval)

	var advertiser *discovery.Advertiser
	if cfg.MDNSEnabled {
		advertiser = startAdvertiser(cfg, timerService, eb)
	}

	homekitCtx, homekitCancel := context.WithCancel(context.Background())
	homekitDone := make(chan struct{})
	if cfg.HomeKitEnabled {
		go func() {
			defer close(homekitDone)
			runHomeKit(homekitCtx, cfg, timerService, eb)
		}()
	} else {
		close(homekitDone)
	}

	logger.Infof("========================================")
	logger.Infof("✓ Infinity Status %s started successfully", config.Version)
	logger.Infof("✓ Server listening on port %s", cfg.Port)
	if cfg.BasePath != "/" {
		logger.Infof("✓ API available at base path: %s", cfg.BasePath)
	}
	logger.Infof("========================================")

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Infof("========================================")
	logger.Infof("Received signal %v, initiating graceful shutdown...", sig)
	logger.Infof("========================================")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown in reverse order of startup
	homekitCancel()
	<-homekitDone

	if advertiser != nil {
		advertiser.Stop()
	}

	logger.Infof("Stopping Poller...")
	poller.Stop()
	logger.Infof("✓ Poller stopped")

	logger.Infof("Stopping API Server...")
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API Server shutdown error: %v", err)
	} else {
		logger.Infof("✓ API Server stopped")
	}

	logger.Infof("Stopping Scheduler Service...")
	schedulerService.Stop()
	logger.Infof("✓ Scheduler Service stopped")

	logger.Infof("Stopping Notification Service...")
	notifierService.Stop()
	logger.Infof("✓ Notification Service stopped")

	timerService.Close()
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Errorf("Failed to close sync store: %v", err)
		}
	}

	logger.Infof("Stopping Event Bus...")
	eb.Shutdown()
	logger.Infof("✓ Event Bus stopped")

	stopCheckpoint()

	logger.Infof("Closing database connection...")
	if err := repo.GracefulClose(); err != nil {
		logger.Errorf("Failed to close database connection: %v", err)
	} else {
		logger.Infof("✓ Database connection closed")
	}

	logger.Infof("========================================")
	logger.Infof("✓ Infinity Status shutdown complete")
	logger.Infof("========================================")
	_ = logger.Close()
}

// openSyncStore returns the shared document backend for the configured mode,
// or nil when timers stay local to this process.
func openSyncStore(cfg *config.Config, repo *db.Repository) (syncstore.Store, error) {
	switch cfg.SyncMode {
	case config.SyncSQLite:
		return syncstore.NewSQLiteStore(repo.DB, cfg.SyncDocumentPath, cfg.SyncPollInterval), nil
	case config.SyncFile:
		if cfg.SyncFilePath == "" {
			return nil, errors.New("file sync mode requires INFINITY_SYNC_FILE")
		}
		return syncstore.NewFileStore(cfg.SyncFilePath, cfg.SyncPollInterval), nil
	default:
		return nil, nil
	}
}

func startAdvertiser(cfg *config.Config, timers *services.TimerService, eb *eventbus.EventBus) *discovery.Advertiser {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		logger.Errorf("mDNS disabled: invalid port %q", cfg.Port)
		return nil
	}

	advertiser := discovery.NewAdvertiser("", discovery.DefaultTTL)
	err = advertiser.Advertise(discovery.Info{
		Instance: cfg.MDNSInstance,
		Port:     port,
		BasePath: cfg.BasePath,
		Version:  config.Version,
		SyncMode: cfg.SyncMode,
		Timers:   timers.Registry().IDs(),
	})
	if err != nil {
		logger.Errorf("Failed to advertise over mDNS: %v", err)
		return nil
	}

	eb.SubscribeMany([]domain.EventType{domain.TimerCreated, domain.TimersAdopted}, func(domain.Event) {
		advertiser.UpdateTimers(timers.Registry().IDs())
	})
	logger.Infof("✓ mDNS advertisement (%s)", discovery.ServiceType)
	return advertiser
}

func runHomeKit(ctx context.Context, cfg *config.Config, timers *services.TimerService, eb *eventbus.EventBus) {
	reg := timers.Registry()
	bridge, err := homekit.NewBridge(cfg.MDNSInstance, cfg.HomeKitPin, cfg.HomeKitStoreDir, timers, reg, reg.States())
	if err != nil {
		logger.Errorf("HomeKit bridge disabled: %v", err)
		return
	}
	bridge.Subscribe(eb)
	logger.Infof("✓ HomeKit bridge (pairing code %s)", cfg.HomeKitPin)

	if err := bridge.Serve(ctx); err != nil {
		logger.Errorf("HomeKit bridge stopped: %v", err)
	}
}
