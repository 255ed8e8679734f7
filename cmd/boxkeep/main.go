package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boxkeep/boxkeep/internal/analytics"
	"github.com/boxkeep/boxkeep/internal/cache"
	"github.com/boxkeep/boxkeep/internal/config"
	"github.com/boxkeep/boxkeep/internal/jobs"
	"github.com/boxkeep/boxkeep/internal/jobs/handler"
	"github.com/boxkeep/boxkeep/internal/logging"
	"github.com/boxkeep/boxkeep/internal/mailclient"
	"github.com/boxkeep/boxkeep/internal/resilience"
	"github.com/boxkeep/boxkeep/internal/rules"
	"github.com/boxkeep/boxkeep/internal/store"
	"github.com/boxkeep/boxkeep/internal/unsubscribe"
	"github.com/boxkeep/boxkeep/internal/version"
)

// storage is what main needs from either store implementation.
type storage interface {
	jobs.Store
	Close() error
}

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file (default: ./config.yaml or /app/config.yaml)")
	runOnce := flag.Bool("once", false, "Run a single scheduler pass and exit")
	debugJob := flag.String("debug-job", "", "Raise one job's log output to debug (e.g. cleanup)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		info := version.Get()
		fmt.Printf("boxkeep %s\n", info.Version)
		fmt.Printf("  Commit:     %s\n", info.Commit)
		fmt.Printf("  Built:      %s\n", info.BuildDate)
		fmt.Printf("  Go version: %s\n", info.GoVersion)
		fmt.Printf("  OS/Arch:    %s\n", info.Platform)
		os.Exit(0)
	}

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging - env vars override config
	logLevel := cfg.General.LogLevel
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		logLevel = envLevel
	}
	logFormat := "json" // default to JSON for k8s/production
	if envFormat := os.Getenv("LOG_FORMAT"); envFormat != "" {
		logFormat = envFormat
	}
	logger := logging.Setup(logLevel, logFormat)
	if *debugJob != "" {
		logging.AddJobFilter(*debugJob)
	}
	info := version.Get()
	logger.Info("starting boxkeep",
		"version", info.Version,
		"commit", info.Commit,
		"built", info.BuildDate,
		"owner", cfg.General.OwnerID,
	)

	// Open storage
	var db storage
	if cfg.Storage.InMemory {
		db = store.NewMemory()
		logger.Warn("using in-memory storage, nothing survives a restart")
	} else {
		sqlite, err := store.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			logger.Error("failed to open storage", "path", cfg.Storage.Path, "error", err)
			os.Exit(1)
		}
		db = sqlite
		logger.Info("opened storage", "path", cfg.Storage.Path)
	}
	defer db.Close()

	// Build the mail provider chain: backend -> resilience + cache guard
	backend, err := buildBackend(cfg, logger)
	if err != nil {
		logger.Error("failed to create mail backend", "backend", cfg.Mail.Backend, "error", err)
		os.Exit(1)
	}

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		ResetTimeout:     cfg.Resilience.ResetTimeout,
	})
	exec := resilience.NewExecutor(resilience.RetryConfig{
		MaxAttempts:       cfg.Resilience.MaxAttempts,
		BaseDelay:         cfg.Resilience.BaseDelay,
		MaxDelay:          cfg.Resilience.MaxDelay,
		BackoffFactor:     cfg.Resilience.BackoffFactor,
		RequestsPerSecond: cfg.Resilience.RequestsPerSecond,
	}, breaker, logger)

	readCache := cache.New(cacheConfig(cfg), logger)
	mail := mailclient.NewGuard(backend, exec, readCache, logger)
	defer mail.Close()

	// Orchestrator and handlers
	orchestrator := jobs.NewOrchestrator(db, logger)
	orchestrator.Register(handler.NewCleanup(mail, logger, cfg.General.TestRun))
	orchestrator.Register(handler.NewRuleExecution(mail, rules.NewEngine(mail, logger), db, logger))
	orchestrator.Register(handler.NewAnalytics(mail, analytics.NewLogCollector(logger), logger))
	orchestrator.Register(handler.NewUnsubscribeScan(mail, unsubscribe.NewHeaderDetector(logger), logger))

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	owner := cfg.General.OwnerID

	if *runOnce {
		runCycle(ctx, orchestrator, logger, owner, cfg.General.TestRun)
		return
	}

	// Main loop
	ticker := time.NewTicker(cfg.General.Timer)
	defer ticker.Stop()
	sweeper := time.NewTicker(cfg.Cache.SweepEvery)
	defer sweeper.Stop()

	// Run immediately on startup
	runCycle(ctx, orchestrator, logger, owner, cfg.General.TestRun)

	for {
		select {
		case <-ticker.C:
			runCycle(ctx, orchestrator, logger, owner, cfg.General.TestRun)
		case <-sweeper.C:
			if removed := readCache.Sweep(); removed > 0 {
				logger.Debug("swept expired cache entries", "removed", removed)
			}
		case <-sigChan:
			logger.Info("shutdown signal received")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runCycle(ctx context.Context, orchestrator *jobs.Orchestrator, logger *slog.Logger, owner string, testRun bool) {
	if testRun {
		logger.Info("running in TEST MODE - no changes will be made")
	}
	if _, err := orchestrator.RunDue(ctx, owner); err != nil {
		logger.Error("cycle had errors", "error", err)
		// Continue running - don't exit!
	}
}

func buildBackend(cfg *config.Config, logger *slog.Logger) (mailclient.Provider, error) {
	switch cfg.Mail.Backend {
	case "gateway":
		return mailclient.NewRESTClient(mailclient.RESTConfig{
			BaseURL: cfg.Mail.Gateway.URL,
			Token:   cfg.Mail.Gateway.Token,
			Timeout: cfg.General.RequestTimeout,
			SkipTLS: !cfg.General.SSLVerification,
			Logger:  logger,
		})
	case "imap":
		return mailclient.NewIMAPClient(mailclient.IMAPConfig{
			Host:           cfg.Mail.IMAP.Host,
			Port:           cfg.Mail.IMAP.Port,
			Username:       cfg.Mail.IMAP.Username,
			Password:       cfg.Mail.IMAP.Password,
			TLS:            cfg.Mail.IMAP.TLS,
			ArchiveMailbox: cfg.Mail.IMAP.ArchiveMailbox,
			TrashMailbox:   cfg.Mail.IMAP.TrashMailbox,
			Logger:         logger,
		})
	}
	return nil, fmt.Errorf("unknown mail backend %q", cfg.Mail.Backend)
}

func cacheConfig(cfg *config.Config) cache.Config {
	return cache.Config{
		cache.NamespaceMessageLists: {TTL: cfg.Cache.MessageLists.TTL, MaxEntries: cfg.Cache.MessageLists.MaxEntries},
		cache.NamespaceAnalytics:    {TTL: cfg.Cache.Analytics.TTL, MaxEntries: cfg.Cache.Analytics.MaxEntries},
		cache.NamespaceCounts:       {TTL: cfg.Cache.Counts.TTL, MaxEntries: cfg.Cache.Counts.MaxEntries},
		cache.NamespaceLabels:       {TTL: cfg.Cache.Labels.TTL, MaxEntries: cfg.Cache.Labels.MaxEntries},
	}
}
