package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"herald/internal/config"
	"herald/internal/logic"
	"herald/internal/provider/telegram"
	"herald/internal/store"
	"herald/internal/worker"
	"herald/pkg/database"
	"herald/pkg/logging"
	"herald/pkg/monitoring"
	"herald/pkg/server"
	"herald/pkg/version"

	pkgconfig "herald/pkg/config"
)

// cycleTimeout bounds one trigger cycle end to end, including the sync pass
// and retried copy attempts.
const cycleTimeout = 2 * time.Minute

func main() {
	logger := logging.NewLoggerWithService("herald")
	pkgconfig.LoadEnv(logger)

	logger.Info("Starting Herald (channel repost service)")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// === Database Connection ===
	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.DatabaseURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	postStore := store.NewStore(db)
	if err := postStore.EnsureSchema(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to ensure database schema")
	}

	// Record the active ingestion window alongside the cursor so operators
	// can read the effective configuration straight from the database.
	for key, value := range map[string]string{
		store.StartDateKey: cfg.StartDate.Format("2006-01-02"),
		store.EndDateKey:   cfg.EndDate.Format("2006-01-02"),
	} {
		if err := postStore.SetSetting(context.Background(), key, value); err != nil {
			logger.WithError(err).WithField("key", key).Fatal("Failed to persist settings")
		}
	}

	// === Telegram Client ===
	tgClient, err := telegram.NewClient(telegram.Config{
		Token:         cfg.BotToken,
		SourceChannel: cfg.SourceChannel,
		TargetChatID:  cfg.TargetChatID,
		WindowStart:   cfg.StartDate,
		WindowEnd:     cfg.EndDate,
		Location:      cfg.Location,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Telegram")
	}

	// === Logic Initialization ===
	cycle := logic.NewCycle(postStore, tgClient, logger, logic.Config{
		ClaimLease: cfg.ClaimLease,
	})

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("herald", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("herald", version.Version, version.GitCommit)

	repostsTotal := metricsCollector.NewCounter("reposts_total", "Repost cycle outcomes", []string{"status"})
	syncPasses := metricsCollector.NewCounter("sync_passes_total", "Channel sync passes", []string{"status"})
	postsSynced := metricsCollector.NewCounter("posts_synced_total", "New channel posts persisted", nil)

	runCycle := func(ctx context.Context) logic.Outcome {
		outcome := cycle.Run(ctx)
		repostsTotal.WithLabelValues(outcome.Status).Inc()
		if outcome.SyncError == "" {
			syncPasses.WithLabelValues("ok").Inc()
		} else {
			syncPasses.WithLabelValues("failed").Inc()
		}
		if outcome.Synced > 0 {
			postsSynced.With(prometheus.Labels{}).Add(float64(outcome.Synced))
		}
		return outcome
	}

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("telegram", monitoring.ProbeHealthCheck("telegram", tgClient.Probe))
	healthChecker.AddCheck("configuration", monitoring.ConfigurationHealthCheck(map[string]string{
		"TELEGRAM_BOT_TOKEN": cfg.BotToken,
		"SOURCE_CHANNEL":     cfg.SourceChannel,
		"DATABASE_URL":       cfg.DatabaseURL,
	}))
	healthChecker.AddDetail("unpublished_posts", func() interface{} {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		count, err := postStore.CountUnpublished(ctx)
		if err != nil {
			return "unknown"
		}
		return count
	})
	healthChecker.AddDetail("last_repost_at", func() interface{} {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		at, err := postStore.LatestRepostTime(ctx)
		if err != nil || at == nil {
			return nil
		}
		return at.Format(time.RFC3339)
	})

	// === Background Workers ===
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	sweeper := worker.NewClaimSweeper(postStore, logger, cfg.ClaimLease)
	go sweeper.Start(workerCtx)

	if cfg.RepostCron != "" {
		scheduler, err := worker.NewScheduler(cfg.RepostCron, func() {
			ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
			defer cancel()
			runCycle(ctx)
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("Invalid REPOST_CRON schedule")
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// === HTTP Server ===
	app := server.SetupServiceRouter(logger, "herald", healthChecker, metricsCollector)

	app.POST("/trigger_repost", func(c *gin.Context) {
		// Deliberately detached from the request context: a client that
		// gives up must not orphan a claim mid-copy.
		ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
		defer cancel()

		outcome := runCycle(ctx)
		code := http.StatusOK
		if outcome.Status == logic.StatusFailed {
			code = http.StatusBadGateway
		}
		c.JSON(code, outcome)
	})

	app.GET("/status", func(c *gin.Context) {
		snapshot := cycle.Health(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"status":   "running",
			"version":  version.Version,
			"snapshot": snapshot,
		})
	})

	serverConfig := server.DefaultConfig("herald", cfg.Port)
	if err := server.Start(serverConfig, app, logger); err != nil {
		logger.WithError(err).Fatal("Herald HTTP server failed")
	}
}
