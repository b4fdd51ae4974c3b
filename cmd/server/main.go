package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/contractguard/contract-monitor/internal/channel"
	"github.com/contractguard/contract-monitor/internal/check"
	"github.com/contractguard/contract-monitor/internal/config"
	"github.com/contractguard/contract-monitor/internal/database"
	"github.com/contractguard/contract-monitor/internal/handlers"
	"github.com/contractguard/contract-monitor/internal/lineage"
	"github.com/contractguard/contract-monitor/internal/metrics"
	"github.com/contractguard/contract-monitor/internal/model"
	"github.com/contractguard/contract-monitor/internal/monitor"
	"github.com/contractguard/contract-monitor/internal/router"
	"github.com/contractguard/contract-monitor/internal/scheduler"
	"github.com/contractguard/contract-monitor/internal/sla"
)

const (
	serviceName = "contract-monitor"
	version     = "1.0.0"
)

func main() {
	configPath := pflag.String("config", "", "path to config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(&cfg)
	logger.Info("Starting Contract Monitor Service",
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment)

	// Database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", "error", err)
		}
	}()

	if err := database.RunMigrations(cfg.Database); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// Repositories
	contractRepo := database.NewContractRepository(db)
	resultRepo := database.NewResultRepository(db)
	incidentRepo := database.NewIncidentRepository(db)
	slaRepo := database.NewSLARepository(db)
	dedupRepo := database.NewDedupRepository(db)

	metricsCollector := metrics.NewCollector()

	// Alert channels
	channels, err := buildChannels(&cfg, logger)
	if err != nil {
		logger.Error("Failed to build alert channels", "error", err)
		os.Exit(1)
	}
	for _, ch := range channels {
		for _, problem := range ch.ValidateConfig() {
			logger.Warn("Channel configuration problem", "channel", ch.Name(), "problem", problem)
		}
	}

	// Dedup store: Redis when configured, in-process cache otherwise.
	var dedupStore router.DedupStore
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()
		dedupStore = router.NewRedisDedupStore(redisClient, logger)
	} else {
		dedupStore = router.NewMemoryDedupStore()
	}

	alertCfg, err := cfg.Alerting.ToModel()
	if err != nil {
		logger.Error("Invalid alerting configuration", "error", err)
		os.Exit(1)
	}

	hub := handlers.NewHub(logger)

	alertRouter := router.New(alertCfg, channels, dedupStore, logger).
		WithRecorder(dedupRepo)
	alertRouter.OnRouted = hub.Broadcast
	alertRouter.OnSuppressed = func(event *model.ViolationEvent, reason string) {
		metricsCollector.AlertSuppressed(reason)
	}

	// SLA / incident aggregation
	aggregator := sla.NewAggregator(&slaPersistence{slaRepo: slaRepo, incidentRepo: incidentRepo}, logger).
		WithMetrics(metricsCollector)

	// Lineage
	lineageEmitter, err := lineage.NewEmitter(lineage.Config{
		Namespace:    cfg.Lineage.Namespace,
		ProducerName: cfg.Lineage.ProducerName,
		HTTPEndpoint: cfg.Lineage.HTTPEndpoint,
		HTTPTimeout:  cfg.Lineage.HTTPTimeout,
		KafkaBrokers: cfg.Lineage.KafkaBrokers,
		KafkaTopic:   cfg.Lineage.KafkaTopic,
	}, logger)
	if err != nil {
		logger.Error("Failed to create lineage emitter", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := lineageEmitter.Close(); err != nil {
			logger.Error("Failed to close lineage emitter", "error", err)
		}
	}()

	// Monitor and checks
	mon := monitor.New(cfg.Monitoring.ToModel(), contractRepo, resultRepo, logger).
		WithSink(alertRouter).
		WithRecorder(aggregator).
		WithLineage(lineageEmitter).
		WithMetrics(metricsCollector)

	mon.RegisterCheck(check.NewFreshnessCheck(logger))
	mon.RegisterCheck(check.NewSchemaDriftCheck(nil, logger))
	mon.RegisterCheck(check.NewQualityCheck(nil, logger))
	mon.RegisterCheck(check.NewAvailabilityCheck(nil, logger))

	// Schedulers
	checkScheduler := scheduler.New(logger)
	checkScheduler.OnSkip = metricsCollector.SchedulerSkip

	maintenance := scheduler.NewMaintenance(scheduler.MaintenanceConfig{
		Enabled:              cfg.Maintenance.Enabled,
		DedupCleanupSchedule: cfg.Maintenance.DedupCleanupSchedule,
		DailyRollupSchedule:  cfg.Maintenance.DailyRollupSchedule,
		RetentionSchedule:    cfg.Maintenance.RetentionSchedule,
		DedupRetention:       cfg.Maintenance.DedupRetention,
		ResultRetentionDays:  cfg.Maintenance.ResultRetentionDays,
	}, dedupRepo, resultRepo, slaRepo, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rehydrate the registry and reschedule checks for stored contracts.
	if err := restoreContracts(ctx, &cfg, mon, contractRepo, checkScheduler, logger); err != nil {
		logger.Error("Failed to restore contracts", "error", err)
		os.Exit(1)
	}

	if err := maintenance.Start(ctx); err != nil {
		logger.Error("Failed to start maintenance scheduler", "error", err)
		os.Exit(1)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		hub.Run(groupCtx)
		return nil
	})

	// HTTP server
	httpHandler := handlers.NewHTTPHandler(&cfg, logger, mon, checkScheduler, aggregator, resultRepo, hub)
	httpRouter := mux.NewRouter()
	httpHandler.RegisterRoutes(httpRouter)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	group.Go(func() error {
		logger.Info("Starting HTTP server", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
	case <-groupCtx.Done():
		logger.Info("Component failed, shutting down")
	}

	logger.Info("Shutting down services...")
	cancel()

	checkScheduler.CancelAll()
	maintenance.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server gracefully", "error", err)
	}

	if err := group.Wait(); err != nil {
		logger.Error("Service exited with error", "error", err)
	}
	logger.Info("Service shutdown complete")
}

// slaPersistence adapts the split repositories to the aggregator's single
// persistence port.
type slaPersistence struct {
	slaRepo      *database.SLARepository
	incidentRepo *database.IncidentRepository
}

func (p *slaPersistence) UpsertStatus(ctx context.Context, contractName string, summary *model.CheckTypeSummary) error {
	return p.slaRepo.UpsertStatus(ctx, contractName, summary)
}

func (p *slaPersistence) SaveIncident(ctx context.Context, incident *model.Incident) error {
	return p.incidentRepo.SaveIncident(ctx, incident)
}

func (p *slaPersistence) UpdateIncident(ctx context.Context, incident *model.Incident) error {
	return p.incidentRepo.UpdateIncident(ctx, incident)
}

// buildChannels constructs every enabled alert channel from configuration.
func buildChannels(cfg *config.Config, logger *slog.Logger) ([]channel.Channel, error) {
	var channels []channel.Channel

	if cfg.Notifications.Email.Enabled {
		email, err := channel.NewEmailChannel(channel.EmailConfig{
			Provider:       cfg.Notifications.Email.Provider,
			SendGridAPIKey: cfg.Notifications.Email.SendGridAPIKey,
			SMTPHost:       cfg.Notifications.Email.SMTPHost,
			SMTPPort:       cfg.Notifications.Email.SMTPPort,
			SMTPUsername:   cfg.Notifications.Email.SMTPUsername,
			SMTPPassword:   cfg.Notifications.Email.SMTPPassword,
			FromAddress:    cfg.Notifications.Email.FromAddress,
			FromName:       cfg.Notifications.Email.FromName,
			Recipients:     cfg.Notifications.Email.Recipients,
		}, logger)
		if err != nil {
			return nil, err
		}
		channels = append(channels, email)
	}

	if cfg.Notifications.SMS.Enabled {
		channels = append(channels, channel.NewSMSChannel(channel.SMSConfig{
			AccountSID: cfg.Notifications.SMS.AccountSID,
			AuthToken:  cfg.Notifications.SMS.AuthToken,
			FromNumber: cfg.Notifications.SMS.FromNumber,
			Recipients: cfg.Notifications.SMS.Recipients,
		}, logger))
	}

	if cfg.Notifications.Slack.Enabled {
		channels = append(channels, channel.NewSlackChannel(channel.SlackConfig{
			WebhookURL: cfg.Notifications.Slack.WebhookURL,
			Channel:    cfg.Notifications.Slack.Channel,
			Timeout:    cfg.Notifications.Slack.Timeout,
		}, logger))
	}

	if cfg.Notifications.Webhook.Enabled {
		channels = append(channels, channel.NewWebhookChannel(channel.WebhookConfig{
			URL:           cfg.Notifications.Webhook.URL,
			Headers:       cfg.Notifications.Webhook.Headers,
			SigningSecret: cfg.Notifications.Webhook.SigningSecret,
			Timeout:       cfg.Notifications.Webhook.Timeout,
			RetryCount:    cfg.Notifications.Webhook.RetryCount,
		}, logger))
	}

	if cfg.Notifications.Alertmanager.Enabled {
		channels = append(channels, channel.NewAlertmanagerChannel(channel.AlertmanagerConfig{
			URL:     cfg.Notifications.Alertmanager.URL,
			Timeout: cfg.Notifications.Alertmanager.Timeout,
		}, logger))
	}

	return channels, nil
}

// restoreContracts reloads stored contracts into the monitor and schedules
// their checks on the default interval.
func restoreContracts(
	ctx context.Context,
	cfg *config.Config,
	mon *monitor.Monitor,
	repo *database.ContractRepository,
	sched *scheduler.Scheduler,
	logger *slog.Logger,
) error {
	contracts, err := repo.ListContracts(ctx)
	if err != nil {
		return err
	}

	restored := 0
	for _, contract := range contracts {
		if !contract.Active {
			continue
		}
		if err := mon.RegisterContract(ctx, contract); err != nil {
			logger.Error("Failed to restore contract", "contract", contract.Name, "error", err)
			continue
		}
		for _, checkType := range model.AllCheckTypes() {
			if err := mon.ScheduleContract(sched, contract.Name, checkType, cfg.Monitoring.DefaultInterval()); err != nil {
				logger.Error("Failed to schedule check",
					"contract", contract.Name,
					"check_type", checkType,
					"error", err)
			}
		}
		restored++
	}

	logger.Info("Contracts restored from storage", "count", restored)
	return nil
}

// setupLogging configures structured logging
func setupLogging(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: cfg.Logging.IncludeSource,
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, handlerOptions)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, handlerOptions)
	}

	logger := slog.New(handler)
	logger = logger.With(
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment,
	)

	slog.SetDefault(logger)
	return logger
}
