package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
	"callscope/internal/core/services"
	httphandlers "callscope/internal/handlers/http"
	backupinfra "callscope/internal/infrastructure/backup"
	"callscope/internal/infrastructure/distributed"
	"callscope/internal/infrastructure/eventbus"
	"callscope/internal/infrastructure/middleware"
	"callscope/internal/infrastructure/monitoring"
	"callscope/internal/infrastructure/reliability"
	repositories "callscope/internal/infrastructure/repositories"
	"callscope/internal/infrastructure/repositories/memory"
	wsinfra "callscope/internal/infrastructure/signal"
	"callscope/pkg/backup"
	"callscope/pkg/circuitbreaker"
	"callscope/pkg/config"
	"callscope/pkg/logger"
	"callscope/pkg/retry"
	"callscope/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	issueToken := flag.String("issue-token", "", "print an API token for user[:role] and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.Issuer)
	if *issueToken != "" {
		if err := printToken(authService, *issueToken); err != nil {
			fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zapLogger.Sync() }()
	log := zapLogger.Sugar()

	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	log = log.With("instance_id", instanceID)

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.InstanceID = instanceID
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.Environment = cfg.Tracing.Environment
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.New(log.Named("eventbus"))

	analytics := services.NewAnalyticsService(bus, log.Named("analytics"),
		services.WithOptions(services.AnalyticsOptions{
			RetentionPeriod:       cfg.Analytics.RetentionPeriod,
			ProducerPollInterval:  cfg.Analytics.ProducerPollInterval,
			ConsumerPollInterval:  cfg.Analytics.ConsumerPollInterval,
			TransportPollInterval: cfg.Analytics.TransportPollInterval,
			SessionEventLogSize:   cfg.Analytics.SessionEventLogSize,
			TransportEventLogSize: cfg.Analytics.TransportEventLogSize,
			RecentEventsLimit:     cfg.Analytics.RecentEventsLimit,
		}),
	)

	// Archive: repository -> retry/breaker wrapper -> lookup cache -> archive service.
	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log.Named("repositories"))
	recordRepo := repoFactory.CreateCallRecordRepository()

	var snapshots *backupinfra.Scheduler
	if mem, ok := recordRepo.(*memory.MemoryCallRecordRepository); ok && cfg.Backup.Enabled {
		storage, err := backup.NewFileStorage(cfg.Backup.Path)
		if err != nil {
			log.Fatalw("Failed to open backup storage", "path", cfg.Backup.Path, "error", err)
		}
		backupService := backup.NewBackupService(storage)
		if _, err := backupinfra.RestoreLatest(ctx, backupService, mem, log.Named("backup")); err != nil {
			log.Warnw("Failed to restore call records", "error", err)
		}
		snapshots = backupinfra.NewScheduler(backupService, mem, backupinfra.Config{
			Interval:  cfg.Backup.Interval,
			Retention: cfg.Backup.Retention,
		}, log.Named("backup"))
		snapshots.Start(ctx)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Archive.MaxRetries
	retryCfg.InitialDelay = cfg.Archive.RetryDelay
	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.FailureThreshold = cfg.Archive.BreakerFailures
	breakerCfg.Timeout = cfg.Archive.BreakerTimeout
	archiveRepo := reliability.NewArchiveRepository(recordRepo, retryCfg, breakerCfg, log.Named("archive"))
	var archivePort ports.CallRecordRepository = archiveRepo
	if cfg.Archive.CacheTTL > 0 {
		cached := repositories.NewCachedCallRecordRepository(archiveRepo, cfg.Archive.CacheTTL)
		defer cached.Close()
		archivePort = cached
	}
	archive := services.NewArchiveService(archivePort, log.Named("archive"), cfg.Archive.SaveTimeout)
	// Saving may retry, so it runs off the publishing goroutine.
	bus.Subscribe(domain.CallSessionEnded, func(ev domain.Event) {
		go archive.HandleEvent(ev)
	})

	alerts := services.NewAlertService(analytics, domain.AlertThresholds{
		HighPacketLoss:  cfg.Alerts.HighPacketLoss,
		LowQualityScore: cfg.Alerts.LowQualityScore,
		HighErrorRate:   cfg.Alerts.HighErrorRate,
		LowFramerate:    cfg.Alerts.LowFramerate,
	}, log.Named("alerts"))
	bus.Subscribe(domain.RoomAnalyticsEvent, alerts.HandleEvent)
	bus.Subscribe(domain.ConsumerProducerClosed, alerts.HandleEvent)

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector := monitoring.NewPrometheusCollector(registry)
		bus.SubscribeAll(collector.HandleEvent)
		gatherer = registry
		log.Info("Prometheus metrics enabled")
	}

	hubCfg := wsinfra.DefaultHubConfig()
	hubCfg.PingInterval = cfg.WebSocket.PingInterval
	hubCfg.PongTimeout = cfg.WebSocket.PongTimeout
	hubCfg.SendBufferSize = cfg.WebSocket.SendBufferSize
	hubCfg.MaxClients = cfg.WebSocket.MaxClients
	hubCfg.AllowedOrigins = cfg.Auth.AllowedOrigins
	hub := wsinfra.NewDashboardHub(hubCfg, log.Named("dashboard"))
	bus.SubscribeAll(hub.HandleEvent)

	forwarderDone := make(chan struct{})
	var forwarder *distributed.EventForwarder
	if client := repoFactory.RedisClient(); client != nil && cfg.Redis.ForwardEvents {
		forwarder = distributed.NewEventForwarder(client, instanceID, cfg.Redis.EventChannel, log.Named("forwarder"))
		bus.SubscribeAll(forwarder.HandleEvent)
		go func() {
			defer close(forwarderDone)
			if err := forwarder.Run(ctx, hub.HandleRemoteEvent); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("Event forwarder stopped", "error", err)
			}
		}()
	} else {
		close(forwarderDone)
	}

	var cluster *distributed.InstanceRegistry
	registryDone := make(chan struct{})
	if client := repoFactory.RedisClient(); client != nil && cfg.Redis.Heartbeat > 0 {
		cluster = distributed.NewInstanceRegistry(client, instanceID, 3*cfg.Redis.Heartbeat, log.Named("cluster"))
		startedAt := time.Now()
		go func() {
			defer close(registryDone)
			cluster.Run(ctx, cfg.Redis.Heartbeat, func() domain.InstanceInfo {
				m := analytics.GetGlobalMetrics()
				return domain.InstanceInfo{
					Address:          cfg.Server.Address,
					StartedAt:        startedAt,
					ActiveCalls:      m.ActiveCalls,
					TotalCalls:       m.TotalCalls,
					DashboardClients: hub.ClientCount(),
				}
			})
		}()
	} else {
		close(registryDone)
	}

	emitter := services.NewMetricsService(analytics, bus, log.Named("emitter"),
		cfg.Analytics.GlobalEmitInterval, cfg.Analytics.RoomEmitInterval)
	emitter.Start(ctx)

	health := monitoring.NewHealthChecker()
	health.AddAnalyticsCheck(analytics, time.Second)
	health.AddArchiveCheck(archiveRepo)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLogMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	var apiAuth services.AuthService
	if cfg.Auth.Enabled {
		apiAuth = authService
	}
	analyticsHandler := httphandlers.NewAnalyticsHandler(analytics, archive, alerts)
	if cluster != nil {
		analyticsHandler.WithCluster(cluster)
	}
	analyticsHandler.SetupRoutes(router, apiAuth)
	httphandlers.NewHealthHandler(health).SetupRoutes(router)
	if gatherer != nil {
		router.GET(cfg.Monitoring.MetricsPath, httphandlers.MetricsHandler(gatherer))
	}
	router.GET("/ws", gin.WrapF(hub.HandleWebSocket))

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting callscope analytics server", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down callscope analytics server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	emitter.Stop()
	analytics.Close()
	hub.Close()
	if snapshots != nil {
		snapshots.Stop(shutdownCtx)
	}
	if forwarder != nil {
		forwarder.Close()
	}
	cancel()
	<-forwarderDone
	<-registryDone

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}
	log.Info("callscope analytics server stopped")
}

// printToken writes a bearer token for "user" or "user:role" to stdout.
func printToken(auth services.AuthService, arg string) error {
	user, role, _ := strings.Cut(arg, ":")
	if user == "" {
		return fmt.Errorf("user must not be empty")
	}
	r := services.Role(role)
	switch r {
	case "":
		r = services.RoleViewer
	case services.RoleViewer, services.RoleOperator:
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	token, err := auth.GenerateToken(user, user, r)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
