// Package main provides the entry point for the TrakPilot tracking service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jaecopzm/trakpilot/app/handlers"
	"github.com/jaecopzm/trakpilot/app/middleware"
	"github.com/jaecopzm/trakpilot/app/router"
	"github.com/jaecopzm/trakpilot/app/scheduler"
	"github.com/jaecopzm/trakpilot/app/services"
	businessflow "github.com/jaecopzm/trakpilot/business_flow"
	"github.com/jaecopzm/trakpilot/config"
	"github.com/jaecopzm/trakpilot/repository"
	"github.com/jaecopzm/trakpilot/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Application represents the wired service and everything released on shutdown
type Application struct {
	config    *config.ProductionConfig
	db        *gorm.DB
	cache     *redis.Client
	router    *router.FiberRouter
	pool      *services.BackgroundPool
	sink      services.EventSink
	scheduled businessflow.ScheduledSendFlow
	sequences businessflow.SequenceEngine

	// baseCtx outlives requests; cancelling it ends push streams and monitors
	baseCtx   context.Context
	cancel    context.CancelFunc
	stopFuncs []func()
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		NowFunc:        utils.UTCNow,
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
	if cfg.SlowQueryLog {
		gormCfg.Logger = logger.New(
			logrus.StandardLogger(),
			logger.Config{SlowThreshold: cfg.SlowQueryTime, LogLevel: logger.Warn, IgnoreRecordNotFoundError: true},
		)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	}).Info("Database connection established")

	return db, nil
}

// initializeCache returns nil when the cache is disabled
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logrus.WithField("db", cfg.RedisDB).Info("Redis connection established")
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis until the returned func is called
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					utils.LogError("cache_health", err, nil)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeEventSink falls back to a no-op sink without a NATS url
func initializeEventSink(cfg config.EventsConfig) services.EventSink {
	if cfg.NATSURL == "" {
		return services.NoopEventSink{}
	}
	sink, err := services.NewNATSEventSink(cfg.NATSURL, cfg.SubjectPrefix)
	if err != nil {
		utils.LogError("event_sink_connect", err, map[string]any{"prefix": cfg.SubjectPrefix})
		return services.NoopEventSink{}
	}
	logrus.WithField("prefix", cfg.SubjectPrefix).Info("Engagement events mirrored to NATS")
	return sink
}

// initializeClassifier loads extra proxy signatures and hot reloads them when the file changes
func initializeClassifier(ctx context.Context, path string) (*businessflow.Classifier, func(), error) {
	classifier := businessflow.NewDefaultClassifier()
	if path == "" {
		return classifier, func() {}, nil
	}
	if err := classifier.ReloadFrom(path); err != nil {
		return nil, nil, err
	}

	watcher, err := services.NewSignatureWatcher(path, classifier.ReloadFrom)
	if err != nil {
		return nil, nil, err
	}
	logrus.WithFields(logrus.Fields{"file": path, "signatures": classifier.Len()}).Info("Proxy signatures loaded")
	return classifier, watcher.Start(ctx), nil
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	baseCtx, cancel := context.WithCancel(context.Background())
	app := &Application{config: cfg, baseCtx: baseCtx, cancel: cancel}

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		cancel()
		return nil, err
	}
	app.db = db

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		app.Close(context.Background())
		return nil, err
	}
	app.cache = rc
	if rc != nil {
		app.stopFuncs = append(app.stopFuncs, startCacheHealthMonitor(baseCtx, rc, cfg.Cache.HealthInterval))
	}

	// Initialize repositories
	messageRepo := repository.NewTrackedMessageRepository(db)
	var linkRepo repository.TrackedLinkRepository = repository.NewTrackedLinkRepository(db)
	if rc != nil {
		linkRepo = repository.NewCachedTrackedLinkRepository(linkRepo, rc, cfg.Cache.LinkTTL)
	}
	openRepo := repository.NewOpenEventRepository(db)
	clickRepo := repository.NewLinkClickEventRepository(db)
	ownerRepo := repository.NewOwnerRepository(db)
	sequenceRepo := repository.NewSequenceRepository(db)
	stepRepo := repository.NewSequenceStepRepository(db)
	enrollmentRepo := repository.NewSequenceEnrollmentRepository(db)
	unsubRepo := repository.NewUnsubscribeRepository(db)
	tx := repository.NewTxRunner(db)

	// Initialize services
	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.UnsubscribeTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		cfg.JWT.PrivateKey,
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		app.Close(context.Background())
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	// a nil interface keeps relay configuration disabled without a key
	var box services.SecretBox
	if cfg.Send.SecretBoxKey != "" {
		naclBox, err := services.NewSecretBox(cfg.Send.SecretBoxKey)
		if err != nil {
			app.Close(context.Background())
			return nil, fmt.Errorf("failed to initialize secret box: %w", err)
		}
		box = naclBox
	}

	var limiter services.RateLimiter = services.NewMemoryRateLimiter(cfg.Send.RateWindow, cfg.Send.RateMax)
	if rc != nil {
		limiter = services.NewRedisRateLimiter(rc, cfg.Send.RateWindow, cfg.Send.RateMax)
	}

	platform := services.NewPlatformTransport(services.PlatformMailConfig{
		Host:        cfg.Send.SMTPHost,
		Port:        cfg.Send.SMTPPort,
		Username:    cfg.Send.SMTPUsername,
		Password:    cfg.Send.SMTPPassword,
		FromAddress: cfg.Send.FromAddress,
	})
	if !platform.Configured() {
		logrus.Warn("Platform mail provider is not configured; owners without a relay cannot send")
	}
	mailRouter := services.NewMailRouter(platform, box)

	classifier, stopWatcher, err := initializeClassifier(baseCtx, cfg.Tracking.SignatureFile)
	if err != nil {
		app.Close(context.Background())
		return nil, fmt.Errorf("failed to load proxy signatures: %w", err)
	}
	app.stopFuncs = append(app.stopFuncs, stopWatcher)

	app.pool = services.NewBackgroundPool(cfg.Tracking.PoolWorkers, cfg.Tracking.PoolQueueSize, cfg.Tracking.PoolTaskTimeout)
	app.sink = initializeEventSink(cfg.Events)
	hub := services.NewNotificationHub(cfg.Server.StreamHeartbeat)
	geo := services.NewIPAPIGeoResolver(cfg.Tracking.GeoEndpoint, cfg.Tracking.GeoTimeout)
	webhooks := services.NewWebhookDispatcher(cfg.Tracking.WebhookTimeout)

	// Initialize flows
	sendFlow := businessflow.NewSendFlow(
		ownerRepo,
		messageRepo,
		linkRepo,
		unsubRepo,
		tx,
		limiter,
		mailRouter,
		services.NewPlainTextRenderer(),
		tokenService,
		businessflow.NewInstrumenter(cfg.Tracking.PublicOrigin),
		businessflow.SendConfig{FreeMonthlyLimit: cfg.Send.FreeMonthlyLimit},
	)
	app.scheduled = businessflow.NewScheduledSendFlow(messageRepo, sendFlow, businessflow.SweepConfig{
		BatchSize:  cfg.Sweep.ScheduledBatch,
		ClaimLease: cfg.Sweep.ClaimLease,
	})
	app.sequences = businessflow.NewSequenceEngine(enrollmentRepo, stepRepo, sendFlow, businessflow.SweepConfig{
		BatchSize:  cfg.Sweep.SequenceBatch,
		ClaimLease: cfg.Sweep.ClaimLease,
	})
	sequenceFlow := businessflow.NewSequenceFlow(sequenceRepo, stepRepo, enrollmentRepo, unsubRepo, tx, nil)
	messageFlow := businessflow.NewMessageFlow(messageRepo, linkRepo, openRepo, clickRepo)
	trackingFlow := businessflow.NewTrackingFlow(
		messageRepo,
		linkRepo,
		openRepo,
		clickRepo,
		ownerRepo,
		classifier,
		geo,
		hub,
		webhooks,
		app.pool,
		app.sink,
		cfg.Tracking.DefaultLandingURL,
	)
	unsubscribeFlow := businessflow.NewUnsubscribeFlow(tokenService, unsubRepo, enrollmentRepo)
	ownerSettingsFlow := businessflow.NewOwnerSettingsFlow(ownerRepo, box)

	// Initialize handlers
	h := router.Handlers{
		Tracking:      handlers.NewTrackingHandler(trackingFlow, app.pool),
		Notifications: handlers.NewNotificationHandler(baseCtx, hub),
		Messages:      handlers.NewMessageHandler(sendFlow, messageFlow),
		Sequences:     handlers.NewSequenceHandler(sequenceFlow),
		Owner:         handlers.NewOwnerHandler(ownerSettingsFlow),
		Cron:          handlers.NewCronHandler(app.scheduled, app.sequences, cfg.Sweep.Timeout),
		Unsubscribe:   handlers.NewUnsubscribeHandler(unsubscribeFlow),
	}

	app.router = router.NewFiberRouter(h, middleware.NewAuthMiddleware(tokenService), router.Options{
		AllowedOrigins: cfg.Security.AllowedOrigins,
		APIRateLimit:   cfg.Security.APIRateLimit,
		TrackRateLimit: cfg.Security.TrackRateLimit,
		CronSecret:     cfg.Sweep.Secret,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		Health:         app.health,
	})

	return app, nil
}

// health pings the database and, when enabled, the cache
func (a *Application) health(ctx context.Context) map[string]string {
	checks := map[string]string{"database": "ok"}
	sqlDB, err := a.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		checks["database"] = "unavailable"
	}
	if a.cache != nil {
		checks["cache"] = "ok"
		if err := a.cache.Ping(ctx).Err(); err != nil {
			checks["cache"] = "unavailable"
		}
	}
	return checks
}

// startScheduler runs both sweeps in-process when enabled
func (a *Application) startScheduler() {
	if !a.config.Sweep.SchedulerEnabled {
		return
	}
	sched := scheduler.NewSweepScheduler([]scheduler.Job{
		{Name: "scheduled", Sweeper: a.scheduled, Interval: a.config.Sweep.ScheduledInterval, Timeout: a.config.Sweep.Timeout},
		{Name: "sequences", Sweeper: a.sequences, Interval: a.config.Sweep.SequencesInterval, Timeout: a.config.Sweep.Timeout},
	}, nil)
	a.stopFuncs = append(a.stopFuncs, sched.Start(a.baseCtx))
	logrus.WithFields(logrus.Fields{
		"scheduled_interval": a.config.Sweep.ScheduledInterval.String(),
		"sequences_interval": a.config.Sweep.SequencesInterval.String(),
	}).Info("In-process sweep scheduler started")
}

// Serve runs the HTTP server until SIGINT or SIGTERM
func (a *Application) Serve() error {
	a.router.SetupRoutes()
	a.startScheduler()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		address := a.config.Server.Address()
		logrus.WithField("address", address).Info("Server starting")
		errChan <- a.router.Start(address)
	}()

	var serveErr error
	select {
	case sig := <-sigChan:
		logrus.WithField("signal", sig.String()).Info("Shutting down gracefully")
	case serveErr = <-errChan:
		if serveErr != nil {
			serveErr = fmt.Errorf("server stopped: %w", serveErr)
		}
	}

	// end push streams first; they would otherwise hold the shutdown open
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.router.GetApp().ShutdownWithContext(shutdownCtx); err != nil {
		utils.LogError("server_shutdown", err, nil)
	}
	a.Close(shutdownCtx)

	logrus.Info("Server stopped")
	return serveErr
}

// Close stops background work and releases connections. It is safe on a partially built Application.
func (a *Application) Close(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.stopFuncs) - 1; i >= 0; i-- {
		a.stopFuncs[i]()
	}
	a.stopFuncs = nil

	if a.pool != nil {
		window := a.config.Tracking.PoolShutdownWindow
		if window <= 0 {
			window = 5 * time.Second
		}
		poolCtx, cancel := context.WithTimeout(ctx, window)
		if err := a.pool.Stop(poolCtx); err != nil && !errors.Is(err, context.Canceled) {
			utils.LogError("background_pool_stop", err, nil)
		}
		cancel()
	}
	if a.sink != nil {
		a.sink.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
