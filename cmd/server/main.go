package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "burnbox/backend/docs" // Swagger docs
	"burnbox/backend/internal/cache"
	"burnbox/backend/internal/config"
	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/events"
	"burnbox/backend/internal/health"
	"burnbox/backend/internal/logger"
	"burnbox/backend/internal/middleware"
	"burnbox/backend/internal/monitoring"
	"burnbox/backend/internal/outbound"
	"burnbox/backend/internal/pool"
	"burnbox/backend/internal/scheduler"
	"burnbox/backend/internal/service"
	"burnbox/backend/internal/smtp"
	"burnbox/backend/internal/storage"
	"burnbox/backend/internal/storage/hybrid"
	"burnbox/backend/internal/storage/memory"
	"burnbox/backend/internal/storage/postgres"
	"burnbox/backend/internal/storage/redis"
	sqlstore "burnbox/backend/internal/storage/sql"
	httptransport "burnbox/backend/internal/transport/http"
	"burnbox/backend/internal/websocket"
)

const version = "1.0.0"

// @title Burnbox API
// @version 1.0
// @description 一次性邮箱服务：生成临时地址、接收邮件、回复与转发
// @BasePath /
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	switch {
	case cfg.Server.Mode != "":
		gin.SetMode(cfg.Server.Mode)
	case cfg.Log.Development:
		gin.SetMode(gin.DebugMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting burnbox server",
		zap.String("version", version),
		zap.String("domain", cfg.Mailbox.Domain),
		zap.Duration("ttl", cfg.Mailbox.TTL),
		zap.String("log_level", cfg.Log.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()

	// ========== 存储 ==========
	var redisClient *redis.Client
	var redisCache *redis.Cache
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(&cfg.Redis, log.Named("redis"))
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		redisCache = redis.NewCache(redisClient)
	}

	store, err := openStore(cfg, redisCache, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	var pg *postgres.Client
	if cfg.Database.Type == "postgres" {
		pg, err = postgres.New(&cfg.Database, log.Named("postgres"))
		if err != nil {
			log.Warn("postgres probe unavailable, continuing without it", zap.Error(err))
			pg = nil
		} else {
			defer pg.Close()
		}
	}

	publisher, err := events.NewPublisher(cfg.Events, log)
	if err != nil {
		log.Warn("event publisher unavailable, continuing without it", zap.Error(err))
		publisher, _ = events.NewPublisher(config.EventsConfig{}, log)
	}
	defer publisher.Close()

	// ========== 服务 ==========
	listeners := pool.NewWorkerPool(4, 1024, log.Named("listeners"))
	listeners.Start(ctx)
	defer listeners.Stop()

	registry := service.NewRegistryService(store, cfg, log.Named("registry"))
	registry.SetSubmitter(listeners)
	mailbox := service.NewMailboxService(store, store, cfg.Mailbox.Domain, log.Named("mailbox"))
	mailbox.SetSubmitter(listeners)
	ingest := service.NewIngestService(registry, mailbox, log.Named("ingest"))
	dispatch := service.NewDispatchService(
		registry,
		mailbox,
		outbound.New(cfg.Outbound, cfg.SMTP.Domain, log),
		cfg.Outbound.From,
		log.Named("dispatch"),
	)

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, registry, log)
	wsHub.SetRecorder(metrics)
	if redisCache != nil {
		wsHub.SetRelay(redisCache)
	}

	registry.OnCreate(func(domain.Address) { metrics.RecordAddressCreated() })
	registry.OnCreate(publisher.OnAddressCreated)
	mailbox.OnAppend(func(msg domain.Message) { metrics.RecordMessageIngested(string(msg.Source), msg.Size) })
	mailbox.OnAppend(wsHub.NotifyNewMail)
	mailbox.OnAppend(publisher.OnMessageReceived)

	statsCache := cache.NewLocalCache(128, 30*time.Second)

	reclaimer := scheduler.NewReclaimer(store, cfg.Retention, log)
	reclaimer.SetRecorder(metrics)
	reclaimer.OnComplete(publisher.OnReclaimCompleted)
	reclaimer.OnComplete(func(scheduler.CycleReport) { statsCache.Clear() })

	// ========== 健康检查与告警 ==========
	healthChecker := health.NewHealthChecker(metrics.Registry(), version, log)
	healthChecker.AddCheck("store", true, store.Health)
	if redisClient != nil {
		healthChecker.AddCheck("redis", false, redisClient.Ping)
	}
	if pg != nil {
		healthChecker.AddCheck("postgres", false, pg.Ping)
	}
	if publisher.Enabled() {
		healthChecker.AddCheck("events", false, func(context.Context) error { return publisher.Health() })
	}

	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alertManager.AddRule(monitoring.HighMemoryUsageRule(512.0))
	alertManager.AddRule(monitoring.StoreUnavailableRule(store, 5*time.Second))
	alertManager.AddRule(monitoring.ReclaimStalledRule(reclaimer.LastSuccess, time.Now, 3*cfg.Retention.Interval))

	// ========== HTTP ==========
	var counter middleware.Counter
	var deduper httptransport.Deduper
	if redisCache != nil {
		counter = redisCache
		deduper = redisCache
	}
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, counter, log.Named("ratelimit"))
	rateLimiter.SetRecorder(metrics)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		RegistryService: registry,
		MailboxService:  mailbox,
		IngestService:   ingest,
		DispatchService: dispatch,
		Stats:           store,
		Reclaimer:       reclaimer,
		Cache:           statsCache,
		Deduper:         deduper,
		Alerts:          alertManager,
		Metrics:         metrics,
		Health:          healthChecker,
		RateLimiter:     rateLimiter,
		WebSocketHub:    wsHub,
		Logger:          log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// ========== SMTP ==========
	smtpBackend := smtp.NewBackend(ingest, cfg.SMTP, log)
	smtpBackend.SetRecorder(metrics)
	smtpServer := smtpBackend.NewServer(cfg.SMTP)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr()),
			zap.String("domain", cfg.SMTP.Domain),
		)
		if err := smtpServer.ListenAndServe(); err != nil && groupCtx.Err() == nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		if err := reclaimer.Start(groupCtx); err != nil {
			return err
		}
		<-groupCtx.Done()
		reclaimer.Stop()
		return nil
	})

	group.Go(func() error {
		wsHub.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		alertManager.StartMonitoring(groupCtx, time.Minute)
		return nil
	})

	group.Go(func() error {
		rateLimiter.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		statsCache.Run(groupCtx, time.Minute)
		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if n := smtpBackend.Limiter().Prune(5 * time.Minute); n > 0 {
					log.Debug("pruned idle SMTP limiters", zap.Int("count", n))
				}
			}
		}
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// openStore 根据配置选择存储实现。
// 数据库存储在启用 Redis 时包装为混合存储，地址查询优先走缓存。
func openStore(cfg *config.Config, redisCache *redis.Cache, log *zap.Logger) (storage.Store, error) {
	switch cfg.Database.Type {
	case "", "memory":
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil

	case "mysql", "postgres":
		primary, err := sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Database.Type, err)
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))

		if redisCache == nil {
			return primary, nil
		}
		log.Info("address cache enabled", zap.Duration("ttl", cfg.Redis.AddressCacheTTL))
		return hybrid.NewStore(primary, redisCache, cfg.Redis.AddressCacheTTL, log.Named("hybrid")), nil

	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
}
