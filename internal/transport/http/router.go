package httptransport

import (
	"context"
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"burnbox/backend/internal/cache"
	"burnbox/backend/internal/config"
	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/health"
	"burnbox/backend/internal/middleware"
	"burnbox/backend/internal/monitoring"
	"burnbox/backend/internal/scheduler"
	"burnbox/backend/internal/security"
	"burnbox/backend/internal/service"
	"burnbox/backend/internal/websocket"
)

// StatsSource 提供全局统计，storage.Store 实现了该接口
type StatsSource interface {
	SystemStats(ctx context.Context) (domain.SystemStats, error)
}

// Reclaimer 手动触发回收，scheduler.Reclaimer 实现了该接口
type Reclaimer interface {
	ForceCycle(ctx context.Context) (scheduler.CycleReport, error)
	LastReport() *scheduler.CycleReport
}

// AlertSource 当前未解决的告警，monitoring.AlertManager 实现了该接口
type AlertSource interface {
	GetActiveAlerts() []monitoring.Alert
}

// Deduper 入站 webhook 去重，redis.Cache 实现了该接口
type Deduper interface {
	AcquireOnce(ctx context.Context, scope, id string, ttl time.Duration) bool
	Release(ctx context.Context, scope, id string)
}

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	cfg       *config.Config
	registry  *service.RegistryService
	mailbox   *service.MailboxService
	ingest    *service.IngestService
	dispatch  *service.DispatchService
	stats     StatsSource
	reclaimer Reclaimer
	cache     *cache.LocalCache
	dedup     Deduper
	alerts    AlertSource
	inspector *security.AttachmentInspector
	metrics   *monitoring.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// RouterDependencies 路由器依赖项，带 (可选) 标记的字段可以为 nil
type RouterDependencies struct {
	Config          *config.Config
	RegistryService *service.RegistryService
	MailboxService  *service.MailboxService
	IngestService   *service.IngestService
	DispatchService *service.DispatchService
	Stats           StatsSource
	Reclaimer       Reclaimer               // (可选) 未设置时 /v1/system/reclaim 返回 503
	Cache           *cache.LocalCache       // (可选) 系统统计缓存
	Deduper         Deduper                 // (可选) mailgun 重复投递去重
	Alerts          AlertSource             // (可选)
	Metrics         *monitoring.Metrics     // (可选)
	Health          *health.HealthChecker   // (可选)
	RateLimiter     *middleware.RateLimiter // (可选)
	WebSocketHub    *websocket.Hub          // (可选)
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	localCache := deps.Cache
	if localCache == nil {
		localCache = cache.NewLocalCache(128, systemStatsTTL)
	}

	router := gin.New()

	var panics middleware.PanicRecorder
	if deps.Metrics != nil {
		panics = deps.Metrics
	}
	router.Use(middleware.Recovery(log, panics))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log.Named("http")))
	router.Use(middleware.SecurityHeaders())
	if deps.Metrics != nil {
		router.Use(middleware.NewMonitoringMiddleware(deps.Metrics, log).HTTPMetrics())
	}

	// 入站 webhook 可能携带完整邮件，使用 SMTP 的单封大小限制
	webhookLimit := deps.Config.SMTP.MaxMessageBytes
	if webhookLimit <= 0 {
		webhookLimit = middleware.DefaultBodyLimit
	}
	router.Use(middleware.DynamicBodySizeLimit(map[string]int64{
		"/v1/webhook/email":   webhookLimit,
		"/v1/webhook/mailgun": webhookLimit,
	}, 2*middleware.DefaultBodyLimit))

	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Disposition",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			middleware.RequestIDHeader,
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		cfg:       deps.Config,
		registry:  deps.RegistryService,
		mailbox:   deps.MailboxService,
		ingest:    deps.IngestService,
		dispatch:  deps.DispatchService,
		stats:     deps.Stats,
		reclaimer: deps.Reclaimer,
		cache:     localCache,
		dedup:     deps.Deduper,
		alerts:    deps.Alerts,
		inspector: security.NewAttachmentInspector(),
		metrics:   deps.Metrics,
		log:       log,
		now:       time.Now,
	}

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查与指标
	if deps.Health != nil {
		router.GET("/health", healthReport(deps.Health))
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	v1 := router.Group("/v1")
	if deps.RateLimiter != nil {
		v1.Use(deps.RateLimiter.Middleware())
	}
	{
		// ========== Public Routes ==========
		v1.GET("/public/config", handler.publicConfig)

		// ========== Address Routes ==========
		addresses := v1.Group("/addresses")
		{
			addresses.POST("", handler.createAddress)
			addresses.GET("/:address", handler.getAddress)
			addresses.DELETE("/:address", handler.deleteAddress)
			addresses.GET("/:address/stats", handler.addressStats)

			addresses.GET("/:address/messages", handler.listMessages)
			addresses.DELETE("/:address/messages", handler.deleteAllMessages)
			addresses.POST("/:address/messages/read-all", handler.markAllRead)
			addresses.GET("/:address/messages/:id", handler.getMessage)
			addresses.PATCH("/:address/messages/:id/read", handler.markRead)
			addresses.DELETE("/:address/messages/:id", handler.deleteMessage)
			addresses.GET("/:address/messages/:id/attachments/:index", handler.downloadAttachment)

			addresses.POST("/:address/reply", handler.reply)
			addresses.POST("/:address/forward", handler.forward)
			addresses.POST("/:address/send", handler.send)
		}

		// ========== Webhook Routes ==========
		webhook := v1.Group("/webhook")
		{
			webhook.POST("/email", handler.webhookEmail)
			webhook.POST("/mock-email", handler.mockEmail)
			webhook.POST("/mailgun", handler.mailgun)
			webhook.GET("/test", handler.webhookTest)
		}

		// ========== System Routes ==========
		v1.GET("/system/stats", handler.systemStats)
		v1.GET("/system/status", handler.systemStatus)
		v1.POST("/system/reclaim", handler.forceReclaim)
		v1.GET("/outbound/verify", handler.verifyOutbound)

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}

// healthReport 汇总健康报告，关键依赖失败时返回 503
func healthReport(hc *health.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := hc.CheckHealth(c.Request.Context())
		status := http.StatusOK
		if report.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}
