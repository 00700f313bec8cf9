package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailrelay/backend/internal/health"
	"mailrelay/backend/internal/middleware"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/service"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	users       *service.UserService
	attachments *service.AttachmentService
	emails      *service.EmailService
	dispatcher  *service.Dispatcher
	log         *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	UserService       *service.UserService
	AttachmentService *service.AttachmentService
	EmailService      *service.EmailService
	Dispatcher        *service.Dispatcher
	Metrics           *monitoring.Metrics   // 为 nil 时不暴露 /metrics
	Health            *health.HealthChecker // 为 nil 时不暴露 /live 与 /ready
	AllowedOrigins    []string
	MaxUploadSize     int64
	Logger            *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	useJSONFieldNames()

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())

	// 上传接口单独放宽请求体上限
	router.Use(middleware.DynamicBodySizeLimit(map[string]int64{
		"/file": middleware.UploadBodyLimit(deps.MaxUploadSize),
	}, middleware.DefaultBodyLimit))

	corsConfig := gincors.Config{
		AllowOrigins:     deps.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "X-Max-Body-Size"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}
	// 允许所有来源时不能携带凭证
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		users:       deps.UserService,
		attachments: deps.AttachmentService,
		emails:      deps.EmailService,
		dispatcher:  deps.Dispatcher,
		log:         deps.Logger,
	}

	router.POST("/user", handler.createUser)
	router.GET("/user/:id", handler.getUser)
	router.GET("/users", handler.listUsers)

	router.POST("/file", handler.uploadFile)

	router.POST("/email", handler.createEmail)
	router.GET("/email/:id", handler.getEmail)
	router.GET("/emails", handler.listEmails)
	router.POST("/emails", handler.sendPending)

	if deps.Health != nil {
		router.GET("/live", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/ready", gin.WrapF(deps.Health.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "route not found")
	})

	return router
}
