package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/notification-outbox/internal/config"
	"github.com/richardliu001/notification-outbox/internal/service"
	"go.uber.org/zap"
)

// NewRouter wires middleware and every route. metrics may be nil.
func NewRouter(events *service.EventStore, notes *service.NotificationService, rl config.RateLimitConfig, metrics http.Handler, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	api := r.Group("/")
	api.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(api, events, notes)
	return r
}
