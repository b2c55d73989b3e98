package httpapi

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/ai-salesbot/internal/common"
	"github.com/suPer8Hu/ai-salesbot/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-salesbot/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, log *zap.Logger) *gin.Engine {
	cfg := h.Cfg

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.Recovery(log))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	var limiter middleware.Limiter
	if h.Redis != nil {
		limiter = h.Redis
	}

	r.GET("/ping", h.Ping)
	r.GET("/health", h.Health)

	// CRUD users register
	r.POST("/users", h.CreateUser)
	r.GET("/users/:id", h.GetUserByID)

	// auth
	r.POST("/login", h.Login)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.GET("/ws", h.WS)

	// bot sessions (JWT required)
	sessions := authGroup.Group("/sessions")
	sessions.POST("/create",
		middleware.RateLimit(limiter, "session-create", cfg.SessionCreateLimit, cfg.SessionCreateWindow, log),
		h.CreateSession)
	sessions.GET("", h.ListSessions)
	sessions.GET("/:id", h.GetSession)
	sessions.DELETE("/:id", h.DeleteSession)
	sessions.GET("/:id/pairing-code", h.PairingCode)
	sessions.GET("/:id/events", h.SessionEvents)
	sessions.GET("/:id/messages", h.ListMessages)
	sessions.GET("/:id/history", h.SessionHistory)
	sessions.GET("/:id/vendor", h.GetVendor)

	sessions.POST("/:id/sellers", h.CreateSeller)
	sessions.GET("/:id/sellers", h.ListSellers)
	sessions.GET("/:id/sellers/:seller_id", h.GetSeller)
	sessions.PUT("/:id/sellers/:seller_id", h.UpdateSeller)
	sessions.DELETE("/:id/sellers/:seller_id", h.DeleteSeller)
	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}
