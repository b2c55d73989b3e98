package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-salesbot/internal/audit"
	"github.com/suPer8Hu/ai-salesbot/internal/chat"
	"github.com/suPer8Hu/ai-salesbot/internal/common"
	"github.com/suPer8Hu/ai-salesbot/internal/config"
	"github.com/suPer8Hu/ai-salesbot/internal/events"
	"github.com/suPer8Hu/ai-salesbot/internal/httpapi/middleware"
	"github.com/suPer8Hu/ai-salesbot/internal/session"
	"github.com/suPer8Hu/ai-salesbot/internal/store/redisstore"
)

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	Log      *zap.Logger
	Sessions *session.Registry
	Records  *session.Repo
	Chat     *chat.Repo
	Audit    *audit.Repo
	Hub      *events.Hub
	// Redis is nil when REDIS_ADDR is empty.
	Redis *redisstore.Store
}

type Deps struct {
	DB       *gorm.DB
	Cfg      config.Config
	Log      *zap.Logger
	Sessions *session.Registry
	Hub      *events.Hub
	Redis    *redisstore.Store
}

func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		DB:       d.DB,
		Cfg:      d.Cfg,
		Log:      log,
		Sessions: d.Sessions,
		Records:  session.NewRepo(d.DB),
		Chat:     chat.NewRepo(d.DB),
		Audit:    audit.NewRepo(d.DB),
		Hub:      d.Hub,
		Redis:    d.Redis,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// Health reports the store and the number of live sessions.
func (h *Handler) Health(c *gin.Context) {
	status := http.StatusOK
	dbState := "ok"
	if sqlDB, err := h.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status, dbState = http.StatusServiceUnavailable, "down"
	}
	redisState := "disabled"
	if h.Redis != nil {
		redisState = "ok"
		if err := h.Redis.Ping(c.Request.Context()); err != nil {
			redisState = "down"
		}
	}
	common.JSON(c, status, gin.H{
		"db":       dbState,
		"redis":    redisState,
		"sessions": h.Sessions.Len(),
	})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func mustUser(c *gin.Context) (uint64, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}

func parseUintParam(c *gin.Context, name string) (uint64, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || n == 0 {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid "+name)
		return 0, false
	}
	return n, true
}
