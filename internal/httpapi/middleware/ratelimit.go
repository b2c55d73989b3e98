package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/ai-salesbot/internal/common"
)

// Limiter counts hits per key in a fixed window. redisstore.Store
// implements it.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit caps requests per client IP. A nil limiter or a limiter error
// lets the request through.
func RateLimit(l Limiter, name string, limit int, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || limit <= 0 {
			c.Next()
			return
		}
		key := name + ":" + c.ClientIP()
		ok, err := l.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			common.AbortFail(c, http.StatusTooManyRequests, 42900, "too many requests, try again later")
			return
		}
		c.Next()
	}
}
