package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/ai-salesbot/internal/common"
	"github.com/suPer8Hu/ai-salesbot/internal/events"
)

// WS upgrades to a websocket carrying one session's lifecycle events.
func (h *Handler) WS(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id := c.Query("session_id")
	if id == "" {
		common.Fail(c, http.StatusBadRequest, 10011, "session_id required")
		return
	}
	if _, ok := h.ownedRecord(c, uid, id); !ok {
		return
	}
	if h.Hub == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50302, "event hub disabled")
		return
	}
	if err := h.Hub.Serve(c.Writer, c.Request, id); err != nil {
		// the upgrader already wrote the error response
		h.Log.Debug("websocket upgrade failed", zap.Error(err))
	}
}

// SessionEvents streams a session's lifecycle events as SSE from Redis
// pub/sub, so any instance can serve the stream.
func (h *Handler) SessionEvents(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, ok := h.ownedRecord(c, uid, id); !ok {
		return
	}
	if h.Redis == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50303, "redis disabled")
		return
	}

	ctx := c.Request.Context()
	sub := h.Redis.Subscribe(ctx, id)
	defer sub.Close()

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeEvent := func(event string, data []byte) {
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		flusher.Flush()
	}

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	msgs := sub.Channel()
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return
			}
			var e events.Event
			if err := json.Unmarshal([]byte(m.Payload), &e); err != nil || e.SessionID != id {
				// pattern "*-<id>" also matches ids ending in "-<id>"
				continue
			}
			writeEvent(e.Kind, []byte(m.Payload))
		case <-ticker.C:
			b, _ := json.Marshal(gin.H{"type": "ping", "ts": time.Now().Unix()})
			writeEvent("ping", b)
		case <-ctx.Done():
			return
		}
	}
}
