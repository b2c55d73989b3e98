package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-salesbot/internal/common"
)

// ListMessages pages a session's conversation newest first; pass
// next_before_id back as before_id for the next page.
func (h *Handler) ListMessages(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, ok := h.ownedRecord(c, uid, id); !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10012, "invalid before_id")
			return
		}
		beforeID = n
	}

	msgs, err := h.Chat.ListMessages(c.Request.Context(), id, limit, beforeID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

// SessionHistory lists the lifecycle events the audit worker stored for a
// session, newest first.
func (h *Handler) SessionHistory(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, ok := h.ownedRecord(c, uid, id); !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	evs, err := h.Audit.ListBySession(c.Request.Context(), id, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to list session events")
		return
	}
	common.OK(c, gin.H{"events": evs})
}
