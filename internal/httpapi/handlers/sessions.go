package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-salesbot/internal/common"
	"github.com/suPer8Hu/ai-salesbot/internal/models"
	"github.com/suPer8Hu/ai-salesbot/internal/session"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,50}$`)

type createSessionReq struct {
	ID          string `json:"id"`
	OwnerUserID uint64 `json:"owner_user_id"`
}

// CreateSession starts a bot session. Bring-up runs in the background; the
// pairing code is polled from PairingCode or pushed over /ws.
func (h *Handler) CreateSession(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		req.ID = ulid.Make().String()
	}
	if !sessionIDPattern.MatchString(req.ID) {
		common.Fail(c, http.StatusBadRequest, 10010, "id must be 3-50 characters of letters, digits, '-' or '_'")
		return
	}
	if req.OwnerUserID == 0 {
		req.OwnerUserID = uid
	}
	if req.OwnerUserID != uid {
		common.Fail(c, http.StatusForbidden, 40301, "cannot create sessions for another user")
		return
	}

	ctx := c.Request.Context()
	var user models.User
	if err := h.DB.WithContext(ctx).Select("id").First(&user, req.OwnerUserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	if m, live := h.Sessions.Get(req.ID); live {
		h.sessionConflict(c, m.Snapshot())
		return
	}
	rec, err := h.Records.GetSession(ctx, req.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if rec != nil && rec.UserID != req.OwnerUserID {
		common.Fail(c, http.StatusConflict, 40902, "session id is taken")
		return
	}

	m, created, err := h.Sessions.Start(ctx, req.ID, req.OwnerUserID)
	if err != nil {
		if errors.Is(err, session.ErrRegistryClosed) {
			common.Fail(c, http.StatusServiceUnavailable, 50301, "server is shutting down")
			return
		}
		h.Log.Error("start session failed", zap.String("session_id", req.ID), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}
	if !created {
		h.sessionConflict(c, m.Snapshot())
		return
	}

	snap := m.Snapshot()
	common.JSON(c, http.StatusCreated, gin.H{
		"session_id": snap.SessionID,
		"status":     snap.Status,
	})
}

func (h *Handler) sessionConflict(c *gin.Context, snap session.Snapshot) {
	c.JSON(http.StatusConflict, gin.H{
		"code":    40901,
		"message": "session already exists",
		"data":    gin.H{"session_id": snap.SessionID, "status": snap.Status},
	})
}

// ownedRecord loads the durable row of a session owned by uid. Someone
// else's session answers 404 like a missing one.
func (h *Handler) ownedRecord(c *gin.Context, uid uint64, id string) (*session.Record, bool) {
	rec, err := h.Records.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "session not found")
			return nil, false
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return nil, false
	}
	if rec.UserID != uid {
		common.Fail(c, http.StatusNotFound, 40402, "session not found")
		return nil, false
	}
	return rec, true
}

// PairingCode answers 200 with the code, 202 while it is pending and 200
// with ready=true once the session is connected.
func (h *Handler) PairingCode(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	m, live := h.Sessions.Get(id)
	if !live || m.Snapshot().OwnerUserID != uid {
		common.Fail(c, http.StatusNotFound, 40402, "session not found")
		return
	}

	snap := m.Snapshot()
	switch {
	case snap.Ready:
		common.OK(c, gin.H{"status": snap.Status, "ready": true, "message": "session is already connected"})
	case snap.PairingCode != "":
		common.OK(c, gin.H{"status": snap.Status, "ready": false, "pairing_code": snap.PairingCode})
	case snap.Status == session.StatusInitializing:
		common.JSON(c, http.StatusAccepted, gin.H{"status": snap.Status, "message": "session is initializing"})
	default:
		common.JSON(c, http.StatusAccepted, gin.H{"status": snap.Status, "message": "pairing code not generated yet"})
	}
}

// sessionView merges the durable row with the live snapshot when running.
func (h *Handler) sessionView(rec session.Record) gin.H {
	out := gin.H{
		"session_id":       rec.SessionID,
		"owner_user_id":    rec.UserID,
		"status":           rec.Status,
		"live":             false,
		"last_activity_at": rec.LastActivityAt,
		"created_at":       rec.CreatedAt,
		"updated_at":       rec.UpdatedAt,
	}
	if rec.ErrorMessage != nil {
		out["error"] = *rec.ErrorMessage
	}
	if m, ok := h.Sessions.Get(rec.SessionID); ok {
		snap := m.Snapshot()
		out["live"] = true
		out["status"] = snap.Status
		out["ready"] = snap.Ready
		if snap.Error != "" {
			out["error"] = snap.Error
		}
	}
	return out
}

func (h *Handler) ListSessions(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	recs, err := h.Records.ListByUser(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	out := make([]gin.H, 0, len(recs))
	for _, r := range recs {
		out = append(out, h.sessionView(r))
	}
	common.OK(c, gin.H{"sessions": out})
}

func (h *Handler) GetSession(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	rec, ok := h.ownedRecord(c, uid, c.Param("id"))
	if !ok {
		return
	}
	common.OK(c, h.sessionView(*rec))
}

// DeleteSession stops the live session and drops its rows.
func (h *Handler) DeleteSession(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, ok := h.ownedRecord(c, uid, id); !ok {
		return
	}
	ctx := c.Request.Context()
	if m := h.Sessions.Remove(id); m != nil {
		if err := m.Cleanup(ctx); err != nil {
			h.Log.Warn("cleanup on delete failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	if err := h.Chat.DeleteSessionData(ctx, id); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if err := h.Records.DeleteSession(ctx, id); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if h.Hub != nil {
		h.Hub.Forget(id)
	}
	common.OK(c, gin.H{"session_id": id, "deleted": true})
}
