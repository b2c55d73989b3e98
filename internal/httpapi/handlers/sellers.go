package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-salesbot/internal/chat"
	"github.com/suPer8Hu/ai-salesbot/internal/common"
)

type sellerReq struct {
	Name        string  `json:"seller_name"`
	Product     string  `json:"product"`
	Description string  `json:"description"`
	Benefits    string  `json:"benefits"`
	Image       *string `json:"image"`
}

func (r *sellerReq) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Product = strings.TrimSpace(r.Product)
	r.Description = strings.TrimSpace(r.Description)
	r.Benefits = strings.TrimSpace(r.Benefits)
	if r.Image != nil && strings.TrimSpace(*r.Image) == "" {
		r.Image = nil
	}
}

func (h *Handler) CreateSeller(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, ok := h.ownedRecord(c, uid, id); !ok {
		return
	}
	var req sellerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.normalize()
	if req.Name == "" || req.Product == "" {
		common.Fail(c, http.StatusBadRequest, 10013, "seller_name and product required")
		return
	}

	s := chat.Seller{
		SessionID:   id,
		Name:        req.Name,
		Product:     req.Product,
		Description: req.Description,
		Benefits:    req.Benefits,
		ImageURL:    req.Image,
	}
	if err := h.Chat.CreateSeller(c.Request.Context(), &s); err != nil {
		if errors.Is(err, common.ErrConflict) {
			common.Fail(c, http.StatusConflict, 40903, "seller already exists in this session")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.JSON(c, http.StatusCreated, s)
}

func (h *Handler) ListSellers(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, ok := h.ownedRecord(c, uid, id); !ok {
		return
	}
	sellers, err := h.Chat.ListSellers(c.Request.Context(), id)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"sellers": sellers})
}

func (h *Handler) GetSeller(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, ok := h.ownedRecord(c, uid, id); !ok {
		return
	}
	sellerID, ok := parseUintParam(c, "seller_id")
	if !ok {
		return
	}
	s, err := h.Chat.GetSeller(c.Request.Context(), id, sellerID)
	if err != nil {
		h.sellerError(c, err)
		return
	}
	common.OK(c, s)
}

// UpdateSeller replaces the offer fields; the seller name is fixed.
func (h *Handler) UpdateSeller(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, ok := h.ownedRecord(c, uid, id); !ok {
		return
	}
	sellerID, ok := parseUintParam(c, "seller_id")
	if !ok {
		return
	}
	var req sellerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.normalize()
	if req.Product == "" {
		common.Fail(c, http.StatusBadRequest, 10014, "product required")
		return
	}

	ctx := c.Request.Context()
	err := h.Chat.UpdateSeller(ctx, &chat.Seller{
		ID:          sellerID,
		SessionID:   id,
		Product:     req.Product,
		Description: req.Description,
		Benefits:    req.Benefits,
		ImageURL:    req.Image,
	})
	if err != nil {
		h.sellerError(c, err)
		return
	}
	s, err := h.Chat.GetSeller(ctx, id, sellerID)
	if err != nil {
		h.sellerError(c, err)
		return
	}
	common.OK(c, s)
}

func (h *Handler) DeleteSeller(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, ok := h.ownedRecord(c, uid, id); !ok {
		return
	}
	sellerID, ok := parseUintParam(c, "seller_id")
	if !ok {
		return
	}
	if err := h.Chat.DeleteSeller(c.Request.Context(), id, sellerID); err != nil {
		h.sellerError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) sellerError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		common.Fail(c, http.StatusNotFound, 40403, "seller not found")
		return
	}
	common.Fail(c, http.StatusInternalServerError, 20001, "db error")
}

// GetVendor returns the persona the session currently speaks as.
func (h *Handler) GetVendor(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, ok := h.ownedRecord(c, uid, id); !ok {
		return
	}
	v, err := h.Chat.FindVendor(c.Request.Context(), id)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if v == nil {
		common.Fail(c, http.StatusNotFound, 40404, "vendor not found")
		return
	}
	common.OK(c, v)
}
