package shop

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"farmops/pkg/errutil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/api/shop", h.ListItems)
	r.POST("/api/shop/buy", h.BuyUpgrade)
}

func (h *Handler) ListItems(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		c.Error(errutil.BadRequest("org_id is required"))
		return
	}

	items, err := h.svc.ListItems(c.Request.Context(), orgID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

type buyRequest struct {
	OrgID string `json:"org_id" binding:"required"`
	Slug  string `json:"slug" binding:"required"`
}

func (h *Handler) BuyUpgrade(c *gin.Context) {
	var req buyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	receipt, err := h.svc.BuyUpgrade(c.Request.Context(), req.OrgID, req.Slug)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchase": receipt})
}
