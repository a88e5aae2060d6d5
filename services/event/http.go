package event

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"farmops/pkg/config"
)

const (
	headerDelivery  = "X-GitHub-Delivery"
	headerEventType = "X-GitHub-Event"
	headerSignature = "X-Hub-Signature-256"
)

type Handler struct {
	svc    *Service
	secret string
}

func NewHandler(svc *Service, cfg *config.Config) *Handler {
	return &Handler{svc: svc, secret: cfg.Github.WebhookSecret}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/webhooks/github", h.Receive)
}

func (h *Handler) Receive(c *gin.Context) {
	deliveryID := c.GetHeader(headerDelivery)
	eventType := c.GetHeader(headerEventType)
	signature := c.GetHeader(headerSignature)

	if deliveryID == "" || eventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing headers"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !VerifySignature(h.secret, body, signature) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	_, duplicate, err := h.svc.Ingest(c.Request.Context(), deliveryID, eventType, body)
	if err != nil {
		zap.L().Error("failed to ingest webhook", zap.String("delivery_id", deliveryID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}

	if duplicate {
		c.JSON(http.StatusOK, gin.H{"ok": true, "duplicate": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
