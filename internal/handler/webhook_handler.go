package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"relaydesk/internal/provider/whatsapp"
	"relaydesk/internal/services"
	"relaydesk/internal/transport/httpdto"
	"relaydesk/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	service   *services.WebhookService
	appSecret string
	log       *logger.Logger
}

// NewWebhookHandler checks payload signatures only when appSecret is set.
func NewWebhookHandler(service *services.WebhookService, appSecret string, l *logger.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, appSecret: appSecret, log: l}
}

func firstQuery(c *gin.Context, keys ...string) string {
	for _, k := range keys {
		if v := c.Query(k); v != "" {
			return v
		}
	}
	return ""
}

func (h *WebhookHandler) Verify(c *gin.Context) {
	challenge, err := h.service.VerifySubscription(
		firstQuery(c, "hub.mode", "mode"),
		firstQuery(c, "hub.verify_token", "verify_token"),
		firstQuery(c, "hub.challenge", "challenge"),
	)
	if err != nil {
		c.JSON(http.StatusForbidden, httpdto.NewErrorResponse("verification failed", "FORBIDDEN"))
		return
	}
	c.String(http.StatusOK, challenge)
}

func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("unreadable body", "INVALID_REQUEST"))
		return
	}

	if h.appSecret != "" && !whatsapp.VerifySignature(h.appSecret, body, c.GetHeader(whatsapp.SignatureHeader)) {
		c.JSON(http.StatusForbidden, httpdto.NewErrorResponse("invalid signature", "FORBIDDEN"))
		return
	}

	var payload whatsapp.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.WithContext(c.Request.Context()).Logger.Error("webhook payload rejected", zap.Error(err))
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("malformed payload", "INTERNAL_ERROR"))
		return
	}

	// The provider may drop the connection once it has sent the body; items
	// are still processed to completion.
	report := h.service.Ingest(context.WithoutCancel(c.Request.Context()), payload)
	h.log.WithContext(c.Request.Context()).Logger.Info("webhook processed",
		zap.Int("messages", report.Messages),
		zap.Int("statuses", report.Statuses),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("unmatched", report.Unmatched),
		zap.Int("ignored", report.Ignored),
		zap.Int("failed", report.Failed),
	)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
