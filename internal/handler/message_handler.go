package handler

import (
	"net/http"

	"relaydesk/internal/services"
	"relaydesk/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	service *services.SendService
}

func NewMessageHandler(service *services.SendService) *MessageHandler {
	return &MessageHandler{service: service}
}

func (h *MessageHandler) Send(c *gin.Context) {
	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	subject, ok := subjectOrAbort(c)
	if !ok {
		return
	}

	result, err := h.service.Send(c.Request.Context(), subject, services.SendInput{
		To:               req.To,
		Content:          req.Content,
		Kind:             req.Kind,
		MediaKey:         req.MediaKey,
		FileName:         req.FileName,
		TemplateName:     req.TemplateName,
		TemplateLanguage: req.TemplateLanguage,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(result))
}
