package handler

import (
	"net/http"

	"relaydesk/internal/domain/conversation"
	"relaydesk/internal/services"
	"relaydesk/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type ConversationHandler struct {
	service *services.ConversationService
}

func NewConversationHandler(service *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

func (h *ConversationHandler) List(c *gin.Context) {
	subject, ok := subjectOrAbort(c)
	if !ok {
		return
	}

	page, err := parseInt(c.Query("page"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid page", "INVALID_REQUEST"))
		return
	}
	limit, err := parseInt(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid limit", "INVALID_REQUEST"))
		return
	}

	assignedTo := c.Query("assigned_to")
	if assignedTo == "" {
		assignedTo = c.Query("assignedTo")
	}

	items, total, filter, err := h.service.List(c.Request.Context(), subject, conversation.ListFilter{
		Status:     conversation.Status(c.Query("status")),
		AssignedTo: assignedTo,
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ConversationListResponse[conversation.Conversation]{
		Conversations: items,
		Pagination:    httpdto.NewPagination(filter.Page, filter.Limit, total),
	}))
}

func (h *ConversationHandler) Get(c *gin.Context) {
	id, err := parseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid conversation id", "INVALID_REQUEST"))
		return
	}
	detail, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(detail))
}

func (h *ConversationHandler) Update(c *gin.Context) {
	subject, ok := subjectOrAbort(c)
	if !ok {
		return
	}
	id, err := parseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid conversation id", "INVALID_REQUEST"))
		return
	}

	var req httpdto.UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	patch := conversation.Patch{
		AssignedTo:      req.AssignedTo,
		ClearAssignee:   req.Unassign,
		Tags:            req.Tags,
		Notes:           req.Notes,
		ExpectedVersion: req.ExpectedVersion,
	}
	if req.Status != nil {
		status := conversation.Status(*req.Status)
		patch.Status = &status
	}

	updated, err := h.service.Update(c.Request.Context(), subject, id, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(updated))
}

func (h *ConversationHandler) Close(c *gin.Context) {
	subject, ok := subjectOrAbort(c)
	if !ok {
		return
	}
	id, err := parseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid conversation id", "INVALID_REQUEST"))
		return
	}
	closed, err := h.service.Close(c.Request.Context(), subject, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(closed))
}
