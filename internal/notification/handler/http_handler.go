package handler

import (
	"context"
	"net/http"

	"pipeline_backend/internal/automation/transport"
	"pipeline_backend/internal/notification/inapp"
	"pipeline_backend/platform/httpkit"
	"pipeline_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 20

	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Store reads and acknowledges agent notifications.
type Store interface {
	ListForAgent(ctx context.Context, agentID uuid.UUID, unreadOnly bool, limit int) ([]inapp.Notification, error)
	MarkRead(ctx context.Context, agentID, notificationID uuid.UUID) error
}

type HTTPHandler struct {
	store  Store
	val    *validator.Validator
	stream gin.HandlerFunc
}

func NewHTTPHandler(store Store, val *validator.Validator, stream gin.HandlerFunc) *HTTPHandler {
	return &HTTPHandler{store: store, val: val, stream: stream}
}

func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.PATCH("/:id/read", h.MarkRead)
	if h.stream != nil {
		rg.GET("/stream", h.stream)
	}
}

func (h *HTTPHandler) List(c *gin.Context) {
	var req transport.ListNotificationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultListLimit
	}

	items, err := h.store.ListForAgent(c.Request.Context(), uuid.MustParse(req.AgentID), req.UnreadOnly, req.Limit)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{
		"success": true,
		"items":   items,
		"count":   len(items),
	})
}

func (h *HTTPHandler) MarkRead(c *gin.Context) {
	notificationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, "invalid notification id")
		return
	}
	agentID, err := uuid.Parse(c.Query("agent_id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, "agent_id is required")
		return
	}

	if httpkit.HandleError(c, h.store.MarkRead(c.Request.Context(), agentID, notificationID)) {
		return
	}
	httpkit.OK(c, gin.H{"success": true})
}
