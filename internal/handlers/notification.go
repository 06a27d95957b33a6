package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/tradeya/backend/internal/middleware"
	"github.com/tradeya/backend/internal/services"
	"github.com/tradeya/backend/pkg/response"
)

type NotificationHandler struct {
	notifications *services.NotificationService
}

func NewNotificationHandler(notifications *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List returns the caller's notifications
// GET /api/notifications?unread=true&limit=
func (h *NotificationHandler) List(c *gin.Context) {
	unread := c.Query("unread") == "true" || c.Query("unread") == "1"
	items, err := h.notifications.List(c.Request.Context(), middleware.GetUserID(c), unread, limitParam(c, 50, 200))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, items)
}

// MarkRead
// POST /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.notifications.MarkRead(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "notification marked as read"})
}
