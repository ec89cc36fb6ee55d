package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 通知按商户隔离，所有操作只作用于当前 principal 的列表

func (h *Handler) ListNotifications(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": h.payments.Notifications(principal.ID),
		"unread":        h.payments.UnreadCount(principal.ID),
	})
}

func (h *Handler) MarkAsRead(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	if err := h.payments.MarkAsRead(principal.ID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) MarkAllAsRead(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	h.payments.MarkAllAsRead(principal.ID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) ClearNotification(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	if err := h.payments.ClearNotification(principal.ID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ClearAllNotifications(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	h.payments.ClearAllNotifications(principal.ID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) RequestPermission(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"permission": h.payments.RequestPermission(principal.ID)})
}

// ServeWS 升级为 websocket，只推送当前商户的实时通知
func (h *Handler) ServeWS(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification stream disabled"})
		return
	}
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	if err := h.hub.ServeWS(c.Writer, c.Request, principal.ID); err != nil {
		h.logger.Warn("WS upgrade failed", zap.String("principal", principal.ID), zap.Error(err))
	}
}
