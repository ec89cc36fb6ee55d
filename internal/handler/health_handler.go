package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthzHandler 存活探针（liveness probe），服务运行即返回 200
func HealthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"type":   "liveness",
	})
}

// ReadinessHandler 就绪探针（readiness probe）
// 启动预热结束且数据库可用时返回 200
func (h *Handler) ReadinessHandler(c *gin.Context) {
	elapsed := time.Since(h.startedAt)
	if elapsed < h.warmup {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not ready",
			"type":      "readiness",
			"message":   "warming up",
			"remaining": (h.warmup - elapsed).String(),
		})
		return
	}

	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"type":    "readiness",
				"message": "database unavailable",
				"error":   err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"type":   "readiness",
		"uptime": elapsed.String(),
	})
}
