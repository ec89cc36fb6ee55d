package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vybzcody/paymebro-sub003/internal/fees"
	"github.com/vybzcody/paymebro-sub003/internal/middleware"
	"github.com/vybzcody/paymebro-sub003/internal/models"
	"github.com/vybzcody/paymebro-sub003/internal/monitor"
	"github.com/vybzcody/paymebro-sub003/internal/notify"
	"github.com/vybzcody/paymebro-sub003/internal/services"
)

// Pinger is checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	payments  *services.PaymentService
	hub       *notify.Hub
	pinger    Pinger
	startedAt time.Time
	warmup    time.Duration
	logger    *zap.Logger
}

type Option func(h *Handler)

func WithHub(hub *notify.Hub) Option {
	return func(h *Handler) {
		h.hub = hub
	}
}

func WithPinger(p Pinger) Option {
	return func(h *Handler) {
		h.pinger = p
	}
}

// WithWarmup delays readiness after start.
func WithWarmup(d time.Duration) Option {
	return func(h *Handler) {
		h.warmup = d
	}
}

func New(payments *services.PaymentService, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		payments:  payments,
		startedAt: time.Now(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func RegisterRoutes(r *gin.Engine, h *Handler, jwtSecret string) {
	r.GET("/healthz", HealthzHandler)
	r.GET("/readyz", h.ReadinessHandler)
	r.GET("/metrics", middleware.LocalOnly(), gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.AuthRequired(jwtSecret))
	api.POST("/payments", h.CreatePayment)
	api.GET("/payments/:reference", h.GetPayment)
	api.DELETE("/payments/:reference/monitor", h.StopMonitoring)
	api.PUT("/merchant/wallet", h.RegisterWallet)

	api.GET("/notifications", h.ListNotifications)
	api.POST("/notifications/read-all", h.MarkAllAsRead)
	api.POST("/notifications/permission", h.RequestPermission)
	api.POST("/notifications/:id/read", h.MarkAsRead)
	api.DELETE("/notifications/:id", h.ClearNotification)
	api.DELETE("/notifications", h.ClearAllNotifications)

	api.GET("/ws", h.ServeWS)
}

// requirePrincipal 取出 AuthRequired 写入的 principal，缺失时直接返回 401
func requirePrincipal(c *gin.Context) (models.AuthenticatedPrincipal, bool) {
	p, ok := middleware.Principal(c)
	if !ok || p.ID == "" {
		writeError(c, services.ErrUnauthenticated)
		return models.AuthenticatedPrincipal{}, false
	}
	return p, true
}

// writeError 将业务错误映射为 HTTP 状态码
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrInvalidRequest),
		errors.Is(err, fees.ErrInvalidAmount),
		errors.Is(err, fees.ErrUnsupportedCurrency):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrWalletUnavailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrPaymentNotFound),
		errors.Is(err, services.ErrNotificationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, monitor.ErrAlreadyMonitoring):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
