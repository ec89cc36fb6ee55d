package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vybzcody/paymebro-sub003/internal/models"
	"github.com/vybzcody/paymebro-sub003/internal/services"
)

// CreatePayment 创建支付请求并开始监控
func (h *Handler) CreatePayment(c *gin.Context) {
	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", services.ErrInvalidRequest, err))
		return
	}

	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	res, err := h.payments.CreateAndMonitorPayment(c.Request.Context(), principal, req)
	if err != nil {
		writeError(c, err)
		return
	}
	if res.PersistErr != nil {
		h.logger.Warn("payment request not persisted",
			zap.String("reference", res.Descriptor.Reference),
			zap.Error(res.PersistErr),
		)
	}

	c.JSON(http.StatusCreated, models.CreatePaymentResponse{
		Payment:   res.Descriptor,
		Persisted: res.PersistErr == nil,
	})
}

// GetPayment 查询支付状态，其他商户的 reference 返回 404
func (h *Handler) GetPayment(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	st, err := h.payments.PaymentStatus(c.Request.Context(), principal, c.Param("reference"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// StopMonitoring 取消监控，不产生通知；未知或已结束的 reference 同样返回 200
func (h *Handler) StopMonitoring(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	stopped, err := h.payments.StopMonitoring(c.Request.Context(), principal, c.Param("reference"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}

// RegisterWallet 绑定或更新当前商户的收款地址
func (h *Handler) RegisterWallet(c *gin.Context) {
	var req models.RegisterWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", services.ErrInvalidRequest, err))
		return
	}
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	w, err := h.payments.RegisterWallet(c.Request.Context(), principal, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": w.Address, "tier": w.Tier})
}
