package models

import "github.com/shopspring/decimal"

// CreatePaymentRequest 创建支付请求
type CreatePaymentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency" binding:"required"`
	Label    string          `json:"label"`
	Message  string          `json:"message"`
	Memo     string          `json:"memo"`
}

// CreatePaymentResponse 创建响应
type CreatePaymentResponse struct {
	Payment   *PaymentDescriptor `json:"payment"`
	Persisted bool               `json:"persisted"`
}

// PaymentStatusResponse 查询状态响应
type PaymentStatusResponse struct {
	Reference     string `json:"reference"`
	Status        Status `json:"status"`
	Monitoring    bool   `json:"monitoring"`
	Signature     string `json:"signature,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
	LastError     string `json:"lastError,omitempty"`
}

// RegisterWalletRequest 绑定商户收款地址
type RegisterWalletRequest struct {
	Address string `json:"address" binding:"required"`
	Tier    string `json:"tier"`
}
