package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency 支付币种
type Currency string

const (
	CurrencySOL  Currency = "SOL"
	CurrencyUSDC Currency = "USDC"
)

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	return c == CurrencySOL || c == CurrencyUSDC
}

// Precision is the number of decimals amounts are quoted and rounded to.
func (c Currency) Precision() int32 {
	if c == CurrencyUSDC {
		return 2
	}
	return 6
}

// ChainDecimals is the number of decimals of the on-chain base unit
// (lamports for SOL, token units for USDC).
func (c Currency) ChainDecimals() int32 {
	if c == CurrencyUSDC {
		return 6
	}
	return 9
}

// FeeBreakdown 费用拆分，创建时计算一次后不再变化
type FeeBreakdown struct {
	OriginalAmount    decimal.Decimal `json:"originalAmount"`
	PlatformFee       decimal.Decimal `json:"platformFee"`
	MerchantReceives  decimal.Decimal `json:"merchantReceives"`
	TotalCustomerPays decimal.Decimal `json:"totalCustomerPays"`
}

// PaymentDescriptor is an immutable payment request handed to wallet apps.
type PaymentDescriptor struct {
	Reference      string          `json:"reference"`
	PrincipalID    string          `json:"-"`
	MerchantWallet string          `json:"merchantWallet"`
	Currency       Currency        `json:"currency"`
	OriginalAmount decimal.Decimal `json:"originalAmount"`
	FeeBreakdown   FeeBreakdown    `json:"feeBreakdown"`
	Label          string          `json:"label,omitempty"`
	Message        string          `json:"message,omitempty"`
	Memo           string          `json:"memo,omitempty"`
	PaymentURI     string          `json:"paymentUri"`
	QRPayload      []byte          `json:"qrPayload"` // PNG
	CreatedAt      time.Time       `json:"createdAt"`
	ExpiresAt      time.Time       `json:"expiresAt"`
}

// Expected returns the parameters a matching on-chain transfer must satisfy.
func (d *PaymentDescriptor) Expected(mint string) ExpectedPayment {
	return ExpectedPayment{
		PrincipalID: d.PrincipalID,
		Recipient:   d.MerchantWallet,
		Amount:      d.FeeBreakdown.TotalCustomerPays,
		Currency:    d.Currency,
		Mint:        mint,
	}
}

// ExpectedPayment 监控时用于校验链上交易，PrincipalID 为请求所属商户
type ExpectedPayment struct {
	PrincipalID string
	Recipient   string
	Amount      decimal.Decimal
	Currency    Currency
	Mint        string // empty for SOL
}

// Status 监控状态机
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"

	// StatusCancelled is only persisted: the session was stopped before a terminal state.
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusTimeout
}

const (
	ReasonValidationMismatch = "ValidationMismatch"
	ReasonTransactionFailed  = "TransactionFailed"
	ReasonStoppedByMerchant  = "StoppedByMerchant"
)

// MonitoringSession exists only while a reference is being polled.
type MonitoringSession struct {
	Reference     string          `json:"reference"`
	Expected      ExpectedPayment `json:"-"`
	Status        Status          `json:"status"`
	Signature     string          `json:"signature,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	StartedAt     time.Time       `json:"startedAt"`
	Checks        int             `json:"checks"`
}

// NotificationType 通知类型
type NotificationType string

const (
	NotificationPaymentReceived  NotificationType = "payment_received"
	NotificationPaymentConfirmed NotificationType = "payment_confirmed"
	NotificationPaymentFailed    NotificationType = "payment_failed"
	NotificationPaymentExpired   NotificationType = "payment_expired"
)

type Notification struct {
	ID          string           `json:"id"`
	PrincipalID string           `json:"-"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Timestamp   time.Time        `json:"timestamp"`
	Read        bool             `json:"read"`
	Reference   string           `json:"reference"`
	Amount      decimal.Decimal  `json:"amount"`
	Currency    Currency         `json:"currency"`
	Signature   string           `json:"signature,omitempty"`
}

// AuthenticatedPrincipal is resolved once at the HTTP boundary.
type AuthenticatedPrincipal struct {
	ID string
}
