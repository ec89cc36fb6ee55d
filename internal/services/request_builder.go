package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/vybzcody/paymebro-sub003/internal/fees"
	"github.com/vybzcody/paymebro-sub003/internal/models"
)

const (
	DefaultRequestValidity = 24 * time.Hour
	qrSize                 = 256
)

// Recorder persists a payment request. Implemented by the db package.
type Recorder interface {
	RecordPaymentRequest(ctx context.Context, d *models.PaymentDescriptor) error
}

type CreatePaymentParams struct {
	PrincipalID    string
	MerchantWallet string
	Tier           string
	Amount         decimal.Decimal
	Currency       models.Currency
	Label          string
	Message        string
	Memo           string
}

// CreateResult carries the descriptor and the outcome of the best-effort persist call.
type CreateResult struct {
	Descriptor *models.PaymentDescriptor
	PersistErr error
}

// RequestBuilder turns merchant input into an immutable PaymentDescriptor.
type RequestBuilder struct {
	fees         *fees.Calculator
	recorder     Recorder
	usdcMint     solana.PublicKey
	validity     time.Duration
	now          func() time.Time
	newReference func() (solana.PublicKey, error)
	logger       *zap.Logger
}

type BuilderOption func(b *RequestBuilder)

func WithClock(now func() time.Time) BuilderOption {
	return func(b *RequestBuilder) {
		b.now = now
	}
}

func WithReferenceSource(f func() (solana.PublicKey, error)) BuilderOption {
	return func(b *RequestBuilder) {
		b.newReference = f
	}
}

func WithValidity(d time.Duration) BuilderOption {
	return func(b *RequestBuilder) {
		if d > 0 {
			b.validity = d
		}
	}
}

func NewRequestBuilder(calc *fees.Calculator, recorder Recorder, usdcMint solana.PublicKey, logger *zap.Logger, opts ...BuilderOption) *RequestBuilder {
	b := &RequestBuilder{
		fees:         calc,
		recorder:     recorder,
		usdcMint:     usdcMint,
		validity:     DefaultRequestValidity,
		now:          time.Now,
		newReference: randomReference,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// USDCMint returns the mint used for USDC requests.
func (b *RequestBuilder) USDCMint() solana.PublicKey {
	return b.usdcMint
}

// HasTier reports whether the fee calculator knows the pricing tier.
func (b *RequestBuilder) HasTier(name string) bool {
	return b.fees.HasTier(name)
}

// Create builds the descriptor. The record call is attempted once; its
// failure is reported on the result but never fails the request.
func (b *RequestBuilder) Create(ctx context.Context, p CreatePaymentParams) (*CreateResult, error) {
	if strings.TrimSpace(p.MerchantWallet) == "" {
		return nil, ErrWalletUnavailable
	}
	recipient, err := solana.PublicKeyFromBase58(p.MerchantWallet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}

	breakdown, err := b.fees.Compute(p.Amount, p.Currency, p.Tier)
	if err != nil {
		return nil, err
	}

	ref, err := b.newReference()
	if err != nil {
		return nil, fmt.Errorf("generate reference: %w", err)
	}

	splToken := ""
	if p.Currency == models.CurrencyUSDC {
		splToken = b.usdcMint.String()
	}
	uri := BuildPaymentURI(recipient.String(), breakdown.TotalCustomerPays, splToken, ref.String(), p.Label, p.Message, p.Memo)

	qr, err := qrcode.Encode(uri, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	now := b.now()
	d := &models.PaymentDescriptor{
		Reference:      ref.String(),
		PrincipalID:    p.PrincipalID,
		MerchantWallet: recipient.String(),
		Currency:       p.Currency,
		OriginalAmount: breakdown.OriginalAmount,
		FeeBreakdown:   breakdown,
		Label:          p.Label,
		Message:        p.Message,
		Memo:           p.Memo,
		PaymentURI:     uri,
		QRPayload:      qr,
		CreatedAt:      now,
		ExpiresAt:      now.Add(b.validity),
	}

	res := &CreateResult{Descriptor: d}
	if b.recorder != nil {
		if err := b.recorder.RecordPaymentRequest(ctx, d); err != nil {
			b.logger.Warn("record payment request failed",
				zap.String("reference", d.Reference),
				zap.Error(err),
			)
			res.PersistErr = fmt.Errorf("%w: %v", ErrPersistFailed, err)
		}
	}

	b.logger.Info("payment request created",
		zap.String("reference", d.Reference),
		zap.String("currency", string(d.Currency)),
		zap.String("total", breakdown.TotalCustomerPays.String()),
	)
	return res, nil
}

// BuildPaymentURI encodes a Solana Pay transfer request.
func BuildPaymentURI(recipient string, amount decimal.Decimal, splToken, reference, label, message, memo string) string {
	params := []string{"amount=" + amount.String()}
	if splToken != "" {
		params = append(params, "spl-token="+splToken)
	}
	params = append(params, "reference="+reference)
	if label != "" {
		params = append(params, "label="+escape(label))
	}
	if message != "" {
		params = append(params, "message="+escape(message))
	}
	if memo != "" {
		params = append(params, "memo="+escape(memo))
	}
	return "solana:" + recipient + "?" + strings.Join(params, "&")
}

// wallets decode with encodeURIComponent semantics, so spaces are %20
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func randomReference() (solana.PublicKey, error) {
	pk, err := solana.NewRandomPrivateKey()
	if err != nil {
		return solana.PublicKey{}, err
	}
	return pk.PublicKey(), nil
}
