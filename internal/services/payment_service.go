package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/vybzcody/paymebro-sub003/internal/db"
	"github.com/vybzcody/paymebro-sub003/internal/fees"
	"github.com/vybzcody/paymebro-sub003/internal/metrics"
	"github.com/vybzcody/paymebro-sub003/internal/models"
	"github.com/vybzcody/paymebro-sub003/internal/monitor"
	"github.com/vybzcody/paymebro-sub003/internal/notify"
)

// PaymentStore is implemented by *db.Store.
type PaymentStore interface {
	MerchantWallet(ctx context.Context, principalID string) (*models.MerchantWallet, error)
	UpsertMerchantWallet(ctx context.Context, principalID, address, tier string) (*models.MerchantWallet, error)
	PaymentRecord(ctx context.Context, reference string) (*models.PaymentRecord, error)
	UpdatePaymentStatus(ctx context.Context, reference string, status models.Status, signature, reason string) error
}

// PermissionRequester asks a principal's dashboards for native notification permission.
type PermissionRequester interface {
	RequestPermission(principalID string) notify.Permission
}

// PaymentService is what the HTTP layer talks to. Every operation is scoped
// to the calling principal: references owned by someone else are reported as
// not found.
type PaymentService struct {
	builder    *RequestBuilder
	monitor    *monitor.Monitor
	dispatcher *notify.Dispatcher
	store      PaymentStore
	permission PermissionRequester
	announce   bool
	logger     *zap.Logger
}

type ServiceOption func(s *PaymentService)

// WithAnnounce records a payment_received entry for every new request.
func WithAnnounce(enabled bool) ServiceOption {
	return func(s *PaymentService) {
		s.announce = enabled
	}
}

func WithPermissionRequester(p PermissionRequester) ServiceOption {
	return func(s *PaymentService) {
		s.permission = p
	}
}

func NewPaymentService(builder *RequestBuilder, m *monitor.Monitor, d *notify.Dispatcher, store PaymentStore, logger *zap.Logger, opts ...ServiceOption) *PaymentService {
	s := &PaymentService{
		builder:    builder,
		monitor:    m,
		dispatcher: d,
		store:      store,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterWallet binds the principal to a payout address and pricing tier.
func (s *PaymentService) RegisterWallet(ctx context.Context, principal models.AuthenticatedPrincipal, req models.RegisterWalletRequest) (*models.MerchantWallet, error) {
	if principal.ID == "" {
		return nil, ErrUnauthenticated
	}
	if s.store == nil {
		return nil, ErrWalletUnavailable
	}
	address, err := solana.PublicKeyFromBase58(strings.TrimSpace(req.Address))
	if err != nil {
		return nil, fmt.Errorf("%w: address: %v", ErrInvalidRequest, err)
	}
	tier := req.Tier
	if tier == "" {
		tier = fees.DefaultTier
	}
	if !s.builder.HasTier(tier) {
		return nil, fmt.Errorf("%w: %v: %s", ErrInvalidRequest, fees.ErrUnknownTier, tier)
	}

	w, err := s.store.UpsertMerchantWallet(ctx, principal.ID, address.String(), tier)
	if err != nil {
		s.logger.Error("save merchant wallet failed", zap.String("principal", principal.ID), zap.Error(err))
		return nil, err
	}
	s.logger.Info("merchant wallet registered",
		zap.String("principal", principal.ID),
		zap.String("address", w.Address),
		zap.String("tier", w.Tier),
	)
	return w, nil
}

// CreateAndMonitorPayment resolves the principal's wallet, builds the request
// and moves its reference to pending.
func (s *PaymentService) CreateAndMonitorPayment(ctx context.Context, principal models.AuthenticatedPrincipal, req models.CreatePaymentRequest) (*CreateResult, error) {
	if principal.ID == "" {
		return nil, ErrUnauthenticated
	}
	if s.store == nil {
		return nil, ErrWalletUnavailable
	}
	wallet, err := s.store.MerchantWallet(ctx, principal.ID)
	if err != nil {
		if !errors.Is(err, db.ErrWalletNotFound) {
			s.logger.Error("lookup merchant wallet failed", zap.String("principal", principal.ID), zap.Error(err))
		}
		return nil, fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}

	res, err := s.builder.Create(ctx, CreatePaymentParams{
		PrincipalID:    principal.ID,
		MerchantWallet: wallet.Address,
		Tier:           wallet.Tier,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Label:          req.Label,
		Message:        req.Message,
		Memo:           req.Memo,
	})
	if err != nil {
		return nil, err
	}
	d := res.Descriptor

	mint := ""
	if d.Currency == models.CurrencyUSDC {
		mint = s.builder.USDCMint().String()
	}
	if err := s.monitor.StartMonitoring(d.Reference, d.Expected(mint)); err != nil {
		return nil, err
	}
	metrics.PaymentRequests.WithLabelValues(string(d.Currency)).Inc()

	if s.announce {
		s.dispatcher.RecordCreated(d)
	}
	return res, nil
}

// StopMonitoring cancels polling for reference without a notification and
// marks the stored request cancelled. Unknown references report false.
func (s *PaymentService) StopMonitoring(ctx context.Context, principal models.AuthenticatedPrincipal, reference string) (bool, error) {
	if principal.ID == "" {
		return false, ErrUnauthenticated
	}
	sess, ok := s.monitor.Session(reference)
	if !ok {
		return false, nil
	}
	if sess.Expected.PrincipalID != principal.ID {
		return false, ErrPaymentNotFound
	}
	if !s.monitor.StopMonitoring(reference) {
		return false, nil
	}

	if s.store != nil {
		err := s.store.UpdatePaymentStatus(ctx, reference, models.StatusCancelled, "", models.ReasonStoppedByMerchant)
		if err != nil && !errors.Is(err, db.ErrRecordNotFound) {
			s.logger.Warn("persist cancellation failed", zap.String("reference", reference), zap.Error(err))
		}
	}
	return true, nil
}

// PaymentStatus reports the live session when one exists, otherwise the
// persisted outcome.
func (s *PaymentService) PaymentStatus(ctx context.Context, principal models.AuthenticatedPrincipal, reference string) (*models.PaymentStatusResponse, error) {
	if principal.ID == "" {
		return nil, ErrUnauthenticated
	}
	if sess, ok := s.monitor.Session(reference); ok {
		if sess.Expected.PrincipalID != principal.ID {
			return nil, ErrPaymentNotFound
		}
		return &models.PaymentStatusResponse{
			Reference:  reference,
			Status:     sess.Status,
			Monitoring: true,
			LastError:  sess.LastError,
		}, nil
	}
	if s.store == nil {
		return nil, ErrPaymentNotFound
	}
	rec, err := s.store.PaymentRecord(ctx, reference)
	if err != nil {
		if errors.Is(err, db.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if rec.PrincipalID != principal.ID {
		return nil, ErrPaymentNotFound
	}
	return &models.PaymentStatusResponse{
		Reference:     reference,
		Status:        models.Status(rec.Status),
		Signature:     rec.TXSignature,
		FailureReason: rec.FailureReason,
	}, nil
}

func (s *PaymentService) Notifications(principalID string) []models.Notification {
	return s.dispatcher.Notifications(principalID)
}

func (s *PaymentService) UnreadCount(principalID string) int {
	return s.dispatcher.UnreadCount(principalID)
}

func (s *PaymentService) MarkAsRead(principalID, id string) error {
	if !s.dispatcher.MarkAsRead(principalID, id) {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *PaymentService) MarkAllAsRead(principalID string) {
	s.dispatcher.MarkAllAsRead(principalID)
}

func (s *PaymentService) ClearNotification(principalID, id string) error {
	if !s.dispatcher.Clear(principalID, id) {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *PaymentService) ClearAllNotifications(principalID string) {
	s.dispatcher.ClearAll(principalID)
}

// RequestPermission asks the principal's dashboards for native notification
// permission. Without a requester it reports denied.
func (s *PaymentService) RequestPermission(principalID string) notify.Permission {
	if s.permission == nil {
		return notify.PermissionDenied
	}
	return s.permission.RequestPermission(principalID)
}
