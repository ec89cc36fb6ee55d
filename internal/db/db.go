package db

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vybzcody/paymebro-sub003/internal/models"
	"github.com/vybzcody/paymebro-sub003/internal/monitor"
)

var (
	ErrWalletNotFound = errors.New("merchant wallet not found")
	ErrRecordNotFound = errors.New("payment record not found")
)

// Store 基于 gorm 的 MySQL 存储：商户收款地址与支付请求记录
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Migrate 运行表结构迁移
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&models.MerchantWallet{}, &models.PaymentRecord{})
}

// Ping 检查数据库连接，用于就绪探针
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// MerchantWallet 根据 principal 查询商户收款地址
func (s *Store) MerchantWallet(ctx context.Context, principalID string) (*models.MerchantWallet, error) {
	var w models.MerchantWallet
	err := s.db.WithContext(ctx).Where("principal_id = ?", principalID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// UpsertMerchantWallet 新增或更新商户收款地址，principal_id 唯一
func (s *Store) UpsertMerchantWallet(ctx context.Context, principalID, address, tier string) (*models.MerchantWallet, error) {
	w := models.MerchantWallet{PrincipalID: principalID, Address: address, Tier: tier}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "principal_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"address", "tier", "updated_at"}),
	}).Create(&w).Error
	if err != nil {
		return nil, err
	}
	return s.MerchantWallet(ctx, principalID)
}

// RecordPaymentRequest 保存新建的支付请求
func (s *Store) RecordPaymentRequest(ctx context.Context, d *models.PaymentDescriptor) error {
	rec := recordFromDescriptor(d)
	return s.db.WithContext(ctx).Create(rec).Error
}

// PaymentRecord 根据 reference 查询支付记录
func (s *Store) PaymentRecord(ctx context.Context, reference string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := s.db.WithContext(ctx).Where("reference = ?", reference).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdatePaymentStatus 写入终态或 cancelled，只更新仍为 pending 的记录
func (s *Store) UpdatePaymentStatus(ctx context.Context, reference string, status models.Status, signature, reason string) error {
	res := s.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("reference = ? AND status = ?", reference, string(models.StatusPending)).
		Updates(map[string]interface{}{
			"status":         string(status),
			"tx_signature":   signature,
			"failure_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// HandleTransition is a monitor.TransitionHandler that persists terminal states.
func (s *Store) HandleTransition(ctx context.Context, t monitor.Transition) {
	err := s.UpdatePaymentStatus(ctx, t.Reference, t.To, t.Signature, t.Reason)
	if err != nil {
		s.logger.Warn("persist payment status failed",
			zap.String("reference", t.Reference),
			zap.String("status", string(t.To)),
			zap.Error(err),
		)
	}
}

func recordFromDescriptor(d *models.PaymentDescriptor) *models.PaymentRecord {
	return &models.PaymentRecord{
		Reference:         d.Reference,
		PrincipalID:       d.PrincipalID,
		MerchantWallet:    d.MerchantWallet,
		Currency:          string(d.Currency),
		OriginalAmount:    d.FeeBreakdown.OriginalAmount.String(),
		PlatformFee:       d.FeeBreakdown.PlatformFee.String(),
		TotalCustomerPays: d.FeeBreakdown.TotalCustomerPays.String(),
		PaymentURI:        d.PaymentURI,
		ExpiresAt:         d.ExpiresAt,
		Status:            string(models.StatusPending),
	}
}
