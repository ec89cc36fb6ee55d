package models

import (
	"time"

	"gorm.io/gorm"
)

// MerchantWallet 商户收款地址
type MerchantWallet struct {
	gorm.Model
	PrincipalID string `gorm:"uniqueIndex;size:100"`
	Address     string `gorm:"size:44"` // Solana 地址长度
	Tier        string `gorm:"size:32;default:'standard'"`
}

// PaymentRecord 支付请求记录
type PaymentRecord struct {
	gorm.Model
	Reference         string `gorm:"uniqueIndex;size:44"`
	PrincipalID       string `gorm:"index;size:100"`
	MerchantWallet    string `gorm:"size:44"`
	Currency          string `gorm:"size:10"`
	OriginalAmount    string `gorm:"size:40"`
	PlatformFee       string `gorm:"size:40"`
	TotalCustomerPays string `gorm:"size:40"`
	PaymentURI        string `gorm:"type:text"`
	ExpiresAt         time.Time
	TXSignature       string `gorm:"size:88"`
	Status            string `gorm:"size:20;default:'pending'"` // "pending", "confirmed", "failed", "timeout", "cancelled"
	FailureReason     string `gorm:"size:40"`
}
