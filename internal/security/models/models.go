// Package models defines the persisted state owned by the trust subsystem:
// API key records, second-factor secrets, audit trails and encrypted credentials.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Audit event categories. All audit writes funnel into one of these.
const (
	CategoryAuth     = "auth"
	CategoryTrade    = "trade"
	CategoryConfig   = "config"
	CategorySecurity = "security"
)

// Trade audit statuses.
const (
	TradeStatusSuccess  = "SUCCESS"
	TradeStatusFailed   = "FAILED"
	TradeStatusRejected = "REJECTED"
)

// APIKey stores the one-way hash of an issued bearer key. The plaintext key is
// returned to the caller exactly once at issuance and never persisted.
type APIKey struct {
	ID        uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	KeyHash   string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	UserID    string     `gorm:"type:varchar(100);index;not null" json:"user_id"`
	Name      string     `gorm:"type:varchar(100);not null" json:"name"`
	IsActive  bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}

// TwoFactorSecret holds one TOTP enrollment per user. Re-enrolling overwrites
// the secret, which invalidates all codes derived from the previous one.
type TwoFactorSecret struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	UserID       string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"user_id"`
	Secret       string     `gorm:"type:varchar(32);not null" json:"-"`
	IsEnabled    bool       `gorm:"not null;default:true" json:"is_enabled"`
	CreatedAt    time.Time  `json:"created_at"`
	LastVerified *time.Time `json:"last_verified,omitempty"`
}

// AuditLog is an append-only security event record. Rows are never updated or
// deleted by this subsystem; retention is an external concern.
type AuditLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	UserID    string    `gorm:"type:varchar(100);index" json:"user_id,omitempty"`
	EventType string    `gorm:"type:varchar(50);index;not null" json:"event_type"`
	Action    string    `gorm:"type:varchar(100);not null" json:"action"`
	Success   bool      `gorm:"not null" json:"success"`
	IPAddress string    `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	UserAgent string    `gorm:"type:varchar(500)" json:"user_agent,omitempty"`
	Details   string    `gorm:"type:text" json:"details,omitempty"`
}

// TradeAuditLog records exactly one row per trade-authorization decision,
// whatever the outcome. TotalAmount is quantity x price as computed by the
// gate; it is advisory and not recomputed by readers.
type TradeAuditLog struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	Timestamp     time.Time       `gorm:"index;not null" json:"timestamp"`
	UserID        string          `gorm:"type:varchar(100);index;not null" json:"user_id"`
	TradeID       *uuid.UUID      `gorm:"type:uuid" json:"trade_id,omitempty"`
	Action        string          `gorm:"type:varchar(20);not null" json:"action"`
	Symbol        string          `gorm:"type:varchar(20);index;not null" json:"symbol"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"quantity"`
	Price         decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"price"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"total_amount"`
	Status        string          `gorm:"type:varchar(20);not null" json:"status"`
	ErrorMessage  string          `gorm:"type:text" json:"error_message,omitempty"`
	IPAddress     string          `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	Requires2FA   bool            `gorm:"not null;default:false" json:"requires_2fa"`
	TwoFAVerified bool            `gorm:"not null;default:false" json:"two_fa_verified"`
}

// EncryptedCredential stores ciphertext produced by the encryption service for
// external brokerage credentials. The value is opaque without the master key.
type EncryptedCredential struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	UserID         string    `gorm:"type:varchar(100);index;not null" json:"user_id"`
	ServiceName    string    `gorm:"type:varchar(100);not null" json:"service_name"`
	CredentialType string    `gorm:"type:varchar(50);not null" json:"credential_type"`
	EncryptedValue string    `gorm:"type:text;not null" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AllModels is the migration set for the trust subsystem's tables.
func AllModels() []interface{} {
	return []interface{}{
		&APIKey{},
		&TwoFactorSecret{},
		&AuditLog{},
		&TradeAuditLog{},
		&EncryptedCredential{},
	}
}
