// Package credentials stores external brokerage credentials encrypted at
// rest. Values pass through the encryption service on the way in and out;
// plaintext never touches the database or the logs.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stockpulse/sentinel/internal/security/encryption"
	"github.com/stockpulse/sentinel/internal/security/models"
)

// ErrCredentialNotFound is returned when no stored credential matches.
var ErrCredentialNotFound = errors.New("credential not found")

// Service manages encrypted credential records.
type Service struct {
	db     *gorm.DB
	crypto *encryption.Service
	logger *zap.Logger
}

// NewService creates a credential vault backed by the given database.
func NewService(logger *zap.Logger, db *gorm.DB, crypto *encryption.Service) *Service {
	return &Service{db: db, crypto: crypto, logger: logger}
}

// Store encrypts and persists one credential value, replacing any existing
// record for the same (user, service, type) triple.
func (s *Service) Store(ctx context.Context, userID, serviceName, credentialType, value string) error {
	ciphertext, err := s.crypto.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	var existing models.EncryptedCredential
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND service_name = ? AND credential_type = ?", userID, serviceName, credentialType).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record := &models.EncryptedCredential{
			ID:             uuid.New(),
			UserID:         userID,
			ServiceName:    serviceName,
			CredentialType: credentialType,
			EncryptedValue: ciphertext,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}
		return s.db.WithContext(ctx).Create(record).Error
	}
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"encrypted_value": ciphertext,
		"updated_at":      time.Now(),
	}).Error
}

// Get decrypts one stored credential. A decryption failure is fatal to the
// call; no fallback value is returned.
func (s *Service) Get(ctx context.Context, userID, serviceName, credentialType string) (string, error) {
	var record models.EncryptedCredential
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND service_name = ? AND credential_type = ?", userID, serviceName, credentialType).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", err
	}

	return s.crypto.Decrypt(record.EncryptedValue)
}

// Delete removes one stored credential. Reports whether a record was
// actually removed.
func (s *Service) Delete(ctx context.Context, userID, serviceName, credentialType string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND service_name = ? AND credential_type = ?", userID, serviceName, credentialType).
		Delete(&models.EncryptedCredential{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Types lists the credential types a user holds for a service, without
// decrypting anything.
func (s *Service) Types(ctx context.Context, userID, serviceName string) ([]string, error) {
	var types []string
	err := s.db.WithContext(ctx).
		Model(&models.EncryptedCredential{}).
		Where("user_id = ? AND service_name = ?", userID, serviceName).
		Order("credential_type").
		Pluck("credential_type", &types).Error
	if err != nil {
		return nil, err
	}
	return types, nil
}

// GetAll decrypts every credential a user holds for a service, keyed by
// credential type. Any single decryption failure aborts the whole call.
func (s *Service) GetAll(ctx context.Context, userID, serviceName string) (map[string]string, error) {
	var records []models.EncryptedCredential
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND service_name = ?", userID, serviceName).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	encrypted := make(map[string]string, len(records))
	for _, r := range records {
		encrypted[r.CredentialType] = r.EncryptedValue
	}
	return s.crypto.DecryptMap(encrypted)
}
