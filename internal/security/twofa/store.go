package twofa

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stockpulse/sentinel/internal/security/models"
)

// ErrNotEnrolled is returned when no second-factor record exists for a user.
var ErrNotEnrolled = errors.New("second factor not enrolled")

// Store abstracts persistence of second-factor secrets. The durable gorm
// implementation is the source of truth; the in-memory one serves tests.
type Store interface {
	Upsert(ctx context.Context, secret *models.TwoFactorSecret) error
	Get(ctx context.Context, userID string) (*models.TwoFactorSecret, error)
	MarkVerified(ctx context.Context, userID string, at time.Time) error
}

// GormStore persists secrets in the two_factor_secrets table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Upsert(ctx context.Context, secret *models.TwoFactorSecret) error {
	var existing models.TwoFactorSecret
	err := s.db.WithContext(ctx).Where("user_id = ?", secret.UserID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(secret).Error
	}
	if err != nil {
		return err
	}
	// Re-enrollment replaces the secret; codes from the old one stop validating.
	return s.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"secret":        secret.Secret,
		"is_enabled":    secret.IsEnabled,
		"created_at":    secret.CreatedAt,
		"last_verified": nil,
	}).Error
}

func (s *GormStore) Get(ctx context.Context, userID string) (*models.TwoFactorSecret, error) {
	var secret models.TwoFactorSecret
	err := s.db.WithContext(ctx).Where("user_id = ? AND is_enabled = ?", userID, true).First(&secret).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotEnrolled
	}
	if err != nil {
		return nil, err
	}
	return &secret, nil
}

func (s *GormStore) MarkVerified(ctx context.Context, userID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.TwoFactorSecret{}).
		Where("user_id = ?", userID).
		Update("last_verified", at).Error
}

// MemoryStore keeps secrets in a mutex-guarded map.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]*models.TwoFactorSecret
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]*models.TwoFactorSecret)}
}

func (s *MemoryStore) Upsert(_ context.Context, secret *models.TwoFactorSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *secret
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.LastVerified = nil
	s.secrets[secret.UserID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*models.TwoFactorSecret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[userID]
	if !ok || !secret.IsEnabled {
		return nil, ErrNotEnrolled
	}
	cp := *secret
	return &cp, nil
}

func (s *MemoryStore) MarkVerified(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if secret, ok := s.secrets[userID]; ok {
		t := at
		secret.LastVerified = &t
	}
	return nil
}
