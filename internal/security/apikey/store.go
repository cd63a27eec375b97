package apikey

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/stockpulse/sentinel/internal/security/models"
)

// ErrKeyNotFound covers unknown and revoked keys alike so callers cannot
// distinguish the two.
var ErrKeyNotFound = errors.New("api key not found")

// Store abstracts persistence of API key records, keyed by digest.
type Store interface {
	Create(ctx context.Context, key *models.APIKey) error
	// FindActive returns the active record matching the digest, or
	// ErrKeyNotFound for unknown, garbled and revoked keys alike.
	FindActive(ctx context.Context, hash string) (*models.APIKey, error)
	MarkUsed(ctx context.Context, hash string, at time.Time) error
	// Deactivate revokes the key. It reports true only when the key
	// transitioned from active to inactive, so repeated calls return false.
	Deactivate(ctx context.Context, hash string) (bool, error)
}

// GormStore persists keys in the api_keys table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, key *models.APIKey) error {
	return s.db.WithContext(ctx).Create(key).Error
}

func (s *GormStore) FindActive(ctx context.Context, hash string) (*models.APIKey, error) {
	var key models.APIKey
	err := s.db.WithContext(ctx).Where("key_hash = ?", hash).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	// Constant-time recheck of the digest; the unique index did the lookup,
	// this guards the final equality.
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 || !key.IsActive {
		return nil, ErrKeyNotFound
	}
	return &key, nil
}

func (s *GormStore) MarkUsed(ctx context.Context, hash string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("key_hash = ?", hash).
		Update("last_used", at).Error
}

func (s *GormStore) Deactivate(ctx context.Context, hash string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("key_hash = ? AND is_active = ?", hash, true).
		Update("is_active", false)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MemoryStore keeps key records in a mutex-guarded map keyed by digest.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]*models.APIKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*models.APIKey)}
}

func (s *MemoryStore) Create(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[key.KeyHash] = &cp
	return nil
}

func (s *MemoryStore) FindActive(_ context.Context, hash string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 || !key.IsActive {
		return nil, ErrKeyNotFound
	}
	cp := *key
	return &cp, nil
}

func (s *MemoryStore) MarkUsed(_ context.Context, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.keys[hash]; ok {
		t := at
		key.LastUsed = &t
	}
	return nil
}

func (s *MemoryStore) Deactivate(_ context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[hash]
	if !ok || !key.IsActive {
		return false, nil
	}
	key.IsActive = false
	return true, nil
}
