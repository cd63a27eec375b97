// Package apikey issues and validates opaque bearer credentials. Only a
// one-way hash of each key is stored; the plaintext is returned exactly once.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stockpulse/sentinel/internal/security/audit"
	"github.com/stockpulse/sentinel/internal/security/models"
	"github.com/stockpulse/sentinel/pkg/metrics"
)

const keyBytes = 32 // 256 bits of entropy per issued key

// Service manages the API key lifecycle.
type Service struct {
	store  Store
	logger *zap.Logger
	audit  *audit.Service
	now    func() time.Time
}

// NewService creates a new API key service.
func NewService(logger *zap.Logger, store Store, auditSvc *audit.Service) *Service {
	return &Service{
		store:  store,
		logger: logger,
		audit:  auditSvc,
		now:    time.Now,
	}
}

// Issue generates a new URL-safe key for the user and stores its hash. The
// returned plaintext is the only copy; it cannot be retrieved again.
func (s *Service) Issue(ctx context.Context, userID, name string) (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(buf)

	record := &models.APIKey{
		ID:        uuid.New(),
		KeyHash:   hashKey(plaintext),
		UserID:    userID,
		Name:      name,
		IsActive:  true,
		CreatedAt: s.now(),
	}
	if err := s.store.Create(ctx, record); err != nil {
		s.logger.Error("Failed to store API key", zap.Error(err))
		return "", fmt.Errorf("failed to store api key: %w", err)
	}

	s.audit.LogAuth(ctx, userID, "key_issued", true, "name="+name, "")
	s.logger.Info("API key issued",
		zap.String("user_id", userID),
		zap.String("name", name))

	return plaintext, nil
}

// Validate resolves a presented key to its owning identity. Unknown, garbled
// and revoked keys all report not-found identically. On success the record's
// last-used timestamp is updated.
func (s *Service) Validate(ctx context.Context, plaintext string) (string, bool) {
	hash := hashKey(plaintext)

	record, err := s.store.FindActive(ctx, hash)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			s.logger.Error("API key lookup failed", zap.Error(err))
		}
		metrics.AuthFailures.WithLabelValues("invalid_key").Inc()
		return "", false
	}

	if err := s.store.MarkUsed(ctx, hash, s.now()); err != nil {
		s.logger.Error("Failed to update key last-used time", zap.Error(err))
	}

	return record.UserID, true
}

// Revoke permanently deactivates a key. Revoking an already-revoked or
// unknown key is not an error; it simply reports false.
func (s *Service) Revoke(ctx context.Context, plaintext string) bool {
	hash := hashKey(plaintext)

	revoked, err := s.store.Deactivate(ctx, hash)
	if err != nil {
		s.logger.Error("Failed to revoke API key", zap.Error(err))
		return false
	}

	if revoked {
		s.audit.LogAuth(ctx, "", "key_revoked", true, "key_hash="+hash[:8], "")
		s.logger.Info("API key revoked", zap.String("key_prefix", hash[:8]))
	}
	return revoked
}

func hashKey(plaintext string) string {
	digest := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(digest[:])
}
