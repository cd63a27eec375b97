// Package twofa implements TOTP-based second-factor authentication with a
// bounded clock-skew tolerance of one period in each direction.
package twofa

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/stockpulse/sentinel/internal/security/models"
	"github.com/stockpulse/sentinel/pkg/metrics"
)

const (
	secretBytes = 20 // 160-bit shared secret, base32-encoded
	period      = 30
	digits      = otp.DigitsSix
)

// Service provides second-factor enrollment and verification.
type Service struct {
	store  Store
	logger *zap.Logger
	issuer string
	// now is swappable for skew-window tests.
	now func() time.Time
}

// NewService creates a new second-factor service.
func NewService(logger *zap.Logger, store Store, issuer string) *Service {
	return &Service{
		store:  store,
		logger: logger,
		issuer: issuer,
		now:    time.Now,
	}
}

// Enroll generates a fresh shared secret for the user, overwriting any prior
// enrollment. Codes derived from the previous secret immediately stop
// validating. The secret is returned for provisioning and never logged.
func (s *Service) Enroll(ctx context.Context, userID string) (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)

	record := &models.TwoFactorSecret{
		ID:        uuid.New(),
		UserID:    userID,
		Secret:    secret,
		IsEnabled: true,
		CreatedAt: s.now(),
	}
	if err := s.store.Upsert(ctx, record); err != nil {
		s.logger.Error("Failed to store second-factor secret", zap.Error(err))
		return "", fmt.Errorf("failed to store second-factor secret: %w", err)
	}

	s.logger.Info("Second factor enrolled", zap.String("user_id", userID))
	return secret, nil
}

// ProvisioningURI builds the otpauth:// descriptor for QR-code rendering by
// the caller (algorithm SHA1, 6 digits, 30s period).
func (s *Service) ProvisioningURI(ctx context.Context, userID, issuer string) (string, error) {
	record, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if issuer == "" {
		issuer = s.issuer
	}

	v := url.Values{}
	v.Set("secret", record.Secret)
	v.Set("issuer", issuer)
	v.Set("algorithm", otp.AlgorithmSHA1.String())
	v.Set("digits", digits.String())
	v.Set("period", fmt.Sprintf("%d", period))

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + userID,
		RawQuery: v.Encode(),
	}
	return u.String(), nil
}

// Verify checks a submitted code against the current time step and one step
// in each direction. Unknown identities fail closed.
func (s *Service) Verify(ctx context.Context, userID, code string) bool {
	record, err := s.store.Get(ctx, userID)
	if err != nil {
		if err != ErrNotEnrolled {
			s.logger.Error("Failed to load second-factor secret", zap.Error(err))
		}
		metrics.SecondFactorVerifications.WithLabelValues("failure").Inc()
		return false
	}

	valid, err := totp.ValidateCustom(strings.TrimSpace(code), record.Secret, s.now(), totp.ValidateOpts{
		Period:    period,
		Skew:      1,
		Digits:    digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		s.logger.Warn("Second-factor verification failed", zap.String("user_id", userID))
		metrics.SecondFactorVerifications.WithLabelValues("failure").Inc()
		return false
	}

	if err := s.store.MarkVerified(ctx, userID, s.now()); err != nil {
		s.logger.Error("Failed to record verification time", zap.Error(err))
	}
	metrics.SecondFactorVerifications.WithLabelValues("success").Inc()
	return true
}

// IsEnabled reports whether the user has an active enrollment.
func (s *Service) IsEnabled(ctx context.Context, userID string) bool {
	_, err := s.store.Get(ctx, userID)
	return err == nil
}
