// Package audit provides the append-only security event log. Entries go to a
// rotating structured file and, when a database is configured, to durable
// audit tables. Write failures are reported on the fallback process logger
// and never surface to the caller's primary operation.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/stockpulse/sentinel/internal/security/models"
)

// Entry is the single record shape all audit helpers funnel through.
type Entry struct {
	Category  string
	UserID    string
	Action    string
	Success   bool
	Details   string
	IPAddress string
	UserAgent string
}

// Service appends audit records. Safe for concurrent use.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger // fallback channel for audit-write failures
	sink   *zap.Logger // structured rotating file channel
	writer *rotatingWriter
	now    func() time.Time
}

// NewService creates the audit service. A nil db disables table persistence;
// an empty path disables the file channel (entries still reach the process
// logger). Both are tolerated so tests and partial deployments work.
func NewService(logger *zap.Logger, db *gorm.DB, path string, maxBytes int64, backupCount int) (*Service, error) {
	s := &Service{
		db:     db,
		logger: logger,
		sink:   zap.NewNop(),
		now:    time.Now,
	}

	if path != "" {
		writer, err := newRotatingWriter(path, maxBytes, backupCount)
		if err != nil {
			return nil, err
		}

		encoderConfig := zapcore.EncoderConfig{
			TimeKey:        "time",
			MessageKey:     "msg",
			LevelKey:       "level",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
		}
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(writer),
			zapcore.InfoLevel,
		)
		s.writer = writer
		s.sink = zap.New(core)
	}

	return s, nil
}

// Close flushes and closes the file channel.
func (s *Service) Close() error {
	s.sink.Sync()
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}

// Log appends one audit record. It never returns an error: a failed write is
// itself logged to the fallback channel so the caller's operation proceeds.
func (s *Service) Log(ctx context.Context, e Entry) {
	record := &models.AuditLog{
		ID:        uuid.New(),
		Timestamp: s.now(),
		UserID:    e.UserID,
		EventType: e.Category,
		Action:    e.Action,
		Success:   e.Success,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		Details:   e.Details,
	}

	s.sink.Info("audit",
		zap.String("category", e.Category),
		zap.String("user_id", e.UserID),
		zap.String("action", e.Action),
		zap.Bool("success", e.Success),
		zap.String("ip_address", e.IPAddress),
		zap.String("details", e.Details),
	)

	if s.db != nil {
		if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
			s.logger.Error("Audit log write failed",
				zap.String("action", e.Action),
				zap.Error(err))
		}
	}
}

// LogAuth records an authentication event (key issuance, validation, 2FA).
func (s *Service) LogAuth(ctx context.Context, userID, action string, success bool, details, ip string) {
	s.Log(ctx, Entry{
		Category:  models.CategoryAuth,
		UserID:    userID,
		Action:    action,
		Success:   success,
		Details:   details,
		IPAddress: ip,
	})
}

// LogConfigChange records a configuration change with before/after values.
func (s *Service) LogConfigChange(ctx context.Context, userID, configType, oldValue, newValue string) {
	s.Log(ctx, Entry{
		Category: models.CategoryConfig,
		UserID:   userID,
		Action:   configType,
		Success:  true,
		Details:  "old=" + oldValue + " new=" + newValue,
	})
}

// LogSecurityEvent records a generic security event (auto-trading start/stop,
// suspicious activity).
func (s *Service) LogSecurityEvent(ctx context.Context, userID, action string, success bool, details, ip string) {
	s.Log(ctx, Entry{
		Category:  models.CategorySecurity,
		UserID:    userID,
		Action:    action,
		Success:   success,
		Details:   details,
		IPAddress: ip,
	})
}

// LogTrade records one trade-authorization decision. The row captures the
// final outcome plus the computed requires-2FA and verified flags. Like Log,
// it never fails the caller.
func (s *Service) LogTrade(ctx context.Context, trade *models.TradeAuditLog) {
	if trade.ID == uuid.Nil {
		trade.ID = uuid.New()
	}
	if trade.Timestamp.IsZero() {
		trade.Timestamp = s.now()
	}

	s.sink.Info("audit",
		zap.String("category", models.CategoryTrade),
		zap.String("user_id", trade.UserID),
		zap.String("action", trade.Action),
		zap.String("symbol", trade.Symbol),
		zap.String("quantity", trade.Quantity.String()),
		zap.String("price", trade.Price.String()),
		zap.String("total_amount", trade.TotalAmount.String()),
		zap.String("status", trade.Status),
		zap.String("error", trade.ErrorMessage),
		zap.Bool("requires_2fa", trade.Requires2FA),
		zap.Bool("two_fa_verified", trade.TwoFAVerified),
	)

	if s.db != nil {
		if err := s.db.WithContext(ctx).Create(trade).Error; err != nil {
			s.logger.Error("Trade audit write failed",
				zap.String("symbol", trade.Symbol),
				zap.Error(err))
		}
	}
}

// RecentByUser returns the newest audit entries for a user, for reporting.
// Without a database the audit trail is file-only and there is nothing to
// query.
func (s *Service) RecentByUser(ctx context.Context, userID string, limit int) ([]models.AuditLog, error) {
	if s.db == nil {
		return nil, nil
	}
	var entries []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// RecentByCategory returns the newest audit entries in a category.
func (s *Service) RecentByCategory(ctx context.Context, category string, limit int) ([]models.AuditLog, error) {
	if s.db == nil {
		return nil, nil
	}
	var entries []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("event_type = ?", category).
		Order("timestamp DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// RecentTrades returns the newest trade audit rows for a user.
func (s *Service) RecentTrades(ctx context.Context, userID string, limit int) ([]models.TradeAuditLog, error) {
	if s.db == nil {
		return nil, nil
	}
	var entries []models.TradeAuditLog
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
