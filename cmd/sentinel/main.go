package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stockpulse/sentinel/api"
	"github.com/stockpulse/sentinel/internal/config"
	"github.com/stockpulse/sentinel/internal/database"
	"github.com/stockpulse/sentinel/internal/security/apikey"
	"github.com/stockpulse/sentinel/internal/security/audit"
	"github.com/stockpulse/sentinel/internal/security/credentials"
	"github.com/stockpulse/sentinel/internal/security/encryption"
	"github.com/stockpulse/sentinel/internal/security/ratelimit"
	"github.com/stockpulse/sentinel/internal/security/twofa"
	"github.com/stockpulse/sentinel/internal/trading"
	"github.com/stockpulse/sentinel/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfgPath := os.Getenv("SENTINEL_CONFIG")
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Connect to PostgreSQL and migrate the trust subsystem's tables. The
	// database is optional in development: without a DSN the in-memory
	// stores back everything and audit entries only reach the file channel.
	var db *gorm.DB
	if cfg.Database.DSN != "" {
		db, err = database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		if err := database.Migrate(db); err != nil {
			zapLogger.Fatal("Failed to migrate database", zap.Error(err))
		}
	} else {
		zapLogger.Warn("No database DSN configured, using in-memory stores")
	}

	// Audit log: rotating structured file plus the audit tables.
	auditSvc, err := audit.NewService(zapLogger, db, cfg.Security.AuditLogPath, cfg.Security.AuditMaxBytes, cfg.Security.AuditBackups)
	if err != nil {
		zapLogger.Fatal("Failed to create audit service", zap.Error(err))
	}
	defer auditSvc.Close()

	// Encryption service for stored brokerage credentials.
	var cryptoOpts []encryption.Option
	if cfg.Security.MasterKey != "" {
		cryptoOpts = append(cryptoOpts, encryption.WithMasterKey(cfg.Security.MasterKey))
	} else if cfg.Security.MasterPassphrase != "" {
		cryptoOpts = append(cryptoOpts, encryption.WithPassphrase(cfg.Security.MasterPassphrase))
	}
	cryptoSvc, err := encryption.NewService(zapLogger, cryptoOpts...)
	if err != nil {
		zapLogger.Fatal("Failed to create encryption service", zap.Error(err))
	}

	// Credential store and second-factor store: durable when a database is
	// available, in-memory otherwise.
	var keyStore apikey.Store
	var twoFAStore twofa.Store
	if db != nil {
		keyStore = apikey.NewGormStore(db)
		twoFAStore = twofa.NewGormStore(db)
	} else {
		keyStore = apikey.NewMemoryStore()
		twoFAStore = twofa.NewMemoryStore()
	}

	keySvc := apikey.NewService(zapLogger, keyStore, auditSvc)
	twoFASvc := twofa.NewService(zapLogger, twoFAStore, cfg.Security.Issuer)

	var credSvc *credentials.Service
	if db != nil {
		credSvc = credentials.NewService(zapLogger, db, cryptoSvc)
	}

	// Rate limiter: Redis for multi-process deployments, in-memory otherwise.
	var limiter ratelimit.Limiter
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		limiter = ratelimit.NewRedisLimiter(redisClient, zapLogger, cfg.Security.RateLimitMax, cfg.Security.RateLimitWindow)
	} else {
		memLimiter := ratelimit.NewSlidingWindowLimiter(cfg.Security.RateLimitMax, cfg.Security.RateLimitWindow)
		limiter = memLimiter

		// Periodic sweep keeps the tracked-identity map bounded.
		sweepTicker := time.NewTicker(cfg.Security.SweepInterval)
		go func() {
			for range sweepTicker.C {
				if removed := memLimiter.Sweep(); removed > 0 {
					zapLogger.Debug("Rate limiter sweep", zap.Int("identities_removed", removed))
				}
			}
		}()
	}

	// Trade gate over the paper executor. A live brokerage connector slots
	// in here once its credentials are provisioned through the vault.
	threshold, err := decimal.NewFromString(cfg.Security.TwoFAThreshold)
	if err != nil {
		zapLogger.Fatal("Invalid second-factor threshold", zap.Error(err))
	}
	paperBalance, err := decimal.NewFromString(cfg.Trading.PaperBalance)
	if err != nil {
		zapLogger.Fatal("Invalid paper balance", zap.Error(err))
	}
	executor := trading.NewPaperExecutor(zapLogger, paperBalance)
	gate := trading.NewGate(zapLogger, executor, twoFASvc, auditSvc, threshold)

	server := api.NewServer(zapLogger, keySvc, twoFASvc, limiter, gate, auditSvc, credSvc)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Server exited", zap.Error(err))
		}
	case sig := <-sigCh:
		zapLogger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zapLogger.Error("Graceful shutdown failed", zap.Error(err))
	}
	if err := executor.Stop(ctx); err != nil {
		zapLogger.Error("Failed to stop executor", zap.Error(err))
	}
	zapLogger.Info("Shutdown complete")
}
