// Package api exposes the trust subsystem over HTTP. Every route passes the
// credential check and the rate limiter before any business logic runs.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stockpulse/sentinel/internal/security/apikey"
	"github.com/stockpulse/sentinel/internal/security/audit"
	"github.com/stockpulse/sentinel/internal/security/credentials"
	"github.com/stockpulse/sentinel/internal/security/ratelimit"
	"github.com/stockpulse/sentinel/internal/security/twofa"
	"github.com/stockpulse/sentinel/internal/trading"
	apperrors "github.com/stockpulse/sentinel/pkg/errors"
)

const userIDKey = "user_id"

// Server represents the API server.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	logger  *zap.Logger
	keys    *apikey.Service
	twoFA   *twofa.Service
	limiter ratelimit.Limiter
	gate    *trading.Gate
	audit   *audit.Service
	creds   *credentials.Service
}

// NewServer creates a new API server with injected services. The credential
// vault may be nil when no database is configured; its routes then answer
// 503.
func NewServer(
	logger *zap.Logger,
	keys *apikey.Service,
	twoFA *twofa.Service,
	limiter ratelimit.Limiter,
	gate *trading.Gate,
	auditSvc *audit.Service,
	creds *credentials.Service,
) *Server {
	server := &Server{
		logger:  logger,
		keys:    keys,
		twoFA:   twoFA,
		limiter: limiter,
		gate:    gate,
		audit:   auditSvc,
		creds:   creds,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-API-Key"},
		ExposeHeaders: []string{"Content-Length", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}))

	server.router = router
	server.httpSrv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server.registerRoutes()
	return server
}

// Start starts the API server and blocks until it exits.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", zap.String("addr", addr))
	s.httpSrv.Addr = addr
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the internal Gin engine for testing purposes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	public := s.router.Group("/api/v1")
	{
		public.GET("/health", s.healthCheck)
		public.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	security := s.router.Group("/api/v1/security")
	security.Use(s.rateLimitByIP())
	{
		// Key issuance is deliberately outside API-key auth: it is the
		// bootstrap operation, guarded upstream by the operator.
		security.POST("/api-keys", s.issueAPIKey)
		security.POST("/2fa/verify", s.verifySecondFactor)

		authed := security.Group("")
		authed.Use(s.requireAPIKey())
		{
			authed.DELETE("/api-keys", s.revokeAPIKey)
			authed.POST("/2fa/setup", s.setupSecondFactor)
			authed.GET("/2fa/status", s.secondFactorStatus)
			authed.GET("/rate-limit/status", s.rateLimitStatus)
			authed.GET("/audit/recent", s.recentAuditEntries)
			authed.POST("/credentials", s.storeCredential)
			authed.GET("/credentials/:service", s.listCredentialTypes)
			authed.DELETE("/credentials/:service/:type", s.deleteCredential)
		}
	}

	tradingGroup := s.router.Group("/api/v1/trading")
	tradingGroup.Use(s.requireAPIKey(), s.rateLimitByUser())
	{
		tradingGroup.POST("/execute", s.executeTrade)
		tradingGroup.POST("/auto/start", s.startAutoTrading)
		tradingGroup.POST("/auto/stop", s.stopAutoTrading)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireAPIKey resolves the X-API-Key header to an identity. Absent or
// invalid keys are rejected before any other logic runs.
func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			s.rejectError(c, http.StatusUnauthorized, apperrors.ErrAuthenticationFailed)
			c.Abort()
			return
		}

		userID, ok := s.keys.Validate(c.Request.Context(), key)
		if !ok {
			s.rejectError(c, http.StatusUnauthorized, apperrors.ErrAuthenticationFailed)
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// rateLimitByIP throttles per client address, for unauthenticated routes.
func (s *Server) rateLimitByIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.enforceLimit(c, c.ClientIP())
	}
}

// rateLimitByUser throttles per authenticated identity.
func (s *Server) rateLimitByUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.GetString(userIDKey)
		if identity == "" {
			identity = c.ClientIP()
		}
		s.enforceLimit(c, identity)
	}
}

func (s *Server) enforceLimit(c *gin.Context, identity string) {
	ctx := c.Request.Context()
	if !s.limiter.Allow(ctx, identity) {
		remaining := s.limiter.Remaining(ctx, identity)
		c.Header("X-RateLimit-Remaining", "0")
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":           string(apperrors.CodeRateLimited),
			"error":          "rate limit exceeded",
			"remaining":      remaining,
			"max":            s.limiter.Max(),
			"window_seconds": int(s.limiter.Window().Seconds()),
		})
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) rejectError(c *gin.Context, status int, err error) {
	code, _ := apperrors.CodeOf(err)
	c.JSON(status, gin.H{
		"code":  string(code),
		"error": err.Error(),
	})
}
