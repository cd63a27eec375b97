package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/stockpulse/sentinel/internal/trading"
	apperrors "github.com/stockpulse/sentinel/pkg/errors"
)

type issueKeyRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Name   string `json:"name"`
}

type verifyCodeRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

type tradeRequest struct {
	Symbol   string          `json:"symbol" binding:"required"`
	Action   string          `json:"action" binding:"required,oneof=BUY SELL"`
	Quantity decimal.Decimal `json:"quantity" binding:"required"`
	Price    decimal.Decimal `json:"price" binding:"required"`
	Code     string          `json:"two_fa_code"`
}

type autoTradingRequest struct {
	Code string `json:"two_fa_code"`
}

type storeCredentialRequest struct {
	Service string `json:"service" binding:"required"`
	Type    string `json:"type" binding:"required"`
	Value   string `json:"value" binding:"required"`
}

func (s *Server) issueAPIKey(c *gin.Context) {
	var req issueKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		req.Name = "default"
	}

	key, err := s.keys.Issue(c.Request.Context(), req.UserID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue api key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"api_key": key,
		"user_id": req.UserID,
		"name":    req.Name,
		"message": "API key issued. Store it securely; it cannot be retrieved again.",
	})
}

func (s *Server) revokeAPIKey(c *gin.Context) {
	key := c.GetHeader("X-API-Key")
	if s.keys.Revoke(c.Request.Context(), key) {
		c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
}

func (s *Server) setupSecondFactor(c *gin.Context) {
	userID := c.GetString(userIDKey)
	ctx := c.Request.Context()

	secret, err := s.twoFA.Enroll(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enroll second factor"})
		return
	}

	uri, err := s.twoFA.ProvisioningURI(ctx, userID, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build provisioning uri"})
		return
	}

	s.audit.LogAuth(ctx, userID, "2fa_setup", true, "", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{
		"secret":           secret,
		"provisioning_uri": uri,
	})
}

func (s *Server) verifySecondFactor(c *gin.Context) {
	var req verifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	valid := s.twoFA.Verify(ctx, req.UserID, req.Code)
	s.audit.LogAuth(ctx, req.UserID, "2fa_verify", valid, "", c.ClientIP())

	c.JSON(http.StatusOK, gin.H{"success": valid})
}

func (s *Server) secondFactorStatus(c *gin.Context) {
	userID := c.GetString(userIDKey)
	c.JSON(http.StatusOK, gin.H{
		"user_id":     userID,
		"2fa_enabled": s.twoFA.IsEnabled(c.Request.Context(), userID),
	})
}

func (s *Server) rateLimitStatus(c *gin.Context) {
	userID := c.GetString(userIDKey)
	c.JSON(http.StatusOK, gin.H{
		"user_id":        userID,
		"remaining":      s.limiter.Remaining(c.Request.Context(), userID),
		"max":            s.limiter.Max(),
		"window_seconds": int(s.limiter.Window().Seconds()),
	})
}

func (s *Server) recentAuditEntries(c *gin.Context) {
	userID := c.GetString(userIDKey)
	entries, err := s.audit.RecentByUser(c.Request.Context(), userID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit entries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) storeCredential(c *gin.Context) {
	if s.creds == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential vault requires a database"})
		return
	}

	var req storeCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(userIDKey)
	ctx := c.Request.Context()
	if err := s.creds.Store(ctx, userID, req.Service, req.Type, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credential"})
		return
	}

	s.audit.LogSecurityEvent(ctx, userID, "credential_stored", true,
		fmt.Sprintf("service=%s type=%s", req.Service, req.Type), c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"message": "credential stored"})
}

func (s *Server) listCredentialTypes(c *gin.Context) {
	if s.creds == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential vault requires a database"})
		return
	}

	userID := c.GetString(userIDKey)
	types, err := s.creds.Types(c.Request.Context(), userID, c.Param("service"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": c.Param("service"), "types": types})
}

func (s *Server) deleteCredential(c *gin.Context) {
	if s.creds == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential vault requires a database"})
		return
	}

	userID := c.GetString(userIDKey)
	ctx := c.Request.Context()
	removed, err := s.creds.Delete(ctx, userID, c.Param("service"), c.Param("type"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete credential"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
		return
	}

	s.audit.LogSecurityEvent(ctx, userID, "credential_deleted", true,
		fmt.Sprintf("service=%s type=%s", c.Param("service"), c.Param("type")), c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"message": "credential deleted"})
}

func (s *Server) executeTrade(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !req.Quantity.IsPositive() || !req.Price.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity and price must be positive"})
		return
	}

	userID := c.GetString(userIDKey)
	result, err := s.gate.AuthorizeAndExecute(c.Request.Context(), userID, trading.TradeRequest{
		Symbol:           req.Symbol,
		Action:           trading.Action(req.Action),
		Quantity:         req.Quantity,
		Price:            req.Price,
		SecondFactorCode: req.Code,
		Origin:           c.ClientIP(),
	})
	if err != nil {
		s.rejectTradeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) startAutoTrading(c *gin.Context) {
	// Body is optional: starting without an enrolled second factor needs no code.
	var req autoTradingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(userIDKey)
	if err := s.gate.StartAutoTrading(c.Request.Context(), userID, req.Code, c.ClientIP()); err != nil {
		s.rejectTradeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "started", "user_id": userID})
}

func (s *Server) stopAutoTrading(c *gin.Context) {
	userID := c.GetString(userIDKey)
	if err := s.gate.StopAutoTrading(c.Request.Context(), userID, c.ClientIP()); err != nil {
		s.rejectTradeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "stopped", "user_id": userID})
}

// rejectTradeError maps gate rejections to transport status codes: 2FA
// rejections are 403 with a machine-readable code, executor failures pass
// through as 502.
func (s *Server) rejectTradeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrSecondFactorRequired),
		errors.Is(err, apperrors.ErrSecondFactorInvalid):
		s.rejectError(c, http.StatusForbidden, err)
	default:
		s.rejectError(c, http.StatusBadGateway, err)
	}
}
