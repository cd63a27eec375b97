// Package trading implements the trade-authorization gate: the decision
// point that demands a verified second factor for high-notional trades and
// writes exactly one trade audit record per authorization attempt.
package trading

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpulse/sentinel/internal/security/audit"
	"github.com/stockpulse/sentinel/internal/security/models"
	"github.com/stockpulse/sentinel/internal/security/twofa"
	apperrors "github.com/stockpulse/sentinel/pkg/errors"
	"github.com/stockpulse/sentinel/pkg/metrics"
)

// TradeRequest describes one proposed trade.
type TradeRequest struct {
	Symbol           string
	Action           Action
	Quantity         decimal.Decimal
	Price            decimal.Decimal
	SecondFactorCode string
	Origin           string
}

// Gate composes the second-factor authenticator, the audit log and the
// external executor into the trade-authorization decision.
type Gate struct {
	executor  Executor
	twoFA     *twofa.Service
	audit     *audit.Service
	logger    *zap.Logger
	threshold decimal.Decimal
}

// NewGate creates a trade authorization gate. Trades with a notional value at
// or above threshold require a verified second factor when the user has one
// enrolled.
func NewGate(logger *zap.Logger, executor Executor, twoFA *twofa.Service, auditSvc *audit.Service, threshold decimal.Decimal) *Gate {
	return &Gate{
		executor:  executor,
		twoFA:     twoFA,
		audit:     auditSvc,
		logger:    logger,
		threshold: threshold,
	}
}

// Threshold returns the configured notional threshold.
func (g *Gate) Threshold() decimal.Decimal { return g.threshold }

// RequiresSecondFactor reports whether a trade of the given notional value
// needs a verified second factor for this user.
func (g *Gate) RequiresSecondFactor(ctx context.Context, userID string, notional decimal.Decimal) bool {
	return g.twoFA.IsEnabled(ctx, userID) && notional.GreaterThanOrEqual(g.threshold)
}

// AuthorizeAndExecute runs the authorization state machine for one trade.
// Every path, rejection or execution outcome, writes exactly one trade audit
// entry. Executor errors are passed through, never swallowed.
func (g *Gate) AuthorizeAndExecute(ctx context.Context, userID string, req TradeRequest) (*ExecutionResult, error) {
	total := req.Quantity.Mul(req.Price)
	requires2FA := g.RequiresSecondFactor(ctx, userID, total)
	verified := false

	entry := &models.TradeAuditLog{
		UserID:      userID,
		Action:      string(req.Action),
		Symbol:      req.Symbol,
		Quantity:    req.Quantity,
		Price:       req.Price,
		TotalAmount: total,
		IPAddress:   req.Origin,
		Requires2FA: requires2FA,
	}

	if requires2FA {
		if req.SecondFactorCode == "" {
			entry.Status = models.TradeStatusRejected
			entry.ErrorMessage = string(apperrors.CodeSecondFactorNeeded)
			g.audit.LogTrade(ctx, entry)
			metrics.TradeAuthorizations.WithLabelValues("rejected_2fa_required").Inc()
			g.logger.Warn("Trade rejected, second factor required",
				zap.String("user_id", userID),
				zap.String("symbol", req.Symbol),
				zap.String("total", total.String()))
			return nil, apperrors.ErrSecondFactorRequired
		}

		if !g.twoFA.Verify(ctx, userID, req.SecondFactorCode) {
			entry.Status = models.TradeStatusRejected
			entry.ErrorMessage = string(apperrors.CodeSecondFactorInvalid)
			g.audit.LogTrade(ctx, entry)
			metrics.TradeAuthorizations.WithLabelValues("rejected_2fa_invalid").Inc()
			g.logger.Warn("Trade rejected, invalid second factor",
				zap.String("user_id", userID),
				zap.String("symbol", req.Symbol))
			return nil, apperrors.ErrSecondFactorInvalid
		}
		verified = true
	}
	entry.TwoFAVerified = verified

	result, err := g.execute(ctx, req)
	if err != nil {
		entry.Status = models.TradeStatusFailed
		entry.ErrorMessage = err.Error()
		g.audit.LogTrade(ctx, entry)
		metrics.TradeAuthorizations.WithLabelValues("failed").Inc()
		g.logger.Error("Trade execution failed",
			zap.String("user_id", userID),
			zap.String("symbol", req.Symbol),
			zap.Error(err))
		return nil, &apperrors.ExecutionError{Err: err}
	}

	entry.Status = models.TradeStatusSuccess
	entry.TradeID = &result.TradeID
	g.audit.LogTrade(ctx, entry)
	metrics.TradeAuthorizations.WithLabelValues("success").Inc()
	g.logger.Info("Trade executed",
		zap.String("user_id", userID),
		zap.String("symbol", req.Symbol),
		zap.String("action", string(req.Action)),
		zap.String("total", total.String()),
		zap.Bool("two_fa_verified", verified))

	return result, nil
}

// StartAutoTrading enables the automated trading engine. Unlike per-trade
// authorization, enrollment alone triggers the second-factor demand: starting
// the engine authorizes future trades without further prompts.
func (g *Gate) StartAutoTrading(ctx context.Context, userID, code, origin string) error {
	if g.twoFA.IsEnabled(ctx, userID) {
		if code == "" {
			g.audit.LogSecurityEvent(ctx, userID, "auto_trading_start", false, "second factor required but not provided", origin)
			return apperrors.ErrSecondFactorRequired
		}
		if !g.twoFA.Verify(ctx, userID, code) {
			g.audit.LogSecurityEvent(ctx, userID, "auto_trading_start", false, "invalid second factor code", origin)
			return apperrors.ErrSecondFactorInvalid
		}
	}

	if err := g.executor.Start(ctx); err != nil {
		g.audit.LogSecurityEvent(ctx, userID, "auto_trading_start", false, err.Error(), origin)
		return &apperrors.ExecutionError{Err: err}
	}

	g.audit.LogSecurityEvent(ctx, userID, "auto_trading_start", true, "auto-trading started", origin)
	g.logger.Info("Auto-trading started", zap.String("user_id", userID))
	return nil
}

// StopAutoTrading halts the automated trading engine. The stop path is
// exempt from the second-factor requirement: an emergency stop must stay
// available even without a code. The event is still audited.
func (g *Gate) StopAutoTrading(ctx context.Context, userID, origin string) error {
	if err := g.executor.Stop(ctx); err != nil {
		g.audit.LogSecurityEvent(ctx, userID, "auto_trading_stop", false, err.Error(), origin)
		return &apperrors.ExecutionError{Err: err}
	}

	g.audit.LogSecurityEvent(ctx, userID, "auto_trading_stop", true, "auto-trading stopped", origin)
	g.logger.Info("Auto-trading stopped", zap.String("user_id", userID))
	return nil
}

func (g *Gate) execute(ctx context.Context, req TradeRequest) (*ExecutionResult, error) {
	switch req.Action {
	case ActionBuy:
		return g.executor.ExecuteBuy(ctx, req.Symbol, req.Quantity, req.Price)
	case ActionSell:
		return g.executor.ExecuteSell(ctx, req.Symbol, req.Quantity, req.Price)
	default:
		return nil, fmt.Errorf("invalid trade action: %s", req.Action)
	}
}
