package trading

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action is the trade direction requested by the caller.
type Action string

const (
	ActionBuy    Action = "BUY"
	ActionSell   Action = "SELL"
	ActionCancel Action = "CANCEL"
)

// ExecutionResult is the outcome reported by the execution collaborator.
type ExecutionResult struct {
	TradeID    uuid.UUID       `json:"trade_id"`
	Symbol     string          `json:"symbol"`
	Action     Action          `json:"action"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Total      decimal.Decimal `json:"total"`
	ExecutedAt time.Time       `json:"executed_at"`
	Message    string          `json:"message,omitempty"`
}

// Executor is the external trade-execution collaborator. The gate never
// reinterprets its errors; they pass through to the caller.
type Executor interface {
	ExecuteBuy(ctx context.Context, symbol string, quantity, price decimal.Decimal) (*ExecutionResult, error)
	ExecuteSell(ctx context.Context, symbol string, quantity, price decimal.Decimal) (*ExecutionResult, error)
	// Start and Stop control automated trading.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
