package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperExecutor is a simulated execution collaborator for development and
// testing. Fills succeed immediately against a paper cash balance; a sell of
// an unheld symbol or a buy beyond the balance fails like a real broker
// rejection would.
type PaperExecutor struct {
	logger *zap.Logger

	mu       sync.Mutex
	balance  decimal.Decimal
	holdings map[string]decimal.Decimal
	running  bool
}

// NewPaperExecutor creates a paper executor with the given starting cash.
func NewPaperExecutor(logger *zap.Logger, startingBalance decimal.Decimal) *PaperExecutor {
	return &PaperExecutor{
		logger:   logger,
		balance:  startingBalance,
		holdings: make(map[string]decimal.Decimal),
	}
}

func (p *PaperExecutor) ExecuteBuy(ctx context.Context, symbol string, quantity, price decimal.Decimal) (*ExecutionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := quantity.Mul(price)
	if total.GreaterThan(p.balance) {
		return nil, fmt.Errorf("insufficient balance: need %s, have %s", total, p.balance)
	}

	p.balance = p.balance.Sub(total)
	p.holdings[symbol] = p.holdings[symbol].Add(quantity)

	result := &ExecutionResult{
		TradeID:    uuid.New(),
		Symbol:     symbol,
		Action:     ActionBuy,
		Quantity:   quantity,
		Price:      price,
		Total:      total,
		ExecutedAt: time.Now(),
		Message:    "paper fill",
	}
	p.logger.Debug("Paper buy filled",
		zap.String("symbol", symbol),
		zap.String("total", total.String()))
	return result, nil
}

func (p *PaperExecutor) ExecuteSell(ctx context.Context, symbol string, quantity, price decimal.Decimal) (*ExecutionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.holdings[symbol]
	if held.LessThan(quantity) {
		return nil, fmt.Errorf("insufficient holdings for %s: need %s, have %s", symbol, quantity, held)
	}

	total := quantity.Mul(price)
	p.balance = p.balance.Add(total)
	p.holdings[symbol] = held.Sub(quantity)

	result := &ExecutionResult{
		TradeID:    uuid.New(),
		Symbol:     symbol,
		Action:     ActionSell,
		Quantity:   quantity,
		Price:      price,
		Total:      total,
		ExecutedAt: time.Now(),
		Message:    "paper fill",
	}
	p.logger.Debug("Paper sell filled",
		zap.String("symbol", symbol),
		zap.String("total", total.String()))
	return result, nil
}

func (p *PaperExecutor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("auto-trading already running")
	}
	p.running = true
	return nil
}

func (p *PaperExecutor) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	return nil
}

// Running reports whether auto-trading is active.
func (p *PaperExecutor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Balance returns the remaining paper cash.
func (p *PaperExecutor) Balance() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}
