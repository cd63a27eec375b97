package trading

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPaper(t *testing.T, balance string) *PaperExecutor {
	t.Helper()
	return NewPaperExecutor(zap.NewNop(), decimal.RequireFromString(balance))
}

func TestPaperBuyDebitsBalance(t *testing.T) {
	p := newPaper(t, "10000.00")
	ctx := context.Background()

	result, err := p.ExecuteBuy(ctx, "AAPL", decimal.NewFromInt(10), decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, result.Action)
	assert.True(t, result.Total.Equal(decimal.NewFromInt(1500)))
	assert.True(t, p.Balance().Equal(decimal.RequireFromString("8500.00")))
}

func TestPaperBuyRejectsOverdraft(t *testing.T) {
	p := newPaper(t, "100.00")
	ctx := context.Background()

	_, err := p.ExecuteBuy(ctx, "AAPL", decimal.NewFromInt(10), decimal.NewFromInt(150))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")
	assert.True(t, p.Balance().Equal(decimal.RequireFromString("100.00")), "failed buy must not move the balance")
}

func TestPaperSellRequiresHoldings(t *testing.T) {
	p := newPaper(t, "10000.00")
	ctx := context.Background()

	_, err := p.ExecuteSell(ctx, "AAPL", decimal.NewFromInt(1), decimal.NewFromInt(150))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient holdings")
}

func TestPaperBuyThenSellRoundTrip(t *testing.T) {
	p := newPaper(t, "10000.00")
	ctx := context.Background()

	_, err := p.ExecuteBuy(ctx, "AAPL", decimal.NewFromInt(10), decimal.NewFromInt(100))
	require.NoError(t, err)

	_, err = p.ExecuteSell(ctx, "AAPL", decimal.NewFromInt(10), decimal.NewFromInt(110))
	require.NoError(t, err)
	assert.True(t, p.Balance().Equal(decimal.RequireFromString("10100.00")))

	// Position is flat again; another sell must fail.
	_, err = p.ExecuteSell(ctx, "AAPL", decimal.NewFromInt(1), decimal.NewFromInt(110))
	assert.Error(t, err)
}

func TestPaperStartStop(t *testing.T) {
	p := newPaper(t, "10000.00")
	ctx := context.Background()

	require.NoError(t, p.Start(ctx))
	assert.True(t, p.Running())
	assert.Error(t, p.Start(ctx), "double start reports already running")

	require.NoError(t, p.Stop(ctx))
	assert.False(t, p.Running())
	require.NoError(t, p.Stop(ctx), "stop is idempotent")
}
