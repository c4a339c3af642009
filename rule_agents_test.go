package main

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indicatorSnapshot(cycle int, quotes map[string]Quote) *MarketData {
	return &MarketData{
		SnapshotID: newID("snap"),
		Cycle:      cycle,
		Quotes:     quotes,
	}
}

func TestMomentumAgentBuysStrongest(t *testing.T) {
	agent := NewMomentumAgent(AgentConfig{
		ID: "momo", Name: "Momentum",
		Rule: RuleParams{BuyThreshold: 0.5, OrderFraction: 0.2},
	})

	md := indicatorSnapshot(1, map[string]Quote{
		"X": {Price: decimal.NewFromInt(100), Momentum: 1.2},
		"Y": {Price: decimal.NewFromInt(50), Momentum: 3.4},
		"Z": {Price: decimal.NewFromInt(20), Momentum: 0.1},
	})
	mc := &MarketContext{Cycle: 1, Snapshot: md, Portfolio: NewPortfolioState("momo", decimal.NewFromInt(10000))}

	d, err := agent.Decide(context.Background(), mc)
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, d.Action)
	assert.Equal(t, "Y", d.Instrument, "买动量最强的标的")
	// 10000 * 0.2 / 50 = 40
	assert.True(t, d.Quantity.Equal(decimal.NewFromInt(40)), "qty = %s", d.Quantity)
}

func TestMomentumAgentExitsOnNegativeMomentum(t *testing.T) {
	agent := NewMomentumAgent(AgentConfig{ID: "momo", Rule: RuleParams{BuyThreshold: 0.5, OrderFraction: 0.2}})

	portfolio := NewPortfolioState("momo", decimal.NewFromInt(5000))
	portfolio.Positions["X"] = PositionInfo{
		Instrument: "X", Quantity: decimal.NewFromInt(10),
		AvgEntryPrice: decimal.NewFromInt(90), MarkPrice: decimal.NewFromInt(100),
	}

	md := indicatorSnapshot(2, map[string]Quote{
		"X": {Price: decimal.NewFromInt(100), Momentum: -1.5},
		"Y": {Price: decimal.NewFromInt(50), Momentum: 5.0}, // 即便有更好的买点，先退出
	})
	mc := &MarketContext{Cycle: 2, Snapshot: md, Portfolio: portfolio}

	d, err := agent.Decide(context.Background(), mc)
	require.NoError(t, err)
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, "X", d.Instrument)
	assert.True(t, d.Quantity.Equal(decimal.NewFromInt(10)), "动量转负应清仓")
}

func TestMomentumAgentHoldsBelowThreshold(t *testing.T) {
	agent := NewMomentumAgent(AgentConfig{ID: "momo", Rule: RuleParams{BuyThreshold: 2.0, OrderFraction: 0.2}})

	md := indicatorSnapshot(1, map[string]Quote{
		"X": {Price: decimal.NewFromInt(100), Momentum: 1.0},
	})
	mc := &MarketContext{Cycle: 1, Snapshot: md, Portfolio: NewPortfolioState("momo", decimal.NewFromInt(10000))}

	d, err := agent.Decide(context.Background(), mc)
	require.NoError(t, err)
	assert.Equal(t, ActionHold, d.Action)
}

func TestMeanRevAgentBuysOversold(t *testing.T) {
	agent := NewMeanRevAgent(AgentConfig{
		ID: "rev", Rule: RuleParams{RSILow: 30, RSIHigh: 70, OrderFraction: 0.2},
	})

	md := indicatorSnapshot(1, map[string]Quote{
		"X": {Price: decimal.NewFromInt(100), RSI14: 22},
		"Y": {Price: decimal.NewFromInt(50), RSI14: 28},
		"Z": {Price: decimal.NewFromInt(20), RSI14: 55},
	})
	mc := &MarketContext{Cycle: 1, Snapshot: md, Portfolio: NewPortfolioState("rev", decimal.NewFromInt(10000))}

	d, err := agent.Decide(context.Background(), mc)
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, d.Action)
	assert.Equal(t, "X", d.Instrument, "买超卖最深的标的")
}

func TestMeanRevAgentSellsOverbought(t *testing.T) {
	agent := NewMeanRevAgent(AgentConfig{ID: "rev", Rule: RuleParams{RSILow: 30, RSIHigh: 70, OrderFraction: 0.2}})

	portfolio := NewPortfolioState("rev", decimal.NewFromInt(5000))
	portfolio.Positions["Z"] = PositionInfo{
		Instrument: "Z", Quantity: decimal.NewFromInt(100),
		AvgEntryPrice: decimal.NewFromInt(18), MarkPrice: decimal.NewFromInt(20),
	}

	md := indicatorSnapshot(2, map[string]Quote{
		"X": {Price: decimal.NewFromInt(100), RSI14: 25},
		"Z": {Price: decimal.NewFromInt(20), RSI14: 85},
	})
	mc := &MarketContext{Cycle: 2, Snapshot: md, Portfolio: portfolio}

	d, err := agent.Decide(context.Background(), mc)
	require.NoError(t, err)
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, "Z", d.Instrument)
}

func TestHoldAgentNeverTrades(t *testing.T) {
	agent := NewHoldAgent(AgentConfig{ID: "sloth", Name: "Sloth"})

	md := indicatorSnapshot(1, map[string]Quote{
		"X": {Price: decimal.NewFromInt(100), Momentum: 99, RSI14: 1},
	})
	mc := &MarketContext{Cycle: 1, Snapshot: md, Portfolio: NewPortfolioState("sloth", decimal.NewFromInt(10000))}

	d, err := agent.Decide(context.Background(), mc)
	require.NoError(t, err)
	assert.Equal(t, ActionHold, d.Action)
}

func TestSizeByCash(t *testing.T) {
	qty := sizeByCash(decimal.NewFromInt(10000), decimal.NewFromInt(3), 0.5)
	// 5000 / 3 = 1666.6666... 向下取 4 位
	assert.True(t, qty.Equal(decimal.RequireFromString("1666.6666")), "qty = %s", qty)

	assert.True(t, sizeByCash(decimal.NewFromInt(10000), decimal.Zero, 0.5).IsZero())
	assert.True(t, sizeByCash(decimal.NewFromInt(-5), decimal.NewFromInt(3), 0.5).IsZero())
}
