package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// 内置规则型 Agent：动量、均值回归、纯观望。
// 全部是确定性策略，同一输入必然给出同一决策，方便回放验证。

// ===== 动量策略 =====

// MomentumAgent 追涨：买入动量最强且超过阈值的标的；
// 已持仓的标的动量转负则清仓。
type MomentumAgent struct {
	id     string
	name   string
	params RuleParams
}

func NewMomentumAgent(cfg AgentConfig) *MomentumAgent {
	p := cfg.Rule
	if p.BuyThreshold <= 0 {
		p.BuyThreshold = 0.5
	}
	if p.OrderFraction <= 0 || p.OrderFraction > 1 {
		p.OrderFraction = 0.2
	}
	return &MomentumAgent{id: cfg.ID, name: cfg.Name, params: p}
}

func (a *MomentumAgent) ID() string   { return a.id }
func (a *MomentumAgent) Name() string { return a.name }

func (a *MomentumAgent) Decide(_ context.Context, mc *MarketContext) (*Decision, error) {
	// 先看退出：持仓里动量转负的先卖
	for _, inst := range sortedInstruments(mc.Snapshot) {
		pos, held := mc.Portfolio.Positions[inst]
		if !held || !pos.Quantity.IsPositive() {
			continue
		}
		if mc.Snapshot.Quotes[inst].Momentum < 0 {
			return a.order(mc, ActionSell, inst, pos.Quantity,
				fmt.Sprintf("momentum turned negative (%.2f%%)", mc.Snapshot.Quotes[inst].Momentum)), nil
		}
	}

	// 再找入场：动量最强且超过阈值的标的
	best, bestMom := "", a.params.BuyThreshold
	for _, inst := range sortedInstruments(mc.Snapshot) {
		if m := mc.Snapshot.Quotes[inst].Momentum; m > bestMom {
			best, bestMom = inst, m
		}
	}
	if best == "" {
		return HoldDecision(a.id, mc.Cycle, "no instrument above momentum threshold"), nil
	}

	qty := sizeByCash(mc.Portfolio.Cash, mc.Snapshot.Quotes[best].Price, a.params.OrderFraction)
	if qty.IsZero() {
		return HoldDecision(a.id, mc.Cycle, "insufficient cash for minimum order"), nil
	}
	return a.order(mc, ActionBuy, best, qty,
		fmt.Sprintf("strongest momentum %.2f%%", bestMom)), nil
}

func (a *MomentumAgent) order(mc *MarketContext, action ActionType, inst string, qty decimal.Decimal, why string) *Decision {
	return &Decision{
		ID:         newID("dec"),
		AgentID:    a.id,
		Cycle:      mc.Cycle,
		Action:     action,
		Instrument: inst,
		Quantity:   qty,
		Rationale:  why,
		Timestamp:  time.Now(),
	}
}

// ===== 均值回归策略 =====

// MeanRevAgent RSI 超卖买入、超买卖出
type MeanRevAgent struct {
	id     string
	name   string
	params RuleParams
}

func NewMeanRevAgent(cfg AgentConfig) *MeanRevAgent {
	p := cfg.Rule
	if p.RSILow <= 0 {
		p.RSILow = 30
	}
	if p.RSIHigh <= 0 {
		p.RSIHigh = 70
	}
	if p.OrderFraction <= 0 || p.OrderFraction > 1 {
		p.OrderFraction = 0.2
	}
	return &MeanRevAgent{id: cfg.ID, name: cfg.Name, params: p}
}

func (a *MeanRevAgent) ID() string   { return a.id }
func (a *MeanRevAgent) Name() string { return a.name }

func (a *MeanRevAgent) Decide(_ context.Context, mc *MarketContext) (*Decision, error) {
	// 超买的持仓先了结
	for _, inst := range sortedInstruments(mc.Snapshot) {
		pos, held := mc.Portfolio.Positions[inst]
		if !held || !pos.Quantity.IsPositive() {
			continue
		}
		if rsi := mc.Snapshot.Quotes[inst].RSI14; rsi > a.params.RSIHigh {
			return &Decision{
				ID: newID("dec"), AgentID: a.id, Cycle: mc.Cycle,
				Action: ActionSell, Instrument: inst, Quantity: pos.Quantity,
				Rationale: fmt.Sprintf("RSI %.1f overbought (> %.0f)", rsi, a.params.RSIHigh),
				Timestamp: time.Now(),
			}, nil
		}
	}

	// 超卖最深的标的入场
	best, bestRSI := "", a.params.RSILow
	for _, inst := range sortedInstruments(mc.Snapshot) {
		rsi := mc.Snapshot.Quotes[inst].RSI14
		if rsi > 0 && rsi < bestRSI {
			best, bestRSI = inst, rsi
		}
	}
	if best == "" {
		return HoldDecision(a.id, mc.Cycle, "no instrument oversold"), nil
	}

	qty := sizeByCash(mc.Portfolio.Cash, mc.Snapshot.Quotes[best].Price, a.params.OrderFraction)
	if qty.IsZero() {
		return HoldDecision(a.id, mc.Cycle, "insufficient cash for minimum order"), nil
	}
	return &Decision{
		ID: newID("dec"), AgentID: a.id, Cycle: mc.Cycle,
		Action: ActionBuy, Instrument: best, Quantity: qty,
		Rationale: fmt.Sprintf("RSI %.1f oversold (< %.0f)", bestRSI, a.params.RSILow),
		Timestamp: time.Now(),
	}, nil
}

// ===== 纯观望 =====

// HoldAgent 永远观望，作为基准线参赛
type HoldAgent struct {
	id   string
	name string
}

func NewHoldAgent(cfg AgentConfig) *HoldAgent {
	return &HoldAgent{id: cfg.ID, name: cfg.Name}
}

func (a *HoldAgent) ID() string   { return a.id }
func (a *HoldAgent) Name() string { return a.name }

func (a *HoldAgent) Decide(_ context.Context, mc *MarketContext) (*Decision, error) {
	return HoldDecision(a.id, mc.Cycle, "baseline: never trades"), nil
}

// ===== 公共工具 =====

// sortedInstruments 快照标的按字典序，保证规则型策略遍历顺序确定
func sortedInstruments(md *MarketData) []string {
	out := make([]string, 0, len(md.Quotes))
	for inst := range md.Quotes {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

// sizeByCash 按可用现金比例换算下单数量（4 位小数，向下取整）
func sizeByCash(cash, price decimal.Decimal, fraction float64) decimal.Decimal {
	if price.IsZero() || price.IsNegative() || cash.IsNegative() {
		return decimal.Zero
	}
	budget := cash.Mul(decimal.NewFromFloat(fraction))
	qty := budget.Div(price).RoundDown(4)
	if qty.IsNegative() {
		return decimal.Zero
	}
	return qty
}
