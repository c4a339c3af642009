package main

import (
	"github.com/shopspring/decimal"
)

// FillPolicy 撮合成本模型（手续费/滑点规则可插拔）
type FillPolicy interface {
	// Fill 返回实际成交价和手续费
	Fill(action ActionType, quotePrice, qty decimal.Decimal) (fillPrice, fee decimal.Decimal)
}

// BasicFillPolicy 按比例手续费 + 基点滑点。买单向上滑、卖单向下滑。
type BasicFillPolicy struct {
	FeeRate     decimal.Decimal // 成交额比例，如 0.001
	SlippageBps decimal.Decimal // 基点
}

var bpsDivisor = decimal.NewFromInt(10000)

func (p BasicFillPolicy) Fill(action ActionType, quotePrice, qty decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	slip := quotePrice.Mul(p.SlippageBps).Div(bpsDivisor)
	price := quotePrice
	switch action {
	case ActionBuy:
		price = quotePrice.Add(slip)
	case ActionSell:
		price = quotePrice.Sub(slip)
	}
	fee := price.Mul(qty).Mul(p.FeeRate)
	return price, fee
}

// PaperEngine 模拟撮合引擎：把一条 Decision 应用到某个组合状态上，
// 产出 TradeResult 和新的 PortfolioState。
//
// 这是唯一合法的组合状态变更入口——对同一初始状态依次应用
// TradeResult 序列是到达任何后续状态的唯一路径。
type PaperEngine struct {
	universe   map[string]bool
	allowShort bool
	fill       FillPolicy
	limits     map[string]RiskLimits // agent id -> 个体风控
}

func NewPaperEngine(cfg *CompetitionConfig, agents []AgentConfig) *PaperEngine {
	e := &PaperEngine{
		universe:   make(map[string]bool, len(cfg.Instruments)),
		allowShort: cfg.AllowShort,
		fill:       BasicFillPolicy{FeeRate: cfg.FeeRate, SlippageBps: cfg.SlippageBps},
		limits:     make(map[string]RiskLimits, len(agents)),
	}
	for _, inst := range cfg.Instruments {
		e.universe[inst] = true
	}
	for _, a := range agents {
		e.limits[a.ID] = a.Risk
	}
	return e
}

// SetFillPolicy 替换成本模型（测试用零成本模型）
func (e *PaperEngine) SetFillPolicy(p FillPolicy) { e.fill = p }

// Apply 撮合一条决策。拒单时返回的状态就是传入的状态本身（零修改），
// hold 同理。成交时返回一份全新的状态，输入状态保持不变。
func (e *PaperEngine) Apply(state *PortfolioState, d *Decision, md *MarketData) (*TradeResult, *PortfolioState) {
	res := &TradeResult{
		DecisionID: d.ID,
		AgentID:    d.AgentID,
		Action:     d.Action,
		Instrument: d.Instrument,
		Quantity:   d.Quantity,
	}

	if d.Action == ActionHold {
		res.Status = TradeHold
		res.CashAfter = state.Cash
		res.EquityAfter = state.Equity
		return res, state
	}

	reject := func(reason string) (*TradeResult, *PortfolioState) {
		res.Status = TradeRejected
		res.RejectReason = reason
		res.CashAfter = state.Cash
		res.EquityAfter = state.Equity
		return res, state
	}

	q, ok := md.Quotes[d.Instrument]
	if !ok || !e.universe[d.Instrument] {
		return reject(RejectUnknownInstrument)
	}
	if d.Quantity.IsZero() || d.Quantity.IsNegative() {
		return reject(RejectInvalidQuantity)
	}

	fillPrice, fee := e.fill.Fill(d.Action, q.Price, d.Quantity)
	notional := fillPrice.Mul(d.Quantity)

	old := state.Positions[d.Instrument] // 零值即空仓
	delta := d.Quantity
	if d.Action == ActionSell {
		delta = d.Quantity.Neg()
	}
	newQty := old.Quantity.Add(delta)

	// 卖出超过持仓 = 开空，需要配置允许
	if newQty.IsNegative() && !e.allowShort {
		return reject(RejectShortNotAllowed)
	}

	if reason := e.limits[d.AgentID].checkOrder(notional, newQty, fillPrice); reason != "" {
		return reject(reason)
	}

	if d.Action == ActionBuy {
		cost := notional.Add(fee)
		if cost.GreaterThan(state.Cash) {
			return reject(RejectInsufficientCash)
		}
	}

	// 校验全部通过，在拷贝上记账
	next := state.Clone()

	// 平仓部分的已实现盈亏
	if !old.Quantity.IsZero() && old.Quantity.Sign() != delta.Sign() {
		closed := decimal.Min(delta.Abs(), old.Quantity.Abs())
		var pnlPerUnit decimal.Decimal
		if old.Quantity.IsPositive() {
			pnlPerUnit = fillPrice.Sub(old.AvgEntryPrice)
		} else {
			pnlPerUnit = old.AvgEntryPrice.Sub(fillPrice)
		}
		next.RealizedPnL = next.RealizedPnL.Add(pnlPerUnit.Mul(closed))
	}

	// 平均成本
	avg := old.AvgEntryPrice
	switch {
	case old.Quantity.IsZero(), old.Quantity.Sign() != newQty.Sign() && !newQty.IsZero():
		// 空仓新开，或穿越零点反手：剩余仓位以本次成交价为成本
		avg = fillPrice
	case old.Quantity.Sign() == delta.Sign():
		// 同向加仓：加权平均
		totalCost := old.AvgEntryPrice.Mul(old.Quantity.Abs()).Add(fillPrice.Mul(delta.Abs()))
		avg = totalCost.Div(newQty.Abs())
	}

	// 现金流：买入扣款、卖出回款，手续费始终是支出
	if d.Action == ActionBuy {
		next.Cash = next.Cash.Sub(notional).Sub(fee)
	} else {
		next.Cash = next.Cash.Add(notional).Sub(fee)
	}
	next.FeesPaid = next.FeesPaid.Add(fee)

	if newQty.IsZero() {
		delete(next.Positions, d.Instrument)
	} else {
		next.Positions[d.Instrument] = PositionInfo{
			Instrument:    d.Instrument,
			Quantity:      newQty,
			AvgEntryPrice: avg,
			MarkPrice:     fillPrice,
			UnrealizedPnL: fillPrice.Sub(avg).Mul(newQty),
		}
	}
	next.refreshTotals()

	res.Status = TradeFilled
	res.FillPrice = fillPrice
	res.Fee = fee
	res.CashAfter = next.Cash
	res.EquityAfter = next.Equity
	return res, next
}

// MarkToMarket 用本周期快照价格重估所有持仓（包括未交易的标的），
// 返回新状态。这是每周期撮合完成后的收尾步骤。
func (e *PaperEngine) MarkToMarket(state *PortfolioState, md *MarketData) *PortfolioState {
	next := state.Clone()
	for inst, pos := range next.Positions {
		q, ok := md.Quotes[inst]
		if !ok {
			continue
		}
		pos.MarkPrice = q.Price
		pos.UnrealizedPnL = q.Price.Sub(pos.AvgEntryPrice).Mul(pos.Quantity)
		next.Positions[inst] = pos
	}
	next.Cycle = md.Cycle
	next.refreshTotals()
	return next
}
