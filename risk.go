package main

import "github.com/shopspring/decimal"

// RiskLimits 单个 Agent 的风控上限。零值字段表示不限制。
type RiskLimits struct {
	MaxOrderNotional    decimal.Decimal `json:"max_order_notional,omitempty"`    // 单笔名义金额上限
	MaxPositionNotional decimal.Decimal `json:"max_position_notional,omitempty"` // 单标的持仓名义上限
	MaxShortNotional    decimal.Decimal `json:"max_short_notional,omitempty"`    // 空头名义上限（允许做空时）
}

// unbounded 三个上限都未设置
func (r RiskLimits) unbounded() bool {
	return r.MaxOrderNotional.IsZero() && r.MaxPositionNotional.IsZero() && r.MaxShortNotional.IsZero()
}

// checkOrder 校验一笔订单是否超过风控上限。
// newQty 是成交后的带符号持仓数量。返回拒单原因，"" 表示通过。
func (r RiskLimits) checkOrder(notional decimal.Decimal, newQty, fillPrice decimal.Decimal) string {
	if !r.MaxOrderNotional.IsZero() && notional.GreaterThan(r.MaxOrderNotional) {
		return RejectOversizedOrder
	}

	posNotional := newQty.Abs().Mul(fillPrice)
	if !r.MaxPositionNotional.IsZero() && posNotional.GreaterThan(r.MaxPositionNotional) {
		return RejectOversizedOrder
	}

	if newQty.IsNegative() && !r.MaxShortNotional.IsZero() && posNotional.GreaterThan(r.MaxShortNotional) {
		return RejectOversizedOrder
	}

	return ""
}
