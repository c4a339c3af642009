package main

import (
	"time"

	"github.com/shopspring/decimal"
)

// CompetitionStatus 竞赛整体状态
type CompetitionStatus string

const (
	StatusCreated   CompetitionStatus = "created"
	StatusRunning   CompetitionStatus = "running"
	StatusPaused    CompetitionStatus = "paused"
	StatusCompleted CompetitionStatus = "completed"
	StatusFailed    CompetitionStatus = "failed"
)

// Quote 单个标的在某个快照里的报价
type Quote struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`

	// Stale 为 true 表示该价格是从上一周期前向填充来的，
	// 不是本周期的真实 tick。填充必须显式标记，绝不静默。
	Stale     bool `json:"stale,omitempty"`
	GapCycles int  `json:"gap_cycles,omitempty"` // 连续填充的周期数

	// 派生指标字段（分析用，非资金口径，float64 足够）
	EMA20    float64 `json:"ema20,omitempty"`
	RSI14    float64 `json:"rsi14,omitempty"`
	Momentum float64 `json:"momentum,omitempty"` // 回看窗口内的涨跌幅（百分比）
}

// MarketData 一个周期的行情快照。生成后只读，所有 Agent 共享同一份。
type MarketData struct {
	SnapshotID string           `json:"snapshot_id"`
	Cycle      int              `json:"cycle"`
	Timestamp  time.Time        `json:"timestamp"`
	Quotes     map[string]Quote `json:"quotes"` // instrument -> quote
}

// PositionInfo 持仓信息。Quantity 带符号：负数为空头（需配置允许做空）。
type PositionInfo struct {
	Instrument    string          `json:"instrument"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// PortfolioState 单个 Agent 的投资组合状态。
// 只有 PaperEngine 可以产生新的状态，任何人不得绕过引擎原地修改。
type PortfolioState struct {
	AgentID     string                  `json:"agent_id"`
	Cash        decimal.Decimal         `json:"cash"`
	Positions   map[string]PositionInfo `json:"positions"`
	RealizedPnL decimal.Decimal         `json:"realized_pnl"`
	FeesPaid    decimal.Decimal         `json:"fees_paid"`
	Equity      decimal.Decimal         `json:"equity"` // cash + Σ qty*mark
	Cycle       int                     `json:"cycle"`  // 最近一次更新的周期
}

// NewPortfolioState 用初始资金创建组合
func NewPortfolioState(agentID string, startingCash decimal.Decimal) *PortfolioState {
	return &PortfolioState{
		AgentID:     agentID,
		Cash:        startingCash,
		Positions:   make(map[string]PositionInfo),
		RealizedPnL: decimal.Zero,
		FeesPaid:    decimal.Zero,
		Equity:      startingCash,
	}
}

// Clone 深拷贝。引擎的每次变更都基于拷贝，保证被拒单的状态原样不动。
func (p *PortfolioState) Clone() *PortfolioState {
	next := *p
	next.Positions = make(map[string]PositionInfo, len(p.Positions))
	for k, v := range p.Positions {
		next.Positions[k] = v
	}
	return &next
}

// refreshTotals 按当前各持仓的 MarkPrice 重算净值
func (p *PortfolioState) refreshTotals() {
	equity := p.Cash
	for _, pos := range p.Positions {
		equity = equity.Add(pos.Quantity.Mul(pos.MarkPrice))
	}
	p.Equity = equity
}

// ActionType 交易动作
type ActionType string

const (
	ActionBuy  ActionType = "buy"
	ActionSell ActionType = "sell"
	ActionHold ActionType = "hold"
)

// Decision Agent 在一个周期内的输出。每周期新建，创建后不再修改。
type Decision struct {
	ID         string          `json:"id"`
	AgentID    string          `json:"agent_id"`
	Cycle      int             `json:"cycle"`
	Action     ActionType      `json:"action"`
	Instrument string          `json:"instrument,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	Rationale  string          `json:"rationale,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// HoldDecision 构造一个观望决策（也用于失败兜底）
func HoldDecision(agentID string, cycle int, rationale string) *Decision {
	return &Decision{
		ID:        newID("dec"),
		AgentID:   agentID,
		Cycle:     cycle,
		Action:    ActionHold,
		Rationale: rationale,
		Timestamp: time.Now(),
	}
}

// TradeStatus 成交结果状态
type TradeStatus string

const (
	TradeFilled   TradeStatus = "filled"
	TradeRejected TradeStatus = "rejected"
	TradeHold     TradeStatus = "hold"
)

// 拒单原因（完整枚举，审计日志里可见）
const (
	RejectInsufficientCash  = "insufficient_cash"
	RejectOversizedOrder    = "oversized_order"
	RejectUnknownInstrument = "instrument_not_in_universe"
	RejectInvalidQuantity   = "invalid_quantity"
	RejectShortNotAllowed   = "short_not_allowed"
)

// TradeResult 一条决策经撮合后的结果
type TradeResult struct {
	DecisionID   string          `json:"decision_id"`
	AgentID      string          `json:"agent_id"`
	Status       TradeStatus     `json:"status"`
	Action       ActionType      `json:"action"`
	Instrument   string          `json:"instrument,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	Fee          decimal.Decimal `json:"fee"`
	RejectReason string          `json:"reject_reason,omitempty"`
	CashAfter    decimal.Decimal `json:"cash_after"`
	EquityAfter  decimal.Decimal `json:"equity_after"`
}

// LeaderboardEntry 排行榜条目。每周期从全部组合状态整体重算，从不增量修补。
type LeaderboardEntry struct {
	Rank      int             `json:"rank"`
	AgentID   string          `json:"agent_id"`
	Equity    decimal.Decimal `json:"equity"`
	CumReturn decimal.Decimal `json:"cum_return"` // (equity-start)/start
	Score     float64         `json:"score"`      // 按配置的 ranking metric
	Cycle     int             `json:"cycle"`
}

// AgentOutcome 单个 Agent 在一个周期里的完整结果
type AgentOutcome struct {
	AgentID       string          `json:"agent_id"`
	Decision      *Decision       `json:"decision"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Result        *TradeResult    `json:"result"`
	Portfolio     *PortfolioState `json:"portfolio"`
	ElapsedMs     int64           `json:"elapsed_ms"`
}

// CycleResult 一个完整周期的不可变记录：审计与回放的最小单元
type CycleResult struct {
	ID            string             `json:"id"`
	CompetitionID string             `json:"competition_id"`
	Cycle         int                `json:"cycle"`
	Timestamp     time.Time          `json:"timestamp"`
	Snapshot      *MarketData        `json:"snapshot"`
	Outcomes      []AgentOutcome     `json:"outcomes"` // 按 agent id 升序
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
}
