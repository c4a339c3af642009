package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// MarketContext 传递给 Agent 的决策上下文：
// 当周期的只读行情快照 + 该 Agent 自己的组合状态副本。
type MarketContext struct {
	CompetitionID string
	Cycle         int
	Snapshot      *MarketData
	Portfolio     *PortfolioState
	StartingCash  decimal.Decimal
}

// Agent 参赛者契约。编排器只依赖这个接口，不关心内部实现：
// 可以是规则型，也可以是模型驱动型。
// Decide 失败时返回 *DecisionError（区分 transient / malformed）。
type Agent interface {
	ID() string
	Name() string
	Decide(ctx context.Context, mc *MarketContext) (*Decision, error)
}

// NewAgent 按类型创建 Agent（工厂，按 kind 分发，不走继承链）
func NewAgent(cfg AgentConfig) (Agent, error) {
	switch cfg.Kind {
	case "momentum":
		return NewMomentumAgent(cfg), nil
	case "meanrev":
		return NewMeanRevAgent(cfg), nil
	case "hold":
		return NewHoldAgent(cfg), nil
	case "model":
		return NewModelAgent(cfg), nil
	default:
		return nil, fmt.Errorf("unknown agent kind: %s", cfg.Kind)
	}
}
