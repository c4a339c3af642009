package main

import (
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// EquityTracker 逐周期记录每个 Agent 的净值曲线，
// 供 Sharpe 排名、导出和 web 图表使用。
type EquityTracker struct {
	mu     sync.RWMutex
	curves map[string][]float64
}

func NewEquityTracker() *EquityTracker {
	return &EquityTracker{curves: make(map[string][]float64)}
}

// Record 追加一个净值点
func (t *EquityTracker) Record(agentID string, equity decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, _ := equity.Float64()
	t.curves[agentID] = append(t.curves[agentID], v)
}

// Curve 返回净值曲线副本
func (t *EquityTracker) Curve(agentID string) []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	src := t.curves[agentID]
	out := make([]float64, len(src))
	copy(out, src)
	return out
}

// Curves 全部曲线的副本（导出用）
func (t *EquityTracker) Curves() map[string][]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][]float64, len(t.curves))
	for id, c := range t.curves {
		cp := make([]float64, len(c))
		copy(cp, c)
		out[id] = cp
	}
	return out
}

// runtimeSharpe 从净值曲线算运行期 Sharpe（无风险利率取 0）。
// 样本不足或波动为零时返回 0，避免除零把排行榜搞崩。
func runtimeSharpe(curve []float64) float64 {
	if len(curve) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1] <= 0 {
			continue
		}
		returns = append(returns, curve[i]/curve[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(float64(len(returns)))
}

// ComputeLeaderboard 纯函数排行榜：输入相同输出必然相同。
// 按指标得分降序，平分时按 agent id 升序，名次从 1 连续编号。
func ComputeLeaderboard(portfolios map[string]*PortfolioState, startingCash decimal.Decimal, metric RankingMetric, tracker *EquityTracker, cycle int) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(portfolios))
	for id, p := range portfolios {
		e := LeaderboardEntry{
			AgentID: id,
			Equity:  p.Equity,
			Cycle:   cycle,
		}
		if startingCash.IsPositive() {
			e.CumReturn = p.Equity.Sub(startingCash).Div(startingCash)
		}

		switch metric {
		case MetricReturn:
			e.Score, _ = e.CumReturn.Float64()
		case MetricSharpe:
			if tracker != nil {
				e.Score = runtimeSharpe(tracker.Curve(id))
			}
		default: // MetricEquity
			e.Score, _ = p.Equity.Float64()
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].AgentID < entries[j].AgentID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
