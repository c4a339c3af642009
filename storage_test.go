package main

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storageCycleResult(compID string, cycle int, md *MarketData, outcomes []AgentOutcome) *CycleResult {
	return &CycleResult{
		ID:            newID("cyc"),
		CompetitionID: compID,
		Cycle:         cycle,
		Timestamp:     md.Timestamp,
		Snapshot:      md,
		Outcomes:      outcomes,
	}
}

func TestStorageAppendSequential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comp.json")
	s, err := NewStorage(path)
	require.NoError(t, err)
	require.NoError(t, s.Init("comp-1", *testCompetitionConfig(), nil))

	md1 := testSnapshot(1, map[string]string{"X": "100"})
	require.NoError(t, s.AppendCycle(storageCycleResult("comp-1", 1, md1, nil)))

	// 跳号和回头都不行
	md3 := testSnapshot(3, map[string]string{"X": "102"})
	assert.Error(t, s.AppendCycle(storageCycleResult("comp-1", 3, md3, nil)))
	assert.Error(t, s.AppendCycle(storageCycleResult("comp-1", 1, md1, nil)))

	md2 := testSnapshot(2, map[string]string{"X": "101"})
	require.NoError(t, s.AppendCycle(storageCycleResult("comp-1", 2, md2, nil)))

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Cycle)
	assert.Equal(t, 2, history[1].Cycle)
}

func TestStorageReloadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comp.json")

	s, err := NewStorage(path)
	require.NoError(t, err)
	require.NoError(t, s.Init("comp-1", *testCompetitionConfig(), nil))
	for cycle := 1; cycle <= 3; cycle++ {
		md := testSnapshot(cycle, map[string]string{"X": "100"})
		require.NoError(t, s.AppendCycle(storageCycleResult("comp-1", cycle, md, nil)))
	}

	// 进程重启后留痕可恢复
	s2, err := NewStorage(path)
	require.NoError(t, err)
	require.Len(t, s2.History(), 3)
	assert.Equal(t, "comp-1", s2.Log().CompetitionID)

	// 恢复后继续追加，周期号接着算
	md := testSnapshot(4, map[string]string{"X": "100"})
	require.NoError(t, s2.AppendCycle(storageCycleResult("comp-1", 4, md, nil)))
}

func TestStorageAppendBeforeInit(t *testing.T) {
	s, err := NewStorage(filepath.Join(t.TempDir(), "comp.json"))
	require.NoError(t, err)

	md := testSnapshot(1, map[string]string{"X": "100"})
	assert.Error(t, s.AppendCycle(storageCycleResult("comp-1", 1, md, nil)))
}

// buildReplayableLog 用真实引擎走两个周期，生成可回放的留痕
func buildReplayableLog(t *testing.T) *CompetitionLog {
	t.Helper()
	cfg := testCompetitionConfig()
	engine := NewPaperEngine(cfg, nil)

	cl := &CompetitionLog{CompetitionID: "comp-r", Config: *cfg}
	state := NewPortfolioState("agent-a", cfg.StartingCash)

	md1 := testSnapshot(1, map[string]string{"X": "100", "Y": "50"})
	d1 := testDecision("agent-a", 1, ActionBuy, "X", "10")
	r1, next := engine.Apply(state, d1, md1)
	next = engine.MarkToMarket(next, md1)
	cl.Cycles = append(cl.Cycles, storageCycleResult("comp-r", 1, md1,
		[]AgentOutcome{{AgentID: "agent-a", Decision: d1, Result: r1, Portfolio: next}}))

	md2 := testSnapshot(2, map[string]string{"X": "110", "Y": "50"})
	d2 := HoldDecision("agent-a", 2, "sit tight")
	r2, next2 := engine.Apply(next, d2, md2)
	next2 = engine.MarkToMarket(next2, md2)
	cl.Cycles = append(cl.Cycles, storageCycleResult("comp-r", 2, md2,
		[]AgentOutcome{{AgentID: "agent-a", Decision: d2, Result: r2, Portfolio: next2}}))

	return cl
}

func TestReplayConsistentLog(t *testing.T) {
	cl := buildReplayableLog(t)
	require.NoError(t, cl.Replay(), "确定性撮合下回放必须与留痕一致")

	final := cl.FinalEquity()
	require.Contains(t, final, "agent-a")
	assert.True(t, final["agent-a"].Equal(decimal.NewFromInt(10100)), "equity = %s", final["agent-a"])
}

func TestReplayDetectsTamperedEquity(t *testing.T) {
	cl := buildReplayableLog(t)
	cl.Cycles[1].Outcomes[0].Portfolio.Equity = decimal.NewFromInt(99999)

	assert.Error(t, cl.Replay(), "留痕被篡改时回放必须报不一致")
}

func TestReplayHonorsAgentRiskLimits(t *testing.T) {
	cfg := testCompetitionConfig()
	cfg.FeeRate = decimal.NewFromFloat(0.001)
	agents := []AgentConfig{{
		ID: "agent-a", Kind: "hold",
		Risk: RiskLimits{MaxOrderNotional: decimal.NewFromInt(500)},
	}}
	engine := NewPaperEngine(cfg, agents)

	path := filepath.Join(t.TempDir(), "comp.json")
	s, err := NewStorage(path)
	require.NoError(t, err)
	require.NoError(t, s.Init("comp-risk", *cfg, agents))

	state := NewPortfolioState("agent-a", cfg.StartingCash)

	// 周期 1：超限买单被拒，组合原样落盘
	md1 := testSnapshot(1, map[string]string{"X": "100", "Y": "50"})
	d1 := testDecision("agent-a", 1, ActionBuy, "X", "10")
	r1, next := engine.Apply(state, d1, md1)
	require.Equal(t, TradeRejected, r1.Status)
	require.Equal(t, RejectOversizedOrder, r1.RejectReason)
	next = engine.MarkToMarket(next, md1)
	require.NoError(t, s.AppendCycle(storageCycleResult("comp-risk", 1, md1,
		[]AgentOutcome{{AgentID: "agent-a", Decision: d1, Result: r1, Portfolio: next}})))

	// 周期 2：限额内的买单正常成交并扣手续费
	md2 := testSnapshot(2, map[string]string{"X": "100", "Y": "50"})
	d2 := testDecision("agent-a", 2, ActionBuy, "X", "4")
	r2, next2 := engine.Apply(next, d2, md2)
	require.Equal(t, TradeFilled, r2.Status)
	next2 = engine.MarkToMarket(next2, md2)
	require.NoError(t, s.AppendCycle(storageCycleResult("comp-risk", 2, md2,
		[]AgentOutcome{{AgentID: "agent-a", Decision: d2, Result: r2, Portfolio: next2}})))

	// 风控参数随留痕落盘，回放重建同样的引擎：
	// 当时被拒的单子回放时照样被拒，不会被重演成成交
	require.NoError(t, s.Log().Replay())

	// 进程重启后从磁盘恢复，回放结论不变
	s2, err := NewStorage(path)
	require.NoError(t, err)
	require.Contains(t, s2.Log().AgentRisk, "agent-a")
	require.NoError(t, s2.Log().Replay())
}
