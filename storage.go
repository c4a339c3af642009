package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// CompetitionLog 一场竞赛的完整留痕：配置 + 逐周期结果。
// Cycles 只追加、不改写，周期号必须严格连续。
// AgentRisk 落盘每个 Agent 的风控上限（不含密钥类字段），
// 回放时必须用同样的上限重建引擎，否则当时被拒的单子会被重演成成交。
type CompetitionLog struct {
	CompetitionID string                `json:"competition_id"`
	CreatedAt     time.Time             `json:"created_at"`
	Config        CompetitionConfig     `json:"config"`
	AgentRisk     map[string]RiskLimits `json:"agent_risk,omitempty"`
	Cycles        []*CycleResult        `json:"cycles"`
}

// Storage 竞赛留痕的 JSON 文件存储。
// 写入走临时文件 + rename，进程中途被杀也不会留下半个 JSON。
type Storage struct {
	mu   sync.Mutex
	path string
	data *CompetitionLog
}

func NewStorage(path string) (*Storage, error) {
	s := &Storage{path: path}

	if raw, err := os.ReadFile(path); err == nil {
		var existing CompetitionLog
		if err := json.Unmarshal(raw, &existing); err != nil {
			return nil, fmt.Errorf("存储文件损坏 %s: %w", path, err)
		}
		s.data = &existing
		log.Printf("📂 加载历史留痕: %s (%d 个周期)", existing.CompetitionID, len(existing.Cycles))
	}
	return s, nil
}

// Init 为一场新竞赛初始化留痕（覆盖内存中的旧数据）
func (s *Storage) Init(competitionID string, cfg CompetitionConfig, agents []AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var risk map[string]RiskLimits
	for _, a := range agents {
		if a.Risk.unbounded() {
			continue
		}
		if risk == nil {
			risk = make(map[string]RiskLimits)
		}
		risk[a.ID] = a.Risk
	}

	s.data = &CompetitionLog{
		CompetitionID: competitionID,
		CreatedAt:     time.Now(),
		Config:        cfg,
		AgentRisk:     risk,
	}
	return s.persistLocked()
}

// AppendCycle 追加一个周期结果。周期号不连续直接拒绝，
// 保证留痕回放时不会踩到空洞。
func (s *Storage) AppendCycle(cr *CycleResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return fmt.Errorf("storage not initialized")
	}
	expect := 1
	if n := len(s.data.Cycles); n > 0 {
		expect = s.data.Cycles[n-1].Cycle + 1
	}
	if cr.Cycle != expect {
		return fmt.Errorf("周期号不连续: got %d, want %d", cr.Cycle, expect)
	}

	s.data.Cycles = append(s.data.Cycles, cr)
	return s.persistLocked()
}

// History 返回已落盘周期的切片副本（元素共享，按约定只读）
func (s *Storage) History() []*CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return nil
	}
	out := make([]*CycleResult, len(s.data.Cycles))
	copy(out, s.data.Cycles)
	return out
}

// Log 当前留痕快照（回放和导出用）
func (s *Storage) Log() *CompetitionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *Storage) persistLocked() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建存储目录失败: %w", err)
		}
	}

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("写临时文件失败: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("替换存储文件失败: %w", err)
	}
	return nil
}

// Replay 离线回放：用留痕里的快照和决策从零重演整场竞赛，
// 校验每个周期的组合净值与落盘值一致。撮合是确定性的，
// 对不上说明留痕或引擎有问题。
func (cl *CompetitionLog) Replay() error {
	agents := make([]AgentConfig, 0, len(cl.AgentRisk))
	for id, r := range cl.AgentRisk {
		agents = append(agents, AgentConfig{ID: id, Risk: r})
	}
	engine := NewPaperEngine(&cl.Config, agents)

	states := make(map[string]*PortfolioState)
	ensure := func(agentID string) *PortfolioState {
		if st, ok := states[agentID]; ok {
			return st
		}
		st := NewPortfolioState(agentID, cl.Config.StartingCash)
		states[agentID] = st
		return st
	}

	for _, cr := range cl.Cycles {
		for _, oc := range cr.Outcomes {
			st := ensure(oc.AgentID)
			_, next := engine.Apply(st, oc.Decision, cr.Snapshot)
			next = engine.MarkToMarket(next, cr.Snapshot)
			states[oc.AgentID] = next

			if !next.Equity.Equal(oc.Portfolio.Equity) {
				return fmt.Errorf("回放不一致: 周期 %d agent %s 净值 %s != 留痕 %s",
					cr.Cycle, oc.AgentID, next.Equity, oc.Portfolio.Equity)
			}
		}
	}
	return nil
}

// FinalEquity 留痕中每个 Agent 的最终净值（没有周期时为空）
func (cl *CompetitionLog) FinalEquity() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	if len(cl.Cycles) == 0 {
		return out
	}
	last := cl.Cycles[len(cl.Cycles)-1]
	for _, oc := range last.Outcomes {
		out[oc.AgentID] = oc.Portfolio.Equity
	}
	return out
}
