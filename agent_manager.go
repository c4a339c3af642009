package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// AgentRunState Agent 在竞赛中的运行状态
type AgentRunState string

const (
	AgentActive    AgentRunState = "active"
	AgentSuspended AgentRunState = "suspended"
)

// registeredAgent 注册表条目
type registeredAgent struct {
	agent       Agent
	cfg         AgentConfig
	state       AgentRunState
	consecFails int
}

// AgentRun 单个 Agent 在一个周期里的决策产出。
// 失败时 Decision 是打了失败标记的 hold 兜底，竞赛照常推进。
type AgentRun struct {
	AgentID       string
	Decision      *Decision
	FailureReason string
	Elapsed       time.Duration
}

// AgentManager 参赛者注册表 + 每周期的并发决策调度。
//
// 隔离策略：一个 Agent 慢或挂掉不能拖累本周期的其他人——
// 每个 Agent 独立协程、独立超时；超时/出错记为 hold 软失败，
// 连续失败 maxConsecutiveFailures 次则挂起，直到手动恢复。
type AgentManager struct {
	mu     sync.RWMutex
	agents map[string]*registeredAgent

	// runMu 在整个 RunCycle 期间持有：注册/移除/恢复只能发生在周期之间，
	// 周期内的参赛者集合在周期开始时就冻结了。
	runMu sync.Mutex

	timeout                time.Duration
	maxConsecutiveFailures int
	startingCash           decimal.Decimal
	broadcaster            *Broadcaster // 可为 nil（测试）
}

func NewAgentManager(cfg *CompetitionConfig, broadcaster *Broadcaster) *AgentManager {
	return &AgentManager{
		agents:                 make(map[string]*registeredAgent),
		timeout:                time.Duration(cfg.DecisionTimeoutSec) * time.Second,
		maxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		startingCash:           cfg.StartingCash,
		broadcaster:            broadcaster,
	}
}

// Register 注册一个 Agent（只能在周期之间调用）
func (am *AgentManager) Register(agent Agent, cfg AgentConfig) error {
	am.runMu.Lock()
	defer am.runMu.Unlock()
	am.mu.Lock()
	defer am.mu.Unlock()

	if agent.ID() == "" {
		return fmt.Errorf("agent id cannot be empty")
	}
	if _, ok := am.agents[agent.ID()]; ok {
		return fmt.Errorf("agent already registered: %s", agent.ID())
	}

	am.agents[agent.ID()] = &registeredAgent{agent: agent, cfg: cfg, state: AgentActive}
	log.Printf("✅ 注册参赛 Agent: %s (%s / %s)", agent.ID(), agent.Name(), cfg.Kind)
	return nil
}

// Remove 移除一个 Agent（只能在周期之间调用）
func (am *AgentManager) Remove(id string) error {
	am.runMu.Lock()
	defer am.runMu.Unlock()
	am.mu.Lock()
	defer am.mu.Unlock()

	if _, ok := am.agents[id]; !ok {
		return fmt.Errorf("agent not found: %s", id)
	}
	delete(am.agents, id)
	log.Printf("✅ 移除 Agent: %s", id)
	return nil
}

// Reinstate 恢复被挂起的 Agent（只能在周期之间调用）
func (am *AgentManager) Reinstate(id string) error {
	am.runMu.Lock()
	defer am.runMu.Unlock()
	am.mu.Lock()
	defer am.mu.Unlock()

	ra, ok := am.agents[id]
	if !ok {
		return fmt.Errorf("agent not found: %s", id)
	}
	if ra.state != AgentSuspended {
		return fmt.Errorf("agent not suspended: %s", id)
	}
	ra.state = AgentActive
	ra.consecFails = 0
	log.Printf("✅ 恢复 Agent: %s", id)
	return nil
}

// ActiveIDs 当前活跃（未挂起）的 Agent id，升序
func (am *AgentManager) ActiveIDs() []string {
	am.mu.RLock()
	defer am.mu.RUnlock()

	var ids []string
	for id, ra := range am.agents {
		if ra.state == AgentActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// States 所有 Agent 的运行状态快照（web 监控用）
func (am *AgentManager) States() map[string]AgentRunState {
	am.mu.RLock()
	defer am.mu.RUnlock()

	out := make(map[string]AgentRunState, len(am.agents))
	for id, ra := range am.agents {
		out[id] = ra.state
	}
	return out
}

type decideResult struct {
	decision *Decision
	err      error
}

// RunCycle 并发调度本周期全部活跃 Agent 的决策。
// 所有人拿到同一份只读快照；结果按 agent id 升序归一，
// 与各 Agent 的完成先后无关，保证审计日志确定性。
func (am *AgentManager) RunCycle(ctx context.Context, competitionID string, md *MarketData, portfolios map[string]*PortfolioState) []AgentRun {
	am.runMu.Lock()
	defer am.runMu.Unlock()

	// 冻结本周期参赛者集合
	am.mu.RLock()
	active := make([]*registeredAgent, 0, len(am.agents))
	for _, ra := range am.agents {
		if ra.state == AgentActive {
			active = append(active, ra)
		}
	}
	am.mu.RUnlock()

	resultCh := make(chan AgentRun, len(active))
	for _, ra := range active {
		go func(ra *registeredAgent) {
			id := ra.agent.ID()
			mc := &MarketContext{
				CompetitionID: competitionID,
				Cycle:         md.Cycle,
				Snapshot:      md,
				Portfolio:     portfolios[id].Clone(),
				StartingCash:  am.startingCash,
			}

			start := time.Now()
			runCtx, cancel := context.WithTimeout(ctx, am.timeout)
			defer cancel()

			inner := make(chan decideResult, 1)
			go func() {
				d, err := ra.agent.Decide(runCtx, mc)
				inner <- decideResult{d, err}
			}()

			var run AgentRun
			run.AgentID = id
			select {
			case r := <-inner:
				run.Elapsed = time.Since(start)
				switch {
				case r.err != nil:
					run.FailureReason = r.err.Error()
					run.Decision = HoldDecision(id, md.Cycle, "failed: "+r.err.Error())
				case r.decision == nil:
					run.FailureReason = "nil decision"
					run.Decision = HoldDecision(id, md.Cycle, "failed: nil decision")
				default:
					run.Decision = r.decision
				}
			case <-runCtx.Done():
				// 超时：放弃这次调用，迟到的结果直接丢弃
				run.Elapsed = time.Since(start)
				run.FailureReason = "timeout"
				run.Decision = HoldDecision(id, md.Cycle, "failed: decision timeout")
			}

			am.publishProgress(competitionID, md.Cycle, run)
			resultCh <- run
		}(ra)
	}

	runs := make([]AgentRun, 0, len(active))
	for range active {
		runs = append(runs, <-resultCh)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].AgentID < runs[j].AgentID })

	am.applyFailureAccounting(competitionID, md.Cycle, runs)
	return runs
}

// applyFailureAccounting 失败计数与挂起判定（软失败，不踢人）
func (am *AgentManager) applyFailureAccounting(competitionID string, cycle int, runs []AgentRun) {
	am.mu.Lock()
	defer am.mu.Unlock()

	for _, run := range runs {
		ra, ok := am.agents[run.AgentID]
		if !ok {
			continue
		}
		if run.FailureReason == "" {
			ra.consecFails = 0
			continue
		}

		ra.consecFails++
		log.Printf("⚠️ Agent %s 本周期失败 (%s)，连续 %d 次", run.AgentID, run.FailureReason, ra.consecFails)
		if ra.consecFails >= am.maxConsecutiveFailures && ra.state == AgentActive {
			ra.state = AgentSuspended
			log.Printf("🚫 Agent %s 连续失败 %d 次，已挂起（需手动恢复）", run.AgentID, ra.consecFails)
			if am.broadcaster != nil {
				am.broadcaster.Publish(Event{
					Type:          EventAgentSuspended,
					CompetitionID: competitionID,
					Cycle:         cycle,
					Payload: map[string]interface{}{
						"agent_id":      run.AgentID,
						"consec_fails":  ra.consecFails,
						"last_failure":  run.FailureReason,
					},
					Timestamp: time.Now(),
				})
			}
		}
	}
}

func (am *AgentManager) publishProgress(competitionID string, cycle int, run AgentRun) {
	if am.broadcaster == nil {
		return
	}
	payload := map[string]interface{}{
		"agent_id":   run.AgentID,
		"action":     run.Decision.Action,
		"elapsed_ms": run.Elapsed.Milliseconds(),
	}
	if run.FailureReason != "" {
		payload["failure"] = run.FailureReason
	}
	am.broadcaster.Publish(Event{
		Type:          EventAgentDecided,
		CompetitionID: competitionID,
		Cycle:         cycle,
		Payload:       payload,
		Timestamp:     time.Now(),
	})
}
