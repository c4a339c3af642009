package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Competition 竞赛编排器：驱动 行情→决策→撮合→排名→留痕 的周期循环，
// 管理 Created → Running → {Paused ⇄ Running} → Completed / Failed 状态机。
//
// 所有依赖显式注入，不碰全局变量；同一进程可以并存多场竞赛实例。
type Competition struct {
	ID  string
	cfg *CompetitionConfig

	provider    *GuardedProvider
	engine      *PaperEngine
	manager     *AgentManager
	broadcaster *Broadcaster
	storage     *Storage
	tracker     *EquityTracker

	mu         sync.RWMutex
	status     CompetitionStatus
	cycle      int
	portfolios map[string]*PortfolioState
	lastBoard  []LeaderboardEntry
	failReason string

	pauseMu  sync.Mutex
	paused   bool
	resumeCh chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewCompetition(cfg *CompetitionConfig, agentCfgs []AgentConfig, provider *GuardedProvider, broadcaster *Broadcaster, storage *Storage) (*Competition, error) {
	c := &Competition{
		ID:          newID("comp"),
		cfg:         cfg,
		provider:    provider,
		engine:      NewPaperEngine(cfg, agentCfgs),
		manager:     NewAgentManager(cfg, broadcaster),
		broadcaster: broadcaster,
		storage:     storage,
		tracker:     NewEquityTracker(),
		status:      StatusCreated,
		portfolios:  make(map[string]*PortfolioState),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}

	for _, ac := range agentCfgs {
		agent, err := NewAgent(ac)
		if err != nil {
			return nil, err
		}
		if err := c.manager.Register(agent, ac); err != nil {
			return nil, err
		}
		c.portfolios[ac.ID] = NewPortfolioState(ac.ID, cfg.StartingCash)
	}
	if len(c.portfolios) == 0 {
		return nil, fmt.Errorf("竞赛至少需要一个参赛 Agent")
	}

	if storage != nil {
		if err := storage.Init(c.ID, *cfg, agentCfgs); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ===== 状态机 =====

func (c *Competition) Status() CompetitionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Competition) Cycle() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cycle
}

// FailReason 仅在 Failed 状态下非空
func (c *Competition) FailReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failReason
}

// Leaderboard 最近一次完整周期的排行榜副本
func (c *Competition) Leaderboard() []LeaderboardEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]LeaderboardEntry, len(c.lastBoard))
	copy(out, c.lastBoard)
	return out
}

// Portfolios 全部组合状态的深拷贝（web 监控用）
func (c *Competition) Portfolios() map[string]*PortfolioState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*PortfolioState, len(c.portfolios))
	for id, p := range c.portfolios {
		out[id] = p.Clone()
	}
	return out
}

func (c *Competition) Manager() *AgentManager  { return c.manager }
func (c *Competition) Tracker() *EquityTracker { return c.tracker }

func (c *Competition) setStatus(status CompetitionStatus, payload map[string]interface{}) {
	c.mu.Lock()
	c.status = status
	cycle := c.cycle
	if status == StatusFailed {
		if r, ok := payload["reason"].(string); ok {
			c.failReason = r
		}
	}
	c.mu.Unlock()

	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["status"] = string(status)

	ev := Event{
		Type:          EventStatusChanged,
		CompetitionID: c.ID,
		Cycle:         cycle,
		Payload:       payload,
		Timestamp:     time.Now(),
	}
	if status == StatusCompleted || status == StatusFailed {
		// 终态消息尽力送达
		c.broadcaster.PublishSticky(ev, 2*time.Second)
	} else {
		c.broadcaster.Publish(ev)
	}
	log.Printf("📊 竞赛 %s 状态 → %s", c.ID, status)
}

// Pause 请求暂停。周期内正在进行的工作不打断，在下个周期边界生效。
func (c *Competition) Pause() error {
	if st := c.Status(); st != StatusRunning {
		return fmt.Errorf("只有 Running 状态才能暂停，当前 %s", st)
	}
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if c.paused {
		return nil
	}
	c.paused = true
	c.resumeCh = make(chan struct{})
	return nil
}

// Resume 从暂停恢复
func (c *Competition) Resume() error {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if !c.paused {
		return fmt.Errorf("竞赛未处于暂停状态")
	}
	c.paused = false
	close(c.resumeCh)
	return nil
}

// Stop 优雅停止：当前周期跑完后收尾。continuous 模式下是正常结束方式。
func (c *Competition) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Done 竞赛主循环退出后关闭
func (c *Competition) Done() <-chan struct{} { return c.done }

// ===== 主循环 =====

// Run 阻塞运行竞赛直到结束。只能从 Created 状态调用一次。
func (c *Competition) Run(ctx context.Context) error {
	defer close(c.done)

	c.mu.Lock()
	if c.status != StatusCreated {
		st := c.status
		c.mu.Unlock()
		return fmt.Errorf("竞赛已经启动过 (状态 %s)", st)
	}
	c.status = StatusRunning
	c.mu.Unlock()
	c.setStatusEvent(StatusRunning, nil)

	log.Printf("🏁 竞赛 %s 开始: %d 个 Agent, 模式 %s, 标的 %v",
		c.ID, len(c.portfolios), c.cfg.Mode, c.provider.Instruments())

	for {
		// 停止/取消/暂停都在周期边界处理
		select {
		case <-c.stopCh:
			c.finish()
			return nil
		case <-ctx.Done():
			c.finish()
			return ctx.Err()
		default:
		}

		waited, err := c.waitWhilePaused(ctx)
		if err != nil {
			c.finish()
			return err
		}
		if waited {
			// 暂停醒来后回到循环顶部重新检查停止条件
			continue
		}

		c.mu.RLock()
		cycle := c.cycle + 1
		c.mu.RUnlock()

		if c.cfg.Mode == ModeFixed && cycle > c.cfg.Cycles {
			c.finish()
			return nil
		}

		if err := c.runCycle(ctx, cycle); err != nil {
			if errors.Is(err, ErrDataFinished) {
				log.Printf("📪 行情源结束，竞赛收尾 (周期 #%d)", cycle)
				c.finish()
				return nil
			}
			c.setStatus(StatusFailed, map[string]interface{}{"reason": err.Error()})
			return err
		}

		if c.cfg.IntervalSec > 0 {
			select {
			case <-time.After(time.Duration(c.cfg.IntervalSec) * time.Second):
			case <-c.stopCh:
			case <-ctx.Done():
			}
		}
	}
}

// setStatusEvent 只发事件不改字段（字段已在调用方持锁改过）
func (c *Competition) setStatusEvent(status CompetitionStatus, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["status"] = string(status)
	c.broadcaster.Publish(Event{
		Type:          EventStatusChanged,
		CompetitionID: c.ID,
		Cycle:         c.Cycle(),
		Payload:       payload,
		Timestamp:     time.Now(),
	})
	log.Printf("📊 竞赛 %s 状态 → %s", c.ID, status)
}

func (c *Competition) waitWhilePaused(ctx context.Context) (bool, error) {
	c.pauseMu.Lock()
	paused := c.paused
	resumeCh := c.resumeCh
	c.pauseMu.Unlock()

	if !paused {
		return false, nil
	}

	c.setStatus(StatusPaused, nil)
	select {
	case <-resumeCh:
		c.setStatus(StatusRunning, nil)
		return true, nil
	case <-c.stopCh:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// runCycle 一个完整周期：快照 → 并发决策 → 顺序撮合 → 全员重估 → 排名 → 留痕
func (c *Competition) runCycle(ctx context.Context, cycle int) error {
	md, err := c.provider.Next(cycle)
	if err != nil {
		return err
	}

	c.mu.RLock()
	snapshot := make(map[string]*PortfolioState, len(c.portfolios))
	for id, p := range c.portfolios {
		snapshot[id] = p
	}
	c.mu.RUnlock()

	runs := c.manager.RunCycle(ctx, c.ID, md, snapshot)

	// 决策按 agent id 升序逐条撮合；挂起的 Agent 本周期视为 hold
	outcomes := make([]AgentOutcome, 0, len(snapshot))
	next := make(map[string]*PortfolioState, len(snapshot))
	ran := make(map[string]bool, len(runs))

	for _, run := range runs {
		ran[run.AgentID] = true
		state := snapshot[run.AgentID]

		result, after := c.engine.Apply(state, run.Decision, md)
		after = c.engine.MarkToMarket(after, md)
		next[run.AgentID] = after

		if result.Status == TradeRejected {
			log.Printf("⚠️ 拒单 %s: %s %s x%s (%s)", run.AgentID,
				run.Decision.Action, run.Decision.Instrument, run.Decision.Quantity, result.RejectReason)
		}

		outcomes = append(outcomes, AgentOutcome{
			AgentID:       run.AgentID,
			Decision:      run.Decision,
			FailureReason: run.FailureReason,
			Result:        result,
			Portfolio:     after,
			ElapsedMs:     run.Elapsed.Milliseconds(),
		})
	}

	// 挂起的 Agent 不参与决策，但组合照常重估、照常上榜
	for _, id := range sortedPortfolioIDs(snapshot) {
		if ran[id] {
			continue
		}
		hold := HoldDecision(id, cycle, "suspended")
		result, after := c.engine.Apply(snapshot[id], hold, md)
		after = c.engine.MarkToMarket(after, md)
		next[id] = after
		outcomes = append(outcomes, AgentOutcome{
			AgentID:       id,
			Decision:      hold,
			FailureReason: "suspended",
			Result:        result,
			Portfolio:     after,
			ElapsedMs:     0,
		})
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].AgentID < outcomes[j].AgentID })

	for id, p := range next {
		c.tracker.Record(id, p.Equity)
	}
	board := ComputeLeaderboard(next, c.cfg.StartingCash, c.cfg.Metric, c.tracker, cycle)

	cr := &CycleResult{
		ID:            newID("cyc"),
		CompetitionID: c.ID,
		Cycle:         cycle,
		Timestamp:     md.Timestamp,
		Snapshot:      md,
		Outcomes:      outcomes,
		Leaderboard:   board,
	}
	if c.storage != nil {
		if err := c.storage.AppendCycle(cr); err != nil {
			return fmt.Errorf("留痕失败: %w", err)
		}
	}

	c.mu.Lock()
	c.cycle = cycle
	c.portfolios = next
	c.lastBoard = board
	c.mu.Unlock()

	c.broadcaster.Publish(Event{
		Type:          EventCycleCompleted,
		CompetitionID: c.ID,
		Cycle:         cycle,
		Payload: map[string]interface{}{
			"leaderboard": board,
			"timestamp":   md.Timestamp,
		},
		Timestamp: time.Now(),
	})

	if len(board) > 0 {
		log.Printf("📊 周期 #%d 完成 | 🥇 %s (净值 %s)", cycle, board[0].AgentID, board[0].Equity.StringFixed(2))
	}
	return nil
}

func (c *Competition) finish() {
	payload := map[string]interface{}{}
	if board := c.Leaderboard(); len(board) > 0 {
		payload["winner"] = board[0].AgentID
	}
	c.setStatus(StatusCompleted, payload)
}

func sortedPortfolioIDs(m map[string]*PortfolioState) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
