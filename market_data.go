package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// MarketDataProvider 行情提供方：每个周期产出一份新的快照。
// 固定周期竞赛下序列有限（走完返回 ErrDataFinished），
// continuous 模式下概念上无限。
type MarketDataProvider interface {
	Next(cycle int) (*MarketData, error)
}

// ===== 模拟行情（随机游走） =====

// SimulatedProvider 用带种子的随机游走生成行情，种子固定时可复现
type SimulatedProvider struct {
	instruments []string
	prices      map[string]float64
	rng         *rand.Rand
	now         time.Time
	step        time.Duration
}

// NewSimulatedProvider 创建模拟行情源。初始价按标的名哈希散开，避免全部从同一价位起步。
func NewSimulatedProvider(instruments []string, seed int64) *SimulatedProvider {
	p := &SimulatedProvider{
		instruments: append([]string(nil), instruments...),
		prices:      make(map[string]float64),
		rng:         rand.New(rand.NewSource(seed)),
		now:         time.Now().Truncate(time.Second),
		step:        time.Second,
	}
	for i, inst := range p.instruments {
		p.prices[inst] = 100.0 * float64(i+1)
	}
	return p
}

func (p *SimulatedProvider) Next(cycle int) (*MarketData, error) {
	p.now = p.now.Add(p.step)

	quotes := make(map[string]Quote, len(p.instruments))
	for _, inst := range p.instruments {
		// 随机游走: ±0.5%
		drift := (p.rng.Float64() - 0.5) * 0.01
		p.prices[inst] *= 1 + drift

		quotes[inst] = Quote{
			Price:  decimal.NewFromFloat(p.prices[inst]).Round(8),
			Volume: decimal.NewFromFloat(1000 + p.rng.Float64()*9000).Round(2),
		}
	}

	return &MarketData{
		SnapshotID: newID("snap"),
		Cycle:      cycle,
		Timestamp:  p.now,
		Quotes:     quotes,
	}, nil
}

// ===== CSV 历史行情（快速回放模式） =====

// CSVProvider 从本地 CSV 读取历史 K 线按周期回放。
// dataDir 下期望存在 <INSTRUMENT>.csv，每行:
// timestamp_ms,open,high,low,close,volume（表头自动跳过）。
// 各标的序列长度以最短为准。
type CSVProvider struct {
	instruments []string
	rows        map[string][]csvBar
	step        int
	maxStep     int
}

type csvBar struct {
	ts     int64
	close_ float64
	volume float64
}

func NewCSVProvider(dataDir string, instruments []string) (*CSVProvider, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("dataDir is empty")
	}

	p := &CSVProvider{
		instruments: append([]string(nil), instruments...),
		rows:        make(map[string][]csvBar),
	}

	minLen := -1
	for _, inst := range instruments {
		path := filepath.Join(dataDir, fmt.Sprintf("%s.csv", inst))
		bars, err := loadBarsFromCSV(path)
		if err != nil {
			return nil, fmt.Errorf("load %s failed: %w", filepath.Base(path), err)
		}
		if len(bars) == 0 {
			return nil, fmt.Errorf("no bars loaded for %s", inst)
		}
		p.rows[inst] = bars
		if minLen == -1 || len(bars) < minLen {
			minLen = len(bars)
		}
	}

	if minLen <= 1 {
		return nil, fmt.Errorf("not enough data (minLen=%d)", minLen)
	}
	p.maxStep = minLen
	return p, nil
}

func loadBarsFromCSV(path string) ([]csvBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var bars []csvBar
	lineNum := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv %s line %d: %w", path, lineNum+1, err)
		}
		lineNum++

		// 跳过可能存在的表头
		if lineNum == 1 {
			if _, convErr := strconv.ParseInt(rec[0], 10, 64); convErr != nil {
				continue
			}
		}
		if len(rec) < 6 {
			continue
		}

		ts, _ := strconv.ParseInt(rec[0], 10, 64)
		closePrice, _ := strconv.ParseFloat(rec[4], 64)
		vol, _ := strconv.ParseFloat(rec[5], 64)
		bars = append(bars, csvBar{ts: ts, close_: closePrice, volume: vol})
	}
	return bars, nil
}

func (p *CSVProvider) Next(cycle int) (*MarketData, error) {
	if p.step >= p.maxStep {
		return nil, ErrDataFinished
	}

	quotes := make(map[string]Quote, len(p.instruments))
	var ts int64
	for _, inst := range p.instruments {
		bar := p.rows[inst][p.step]
		if bar.ts > ts {
			ts = bar.ts
		}
		quotes[inst] = Quote{
			Price:  decimal.NewFromFloat(bar.close_),
			Volume: decimal.NewFromFloat(bar.volume),
		}
	}
	p.step++

	return &MarketData{
		SnapshotID: newID("snap"),
		Cycle:      cycle,
		Timestamp:  time.UnixMilli(ts),
		Quotes:     quotes,
	}, nil
}

// ===== 行情守卫 =====

// GuardedProvider 包装任意 Provider，统一兜底三件事：
//  1. 时间戳跨周期严格递增（不合规的快照被原地修正）
//  2. 全集里每个标的每个快照都有价：缺失 tick 用上一周期价格前向填充，
//     并显式打上 Stale 标记——绝不静默编造价格
//  3. 同一标的连续填充超过 maxGapCycles 个周期 → 返回 ErrDataGap（致命）
//
// 同时在这里维护每个标的的收盘价滚动窗口并计算派生指标。
type GuardedProvider struct {
	inner        MarketDataProvider
	instruments  []string
	maxGapCycles int

	lastQuotes map[string]Quote
	lastTs     time.Time
	windows    map[string][]float64
	windowSize int
}

func NewGuardedProvider(inner MarketDataProvider, instruments []string, maxGapCycles int) *GuardedProvider {
	if maxGapCycles <= 0 {
		maxGapCycles = 5
	}
	return &GuardedProvider{
		inner:        inner,
		instruments:  append([]string(nil), instruments...),
		maxGapCycles: maxGapCycles,
		lastQuotes:   make(map[string]Quote),
		windows:      make(map[string][]float64),
		windowSize:   60,
	}
}

func (g *GuardedProvider) Next(cycle int) (*MarketData, error) {
	md, err := g.inner.Next(cycle)
	if err != nil {
		return nil, err
	}

	// 时间戳必须严格递增
	if !md.Timestamp.After(g.lastTs) {
		md.Timestamp = g.lastTs.Add(time.Millisecond)
	}
	g.lastTs = md.Timestamp

	for _, inst := range g.instruments {
		q, ok := md.Quotes[inst]
		if !ok || q.Price.IsZero() || q.Price.IsNegative() {
			prev, hasPrev := g.lastQuotes[inst]
			if !hasPrev {
				// 首个周期就没有价格，没有可填充的来源
				return nil, fmt.Errorf("%w: %s 无初始价格 (cycle %d)", ErrDataGap, inst, cycle)
			}
			q = Quote{
				Price:     prev.Price,
				Volume:    decimal.Zero,
				Stale:     true,
				GapCycles: prev.GapCycles + 1,
			}
			if q.GapCycles > g.maxGapCycles {
				return nil, fmt.Errorf("%w: %s 连续 %d 个周期无真实价格 (上限 %d)",
					ErrDataGap, inst, q.GapCycles, g.maxGapCycles)
			}
			log.Printf("⚠️ 行情缺口: %s cycle %d 前向填充 (连续 %d)", inst, cycle, q.GapCycles)
		}

		// 滚动窗口 + 派生指标
		w := append(g.windows[inst], q.Price.InexactFloat64())
		if len(w) > g.windowSize {
			w = w[len(w)-g.windowSize:]
		}
		g.windows[inst] = w

		q.EMA20 = calculateEMA(w, 20)
		q.RSI14 = calculateRSI(w, 14)
		q.Momentum = calculateMomentum(w, min(10, len(w)-1))

		md.Quotes[inst] = q
		g.lastQuotes[inst] = q
	}

	md.Cycle = cycle
	return md, nil
}

// Instruments 返回配置的标的全集（排序副本）
func (g *GuardedProvider) Instruments() []string {
	out := append([]string(nil), g.instruments...)
	sort.Strings(out)
	return out
}
