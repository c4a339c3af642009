package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider 按脚本逐周期吐快照（测试缺口与时间戳行为）
type scriptedProvider struct {
	snaps []*MarketData
	i     int
}

func (p *scriptedProvider) Next(cycle int) (*MarketData, error) {
	if p.i >= len(p.snaps) {
		return nil, ErrDataFinished
	}
	md := p.snaps[p.i]
	p.i++
	return md, nil
}

func scriptedSnap(ts time.Time, prices map[string]string) *MarketData {
	quotes := make(map[string]Quote, len(prices))
	for inst, p := range prices {
		quotes[inst] = Quote{Price: decimal.RequireFromString(p), Volume: decimal.NewFromInt(100)}
	}
	return &MarketData{SnapshotID: newID("snap"), Timestamp: ts, Quotes: quotes}
}

func TestGuardedProviderForwardFill(t *testing.T) {
	base := time.Unix(1700000000, 0)
	inner := &scriptedProvider{snaps: []*MarketData{
		scriptedSnap(base, map[string]string{"X": "100"}),
		scriptedSnap(base.Add(time.Second), map[string]string{}), // X 缺失
		scriptedSnap(base.Add(2*time.Second), map[string]string{"X": "105"}),
	}}
	g := NewGuardedProvider(inner, []string{"X"}, 5)

	md1, err := g.Next(1)
	require.NoError(t, err)
	assert.False(t, md1.Quotes["X"].Stale)

	md2, err := g.Next(2)
	require.NoError(t, err)
	q := md2.Quotes["X"]
	assert.True(t, q.Stale, "填充价必须显式标记")
	assert.Equal(t, 1, q.GapCycles)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(100)), "填充用上一周期价格")

	// 真实价格回来后标记清除
	md3, err := g.Next(3)
	require.NoError(t, err)
	assert.False(t, md3.Quotes["X"].Stale)
	assert.Zero(t, md3.Quotes["X"].GapCycles)
}

func TestGuardedProviderFatalGap(t *testing.T) {
	base := time.Unix(1700000000, 0)
	snaps := []*MarketData{scriptedSnap(base, map[string]string{"X": "100"})}
	for i := 1; i <= 3; i++ {
		snaps = append(snaps, scriptedSnap(base.Add(time.Duration(i)*time.Second), map[string]string{}))
	}
	g := NewGuardedProvider(&scriptedProvider{snaps: snaps}, []string{"X"}, 2)

	_, err := g.Next(1)
	require.NoError(t, err)

	for cycle := 2; cycle <= 3; cycle++ {
		md, err := g.Next(cycle)
		require.NoError(t, err, "缺口 %d 还在容忍范围内", cycle-1)
		assert.True(t, md.Quotes["X"].Stale)
	}

	_, err = g.Next(4)
	require.ErrorIs(t, err, ErrDataGap, "连续缺口超过上限必须致命")
}

func TestGuardedProviderNoInitialPrice(t *testing.T) {
	inner := &scriptedProvider{snaps: []*MarketData{
		scriptedSnap(time.Unix(1700000000, 0), map[string]string{}),
	}}
	g := NewGuardedProvider(inner, []string{"X"}, 5)

	_, err := g.Next(1)
	require.ErrorIs(t, err, ErrDataGap, "首周期无价无从填充")
}

func TestGuardedProviderMonotonicTimestamps(t *testing.T) {
	same := time.Unix(1700000000, 0)
	inner := &scriptedProvider{snaps: []*MarketData{
		scriptedSnap(same, map[string]string{"X": "100"}),
		scriptedSnap(same, map[string]string{"X": "101"}), // 时间戳没前进
		scriptedSnap(same.Add(-time.Hour), map[string]string{"X": "102"}),
	}}
	g := NewGuardedProvider(inner, []string{"X"}, 5)

	var last time.Time
	for cycle := 1; cycle <= 3; cycle++ {
		md, err := g.Next(cycle)
		require.NoError(t, err)
		assert.True(t, md.Timestamp.After(last), "cycle %d: %s !> %s", cycle, md.Timestamp, last)
		last = md.Timestamp
	}
}

func TestGuardedProviderComputesIndicators(t *testing.T) {
	base := time.Unix(1700000000, 0)
	var snaps []*MarketData
	price := 100.0
	for i := 0; i < 30; i++ {
		price *= 1.01
		snaps = append(snaps, scriptedSnap(base.Add(time.Duration(i)*time.Second),
			map[string]string{"X": decimal.NewFromFloat(price).StringFixed(4)}))
	}
	g := NewGuardedProvider(&scriptedProvider{snaps: snaps}, []string{"X"}, 5)

	var md *MarketData
	var err error
	for cycle := 1; cycle <= 30; cycle++ {
		md, err = g.Next(cycle)
		require.NoError(t, err)
	}

	q := md.Quotes["X"]
	assert.Greater(t, q.EMA20, 0.0)
	assert.Greater(t, q.RSI14, 50.0, "连续上涨 RSI 应偏强")
	assert.Greater(t, q.Momentum, 0.0)
}

func TestSimulatedProviderDeterministic(t *testing.T) {
	insts := []string{"X", "Y"}
	p1 := NewSimulatedProvider(insts, 42)
	p2 := NewSimulatedProvider(insts, 42)

	for cycle := 1; cycle <= 5; cycle++ {
		md1, err := p1.Next(cycle)
		require.NoError(t, err)
		md2, err := p2.Next(cycle)
		require.NoError(t, err)
		for _, inst := range insts {
			assert.True(t, md1.Quotes[inst].Price.Equal(md2.Quotes[inst].Price),
				"种子相同的模拟行情必须可复现 (cycle %d, %s)", cycle, inst)
		}
	}
}

func TestCSVProviderReplay(t *testing.T) {
	dir := t.TempDir()
	csv := "timestamp_ms,open,high,low,close,volume\n" +
		"1700000000000,100,101,99,100.5,1234\n" +
		"1700000060000,100.5,102,100,101.5,2345\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "X.csv"), []byte(csv), 0644))

	p, err := NewCSVProvider(dir, []string{"X"})
	require.NoError(t, err)

	md, err := p.Next(1)
	require.NoError(t, err)
	assert.True(t, md.Quotes["X"].Price.Equal(decimal.RequireFromString("100.5")))

	md, err = p.Next(2)
	require.NoError(t, err)
	assert.True(t, md.Quotes["X"].Price.Equal(decimal.RequireFromString("101.5")))

	_, err = p.Next(3)
	require.ErrorIs(t, err, ErrDataFinished)
}

func TestCSVProviderMissingFile(t *testing.T) {
	_, err := NewCSVProvider(t.TempDir(), []string{"NOPE"})
	assert.Error(t, err)
}
