package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
)

var decimalHundred = decimal.NewFromInt(100)

func buildProvider(cfg *Config) (*GuardedProvider, error) {
	var inner MarketDataProvider
	switch cfg.DataSource {
	case "simulated":
		inner = NewSimulatedProvider(cfg.Competition.Instruments, cfg.RandomSeed)
		log.Printf("📈 行情源: 模拟随机游走 (seed=%d)", cfg.RandomSeed)
	case "csv":
		p, err := NewCSVProvider(cfg.DataDir, cfg.Competition.Instruments)
		if err != nil {
			return nil, err
		}
		inner = p
		log.Printf("📈 行情源: CSV 回放 (%s)", cfg.DataDir)
	case "binance":
		inner = NewBinanceProvider(cfg.Competition.Instruments, cfg.BinanceProxyURL)
		log.Printf("📈 行情源: Binance 现货 (只读)")
	default:
		return nil, fmt.Errorf("未知的 data_source: %s", cfg.DataSource)
	}

	return NewGuardedProvider(inner, cfg.Competition.Instruments, cfg.Competition.MaxDataGapCycles), nil
}

func main() {
	fmt.Println("==========================================")
	fmt.Println("    🏟  AI Trading Arena - 多 Agent 模拟交易竞赛")
	fmt.Println("==========================================")

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("❌ 配置加载失败: %v", err)
	}
	log.Printf("✅ 配置加载完成: %d 个 Agent, %d 个标的", len(cfg.Agents), len(cfg.Competition.Instruments))

	provider, err := buildProvider(cfg)
	if err != nil {
		log.Fatalf("❌ 行情源初始化失败: %v", err)
	}

	storage, err := NewStorage(cfg.StoragePath)
	if err != nil {
		log.Fatalf("❌ 存储初始化失败: %v", err)
	}

	broadcaster := NewBroadcaster()
	defer broadcaster.Close()

	comp, err := NewCompetition(&cfg.Competition, cfg.Agents, provider, broadcaster, storage)
	if err != nil {
		log.Fatalf("❌ 竞赛创建失败: %v", err)
	}

	hub := NewNotificationHub(cfg.Telegram, broadcaster)
	go hub.Run()

	web := NewWebServer(comp, storage, broadcaster, cfg.WebPort)
	web.Start()

	// Ctrl+C / SIGTERM → 当前周期结束后优雅收尾
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("🛑 收到退出信号，竞赛将在周期边界停止...")
		comp.Stop()
	}()

	if err := comp.Run(context.Background()); err != nil {
		log.Printf("❌ 竞赛异常结束: %v", err)
	}

	// 赛后导出
	exporter := NewExporter("export")
	if path, err := exporter.ExportLeaderboardCSV(storage.History()); err == nil {
		log.Printf("💾 排行榜历史已导出: %s", path)
	}
	if path, err := exporter.ExportEquityCurvesCSV(comp.Tracker()); err == nil {
		log.Printf("💾 净值曲线已导出: %s", path)
	}
	if cl := storage.Log(); cl != nil {
		if path, err := exporter.ExportFinalJSON(cl); err == nil {
			log.Printf("💾 终榜已导出: %s", path)
		}
	}

	if board := comp.Leaderboard(); len(board) > 0 {
		fmt.Println("\n========== 最终排行榜 ==========")
		for _, e := range board {
			fmt.Printf("  %d. %-12s 净值 %s (收益率 %s%%)\n",
				e.Rank, e.AgentID, e.Equity.StringFixed(2),
				e.CumReturn.Mul(decimalHundred).StringFixed(2))
		}
	}
}
