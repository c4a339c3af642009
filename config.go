package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// CompetitionMode 竞赛模式
type CompetitionMode string

const (
	// ModeFixed 固定周期数，跑完即 Completed
	ModeFixed CompetitionMode = "fixed"
	// ModeContinuous 不限周期数，直到外部停止
	ModeContinuous CompetitionMode = "continuous"
)

// RankingMetric 排行榜指标
type RankingMetric string

const (
	MetricEquity RankingMetric = "equity"
	MetricReturn RankingMetric = "return"
	MetricSharpe RankingMetric = "sharpe"
)

// CompetitionConfig 竞赛配置，创建后不可变
type CompetitionConfig struct {
	Instruments  []string        `json:"instruments"`   // 标的全集
	Mode         CompetitionMode `json:"mode"`          // fixed / continuous
	Cycles       int             `json:"cycles"`        // fixed 模式下的周期数
	IntervalSec  int             `json:"interval_sec"`  // 周期间隔（秒），0 = 背靠背快速回放
	StartingCash decimal.Decimal `json:"starting_cash"` // 每个 Agent 的初始资金
	Metric       RankingMetric   `json:"ranking_metric"`
	AllowShort   bool            `json:"allow_short"`

	// Agent 隔离参数
	DecisionTimeoutSec     int `json:"decision_timeout_sec"`     // 单 Agent 决策超时
	MaxConsecutiveFailures int `json:"max_consecutive_failures"` // 连续失败 N 次后挂起

	// 行情容错
	MaxDataGapCycles int `json:"max_data_gap_cycles"` // 连续前向填充超过该周期数则致命

	// 撮合成本（可插拔 FillPolicy 的默认参数）
	FeeRate     decimal.Decimal `json:"fee_rate"`     // 成交额比例手续费，如 0.001
	SlippageBps decimal.Decimal `json:"slippage_bps"` // 滑点（基点）
}

// RuleParams 规则型 Agent 的参数
type RuleParams struct {
	Lookback      int     `json:"lookback,omitempty"`       // 动量回看周期数
	BuyThreshold  float64 `json:"buy_threshold,omitempty"`  // 动量买入阈值（百分比）
	RSILow        float64 `json:"rsi_low,omitempty"`
	RSIHigh       float64 `json:"rsi_high,omitempty"`
	OrderFraction float64 `json:"order_fraction,omitempty"` // 单次下单占可用现金比例
}

// AgentConfig 单个参赛 Agent 的配置，与 Agent 实例一一对应
type AgentConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"` // momentum / meanrev / hold / model

	// 模型型 Agent 参数（OpenAI 兼容接口）
	APIKey string `json:"api_key,omitempty"`
	APIURL string `json:"api_url,omitempty"`
	Model  string `json:"model,omitempty"`

	Rule RuleParams `json:"rule,omitempty"`
	Risk RiskLimits `json:"risk,omitempty"` // 可选的个体风控上限
}

// Config 进程级配置：竞赛 + 参赛者 + 行情源 + 通知。
// 从 config.local.json 读取，密钥类字段可用环境变量兜底。
type Config struct {
	Competition CompetitionConfig `json:"competition"`
	Agents      []AgentConfig     `json:"agents"`

	// 行情源: simulated / csv / binance
	DataSource      string `json:"data_source"`
	DataDir         string `json:"data_dir"`    // csv 模式的数据目录
	RandomSeed      int64  `json:"random_seed"` // simulated 模式的随机种子（可复现）
	BinanceProxyURL string `json:"binance_proxy_url,omitempty"`

	WebPort     int    `json:"web_port"`
	StoragePath string `json:"storage_path"`

	Telegram TelegramConfig `json:"telegram,omitempty"`
}

// DefaultAgentLineup 默认参赛阵容：没有配置 agents 时使用，
// 三个内置规则型 Agent 互相对打。
var DefaultAgentLineup = []AgentConfig{
	{
		ID: "momo", Name: "Momentum Rider", Kind: "momentum",
		Rule: RuleParams{Lookback: 10, BuyThreshold: 0.5, OrderFraction: 0.2},
	},
	{
		ID: "meanrev", Name: "Mean Reverter", Kind: "meanrev",
		Rule: RuleParams{RSILow: 30, RSIHigh: 70, OrderFraction: 0.2},
	},
	{
		ID: "sloth", Name: "Buy & Hold Nothing", Kind: "hold",
	},
}

// LoadConfig 先尝试从 config.local.json 读取；没有该文件则退回到环境变量和默认值
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if data, err := os.ReadFile("config.local.json"); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析 config.local.json 失败: %w", err)
		}
	}

	// 环境变量兜底（只覆盖未填的项）
	if cfg.DataSource == "" {
		cfg.DataSource = os.Getenv("ARENA_DATA_SOURCE")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = os.Getenv("ARENA_DATA_DIR")
	}
	if cfg.WebPort == 0 {
		if v := os.Getenv("ARENA_WEB_PORT"); v != "" {
			if p, err := strconv.Atoi(v); err == nil && p > 0 {
				cfg.WebPort = p
			}
		}
	}
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.Kind == "model" && a.APIKey == "" {
			a.APIKey = os.Getenv("AI_API_KEY")
		}
		if a.Kind == "model" && a.APIURL == "" {
			a.APIURL = os.Getenv("AI_API_URL")
		}
		if a.Kind == "model" && a.Model == "" {
			a.Model = os.Getenv("AI_MODEL")
		}
	}

	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	c := &cfg.Competition
	if len(c.Instruments) == 0 {
		c.Instruments = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "DOGEUSDT"}
	}
	if c.Mode == "" {
		c.Mode = ModeFixed
	}
	if c.Cycles <= 0 && c.Mode == ModeFixed {
		c.Cycles = 100
	}
	if c.IntervalSec < 0 {
		c.IntervalSec = 0
	}
	if c.StartingCash.IsZero() {
		c.StartingCash = decimal.NewFromInt(10000)
	}
	if c.Metric == "" {
		c.Metric = MetricEquity
	}
	if c.DecisionTimeoutSec <= 0 {
		c.DecisionTimeoutSec = 30
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	if c.MaxDataGapCycles <= 0 {
		c.MaxDataGapCycles = 5
	}

	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultAgentLineup
	}
	if cfg.DataSource == "" {
		cfg.DataSource = "simulated"
	}
	if cfg.WebPort <= 0 {
		cfg.WebPort = 8080
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = "data/competition.json"
	}
	if cfg.RandomSeed == 0 {
		cfg.RandomSeed = 42
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Competition.StartingCash.IsNegative() {
		return fmt.Errorf("starting_cash 不能为负: %s", cfg.Competition.StartingCash)
	}
	seen := make(map[string]bool)
	for _, a := range cfg.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent 缺少 id (name=%q)", a.Name)
		}
		if seen[a.ID] {
			return fmt.Errorf("agent id 重复: %s", a.ID)
		}
		seen[a.ID] = true
		switch a.Kind {
		case "momentum", "meanrev", "hold":
		case "model":
			if a.APIKey == "" {
				return fmt.Errorf("model agent %s 需要配置 api_key（config.local.json 或 AI_API_KEY）", a.ID)
			}
		default:
			return fmt.Errorf("未知的 agent kind: %s (%s)", a.Kind, a.ID)
		}
	}
	switch cfg.DataSource {
	case "simulated", "binance":
	case "csv":
		if cfg.DataDir == "" {
			return fmt.Errorf("csv 行情源需要配置 data_dir")
		}
	default:
		return fmt.Errorf("未知的 data_source: %s", cfg.DataSource)
	}
	return nil
}
