package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
)

// ModelAgent 模型驱动的参赛者：把行情上下文拼成 Prompt，
// 调用 OpenAI 兼容接口，从回复里解析出结构化决策。
// 编排器不关心这里面的细节，只消费 Agent 契约。
type ModelAgent struct {
	id     string
	name   string
	apiKey string
	apiURL string
	model  string
	client *http.Client

	maxAttempts int
}

func NewModelAgent(cfg AgentConfig) *ModelAgent {
	return &ModelAgent{
		id:     cfg.ID,
		name:   cfg.Name,
		apiKey: cfg.APIKey,
		apiURL: cfg.APIURL,
		model:  cfg.Model,
		client: &http.Client{Timeout: 60 * time.Second},

		maxAttempts: 3,
	}
}

func (a *ModelAgent) ID() string   { return a.id }
func (a *ModelAgent) Name() string { return a.name }

// Decide 调用模型获取决策。瞬时失败（网络/超时/5xx）在超时预算内
// 按指数退避重试；输出无法解析则立刻以 malformed 失败，不再浪费预算。
func (a *ModelAgent) Decide(ctx context.Context, mc *MarketContext) (*Decision, error) {
	systemPrompt := buildSystemPrompt(mc)
	userPrompt := buildUserPrompt(mc)

	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true}

	var lastErr error
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return nil, &DecisionError{Kind: DecisionTransient, Reason: "timeout", Err: ctx.Err()}
			}
		}

		response, err := a.callModel(ctx, systemPrompt, userPrompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &DecisionError{Kind: DecisionTransient, Reason: "timeout", Err: ctx.Err()}
			}
			lastErr = err
			continue
		}

		d, err := parseModelResponse(response, a.id, mc.Cycle)
		if err != nil {
			// 输出格式坏了，重试也大概率还是坏的
			return nil, &DecisionError{Kind: DecisionMalformed, Reason: "unparseable model output", Err: err}
		}
		return d, nil
	}

	return nil, &DecisionError{Kind: DecisionTransient, Reason: "model call failed", Err: lastErr}
}

func buildSystemPrompt(mc *MarketContext) string {
	var sb strings.Builder
	sb.WriteString("你是参加模拟交易竞赛的交易AI。每个周期你会收到行情快照和自己的账户状态，")
	sb.WriteString("输出一条交易决策。\n\n")

	sb.WriteString("# 规则\n")
	sb.WriteString("1. 这是纸面交易：现金不足的买单、超出持仓的卖单会被直接拒绝\n")
	sb.WriteString("2. 每个周期只能给一条决策：buy / sell / hold\n")
	sb.WriteString("3. quantity 必须为正数，标的必须在给出的行情列表里\n\n")

	sb.WriteString("# 输出格式 (严格遵守)\n")
	sb.WriteString("**必须使用XML标签 <reasoning> 和 <decision> 分隔思维链和决策JSON**\n\n")
	sb.WriteString("<reasoning>\n你的分析过程...\n</reasoning>\n\n")
	sb.WriteString("<decision>\n```json\n")
	sb.WriteString(`{"action": "buy", "instrument": "BTCUSDT", "quantity": 0.05, "rationale": "..."}`)
	sb.WriteString("\n```\n</decision>\n")

	return sb.String()
}

func buildUserPrompt(mc *MarketContext) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("周期: #%d | 时间: %s\n\n",
		mc.Cycle, mc.Snapshot.Timestamp.Format("2006-01-02 15:04:05")))

	p := mc.Portfolio
	sb.WriteString(fmt.Sprintf("账户: 净值 %s | 现金 %s | 已实现盈亏 %s\n\n",
		p.Equity.StringFixed(2), p.Cash.StringFixed(2), p.RealizedPnL.StringFixed(2)))

	if len(p.Positions) > 0 {
		sb.WriteString("## 当前持仓\n")
		insts := make([]string, 0, len(p.Positions))
		for inst := range p.Positions {
			insts = append(insts, inst)
		}
		sort.Strings(insts)
		for _, inst := range insts {
			pos := p.Positions[inst]
			sb.WriteString(fmt.Sprintf("%s: %s @ %s | 现价 %s | 浮动盈亏 %s\n",
				inst, pos.Quantity.String(), pos.AvgEntryPrice.StringFixed(4),
				pos.MarkPrice.StringFixed(4), pos.UnrealizedPnL.StringFixed(2)))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("当前持仓: 无\n\n")
	}

	sb.WriteString("## 行情快照\n")
	for _, inst := range sortedInstruments(mc.Snapshot) {
		q := mc.Snapshot.Quotes[inst]
		sb.WriteString(fmt.Sprintf("%s: price=%s volume=%s ema20=%.3f rsi14=%.1f momentum=%+.2f%%",
			inst, q.Price.String(), q.Volume.String(), q.EMA20, q.RSI14, q.Momentum))
		if q.Stale {
			sb.WriteString(fmt.Sprintf(" [STALE x%d]", q.GapCycles))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n---\n请分析并输出决策。\n")
	return sb.String()
}

func (a *ModelAgent) callModel(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	requestBody, _ := json.Marshal(map[string]interface{}{
		"model": a.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature": 0.1,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("API Error (%d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}

	return result.Choices[0].Message.Content, nil
}

var reJSONBlock = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// parseModelResponse 从模型回复里抠出决策 JSON。
// 解析失败一律视为 malformed，由调用方包装 DecisionError。
func parseModelResponse(response, agentID string, cycle int) (*Decision, error) {
	reasoning := extractTagContent(response, "reasoning")

	decisionContent := extractTagContent(response, "decision")
	if decisionContent == "" {
		decisionContent = response // Fallback
	}

	var jsonStr string
	if match := reJSONBlock.FindStringSubmatch(decisionContent); len(match) > 1 {
		jsonStr = match[1]
	} else {
		// 尝试直接找 {}
		start := strings.Index(decisionContent, "{")
		end := strings.LastIndex(decisionContent, "}")
		if start != -1 && end > start {
			jsonStr = decisionContent[start : end+1]
		}
	}
	if jsonStr == "" {
		return nil, fmt.Errorf("no decision JSON found")
	}

	// 全角转半角修复
	jsonStr = strings.ReplaceAll(jsonStr, "，", ",")
	jsonStr = strings.ReplaceAll(jsonStr, "：", ":")

	var raw struct {
		Action     string          `json:"action"`
		Instrument string          `json:"instrument"`
		Quantity   decimal.Decimal `json:"quantity"`
		Rationale  string          `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal decision: %w", err)
	}

	action := ActionType(strings.ToLower(strings.TrimSpace(raw.Action)))
	switch action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return nil, fmt.Errorf("invalid action %q", raw.Action)
	}

	rationale := raw.Rationale
	if rationale == "" {
		rationale = strings.TrimSpace(reasoning)
	}

	return &Decision{
		ID:         newID("dec"),
		AgentID:    agentID,
		Cycle:      cycle,
		Action:     action,
		Instrument: raw.Instrument,
		Quantity:   raw.Quantity,
		Rationale:  rationale,
		Timestamp:  time.Now(),
	}, nil
}

func extractTagContent(text, tag string) string {
	re := regexp.MustCompile(fmt.Sprintf("(?s)<%s>(.*?)</%s>", tag, tag))
	match := re.FindStringSubmatch(text)
	if len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}
