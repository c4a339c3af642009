package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelResponseFullFormat(t *testing.T) {
	response := `<reasoning>
BTC 动量走强，RSI 未超买，小仓位试探。
</reasoning>

<decision>
` + "```json" + `
{"action": "buy", "instrument": "BTCUSDT", "quantity": 0.05, "rationale": "momentum building"}
` + "```" + `
</decision>`

	d, err := parseModelResponse(response, "ai-1", 7)
	require.NoError(t, err)
	assert.Equal(t, "ai-1", d.AgentID)
	assert.Equal(t, 7, d.Cycle)
	assert.Equal(t, ActionBuy, d.Action)
	assert.Equal(t, "BTCUSDT", d.Instrument)
	assert.True(t, d.Quantity.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, "momentum building", d.Rationale)
}

func TestParseModelResponseBareJSON(t *testing.T) {
	// 没有标签、没有代码块，只有裸 JSON
	response := `市场偏弱，选择卖出。 {"action": "sell", "instrument": "ETHUSDT", "quantity": 1.5}`

	d, err := parseModelResponse(response, "ai-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, "ETHUSDT", d.Instrument)
}

func TestParseModelResponseFullwidthPunctuation(t *testing.T) {
	response := `<decision>{"action"： "hold"，"instrument"： ""，"quantity"： 0}</decision>`

	d, err := parseModelResponse(response, "ai-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ActionHold, d.Action)
}

func TestParseModelResponseRationaleFallsBackToReasoning(t *testing.T) {
	response := `<reasoning>波动太大，先观望。</reasoning>
<decision>{"action": "hold", "instrument": "", "quantity": 0}</decision>`

	d, err := parseModelResponse(response, "ai-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "波动太大，先观望。", d.Rationale)
}

func TestParseModelResponseRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"no json":        "I think we should buy some bitcoin!",
		"invalid action": `{"action": "yolo", "instrument": "BTCUSDT", "quantity": 1}`,
		"broken json":    `<decision>{"action": "buy", "instrument": </decision>`,
	}
	for name, response := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseModelResponse(response, "ai-1", 1)
			assert.Error(t, err)
		})
	}
}

func TestParseModelResponseActionCaseInsensitive(t *testing.T) {
	response := `<decision>{"action": "BUY", "instrument": "BTCUSDT", "quantity": 1}</decision>`

	d, err := parseModelResponse(response, "ai-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, d.Action)
}

func TestExtractTagContent(t *testing.T) {
	text := "before <reasoning>多行\n内容</reasoning> after"
	assert.Equal(t, "多行\n内容", extractTagContent(text, "reasoning"))
	assert.Empty(t, extractTagContent(text, "decision"))
}
