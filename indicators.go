package main

// 指标计算基于周期收盘价序列（GuardedProvider 维护的滚动窗口）。
// 指标仅供 Agent 参考，不进入资金口径，用 float64 计算即可。

// calculateEMA 计算EMA
func calculateEMA(prices []float64, period int) float64 {
	if len(prices) < period {
		return 0
	}

	// 计算SMA作为初始EMA
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	ema := sum / float64(period)

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
	}

	return ema
}

// calculateRSI 计算RSI (Wilder 平滑)
func calculateRSI(prices []float64, period int) float64 {
	if len(prices) <= period {
		return 0
	}

	gains := 0.0
	losses := 0.0

	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// calculateMomentum 回看 lookback 个周期的涨跌幅（百分比）
func calculateMomentum(prices []float64, lookback int) float64 {
	if lookback <= 0 || len(prices) <= lookback {
		return 0
	}
	prev := prices[len(prices)-1-lookback]
	if prev <= 0 {
		return 0
	}
	curr := prices[len(prices)-1]
	return (curr - prev) / prev * 100
}
