package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// BinanceProvider 真实币安现货行情（只读数据源，不做任何交易）。
// 公共行情接口不需要 API Key。
type BinanceProvider struct {
	client      *binance.Client
	instruments []string
}

func NewBinanceProvider(instruments []string, proxyURL string) *BinanceProvider {
	client := binance.NewClient("", "")

	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			log.Printf("Warning: Invalid Proxy URL: %v", err)
		} else {
			client.HTTPClient = &http.Client{
				Transport: &http.Transport{Proxy: http.ProxyURL(proxy)},
			}
			log.Printf("✅ Binance Client using Proxy: %s", proxyURL)
		}
	}

	return &BinanceProvider{
		client:      client,
		instruments: append([]string(nil), instruments...),
	}
}

func (p *BinanceProvider) Next(cycle int) (*MarketData, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	quotes := make(map[string]Quote, len(p.instruments))
	for _, inst := range p.instruments {
		// 取最近一根 1m K 线的收盘价与量；单个标的失败不拖垮整个快照，
		// 缺口由 GuardedProvider 前向填充并记账。
		klines, err := p.client.NewKlinesService().
			Symbol(inst).Interval("1m").Limit(1).Do(ctx)
		if err != nil {
			log.Printf("⚠️ Binance 行情获取失败 %s: %v", inst, err)
			continue
		}
		if len(klines) == 0 {
			continue
		}

		k := klines[len(klines)-1]
		price, err := decimal.NewFromString(k.Close)
		if err != nil {
			log.Printf("⚠️ Binance 价格解析失败 %s: %v", inst, err)
			continue
		}
		volume, _ := decimal.NewFromString(k.Volume)

		quotes[inst] = Quote{Price: price, Volume: volume}
	}

	return &MarketData{
		SnapshotID: newID("snap"),
		Cycle:      cycle,
		Timestamp:  time.Now(),
		Quotes:     quotes,
	}, nil
}
