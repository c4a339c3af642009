package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// TelegramConfig Telegram 推送配置
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// Notifier 外部通知出口
type Notifier interface {
	Send(text string) error
}

// LogNotifier 没配置 Telegram 时的兜底：打到进程日志
type LogNotifier struct{}

func (LogNotifier) Send(text string) error {
	log.Printf("📢 %s", strings.ReplaceAll(text, "\n", " | "))
	return nil
}

// TelegramNotifier 通过 Bot API 推送消息
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *TelegramNotifier) Send(text string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	body, _ := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    text,
	})

	resp, err := n.client.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("telegram 推送失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram API 返回 %d", resp.StatusCode)
	}
	return nil
}

// NotificationHub 挂在事件总线上，把关键事件翻译成人话推出去。
// 只推状态变化和挂起这类低频事件，周期事件太吵不推。
// 日志通知常开，Telegram 配置了就叠加推送。
type NotificationHub struct {
	notifiers []Notifier
	events    <-chan Event
	cancel    func()
}

func NewNotificationHub(cfg TelegramConfig, b *Broadcaster) *NotificationHub {
	notifiers := []Notifier{LogNotifier{}}
	if cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "" {
		notifiers = append(notifiers, NewTelegramNotifier(cfg))
		log.Println("✅ Telegram 通知已启用")
	}

	events, cancel := b.Subscribe(32)
	return &NotificationHub{notifiers: notifiers, events: events, cancel: cancel}
}

// Run 消费事件直到总线关闭（应在独立协程中调用）
func (h *NotificationHub) Run() {
	for ev := range h.events {
		text := h.format(ev)
		if text == "" {
			continue
		}
		for _, n := range h.notifiers {
			if err := n.Send(text); err != nil {
				log.Printf("⚠️ 通知发送失败: %v", err)
			}
		}
	}
}

func (h *NotificationHub) Stop() { h.cancel() }

func (h *NotificationHub) format(ev Event) string {
	switch ev.Type {
	case EventStatusChanged:
		status, _ := ev.Payload["status"].(string)
		switch CompetitionStatus(status) {
		case StatusRunning:
			return fmt.Sprintf("🏁 竞赛 %s 开始运行", ev.CompetitionID)
		case StatusPaused:
			return fmt.Sprintf("⏸ 竞赛 %s 已暂停 (周期 #%d)", ev.CompetitionID, ev.Cycle)
		case StatusCompleted:
			winner, _ := ev.Payload["winner"].(string)
			return fmt.Sprintf("🏆 竞赛 %s 结束！冠军: %s (共 %d 个周期)", ev.CompetitionID, winner, ev.Cycle)
		case StatusFailed:
			reason, _ := ev.Payload["reason"].(string)
			return fmt.Sprintf("❌ 竞赛 %s 异常终止: %s", ev.CompetitionID, reason)
		}
	case EventAgentSuspended:
		agentID, _ := ev.Payload["agent_id"].(string)
		return fmt.Sprintf("🚫 Agent %s 连续失败已被挂起 (周期 #%d)", agentID, ev.Cycle)
	}
	return ""
}
