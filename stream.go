package main

import (
	"log"
	"sync"
	"time"
)

// EventType 广播事件类型
type EventType string

const (
	EventStatusChanged  EventType = "status_changed"
	EventCycleCompleted EventType = "cycle_completed"
	EventAgentDecided   EventType = "agent_decided"
	EventAgentSuspended EventType = "agent_suspended"
)

// Event 竞赛过程中对外广播的事件
type Event struct {
	Type          EventType              `json:"type"`
	CompetitionID string                 `json:"competition_id"`
	Cycle         int                    `json:"cycle"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Broadcaster 进程内事件总线：竞赛主循环是生产者，
// WebSocket 推送、通知器、导出器各挂一个订阅通道。
//
// Publish 永不阻塞主循环——订阅者跟不上就丢它的事件
// （慢消费者自己承担丢失，比赛节奏不等人）。
// 唯一例外是终态事件，用 PublishSticky 带超时等待投递。
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe 新建订阅，返回只读事件通道和取消函数
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if buffer <= 0 {
		buffer = 64
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish 非阻塞广播，缓冲满的订阅者直接跳过
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// 丢弃，不拖累生产者
		}
	}
}

// PublishSticky 终态事件投递：给每个订阅者最多等 deadline，
// 尽力保证竞赛结束的消息不被静默吞掉。
func (b *Broadcaster) PublishSticky(ev Event, deadline time.Duration) {
	b.mu.RLock()
	subs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- ev:
		case <-time.After(deadline):
			log.Printf("⚠️ 终态事件投递超时，订阅者未消费: %s", ev.Type)
		}
	}
}

// Close 关闭所有订阅通道，之后的 Publish 都是空操作
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
