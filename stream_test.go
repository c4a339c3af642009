package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	events, cancel := b.Subscribe(1)
	defer cancel()

	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: EventCycleCompleted, Cycle: i + 1})
	}

	// 缓冲只有 1：收到第一条，其余被丢弃，生产者不被阻塞
	ev := <-events
	assert.Equal(t, 1, ev.Cycle)
	select {
	case ev := <-events:
		t.Fatalf("不应再有事件，收到 cycle %d", ev.Cycle)
	default:
	}
}

func TestBroadcasterSubscribeCancel(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	events, cancel := b.Subscribe(4)
	cancel()

	_, ok := <-events
	assert.False(t, ok, "取消订阅后通道应关闭")

	// 取消后的广播不会 panic
	b.Publish(Event{Type: EventCycleCompleted})
	cancel() // 重复取消也安全
}

func TestBroadcasterPublishSticky(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	events, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.PublishSticky(Event{Type: EventStatusChanged}, 100*time.Millisecond)
	}()

	ev := <-events
	assert.Equal(t, EventStatusChanged, ev.Type)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishSticky 没有返回")
	}
}

func TestBroadcasterCloseIsFinal(t *testing.T) {
	b := NewBroadcaster()
	events, _ := b.Subscribe(4)

	b.Close()
	b.Close() // 幂等

	_, ok := <-events
	require.False(t, ok)

	b.Publish(Event{Type: EventCycleCompleted}) // 关闭后为空操作

	ch, _ := b.Subscribe(4)
	_, ok = <-ch
	assert.False(t, ok, "关闭后的订阅立即拿到已关闭通道")
}
