// bus.go: 转录投影扇出总线 (SSE / WebSocket 订阅者共用)。
package apiserver

import (
	"sync"

	"github.com/multi-agent/agent-shell/internal/transcript"
)

// EventBus 将 Session 的每次渲染推送给所有订阅者。
//
// Publish 从不阻塞: 订阅者缓冲满时丢弃其最旧的一帧再写入最新帧,
// 慢客户端只会跳帧, 不会看到过期的最终状态。
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan transcript.View
	bufSize     int
	closed      bool
	onPublish   func(subscribers, dropped int)
}

var _ transcript.Sink = (*EventBus)(nil)

// NewEventBus 创建总线。onPublish 可为 nil, 用于上报扇出与丢帧计数。
func NewEventBus(bufSize int, onPublish func(subscribers, dropped int)) *EventBus {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &EventBus{
		subscribers: make(map[string]chan transcript.View),
		bufSize:     bufSize,
		onPublish:   onPublish,
	}
}

// Publish 实现 transcript.Sink。
func (b *EventBus) Publish(v transcript.View) {
	b.mu.RLock()
	dropped := 0
	for _, ch := range b.subscribers {
		if !offerLatest(ch, v) {
			dropped++
		}
	}
	n := len(b.subscribers)
	b.mu.RUnlock()

	if b.onPublish != nil {
		b.onPublish(n, dropped)
	}
}

// offerLatest 非阻塞写入; 满时挤掉最旧的一帧。返回 false 表示发生了丢帧。
func offerLatest(ch chan transcript.View, v transcript.View) bool {
	select {
	case ch <- v:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
	return false
}

// Subscribe 订阅。总线已关闭时返回已关闭的通道。
func (b *EventBus) Subscribe(id string) <-chan transcript.View {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan transcript.View, b.bufSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe 取消订阅。不关闭通道, 订阅方通过自身上下文退出。
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// Len 当前订阅者数。
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close 关闭所有订阅通道, 让长连接处理器退出。可重复调用。
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// viewCursor 记录订阅方已送出的最大 Seq。订阅后先发送当前视图,
// 总线缓冲里 Seq 不大于它的帧都已被覆盖, 必须丢弃。
type viewCursor struct {
	seq uint64
}

// advance 在 v 比已送出的帧更新时前移游标并返回 true。
func (c *viewCursor) advance(v transcript.View) bool {
	if v.Seq <= c.seq {
		return false
	}
	c.seq = v.Seq
	return true
}
