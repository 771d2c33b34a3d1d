package jobs

import (
	"sync"
)

// MessageBus 按任务 ID 分发新消息，用于实时推送
type MessageBus struct {
	mu         sync.RWMutex
	listeners  map[string]map[uint64]chan *AgentMessage
	seq        uint64
	bufferSize int
}

// NewMessageBus 创建消息总线
func NewMessageBus(bufferSize int) *MessageBus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &MessageBus{
		listeners:  make(map[string]map[uint64]chan *AgentMessage),
		bufferSize: bufferSize,
	}
}

// Publish 非阻塞推送，订阅方处理不过来时丢弃
func (b *MessageBus) Publish(msg *AgentMessage) {
	if b == nil || msg == nil || msg.JobID == "" {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.listeners[msg.JobID] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribe 订阅某任务的消息，返回取消函数
func (b *MessageBus) Subscribe(jobID string) (<-chan *AgentMessage, func()) {
	ch := make(chan *AgentMessage, b.bufferSize)

	b.mu.Lock()
	b.seq++
	id := b.seq
	if _, ok := b.listeners[jobID]; !ok {
		b.listeners[jobID] = make(map[uint64]chan *AgentMessage)
	}
	b.listeners[jobID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(jobID, id) })
	}
}

// Subscribers 某任务当前的订阅数
func (b *MessageBus) Subscribers(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[jobID])
}

func (b *MessageBus) remove(jobID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.listeners[jobID]
	if !ok {
		return
	}
	if ch, ok := subs[id]; ok {
		delete(subs, id)
		close(ch)
	}
	if len(subs) == 0 {
		delete(b.listeners, jobID)
	}
}
