package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"agentdesk/pkg/aiinterface"

	"github.com/redis/go-redis/v9"
)

// HistoryEntry 会话中的一轮发言
type HistoryEntry struct {
	Role            string         `json:"role"` // user, assistant
	Content         string         `json:"content"`
	ApprovalRequest bool           `json:"approvalRequest,omitempty"` // 助手在请求批准
	Plan            map[string]any `json:"plan,omitempty"`            // 请求批准时的任务载荷
	JobID           string         `json:"jobId,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// HistoryStore 会话历史
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, entries ...HistoryEntry) error
	Recent(ctx context.Context, sessionID string, limit int) ([]HistoryEntry, error)
}

// toMessages 转为模型消息
func toMessages(entries []HistoryEntry) []aiinterface.Message {
	out := make([]aiinterface.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, aiinterface.Message{Role: e.Role, Content: e.Content})
	}
	return out
}

// MemoryHistory 内存会话历史，每个会话最多保留 max 条
type MemoryHistory struct {
	mu       sync.RWMutex
	sessions map[string][]HistoryEntry
	max      int
}

// NewMemoryHistory 创建内存历史
func NewMemoryHistory(max int) *MemoryHistory {
	if max <= 0 {
		max = 200
	}
	return &MemoryHistory{sessions: make(map[string][]HistoryEntry), max: max}
}

func (h *MemoryHistory) Append(_ context.Context, sessionID string, entries ...HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.sessions[sessionID], entries...)
	if len(list) > h.max {
		list = append([]HistoryEntry(nil), list[len(list)-h.max:]...)
	}
	h.sessions[sessionID] = list
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, sessionID string, limit int) ([]HistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := h.sessions[sessionID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]HistoryEntry(nil), list...), nil
}

// RedisHistory Redis 列表实现，键为 chat:history:<session>
type RedisHistory struct {
	client *redis.Client
	ttl    time.Duration
	max    int64
}

// NewRedisHistory 创建 Redis 历史
func NewRedisHistory(client *redis.Client, ttl time.Duration, max int) *RedisHistory {
	if max <= 0 {
		max = 200
	}
	return &RedisHistory{client: client, ttl: ttl, max: int64(max)}
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("chat:history:%s", sessionID)
}

func (h *RedisHistory) Append(ctx context.Context, sessionID string, entries ...HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]any, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		values = append(values, data)
	}

	key := historyKey(sessionID)
	pipe := h.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, -h.max, -1)
	if h.ttl > 0 {
		pipe.Expire(ctx, key, h.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入会话历史失败: %w", err)
	}
	return nil
}

func (h *RedisHistory) Recent(ctx context.Context, sessionID string, limit int) ([]HistoryEntry, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := h.client.LRange(ctx, historyKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取会话历史失败: %w", err)
	}
	out := make([]HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
