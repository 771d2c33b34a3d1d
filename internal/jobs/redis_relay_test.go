package jobs

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type capturingRelay struct {
	mu   sync.Mutex
	msgs []*AgentMessage
}

func (r *capturingRelay) Publish(_ context.Context, msg *AgentMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func envelope(t *testing.T, origin string, msg *AgentMessage) string {
	t.Helper()
	data, err := json.Marshal(relayEnvelope{Origin: origin, Message: msg})
	require.NoError(t, err)
	return string(data)
}

func TestRedisRelayDeliverFiltersEchoAndMismatch(t *testing.T) {
	bus := NewMessageBus(4)
	relay := NewRedisRelay(nil, bus, zaptest.NewLogger(t))
	ch, cancel := bus.Subscribe("job-1")
	defer cancel()

	relay.deliver(relayChannel("job-1"), envelope(t, relay.origin, &AgentMessage{ID: "m0", JobID: "job-1"}))
	relay.deliver(relayChannel("job-2"), envelope(t, "other", &AgentMessage{ID: "m1", JobID: "job-1"}))
	relay.deliver(relayChannel("job-1"), "{not json")
	relay.deliver(relayChannel("job-1"), envelope(t, "other", &AgentMessage{ID: "m2", JobID: "job-1", Content: "远端"}))

	select {
	case msg := <-ch:
		assert.Equal(t, "m2", msg.ID)
		assert.Equal(t, "远端", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("未收到转发的消息")
	}
	select {
	case msg := <-ch:
		t.Fatalf("不应收到多余消息: %s", msg.ID)
	default:
	}
}

func TestCommunicatorForwardsToRelay(t *testing.T) {
	ctx := context.Background()
	c := NewCommunicator(setupJobsDB(t), NewMessageBus(4), zaptest.NewLogger(t))
	relay := &capturingRelay{}
	c.SetRelay(relay)

	msg, err := c.SendMessage(ctx, &SendMessageRequest{
		JobID: "job-1", FromAgent: "worker-1", MessageType: MessageResponse, Content: "完成",
	})
	require.NoError(t, err)

	require.Len(t, relay.msgs, 1)
	assert.Equal(t, msg.ID, relay.msgs[0].ID)
}

func TestRedisRelayAcrossProcesses(t *testing.T) {
	addr := os.Getenv("AGENTDESK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("未设置 AGENTDESK_TEST_REDIS_ADDR，跳过 Redis 测试")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	// serve 侧订阅，worker 侧发布
	serveBus := NewMessageBus(4)
	serveRelay := NewRedisRelay(client, serveBus, zaptest.NewLogger(t))
	workerRelay := NewRedisRelay(client, NewMessageBus(4), zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- serveRelay.Run(ctx) }()

	jobID := "relay-" + time.Now().Format("150405.000000")
	ch, unsubscribe := serveBus.Subscribe(jobID)
	defer unsubscribe()

	var got *AgentMessage
	require.Eventually(t, func() bool {
		_ = workerRelay.Publish(ctx, &AgentMessage{ID: "m1", JobID: jobID, Content: "跨进程"})
		select {
		case got = <-ch:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "跨进程", got.Content)

	cancel()
	require.NoError(t, <-done)
}
