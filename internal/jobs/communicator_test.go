package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func TestCommunicatorMessages(t *testing.T) {
	ctx := context.Background()
	c := NewCommunicator(setupJobsDB(t), NewMessageBus(4), zaptest.NewLogger(t))

	direct, err := c.SendMessage(ctx, &SendMessageRequest{
		JobID: "job-1", FromAgent: "worker", ToAgent: "planner",
		MessageType: MessageResponse, Content: "done",
	})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = c.SendMessage(ctx, &SendMessageRequest{
		JobID: "job-1", FromAgent: "worker", MessageType: MessageFeedback, Content: "broadcast",
	})
	require.NoError(t, err)
	_, err = c.SendMessage(ctx, &SendMessageRequest{
		JobID: "job-2", FromAgent: "worker", ToAgent: "someone-else",
		MessageType: MessageRequest, Content: "not for planner",
	})
	require.NoError(t, err)

	msgs, err := c.GetMessages(ctx, "planner", false)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "done", msgs[0].Content)
	assert.Equal(t, "broadcast", msgs[1].Content)

	require.NoError(t, c.MarkAsRead(ctx, direct.ID))
	unread, err := c.GetMessages(ctx, "planner", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "broadcast", unread[0].Content)

	assert.ErrorIs(t, c.MarkAsRead(ctx, "missing"), ErrMessageNotFound)

	byJob, err := c.ListByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, byJob, 2)

	_, err = c.SendMessage(ctx, &SendMessageRequest{JobID: "job-1", FromAgent: "x", MessageType: "chatter"})
	assert.Error(t, err)
}

func TestCommunicatorPublishesToBus(t *testing.T) {
	ctx := context.Background()
	bus := NewMessageBus(4)
	c := NewCommunicator(setupJobsDB(t), bus, zaptest.NewLogger(t))

	ch, cancel := bus.Subscribe("job-1")
	defer cancel()

	c.Notify(ctx, "job-1", "worker", MessageRequest, "starting")
	c.Notify(ctx, "job-2", "worker", MessageRequest, "other job")

	select {
	case msg := <-ch:
		assert.Equal(t, "starting", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("未收到推送")
	}
	select {
	case msg := <-ch:
		t.Fatalf("不应收到其它任务的消息: %+v", msg)
	default:
	}
}

func TestMarkAsReadSurfacesLookupError(t *testing.T) {
	ctx := context.Background()
	db := setupJobsDB(t)
	c := NewCommunicator(db, NewMessageBus(1), zaptest.NewLogger(t))

	lookupErr := errors.New("connection reset")
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("test:fail_query", func(tx *gorm.DB) {
		_ = tx.AddError(lookupErr)
	}))

	err := c.MarkAsRead(ctx, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, lookupErr)
	assert.NotErrorIs(t, err, ErrMessageNotFound)
}

func TestMessageBusCancelClosesChannel(t *testing.T) {
	bus := NewMessageBus(1)
	ch, cancel := bus.Subscribe("job-1")
	assert.Equal(t, 1, bus.Subscribers("job-1"))

	// 缓冲满时丢弃而不是阻塞
	bus.Publish(&AgentMessage{JobID: "job-1", Content: "a"})
	bus.Publish(&AgentMessage{JobID: "job-1", Content: "b"})

	cancel()
	cancel()
	assert.Equal(t, 0, bus.Subscribers("job-1"))

	msg, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "a", msg.Content)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestActivityLogRecord(t *testing.T) {
	ctx := context.Background()
	log := NewActivityLog(setupJobsDB(t), zaptest.NewLogger(t))
	job := &AgentJob{ID: "job-1", OwnerID: "o1", SessionID: "s1"}

	log.Record(ctx, job, EventEnqueued, map[string]any{"approved": false})
	time.Sleep(time.Millisecond)
	log.Record(ctx, job, EventApproved, nil)

	entries, err := log.List(ctx, "o1", "job-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EventEnqueued, entries[0].Event)

	none, err := log.List(ctx, "o2", "", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
