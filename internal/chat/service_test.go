package chat

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"agentdesk/internal/jobs"
	"agentdesk/internal/tools"
	"agentdesk/internal/tools/builtin"
	"agentdesk/internal/workflow"
	"agentdesk/internal/workflow/executor"
	"agentdesk/internal/workspace"
	"agentdesk/pkg/aiinterface"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fakePipeline struct {
	calls []*aiinterface.PipelineRequest
	resp  *aiinterface.PipelineResponse
	err   error
}

func (f *fakePipeline) Complete(_ context.Context, req *aiinterface.PipelineRequest) (*aiinterface.PipelineResponse, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fixture struct {
	svc      *Service
	ws       *workspace.Service
	jobs     *jobs.Store
	pipeline *fakePipeline
	history  *MemoryHistory
}

func setupChat(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:chat_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	models := append(jobs.Models(), &workspace.Item{}, &workflow.Definition{}, &workflow.IntentRule{})
	require.NoError(t, db.AutoMigrate(models...))
	t.Cleanup(func() { _ = sqlDB.Close() })

	log := zaptest.NewLogger(t)
	ws := workspace.NewService(db, workspace.NewMemoryStorage(), log)
	registry := tools.NewRegistry()
	require.NoError(t, builtin.RegisterAll(registry, ws, 10*time.Minute))
	dispatcher := tools.NewDispatcher(registry, nil, log)

	catalog, err := workflow.LoadDefaults()
	require.NoError(t, err)

	store := jobs.NewStore(db, nil, log)
	pipeline := &fakePipeline{resp: &aiinterface.PipelineResponse{Text: "你好"}}
	history := NewMemoryHistory(0)

	svc := NewService(Deps{
		Pipeline:  pipeline,
		Workflows: workflow.NewRepository(db, catalog),
		Executor:  executor.New(dispatcher, ws, executor.Config{FolderPrefix: "Receipts"}, log),
		Actions:   registry,
		Jobs:      store,
		Activity:  jobs.NewActivityLog(db, log),
		History:   history,
	}, Config{SystemInstruction: "You organize files.", MaxIterations: 3}, log)

	return &fixture{svc: svc, ws: ws, jobs: store, pipeline: pipeline, history: history}
}

func (f *fixture) upload(t *testing.T, name string) *workspace.Item {
	t.Helper()
	item, err := f.ws.CreateFile(context.Background(), &workspace.CreateFileRequest{
		OwnerID: "o1", Name: name, MimeType: "image/png", Content: []byte("img"),
	})
	require.NoError(t, err)
	return item
}

func TestHandleTurnRejectsEmptyText(t *testing.T) {
	f := setupChat(t)
	_, err := f.svc.HandleTurn(context.Background(), &Turn{OwnerID: "o1", SessionID: "s1", Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyTurn)
}

func TestHandleTurnRunsMatchedWorkflow(t *testing.T) {
	ctx := context.Background()
	f := setupChat(t)
	a := f.upload(t, "a.png")

	reply, err := f.svc.HandleTurn(ctx, &Turn{
		OwnerID:       "o1",
		SessionID:     "s1",
		Text:          "receipt report for march",
		AttachmentIDs: []string{a.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, ReplyWorkflow, reply.Kind)
	require.NotNil(t, reply.Run)
	assert.True(t, reply.Run.Success, reply.Text)
	assert.Equal(t, "receipt report", reply.Workflow)
	assert.Empty(t, f.pipeline.calls, "命中工作流时不应调用对话管线")

	moved, err := f.ws.Get(ctx, "o1", a.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.ParentID)

	entries, err := f.history.Recent(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "assistant", entries[1].Role)
}

func TestHandleTurnManualAutonomyRequestsApproval(t *testing.T) {
	ctx := context.Background()
	f := setupChat(t)
	f.pipeline.resp = &aiinterface.PipelineResponse{
		Text: "我来建一个文件夹。",
		ProposedActions: []aiinterface.ProposedAction{
			{Name: tools.ActionCreateFolder, Args: map[string]any{"name": "Taxes"}},
		},
	}

	reply, err := f.svc.HandleTurn(ctx, &Turn{OwnerID: "o1", SessionID: "s1", Text: "sort out my tax papers"})
	require.NoError(t, err)
	assert.Equal(t, ReplyApprovalRequest, reply.Kind)
	require.NotNil(t, reply.Job)
	assert.False(t, reply.Job.Approved)
	assert.Equal(t, 0, reply.Job.Iteration)
	assert.Contains(t, reply.Text, tools.ActionCreateFolder)

	require.Len(t, f.pipeline.calls, 1)
	assert.False(t, f.pipeline.calls[0].ExecutionAllowed)
	assert.NotEmpty(t, f.pipeline.calls[0].Actions)

	// 批准口令批准最新的待审批任务
	reply, err = f.svc.HandleTurn(ctx, &Turn{OwnerID: "o1", SessionID: "s1", Text: "OK, go"})
	require.NoError(t, err)
	assert.Equal(t, ReplyApproved, reply.Kind)
	require.NotNil(t, reply.Job)
	assert.True(t, reply.Job.Approved)
	assert.Len(t, f.pipeline.calls, 1)
}

func TestHandleTurnReplaysPlanWhenNoPendingJob(t *testing.T) {
	ctx := context.Background()
	f := setupChat(t)
	f.pipeline.resp = &aiinterface.PipelineResponse{
		ProposedActions: []aiinterface.ProposedAction{{Name: tools.ActionCreateFolder, Args: map[string]any{"name": "Taxes"}}},
	}

	first, err := f.svc.HandleTurn(ctx, &Turn{OwnerID: "o1", SessionID: "s1", Text: "sort out my tax papers"})
	require.NoError(t, err)
	require.Equal(t, ReplyApprovalRequest, first.Kind)

	// 待审批任务被其他途径处理掉后，批准口令按上一轮计划重新入队
	require.NoError(t, f.jobs.Finalize(ctx, first.Job.ID, jobs.StatusFailed, nil, "cancelled"))

	reply, err := f.svc.HandleTurn(ctx, &Turn{OwnerID: "o1", SessionID: "s1", Text: "approve"})
	require.NoError(t, err)
	assert.Equal(t, ReplyApproved, reply.Kind)
	require.NotNil(t, reply.Job)
	assert.NotEqual(t, first.Job.ID, reply.Job.ID)
	assert.True(t, reply.Job.Approved)
	assert.Equal(t, "sort out my tax papers", reply.Job.Instruction())
}

func TestHandleTurnApprovalWithoutContextFallsThrough(t *testing.T) {
	f := setupChat(t)

	reply, err := f.svc.HandleTurn(context.Background(), &Turn{OwnerID: "o1", SessionID: "s1", Text: "yes"})
	require.NoError(t, err)
	assert.Equal(t, ReplyText, reply.Kind)
	assert.Equal(t, "你好", reply.Text)
	assert.Len(t, f.pipeline.calls, 1)
}

func TestHandleTurnAutonomyPolicy(t *testing.T) {
	cases := []struct {
		name     string
		autonomy string
		action   string
		want     string
	}{
		{"full 总是自动批准", jobs.AutonomyFull, tools.ActionMoveAttachments, ReplyQueued},
		{"semi 无需审批的动作自动批准", jobs.AutonomySemi, tools.ActionCopyAttachments, ReplyQueued},
		{"semi 需要审批的动作等待批准", jobs.AutonomySemi, tools.ActionMoveAttachments, ReplyApprovalRequest},
		{"manual 从不自动批准", jobs.AutonomyManual, tools.ActionCopyAttachments, ReplyApprovalRequest},
		{"未知级别按 manual", "", tools.ActionCopyAttachments, ReplyApprovalRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupChat(t)
			f.pipeline.resp = &aiinterface.PipelineResponse{
				ProposedActions: []aiinterface.ProposedAction{{Name: tc.action}},
			}
			reply, err := f.svc.HandleTurn(context.Background(), &Turn{
				OwnerID: "o1", SessionID: "s1", Text: "put my scans away", AutonomyLevel: tc.autonomy,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, reply.Kind)
			require.NotNil(t, reply.Job)
			assert.Equal(t, tc.want == ReplyQueued, reply.Job.Approved)
		})
	}
}

func TestRunJobExecutesApprovedPlan(t *testing.T) {
	ctx := context.Background()
	f := setupChat(t)
	a := f.upload(t, "scan.png")
	f.pipeline.resp = &aiinterface.PipelineResponse{
		ProposedActions: []aiinterface.ProposedAction{
			{Name: tools.ActionCreateFolder, Args: map[string]any{"name": "Scans"}},
			{Name: tools.ActionCreateMarkdown, Args: map[string]any{"name": "Index.md", "content": "# Scans"}},
			{Name: tools.ActionMoveAttachments},
		},
	}

	reply, err := f.svc.HandleTurn(ctx, &Turn{
		OwnerID: "o1", SessionID: "s1", Text: "put my scans away",
		AttachmentIDs: []string{a.ID}, AutonomyLevel: jobs.AutonomyFull,
	})
	require.NoError(t, err)
	require.Equal(t, ReplyQueued, reply.Kind)

	job, err := f.jobs.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)

	res, err := f.svc.RunJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
	require.Len(t, res.Artifacts, 1)
	assert.Len(t, f.pipeline.calls, 1, "首轮任务直接执行已批准的计划")

	doc, err := f.ws.Get(ctx, "o1", res.Artifacts[0])
	require.NoError(t, err)
	assert.Equal(t, "Index.md", doc.Name)

	moved, err := f.ws.Get(ctx, "o1", a.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.ParentID)
	assert.Equal(t, *doc.ParentID, *moved.ParentID)
}

func TestRunJobIterationReplans(t *testing.T) {
	ctx := context.Background()
	f := setupChat(t)
	f.pipeline.resp = &aiinterface.PipelineResponse{
		ProposedActions: []aiinterface.ProposedAction{{Name: tools.ActionCreateFolder, Args: map[string]any{"name": "Retry"}}},
	}

	job := &jobs.AgentJob{
		ID:        "job-iter",
		OwnerID:   "o1",
		SessionID: "s1",
		Type:      jobs.TypeChatActions,
		Iteration: 1,
		Payload: map[string]any{
			jobs.PayloadInstruction:         jobs.NextStepRetry,
			jobs.PayloadPreviousInstruction: "make a folder",
			jobs.PayloadActions:             []any{map[string]any{"name": "bogus_action"}},
		},
	}
	res, err := f.svc.RunJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)

	require.Len(t, f.pipeline.calls, 1)
	req := f.pipeline.calls[0]
	assert.True(t, req.ExecutionAllowed)
	assert.Contains(t, req.Utterance, "make a folder")
	assert.Contains(t, req.Utterance, jobs.NextStepRetry)

	// 没有提出动作时以文本结束
	f.pipeline.resp = &aiinterface.PipelineResponse{Text: "已经完成"}
	res, err = f.svc.RunJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "已经完成", res.Message)
}

func TestMemoryHistoryKeepsNewest(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.Append(ctx, "s", HistoryEntry{Role: "user", Content: fmt.Sprint(i)}))
	}
	all, err := h.Recent(ctx, "s", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2", all[0].Content)

	last, err := h.Recent(ctx, "s", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "4", last[0].Content)

	empty, err := h.Recent(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisHistory(t *testing.T) {
	addr := os.Getenv("AGENTDESK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("未设置 AGENTDESK_TEST_REDIS_ADDR，跳过 Redis 测试")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	session := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() { client.Del(ctx, historyKey(session)) })

	h := NewRedisHistory(client, time.Minute, 2)
	require.NoError(t, h.Append(ctx, session,
		HistoryEntry{Role: "user", Content: "a"},
		HistoryEntry{Role: "assistant", Content: "b", ApprovalRequest: true, Plan: map[string]any{"instruction": "a"}},
		HistoryEntry{Role: "user", Content: "c"},
	))

	got, err := h.Recent(ctx, session, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].ApprovalRequest)
	assert.Equal(t, "a", got[0].Plan["instruction"])
	assert.Equal(t, "c", got[1].Content)
}
