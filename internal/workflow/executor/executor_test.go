package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"agentdesk/internal/tools"
	"agentdesk/internal/tools/builtin"
	"agentdesk/internal/workflow"
	"agentdesk/internal/workspace"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	exec *Executor
	ws   *workspace.Service
}

func setupExecutor(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:executor_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&workspace.Item{}))

	log := zaptest.NewLogger(t)
	ws := workspace.NewService(db, workspace.NewMemoryStorage(), log)
	registry := tools.NewRegistry()
	require.NoError(t, builtin.RegisterAll(registry, ws, 10*time.Minute))
	dispatcher := tools.NewDispatcher(registry, nil, log)

	exec := New(dispatcher, ws, Config{FolderPrefix: "Receipts", RecoveryWindow: 10 * time.Minute}, log)
	exec.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) }
	return &fixture{exec: exec, ws: ws}
}

func (f *fixture) upload(t *testing.T, owner, name string) *workspace.Item {
	t.Helper()
	item, err := f.ws.CreateFile(context.Background(), &workspace.CreateFileRequest{
		OwnerID: owner, Name: name, MimeType: "image/png", Content: []byte("img"),
	})
	require.NoError(t, err)
	return item
}

func (f *fixture) parentOf(t *testing.T, owner, id string) string {
	t.Helper()
	item, err := f.ws.Get(context.Background(), owner, id)
	require.NoError(t, err)
	if item.ParentID == nil {
		return ""
	}
	return *item.ParentID
}

func TestRunFolderReportMoveThreadsFolderID(t *testing.T) {
	f := setupExecutor(t)
	a := f.upload(t, "o1", "a.png")
	b := f.upload(t, "o1", "b.png")

	res := f.exec.Run(context.Background(), RunRequest{
		OwnerID: "o1",
		Name:    "receipt report",
		Steps: []workflow.Step{
			{Action: tools.ActionCreateFolder, Params: map[string]any{"autoName": true}},
			{Action: tools.ActionCreateMarkdown, Params: map[string]any{"name": "Summary.md", "content": "# 汇总"}},
			{Action: tools.ActionMoveAttachments},
		},
		Initial: map[string]any{"attachmentIds": []string{a.ID, b.ID}},
	})

	require.True(t, res.Success, res.Summary())
	require.Len(t, res.Steps, 3)
	assert.Empty(t, res.Transfers, "显式转移已执行，不应再隐式转移")

	folderID := res.Steps[0].Data[tools.KeyFolderID].(string)
	assert.Equal(t, "Receipts 2024-03-09 140507", res.Steps[0].Data[tools.KeyFolderName])
	assert.Equal(t, folderID, f.parentOf(t, "o1", a.ID))
	assert.Equal(t, folderID, f.parentOf(t, "o1", b.ID))
	assert.Equal(t, folderID, f.parentOf(t, "o1", res.Steps[1].Data[tools.KeyFileID].(string)))
	assert.Equal(t, []string{a.ID, b.ID}, res.FinalContext["lastProcessedFileIds"])
}

func TestRunStopsAtFailedStepAndKeepsContext(t *testing.T) {
	f := setupExecutor(t)

	res := f.exec.Run(context.Background(), RunRequest{
		OwnerID: "o1",
		Steps: []workflow.Step{
			{Action: tools.ActionCreateFolder, Params: map[string]any{"name": "Step One"}},
			{Action: tools.ActionHighlightFile, Params: map[string]any{"fileId": "missing"}},
			{Action: tools.ActionCreateMarkdown, Params: map[string]any{"title": "never"}},
		},
		DisableRecovery: true,
	})

	assert.False(t, res.Success)
	require.Len(t, res.Steps, 2)
	assert.True(t, res.Steps[0].Success)
	assert.False(t, res.Steps[1].Success)
	assert.Equal(t, res.Steps[0].Data[tools.KeyFolderID], res.FinalContext[tools.KeyFolderID])
	assert.Equal(t, "Step One", res.FinalContext[tools.KeyFolderName])
	assert.Contains(t, res.Summary(), "✗ 2.")
}

func TestRunImplicitMoveOfStrandedAttachments(t *testing.T) {
	f := setupExecutor(t)
	a := f.upload(t, "o1", "a.png")

	res := f.exec.Run(context.Background(), RunRequest{
		OwnerID: "o1",
		Steps: []workflow.Step{
			{Action: tools.ActionCreateFolder, Params: map[string]any{"name": "Report"}},
			{Action: tools.ActionCreateMarkdown, Params: map[string]any{"title": "Report"}},
		},
		Initial: map[string]any{"attachmentIds": []any{a.ID}},
	})

	require.True(t, res.Success)
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, "stranded", res.Transfers[0].Trigger)
	assert.Equal(t, tools.ActionMoveAttachments, res.Transfers[0].Action)
	assert.Equal(t, res.Steps[0].Data[tools.KeyFolderID], f.parentOf(t, "o1", a.ID))
}

func TestRunImplicitCopyFlagRecoversOrphans(t *testing.T) {
	f := setupExecutor(t)
	a := f.upload(t, "o1", "scan.png")

	res := f.exec.Run(context.Background(), RunRequest{
		OwnerID: "o1",
		Steps:   []workflow.Step{{Action: tools.ActionCreateFolder, Params: map[string]any{"name": "Backup"}}},
		Options: workflow.RunOptions{CopyAttachments: true},
	})

	require.True(t, res.Success)
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, "copy_flag", res.Transfers[0].Trigger)
	assert.True(t, res.Transfers[0].Success)
	assert.Empty(t, f.parentOf(t, "o1", a.ID), "复制不移动原文件")
}

func TestRunMoveFlagTakesPrecedenceOverCopyFlag(t *testing.T) {
	f := setupExecutor(t)
	a := f.upload(t, "o1", "a.png")

	res := f.exec.Run(context.Background(), RunRequest{
		OwnerID: "o1",
		Steps:   []workflow.Step{{Action: tools.ActionCreateFolder, Params: map[string]any{"name": "Both"}}},
		Options: workflow.RunOptions{MoveAttachments: true, CopyAttachments: true},
		Initial: map[string]any{"attachmentIds": []string{a.ID}},
	})

	require.Len(t, res.Transfers, 1)
	assert.Equal(t, "move_flag", res.Transfers[0].Trigger)
	assert.NotEmpty(t, f.parentOf(t, "o1", a.ID))
}

func TestRunCorrectiveTransferOnFailure(t *testing.T) {
	f := setupExecutor(t)
	a := f.upload(t, "o1", "a.png")

	res := f.exec.Run(context.Background(), RunRequest{
		OwnerID: "o1",
		Steps: []workflow.Step{
			{Action: tools.ActionCreateFolder, Params: map[string]any{"name": "Fix"}},
			{Action: tools.ActionHighlightFile, Params: map[string]any{"fileId": "missing", "moveAfterward": true}},
		},
		Initial: map[string]any{"attachmentIds": []string{a.ID}},
	})

	assert.False(t, res.Success, "补救转移成功也不改变整体失败")
	require.Len(t, res.Steps, 2)
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, "corrective", res.Transfers[0].Trigger)
	assert.Equal(t, res.Steps[0].Data[tools.KeyFolderID], f.parentOf(t, "o1", a.ID))
}

func TestRunFailureWithoutFlagsLeavesAttachmentsInPlace(t *testing.T) {
	f := setupExecutor(t)
	a := f.upload(t, "o1", "a.png")

	res := f.exec.Run(context.Background(), RunRequest{
		OwnerID: "o1",
		Steps: []workflow.Step{
			{Action: tools.ActionCreateFolder, Params: map[string]any{"name": "F"}},
			{Action: tools.ActionHighlightFile, Params: map[string]any{"fileId": "missing"}},
		},
		Initial: map[string]any{"attachmentIds": []string{a.ID}},
	})

	assert.False(t, res.Success)
	require.Len(t, res.Steps, 2)
	assert.Empty(t, res.Transfers, "失败时只允许补救转移")
	assert.Empty(t, f.parentOf(t, "o1", a.ID))
}

func TestRunHighlightHonorsDisableRecovery(t *testing.T) {
	f := setupExecutor(t)
	stray := f.upload(t, "o1", "stray.png")
	ctx := context.Background()

	res := f.exec.Run(ctx, RunRequest{
		OwnerID:         "o1",
		Steps:           []workflow.Step{{Action: tools.ActionHighlightFile}},
		DisableRecovery: true,
	})
	assert.False(t, res.Success, res.Summary())

	item, err := f.ws.Get(ctx, "o1", stray.ID)
	require.NoError(t, err)
	assert.False(t, item.Highlighted)

	res = f.exec.Run(ctx, RunRequest{
		OwnerID: "o1",
		Steps:   []workflow.Step{{Action: tools.ActionHighlightFile}},
	})
	require.True(t, res.Success, res.Summary())
	item, err = f.ws.Get(ctx, "o1", stray.ID)
	require.NoError(t, err)
	assert.True(t, item.Highlighted)
}

func TestRunPausesOnFolderConflict(t *testing.T) {
	f := setupExecutor(t)
	a := f.upload(t, "o1", "a.png")
	_, err := f.ws.CreateFolder(context.Background(), &workspace.CreateFolderRequest{OwnerID: "o1", Name: "Reports"})
	require.NoError(t, err)

	res := f.exec.Run(context.Background(), RunRequest{
		OwnerID: "o1",
		Steps: []workflow.Step{
			{Action: tools.ActionCreateFolder, Params: map[string]any{"name": "Reports", "onConflict": "ask"}},
			{Action: tools.ActionMoveAttachments},
		},
		Initial: map[string]any{"attachmentIds": []string{a.ID}},
		Options: workflow.RunOptions{MoveAttachments: true},
	})

	assert.False(t, res.Success)
	assert.True(t, res.Paused)
	assert.Len(t, res.Steps, 1)
	assert.Empty(t, res.Transfers)
	assert.Empty(t, f.parentOf(t, "o1", a.ID))
	assert.Contains(t, res.Summary(), "暂停")
}

func TestRunHighlightTargetsPreviousOutput(t *testing.T) {
	f := setupExecutor(t)
	a := f.upload(t, "o1", "a.png")
	ctx := context.Background()

	res := f.exec.Run(ctx, RunRequest{
		OwnerID: "o1",
		Steps: []workflow.Step{
			{Action: tools.ActionCreateFolder, Params: map[string]any{"name": "H"}},
			{Action: tools.ActionMoveAttachments},
			{Action: tools.ActionHighlightFile},
		},
		Initial: map[string]any{"attachmentIds": []string{a.ID}},
	})
	require.True(t, res.Success, res.Summary())
	moved, err := f.ws.Get(ctx, "o1", a.ID)
	require.NoError(t, err)
	assert.True(t, moved.Highlighted)

	res = f.exec.Run(ctx, RunRequest{
		OwnerID: "o1",
		Steps: []workflow.Step{
			{Action: tools.ActionCreateHTML, Params: map[string]any{"title": "Page <1>"}},
			{Action: tools.ActionHighlightFile},
		},
		DisableRecovery: true,
	})
	require.True(t, res.Success, res.Summary())
	fileID := res.Steps[0].Data[tools.KeyFileID].(string)
	assert.Equal(t, fileID, res.Steps[1].Data[tools.KeyFileID])

	page, err := f.ws.Get(ctx, "o1", fileID)
	require.NoError(t, err)
	data, err := f.ws.Storage().Read(page.StoragePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<title>Page &lt;1&gt;</title>")
}

func TestRunUnknownActionFails(t *testing.T) {
	f := setupExecutor(t)
	res := f.exec.Run(context.Background(), RunRequest{
		OwnerID: "o1",
		Steps:   []workflow.Step{{Action: "teleport"}, {Action: ""}},
	})
	assert.False(t, res.Success)
	require.Len(t, res.Steps, 1)
	assert.Contains(t, res.Steps[0].Message, "teleport")
}

type recordingDispatcher struct {
	calls []map[string]any
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _ string, action string, args map[string]any) (tools.Result, error) {
	d.calls = append(d.calls, args)
	return tools.OK(action, map[string]any{"color": "from-result", "step": action}), nil
}

func TestDeclaredParamsOverrideContext(t *testing.T) {
	d := &recordingDispatcher{}
	exec := New(d, nil, Config{}, zaptest.NewLogger(t))

	res := exec.Run(context.Background(), RunRequest{
		OwnerID: "o1",
		Steps: []workflow.Step{
			{Action: "paint", Params: map[string]any{"color": "blue"}},
			{Action: "inspect"},
			{Action: "repaint", Params: map[string]any{"color": "green"}},
		},
		Initial: map[string]any{"color": "red", "size": 3},
	})

	require.True(t, res.Success)
	require.Len(t, d.calls, 3)
	assert.Equal(t, "blue", d.calls[0]["color"])
	assert.Equal(t, 3, d.calls[0]["size"])
	assert.Equal(t, "from-result", d.calls[1]["color"])
	assert.Equal(t, "paint", d.calls[1]["step"])
	assert.Equal(t, "green", d.calls[2]["color"])
	assert.Equal(t, "repaint", res.FinalContext["step"])
}

type brokenRecovery struct{ panics bool }

func (b brokenRecovery) RecentOrphans(context.Context, string, time.Duration) ([]*workspace.Item, error) {
	if b.panics {
		panic("index corrupted")
	}
	return nil, errors.New("db down")
}

func TestRecoveryNeverFails(t *testing.T) {
	for _, panics := range []bool{false, true} {
		d := &recordingDispatcher{}
		exec := New(d, brokenRecovery{panics: panics}, Config{}, zaptest.NewLogger(t))
		st := &runState{req: &RunRequest{OwnerID: "o1"}, ec: NewExecutionContext(nil)}
		assert.Empty(t, exec.resolveAttachmentIDs(context.Background(), st, zaptest.NewLogger(t)))
	}
}

func TestSummaryLines(t *testing.T) {
	r := &RunResult{
		Success: true,
		Steps: []StepResult{
			{Index: 0, Action: "create_folder", Success: true, Message: "已创建文件夹「A」"},
			{Index: 1, Action: "highlight_file", Success: true},
		},
		Transfers: []StepResult{{Success: true, Message: "已移动 1 个附件"}},
	}
	lines := strings.Split(r.Summary(), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "✓ 1. 已创建文件夹「A」", lines[0])
	assert.Equal(t, "✓ 2. highlight_file", lines[1])
	assert.Equal(t, "↪ 已移动 1 个附件", lines[2])
}
