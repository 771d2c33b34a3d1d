package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agentdesk/internal/config"
	"agentdesk/internal/jobs"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupServer(t *testing.T) (*AppContainer, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:api_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(Models()...))
	t.Cleanup(func() { _ = sqlDB.Close() })

	cfg := &config.Config{
		Server:    config.ServerConfig{DefaultOwnerID: "default"},
		Workspace: config.WorkspaceConfig{FolderPrefix: "Workflow"},
		Jobs:      config.JobsConfig{DefaultMaxIterations: 3},
	}
	c, err := InitContainer(db, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, SetupRouter(c)
}

func doJSON(t *testing.T, r http.Handler, method, path, owner string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(headerOwnerID, owner)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestHealthAndMetrics(t *testing.T) {
	_, r := setupServer(t)

	w, _ := doJSON(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "agentdesk_http_requests_total")
}

func TestChatRunsWorkflowAndMatchDoesNot(t *testing.T) {
	c, r := setupServer(t)

	w, env := doJSON(t, r, http.MethodPost, "/api/match", "o1", gin.H{"text": "web page please"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var route struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &route))
	assert.Equal(t, "workflow", route.Kind)

	items, err := c.Workspace.ListChildren(context.Background(), "o1", nil)
	require.NoError(t, err)
	assert.Empty(t, items, "match 不应执行任何动作")

	w, env = doJSON(t, r, http.MethodPost, "/api/chat", "o1", gin.H{"sessionId": "s1", "text": "web page please"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reply struct {
		Kind string `json:"kind"`
		Run  struct {
			Success bool `json:"success"`
		} `json:"run"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &reply))
	assert.Equal(t, "workflow", reply.Kind)
	assert.True(t, reply.Run.Success)

	items, err = c.Workspace.ListChildren(context.Background(), "o1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, items)
}

func TestChatValidation(t *testing.T) {
	_, r := setupServer(t)

	w, env := doJSON(t, r, http.MethodPost, "/api/chat", "o1", gin.H{"text": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_request", env.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/api/chat", "o1", gin.H{"text": "hi", "autonomyLevel": "reckless"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 未配置模型时未命中自动化的消息只返回文本
	w, env = doJSON(t, r, http.MethodPost, "/api/chat", "", gin.H{"text": "how are you"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"kind":"text"`)
}

func TestWorkflowAndRuleEndpoints(t *testing.T) {
	_, r := setupServer(t)

	w, _ := doJSON(t, r, http.MethodPost, "/api/workflows", "o1", gin.H{
		"name":            "weekly notes",
		"triggerKeywords": []string{"weekly notes"},
		"steps": []gin.H{
			{"action": "create_folder", "params": gin.H{"name": "Weekly"}},
			{"action": "create_markdown_file", "params": gin.H{"name": "notes.md", "content": "# Notes"}},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = doJSON(t, r, http.MethodPost, "/api/workflows", "o1", gin.H{"name": "empty", "steps": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := doJSON(t, r, http.MethodGet, "/api/workflows", "o1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	var id string
	for _, it := range list.Items {
		if it.Name == "weekly notes" {
			id = it.ID
		}
	}
	require.NotEmpty(t, id)

	w, env = doJSON(t, r, http.MethodPost, "/api/workflows/"+id+"/run", "o1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), "工作流已完成")

	// 其他账户看不到该工作流
	w, _ = doJSON(t, r, http.MethodPost, "/api/workflows/"+id+"/run", "o2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/api/rules", "o1", gin.H{
		"name": "star it", "action": "highlight_file", "keywords": []string{"star it"},
	})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, env = doJSON(t, r, http.MethodGet, "/api/rules", "o1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "star it")
}

func TestJobEndpoints(t *testing.T) {
	c, r := setupServer(t)
	ctx := context.Background()

	pending := false
	job, err := c.Jobs.Enqueue(ctx, &jobs.EnqueueRequest{
		OwnerID:   "o1",
		SessionID: "s1",
		Type:      jobs.TypeChatActions,
		Payload:   map[string]any{jobs.PayloadInstruction: "tidy"},
		Approved:  &pending,
	})
	require.NoError(t, err)

	w, _ := doJSON(t, r, http.MethodGet, "/api/jobs/"+job.ID, "o1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, r, http.MethodGet, "/api/jobs/"+job.ID, "o2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env := doJSON(t, r, http.MethodGet, "/api/sessions/s1/jobs", "o1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), job.ID)

	w, env = doJSON(t, r, http.MethodPost, "/api/sessions/s1/approve", "o1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"approved":true`)

	w, _ = doJSON(t, r, http.MethodPost, "/api/sessions/s1/approve", "o1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = doJSON(t, r, http.MethodGet, "/api/jobs/"+job.ID+"/activity", "o1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), jobs.EventApproved)

	msg, err := c.Comm.SendMessage(ctx, &jobs.SendMessageRequest{
		JobID: job.ID, FromAgent: "worker-1", MessageType: jobs.MessageRequest, Content: "开始",
	})
	require.NoError(t, err)

	w, env = doJSON(t, r, http.MethodGet, "/api/agents/anyone/messages?unread=true", "o1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), msg.ID)

	w, _ = doJSON(t, r, http.MethodPost, "/api/messages/"+msg.ID+"/read", "o1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = doJSON(t, r, http.MethodPost, "/api/messages/missing/read", "o1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobStreamReplaysAndPushes(t *testing.T) {
	c, r := setupServer(t)
	ctx := context.Background()

	job, err := c.Jobs.Enqueue(ctx, &jobs.EnqueueRequest{
		OwnerID: "o1", SessionID: "s1", Type: jobs.TypeChatActions,
		Payload: map[string]any{jobs.PayloadInstruction: "tidy"},
	})
	require.NoError(t, err)
	_, err = c.Comm.SendMessage(ctx, &jobs.SendMessageRequest{
		JobID: job.ID, FromAgent: "worker-1", MessageType: jobs.MessageRequest, Content: "第一条",
	})
	require.NoError(t, err)

	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/jobs/" + job.ID + "/stream"
	header := http.Header{}
	header.Set(headerOwnerID, "o1")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	type frame struct {
		Type    string             `json:"type"`
		Message *jobs.AgentMessage `json:"message"`
	}
	var f frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "第一条", f.Message.Content)

	require.Eventually(t, func() bool {
		return c.Comm.Bus().Subscribers(job.ID) == 1
	}, time.Second, 10*time.Millisecond)
	_, err = c.Comm.SendMessage(ctx, &jobs.SendMessageRequest{
		JobID: job.ID, FromAgent: "worker-1", MessageType: jobs.MessageResponse, Content: "第二条",
	})
	require.NoError(t, err)

	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "第二条", f.Message.Content)

	// 其他账户无法订阅
	header.Set(headerOwnerID, "o2")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
