package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	response "agentdesk/api/handlers/common"
	"agentdesk/internal/tools"
	"agentdesk/internal/tools/builtin"
	"agentdesk/internal/workflow"
	"agentdesk/internal/workflow/executor"
	"agentdesk/internal/workspace"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func setupWorkflowTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&workspace.Item{}, &workflow.Definition{}, &workflow.IntentRule{}, &tools.ActionExecution{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newExecuteHandler(t *testing.T, db *gorm.DB) (*WorkflowExecuteHandler, *workspace.Service) {
	t.Helper()
	log := zaptest.NewLogger(t)
	ws := workspace.NewService(db, workspace.NewMemoryStorage(), log)
	registry := tools.NewRegistry()
	if err := builtin.RegisterAll(registry, ws, 0); err != nil {
		t.Fatalf("register actions: %v", err)
	}
	catalog, err := workflow.LoadDefaults()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	exec := executor.New(tools.NewDispatcher(registry, db, log), ws, executor.Config{FolderPrefix: "Workflow"}, log)
	return NewWorkflowExecuteHandler(workflow.NewRepository(db, catalog), exec), ws
}

func runWorkflow(h *WorkflowExecuteHandler, ownerID, workflowID string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodPost, "/api/workflows/"+workflowID+"/run", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: workflowID}}
	c.Set(response.OwnerKey, ownerID)
	h.RunWorkflow(c)
	return w
}

func TestWorkflowExecuteHandler_RunBuiltinWithAttachments(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := setupWorkflowTestDB(t)
	h, ws := newExecuteHandler(t, db)

	upload, err := ws.CreateFile(context.Background(), &workspace.CreateFileRequest{
		OwnerID: "owner-1", Name: "receipt.pdf", MimeType: "application/pdf", Content: []byte("%PDF-1.4 receipt"),
	})
	if err != nil {
		t.Fatalf("create upload: %v", err)
	}

	body, _ := json.Marshal(map[string]any{"attachmentIds": []string{upload.ID}})
	w := runWorkflow(h, "owner-1", "builtin-receipt-report", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data struct {
			Summary string             `json:"summary"`
			Run     executor.RunResult `json:"run"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Data.Run.Success {
		t.Fatalf("expected run success, got %+v", resp.Data.Run)
	}
	if resp.Data.Summary == "" {
		t.Fatalf("expected summary")
	}

	moved, err := ws.Get(context.Background(), "owner-1", upload.ID)
	if err != nil {
		t.Fatalf("reload upload: %v", err)
	}
	if moved.ParentID == nil {
		t.Fatalf("expected attachment moved into workflow folder")
	}
}

func TestWorkflowExecuteHandler_EmptyBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := setupWorkflowTestDB(t)
	h, _ := newExecuteHandler(t, db)

	w := runWorkflow(h, "owner-1", "builtin-web-page", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWorkflowExecuteHandler_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := setupWorkflowTestDB(t)
	h, _ := newExecuteHandler(t, db)

	w := runWorkflow(h, "owner-1", "missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestWorkflowExecuteHandler_InvalidJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := setupWorkflowTestDB(t)
	h, _ := newExecuteHandler(t, db)

	w := runWorkflow(h, "owner-1", "builtin-web-page", []byte(`{"attachmentIds":`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
