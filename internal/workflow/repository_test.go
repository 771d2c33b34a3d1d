package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupRepositoryTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:workflow_repo_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err, "打开 sqlite 失败")
	require.NoError(t, db.AutoMigrate(&Definition{}, &IntentRule{}), "迁移 schema 失败")
	return db
}

func TestLoadDefaults(t *testing.T) {
	cat, err := LoadDefaults()
	require.NoError(t, err)
	require.NotEmpty(t, cat.Workflows)
	require.NotEmpty(t, cat.Rules)

	for _, wf := range cat.Workflows {
		assert.True(t, wf.BuiltIn, wf.Name)
		assert.NotEmpty(t, wf.Steps, wf.Name)
	}

	var organize *IntentRule
	for i := range cat.Rules {
		if cat.Rules[i].ID == "builtin-organize-uploads" {
			organize = &cat.Rules[i]
		}
	}
	require.NotNil(t, organize)
	assert.True(t, organize.IsWorkflow())
	assert.True(t, organize.Options().MoveAttachments)
	assert.False(t, organize.Options().CopyAttachments)
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
workflows:
  - id: builtin-web-page
    name: landing page
    enabled: false
    triggerKeywords: ["landing"]
    steps:
      - action: create_html_file
rules:
  - id: custom-hl
    name: star it
    action: highlight_file
    enabled: true
    keywords: ["star"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cat, err := LoadDefaults()
	require.NoError(t, err)
	before := len(cat.Workflows)

	extra, err := LoadFile(path)
	require.NoError(t, err)
	cat.Merge(extra)

	assert.Len(t, cat.Workflows, before)
	for _, wf := range cat.Workflows {
		if wf.ID == "builtin-web-page" {
			assert.Equal(t, "landing page", wf.Name)
			assert.False(t, wf.Enabled)
		}
	}
	assert.Equal(t, "custom-hl", cat.Rules[len(cat.Rules)-1].ID)
}

func TestLoadFileRejectsWorkflowRuleWithoutSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - id: x\n    name: x\n    action: workflow\n"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestRepositoryUserEntriesShadowBuiltins(t *testing.T) {
	ctx := context.Background()
	db := setupRepositoryTestDB(t)
	cat, err := LoadDefaults()
	require.NoError(t, err)
	repo := NewRepository(db, cat)

	own := &Definition{
		OwnerID:         "owner-1",
		Name:            "Receipt Report",
		TriggerKeywords: []string{"receipts"},
		Steps:           []Step{{Action: "create_folder", Params: map[string]any{"name": "Receipts"}}},
		Enabled:         true,
	}
	require.NoError(t, repo.CreateDefinition(ctx, own))
	require.NotEmpty(t, own.ID)

	defs, err := repo.ListDefinitions(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, defs, len(cat.Workflows))
	assert.Equal(t, own.ID, defs[0].ID)
	assert.Equal(t, "Receipts", defs[0].Steps[0].Params["name"])
	for _, d := range defs[1:] {
		assert.True(t, d.BuiltIn)
		assert.Equal(t, "owner-1", d.OwnerID)
	}

	other, err := repo.ListDefinitions(ctx, "owner-2")
	require.NoError(t, err)
	assert.Len(t, other, len(cat.Workflows))
}

func TestRepositoryGetDefinition(t *testing.T) {
	ctx := context.Background()
	db := setupRepositoryTestDB(t)
	cat, err := LoadDefaults()
	require.NoError(t, err)
	repo := NewRepository(db, cat)

	def, err := repo.GetDefinition(ctx, "owner-1", "builtin-receipt-report")
	require.NoError(t, err)
	assert.True(t, def.Options.MoveAttachments)

	def, err = repo.GetDefinition(ctx, "owner-1", "builtin-organize-uploads")
	require.NoError(t, err)
	assert.True(t, def.Options.MoveAttachments)

	_, err = repo.GetDefinition(ctx, "owner-1", "missing")
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}

func TestRepositoryCreateRuleValidation(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupRepositoryTestDB(t), nil)

	err := repo.CreateRule(ctx, &IntentRule{OwnerID: "o", Name: "wf", Action: ActionWorkflow})
	assert.Error(t, err)

	rule := &IntentRule{
		OwnerID:  "o",
		Name:     "hl",
		Action:   "highlight_file",
		Keywords: []string{"highlight"},
		Enabled:  true,
		Config:   map[string]any{"params": map[string]any{"fileId": "f1"}},
	}
	require.NoError(t, repo.CreateRule(ctx, rule))

	rules, err := repo.ListRules(ctx, "o")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "f1", rules[0].SingleStep().Params["fileId"])
}
