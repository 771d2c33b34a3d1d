package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrDefinitionNotFound 工作流不存在
var ErrDefinitionNotFound = errors.New("工作流不存在")

// Repository 工作流与意图规则存储，内置目录与用户数据合并后对外提供
type Repository struct {
	db      *gorm.DB
	catalog *Catalog
}

// NewRepository 创建 Repository；catalog 为 nil 时不提供内置自动化
func NewRepository(db *gorm.DB, catalog *Catalog) *Repository {
	if catalog == nil {
		catalog = &Catalog{}
	}
	return &Repository{db: db, catalog: catalog}
}

// ListDefinitions 返回所有者可用的工作流；用户创建的同名工作流覆盖内置版本
func (r *Repository) ListDefinitions(ctx context.Context, ownerID string) ([]*Definition, error) {
	var own []*Definition
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&own).Error; err != nil {
		return nil, fmt.Errorf("查询工作流失败: %w", err)
	}

	names := make(map[string]struct{}, len(own))
	for _, d := range own {
		names[strings.ToLower(d.Name)] = struct{}{}
	}
	result := make([]*Definition, 0, len(own)+len(r.catalog.Workflows))
	result = append(result, own...)
	for i := range r.catalog.Workflows {
		builtin := r.catalog.Workflows[i]
		if _, shadowed := names[strings.ToLower(builtin.Name)]; shadowed {
			continue
		}
		builtin.OwnerID = ownerID
		result = append(result, &builtin)
	}
	return result, nil
}

// ListRules 返回所有者可用的意图规则，合并规则同 ListDefinitions
func (r *Repository) ListRules(ctx context.Context, ownerID string) ([]*IntentRule, error) {
	var own []*IntentRule
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&own).Error; err != nil {
		return nil, fmt.Errorf("查询意图规则失败: %w", err)
	}

	names := make(map[string]struct{}, len(own))
	for _, rule := range own {
		names[strings.ToLower(rule.Name)] = struct{}{}
	}
	result := make([]*IntentRule, 0, len(own)+len(r.catalog.Rules))
	result = append(result, own...)
	for i := range r.catalog.Rules {
		builtin := r.catalog.Rules[i]
		if _, shadowed := names[strings.ToLower(builtin.Name)]; shadowed {
			continue
		}
		builtin.OwnerID = ownerID
		result = append(result, &builtin)
	}
	return result, nil
}

// GetDefinition 按 ID 查询工作流，先查用户数据再查内置目录
func (r *Repository) GetDefinition(ctx context.Context, ownerID, id string) (*Definition, error) {
	var def Definition
	err := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&def).Error
	if err == nil {
		return &def, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询工作流失败: %w", err)
	}
	for i := range r.catalog.Workflows {
		if r.catalog.Workflows[i].ID == id {
			builtin := r.catalog.Workflows[i]
			builtin.OwnerID = ownerID
			return &builtin, nil
		}
	}
	for i := range r.catalog.Rules {
		if r.catalog.Rules[i].ID == id && r.catalog.Rules[i].IsWorkflow() {
			rule := r.catalog.Rules[i]
			rule.OwnerID = ownerID
			return rule.AsDefinition(), nil
		}
	}
	return nil, ErrDefinitionNotFound
}

// CreateDefinition 保存用户工作流
func (r *Repository) CreateDefinition(ctx context.Context, def *Definition) error {
	if strings.TrimSpace(def.OwnerID) == "" {
		return fmt.Errorf("工作流缺少所有者")
	}
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("工作流名称不能为空")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("工作流至少需要一个步骤")
	}
	for i, step := range def.Steps {
		if strings.TrimSpace(step.Action) == "" {
			return fmt.Errorf("第 %d 个步骤缺少 action", i+1)
		}
	}
	def.BuiltIn = false
	if err := r.db.WithContext(ctx).Create(def).Error; err != nil {
		return fmt.Errorf("创建工作流失败: %w", err)
	}
	return nil
}

// CreateRule 保存用户意图规则
func (r *Repository) CreateRule(ctx context.Context, rule *IntentRule) error {
	if strings.TrimSpace(rule.OwnerID) == "" {
		return fmt.Errorf("规则缺少所有者")
	}
	if strings.TrimSpace(rule.Name) == "" || strings.TrimSpace(rule.Action) == "" {
		return fmt.Errorf("规则名称和 action 不能为空")
	}
	if rule.IsWorkflow() && len(rule.Steps) == 0 {
		return fmt.Errorf("工作流类型的规则至少需要一个步骤")
	}
	rule.BuiltIn = false
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("创建意图规则失败: %w", err)
	}
	return nil
}
