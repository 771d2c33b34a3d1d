package workflow

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Catalog 一组工作流定义和意图规则
type Catalog struct {
	Workflows []Definition `yaml:"workflows"`
	Rules     []IntentRule `yaml:"rules"`
}

// LoadDefaults 解析内置自动化
func LoadDefaults() (*Catalog, error) {
	cat, err := parseCatalog(defaultsYAML)
	if err != nil {
		return nil, fmt.Errorf("解析内置自动化失败: %w", err)
	}
	return cat, nil
}

// LoadFile 解析用户提供的自动化文件，与内置目录格式相同
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取自动化文件失败: %w", err)
	}
	cat, err := parseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("解析自动化文件 %s 失败: %w", path, err)
	}
	return cat, nil
}

func parseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, err
	}
	for i := range cat.Workflows {
		cat.Workflows[i].BuiltIn = true
		if cat.Workflows[i].ID == "" {
			return nil, fmt.Errorf("工作流 %q 缺少 id", cat.Workflows[i].Name)
		}
	}
	for i := range cat.Rules {
		cat.Rules[i].BuiltIn = true
		if cat.Rules[i].ID == "" {
			return nil, fmt.Errorf("规则 %q 缺少 id", cat.Rules[i].Name)
		}
		if cat.Rules[i].IsWorkflow() && len(cat.Rules[i].Steps) == 0 {
			return nil, fmt.Errorf("规则 %q 为工作流类型但没有步骤", cat.Rules[i].Name)
		}
	}
	return &cat, nil
}

// Merge 将 other 追加到目录中，ID 相同的条目由 other 覆盖
func (c *Catalog) Merge(other *Catalog) {
	if other == nil {
		return
	}
	for _, wf := range other.Workflows {
		replaced := false
		for i := range c.Workflows {
			if c.Workflows[i].ID == wf.ID {
				c.Workflows[i] = wf
				replaced = true
				break
			}
		}
		if !replaced {
			c.Workflows = append(c.Workflows, wf)
		}
	}
	for _, rule := range other.Rules {
		replaced := false
		for i := range c.Rules {
			if c.Rules[i].ID == rule.ID {
				c.Rules[i] = rule
				replaced = true
				break
			}
		}
		if !replaced {
			c.Rules = append(c.Rules, rule)
		}
	}
}
