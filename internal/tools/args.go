package tools

import (
	"fmt"
	"strings"
)

// StringArg 读取字符串参数，非字符串值按 fmt.Sprint 转换
func StringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// StringSliceArg 读取字符串列表参数，兼容 []string、[]any 与单个字符串
func StringSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return compact(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return compact(out)
	case string:
		return compact(strings.Split(v, ","))
	}
	return nil
}

// IntArg 读取整数参数，JSON 数字为 float64
func IntArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// BoolArg 读取布尔参数
func BoolArg(args map[string]any, key string) bool {
	b, ok := args[key].(bool)
	return ok && b
}

func compact(in []string) []string {
	out := in[:0:0]
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
