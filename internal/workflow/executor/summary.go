package executor

import (
	"fmt"
	"strings"
)

// Summary 面向用户的执行摘要，每个步骤一行
func (r *RunResult) Summary() string {
	var b strings.Builder
	for _, s := range r.Steps {
		mark := "✓"
		switch {
		case s.Paused:
			mark = "⏸"
		case !s.Success:
			mark = "✗"
		}
		msg := s.Message
		if msg == "" {
			msg = s.Action
		}
		fmt.Fprintf(&b, "%s %d. %s\n", mark, s.Index+1, msg)
	}
	for _, t := range r.Transfers {
		mark := "↪"
		if !t.Success {
			mark = "✗"
		}
		fmt.Fprintf(&b, "%s %s\n", mark, t.Message)
	}

	switch {
	case r.Paused:
		fmt.Fprintf(&b, "工作流已暂停：%s", r.Message)
	case r.Success:
		fmt.Fprintf(&b, "工作流已完成，共 %d 步。", len(r.Steps))
	default:
		fmt.Fprintf(&b, "工作流在第 %d 步失败，之前完成的步骤已保留。", len(r.Steps))
	}
	return b.String()
}
