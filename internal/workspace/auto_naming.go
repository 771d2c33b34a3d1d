package workspace

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var unsafeName = regexp.MustCompile(`[/\\:*?"<>|\x00-\x1f]+`)

// AutoFolderLayout 自动文件夹名的时间格式
const AutoFolderLayout = "2006-01-02 150405"

// AutoFolderName 生成 "<前缀> <时间戳>" 形式的文件夹名
func AutoFolderName(prefix string, now time.Time) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "Workspace"
	}
	return fmt.Sprintf("%s %s", prefix, now.Format(AutoFolderLayout))
}

// SanitizeName 去掉路径分隔符与控制字符，限制长度
func SanitizeName(name string) string {
	name = strings.TrimSpace(unsafeName.ReplaceAllString(name, "-"))
	name = strings.Trim(name, ".-")
	if len([]rune(name)) > 120 {
		name = string([]rune(name)[:120])
	}
	return name
}

// numberedName 在扩展名前插入序号："Summary.md" -> "Summary (2).md"
func numberedName(name string, n int) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		base, ext = name, ""
	}
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}

// EnsureExtension 缺少扩展名时补齐
func EnsureExtension(name, ext string) string {
	if strings.EqualFold(path.Ext(name), ext) {
		return name
	}
	return name + ext
}
