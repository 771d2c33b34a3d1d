package intent

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// 匹配原因；分值越高越具体，构成严格的优先级阶梯
const (
	ReasonExact     = "exact"
	ReasonPrefix    = "prefix"
	ReasonWord      = "word"
	ReasonSubstring = "substring"
)

const (
	ScoreExact     = 100
	ScorePrefix    = 90
	ScoreWord      = 80
	ScoreSubstring = 60
)

// KeywordMatch 单个关键词的评分结果
type KeywordMatch struct {
	Keyword string `json:"keyword"`
	Score   int    `json:"score"`
	Reason  string `json:"reason"`
}

// Score 计算关键词与文本的匹配分，未命中时返回 false
func Score(text, keyword string) (KeywordMatch, bool) {
	t := normalize(text)
	k := normalize(keyword)
	if k == "" {
		return KeywordMatch{}, false
	}

	switch {
	case t == k:
		return KeywordMatch{Keyword: k, Score: ScoreExact, Reason: ReasonExact}, true
	case strings.HasPrefix(t, k+" "):
		return KeywordMatch{Keyword: k, Score: ScorePrefix, Reason: ReasonPrefix}, true
	case containsWord(t, k):
		return KeywordMatch{Keyword: k, Score: ScoreWord, Reason: ReasonWord}, true
	case strings.Contains(t, k):
		return KeywordMatch{Keyword: k, Score: ScoreSubstring, Reason: ReasonSubstring}, true
	}
	return KeywordMatch{}, false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// containsWord 判断 k 是否以完整单词形式出现在 t 中（两侧为边界或非字母数字）
func containsWord(t, k string) bool {
	offset := 0
	for {
		idx := strings.Index(t[offset:], k)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(k)
		if boundaryBefore(t, start) && boundaryAfter(t, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(t[start:])
		offset = start + size
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
