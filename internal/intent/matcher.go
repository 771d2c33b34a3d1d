package intent

import "strings"

// Candidate 参与匹配的候选项（工作流或意图规则）
type Candidate struct {
	Name     string
	Keywords []string
	Ref      any
}

// Match 最佳匹配结果
type Match struct {
	Candidate Candidate
	KeywordMatch
}

// Matcher 基于关键词评分的意图匹配器
type Matcher struct{}

// NewMatcher 创建匹配器
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match 选出 (score, 关键词长度) 最大的候选；同分同长保留先出现者
func (m *Matcher) Match(text string, candidates []Candidate) (*Match, bool) {
	var best *Match
	for _, c := range candidates {
		for _, kw := range candidateKeywords(c) {
			km, ok := Score(text, kw)
			if !ok {
				continue
			}
			if best == nil || outranks(km, best.KeywordMatch) {
				best = &Match{Candidate: c, KeywordMatch: km}
			}
		}
	}
	return best, best != nil
}

// candidateKeywords 展开候选关键词；没有非空关键词时以名称作为唯一关键词
func candidateKeywords(c Candidate) []string {
	keywords := make([]string, 0, len(c.Keywords))
	for _, kw := range c.Keywords {
		if strings.TrimSpace(kw) != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 && strings.TrimSpace(c.Name) != "" {
		keywords = append(keywords, c.Name)
	}
	return keywords
}

func outranks(a, b KeywordMatch) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return len([]rune(a.Keyword)) > len([]rune(b.Keyword))
}
