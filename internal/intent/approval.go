package intent

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// approvalPhrases 视为“批准”的回复，按首词匹配
var approvalPhrases = []string{
	"approve", "approved", "ok", "okay", "yes", "yep",
	"go ahead", "proceed", "run it", "do it", "execute", "start",
}

// IsApprovalPhrase 判断回复是否为批准。
// 不区分大小写，要求短语位于开头且其后为结尾或非字母字符，
// 所以 "Yes, please proceed" 命中而 "yesterday was fine" 不命中。
func IsApprovalPhrase(text string) bool {
	t := strings.Join(strings.Fields(normalize(text)), " ")
	if t == "" {
		return false
	}
	for _, phrase := range approvalPhrases {
		if !strings.HasPrefix(t, phrase) {
			continue
		}
		rest := t[len(phrase):]
		if rest == "" {
			return true
		}
		r, _ := utf8.DecodeRuneInString(rest)
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
