// internal/agent/classify.go
package agent

import "strings"

// Failure vocabularies, matched against the lower-cased message. The lists
// are bilingual because the executors and the model both report in a mix of
// Chinese and English.
var (
	logicalKeywords   = []string{"missing", "不存在", "未找到", "缺少", "无效", "not found", "invalid"}
	transientKeywords = []string{"超时", "timeout", "网络", "失败", "exception", "异常", "retry"}
)

// ClassifyFailure maps an action outcome message plus the view comparison
// onto a failure category. First match wins: an unchanged page is stale
// regardless of wording, then logical keywords, then transient ones. This is
// a best-effort heuristic that steers retry strategy; a wrong category must
// never break the loop.
func ClassifyFailure(message string, comparison *ViewComparison) FailureType {
	if comparison != nil && !comparison.Changed {
		return FailureVisualStale
	}

	normalized := strings.ToLower(message)
	for _, kw := range logicalKeywords {
		if strings.Contains(normalized, kw) {
			return FailureLogical
		}
	}
	for _, kw := range transientKeywords {
		if strings.Contains(normalized, kw) {
			return FailureTransient
		}
	}
	return FailureUnclassified
}
