// internal/agent/compare.go
package agent

// CompareViews decides whether two views represent a meaningfully different
// page state. Missing views or missing perceptual hashes fail open toward
// "changed" so absent metadata can never manufacture a stale-page failure.
// Exact-hash equality short-circuits: identical bytes are identical pages.
func CompareViews(prev, curr *View, changeThreshold float64) ViewComparison {
	if prev == nil || curr == nil {
		return ViewComparison{Changed: true, Similarity: 0, Reason: "缺少比较视图", Distance: 1}
	}

	hashEqual := prev.ContentHash != "" && prev.ContentHash == curr.ContentHash
	if hashEqual {
		return ViewComparison{Changed: false, Similarity: 1, HashEqual: true, Reason: "截图完全一致", Distance: 0}
	}

	distance := hammingDistance(prev.PerceptualHash, curr.PerceptualHash)
	if distance < 0 {
		return ViewComparison{Changed: true, Similarity: 0, HashEqual: hashEqual, Reason: "缺少哈希信息", Distance: 1}
	}

	normalized := float64(distance) / float64(hashSize*hashSize)
	changed := normalized >= changeThreshold
	similarity := 1 - normalized
	if similarity < 0 {
		similarity = 0
	}

	reason := "视觉变化不足"
	if changed {
		reason = "视觉变化显著"
	}
	return ViewComparison{
		Changed:    changed,
		Similarity: similarity,
		HashEqual:  false,
		Reason:     reason,
		Distance:   normalized,
	}
}
