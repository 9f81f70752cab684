// internal/agent/heuristic.go
package agent

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// domainPattern extracts literal domains from goal text across the TLDs the
// agent commonly encounters.
var domainPattern = regexp.MustCompile(`(?i)(?:https?://)?([a-z0-9.-]+\.(?:com|cn|net|org|io|gov|edu|top|vip|info|co|shop|xyz|tv|cc))`)

// knownSiteKeywords maps brand names in the operating locale to their
// canonical domains. This is a replaceable policy table, not an algorithm;
// swap it out wholesale for a different locale.
var knownSiteKeywords = map[string]string{
	"百度":        "baidu.com",
	"谷歌":        "google.com",
	"google":    "google.com",
	"淘宝":        "taobao.com",
	"京东":        "jd.com",
	"拼多多":       "pinduoduo.com",
	"抖音":        "douyin.com",
	"知乎":        "zhihu.com",
	"微信":        "weixin.qq.com",
	"微博":        "weibo.com",
	"b站":        "bilibili.com",
	"哔哩":        "bilibili.com",
	"小红书":       "xiaohongshu.com",
	"苹果":        "apple.com",
	"iphone":    "apple.com",
	"apple":     "apple.com",
	"youtube":   "youtube.com",
	"twitter":   "twitter.com",
	"推特":        "twitter.com",
	"instagram": "instagram.com",
}

// extractGoalDomains collects candidate domains from the goal text via the
// TLD regex and the keyword table.
func extractGoalDomains(goal string) []string {
	seen := map[string]struct{}{}
	for _, m := range domainPattern.FindAllStringSubmatch(goal, -1) {
		seen[strings.ToLower(m[1])] = struct{}{}
	}
	lower := strings.ToLower(goal)
	for keyword, domain := range knownSiteKeywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			seen[domain] = struct{}{}
		}
	}

	domains := make([]string, 0, len(seen))
	for d := range seen {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// HeuristicGoalMatch checks whether the current page host matches a domain
// inferable from the goal text. It is a safety net against a wrong or
// overconfident model review: a match carries confidence 0.8 and only
// overrides degraded or low-confidence verdicts.
func HeuristicGoalMatch(goal, currentURL string) HeuristicMatch {
	match := HeuristicMatch{URL: currentURL, ExpectedDomains: []string{}}

	if currentURL == "" {
		match.Reason = "缺少当前 URL"
		return match
	}

	parsed, err := url.Parse(currentURL)
	host := ""
	if err == nil {
		host = strings.ToLower(parsed.Hostname())
	}
	if host == "" {
		match.Reason = "当前 URL 缺少域名"
		return match
	}

	expected := extractGoalDomains(goal)
	match.ExpectedDomains = expected
	if len(expected) == 0 {
		match.Reason = "用户目标中未识别到目标域"
		return match
	}

	// eTLD+1 catches regional variants like google.com.hk that plain
	// substring matching on the goal domain would miss.
	registrable, _ := publicsuffix.EffectiveTLDPlusOne(host)

	for _, domain := range expected {
		if domain == "" {
			continue
		}
		if strings.Contains(host, domain) || sameSite(registrable, domain) {
			match.Matched = true
			match.Domain = domain
			match.Reason = fmt.Sprintf("当前域名 %s 匹配目标 %s", host, domain)
			match.Confidence = 0.8
			return match
		}
	}

	match.Reason = fmt.Sprintf("当前域名 %s 未匹配目标域", host)
	return match
}

// sameSite reports whether the registrable domain shares its site label
// with the expected domain (e.g. google.com.hk vs google.com).
func sameSite(registrable, expected string) bool {
	if registrable == "" || expected == "" {
		return false
	}
	rl := strings.SplitN(registrable, ".", 2)
	el := strings.SplitN(expected, ".", 2)
	return rl[0] != "" && rl[0] == el[0]
}
