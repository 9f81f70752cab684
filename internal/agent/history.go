// internal/agent/history.go
package agent

import (
	"fmt"
	"strings"
)

// UpdateHistory appends an entry and trims the log to the most recent limit
// entries, oldest evicted first. An empty view hash is a no-op: a failed
// capture must not pollute loop detection with empty hashes that would
// spuriously match each other.
func UpdateHistory(history []HistoryEntry, entry HistoryEntry, limit int) []HistoryEntry {
	if entry.ViewHash == "" {
		return history
	}
	if limit <= 1 {
		return []HistoryEntry{entry}
	}

	updated := history
	if len(updated) > limit-1 {
		updated = updated[len(updated)-(limit-1):]
	}
	out := make([]HistoryEntry, len(updated), len(updated)+1)
	copy(out, updated)
	return append(out, entry)
}

// DetectVisualLoop scans the last window entries for an exact hash repeat of
// currentHash. No hash or no history means no alert; a loop cannot be
// claimed without a signature.
func DetectVisualLoop(history []HistoryEntry, currentHash string, window int) *LoopAlert {
	if currentHash == "" || len(history) == 0 {
		return nil
	}

	start := len(history) - window
	if start < 0 {
		start = 0
	}
	for i := start; i < len(history); i++ {
		if history[i].ViewHash == currentHash {
			return &LoopAlert{
				RepeatStep:   history[i].Step,
				Message:      "检测到视觉状态重复，可能陷入循环",
				HistoryIndex: i,
			}
		}
	}
	return nil
}

// FormatHistoryForPrompt renders the trailing history as prompt text, one
// line per step with the hash truncated to 8 chars.
func FormatHistoryForPrompt(history []HistoryEntry) string {
	if len(history) == 0 {
		return "无历史记录"
	}

	start := len(history) - 5
	if start < 0 {
		start = 0
	}

	var lines []string
	for _, entry := range history[start:] {
		timestamp := "最近"
		if !entry.Timestamp.IsZero() {
			timestamp = entry.Timestamp.Format("2006-01-02T15:04:05Z07:00")
		}
		url := entry.URL
		if url == "" {
			url = "unknown"
		}
		hash := entry.ViewHash
		if hash == "" {
			hash = "-"
		} else if len(hash) > 8 {
			hash = hash[:8]
		}
		lines = append(lines, fmt.Sprintf("- %s: [%s] %s (视图 %s)", timestamp, url, entry.ActionType, hash))
	}
	return strings.Join(lines, "\n")
}
