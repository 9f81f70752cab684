// File: internal/agent/history_test.go
package agent

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryWithHash(hash, step string) HistoryEntry {
	return HistoryEntry{ViewHash: hash, ActionType: "click", Step: step}
}

func TestUpdateHistory(t *testing.T) {
	t.Run("capacity never exceeded, oldest evicted first", func(t *testing.T) {
		var history []HistoryEntry
		for i := 0; i < 20; i++ {
			history = UpdateHistory(history, entryWithHash(fmt.Sprintf("h%d", i), fmt.Sprintf("step %d", i)), 5)
			assert.LessOrEqual(t, len(history), 5)
		}
		require.Len(t, history, 5)
		assert.Equal(t, "h15", history[0].ViewHash)
		assert.Equal(t, "h19", history[4].ViewHash)
	})

	t.Run("empty view hash is a no-op", func(t *testing.T) {
		history := []HistoryEntry{entryWithHash("h1", "step 1")}
		updated := UpdateHistory(history, HistoryEntry{ActionType: "wait"}, 5)
		assert.Equal(t, history, updated)
	})

	t.Run("does not mutate the input slice", func(t *testing.T) {
		history := []HistoryEntry{entryWithHash("h1", "step 1")}
		_ = UpdateHistory(history, entryWithHash("h2", "step 2"), 5)
		require.Len(t, history, 1)
		assert.Equal(t, "h1", history[0].ViewHash)
	})

	t.Run("limit of one keeps only the newest", func(t *testing.T) {
		history := []HistoryEntry{entryWithHash("h1", "step 1")}
		updated := UpdateHistory(history, entryWithHash("h2", "step 2"), 1)
		require.Len(t, updated, 1)
		assert.Equal(t, "h2", updated[0].ViewHash)
	})
}

func TestDetectVisualLoop(t *testing.T) {
	t.Run("no alert on empty history", func(t *testing.T) {
		assert.Nil(t, DetectVisualLoop(nil, "h1", 4))
	})

	t.Run("no alert without a current hash", func(t *testing.T) {
		history := []HistoryEntry{entryWithHash("h1", "step 1")}
		assert.Nil(t, DetectVisualLoop(history, "", 4))
	})

	t.Run("repeat within window is reported with the earlier step", func(t *testing.T) {
		history := []HistoryEntry{
			entryWithHash("h1", "打开首页"),
			entryWithHash("h2", "点击搜索框"),
		}
		alert := DetectVisualLoop(history, "h2", 4)
		require.NotNil(t, alert)
		assert.Equal(t, "点击搜索框", alert.RepeatStep)
		assert.Equal(t, "检测到视觉状态重复，可能陷入循环", alert.Message)
		assert.Equal(t, 1, alert.HistoryIndex)
	})

	t.Run("matches outside the window are ignored", func(t *testing.T) {
		history := []HistoryEntry{
			entryWithHash("old", "ancient step"),
			entryWithHash("h2", "step 2"),
			entryWithHash("h3", "step 3"),
			entryWithHash("h4", "step 4"),
			entryWithHash("h5", "step 5"),
		}
		assert.Nil(t, DetectVisualLoop(history, "old", 4))
	})

	t.Run("history index is absolute, not window relative", func(t *testing.T) {
		history := []HistoryEntry{
			entryWithHash("h1", "step 1"),
			entryWithHash("h2", "step 2"),
			entryWithHash("h3", "step 3"),
			entryWithHash("h4", "step 4"),
			entryWithHash("h5", "step 5"),
		}
		alert := DetectVisualLoop(history, "h3", 4)
		require.NotNil(t, alert)
		assert.Equal(t, 2, alert.HistoryIndex)
	})
}

func TestFormatHistoryForPrompt(t *testing.T) {
	t.Run("empty history", func(t *testing.T) {
		assert.Equal(t, "无历史记录", FormatHistoryForPrompt(nil))
	})

	t.Run("renders the trailing five with truncated hashes", func(t *testing.T) {
		ts := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
		var history []HistoryEntry
		for i := 0; i < 7; i++ {
			history = append(history, HistoryEntry{
				ViewHash:   fmt.Sprintf("abcdef0123456789-%d", i),
				ActionType: "click",
				Step:       fmt.Sprintf("step %d", i),
				Timestamp:  ts,
				URL:        "https://www.baidu.com",
			})
		}

		text := FormatHistoryForPrompt(history)
		assert.NotContains(t, text, "step 0")
		assert.NotContains(t, text, "step 1")
		assert.Contains(t, text, "[https://www.baidu.com] click (视图 abcdef01)")
		assert.Contains(t, text, "2026-08-26T10:00:00Z")
	})

	t.Run("missing metadata falls back to placeholders", func(t *testing.T) {
		text := FormatHistoryForPrompt([]HistoryEntry{{ViewHash: "h1", ActionType: "wait"}})
		assert.Contains(t, text, "最近")
		assert.Contains(t, text, "[unknown]")
	})
}
