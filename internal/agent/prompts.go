// internal/agent/prompts.go
package agent

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

// buildPlannerPrompt assembles the full textual context for one planning
// call: goal, latest tool feedback, review verdict, failure and loop
// signals, the pending form-field queue, and the trailing history.
func buildPlannerPrompt(s *TaskState, maxAttempts int) string {
	verification := s.verification()
	verificationJSON, err := json.MarshalToString(verification)
	if err != nil {
		verificationJSON = "{}"
	}

	pendingFields := strings.Join(s.PendingFormFields, ", ")
	if pendingFields == "" {
		pendingFields = "无"
	}

	failureType := "无"
	failureMessage := "无"
	if s.LastFailure != nil {
		if s.LastFailure.Type != "" {
			failureType = string(s.LastFailure.Type)
		}
		if s.LastFailure.Message != "" {
			failureMessage = s.LastFailure.Message
		}
	}

	loopHint := "无"
	if s.LoopAlert != nil && s.LoopAlert.Message != "" {
		loopHint = s.LoopAlert.Message
	}

	correctionHint := ""
	if s.CorrectionRequired {
		correctionHint = "当前处于纠错模式，必须提供与上一动作明显不同的新方案。"
	}

	return strings.TrimSpace(fmt.Sprintf(`
你现在控制着一个具备视觉能力的网页自动化代理，目标是通过多步操作完成用户的需求。请仔细观察最新截图，再结合历史信息，制定不会重复错误的新计划。

用户目标：%s
最近工具反馈：%s
当前针对同一动作的尝试次数：%d / %d
最新审查信息：%s
页面状态对比：%s
最近失败类别：%s
失败说明：%s
循环提示：%s
待填写的表单字段队列：%s
历史轨迹：
%s

关键规则：
1. 只有在确信任务目标已经完成且审查 completed=true 时，才能选择 action_type="finish" 并终止。
2. 当上一动作失败、页面没有发生变化，或循环提示存在时，必须分析失败原因并规划与上一动作不同的新策略，禁止重复失败动作或参数。
3. 如在当前屏幕找不到目标元素，请优先考虑 scroll 动作（direction: up/down/left/right, amount: 像素）探索其他区域。
4. 在输入搜索词且需要提交时，请在 type 动作中设置 press_enter 为 true。
5. 填写表单时需按照 pending_form_fields 的顺序逐项填写，确认全部完成后再提交或登录。
%s

可用动作：
- navigate: 打开网址，需要提供 url。
- click: 点击元素，需要提供 element_description。
- type: 输入文本，需要提供 text，可选 delay、press_enter。
- press_key: 按下按键，需要提供 key。
- wait: 等待页面加载，需要提供 timeout（毫秒）。
- scroll: 滚动页面，direction=up/down/left/right，amount=像素值（默认600）。
- finish: 任务结束。

请严格输出 JSON：
{
  "current_step": "string",
  "action_type": "navigate/click/type/press_key/wait/scroll/finish",
  "action_params": {...},
  "next": "tools/end",
  "reasoning": "string"
}`,
		s.Goal,
		cleanToolFeedback(s.ToolResult),
		s.AttemptCount, maxAttempts,
		verificationJSON,
		formatComparison(s.LastComparison),
		failureType,
		failureMessage,
		loopHint,
		pendingFields,
		FormatHistoryForPrompt(s.RecentViews),
		correctionHint,
	))
}

// buildVerifierPrompt assembles the review request for the latest action.
func buildVerifierPrompt(goal, lastAction string, params ActionParams, result *ToolResult, pendingFields []string) string {
	paramsJSON, err := json.MarshalToString(params)
	if err != nil {
		paramsJSON = "{}"
	}
	resultJSON := "{}"
	if result != nil {
		// The screenshot travels as an image part, not as prompt text.
		trimmed := *result
		trimmed.CurrentView = nil
		if s, err := json.MarshalToString(trimmed); err == nil {
			resultJSON = s
		}
	}
	pending := strings.Join(pendingFields, ", ")
	if pending == "" {
		pending = "无"
	}

	return strings.TrimSpace(fmt.Sprintf(`
你是一个网页自动化执行的审查员，需要判断当前动作是否让任务更接近目标，任务是否已经完成，以及接下来建议执行的动作。

用户目标：%s
最近一次执行动作：%s
动作参数：%s
工具返回摘要：%s
已有未完成的表单字段：%s

请基于截图进行审查，并严格返回 JSON，包含以下键：
{
  "completed": bool,
  "reason": "string",
  "should_continue": bool,
  "pending_form_fields": ["string", ...],
  "missing_actions": ["string", ...],
  "next_hint": "string",
  "confidence": float
}

如果你无法判断是否完成，请将 completed 设为 false，并在 reason 中说明原因。
当表单仍需填写时，请在 pending_form_fields 中按顺序列出需要填写的字段描述。`,
		goal, lastAction, paramsJSON, resultJSON, pending,
	))
}

// buildLocatePrompt asks the model for the center coordinate of one element.
func buildLocatePrompt(elementDescription string) string {
	return strings.TrimSpace(fmt.Sprintf(`
请在这个网页截图中找到以下元素: '%s'

请仔细分析图像并返回：
1. 该元素的中心坐标 (x, y)
2. 坐标必须是有效的数字，范围在图像大小内

只返回坐标，格式必须是 (x, y)，例如 (123, 456)`, elementDescription))
}

// cleanToolFeedback serializes the last tool result for the planner prompt
// with the screenshot payload stripped down to its metadata.
func cleanToolFeedback(result *ToolResult) string {
	if result == nil {
		return "无"
	}

	trimmed := *result
	if trimmed.CurrentView != nil {
		view := *trimmed.CurrentView
		view.ScreenshotPNG = nil
		view.ScreenshotBase64 = ""
		trimmed.CurrentView = &view
	}

	s, err := json.MarshalToString(trimmed)
	if err != nil {
		return fmt.Sprintf("%+v", trimmed)
	}
	return s
}

// formatComparison renders the last view comparison as a short phrase.
func formatComparison(comparison *ViewComparison) string {
	if comparison == nil {
		return "缺少比较信息"
	}
	changed := "无明显变化"
	if comparison.Changed {
		changed = "有变化"
	}
	return fmt.Sprintf("%s（相似度 %.2f）", changed, comparison.Similarity)
}
