// internal/agent/executor.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/weiyun0912/webpilot/internal/config"
)

// Executor dispatches planned actions to the browser. Every branch
// validates its own parameters and fails soft: a missing parameter or a
// browser fault becomes a failure result with a diagnostic view, never a
// returned error.
type Executor struct {
	driver  Driver
	locator *Locator
	cfg     *config.Config
	logger  *zap.Logger
}

func NewExecutor(driver Driver, locator *Locator, cfg *config.Config, logger *zap.Logger) *Executor {
	return &Executor{
		driver:  driver,
		locator: locator,
		cfg:     cfg,
		logger:  logger.Named("executor"),
	}
}

// captureView snapshots the current page. A capture failure is reported as
// an error so callers convert it into an action failure; there is no silent
// default view.
func (e *Executor) captureView(ctx context.Context, label string) (*View, error) {
	png, err := e.driver.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	url, err := e.driver.CurrentURL(ctx)
	if err != nil {
		url = ""
	}
	return NewView(label, png, url)
}

// CaptureView is the capture entry point the coordinator uses for planning
// snapshots.
func (e *Executor) CaptureView(ctx context.Context, label string) (*View, error) {
	return e.captureView(ctx, label)
}

// failWithView builds a failure result carrying a fresh diagnostic view.
func (e *Executor) failWithView(ctx context.Context, label, message string) *ToolResult {
	result := &ToolResult{Success: false, Message: message}
	view, err := e.captureView(ctx, label)
	if err != nil {
		e.logger.Warn("Diagnostic capture failed", zap.String("label", label), zap.Error(err))
		return result
	}
	result.CurrentView = view
	return result
}

// Execute runs one action. The returned result always has Success and
// Message set; CurrentView is attached whenever a capture was possible.
func (e *Executor) Execute(ctx context.Context, actionType string, params ActionParams) *ToolResult {
	actionType = strings.ToLower(strings.TrimSpace(actionType))
	e.logger.Info("Executing action", zap.String("action", actionType))

	var result *ToolResult
	switch ActionType(actionType) {
	case ActionNavigate:
		result = e.execNavigate(ctx, params)
	case ActionClick:
		result = e.execClick(ctx, params)
	case ActionTypeText:
		result = e.execType(ctx, params)
	case ActionPressKey:
		result = e.execPressKey(ctx, params)
	case ActionWait:
		result = e.execWait(ctx, params)
	case ActionScroll:
		result = e.execScroll(ctx, params)
	case ActionFinish:
		result = e.execFinish(ctx)
	default:
		result = e.failWithView(ctx, "unknown_action", fmt.Sprintf("未知的动作类型: %s", actionType))
	}

	result.ActionType = actionType
	result.ActionParams = params
	return result
}

func (e *Executor) execNavigate(ctx context.Context, params ActionParams) *ToolResult {
	if params.URL == "" {
		return e.failWithView(ctx, "missing_url", "缺少 url 参数")
	}

	timeout := e.cfg.Network.NavigationTimeout
	if params.TimeoutMs > 0 {
		timeout = time.Duration(params.TimeoutMs) * time.Millisecond
	}

	if err := e.driver.Navigate(ctx, params.URL, timeout); err != nil {
		label, message := "navigate_error", fmt.Sprintf("打开 %s 失败: %v", params.URL, err)
		if strings.Contains(err.Error(), "timed out") {
			label, message = "navigate_timeout", fmt.Sprintf("打开 %s 超时", params.URL)
		}
		result := e.failWithView(ctx, label, message)
		result.URL = e.currentURL(ctx)
		return result
	}

	view, err := e.captureView(ctx, "navigate_success")
	if err != nil {
		return &ToolResult{Success: false, Message: fmt.Sprintf("导航后截图失败: %v", err)}
	}
	return &ToolResult{
		Success:     true,
		Message:     fmt.Sprintf("已打开 %s", params.URL),
		URL:         view.URL,
		CurrentView: view,
	}
}

func (e *Executor) execClick(ctx context.Context, params ActionParams) *ToolResult {
	if params.ElementDescription == "" {
		return e.failWithView(ctx, "missing_element_desc", "缺少 element_description 参数")
	}

	screenshot, err := e.driver.Screenshot(ctx)
	if err != nil {
		return e.failWithView(ctx, "click_error", fmt.Sprintf("点击失败: %v", err))
	}

	point, err := e.locator.Locate(ctx, params.ElementDescription, screenshot)
	if err != nil {
		return e.failWithView(ctx, "click_locate_error", fmt.Sprintf("点击失败: %v", err))
	}

	if err := e.driver.ClickAt(ctx, point.X, point.Y); err != nil {
		return e.failWithView(ctx, "click_error", fmt.Sprintf("点击失败: %v", err))
	}
	_ = e.driver.Sleep(ctx, 500*time.Millisecond)

	view, err := e.captureView(ctx, "click_success")
	if err != nil {
		return &ToolResult{Success: false, Message: fmt.Sprintf("点击后截图失败: %v", err), Coordinates: &point}
	}
	return &ToolResult{
		Success:     true,
		Message:     fmt.Sprintf("成功点击 %s", params.ElementDescription),
		Coordinates: &point,
		Element:     params.ElementDescription,
		CurrentView: view,
	}
}

func (e *Executor) execType(ctx context.Context, params ActionParams) *ToolResult {
	if params.Text == "" {
		return e.failWithView(ctx, "missing_text", "缺少 text 参数")
	}

	delay := e.cfg.Agent.TypeDelay
	if params.DelayMs > 0 {
		delay = time.Duration(params.DelayMs) * time.Millisecond
	}

	if err := e.driver.TypeText(ctx, params.Text, delay); err != nil {
		return e.failWithView(ctx, "type_text_error", fmt.Sprintf("输入文本失败: %v", err))
	}
	if params.PressEnter {
		if err := e.driver.PressKey(ctx, "enter"); err != nil {
			return e.failWithView(ctx, "type_enter_error", fmt.Sprintf("输入后回车失败: %v", err))
		}
	}
	_ = e.driver.Sleep(ctx, 300*time.Millisecond)

	view, err := e.captureView(ctx, "type_text")
	if err != nil {
		return &ToolResult{Success: false, Message: fmt.Sprintf("输入后截图失败: %v", err)}
	}
	return &ToolResult{
		Success:     true,
		Message:     fmt.Sprintf("成功输入文本: %s", params.Text),
		CurrentView: view,
	}
}

func (e *Executor) execPressKey(ctx context.Context, params ActionParams) *ToolResult {
	if params.Key == "" {
		return e.failWithView(ctx, "missing_key", "缺少 key 参数")
	}

	if err := e.driver.PressKey(ctx, params.Key); err != nil {
		return e.failWithView(ctx, "press_key_error", fmt.Sprintf("按键失败: %v", err))
	}
	_ = e.driver.Sleep(ctx, 300*time.Millisecond)

	view, err := e.captureView(ctx, "press_key")
	if err != nil {
		return &ToolResult{Success: false, Message: fmt.Sprintf("按键后截图失败: %v", err)}
	}
	return &ToolResult{
		Success:     true,
		Message:     fmt.Sprintf("成功按下按键: %s", params.Key),
		CurrentView: view,
	}
}

func (e *Executor) execWait(ctx context.Context, params ActionParams) *ToolResult {
	timeout := 10 * time.Second
	if params.TimeoutMs > 0 {
		timeout = time.Duration(params.TimeoutMs) * time.Millisecond
	}

	if err := e.driver.WaitForLoad(ctx, timeout); err != nil {
		result := e.failWithView(ctx, "wait_timeout", fmt.Sprintf("页面加载超时 (%dms)", timeout.Milliseconds()))
		result.URL = e.currentURL(ctx)
		return result
	}

	view, err := e.captureView(ctx, "wait_navigation")
	if err != nil {
		return &ToolResult{Success: false, Message: fmt.Sprintf("等待后截图失败: %v", err)}
	}
	return &ToolResult{
		Success:     true,
		Message:     "页面加载完成",
		URL:         view.URL,
		CurrentView: view,
	}
}

func (e *Executor) execScroll(ctx context.Context, params ActionParams) *ToolResult {
	direction := params.Direction
	if direction == "" {
		direction = "down"
	}
	amount := params.Amount
	if amount <= 0 {
		amount = e.cfg.Agent.ScrollAmount
	}

	if err := e.driver.Scroll(ctx, direction, amount); err != nil {
		return e.failWithView(ctx, "scroll_error", fmt.Sprintf("滚动失败: %v", err))
	}
	_ = e.driver.Sleep(ctx, 300*time.Millisecond)

	view, err := e.captureView(ctx, "scroll")
	if err != nil {
		return &ToolResult{Success: false, Message: fmt.Sprintf("滚动后截图失败: %v", err)}
	}
	return &ToolResult{
		Success:     true,
		Message:     fmt.Sprintf("已滚动页面: %s %dpx", direction, amount),
		CurrentView: view,
	}
}

func (e *Executor) execFinish(ctx context.Context) *ToolResult {
	view, err := e.captureView(ctx, "finish_review")
	if err != nil {
		return &ToolResult{Success: true, Message: "Agent 主动结束任务"}
	}
	return &ToolResult{
		Success:     true,
		Message:     "Agent 主动结束任务",
		URL:         view.URL,
		CurrentView: view,
	}
}

func (e *Executor) currentURL(ctx context.Context) string {
	url, err := e.driver.CurrentURL(ctx)
	if err != nil {
		return ""
	}
	return url
}
