// File: internal/agent/coordinator_test.go
package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiyun0912/webpilot/internal/config"
)

const (
	googlePlanJSON = `{
		"current_step": "打开谷歌首页",
		"action_type": "navigate",
		"action_params": {"url": "https://www.google.com"},
		"next": "tools",
		"reasoning": "目标要求先打开谷歌"
	}`
	clickPlanJSON = `{
		"current_step": "点击搜索框",
		"action_type": "click",
		"action_params": {"element_description": "页面中央的搜索输入框"},
		"next": "tools",
		"reasoning": "需要先聚焦搜索框"
	}`
	emptyClickPlanJSON = `{
		"current_step": "点击第一个结果",
		"action_type": "click",
		"action_params": {},
		"next": "tools",
		"reasoning": "尝试打开结果"
	}`
	finishPlanJSON = `{
		"current_step": "任务完成",
		"action_type": "finish",
		"action_params": {},
		"next": "end",
		"reasoning": "目标页面已经打开"
	}`
	notDonePlanJSON = `{
		"current_step": "任务完成",
		"action_type": "finish",
		"action_params": {},
		"next": "end",
		"reasoning": "我觉得做完了"
	}`
)

type coordFixture struct {
	driver        *mockDriver
	plannerModel  *mockCompleter
	verifierModel *mockCompleter
	locatorModel  *mockCompleter
	coord         *Coordinator
}

func newCoordFixture(t *testing.T, driver *mockDriver, maxSteps int) *coordFixture {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Agent.MaxSteps = maxSteps

	f := &coordFixture{
		driver:        driver,
		plannerModel:  &mockCompleter{},
		verifierModel: &mockCompleter{},
		locatorModel:  &mockCompleter{},
	}
	locator := NewLocator(f.locatorModel, driver, cfg.Vision, testLogger())
	executor := NewExecutor(driver, locator, cfg, testLogger())
	f.coord = NewCoordinator(
		NewPlanner(f.plannerModel, cfg.Agent, testLogger()),
		executor,
		NewVerifier(f.verifierModel, testLogger()),
		cfg.Agent,
		testLogger(),
	)
	return f
}

func TestCoordinatorNavigateScenario(t *testing.T) {
	// Goal from the canonical walkthrough: open Google and search for the
	// NJUPT site. The first planned action navigates, the heuristic then
	// confirms the google.com landing, and the follow-up finish is allowed.
	home := checkerPNG(t, 8)
	google := checkerPNG(t, 32)

	driver := &mockDriver{shots: [][]byte{home, google}}
	f := newCoordFixture(t, driver, 10)
	f.plannerModel.responses = []string{googlePlanJSON, finishPlanJSON}

	state, err := f.coord.Run(context.Background(), "打开谷歌并搜索南京邮电大学官网")
	require.NoError(t, err)

	require.NotNil(t, state.ToolResult)
	assert.True(t, state.ToolResult.Success)
	assert.Equal(t, []string{"https://www.google.com"}, driver.navigated)
	require.NotNil(t, state.ToolResult.CurrentView)
	assert.NotEmpty(t, state.ToolResult.CurrentView.PerceptualHash)

	// Navigation skips the model review; the domain heuristic stands in.
	assert.Zero(t, f.verifierModel.callCount())
	require.NotNil(t, state.Verification)
	assert.Equal(t, VerifyStatusHeuristic, state.Verification.Status)
	assert.True(t, state.Verification.Completed)
	assert.True(t, state.ToolResult.VerifiedSuccess)
	assert.GreaterOrEqual(t, state.Verification.Confidence, 0.75)

	assert.Equal(t, DecisionEnd, state.Decision)
	assert.NotEmpty(t, state.Transcript)
}

func TestCoordinatorEndGateCoercion(t *testing.T) {
	// The planner tries to end while the reviewer still says the goal is
	// incomplete; the end is overridden into a short wait.
	pageA := checkerPNG(t, 8)
	pageB := checkerPNG(t, 32)
	pageC := checkerPNG(t, 16)

	driver := &mockDriver{shots: [][]byte{pageA, pageA, pageB, pageC}}
	f := newCoordFixture(t, driver, 2)
	f.plannerModel.responses = []string{clickPlanJSON, notDonePlanJSON}
	f.locatorModel.responses = []string{"(320, 240)"}
	f.verifierModel.responses = []string{`{
		"completed": false,
		"should_continue": true,
		"reason": "搜索尚未提交",
		"confidence": 0.9
	}`}

	state, err := f.coord.Run(context.Background(), "随便逛逛看看页面")
	require.NoError(t, err)

	// The coerced wait replaced the proposed finish.
	assert.Equal(t, string(ActionWait), state.ActionType)
	assert.Equal(t, 1500, state.ActionParams.TimeoutMs)
	assert.Equal(t, DecisionTools, state.Decision)
	require.GreaterOrEqual(t, len(state.Transcript), 2)
	assert.Contains(t, state.Transcript[len(state.Transcript)-1], "已达到最大步数限制")
	assert.Contains(t, state.Transcript[len(state.Transcript)-2], "执行结果")
}

func TestCoordinatorVisualStaleDowngrade(t *testing.T) {
	// A click that reports success against an unchanged page is a failure.
	page := checkerPNG(t, 8)
	driver := &mockDriver{shots: [][]byte{page}}
	f := newCoordFixture(t, driver, 1)
	f.plannerModel.responses = []string{clickPlanJSON}
	f.locatorModel.responses = []string{"(320, 240)"}

	state, err := f.coord.Run(context.Background(), "随便逛逛看看页面")
	require.NoError(t, err)

	require.NotNil(t, state.ToolResult)
	assert.False(t, state.ToolResult.Success)
	assert.Equal(t, FailureVisualStale, state.ToolResult.FailureType)
	assert.Contains(t, state.ToolResult.Message, "页面未发生明显变化")
	assert.True(t, state.CorrectionRequired)
	assert.Equal(t, 0, state.AttemptCount, "forced correction resets the attempt counter")
	assert.Zero(t, f.verifierModel.callCount(), "downgraded failures skip the review")
}

func TestCoordinatorWaitIsNotStale(t *testing.T) {
	// Two captures of a static page are identical, but a wait that changes
	// nothing is not a stale failure.
	page := checkerPNG(t, 8)
	driver := &mockDriver{shots: [][]byte{page}}
	f := newCoordFixture(t, driver, 1)
	f.plannerModel.responses = []string{`{
		"current_step": "等待页面稳定",
		"action_type": "wait",
		"action_params": {"timeout": 1000},
		"next": "tools",
		"reasoning": "页面可能还在加载"
	}`}

	state, err := f.coord.Run(context.Background(), "随便逛逛看看页面")
	require.NoError(t, err)

	require.NotNil(t, state.ToolResult)
	assert.True(t, state.ToolResult.Success)
	assert.Empty(t, state.ToolResult.FailureType)
	require.NotNil(t, state.LastComparison)
	assert.True(t, state.LastComparison.HashEqual)
	assert.False(t, state.CorrectionRequired)
}

func TestCoordinatorLoopDetection(t *testing.T) {
	// The same visual hash observed twice inside the window raises a loop
	// alert referencing the earlier step and forces correction.
	pageA := checkerPNG(t, 8)
	pageB := checkerPNG(t, 32)

	driver := &mockDriver{shots: [][]byte{pageA, pageA, pageB}}
	f := newCoordFixture(t, driver, 2)
	f.plannerModel.responses = []string{clickPlanJSON, clickPlanJSON}
	f.locatorModel.responses = []string{"(320, 240)"}
	f.verifierModel.responses = []string{`{
		"completed": false,
		"should_continue": true,
		"reason": "还没有输入搜索词",
		"confidence": 0.6
	}`}

	state, err := f.coord.Run(context.Background(), "随便逛逛看看页面")
	require.NoError(t, err)

	require.NotNil(t, state.LoopAlert)
	assert.Equal(t, "点击搜索框", state.LoopAlert.RepeatStep)
	assert.Equal(t, FailureLoop, state.ToolResult.FailureType)
	assert.Contains(t, state.ToolResult.Message, "检测到循环，需要改变策略")
	assert.True(t, state.CorrectionRequired)
}

func TestCoordinatorStructuredParameterFailure(t *testing.T) {
	// A click without an element description must fail soft and keep the
	// loop alive for another planning round.
	pageA := checkerPNG(t, 8)
	pageB := checkerPNG(t, 32)

	driver := &mockDriver{shots: [][]byte{pageA, pageB}}
	f := newCoordFixture(t, driver, 2)
	f.plannerModel.responses = []string{emptyClickPlanJSON, emptyClickPlanJSON}

	state, err := f.coord.Run(context.Background(), "随便逛逛看看页面")
	require.NoError(t, err)

	require.NotNil(t, state.ToolResult)
	assert.False(t, state.ToolResult.Success)
	assert.Contains(t, state.ToolResult.Message, "缺少 element_description 参数")
	assert.True(t, state.CorrectionRequired)
	assert.Zero(t, f.locatorModel.callCount(), "no locate call without a description")
	// Both steps ran; the failure did not terminate the loop.
	assert.Equal(t, 2, f.plannerModel.callCount())
}

func TestCoordinatorHeuristicOverridesBrokenVerifier(t *testing.T) {
	// The reviewer call fails, but the current host matches the goal's
	// domain; the verdict is overridden to a heuristic completion.
	pageA := checkerPNG(t, 8)
	pageB := checkerPNG(t, 32)

	driver := &mockDriver{shots: [][]byte{pageA, pageA, pageB}, url: "https://www.taobao.com/search?q=iphone"}
	f := newCoordFixture(t, driver, 1)
	f.plannerModel.responses = []string{clickPlanJSON}
	f.locatorModel.responses = []string{"(320, 240)"}
	f.verifierModel.err = errors.New("bad gateway")

	state, err := f.coord.Run(context.Background(), "在淘宝搜索iPhone 15")
	require.NoError(t, err)

	require.NotNil(t, state.Verification)
	assert.Equal(t, VerifyStatusHeuristic, state.Verification.Status)
	assert.True(t, state.Verification.Completed)
	assert.Contains(t, state.Verification.Reason, "taobao.com")
	assert.True(t, state.ToolResult.VerifiedSuccess)
	assert.Equal(t, 0, state.AttemptCount, "verified success resets the attempt counter")
}

func TestCoordinatorProtocolErrorTerminates(t *testing.T) {
	page := checkerPNG(t, 8)
	driver := &mockDriver{shots: [][]byte{page}}
	f := newCoordFixture(t, driver, 5)
	f.plannerModel.responses = []string{"下一步我们应该……嗯……"}

	state, err := f.coord.Run(context.Background(), "打开百度")
	assert.ErrorIs(t, err, ErrPlanProtocol)
	assert.Equal(t, DecisionEnd, state.Decision)
	assert.Contains(t, strings.Join(state.Transcript, "\n"), "规划器返回格式错误")
	assert.Equal(t, 1, f.plannerModel.callCount())
}

func TestCoordinatorCaptureFailureTerminates(t *testing.T) {
	driver := &mockDriver{shotErr: errors.New("no controllable page")}
	f := newCoordFixture(t, driver, 5)

	_, err := f.coord.Run(context.Background(), "打开百度")
	assert.ErrorIs(t, err, ErrCaptureFailed)
	assert.Zero(t, f.plannerModel.callCount())
}

func TestCoordinatorContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver := &mockDriver{shots: [][]byte{checkerPNG(t, 8)}}
	f := newCoordFixture(t, driver, 5)

	_, err := f.coord.Run(ctx, "打开百度")
	assert.ErrorIs(t, err, context.Canceled)
}
