// internal/agent/coordinator.go
package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weiyun0912/webpilot/internal/config"
)

// Coordinator runs the control loop: PLANNING, EXECUTING, EVALUATING, then
// back to PLANNING until a completion gate or a terminal error halts it. It
// is the sole owner of the TaskState; planner, executor, and verifier see
// projections and return partial results that the coordinator merges.
type Coordinator struct {
	planner  *Planner
	executor *Executor
	verifier *Verifier
	cfg      config.AgentConfig
	logger   *zap.Logger
}

func NewCoordinator(planner *Planner, executor *Executor, verifier *Verifier, cfg config.AgentConfig, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		planner:  planner,
		executor: executor,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger.Named("coordinator"),
	}
}

// Run drives the browser toward the goal. The returned state carries the
// full transcript and the last tool result even when an error terminated
// the task early.
func (c *Coordinator) Run(ctx context.Context, goal string) (*TaskState, error) {
	state := &TaskState{
		TaskID:            uuid.NewString(),
		Goal:              goal,
		PendingFormFields: []string{},
	}
	logger := c.logger.With(zap.String("task_id", state.TaskID))
	logger.Info("Task started", zap.String("goal", goal))

	for step := 0; step < c.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		done, err := c.planStep(ctx, state, logger)
		if err != nil {
			return state, err
		}
		if done {
			logger.Info("Task terminated by planner", zap.Int("steps", step+1))
			return state, nil
		}

		c.executeAndEvaluate(ctx, state, logger)
	}

	state.appendTranscript("已达到最大步数限制，任务终止")
	logger.Warn("Task hit the step limit", zap.Int("max_steps", c.cfg.MaxSteps))
	return state, nil
}

// planStep runs the PLANNING state. It returns done=true when the task may
// terminate, and a non-nil error on protocol or resource failures, both of
// which are terminal.
func (c *Coordinator) planStep(ctx context.Context, state *TaskState, logger *zap.Logger) (bool, error) {
	view := currentViewOf(state)
	if view == nil {
		captured, err := c.executor.CaptureView(ctx, "agent_plan")
		if err != nil {
			state.appendTranscript(fmt.Sprintf("无法获取页面截图：%v", err))
			return false, err
		}
		view = captured
	}
	state.AgentView = view

	plan, err := c.planner.Plan(ctx, state, view)
	if err != nil {
		state.CurrentStep = "解析失败，任务结束"
		state.ActionType = string(ActionFinish)
		state.Decision = DecisionEnd
		state.appendTranscript("规划器返回格式错误，任务终止。")
		return false, err
	}

	decision := Decision(plan.Next)
	actionType := plan.ActionType
	actionParams := plan.ActionParams

	// A model-proposed end only stands when the latest review (model or
	// heuristic) confirmed completion with enough confidence. Otherwise the
	// plan is redirected into a short wait so the loop re-evaluates.
	if decision == DecisionEnd && !c.allowEnd(state.verification()) {
		logger.Info("End decision overridden, goal not confirmed complete")
		decision = DecisionTools
		if ActionType(actionType) == ActionFinish {
			actionType = string(ActionWait)
			actionParams = ActionParams{TimeoutMs: 1500}
		}
	}

	state.CurrentStep = plan.CurrentStep
	state.ActionType = actionType
	state.ActionParams = actionParams
	state.Decision = decision
	state.appendTranscript(fmt.Sprintf("%s\n推理：%s", plan.CurrentStep, plan.Reasoning))

	return decision == DecisionEnd, nil
}

// allowEnd implements the completion gate: a review with status ok needs
// completed plus confidence at or above 0.6, a heuristic verdict needs 0.5.
// Without a standing verdict the planner's own judgment is accepted.
func (c *Coordinator) allowEnd(verification Verification) bool {
	switch verification.Status {
	case VerifyStatusOK:
		return verification.Completed && verification.Confidence >= 0.6
	case VerifyStatusHeuristic:
		return verification.Completed && verification.Confidence >= 0.5
	}
	return true
}

// executeAndEvaluate runs the EXECUTING and EVALUATING states and merges
// every signal into the next TaskState.
func (c *Coordinator) executeAndEvaluate(ctx context.Context, state *TaskState, logger *zap.Logger) {
	attempt := state.AttemptCount + 1
	if attempt > c.cfg.MaxAttempts {
		attempt = c.cfg.MaxAttempts
	}

	prevView := state.AgentView
	result := c.executor.Execute(ctx, state.ActionType, state.ActionParams)
	result.Attempt = attempt

	if result.CurrentView == nil {
		if view, err := c.executor.CaptureView(ctx, "tools_fallback"); err == nil {
			result.CurrentView = view
		}
	}

	comparison := CompareViews(prevView, result.CurrentView, c.cfg.ChangeThreshold)

	viewHash := ""
	if result.CurrentView != nil {
		viewHash = result.CurrentView.ContentHash
	}
	loopAlert := DetectVisualLoop(state.RecentViews, viewHash, c.cfg.LoopWindow)

	entry := HistoryEntry{
		ViewHash:   viewHash,
		ActionType: result.ActionType,
		Step:       state.CurrentStep,
	}
	if result.CurrentView != nil {
		entry.Timestamp = result.CurrentView.Timestamp
		entry.URL = result.CurrentView.URL
	}
	history := UpdateHistory(state.RecentViews, entry, c.cfg.HistoryLimit)

	// "The click worked" and "the click accomplished anything" are separate
	// claims; a success on an unchanged page is downgraded to a failure.
	// Pure pauses are exempt: a wait that changes nothing is not stale.
	var failureType FailureType
	if result.Success && !comparison.Changed && expectsVisibleChange(result.ActionType) {
		result.Success = false
		result.Message += " | 页面未发生明显变化"
		failureType = FailureVisualStale
	}
	if loopAlert != nil {
		result.Success = false
		result.Message += " | 检测到循环，需要改变策略"
		failureType = FailureLoop
	}
	if !result.Success && failureType == "" {
		failureType = ClassifyFailure(result.Message, &comparison)
	}
	correctionRequired := failureType.ForcesCorrection() || loopAlert != nil

	result.FailureType = failureType
	result.Comparison = &comparison

	if !result.Success && attempt >= c.cfg.MaxAttempts && !correctionRequired {
		result.Message += "（已达到最大重试次数）"
	}

	verification := skippedVerification(state.PendingFormFields)
	if !ShouldSkip(result) {
		verification = c.verifier.Evaluate(ctx, state.Goal, result, state.PendingFormFields)
	}

	heuristic := HeuristicGoalMatch(state.Goal, resultURL(result))
	result.Heuristic = &heuristic
	c.applyHeuristicOverride(&heuristic, verification, logger)

	verifiedSuccess := false
	if verification.Status == VerifyStatusOK || verification.Status == VerifyStatusHeuristic {
		verifiedSuccess = result.Success && verification.Completed
	}
	result.VerifiedSuccess = verifiedSuccess
	result.Verification = verification
	result.Message += " | " + reviewSuffix(verification, verifiedSuccess)

	logger.Info("Action evaluated",
		zap.String("action", result.ActionType),
		zap.Bool("success", result.Success),
		zap.Bool("verified", verifiedSuccess),
		zap.String("failure_type", string(failureType)),
		zap.String("message", result.Message))

	nextAttempt := attempt
	if verifiedSuccess || correctionRequired {
		nextAttempt = 0
	}

	var lastFailure *FailureRecord
	if !result.Success {
		lastFailure = &FailureRecord{
			Type:    failureType,
			Message: result.Message,
			Action:  result.ActionType,
			Attempt: attempt,
		}
	}

	state.ToolResult = result
	state.AttemptCount = nextAttempt
	state.Verification = verification
	state.PendingFormFields = verification.PendingFormFields
	state.LastFailure = lastFailure
	state.CorrectionRequired = correctionRequired
	state.LastComparison = &comparison
	state.RecentViews = history
	state.LoopAlert = loopAlert
	state.appendTranscript(fmt.Sprintf("执行结果：%s\n审查意见：%s\n下一步提示：%s",
		result.Message, verification.Reason, verification.NextHint))
}

// applyHeuristicOverride lets a domain match stand in for a degraded or
// low-confidence review. It never overrides a confident explicit verdict.
func (c *Coordinator) applyHeuristicOverride(heuristic *HeuristicMatch, verification *Verification, logger *zap.Logger) {
	if !heuristic.Matched {
		return
	}
	shouldOverride := !verification.Completed ||
		verification.Status == VerifyStatusError ||
		verification.Status == VerifyStatusSkipped ||
		verification.Status == VerifyStatusUnknown ||
		verification.Confidence < 0.4
	if !shouldOverride {
		return
	}

	confidence := verification.Confidence
	if heuristic.Confidence > confidence {
		confidence = heuristic.Confidence
	}
	if confidence < 0.75 {
		confidence = 0.75
	}

	verification.Completed = true
	verification.ShouldContinue = false
	verification.Reason = heuristic.Reason
	verification.MissingActions = []string{}
	verification.NextHint = "任务目标已满足（启发式判定）"
	verification.Confidence = confidence
	verification.Status = VerifyStatusHeuristic

	logger.Info("Heuristic override applied",
		zap.String("domain", heuristic.Domain),
		zap.Float64("confidence", confidence))
}

// reviewSuffix renders the transcript tail for the verification outcome.
func reviewSuffix(verification *Verification, verifiedSuccess bool) string {
	switch verification.Status {
	case VerifyStatusOK:
		if verifiedSuccess {
			return "审查通过"
		}
		return "审查未通过"
	case VerifyStatusHeuristic:
		if verification.Completed {
			return "启发式判定完成"
		}
		return "启发式判定未完成"
	case VerifyStatusError:
		return "审查跳过（模型异常）"
	}
	return "审查未启用"
}

// expectsVisibleChange reports whether a successful action should have
// altered what the page looks like.
func expectsVisibleChange(actionType string) bool {
	switch ActionType(actionType) {
	case ActionWait, ActionFinish:
		return false
	}
	return true
}

func currentViewOf(state *TaskState) *View {
	if state.ToolResult != nil && state.ToolResult.CurrentView != nil {
		return state.ToolResult.CurrentView
	}
	return nil
}

func resultURL(result *ToolResult) string {
	if result == nil {
		return ""
	}
	if result.URL != "" {
		return result.URL
	}
	if result.CurrentView != nil {
		return result.CurrentView.URL
	}
	return ""
}
