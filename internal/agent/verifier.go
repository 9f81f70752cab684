// internal/agent/verifier.go
package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/weiyun0912/webpilot/internal/llmutil"
	"github.com/weiyun0912/webpilot/internal/vision"
)

// Verifier is the independent reviewer: a second model call that judges
// whether the goal is satisfied after an action. It never propagates an
// error to the loop; failures degrade to a low-confidence "error" record.
type Verifier struct {
	model  vision.Completer
	logger *zap.Logger
}

func NewVerifier(model vision.Completer, logger *zap.Logger) *Verifier {
	return &Verifier{
		model:  model,
		logger: logger.Named("verifier"),
	}
}

// skippedVerification is the default record when no review ran this step.
func skippedVerification(pendingFields []string) *Verification {
	return &Verification{
		Completed:         false,
		ShouldContinue:    true,
		PendingFormFields: pendingFields,
		MissingActions:    []string{"未执行审查"},
		NextHint:          "等待下一步规划",
		Reason:            "尚未触发审查逻辑",
		Confidence:        0,
		Status:            VerifyStatusSkipped,
	}
}

// degradedVerification is the record produced when the review call itself
// failed. The loop always has a verification record to reason over.
func degradedVerification(pendingFields []string, cause error) *Verification {
	return &Verification{
		Completed:         false,
		ShouldContinue:    true,
		PendingFormFields: pendingFields,
		MissingActions:    []string{"审查失败，建议重新截图后继续规划"},
		NextHint:          "重新规划下一步操作",
		Reason:            fmt.Sprintf("审查异常: %v", cause),
		Confidence:        0,
		Status:            VerifyStatusError,
	}
}

// ShouldSkip reports whether the last action needs no independent review:
// failed actions feed the classifier instead, waits and key presses carry
// too little information, and a successful navigation is reviewed by the
// next planning pass anyway.
func ShouldSkip(result *ToolResult) bool {
	if result == nil || !result.Success {
		return true
	}
	switch ActionType(result.ActionType) {
	case ActionWait, ActionPressKey:
		return true
	case ActionNavigate:
		return true
	}
	return false
}

// parseVerification decodes the reviewer's free text. An unparseable
// response yields an explicit error-status record alongside the parse error.
func parseVerification(response string, pendingFields []string) (*Verification, error) {
	parsed, err := llmutil.ParseModelJSON[Verification](response, "completed", "should_continue")
	if err != nil {
		return &Verification{
			Completed:         false,
			ShouldContinue:    true,
			PendingFormFields: pendingFields,
			MissingActions:    []string{"无法解析审查结果，建议重新获取页面状态"},
			NextHint:          "等待重新规划",
			Reason:            "审查模型返回无法解析",
			Confidence:        0,
			Status:            VerifyStatusError,
		}, err
	}
	if parsed.Status == "" {
		parsed.Status = VerifyStatusOK
	}
	if parsed.PendingFormFields == nil {
		parsed.PendingFormFields = []string{}
	}
	return parsed, nil
}

// Evaluate reviews the latest action outcome against the goal. The returned
// record is never nil.
func (v *Verifier) Evaluate(ctx context.Context, goal string, result *ToolResult, pendingFields []string) *Verification {
	if result == nil || result.CurrentView == nil || len(result.CurrentView.ScreenshotPNG) == 0 {
		return degradedVerification(pendingFields, fmt.Errorf("缺少用于审查的网页截图"))
	}

	prompt := buildVerifierPrompt(goal, result.ActionType, result.ActionParams, result, pendingFields)
	response, err := v.model.Complete(ctx, vision.Request{
		Prompt:   prompt,
		ImagePNG: result.CurrentView.ScreenshotPNG,
	})
	if err != nil {
		v.logger.Warn("Verification call failed", zap.Error(err))
		return degradedVerification(pendingFields, err)
	}

	verification, err := parseVerification(response, pendingFields)
	if err != nil {
		v.logger.Warn("Verification response unparseable", zap.Error(err))
		return verification
	}

	v.logger.Info("Verification",
		zap.Bool("completed", verification.Completed),
		zap.Float64("confidence", verification.Confidence),
		zap.String("status", verification.Status),
		zap.String("reason", verification.Reason))
	return verification
}
