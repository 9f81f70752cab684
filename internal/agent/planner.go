// internal/agent/planner.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/weiyun0912/webpilot/internal/config"
	"github.com/weiyun0912/webpilot/internal/llmutil"
	"github.com/weiyun0912/webpilot/internal/vision"
)

// Planner issues one multimodal request per step and parses the model's
// free-text response into a structured Plan.
type Planner struct {
	model  vision.Completer
	cfg    config.AgentConfig
	logger *zap.Logger

	// cache short-circuits a repeated planning call for an unchanged visual
	// state. Keyed by (viewHash, correctionRequired); consulted only when no
	// failure is pending and the attempt counter is zero, so correction-mode
	// prompts are never bypassed.
	mu    sync.Mutex
	cache map[string]*Plan
}

func NewPlanner(model vision.Completer, cfg config.AgentConfig, logger *zap.Logger) *Planner {
	return &Planner{
		model:  model,
		cfg:    cfg,
		logger: logger.Named("planner"),
		cache:  make(map[string]*Plan),
	}
}

// Plan proposes the next action for the current state and view. Parse
// failure returns ErrPlanProtocol; it is terminal for the task, not retried.
func (p *Planner) Plan(ctx context.Context, state *TaskState, view *View) (*Plan, error) {
	cacheKey := fmt.Sprintf("%s_%t", view.ContentHash, state.CorrectionRequired)

	if p.cfg.PlanCache && !state.CorrectionRequired && state.LastFailure == nil && state.AttemptCount == 0 {
		p.mu.Lock()
		cached, ok := p.cache[cacheKey]
		p.mu.Unlock()
		if ok {
			p.logger.Debug("Using cached plan", zap.String("view_hash", shortHash(view.ContentHash)))
			plan := *cached
			return &plan, nil
		}
	}

	prompt := buildPlannerPrompt(state, p.cfg.MaxAttempts)
	response, err := p.model.Complete(ctx, vision.Request{
		Prompt:   prompt,
		ImagePNG: view.ScreenshotPNG,
	})
	if err != nil {
		return nil, fmt.Errorf("planning call failed: %w", err)
	}
	p.logger.Debug("Planner raw output", zap.String("response", response))

	plan, err := llmutil.ParseModelJSON[Plan](response, "next", "action_type")
	if err != nil {
		p.logger.Warn("Planner output unparseable, ending task", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPlanProtocol, err)
	}

	normalizePlan(plan)
	p.logger.Info("Plan decided",
		zap.String("step", plan.CurrentStep),
		zap.String("action", plan.ActionType),
		zap.String("next", plan.Next),
		zap.String("reasoning", plan.Reasoning))

	if p.cfg.PlanCache && !state.CorrectionRequired && state.LastFailure == nil {
		p.mu.Lock()
		p.cache[cacheKey] = plan
		p.mu.Unlock()
	}
	return plan, nil
}

// normalizePlan clamps free-form model fields onto the closed vocabularies.
func normalizePlan(plan *Plan) {
	plan.Next = strings.ToLower(strings.TrimSpace(plan.Next))
	if plan.Next != string(DecisionTools) && plan.Next != string(DecisionEnd) {
		plan.Next = string(DecisionEnd)
	}
	plan.ActionType = strings.ToLower(strings.TrimSpace(plan.ActionType))
	if plan.ActionType == "" {
		plan.ActionType = string(ActionFinish)
	}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
