// internal/agent/models.go
package agent

import "time"

// FailureType categorizes an action failure so the planner can adjust its
// strategy. The set is closed; anything that does not match a known pattern
// stays unclassified.
type FailureType string

const (
	FailureLogical      FailureType = "logical"      // The target is missing or the request was invalid.
	FailureTransient    FailureType = "transient"    // Timeout, network fault, or other retryable condition.
	FailureVisualStale  FailureType = "visual_stale" // The action reported success but the page did not visibly change.
	FailureLoop         FailureType = "loop"         // The visual state repeats within the recent window.
	FailureUnclassified FailureType = "unclassified" // No known pattern matched.
)

// ForcesCorrection reports whether the failure demands that the next planned
// action differ materially from the one that just failed.
func (f FailureType) ForcesCorrection() bool {
	switch f {
	case FailureLogical, FailureVisualStale, FailureLoop:
		return true
	}
	return false
}

// ActionType is the planner's action vocabulary.
type ActionType string

const (
	ActionNavigate ActionType = "navigate"
	ActionClick    ActionType = "click"
	ActionTypeText ActionType = "type"
	ActionPressKey ActionType = "press_key"
	ActionWait     ActionType = "wait"
	ActionScroll   ActionType = "scroll"
	ActionFinish   ActionType = "finish"
)

// Decision is the planner's routing verdict.
type Decision string

const (
	DecisionTools Decision = "tools"
	DecisionEnd   Decision = "end"
)

// ActionParams carries every parameter any action type can take. Each
// executor branch validates the fields it needs and ignores the rest.
type ActionParams struct {
	URL                string `json:"url,omitempty"`
	ElementDescription string `json:"element_description,omitempty"`
	Text               string `json:"text,omitempty"`
	DelayMs            int    `json:"delay,omitempty"`
	PressEnter         bool   `json:"press_enter,omitempty"`
	Key                string `json:"key,omitempty"`
	TimeoutMs          int    `json:"timeout,omitempty"`
	Direction          string `json:"direction,omitempty"`
	Amount             int    `json:"amount,omitempty"`
}

// Plan is the structured proposal parsed out of the planner's free text.
type Plan struct {
	CurrentStep  string       `json:"current_step"`
	ActionType   string       `json:"action_type"`
	ActionParams ActionParams `json:"action_params"`
	Next         string       `json:"next"`
	Reasoning    string       `json:"reasoning"`
}

// Verification is the reviewer's judgment of whether the goal is satisfied.
// A degraded record (status "error" or "skipped") is still a record; the
// loop always has one to reason over.
type Verification struct {
	Completed         bool     `json:"completed"`
	ShouldContinue    bool     `json:"should_continue"`
	PendingFormFields []string `json:"pending_form_fields"`
	MissingActions    []string `json:"missing_actions"`
	NextHint          string   `json:"next_hint"`
	Reason            string   `json:"reason"`
	Confidence        float64  `json:"confidence"`
	Status            string   `json:"status"`
}

// Verification statuses.
const (
	VerifyStatusOK        = "ok"
	VerifyStatusHeuristic = "heuristic"
	VerifyStatusError     = "error"
	VerifyStatusSkipped   = "skipped"
	VerifyStatusUnknown   = "unknown"
)

// HeuristicMatch is the rule-based goal judgment derived from the goal text
// and the current URL. Confidence is a damping factor only: it overrides a
// low-confidence or degraded review, never a confident explicit "not
// completed".
type HeuristicMatch struct {
	Matched         bool     `json:"matched"`
	URL             string   `json:"url,omitempty"`
	Domain          string   `json:"domain,omitempty"`
	ExpectedDomains []string `json:"expected_domains"`
	Reason          string   `json:"reason"`
	Confidence      float64  `json:"confidence,omitempty"`
}

// ViewComparison is the outcome of comparing two views.
type ViewComparison struct {
	Changed    bool    `json:"changed"`
	Similarity float64 `json:"similarity"`
	HashEqual  bool    `json:"hash_equal"`
	Reason     string  `json:"reason"`
	Distance   float64 `json:"distance"`
}

// HistoryEntry records one executed step and the view it produced.
type HistoryEntry struct {
	ViewHash   string    `json:"view_hash"`
	ActionType string    `json:"action_type"`
	Step       string    `json:"step"`
	Timestamp  time.Time `json:"timestamp"`
	URL        string    `json:"url"`
}

// LoopAlert signals that the current visual state duplicates one seen
// within the recent trailing window.
type LoopAlert struct {
	RepeatStep   string `json:"repeat_step"`
	Message      string `json:"message"`
	HistoryIndex int    `json:"history_index"`
}

// FailureRecord is the last failure threaded into the next planning prompt.
type FailureRecord struct {
	Type    FailureType `json:"type"`
	Message string      `json:"message"`
	Action  string      `json:"action"`
	Attempt int         `json:"attempt"`
}

// Point is a screen coordinate in CSS pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ToolResult is the tagged outcome of one executed action plus everything
// the evaluation pass attached to it.
type ToolResult struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	URL          string       `json:"url,omitempty"`
	Coordinates  *Point       `json:"coordinates,omitempty"`
	Element      string       `json:"element,omitempty"`
	CurrentView  *View        `json:"current_view,omitempty"`
	ActionType   string       `json:"action_type"`
	ActionParams ActionParams `json:"action_params"`
	Attempt      int          `json:"attempt"`

	// Filled in by the evaluation pass.
	FailureType     FailureType     `json:"failure_type,omitempty"`
	Comparison      *ViewComparison `json:"comparison,omitempty"`
	Heuristic       *HeuristicMatch `json:"heuristic_match,omitempty"`
	VerifiedSuccess bool            `json:"verified_success"`
	Verification    *Verification   `json:"verification,omitempty"`
}

// TaskState is the mutable state threaded through every loop iteration.
// It is owned and mutated exclusively by the Coordinator; planner and
// verifier see read-only projections and return partial updates.
type TaskState struct {
	TaskID string
	Goal   string

	CurrentStep  string
	ActionType   string
	ActionParams ActionParams
	Decision     Decision

	ToolResult         *ToolResult
	AttemptCount       int
	AgentView          *View
	Verification       *Verification
	PendingFormFields  []string
	RecentViews        []HistoryEntry
	LastFailure        *FailureRecord
	CorrectionRequired bool
	LastComparison     *ViewComparison
	LoopAlert          *LoopAlert

	// Transcript is the append-only log of human-readable step messages.
	Transcript []string
}

func (s *TaskState) appendTranscript(msg string) {
	if msg == "" {
		return
	}
	s.Transcript = append(s.Transcript, msg)
}

func (s *TaskState) verification() Verification {
	if s.Verification == nil {
		return Verification{Status: VerifyStatusUnknown, ShouldContinue: true}
	}
	return *s.Verification
}
