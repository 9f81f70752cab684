// internal/agent/errors.go
package agent

import "errors"

var (
	// ErrPlanProtocol marks an unparseable planner response. An unstructured
	// plan is a protocol violation by the model and terminates the task.
	ErrPlanProtocol = errors.New("planner response violates the action protocol")

	// ErrCaptureFailed marks a screenshot capture that did not produce a
	// usable view. Callers must treat it as action failure, never substitute
	// an empty default view.
	ErrCaptureFailed = errors.New("view capture failed")
)
