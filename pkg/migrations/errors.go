package migrations

import (
	"errors"
	"fmt"
)

// ErrPlanSealed is wrapped by a PlanStructureError when a sealed plan or
// collection is modified.
var ErrPlanSealed = errors.New("plan is sealed")

// PlanStructureError reports a malformed plan: a branching or cyclic step,
// a missing action, or a modification after sealing.
type PlanStructureError struct {
	// Plan is the name of the offending plan.
	Plan string

	// From and To identify the offending step, if any.
	From string
	To   string

	// Message is the human-readable reason.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *PlanStructureError) Error() string {
	msg := fmt.Sprintf("invalid plan %q: %s", e.Plan, e.Message)
	if e.From != "" || e.To != "" {
		msg = fmt.Sprintf("%s (step %q -> %q)", msg, e.From, e.To)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *PlanStructureError) Unwrap() error {
	return e.Err
}

// UnknownStateError reports a persisted state that is not part of the plan's
// chain. It usually means the code and the persisted progress drifted apart.
type UnknownStateError struct {
	Plan  string
	State string
}

// Error implements the error interface.
func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("plan %q has no step from state %q", e.Plan, e.State)
}

// StepActionError wraps the failure of a single step action.
type StepActionError struct {
	Plan string
	From string
	To   string
	Err  error
}

// Error implements the error interface.
func (e *StepActionError) Error() string {
	return fmt.Sprintf("plan %q step %q -> %q failed: %v", e.Plan, e.From, e.To, e.Err)
}

// Unwrap returns the action's error.
func (e *StepActionError) Unwrap() error {
	return e.Err
}

// IsPlanStructure returns true if err is or wraps a PlanStructureError.
func IsPlanStructure(err error) bool {
	var e *PlanStructureError
	return errors.As(err, &e)
}

// IsUnknownState returns true if err is or wraps an UnknownStateError.
func IsUnknownState(err error) bool {
	var e *UnknownStateError
	return errors.As(err, &e)
}

// IsStepAction returns true if err is or wraps a StepActionError.
func IsStepAction(err error) bool {
	var e *StepActionError
	return errors.As(err, &e)
}
