package migrations

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// StepObserver is notified after every step attempt.
type StepObserver interface {
	ObserveStep(plan string, duration time.Duration, err error)
}

// Executor walks a plan from a given state, applying one step at a time and
// persisting progress after each step.
type Executor struct {
	logger   zerolog.Logger
	observer StepObserver
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithStepObserver registers an observer notified after every step.
func WithStepObserver(o StepObserver) ExecutorOption {
	return func(e *Executor) {
		e.observer = o
	}
}

// NewExecutor creates a new plan executor.
func NewExecutor(logger zerolog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger: logger.With().Str("component", "plan-executor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies the steps of plan starting at currentState until a final
// state is reached or a step fails.
//
// Every step runs inside uow.Atomic together with the write of its target
// state, so progress is persisted before the next step starts and a failed
// step leaves the persisted state at the last successful one.
func (e *Executor) Execute(ctx context.Context, uow UnitOfWork, plan *Plan, currentState string) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{
		Plan:         plan.Name(),
		InitialState: currentState,
		FinalState:   currentState,
	}
	logger := e.logger.With().Str("plan", plan.Name()).Logger()

	if plan.IsFinal(currentState) {
		logger.Debug().Str("state", currentState).Msg("Plan already at final state")
		result.Succeeded = true
		result.Duration = time.Since(start)
		return result
	}

	state := currentState
	for !plan.IsFinal(state) {
		step, ok := plan.StepFrom(state)
		if !ok {
			return e.fail(result, start, &UnknownStateError{Plan: plan.Name(), State: state})
		}

		if err := e.applyStep(ctx, uow, plan, step, logger); err != nil {
			return e.fail(result, start, err)
		}

		state = step.To
		result.FinalState = state
		result.Applied = append(result.Applied, fmt.Sprintf("%s -> %s", step.From, step.To))
	}

	result.Succeeded = true
	result.Duration = time.Since(start)
	logger.Info().
		Str("from", result.InitialState).
		Str("to", result.FinalState).
		Int("steps", len(result.Applied)).
		Dur("duration", result.Duration).
		Msg("Plan executed")
	return result
}

// applyStep runs one step action and persists its target state atomically.
func (e *Executor) applyStep(ctx context.Context, uow UnitOfWork, plan *Plan, step Step, logger zerolog.Logger) error {
	stepLogger := logger.With().Str("from", step.From).Str("to", step.To).Logger()
	stepLogger.Debug().Msg("Applying step")

	started := time.Now()
	err := uow.Atomic(ctx, "step", func(ctx context.Context) error {
		mc := &Context{
			Plan:   plan.Name(),
			Step:   step,
			DB:     uow.DB(),
			Logger: stepLogger,
		}
		if err := step.Action(ctx, mc); err != nil {
			return &StepActionError{Plan: plan.Name(), From: step.From, To: step.To, Err: err}
		}
		if err := uow.States().SetValue(ctx, StateKey(plan.Name()), step.To); err != nil {
			return fmt.Errorf("failed to persist state %q: %w", step.To, err)
		}
		return nil
	})
	if e.observer != nil {
		e.observer.ObserveStep(plan.Name(), time.Since(started), err)
	}
	if err != nil {
		stepLogger.Error().Err(err).Msg("Step failed")
		return err
	}
	return nil
}

func (e *Executor) fail(result *ExecutionResult, start time.Time, err error) *ExecutionResult {
	result.Succeeded = false
	result.Err = err
	result.Diagnostic = err.Error()
	result.Duration = time.Since(start)
	return result
}
