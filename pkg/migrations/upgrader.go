package migrations

import (
	"context"
	"errors"
	"fmt"
)

// FailurePolicy decides what happens to a scope when a plan fails.
type FailurePolicy int

const (
	// RetainProgress completes the scope so steps applied before the failure
	// stay durable and the next attempt resumes after them.
	RetainProgress FailurePolicy = iota

	// DiscardProgress rolls the whole scope back.
	DiscardProgress
)

// Upgrader runs one plan inside a scope.
type Upgrader struct {
	plan     *Plan
	executor *Executor
	scopes   ScopeProvider
	policy   FailurePolicy
}

// UpgraderOption configures an Upgrader.
type UpgraderOption func(*Upgrader)

// WithFailurePolicy sets the failure policy. The default is RetainProgress.
func WithFailurePolicy(policy FailurePolicy) UpgraderOption {
	return func(u *Upgrader) {
		u.policy = policy
	}
}

// NewUpgrader creates an upgrader for plan.
func NewUpgrader(plan *Plan, executor *Executor, scopes ScopeProvider, opts ...UpgraderOption) *Upgrader {
	u := &Upgrader{
		plan:     plan,
		executor: executor,
		scopes:   scopes,
		policy:   RetainProgress,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Plan returns the plan run by the upgrader.
func (u *Upgrader) Plan() *Plan {
	return u.plan
}

// Run opens a scope, reads the plan's persisted state, executes the remaining
// steps and completes the scope on success. A failed plan always returns a
// non-nil error alongside the result.
func (u *Upgrader) Run(ctx context.Context) (result *ExecutionResult, err error) {
	scope, err := u.scopes.BeginScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin scope for plan %q: %w", u.plan.Name(), err)
	}
	defer func() {
		if closeErr := scope.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close scope: %w", closeErr))
		}
	}()

	current, ok, err := scope.States().GetValue(ctx, StateKey(u.plan.Name()))
	if err != nil {
		return nil, fmt.Errorf("failed to read state of plan %q: %w", u.plan.Name(), err)
	}
	if !ok {
		current = u.plan.InitialState()
	}

	result = u.executor.Execute(ctx, scope, u.plan, current)
	if result.Succeeded {
		if err := scope.Complete(ctx); err != nil {
			return result, fmt.Errorf("failed to complete scope for plan %q: %w", u.plan.Name(), err)
		}
		return result, nil
	}

	if u.policy == RetainProgress && len(result.Applied) > 0 {
		if err := scope.Complete(ctx); err != nil {
			return result, errors.Join(result.Err,
				fmt.Errorf("failed to retain progress of plan %q: %w", u.plan.Name(), err))
		}
	}
	return result, result.Err
}
