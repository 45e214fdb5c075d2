package schema

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bootkeep/bootkeep/pkg/migrations"
)

// Result is the outcome of a schema upgrade.
type Result struct {
	Success bool
	Message string

	// InitialState is the schema version the upgrade started from.
	InitialState string

	// FinalState is the last schema version persisted.
	FinalState string
}

// DatabaseBuilder applies the core schema plan.
type DatabaseBuilder struct {
	scopes   migrations.ScopeProvider
	executor *migrations.Executor
	policy   migrations.FailurePolicy
	logger   zerolog.Logger
}

// BuilderOption configures a DatabaseBuilder.
type BuilderOption func(*DatabaseBuilder)

// WithExecutor sets the executor used to run the plan.
func WithExecutor(executor *migrations.Executor) BuilderOption {
	return func(b *DatabaseBuilder) {
		b.executor = executor
	}
}

// WithFailurePolicy sets what happens to applied versions when a later one fails.
func WithFailurePolicy(policy migrations.FailurePolicy) BuilderOption {
	return func(b *DatabaseBuilder) {
		b.policy = policy
	}
}

// NewDatabaseBuilder creates a builder running plans in scopes from scopes.
func NewDatabaseBuilder(scopes migrations.ScopeProvider, logger zerolog.Logger, opts ...BuilderOption) *DatabaseBuilder {
	b := &DatabaseBuilder{
		scopes: scopes,
		policy: migrations.RetainProgress,
		logger: logger.With().Str("component", "database-builder").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.executor == nil {
		b.executor = migrations.NewExecutor(logger)
	}
	return b
}

// UpgradeSchemaAndData runs plan to its final state. Failures are reported
// in the result, never as a panic or error.
func (b *DatabaseBuilder) UpgradeSchemaAndData(ctx context.Context, plan *migrations.Plan) Result {
	upgrader := migrations.NewUpgrader(plan, b.executor, b.scopes, migrations.WithFailurePolicy(b.policy))

	result, err := upgrader.Run(ctx)
	if err != nil {
		b.logger.Error().Err(err).Str("plan", plan.Name()).Msg("Schema upgrade failed")
		res := Result{Message: err.Error()}
		if result != nil {
			res.InitialState = result.InitialState
			res.FinalState = result.FinalState
		}
		return res
	}

	if len(result.Applied) == 0 {
		return Result{
			Success:      true,
			Message:      fmt.Sprintf("Schema already at version %s", result.FinalState),
			InitialState: result.InitialState,
			FinalState:   result.FinalState,
		}
	}

	return Result{
		Success:      true,
		Message:      fmt.Sprintf("Schema upgraded from %q to %s", result.InitialState, result.FinalState),
		InitialState: result.InitialState,
		FinalState:   result.FinalState,
	}
}
