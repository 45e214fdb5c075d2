package unattended

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bootkeep/bootkeep/pkg/migrations"
	"github.com/bootkeep/bootkeep/pkg/runtime"
	"github.com/bootkeep/bootkeep/pkg/schema"
	"github.com/bootkeep/bootkeep/pkg/stores"
	"github.com/bootkeep/bootkeep/pkg/telemetry"
)

// Plan kinds used in logs, spans, metrics and history.
const (
	KindCore    = "core"
	KindPackage = "package"
)

// SchemaApplier upgrades the core schema.
type SchemaApplier interface {
	UpgradeSchemaAndData(ctx context.Context, plan *migrations.Plan) schema.Result
}

// History records plan attempts.
type History interface {
	RecordAttempt(ctx context.Context, attempt *stores.Attempt) error
}

// Upgrader runs the core or package migrations the boot sequence is waiting
// for, without an operator.
type Upgrader struct {
	state    *runtime.State
	core     *migrations.Plan
	applier  SchemaApplier
	packages *migrations.Collection
	scopes   migrations.ScopeProvider
	executor *migrations.Executor
	policy   migrations.FailurePolicy
	tel      *telemetry.Telemetry
	history  History
	logger   zerolog.Logger
}

// Option configures an Upgrader.
type Option func(*Upgrader)

// WithTelemetry sets the sink for start/end markers, spans, metrics and events.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(u *Upgrader) {
		u.tel = tel
	}
}

// WithExecutor sets the executor used for package plans.
func WithExecutor(executor *migrations.Executor) Option {
	return func(u *Upgrader) {
		u.executor = executor
	}
}

// WithFailurePolicy sets the failure policy for package plans.
func WithFailurePolicy(policy migrations.FailurePolicy) Option {
	return func(u *Upgrader) {
		u.policy = policy
	}
}

// WithHistory records every plan attempt in h.
func WithHistory(h History) Option {
	return func(u *Upgrader) {
		u.history = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(u *Upgrader) {
		u.logger = logger
	}
}

// NewUpgrader creates an unattended upgrader. core is applied through
// applier; package plans run against scopes.
func NewUpgrader(
	state *runtime.State,
	core *migrations.Plan,
	applier SchemaApplier,
	packages *migrations.Collection,
	scopes migrations.ScopeProvider,
	opts ...Option,
) *Upgrader {
	u := &Upgrader{
		state:    state,
		core:     core,
		applier:  applier,
		packages: packages,
		scopes:   scopes,
		policy:   migrations.RetainProgress,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = u.logger.With().Str("component", "unattended-upgrader").Logger()
	if u.tel == nil {
		u.tel = telemetry.Nop()
	}
	if u.executor == nil {
		u.executor = migrations.NewExecutor(u.logger, migrations.WithStepObserver(u.tel.Metrics))
	}
	return u
}

// Handle runs the upgrade the runtime state is waiting for and writes the
// outcome to n.Result. The runtime state's reason decides between the core
// and the package upgrade; n supplies the pending package migrations. It does
// nothing unless the runtime state permits unattended upgrades.
//
// Any failure moves the runtime state to BootFailed with the failure as
// cause, sets n.Result to ResultHasErrors and is returned.
func (u *Upgrader) Handle(ctx context.Context, n *Notification) error {
	if !u.state.RunUnattendedBootLogic() {
		u.logger.Debug().
			Str("level", string(u.state.Level())).
			Str("reason", string(u.state.Reason())).
			Msg("Unattended upgrade not permitted")
		return nil
	}

	reason := u.state.Reason()
	n.Reason = reason

	var err error
	switch reason {
	case runtime.ReasonUpgradeMigrations:
		err = u.upgradeCore(ctx, n)
	case runtime.ReasonUpgradePackageMigrations:
		err = u.upgradePackages(ctx, n)
	default:
		err = &InvalidReasonError{Reason: reason}
	}
	if err != nil {
		return u.fail(n, err)
	}

	u.tel.Metrics.RecordOutcome(string(n.Result))
	return nil
}

func (u *Upgrader) upgradeCore(ctx context.Context, n *Notification) error {
	if u.core == nil {
		return fmt.Errorf("no core plan registered")
	}

	started := time.Now()
	ctx, op := u.tel.TraceDuration(ctx, u.core.Name(), KindCore,
		"Starting unattended upgrade.",
		"Unattended upgrade completed.")

	result := u.applier.UpgradeSchemaAndData(ctx, u.core)

	var err error
	if !result.Success {
		err = &UnattendedInstallError{Message: result.Message}
	}
	op.End(result.FinalState, err)
	u.record(ctx, u.core.Name(), KindCore, result.InitialState, result.FinalState, started, err)

	if err != nil {
		return err
	}
	n.Result = ResultCoreUpgradeComplete
	return nil
}

func (u *Upgrader) upgradePackages(ctx context.Context, n *Notification) error {
	if len(n.PendingMigrations) == 0 {
		return ErrNoPendingMigrations
	}

	var failures []error
	for _, name := range n.PendingMigrations {
		var plan *migrations.Plan
		if u.packages != nil {
			plan, _ = u.packages.Lookup(name)
		}
		if plan == nil {
			return &MissingPlanError{Name: name}
		}

		if err := u.runPackage(ctx, plan); err != nil {
			failures = append(failures, &PackageMigrationError{Plan: name, Err: err})
		}
	}

	if err := Aggregate(failures); err != nil {
		return err
	}
	n.Result = ResultPackageMigrationComplete
	return nil
}

// runPackage runs one package plan. Its failure is returned as a value and
// never stops the remaining plans.
func (u *Upgrader) runPackage(ctx context.Context, plan *migrations.Plan) error {
	started := time.Now()
	ctx, op := u.tel.TraceDuration(ctx, plan.Name(), KindPackage,
		"Starting unattended package migration for "+plan.Name(),
		"Unattended upgrade completed for "+plan.Name())

	upgrader := migrations.NewUpgrader(plan, u.executor, u.scopes, migrations.WithFailurePolicy(u.policy))
	result, err := upgrader.Run(ctx)

	var from, to string
	if result != nil {
		from, to = result.InitialState, result.FinalState
	}
	op.End(to, err)
	u.record(ctx, plan.Name(), KindPackage, from, to, started, err)
	return err
}

// fail moves the runtime state to BootFailed with cause.
func (u *Upgrader) fail(n *Notification, cause error) error {
	n.Result = ResultHasErrors
	u.tel.Metrics.RecordOutcome(string(n.Result))
	u.tel.RecordBootFailure(cause)

	if err := u.state.Configure(runtime.LevelBootFailed, runtime.ReasonBootFailedOnException, cause); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (u *Upgrader) record(ctx context.Context, plan, kind, from, to string, started time.Time, err error) {
	if u.history == nil {
		return
	}

	attempt := &stores.Attempt{
		Plan:        plan,
		Kind:        kind,
		FromState:   from,
		ToState:     to,
		Status:      stores.AttemptStatusSucceeded,
		StartedAt:   started.UTC(),
		CompletedAt: time.Now().UTC(),
	}
	if err != nil {
		msg := err.Error()
		attempt.Status = stores.AttemptStatusFailed
		attempt.Error = &msg
	}

	if recErr := u.history.RecordAttempt(ctx, attempt); recErr != nil {
		u.logger.Warn().Err(recErr).Str("plan", plan).Msg("Failed to record upgrade attempt")
	}
}
