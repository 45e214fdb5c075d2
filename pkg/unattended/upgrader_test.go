package unattended

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bootkeep/bootkeep/pkg/migrations"
	"github.com/bootkeep/bootkeep/pkg/migrations/migrationstest"
	"github.com/bootkeep/bootkeep/pkg/runtime"
	"github.com/bootkeep/bootkeep/pkg/schema"
	"github.com/bootkeep/bootkeep/pkg/stores"
)

// fakeApplier is a SchemaApplier returning a fixed result.
type fakeApplier struct {
	result schema.Result
	calls  int
}

func (f *fakeApplier) UpgradeSchemaAndData(_ context.Context, _ *migrations.Plan) schema.Result {
	f.calls++
	return f.result
}

// fakeHistory collects recorded attempts.
type fakeHistory struct {
	attempts []*stores.Attempt
}

func (f *fakeHistory) RecordAttempt(_ context.Context, a *stores.Attempt) error {
	f.attempts = append(f.attempts, a)
	return nil
}

func noop(context.Context, *migrations.Context) error { return nil }

func failWith(err error) migrations.Action {
	return func(context.Context, *migrations.Context) error { return err }
}

func corePlan() *migrations.Plan {
	return migrations.NewPlan("Core", migrations.NoState).
		MustAddStep(migrations.NoState, "1.0.0", noop)
}

// upgradeState returns a runtime state waiting at the upgrade level.
func upgradeState(t *testing.T, reason runtime.Reason, pending ...string) *runtime.State {
	t.Helper()
	state := runtime.NewState(runtime.WithUnattendedUpgrades(true))
	if err := state.Configure(runtime.LevelUpgrade, reason, nil); err != nil {
		t.Fatalf("failed to configure state: %v", err)
	}
	state.SetPendingPackageMigrations(pending)
	return state
}

// packagePlans builds A (fails at its second step), B (succeeds) and C
// (fails at its first step).
func packagePlans(t *testing.T, errA, errC error) *migrations.Collection {
	t.Helper()
	a := migrations.NewPlan("A", migrations.NoState).
		MustAddStep(migrations.NoState, "v1", noop).
		MustAddStep("v1", "v2", failWith(errA))
	b := migrations.NewPlan("B", migrations.NoState).
		MustAddStep(migrations.NoState, "v1", noop).
		MustAddStep("v1", "v2", noop)
	c := migrations.NewPlan("C", migrations.NoState).
		MustAddStep(migrations.NoState, "v1", failWith(errC))

	plans, err := migrations.NewCollection(a, b, c)
	if err != nil {
		t.Fatalf("failed to build collection: %v", err)
	}
	return plans
}

func TestHandleGateRespected(t *testing.T) {
	tests := []struct {
		name  string
		state func() *runtime.State
	}{
		{
			name: "unattended disabled",
			state: func() *runtime.State {
				s := runtime.NewState()
				_ = s.Configure(runtime.LevelUpgrade, runtime.ReasonUpgradePackageMigrations, nil)
				return s
			},
		},
		{
			name: "run level",
			state: func() *runtime.State {
				s := runtime.NewState(runtime.WithUnattendedUpgrades(true))
				_ = s.Configure(runtime.LevelRun, runtime.ReasonRun, nil)
				return s
			},
		},
		{
			name: "install level",
			state: func() *runtime.State {
				s := runtime.NewState(runtime.WithUnattendedUpgrades(true))
				_ = s.Configure(runtime.LevelInstall, runtime.ReasonInstallEmptyDatabase, nil)
				return s
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := migrationstest.NewStore()
			applier := &fakeApplier{result: schema.Result{Success: true}}
			state := tt.state()

			u := NewUpgrader(state, corePlan(), applier, packagePlans(t, errors.New("a"), errors.New("c")), store)
			n := &Notification{
				Reason:            runtime.ReasonUpgradePackageMigrations,
				PendingMigrations: []string{"A", "B", "C"},
				Result:            ResultNone,
			}

			if err := u.Handle(context.Background(), n); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n.Result != ResultNone {
				t.Errorf("Result = %s, want %s", n.Result, ResultNone)
			}
			if store.Scopes() != 0 || store.Writes() != 0 {
				t.Errorf("expected store untouched, got %d scopes and %d writes", store.Scopes(), store.Writes())
			}
			if applier.calls != 0 {
				t.Error("expected schema applier not to be called")
			}
			if state.Failed() {
				t.Error("expected state not to fail")
			}
		})
	}
}

func TestHandleCoreUpgrade(t *testing.T) {
	store := migrationstest.NewStore()
	applier := &fakeApplier{result: schema.Result{Success: true, InitialState: "", FinalState: "1.0.0"}}
	history := &fakeHistory{}
	state := upgradeState(t, runtime.ReasonUpgradeMigrations)

	u := NewUpgrader(state, corePlan(), applier, nil, store, WithHistory(history))
	n := NewNotification(state)

	if err := u.Handle(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Result != ResultCoreUpgradeComplete {
		t.Errorf("Result = %s, want %s", n.Result, ResultCoreUpgradeComplete)
	}
	if !n.Succeeded() {
		t.Error("expected Succeeded")
	}
	if applier.calls != 1 {
		t.Errorf("applier called %d times, want 1", applier.calls)
	}
	if state.Failed() {
		t.Errorf("unexpected boot failure: %v", state.BootFailedError())
	}
	if len(history.attempts) != 1 || history.attempts[0].Kind != KindCore || history.attempts[0].ToState != "1.0.0" {
		t.Errorf("unexpected history: %+v", history.attempts)
	}
}

func TestHandleCoreFailureIsFatal(t *testing.T) {
	store := migrationstest.NewStore()
	applier := &fakeApplier{result: schema.Result{Success: false, Message: "table nodes already exists"}}
	state := upgradeState(t, runtime.ReasonUpgradeMigrations, "A", "B", "C")

	u := NewUpgrader(state, corePlan(), applier, packagePlans(t, errors.New("a"), errors.New("c")), store)
	n := NewNotification(state)

	err := u.Handle(context.Background(), n)

	var installErr *UnattendedInstallError
	if !errors.As(err, &installErr) {
		t.Fatalf("expected UnattendedInstallError, got %v", err)
	}
	if !strings.HasSuffix(installErr.Error(), "\ntable nodes already exists") {
		t.Errorf("unexpected message: %q", installErr.Error())
	}
	if n.Result != ResultHasErrors {
		t.Errorf("Result = %s, want %s", n.Result, ResultHasErrors)
	}
	if state.Level() != runtime.LevelBootFailed || state.Reason() != runtime.ReasonBootFailedOnException {
		t.Errorf("state = %s/%s, want boot failed", state.Level(), state.Reason())
	}
	if !errors.As(state.BootFailedError(), &installErr) {
		t.Errorf("expected boot failure cause to be the install error, got %v", state.BootFailedError())
	}
	if store.Scopes() != 0 {
		t.Errorf("expected no package plan to run, got %d scopes", store.Scopes())
	}
}

func TestHandlePackageIsolation(t *testing.T) {
	store := migrationstest.NewStore()
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	state := upgradeState(t, runtime.ReasonUpgradePackageMigrations, "A", "B", "C")

	u := NewUpgrader(state, corePlan(), &fakeApplier{}, packagePlans(t, errA, errC), store)
	n := NewNotification(state)

	err := u.Handle(context.Background(), n)

	var agg *AggregateUpgradeError
	if !errors.As(err, &agg) {
		t.Fatalf("expected AggregateUpgradeError, got %T: %v", err, err)
	}
	if len(agg.Errors) != 2 {
		t.Fatalf("expected 2 causes, got %d", len(agg.Errors))
	}

	wantPlans := []string{"A", "C"}
	for i, cause := range agg.Errors {
		var pkgErr *PackageMigrationError
		if !errors.As(cause, &pkgErr) {
			t.Fatalf("cause %d is %T, want *PackageMigrationError", i, cause)
		}
		if pkgErr.Plan != wantPlans[i] {
			t.Errorf("cause %d plan = %s, want %s", i, pkgErr.Plan, wantPlans[i])
		}
	}
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Error("expected aggregate to wrap both step errors")
	}
	if !migrations.IsStepAction(agg.Errors[0]) {
		t.Error("expected step action error inside the first cause")
	}

	if got, _ := store.State("B"); got != "v2" {
		t.Errorf("B state = %q, want v2", got)
	}
	if got, _ := store.State("A"); got != "v1" {
		t.Errorf("A state = %q, want v1", got)
	}
	if _, ok := store.State("C"); ok {
		t.Error("expected C to have no persisted state")
	}

	if n.Result != ResultHasErrors {
		t.Errorf("Result = %s, want %s", n.Result, ResultHasErrors)
	}
	if !state.Failed() {
		t.Fatal("expected boot failure")
	}
	if !errors.As(state.BootFailedError(), &agg) {
		t.Errorf("expected aggregate as boot failure cause, got %v", state.BootFailedError())
	}
}

func TestHandleSinglePackageFailureIsNotAggregated(t *testing.T) {
	store := migrationstest.NewStore()
	errC := errors.New("c failed")
	state := upgradeState(t, runtime.ReasonUpgradePackageMigrations, "B", "C")

	u := NewUpgrader(state, corePlan(), &fakeApplier{}, packagePlans(t, errors.New("unused"), errC), store)
	n := NewNotification(state)

	err := u.Handle(context.Background(), n)

	var agg *AggregateUpgradeError
	if errors.As(err, &agg) {
		t.Fatal("expected a single cause, got an aggregate")
	}
	var pkgErr *PackageMigrationError
	if !errors.As(err, &pkgErr) || pkgErr.Plan != "C" {
		t.Fatalf("expected PackageMigrationError for C, got %v", err)
	}
	if !errors.Is(err, errC) {
		t.Error("expected cause to wrap the step error")
	}
	if !strings.Contains(err.Error(), "unattended package migration failed for C") {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if !errors.Is(state.BootFailedError(), errC) {
		t.Errorf("unexpected boot failure cause: %v", state.BootFailedError())
	}
}

func TestHandlePackagesComplete(t *testing.T) {
	store := migrationstest.NewStore()
	history := &fakeHistory{}
	state := upgradeState(t, runtime.ReasonUpgradePackageMigrations, "B")

	u := NewUpgrader(state, corePlan(), &fakeApplier{}, packagePlans(t, nil, nil), store, WithHistory(history))
	n := NewNotification(state)

	if err := u.Handle(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Result != ResultPackageMigrationComplete {
		t.Errorf("Result = %s, want %s", n.Result, ResultPackageMigrationComplete)
	}
	if got, _ := store.State("B"); got != "v2" {
		t.Errorf("B state = %q, want v2", got)
	}
	if state.Failed() {
		t.Errorf("unexpected boot failure: %v", state.BootFailedError())
	}
	if len(history.attempts) != 1 || history.attempts[0].Status != stores.AttemptStatusSucceeded {
		t.Errorf("unexpected history: %+v", history.attempts)
	}
}

func TestHandleDiscardProgress(t *testing.T) {
	store := migrationstest.NewStore()
	state := upgradeState(t, runtime.ReasonUpgradePackageMigrations, "A")

	u := NewUpgrader(state, corePlan(), &fakeApplier{}, packagePlans(t, errors.New("a"), nil), store,
		WithFailurePolicy(migrations.DiscardProgress))

	if err := u.Handle(context.Background(), NewNotification(state)); err == nil {
		t.Fatal("expected failure")
	}
	if _, ok := store.State("A"); ok {
		t.Error("expected A's progress to be discarded")
	}
}

func TestHandleFatalConditions(t *testing.T) {
	tests := []struct {
		name    string
		reason  runtime.Reason
		notify  runtime.Reason
		pending []string
		check   func(t *testing.T, err error)
	}{
		{
			name:   "invalid reason",
			reason: runtime.ReasonUnknown,
			notify: runtime.ReasonUpgradeMigrations,
			check: func(t *testing.T, err error) {
				if !IsInvalidReason(err) {
					t.Errorf("expected InvalidReasonError, got %v", err)
				}
			},
		},
		{
			name:   "no pending migrations",
			reason: runtime.ReasonUpgradePackageMigrations,
			notify: runtime.ReasonUpgradePackageMigrations,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNoPendingMigrations) {
					t.Errorf("expected ErrNoPendingMigrations, got %v", err)
				}
			},
		},
		{
			name:    "missing plan",
			reason:  runtime.ReasonUpgradePackageMigrations,
			notify:  runtime.ReasonUpgradePackageMigrations,
			pending: []string{"missing", "B"},
			check: func(t *testing.T, err error) {
				if !IsMissingPlan(err) {
					t.Errorf("expected MissingPlanError, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := migrationstest.NewStore()
			state := upgradeState(t, tt.reason)

			u := NewUpgrader(state, corePlan(), &fakeApplier{}, packagePlans(t, nil, nil), store)
			n := &Notification{Reason: tt.notify, PendingMigrations: tt.pending, Result: ResultNone}

			err := u.Handle(context.Background(), n)
			tt.check(t, err)

			if n.Result != ResultHasErrors {
				t.Errorf("Result = %s, want %s", n.Result, ResultHasErrors)
			}
			if !state.Failed() {
				t.Error("expected boot failure")
			}
			if store.Scopes() != 0 {
				t.Errorf("expected no plan to run, got %d scopes", store.Scopes())
			}
		})
	}
}

func TestHandleFollowsRuntimeReason(t *testing.T) {
	store := migrationstest.NewStore()
	state := upgradeState(t, runtime.ReasonUpgradePackageMigrations, "B")
	applier := &fakeApplier{result: schema.Result{Success: true}}

	u := NewUpgrader(state, corePlan(), applier, packagePlans(t, nil, nil), store)
	n := &Notification{
		Reason:            runtime.ReasonUpgradeMigrations,
		PendingMigrations: []string{"B"},
		Result:            ResultNone,
	}

	if err := u.Handle(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applier.calls != 0 {
		t.Error("expected the core applier not to run for a package upgrade")
	}
	if n.Reason != runtime.ReasonUpgradePackageMigrations {
		t.Errorf("Reason = %s, want %s", n.Reason, runtime.ReasonUpgradePackageMigrations)
	}
	if n.Result != ResultPackageMigrationComplete {
		t.Errorf("Result = %s, want %s", n.Result, ResultPackageMigrationComplete)
	}
	if got, _ := store.State("B"); got != "v2" {
		t.Errorf("B state = %q, want v2", got)
	}
}

func TestAggregate(t *testing.T) {
	if Aggregate(nil) != nil {
		t.Error("expected nil for no errors")
	}

	one := errors.New("one")
	if got := Aggregate([]error{one}); got != one {
		t.Errorf("expected the single error itself, got %v", got)
	}

	two := errors.New("two")
	err := Aggregate([]error{one, two})
	var agg *AggregateUpgradeError
	if !errors.As(err, &agg) {
		t.Fatalf("expected aggregate, got %T", err)
	}
	if agg.Errors[0] != one || agg.Errors[1] != two {
		t.Error("expected causes in order")
	}
	if !strings.HasPrefix(err.Error(), "2 unattended package migrations failed") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
