package runtime

import (
	"context"
	"fmt"

	"github.com/bootkeep/bootkeep/pkg/migrations"
)

// Detection is the outcome of comparing persisted plan progress against the
// plans known to the running code.
type Detection struct {
	Level   Level
	Reason  Reason
	Err     error
	Pending []string
}

// Detect works out the boot level from the persisted state of the core plan
// and of every package plan. The core plan takes precedence: package plans
// are only reported as pending once the core plan is up to date.
func Detect(ctx context.Context, states migrations.StateStore, core *migrations.Plan, packages *migrations.Collection) (Detection, error) {
	coreState, err := stateOf(ctx, states, core)
	if err != nil {
		return Detection{}, err
	}
	if !core.Knows(coreState) {
		return Detection{
			Level:  LevelBootFailed,
			Reason: ReasonBootFailedOnException,
			Err:    &migrations.UnknownStateError{Plan: core.Name(), State: coreState},
		}, nil
	}
	if !core.IsFinal(coreState) {
		return Detection{Level: LevelUpgrade, Reason: ReasonUpgradeMigrations}, nil
	}

	var pending []string
	if packages != nil {
		for _, plan := range packages.Plans() {
			state, err := stateOf(ctx, states, plan)
			if err != nil {
				return Detection{}, err
			}
			if !plan.IsFinal(state) {
				pending = append(pending, plan.Name())
			}
		}
	}
	if len(pending) > 0 {
		return Detection{Level: LevelUpgrade, Reason: ReasonUpgradePackageMigrations, Pending: pending}, nil
	}

	return Detection{Level: LevelRun, Reason: ReasonRun}, nil
}

// Apply moves the state machine to the detected level.
func (s *State) Apply(d Detection) error {
	s.SetPendingPackageMigrations(d.Pending)
	return s.Configure(d.Level, d.Reason, d.Err)
}

func stateOf(ctx context.Context, states migrations.StateStore, plan *migrations.Plan) (string, error) {
	state, ok, err := states.GetValue(ctx, migrations.StateKey(plan.Name()))
	if err != nil {
		return "", fmt.Errorf("failed to read state of plan %q: %w", plan.Name(), err)
	}
	if !ok {
		return plan.InitialState(), nil
	}
	return state, nil
}
