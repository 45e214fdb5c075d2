package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bootkeep/bootkeep/pkg/migrations"
	"github.com/bootkeep/bootkeep/pkg/runtime"
	"github.com/bootkeep/bootkeep/pkg/stores"
	"github.com/bootkeep/bootkeep/pkg/unattended"
)

// Plan statuses reported by the status command.
const (
	planUpToDate = "up-to-date"
	planPending  = "pending"
	planDrift    = "unknown-state"
)

func newStatusCommand() *cobra.Command {
	var history int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted state of every plan",
		Long: `Show the boot level the current database would boot into, the persisted
state of the core plan and of every package plan, and the most recent
upgrade attempts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			env, err := openEnvironment(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = env.Close(shutdownCtx)
			}()

			report, err := collectStatus(cmd.Context(), env, history)
			if err != nil {
				return err
			}
			return writeStatusReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().IntVar(&history, "history", 10, "number of recent upgrade attempts to show")

	return cmd
}

type planStatus struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	State      string `json:"state"`
	Persisted  bool   `json:"persisted"`
	FinalState string `json:"final_state"`
	Status     string `json:"status"`
}

type statusReport struct {
	Level    runtime.Level     `json:"level"`
	Reason   runtime.Reason    `json:"reason"`
	Plans    []planStatus      `json:"plans"`
	Attempts []*stores.Attempt `json:"attempts,omitempty"`
}

func collectStatus(ctx context.Context, env *environment, history int) (*statusReport, error) {
	detection, err := runtime.Detect(ctx, env.store, env.core, env.packages)
	if err != nil {
		return nil, err
	}
	report := &statusReport{Level: detection.Level, Reason: detection.Reason}

	status, err := statusOf(ctx, env.store, env.core, unattended.KindCore)
	if err != nil {
		return nil, err
	}
	report.Plans = append(report.Plans, status)

	for _, plan := range env.packages.Plans() {
		status, err := statusOf(ctx, env.store, plan, unattended.KindPackage)
		if err != nil {
			return nil, err
		}
		report.Plans = append(report.Plans, status)
	}

	if history > 0 {
		report.Attempts, err = env.store.ListAttempts(ctx, nil, history, 0)
		if err != nil {
			return nil, err
		}
	}
	return report, nil
}

func statusOf(ctx context.Context, states migrations.StateStore, plan *migrations.Plan, kind string) (planStatus, error) {
	state, ok, err := states.GetValue(ctx, migrations.StateKey(plan.Name()))
	if err != nil {
		return planStatus{}, fmt.Errorf("failed to read state of plan %q: %w", plan.Name(), err)
	}
	if !ok {
		state = plan.InitialState()
	}

	status := planStatus{
		Name:       plan.Name(),
		Kind:       kind,
		State:      state,
		Persisted:  ok,
		FinalState: plan.FinalState(),
	}
	switch {
	case plan.IsFinal(state):
		status.Status = planUpToDate
	case plan.Knows(state):
		status.Status = planPending
	default:
		status.Status = planDrift
	}
	return status, nil
}

func writeStatusReport(out io.Writer, report *statusReport) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "Level:  %s\n", report.Level)
	fmt.Fprintf(out, "Reason: %s\n\n", report.Reason)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAN\tKIND\tSTATE\tFINAL\tSTATUS")
	for _, p := range report.Plans {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.Kind, displayState(p.State), displayState(p.FinalState), p.Status)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(report.Attempts) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tPLAN\tFROM\tTO\tSTATUS\tERROR")
	for _, a := range report.Attempts {
		var msg string
		if a.Error != nil {
			msg = *a.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.StartedAt.Format(time.RFC3339), a.Plan,
			displayState(a.FromState), displayState(a.ToState), a.Status, msg)
	}
	return w.Flush()
}

func displayState(state string) string {
	if state == migrations.NoState {
		return "-"
	}
	return state
}
