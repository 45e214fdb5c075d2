package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bootkeep/bootkeep/pkg/config"
	"github.com/bootkeep/bootkeep/pkg/migrations"
	"github.com/bootkeep/bootkeep/pkg/runtime"
	"github.com/bootkeep/bootkeep/pkg/schema"
	"github.com/bootkeep/bootkeep/pkg/unattended"
)

// A boot upgrades the core schema in one round and package plans in the next.
const maxUpgradeRounds = 2

const shutdownTimeout = 10 * time.Second

func newBootCommand() *cobra.Command {
	var (
		targetVersion string
		packagesDir   string
		unattendedOn  bool
		policy        string
	)

	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Detect the boot level and run pending upgrades",
		Long: `Detect the boot level from the persisted plan states and, when unattended
upgrades are enabled, upgrade the core schema and then every pending package
plan. The command fails when the boot ends in the boot_failed level or when an
upgrade is pending but unattended upgrades are disabled.`,
		Example: `  # Boot with the settings in bootkeep.yaml
  bootkeep boot --config bootkeep.yaml

  # Upgrade only up to core version 1.1.0
  bootkeep boot --target 1.1.0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("target") {
				cfg.Upgrade.TargetVersion = targetVersion
			}
			if flags.Changed("packages") {
				cfg.Upgrade.PackagesDir = packagesDir
			}
			if flags.Changed("unattended") {
				cfg.Upgrade.Unattended = unattendedOn
			}
			if flags.Changed("failure-policy") {
				cfg.Upgrade.FailurePolicy = policy
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runBoot(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVar(&targetVersion, "target", "", "core schema version to upgrade to (default: latest)")
	cmd.Flags().StringVar(&packagesDir, "packages", "", "directory of package manifests")
	cmd.Flags().BoolVar(&unattendedOn, "unattended", true, "run pending upgrades without an operator")
	cmd.Flags().StringVar(&policy, "failure-policy", config.PolicyRetain, "keep (retain) or roll back (discard) steps applied before a failure")

	return cmd
}

// bootReport is the outcome of a boot.
type bootReport struct {
	Level   runtime.Level  `json:"level"`
	Reason  runtime.Reason `json:"reason"`
	Pending []string       `json:"pending,omitempty"`
	Results []string       `json:"results,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func runBoot(ctx context.Context, out io.Writer, cfg *config.Config) error {
	env, err := openEnvironment(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = env.Close(shutdownCtx)
	}()

	if server := env.tel.Metrics.StartMetricsServer(func(err error) {
		log.Error().Err(err).Msg("Metrics server failed")
	}); server != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	state := runtime.NewState(runtime.WithUnattendedUpgrades(cfg.Upgrade.Unattended))
	if err := detectLevel(ctx, env, state); err != nil {
		return err
	}

	logger := env.tel.Logger.Zerolog()
	policy := cfg.Upgrade.Policy()
	executor := migrations.NewExecutor(logger, migrations.WithStepObserver(env.tel.Metrics))
	builder := schema.NewDatabaseBuilder(env.store, logger,
		schema.WithExecutor(executor),
		schema.WithFailurePolicy(policy))

	upgrader := unattended.NewUpgrader(state, env.core, builder, env.packages, env.store,
		unattended.WithTelemetry(env.tel),
		unattended.WithExecutor(executor),
		unattended.WithFailurePolicy(policy),
		unattended.WithHistory(env.store),
		unattended.WithLogger(logger))

	bootLogger := env.tel.Logger.NewComponentLogger("boot").
		WithField("level", string(state.Level())).
		WithField("reason", string(state.Reason()))
	bootLogger.Info("Boot level detected")

	report := &bootReport{}
	var bootErr error
	for round := 0; round < maxUpgradeRounds && state.RunUnattendedBootLogic(); round++ {
		n := unattended.NewNotification(state)
		bootErr = upgrader.Handle(ctx, n)
		report.Results = append(report.Results, string(n.Result))
		if bootErr != nil {
			break
		}
		if err := detectLevel(ctx, env, state); err != nil {
			return err
		}
	}

	report.Level = state.Level()
	report.Reason = state.Reason()
	report.Pending = state.PendingPackageMigrations()
	if bootErr == nil {
		bootErr = state.BootFailedError()
	}
	if bootErr == nil && state.Level() == runtime.LevelUpgrade {
		bootErr = fmt.Errorf("upgrade pending (%s) but unattended upgrades are disabled", state.Reason())
	}
	if bootErr != nil {
		report.Error = bootErr.Error()
	}

	if err := writeBootReport(out, report); err != nil {
		return err
	}
	return bootErr
}

// detectLevel moves state to the level the persisted plan states call for.
func detectLevel(ctx context.Context, env *environment, state *runtime.State) error {
	detection, err := runtime.Detect(ctx, env.store, env.core, env.packages)
	if err != nil {
		return err
	}

	log.Debug().
		Str("level", string(detection.Level)).
		Str("reason", string(detection.Reason)).
		Strs("pending", detection.Pending).
		Msg("Detected boot level")

	return state.Apply(detection)
}

func writeBootReport(out io.Writer, report *bootReport) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "Level:  %s\n", report.Level)
	fmt.Fprintf(out, "Reason: %s\n", report.Reason)
	for _, result := range report.Results {
		fmt.Fprintf(out, "Upgrade result: %s\n", result)
	}
	for _, name := range report.Pending {
		fmt.Fprintf(out, "Pending package: %s\n", name)
	}
	return nil
}
