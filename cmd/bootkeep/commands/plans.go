package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bootkeep/bootkeep/pkg/migrations"
	"github.com/bootkeep/bootkeep/pkg/packages"
	"github.com/bootkeep/bootkeep/pkg/schema"
)

func newPlansCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Inspect migration plans",
	}

	cmd.AddCommand(newPlansValidateCommand())
	cmd.AddCommand(newPlansListCommand())

	return cmd
}

func newPlansValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir]",
		Short: "Validate package manifests",
		Long: `Parse every manifest in dir, check it against the manifest schema, compile
its scripts and build its plan. dir defaults to the configured packages
directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, err := loadPlansFromArgs(args, false)
			if err != nil {
				return err
			}

			log.Info().Int("plans", collection.Len()).Msg("Package manifests are valid")
			return nil
		},
	}
}

func newPlansListCommand() *cobra.Command {
	var core bool

	cmd := &cobra.Command{
		Use:   "list [dir]",
		Short: "List plans and their steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var plans []*migrations.Plan
			if core {
				plan, err := schema.CorePlan("")
				if err != nil {
					return err
				}
				plans = append(plans, plan)
			}

			collection, err := loadPlansFromArgs(args, core)
			if err != nil {
				return err
			}
			plans = append(plans, collection.Plans()...)

			return writePlans(cmd.OutOrStdout(), plans)
		},
	}

	cmd.Flags().BoolVar(&core, "core", true, "include the core schema plan")

	return cmd
}

// loadPlansFromArgs loads the plans in args[0] or the configured packages
// directory. Without either it fails unless allowEmpty is set.
func loadPlansFromArgs(args []string, allowEmpty bool) (*migrations.Collection, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	dir := cfg.Upgrade.PackagesDir
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		if !allowEmpty {
			return nil, fmt.Errorf("no packages directory given and none configured")
		}
		collection, err := migrations.NewCollection()
		if err != nil {
			return nil, err
		}
		collection.Seal()
		return collection, nil
	}

	loader, err := packages.NewLoader(log.Logger)
	if err != nil {
		return nil, err
	}
	return loader.LoadPlans(dir)
}

type planListing struct {
	Name         string   `json:"name"`
	InitialState string   `json:"initial_state"`
	FinalState   string   `json:"final_state"`
	Steps        []string `json:"steps"`
}

func writePlans(out io.Writer, plans []*migrations.Plan) error {
	listings := make([]planListing, 0, len(plans))
	for _, plan := range plans {
		listing := planListing{
			Name:         plan.Name(),
			InitialState: plan.InitialState(),
			FinalState:   plan.FinalState(),
		}
		for _, step := range plan.Steps() {
			listing.Steps = append(listing.Steps, step.String())
		}
		listings = append(listings, listing)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(listings)
	}

	for _, l := range listings {
		fmt.Fprintf(out, "%s (%s -> %s)\n", l.Name, displayState(l.InitialState), displayState(l.FinalState))
		for _, step := range l.Steps {
			fmt.Fprintf(out, "  %s\n", step)
		}
	}
	return nil
}
