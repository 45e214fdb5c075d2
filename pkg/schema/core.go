package schema

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/bootkeep/bootkeep/pkg/migrations"
)

// CorePlanName is the name of the core schema plan.
const CorePlanName = migrations.CorePlanName

//go:embed sql/*.sql
var scripts embed.FS

// Version is one core schema version and the script that upgrades the
// previous version to it.
type Version struct {
	Version *semver.Version
	Script  string
}

// Versions returns the embedded core schema versions in ascending order.
func Versions() ([]Version, error) {
	entries, err := fs.ReadDir(scripts, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema scripts: %w", err)
	}

	versions := make([]Version, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}

		v, err := semver.NewVersion(strings.TrimSuffix(name, ".sql"))
		if err != nil {
			return nil, fmt.Errorf("invalid schema script name %q: %w", name, err)
		}

		script, err := fs.ReadFile(scripts, path.Join("sql", name))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema script %q: %w", name, err)
		}

		versions = append(versions, Version{Version: v, Script: string(script)})
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version.LessThan(versions[j].Version)
	})
	return versions, nil
}

// LatestVersion returns the highest embedded schema version.
func LatestVersion() (string, error) {
	versions, err := Versions()
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("no schema scripts embedded")
	}
	return versions[len(versions)-1].Version.String(), nil
}

// CorePlan builds the core schema plan. States are schema versions and the
// plan stops at target; an empty target means the latest version.
func CorePlan(target string) (*migrations.Plan, error) {
	versions, err := Versions()
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("no schema scripts embedded")
	}

	last := len(versions) - 1
	if target != "" {
		want, err := semver.NewVersion(target)
		if err != nil {
			return nil, fmt.Errorf("invalid target version %q: %w", target, err)
		}
		last = -1
		for i, v := range versions {
			if v.Version.Equal(want) {
				last = i
				break
			}
		}
		if last < 0 {
			return nil, fmt.Errorf("unknown target version %q", target)
		}
	}

	plan := migrations.NewPlan(CorePlanName, migrations.NoState)
	from := migrations.NoState
	for _, v := range versions[:last+1] {
		to := v.Version.String()
		if err := plan.AddStep(from, to, SQLAction(v.Script)); err != nil {
			return nil, fmt.Errorf("failed to add schema step %s: %w", to, err)
		}
		from = to
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	plan.Seal()
	return plan, nil
}
