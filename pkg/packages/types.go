package packages

import "fmt"

// Manifest declares the migration plan of one package.
type Manifest struct {
	// Name is the plan name, unique across packages.
	Name string `yaml:"name" json:"name" validate:"required,max=128"`

	// Description is shown by the CLI.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// InitialState is the state of a package that has never been migrated.
	InitialState string `yaml:"initial_state,omitempty" json:"initial_state,omitempty"`

	// Steps are the transitions of the plan.
	Steps []StepManifest `yaml:"steps" json:"steps" validate:"required,min=1,dive"`

	// Source is the file the manifest was read from.
	Source string `yaml:"-" json:"-"`
}

// StepManifest is one transition. Exactly one of SQL or Script is set.
type StepManifest struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to" validate:"required,nefield=From"`

	// SQL is a semicolon-separated list of statements.
	SQL string `yaml:"sql,omitempty" json:"sql,omitempty" validate:"required_without=Script,excluded_with=Script"`

	// Script is a Starlark program run with the exec, query and log builtins.
	Script string `yaml:"script,omitempty" json:"script,omitempty" validate:"required_without=SQL"`
}

// ManifestError reports an invalid manifest.
type ManifestError struct {
	Source string
	Err    error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("invalid package manifest %s: %v", e.Source, e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}
