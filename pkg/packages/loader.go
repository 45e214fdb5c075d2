package packages

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/bootkeep/bootkeep/pkg/migrations"
	"github.com/bootkeep/bootkeep/pkg/schema"
)

// Loader reads package manifests and turns them into migration plans.
type Loader struct {
	validator *validator.Validate
	schema    *schemaValidator
	logger    zerolog.Logger
}

// NewLoader creates a manifest loader.
func NewLoader(logger zerolog.Logger) (*Loader, error) {
	sv, err := newSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Loader{
		validator: validator.New(),
		schema:    sv,
		logger:    logger.With().Str("component", "package-loader").Logger(),
	}, nil
}

// Parse decodes and validates a manifest. source names it in errors.
func (l *Loader) Parse(data []byte, source string) (*Manifest, error) {
	var m Manifest

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, &ManifestError{Source: source, Err: fmt.Errorf("failed to parse YAML: %w", err)}
	}
	m.Source = source

	if err := l.validator.Struct(&m); err != nil {
		return nil, &ManifestError{Source: source, Err: err}
	}
	if err := l.schema.Validate(&m); err != nil {
		return nil, &ManifestError{Source: source, Err: err}
	}

	return &m, nil
}

// LoadFile reads and validates one manifest file.
func (l *Loader) LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return l.Parse(data, path)
}

// LoadDir reads every *.yaml and *.yml manifest in dir, ordered by file name.
func (l *Loader) LoadDir(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	manifests := make([]*Manifest, 0, len(files))
	for _, file := range files {
		m, err := l.LoadFile(file)
		if err != nil {
			return nil, err
		}
		l.logger.Debug().Str("file", file).Str("plan", m.Name).Int("steps", len(m.Steps)).Msg("Loaded package manifest")
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// LoadPlans loads every manifest in dir into a sealed collection. Plans are
// registered in file name order, which is the order pending package
// migrations run in.
func (l *Loader) LoadPlans(dir string) (*migrations.Collection, error) {
	manifests, err := l.LoadDir(dir)
	if err != nil {
		return nil, err
	}

	plans := make([]*migrations.Plan, 0, len(manifests))
	for _, m := range manifests {
		plan, err := m.Plan()
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}

	collection, err := migrations.NewCollection(plans...)
	if err != nil {
		return nil, fmt.Errorf("failed to register package plans: %w", err)
	}
	collection.Seal()
	return collection, nil
}

// Plan builds the migration plan declared by m. Scripts are compiled here.
func (m *Manifest) Plan() (*migrations.Plan, error) {
	plan := migrations.NewPlan(m.Name, m.InitialState)

	for i, step := range m.Steps {
		var action migrations.Action
		if step.Script != "" {
			prog, err := compileScript(fmt.Sprintf("%s[%d].star", m.Name, i), step.Script)
			if err != nil {
				return nil, &ManifestError{Source: m.Source, Err: fmt.Errorf("step %d: %w", i, err)}
			}
			action = ScriptAction(prog)
		} else {
			action = schema.SQLAction(step.SQL)
		}

		if err := plan.AddStep(step.From, step.To, action); err != nil {
			return nil, &ManifestError{Source: m.Source, Err: err}
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, &ManifestError{Source: m.Source, Err: err}
	}
	return plan, nil
}
