// Package config loads the bootkeep configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bootkeep/bootkeep/pkg/migrations"
	"github.com/bootkeep/bootkeep/pkg/telemetry"
)

// Failure policies accepted in the configuration file.
const (
	PolicyRetain  = "retain"
	PolicyDiscard = "discard"
)

// Config is the top-level configuration.
type Config struct {
	Database  DatabaseConfig   `yaml:"database"`
	Upgrade   UpgradeConfig    `yaml:"upgrade"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// DatabaseConfig configures the SQLite database holding schema and state.
type DatabaseConfig struct {
	// Path is the database file, or ":memory:".
	Path string `yaml:"path" validate:"required"`

	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

// UpgradeConfig configures unattended upgrades.
type UpgradeConfig struct {
	// Unattended allows upgrades at boot without an operator.
	Unattended bool `yaml:"unattended"`

	// TargetVersion is the core schema version to upgrade to. Empty means
	// the latest embedded version.
	TargetVersion string `yaml:"target_version" validate:"omitempty,semver"`

	// PackagesDir holds package manifests. Empty disables package plans.
	PackagesDir string `yaml:"packages_dir"`

	// FailurePolicy decides whether steps applied before a failure are kept.
	FailurePolicy string `yaml:"failure_policy" validate:"oneof=retain discard"`
}

// Policy returns the configured failure policy.
func (u UpgradeConfig) Policy() migrations.FailurePolicy {
	if u.FailurePolicy == PolicyDiscard {
		return migrations.DiscardProgress
	}
	return migrations.RetainProgress
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "bootkeep.db",
		},
		Upgrade: UpgradeConfig{
			Unattended:    true,
			FailurePolicy: PolicyRetain,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads the configuration file at path over the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads a configuration document over the defaults. Unknown fields
// are rejected.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
