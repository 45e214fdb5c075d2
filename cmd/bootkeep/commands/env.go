package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/bootkeep/bootkeep/pkg/config"
	"github.com/bootkeep/bootkeep/pkg/migrations"
	"github.com/bootkeep/bootkeep/pkg/packages"
	"github.com/bootkeep/bootkeep/pkg/schema"
	"github.com/bootkeep/bootkeep/pkg/stores"
	"github.com/bootkeep/bootkeep/pkg/telemetry"
)

// loadConfig reads the --config file, or the defaults when none is given.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg = config.Default()
	} else if cfg, err = config.Load(configPath); err != nil {
		return nil, err
	}

	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// environment holds everything a command needs to inspect or upgrade the
// database.
type environment struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	core     *migrations.Plan
	packages *migrations.Collection
}

func openEnvironment(ctx context.Context, cfg *config.Config) (*environment, error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	env := &environment{cfg: cfg, tel: tel}

	core, err := schema.CorePlan(cfg.Upgrade.TargetVersion)
	if err != nil {
		_ = env.Close(ctx)
		return nil, err
	}
	env.core = core

	env.packages, err = loadPackages(cfg.Upgrade.PackagesDir, tel)
	if err != nil {
		_ = env.Close(ctx)
		return nil, err
	}

	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		_ = env.Close(ctx)
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = env.Close(ctx)
		return nil, err
	}
	env.store = store

	if err := store.Migrate(ctx); err != nil {
		_ = env.Close(ctx)
		return nil, err
	}

	return env, nil
}

func loadPackages(dir string, tel *telemetry.Telemetry) (*migrations.Collection, error) {
	if dir == "" {
		collection, err := migrations.NewCollection()
		if err != nil {
			return nil, err
		}
		collection.Seal()
		return collection, nil
	}

	loader, err := packages.NewLoader(tel.Logger.Zerolog())
	if err != nil {
		return nil, err
	}
	return loader.LoadPlans(dir)
}

// Close releases the store and flushes telemetry.
func (e *environment) Close(ctx context.Context) error {
	var errs []error
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if e.tel != nil {
		errs = append(errs, e.tel.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Failed to close environment")
		return err
	}
	return nil
}
