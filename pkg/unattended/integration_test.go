package unattended_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bootkeep/bootkeep/pkg/migrations"
	"github.com/bootkeep/bootkeep/pkg/runtime"
	"github.com/bootkeep/bootkeep/pkg/schema"
	"github.com/bootkeep/bootkeep/pkg/stores"
	"github.com/bootkeep/bootkeep/pkg/unattended"
)

// TestBootSequence drives a fresh database through the core upgrade and the
// package migrations, re-detecting the runtime level after each upgrade.
func TestBootSequence(t *testing.T) {
	ctx := context.Background()

	store, err := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	defer store.Close()

	core, err := schema.CorePlan("")
	if err != nil {
		t.Fatalf("failed to build core plan: %v", err)
	}

	forms := migrations.NewPlan("forms", migrations.NoState).
		MustAddStep(migrations.NoState, "1", schema.SQLAction(`CREATE TABLE forms (id INTEGER PRIMARY KEY, node_id INTEGER REFERENCES nodes(id))`))
	packages, err := migrations.NewCollection(forms)
	if err != nil {
		t.Fatalf("failed to build collection: %v", err)
	}
	packages.Seal()

	state := runtime.NewState(runtime.WithUnattendedUpgrades(true))
	builder := schema.NewDatabaseBuilder(store, zerolog.Nop())
	upgrader := unattended.NewUpgrader(state, core, builder, packages, store, unattended.WithHistory(store))

	want := []unattended.UpgradeResult{
		unattended.ResultCoreUpgradeComplete,
		unattended.ResultPackageMigrationComplete,
	}
	for i, result := range want {
		detection, err := runtime.Detect(ctx, store, core, packages)
		if err != nil {
			t.Fatalf("round %d: detect failed: %v", i, err)
		}
		if err := state.Apply(detection); err != nil {
			t.Fatalf("round %d: apply failed: %v", i, err)
		}

		n := unattended.NewNotification(state)
		if err := upgrader.Handle(ctx, n); err != nil {
			t.Fatalf("round %d: handle failed: %v", i, err)
		}
		if n.Result != result {
			t.Fatalf("round %d: result = %s, want %s", i, n.Result, result)
		}
	}

	detection, err := runtime.Detect(ctx, store, core, packages)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if detection.Level != runtime.LevelRun {
		t.Errorf("level = %s, want run", detection.Level)
	}

	attempts, err := store.ListAttempts(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Errorf("expected 2 recorded attempts, got %d", len(attempts))
	}
}
