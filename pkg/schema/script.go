package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/bootkeep/bootkeep/pkg/migrations"
)

// ExecScript runs script against db in a single call. The SQLite driver
// executes every statement of a multi-statement script, including trigger
// bodies and comments, and stops at the first failing one.
func ExecScript(ctx context.Context, db migrations.Database, script string) error {
	if db == nil {
		return fmt.Errorf("no database available to run SQL")
	}
	if strings.TrimSpace(script) == "" {
		return nil
	}
	if _, err := db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("failed to execute SQL script: %w", err)
	}
	return nil
}

// SQLAction returns a step action that runs script.
func SQLAction(script string) migrations.Action {
	return func(ctx context.Context, mc *migrations.Context) error {
		return ExecScript(ctx, mc.DB, script)
	}
}
