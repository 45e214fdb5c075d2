package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bootkeep/bootkeep/pkg/migrations"
)

// ErrScopeDone is returned when a completed or closed scope is used.
var ErrScopeDone = errors.New("scope already completed or closed")

// sqliteScope is a unit of work over one transaction. Atomic blocks run
// inside savepoints so a failed step is rolled back on its own.
type sqliteScope struct {
	tx     *sql.Tx
	states txStates
	seq    int
	done   bool
}

// BeginScope opens a transaction and returns it as a unit of work.
func (s *SQLiteStore) BeginScope(ctx context.Context) (migrations.Scope, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteScope{tx: tx, states: txStates{tx: tx}}, nil
}

func (sc *sqliteScope) DB() migrations.Database {
	return sc.tx
}

func (sc *sqliteScope) States() migrations.StateStore {
	return sc.states
}

// Atomic runs fn inside a savepoint, releasing it on success and rolling
// back to it on error.
func (sc *sqliteScope) Atomic(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	if sc.done {
		return ErrScopeDone
	}

	sc.seq++
	savepoint := fmt.Sprintf("step_%d", sc.seq)

	if _, err := sc.tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	if err := fn(ctx); err != nil {
		if _, rbErr := sc.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back savepoint: %w", rbErr))
		}
		if _, relErr := sc.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); relErr != nil {
			return errors.Join(err, fmt.Errorf("failed to release savepoint: %w", relErr))
		}
		return err
	}

	if _, err := sc.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// Complete commits the transaction.
func (sc *sqliteScope) Complete(_ context.Context) error {
	if sc.done {
		return ErrScopeDone
	}
	sc.done = true
	if err := sc.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close rolls back the transaction unless it was completed.
func (sc *sqliteScope) Close() error {
	if sc.done {
		return nil
	}
	sc.done = true
	if err := sc.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

// txStates reads and writes plan state inside the scope's transaction.
type txStates struct {
	tx *sql.Tx
}

func (st txStates) GetValue(ctx context.Context, key string) (string, bool, error) {
	return getValue(ctx, st.tx, key)
}

func (st txStates) SetValue(ctx context.Context, key, value string) error {
	return setValue(ctx, st.tx, key, value)
}
