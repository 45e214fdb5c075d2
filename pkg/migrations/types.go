package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

// NoState is the reserved state of a plan that has made no progress yet.
const NoState = ""

// CorePlanName is the name reserved for the core schema plan. Package plans
// share its state key namespace and cannot use it.
const CorePlanName = "Core"

// stateKeyPrefix namespaces plan progress entries in the key/value store.
const stateKeyPrefix = "upgrader.state+"

// StateKey returns the key/value store key holding the progress of the named plan.
func StateKey(planName string) string {
	return stateKeyPrefix + planName
}

// StateStore is a durable key/value map. GetValue reports false when the key
// has never been written.
type StateStore interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
}

// Database is the subset of *sql.Tx available to step actions.
type Database interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UnitOfWork is what the executor needs from an open scope.
type UnitOfWork interface {
	// DB returns the transactional handle step actions write through.
	// It may be nil for stores that have no SQL backing.
	DB() Database

	// States returns the state store bound to this unit of work.
	States() StateStore

	// Atomic runs fn so that either all of its writes apply or none do.
	Atomic(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// Scope is a unit of work with an explicit end. Complete makes the scope's
// writes durable; Close discards them unless Complete was called first.
type Scope interface {
	UnitOfWork
	Complete(ctx context.Context) error
	Close() error
}

// ScopeProvider opens scopes.
type ScopeProvider interface {
	BeginScope(ctx context.Context) (Scope, error)
}

// ScopeProviderFunc adapts a function to ScopeProvider.
type ScopeProviderFunc func(ctx context.Context) (Scope, error)

// BeginScope calls f(ctx).
func (f ScopeProviderFunc) BeginScope(ctx context.Context) (Scope, error) {
	return f(ctx)
}

// Context is handed to every step action.
type Context struct {
	// Plan is the name of the plan being executed.
	Plan string

	// Step is the step being applied.
	Step Step

	// DB is the transactional handle of the current unit of work.
	DB Database

	// Logger is scoped to the plan and step.
	Logger zerolog.Logger
}

// Action is the unit of work carried by a step.
type Action func(ctx context.Context, mc *Context) error

// ExecutionResult describes one execution of a plan.
type ExecutionResult struct {
	// Plan is the name of the executed plan.
	Plan string `json:"plan"`

	// InitialState is the state execution started from.
	InitialState string `json:"initial_state"`

	// FinalState is the last state reached and persisted.
	FinalState string `json:"final_state"`

	// Succeeded is true when a final state of the plan was reached.
	Succeeded bool `json:"succeeded"`

	// Diagnostic is a human-readable cause on failure.
	Diagnostic string `json:"diagnostic,omitempty"`

	// Err is the failure cause.
	Err error `json:"-"`

	// Applied lists the transitions applied by this execution, as "from -> to".
	Applied []string `json:"applied,omitempty"`

	// Duration is the wall time spent executing.
	Duration time.Duration `json:"duration"`
}
