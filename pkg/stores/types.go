package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/bootkeep/bootkeep/pkg/migrations"
)

// AttemptStatus is the outcome of one plan attempt.
type AttemptStatus string

const (
	AttemptStatusSucceeded AttemptStatus = "succeeded"
	AttemptStatusFailed    AttemptStatus = "failed"
)

// KeyValue is a row of the key/value table.
type KeyValue struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attempt records one unattended run of a migration plan.
type Attempt struct {
	ID          string        `json:"id"`
	Plan        string        `json:"plan"`
	Kind        string        `json:"kind"` // core or package
	FromState   string        `json:"from_state"`
	ToState     string        `json:"to_state"`
	Status      AttemptStatus `json:"status"`
	Error       *string       `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	BeginScope(ctx context.Context) (migrations.Scope, error)

	// Key/value operations
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
	ListValues(ctx context.Context, prefix string) ([]*KeyValue, error)

	// Attempt history
	RecordAttempt(ctx context.Context, attempt *Attempt) error
	ListAttempts(ctx context.Context, plan *string, limit, offset int) ([]*Attempt, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

var _ Store = (*SQLiteStore)(nil)
