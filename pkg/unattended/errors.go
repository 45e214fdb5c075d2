package unattended

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bootkeep/bootkeep/pkg/runtime"
)

// ErrNoPendingMigrations is returned when package migrations were requested
// but the pending set is empty.
var ErrNoPendingMigrations = errors.New("no pending package migrations found but the runtime level reported package migrations")

// InvalidReasonError is returned when the upgrader is asked to act for a
// boot reason it does not handle.
type InvalidReasonError struct {
	Reason runtime.Reason
}

func (e *InvalidReasonError) Error() string {
	return fmt.Sprintf("invalid reason for unattended upgrade: %s", e.Reason)
}

// MissingPlanError is returned when a pending package migration has no
// registered plan.
type MissingPlanError struct {
	Name string
}

func (e *MissingPlanError) Error() string {
	return fmt.Sprintf("package migration plan %q is pending but not registered", e.Name)
}

// UnattendedInstallError reports a failed core schema upgrade.
type UnattendedInstallError struct {
	Message string
}

func (e *UnattendedInstallError) Error() string {
	return "an error occurred while running the unattended upgrade.\n" + e.Message
}

// PackageMigrationError is the failure of one package plan.
type PackageMigrationError struct {
	Plan string
	Err  error
}

func (e *PackageMigrationError) Error() string {
	return fmt.Sprintf("unattended package migration failed for %s: %v", e.Plan, e.Err)
}

func (e *PackageMigrationError) Unwrap() error {
	return e.Err
}

// AggregateUpgradeError collects the failures of two or more package plans
// in the order the plans were attempted.
type AggregateUpgradeError struct {
	Errors []error
}

func (e *AggregateUpgradeError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d unattended package migrations failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *AggregateUpgradeError) Unwrap() []error {
	return e.Errors
}

// Aggregate returns nil for no errors, the error itself for one, and an
// *AggregateUpgradeError for more.
func Aggregate(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return &AggregateUpgradeError{Errors: append([]error(nil), errs...)}
	}
}

// IsInvalidReason checks if an error is an InvalidReasonError.
func IsInvalidReason(err error) bool {
	var target *InvalidReasonError
	return errors.As(err, &target)
}

// IsMissingPlan checks if an error is a MissingPlanError.
func IsMissingPlan(err error) bool {
	var target *MissingPlanError
	return errors.As(err, &target)
}
