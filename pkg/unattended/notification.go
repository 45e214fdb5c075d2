package unattended

import "github.com/bootkeep/bootkeep/pkg/runtime"

// UpgradeResult is the outcome written back onto a Notification.
type UpgradeResult string

const (
	ResultNone                     UpgradeResult = "none"
	ResultCoreUpgradeComplete      UpgradeResult = "core_upgrade_complete"
	ResultPackageMigrationComplete UpgradeResult = "package_migration_complete"
	ResultHasErrors                UpgradeResult = "has_errors"
)

// Notification is raised by the boot sequence when the application may need
// an unattended upgrade. Handle sets Result.
type Notification struct {
	// Reason is the reason the upgrade was requested. Handle overwrites it
	// with the runtime state's reason, which is the one acted on.
	Reason runtime.Reason

	PendingMigrations []string
	Result            UpgradeResult
}

// NewNotification captures the reason and pending package migrations of state.
func NewNotification(state *runtime.State) *Notification {
	return &Notification{
		Reason:            state.Reason(),
		PendingMigrations: state.PendingPackageMigrations(),
		Result:            ResultNone,
	}
}

// Succeeded reports whether an upgrade ran and completed.
func (n *Notification) Succeeded() bool {
	return n.Result == ResultCoreUpgradeComplete || n.Result == ResultPackageMigrationComplete
}
