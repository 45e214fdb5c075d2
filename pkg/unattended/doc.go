// Package unattended upgrades the application at boot without an operator.
//
// The boot sequence detects the runtime level, raises a Notification and
// hands it to Upgrader.Handle. For the upgrade-migrations reason the core
// schema plan is applied through a SchemaApplier and any failure fails the
// boot at once. For the package-migrations reason every pending package plan
// is attempted in order. A failing plan does not stop the ones after it, and
// the failures are reported together once all have run.
package unattended
