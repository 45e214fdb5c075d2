// Package runtime tracks the boot level of the application and why it is at
// that level.
package runtime

import (
	"errors"
	"fmt"
	"sync"
)

// Level is the boot level of the application.
type Level string

const (
	LevelUnknown    Level = "unknown"
	LevelBoot       Level = "boot"
	LevelInstall    Level = "install"
	LevelUpgrade    Level = "upgrade"
	LevelRun        Level = "run"
	LevelBootFailed Level = "boot_failed"
)

// Reason explains the current level.
type Reason string

const (
	ReasonUnknown                  Reason = "unknown"
	ReasonInstallEmptyDatabase     Reason = "install_empty_database"
	ReasonUpgradeMigrations        Reason = "upgrade_migrations"
	ReasonUpgradePackageMigrations Reason = "upgrade_package_migrations"
	ReasonRun                      Reason = "run"
	ReasonBootFailedOnException    Reason = "boot_failed_on_exception"
)

// ErrBootFailed is returned when a state that already failed is reconfigured.
var ErrBootFailed = errors.New("boot has failed, restart required")

// State is the boot-level state machine. It is shared by the boot sequence
// and the unattended upgrader and is safe for concurrent use.
type State struct {
	mu      sync.RWMutex
	level   Level
	reason  Reason
	err     error
	pending []string

	unattendedUpgrades bool
}

// Option configures a State.
type Option func(*State)

// WithUnattendedUpgrades enables upgrades at boot without an operator.
func WithUnattendedUpgrades(enabled bool) Option {
	return func(s *State) {
		s.unattendedUpgrades = enabled
	}
}

// NewState creates a state at the boot level.
func NewState(opts ...Option) *State {
	s := &State{
		level:  LevelBoot,
		reason: ReasonUnknown,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configure moves the state to level for reason. err is the cause of a
// BootFailed transition and is ignored otherwise. BootFailed is terminal.
func (s *State) Configure(level Level, reason Reason, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.level == LevelBootFailed {
		return fmt.Errorf("cannot move to %s: %w", level, ErrBootFailed)
	}

	s.level = level
	s.reason = reason
	if level == LevelBootFailed {
		s.err = err
	} else {
		s.err = nil
	}
	return nil
}

// Level returns the current level.
func (s *State) Level() Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

// Reason returns the reason for the current level.
func (s *State) Reason() Reason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// BootFailedError returns the cause of a failed boot, if any.
func (s *State) BootFailedError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Failed reports whether the state reached BootFailed.
func (s *State) Failed() bool {
	return s.Level() == LevelBootFailed
}

// PendingPackageMigrations returns the names of package plans that still
// have steps to run, in the order they should run.
func (s *State) PendingPackageMigrations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.pending...)
}

// SetPendingPackageMigrations records the package plans that still need to run.
func (s *State) SetPendingPackageMigrations(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append([]string(nil), names...)
}

// UnattendedUpgrades reports whether unattended upgrades are enabled.
func (s *State) UnattendedUpgrades() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unattendedUpgrades
}

// RunUnattendedBootLogic reports whether the unattended upgrader should act:
// unattended upgrades are enabled and the application waits at the upgrade
// level. The upgrader rejects an upgrade level with any other reason.
func (s *State) RunUnattendedBootLogic() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unattendedUpgrades && s.level == LevelUpgrade
}
