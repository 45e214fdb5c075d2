// Package stores provides the SQLite persistence layer for bootkeep: the
// key/value table holding per-plan upgrade state, the history of upgrade
// attempts, and transactional scopes with one savepoint per migration step.
package stores
