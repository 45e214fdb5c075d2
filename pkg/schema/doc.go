// Package schema owns the core database schema. Each embedded script in
// sql/ upgrades the schema to the version named by the file, and CorePlan
// chains them into a migration plan whose states are those versions.
package schema
