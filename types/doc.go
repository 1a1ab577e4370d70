// Package types defines the shared data model of the generation core:
// generation job records, projects, the persisted workspace entity, and the
// structured error taxonomy used across all components.
package types
