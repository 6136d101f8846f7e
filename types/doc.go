// Package types contains the shared domain types of the continuity engine:
// the error taxonomy, LLM message shapes, and cumulative usage metrics.
// It has no dependencies on other continuum packages.
package types
