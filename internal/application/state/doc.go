// Package state manages execution context persistence.
//
// The manager keeps a write-through in-memory cache in front of a
// pluggable StateStore backend. Store failures degrade to memory-only
// operation rather than failing the execution.
package state
