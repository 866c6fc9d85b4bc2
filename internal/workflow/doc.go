// Package workflow defines the workflow domain model: definitions, tasks,
// conditions, retry policies, execution state and the YAML loader.
package workflow
