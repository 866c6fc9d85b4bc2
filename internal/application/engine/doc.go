// Package engine implements the core workflow execution logic.
//
// The engine coordinates workflow execution by:
//   - Validating definitions against the registered agents
//   - Running tasks per execution mode (sequential, parallel, conditional,
//     pipeline, graph)
//   - Managing execution lifecycle (execute, pause, resume, cancel)
//   - Publishing lifecycle events to the event bus
//   - Checkpointing execution state via the state manager
//
// The validator ensures definitions are well-formed with no dependency
// cycles and only known agents.
package engine
