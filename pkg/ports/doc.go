// Package ports defines the boundary interfaces between the engine and
// its adapters: agents, event buses, state stores and metrics collectors.
package ports
