// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/events/ws to receive workflow and task
// lifecycle events, optionally filtered by workflow_id or execution_id.
package websocket
