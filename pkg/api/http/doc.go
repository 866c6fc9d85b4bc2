// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Workflow registration and management
//   - Execution control (execute, pause, resume, cancel)
//   - Status queries
//   - Health checks
//   - Prometheus metrics
package http
