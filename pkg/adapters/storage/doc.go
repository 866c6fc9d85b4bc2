// Package storage provides state storage implementations.
//
// Implementations:
//   - redis: Redis with TTL
//   - sqlite: local SQLite database
//   - memory: In-memory for testing
package storage
