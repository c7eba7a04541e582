// Package storage defines the interfaces and record types for persisting
// authorization codes, token pairs, applications, and users.
//
// Three implementations are provided in subpackages:
//   - storage/memory: in-memory store for development and testing
//   - storage/postgres: pgx-backed relational store for production
//   - storage/redis: go-redis backed store for ephemeral deployments
//
// All methods accept context.Context. Implementations must honor the atomic
// conditional-write contracts documented on FlowStore and TokenStore: code
// redemption and token rotation are the two operations where a read-then-write
// race would violate the exactly-once guarantees of the OAuth flow.
package storage
