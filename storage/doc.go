// Package storage provides persistence interfaces and shared entity types
// for the OAuth authorization server.
//
// The package defines three narrow contracts:
//
//   - ClientStore: registered OAuth client lookup and secret validation
//   - CodeStore: single-use, time-bound authorization codes
//   - TokenStore: access/refresh token records with atomic rotation
//
// Two implementations ship with the repository:
//
//   - storage/memory: in-memory maps guarded by a mutex, suitable for
//     development, testing, and single-instance deployments
//   - storage/valkey: Valkey/Redis backend with Lua-scripted atomic
//     operations and TTL-based expiry, suitable for multi-instance
//     deployments
//
// The correctness-critical operations are CodeStore.ConsumeAuthorizationCode
// and TokenStore.RotateRefreshToken: both must be atomic so that concurrent
// redemption or rotation attempts yield exactly one winner.
package storage
