// Package valkey provides a Valkey-backed implementation of the storage
// interfaces for multi-instance deployments.
//
// Authorization codes and token records are stored as JSON values with TTLs
// matching their expiry, so Valkey reclaims dead records without a sweeper.
// The two security-critical operations, single-use code consumption and
// refresh token rotation, run as Lua scripts so they stay atomic across
// concurrent server instances.
//
// Expiry is enforced twice: by key TTL for reclamation and by timestamp
// checks at read time for correctness, so a record surviving past its expiry
// (TTL resolution, clock skew) is still refused.
package valkey
