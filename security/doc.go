// Package security provides the security primitives used across the
// authorization server: PKCE verification, opaque credential generation,
// audit logging with PII hashing, per-identifier rate limiting, request ID
// propagation, and clock-skew tolerant expiry checks.
package security
