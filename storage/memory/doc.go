// Package memory implements the storage interfaces with in-process maps.
//
// All state is guarded by a single mutex, which makes the two
// correctness-critical operations trivially atomic: ConsumeAuthorizationCode
// deletes the code under the same lock that reads it, and RotateRefreshToken
// revokes the old pair and saves the new one without releasing the lock in
// between. A background goroutine sweeps expired records; expiry is also
// enforced lazily on every read, so the sweep is purely a memory
// reclamation optimization.
package memory
